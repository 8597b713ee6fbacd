package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// TerminalNotifier prints notifications to the terminal. Used by the
// interactive CLI commands where email delivery would be overkill.
type TerminalNotifier struct {
	out          io.Writer
	colorEnabled bool
	mu           sync.Mutex
}

// NewTerminalNotifier creates a terminal notifier writing to stdout.
func NewTerminalNotifier() *TerminalNotifier {
	return &TerminalNotifier{
		out:          os.Stdout,
		colorEnabled: true,
	}
}

// SetOutput redirects output, primarily for tests.
func (t *TerminalNotifier) SetOutput(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out = w
}

// SetColorEnabled toggles ANSI colors.
func (t *TerminalNotifier) SetColorEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.colorEnabled = enabled
}

// Name returns the name of the notifier.
func (t *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TerminalNotifier) IsEnabled() bool {
	return true
}

// Send prints the notification.
func (t *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	title := n.Title
	if t.colorEnabled {
		title = t.color(n.Type) + colorBold + title + colorReset
	}

	_, err := fmt.Fprintf(t.out, "\n%s [%s]\n%s\n", title, n.Timestamp.Format("15:04:05"), n.Message)
	return err
}

func (t *TerminalNotifier) color(typ NotificationType) string {
	switch typ {
	case NotificationError:
		return colorRed
	case NotificationSummary:
		return colorCyan
	case NotificationAlert:
		return colorYellow
	default:
		return ""
	}
}
