// Package notify delivers alert batches, daily summaries and error
// reports to the user through configurable channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"investor-intelligence/internal/config"
	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
	"investor-intelligence/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendAlertBatch(ctx context.Context, ownerID string, alerts []models.Alert) error
	SendDailySummary(ctx context.Context, summary *DailySummary) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	OwnerID   string
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationAlert   NotificationType = "alert"
	NotificationError   NotificationType = "error"
	NotificationSummary NotificationType = "summary"
	NotificationInfo    NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelAlertsOnly NotificationLevel = "alerts_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// DailySummary is the digest of an owner's alert activity, rendered
// once a day.
type DailySummary struct {
	Date            string
	OwnerID         string
	ActiveAlerts    int
	CreatedToday    int
	TopAlerts       []models.Alert
	UpcomingEvents  []EarningsLine
	FeedbackPending int
}

// EarningsLine is one upcoming earnings date in a summary.
type EarningsLine struct {
	Symbol string
	Date   time.Time
}

// MultiNotifier sends notifications to multiple channels. Any channel
// failure is reported to the caller, which records it on the affected
// alerts rather than retrying.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier from configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailNotifier(cfg.Email))
	}
	if cfg.Terminal.Enabled {
		mn.channels = append(mn.channels, NewTerminalNotifier())
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelAlertsOnly:
		return notifType == NotificationAlert
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var failed []string
	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				failed = append(failed, ch.Name())
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return apperrors.NewDispatchError(n.OwnerID, strings.Join(failed, ","),
			fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	return nil
}

// SendAlertBatch delivers a batch of alerts as a single notification.
func (mn *MultiNotifier) SendAlertBatch(ctx context.Context, ownerID string, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	title := fmt.Sprintf("Portfolio Alerts (%d)", len(alerts))

	var sb strings.Builder
	for _, a := range alerts {
		sb.WriteString(formatAlertLine(a))
		sb.WriteString("\n")
	}

	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationAlert,
		OwnerID: ownerID,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"owner_id":  ownerID,
			"count":     len(alerts),
			"alert_ids": ids,
		},
	})
}

// SendDailySummary sends a daily summary notification.
func (mn *MultiNotifier) SendDailySummary(ctx context.Context, summary *DailySummary) error {
	title := fmt.Sprintf("Daily Portfolio Digest - %s", summary.Date)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Active alerts: %d\n", summary.ActiveAlerts))
	sb.WriteString(fmt.Sprintf("New today: %d\n", summary.CreatedToday))
	if summary.FeedbackPending > 0 {
		sb.WriteString(fmt.Sprintf("Awaiting feedback: %d\n", summary.FeedbackPending))
	}

	if len(summary.TopAlerts) > 0 {
		sb.WriteString("\nTop alerts:\n")
		for _, a := range summary.TopAlerts {
			sb.WriteString("  " + formatAlertLine(a) + "\n")
		}
	}

	if len(summary.UpcomingEvents) > 0 {
		sb.WriteString("\nUpcoming earnings:\n")
		for _, e := range summary.UpcomingEvents {
			sb.WriteString(fmt.Sprintf("  %s on %s\n", e.Symbol, e.Date.Format("Mon Jan 2")))
		}
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationSummary,
		OwnerID: summary.OwnerID,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"date":          summary.Date,
			"owner_id":      summary.OwnerID,
			"active_alerts": summary.ActiveAlerts,
			"created_today": summary.CreatedToday,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "Pipeline Error"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// formatAlertLine renders one alert as a single human-readable line.
func formatAlertLine(a models.Alert) string {
	return fmt.Sprintf("[%s] %s: %s (score %s)",
		strings.ToUpper(string(a.Type)), a.Symbol, a.Message, utils.FormatScore(a.RelevanceScore))
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendAlertBatch does nothing.
func (n *NoOpNotifier) SendAlertBatch(ctx context.Context, ownerID string, alerts []models.Alert) error {
	return nil
}

// SendDailySummary does nothing.
func (n *NoOpNotifier) SendDailySummary(ctx context.Context, summary *DailySummary) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}
