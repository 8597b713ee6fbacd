package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Investor Intelligence Configuration

[monitoring]
# Minimum absolute price change (percent) that triggers an alert
min_price_change_alert = 5.0
# Maximum alerts created per owner per calendar day
max_alerts_per_day = 10
# Window during which repeat alerts for the same symbol and type are suppressed
dedup_window_hours = 24
# How far ahead to look for earnings reports
earnings_lookahead_days = 7
# Scan cycle frequency
monitoring_frequency = "15m"
# Number of alerts grouped into a single notification payload
batch_size = 5
# Timeout for each external data source call
source_timeout = "10s"
# Number of owner cycles that may run in parallel
max_concurrent_owners = 4

[scoring]
# Scoring strategy: "heuristic" or "learned"
strategy = "learned"
# Minimum absolute sentiment magnitude for a news event
sentiment_threshold = 0.35

[learning]
# Minimum labeled examples required before a retrain is attempted
min_examples = 20
# Step size for feedback-driven weight updates
learning_rate = 0.1
# Model versions retained for rollback (must be >= 2)
keep_versions = 2

[logging]
level = "info"
console = true
file = true

[notifications]
# Enable notifications
enabled = false
# Notification level: all, alerts_only, errors_only
level = "all"

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""

[notifications.terminal]
enabled = true
`

const credentialsTemplate = `# Investor Intelligence Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[alphavantage]
api_key = ""

[news]
api_key = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
