// Package config provides configuration management for the alert pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	Scoring       ScoringConfig      `mapstructure:"scoring"`
	Learning      LearningConfig     `mapstructure:"learning"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// MonitoringConfig holds scan-cycle and throttling configuration.
// These are the system-wide defaults; UserConfig overrides apply per owner.
type MonitoringConfig struct {
	MinPriceChangeAlert  float64       `mapstructure:"min_price_change_alert"` // percent
	MaxAlertsPerDay      int           `mapstructure:"max_alerts_per_day"`
	DedupWindowHours     int           `mapstructure:"dedup_window_hours"`
	EarningsLookaheadDays int          `mapstructure:"earnings_lookahead_days"`
	MonitoringFrequency  time.Duration `mapstructure:"monitoring_frequency"`
	BatchSize            int           `mapstructure:"batch_size"`
	SourceTimeout        time.Duration `mapstructure:"source_timeout"`
	MaxConcurrentOwners  int           `mapstructure:"max_concurrent_owners"`
}

// ScoringConfig holds relevance scorer configuration.
type ScoringConfig struct {
	Strategy           string  `mapstructure:"strategy"` // "heuristic", "learned"
	SentimentThreshold float64 `mapstructure:"sentiment_threshold"`
}

// LearningConfig holds retraining configuration.
type LearningConfig struct {
	MinExamples   int     `mapstructure:"min_examples"`
	LearningRate  float64 `mapstructure:"learning_rate"`
	KeepVersions  int     `mapstructure:"keep_versions"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, alerts_only, errors_only
	Email    EmailConfig    `mapstructure:"email"`
	Terminal TerminalConfig `mapstructure:"terminal"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// TerminalConfig holds terminal notification configuration.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Credentials holds API credentials.
type Credentials struct {
	AlphaVantage AlphaVantageCredentials `mapstructure:"alphavantage"`
	News         NewsCredentials         `mapstructure:"news"`
}

// AlphaVantageCredentials holds market data API credentials.
type AlphaVantageCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// NewsCredentials holds news/sentiment API credentials.
type NewsCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/investor-intelligence"
	}
	return filepath.Join(home, ".config", "investor-intelligence")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitoring.min_price_change_alert", 5.0)
	v.SetDefault("monitoring.max_alerts_per_day", 10)
	v.SetDefault("monitoring.dedup_window_hours", 24)
	v.SetDefault("monitoring.earnings_lookahead_days", 7)
	v.SetDefault("monitoring.monitoring_frequency", 15*time.Minute)
	v.SetDefault("monitoring.batch_size", 5)
	v.SetDefault("monitoring.source_timeout", 10*time.Second)
	v.SetDefault("monitoring.max_concurrent_owners", 4)
	v.SetDefault("scoring.strategy", "learned")
	v.SetDefault("scoring.sentiment_threshold", 0.35)
	v.SetDefault("learning.min_examples", 20)
	v.SetDefault("learning.learning_rate", 0.1)
	v.SetDefault("learning.keep_versions", 2)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("notifications.level", "all")
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.Credentials.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("NEWS_API_KEY"); v != "" {
		cfg.Credentials.News.APIKey = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notifications.Email.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Monitoring.MinPriceChangeAlert < 0 {
		return fmt.Errorf("min_price_change_alert must be non-negative")
	}
	if c.Monitoring.MaxAlertsPerDay < 1 {
		return fmt.Errorf("max_alerts_per_day must be at least 1")
	}
	if c.Monitoring.DedupWindowHours < 1 {
		return fmt.Errorf("dedup_window_hours must be at least 1")
	}
	if c.Monitoring.EarningsLookaheadDays < 0 {
		return fmt.Errorf("earnings_lookahead_days must be non-negative")
	}
	if c.Monitoring.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.Monitoring.MonitoringFrequency < time.Minute {
		return fmt.Errorf("monitoring_frequency must be at least 1m")
	}
	if c.Scoring.Strategy != "" && c.Scoring.Strategy != "heuristic" && c.Scoring.Strategy != "learned" {
		return fmt.Errorf("invalid scoring strategy: %s (must be 'heuristic' or 'learned')", c.Scoring.Strategy)
	}
	if c.Scoring.SentimentThreshold < 0 || c.Scoring.SentimentThreshold > 1 {
		return fmt.Errorf("sentiment_threshold must be between 0 and 1")
	}
	if c.Learning.MinExamples < 1 {
		return fmt.Errorf("min_examples must be at least 1")
	}
	if c.Learning.KeepVersions < 2 {
		return fmt.Errorf("keep_versions must be at least 2 (previous version is kept for rollback)")
	}
	return nil
}

// DedupWindow returns the dedup window as a duration.
func (c *MonitoringConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowHours) * time.Hour
}

// EarningsLookahead returns the earnings lookahead as a duration.
func (c *MonitoringConfig) EarningsLookahead() time.Duration {
	return time.Duration(c.EarningsLookaheadDays) * 24 * time.Hour
}
