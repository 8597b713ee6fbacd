package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"investor-intelligence/internal/config"
	"investor-intelligence/internal/detect"
	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/learn"
	"investor-intelligence/internal/logging"
	"investor-intelligence/internal/marketdata"
	"investor-intelligence/internal/notify"
	"investor-intelligence/internal/pipeline"
	"investor-intelligence/internal/portfolio"
	"investor-intelligence/internal/resilience"
	"investor-intelligence/internal/scoring"
	"investor-intelligence/internal/store"
	"investor-intelligence/internal/summary"
	"investor-intelligence/internal/throttle"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    store.DataStore
	Provider marketdata.Provider
	Notifier notify.Notifier
	Registry *learn.Registry
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Notifier: notify.NewMultiNotifier(&cfg.Notifications),
	}

	dbPath := config.DefaultConfigDir() + "/intel.db"
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, most commands will be unavailable")
	} else {
		app.Store = dataStore
		app.Registry = learn.NewRegistry(dataStore, cfg.Learning.KeepVersions, logger)
		logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
	}

	if cfg.Credentials.AlphaVantage.APIKey != "" {
		app.Provider = marketdata.NewAlphaVantageClient(cfg.Credentials.AlphaVantage.APIKey, logger)
		logger.Debug().Msg("Alpha Vantage client initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "intel",
		Short: "Investor Intelligence - portfolio alert pipeline",
		Long: `Investor Intelligence watches stock portfolios and raises relevant alerts.

It scans holdings for price moves, upcoming earnings and sentiment-heavy
news, scores each signal against the owner's feedback history, and
throttles what actually gets delivered.

Use 'intel help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newMonitorCmd(app))
	rootCmd.AddCommand(newAlertsCmd(app))
	rootCmd.AddCommand(newFeedbackCmd(app))
	rootCmd.AddCommand(newSummaryCmd(app))
	rootCmd.AddCommand(newRetrainCmd(app))
	rootCmd.AddCommand(newModelCmd(app))
	rootCmd.AddCommand(newPrefsCmd(app))

	return rootCmd
}

// requireStore fails fast for commands that cannot run without
// persistence.
func (app *App) requireStore() error {
	if app.Store == nil {
		return apperrors.ErrDatabaseError
	}
	return nil
}

// buildOrchestrator assembles the full scan pipeline. Market data and
// the store are both required; the model registry is primed from the
// latest persisted state.
func (app *App) buildOrchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	if err := app.requireStore(); err != nil {
		return nil, err
	}
	if app.Provider == nil {
		return nil, apperrors.NewValidationError("alphavantage.api_key", "", "market data credentials not configured")
	}

	if err := app.Registry.LoadFromStore(ctx); err != nil {
		return nil, err
	}

	health := resilience.NewHealthTracker(64)
	collector := detect.NewCollector(app.Provider, health, app.Config.Monitoring.SourceTimeout, app.Logger)
	detectors := []detect.Detector{
		detect.NewPriceMoveDetector(),
		detect.NewEarningsDetector(),
		detect.NewNewsDetector(),
	}

	var scorer scoring.Scorer
	if app.Config.Scoring.Strategy == "heuristic" {
		scorer = scoring.NewHeuristicScorer()
	} else {
		scorer = scoring.NewLearnedScorer()
	}

	engine := throttle.NewEngine(app.Store, app.Config.Monitoring.DedupWindow(), app.Config.Monitoring.BatchSize, app.Logger)
	source := portfolio.NewCSVSource("")

	return pipeline.NewOrchestrator(
		app.Config,
		app.Store,
		source,
		collector,
		detectors,
		scorer,
		app.Registry,
		engine,
		app.Notifier,
		app.Logger,
	), nil
}

// buildSummaryService assembles the daily digest service.
func (app *App) buildSummaryService() (*summary.Service, error) {
	if err := app.requireStore(); err != nil {
		return nil, err
	}
	if app.Provider == nil {
		return nil, apperrors.NewValidationError("alphavantage.api_key", "", "market data credentials not configured")
	}
	return summary.NewService(
		app.Store,
		app.Provider,
		app.Notifier,
		app.Config.Monitoring.EarningsLookahead(),
		app.Logger,
	), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("Investor Intelligence v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Monitoring")
	output.Printf("  Min Price Change:  %.1f%%\n", cfg.Monitoring.MinPriceChangeAlert)
	output.Printf("  Max Alerts/Day:    %d\n", cfg.Monitoring.MaxAlertsPerDay)
	output.Printf("  Dedup Window:      %dh\n", cfg.Monitoring.DedupWindowHours)
	output.Printf("  Earnings Lookahead: %d days\n", cfg.Monitoring.EarningsLookaheadDays)
	output.Printf("  Frequency:         %s\n", cfg.Monitoring.MonitoringFrequency)
	output.Printf("  Batch Size:        %d\n", cfg.Monitoring.BatchSize)
	output.Println()

	output.Bold("Scoring")
	output.Printf("  Strategy:            %s\n", cfg.Scoring.Strategy)
	output.Printf("  Sentiment Threshold: %.2f\n", cfg.Scoring.SentimentThreshold)
	output.Println()

	output.Bold("Learning")
	output.Printf("  Min Examples:   %d\n", cfg.Learning.MinExamples)
	output.Printf("  Learning Rate:  %.2f\n", cfg.Learning.LearningRate)
	output.Printf("  Keep Versions:  %d\n", cfg.Learning.KeepVersions)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:   %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:     %s\n", cfg.Notifications.Level)
	output.Printf("  Email:     %v\n", cfg.Notifications.Email.Enabled)
	output.Printf("  Terminal:  %v\n", cfg.Notifications.Terminal.Enabled)

	return nil
}
