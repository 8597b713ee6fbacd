package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/pipeline"
)

func newRunCmd(app *App) *cobra.Command {
	var owner, portfolioPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scan cycle for an owner",
		Long: `Runs a single detect-score-throttle-dispatch cycle against the
owner's portfolio CSV and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			orch, err := app.buildOrchestrator(cmd.Context())
			if err != nil {
				return err
			}

			report, err := orch.RunCycle(cmd.Context(), owner, portfolioPath)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrCycleInFlight) {
					output.Warning("A cycle is already running for %s", owner)
					return nil
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			output.Success("Cycle complete for %s", owner)
			output.Printf("  Candidates: %d\n", report.Candidates)
			output.Printf("  Scored:     %d\n", report.Scored)
			output.Printf("  Admitted:   %d\n", report.Admitted)
			output.Printf("  Dropped:    %d\n", report.Dropped)
			output.Printf("  Dispatched: %d\n", report.Dispatched)
			if report.Degraded {
				output.Warning("  Scored without a usable learned model")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID (required)")
	cmd.Flags().StringVar(&portfolioPath, "portfolio", "", "path to portfolio CSV (required)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("portfolio")

	return cmd
}

func newMonitorCmd(app *App) *cobra.Command {
	var portfolioDir string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the continuous monitoring loop",
		Long: `Scans every portfolio in the portfolio directory on the configured
cadence. Each <owner>.csv file in the directory is treated as one
owner's portfolio. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			orch, err := app.buildOrchestrator(cmd.Context())
			if err != nil {
				return err
			}

			lister := dirOwnerLister(portfolioDir)
			scheduler := pipeline.NewScheduler(orch, lister, app.Config.Monitoring.MonitoringFrequency, app.Logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			output.Info("Monitoring every %s, portfolios from %s", app.Config.Monitoring.MonitoringFrequency, portfolioDir)

			<-sigCh
			output.Println()
			output.Info("Shutting down")
			cancel()
			scheduler.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&portfolioDir, "portfolio-dir", "", "directory of <owner>.csv portfolio files (required)")
	cmd.MarkFlagRequired("portfolio-dir")

	return cmd
}

// dirOwnerLister maps every CSV file in dir to an owner named by the
// file's base name.
func dirOwnerLister(dir string) pipeline.OwnerLister {
	return func(ctx context.Context) (map[string]string, error) {
		matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
		if err != nil {
			return nil, apperrors.Wrap(err, "listing portfolio directory")
		}
		refs := make(map[string]string, len(matches))
		for _, path := range matches {
			owner := strings.TrimSuffix(filepath.Base(path), ".csv")
			refs[owner] = path
		}
		return refs, nil
	}
}
