package cli

import (
	"strings"

	"github.com/spf13/cobra"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/feedback"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/portfolio"
	"investor-intelligence/internal/store"
)

func newAlertsCmd(app *App) *cobra.Command {
	var (
		owner      string
		symbol     string
		activeOnly bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(); err != nil {
				return err
			}

			alerts, err := app.Store.GetAlerts(cmd.Context(), store.AlertFilter{
				OwnerID:    owner,
				Symbol:     strings.ToUpper(symbol),
				ActiveOnly: activeOnly,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Dim("No alerts found")
				return nil
			}

			table := NewTable(output, "ID", "SYMBOL", "TYPE", "SCORE", "ACTIVE", "CREATED", "MESSAGE")
			for _, a := range alerts {
				active := "no"
				if a.Active {
					active = "yes"
				}
				table.AddRow(
					shortID(a.ID),
					a.Symbol,
					string(a.Type),
					output.ScoreColor(a.RelevanceScore),
					active,
					a.CreatedAt.Format("Jan 2 15:04"),
					a.Message,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner ID")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active alerts")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum alerts to list")

	return cmd
}

func newFeedbackCmd(app *App) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "feedback <alert-id> <relevant|not_relevant>",
		Short: "Record feedback on an alert",
		Long: `Marks an alert relevant or not_relevant. Each alert accepts feedback
once; the judgment feeds the next model retrain.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(); err != nil {
				return err
			}

			svc := feedback.NewService(app.Store, app.Logger)
			fb, err := svc.Record(cmd.Context(), owner, args[0], models.FeedbackLabel(args[1]))
			if err != nil {
				if apperrors.Is(err, apperrors.ErrDuplicateFeedback) {
					output.Warning("Feedback already recorded for this alert")
					return nil
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(fb)
			}
			output.Success("Recorded %s for alert %s", fb.Label, shortID(fb.AlertID))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func newSummaryCmd(app *App) *cobra.Command {
	var owner, portfolioPath string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Send the daily digest for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			svc, err := app.buildSummaryService()
			if err != nil {
				return err
			}

			source := portfolio.NewCSVSource("")
			pf, err := source.Load(cmd.Context(), owner, portfolioPath)
			if err != nil {
				return err
			}

			digest, err := svc.Generate(cmd.Context(), pf)
			if err != nil {
				return err
			}
			if err := app.Notifier.SendDailySummary(cmd.Context(), digest); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(digest)
			}
			output.Success("Digest for %s dispatched", owner)
			output.Printf("  Active alerts:     %d\n", digest.ActiveAlerts)
			output.Printf("  New today:         %d\n", digest.CreatedToday)
			output.Printf("  Awaiting feedback: %d\n", digest.FeedbackPending)
			output.Printf("  Upcoming earnings: %d\n", len(digest.UpcomingEvents))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID (required)")
	cmd.Flags().StringVar(&portfolioPath, "portfolio", "", "path to portfolio CSV (required)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("portfolio")

	return cmd
}

// shortID abbreviates a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
