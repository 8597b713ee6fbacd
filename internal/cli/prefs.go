package cli

import (
	"github.com/spf13/cobra"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
)

func newPrefsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Per-owner alert preferences",
	}

	cmd.AddCommand(newPrefsShowCmd(app))
	cmd.AddCommand(newPrefsSetCmd(app))

	return cmd
}

func newPrefsShowCmd(app *App) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an owner's preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(); err != nil {
				return err
			}

			cfg, err := app.Store.GetUserConfig(cmd.Context(), owner)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrOwnerNotFound) {
					output.Dim("No preferences stored; system defaults apply")
					return nil
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(cfg)
			}
			output.Bold("Preferences for %s", cfg.OwnerID)
			output.Printf("  Min Price Change: %.1f%%\n", cfg.MinPriceChangePct)
			output.Printf("  Max Alerts/Day:   %d\n", cfg.MaxAlertsPerDay)
			output.Printf("  Risk Profile:     %s\n", cfg.RiskProfile)
			output.Printf("  Notifications:    %v\n", cfg.NotificationsEnabled)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func newPrefsSetCmd(app *App) *cobra.Command {
	var (
		owner          string
		minPriceChange float64
		maxPerDay      int
		riskProfile    string
		notifications  bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set an owner's preferences",
		Long: `Stores per-owner overrides for alert thresholds. Unset numeric flags
fall back to the system defaults at scan time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(); err != nil {
				return err
			}

			if minPriceChange < 0 {
				return apperrors.NewValidationError("min-price-change", minPriceChange, "must not be negative")
			}
			if maxPerDay < 0 {
				return apperrors.NewValidationError("max-per-day", maxPerDay, "must not be negative")
			}

			cfg := &models.UserConfig{
				OwnerID:              owner,
				MinPriceChangePct:    minPriceChange,
				MaxAlertsPerDay:      maxPerDay,
				RiskProfile:          riskProfile,
				NotificationsEnabled: notifications,
			}
			if err := app.Store.SaveUserConfig(cmd.Context(), cfg); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(cfg)
			}
			output.Success("Preferences saved for %s", owner)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID (required)")
	cmd.Flags().Float64Var(&minPriceChange, "min-price-change", 0, "price move threshold percent (0 = system default)")
	cmd.Flags().IntVar(&maxPerDay, "max-per-day", 0, "daily alert budget (0 = system default)")
	cmd.Flags().StringVar(&riskProfile, "risk-profile", "", "risk profile label")
	cmd.Flags().BoolVar(&notifications, "notifications", true, "enable notification delivery")
	cmd.MarkFlagRequired("owner")

	return cmd
}
