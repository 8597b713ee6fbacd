package cli

import (
	"github.com/spf13/cobra"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/learn"
)

func newRetrainCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Retrain the relevance model from recorded feedback",
		Long: `Trains a new model version from the labeled alert corpus and swaps
it in. Scan cycles already running keep the version they started
with. With too little feedback the previous model stays active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(); err != nil {
				return err
			}

			if err := app.Registry.LoadFromStore(cmd.Context()); err != nil {
				return err
			}

			learner := learn.NewLearner(app.Config.Learning.MinExamples, app.Config.Learning.LearningRate, app.Logger)
			svc := learn.NewService(app.Store, app.Registry, learner, app.Logger)

			ms, err := svc.Retrain(cmd.Context())
			if err != nil {
				if apperrors.Is(err, apperrors.ErrInsufficientData) {
					output.Warning("Not enough labeled feedback yet: %v", err)
					return nil
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(ms)
			}
			output.Success("Model v%d trained on %d examples", ms.Version, ms.Metrics.Examples)
			output.Printf("  Accuracy:  %.3f\n", ms.Metrics.Accuracy)
			output.Printf("  Precision: %.3f\n", ms.Metrics.Precision)
			output.Printf("  Recall:    %.3f\n", ms.Metrics.Recall)
			output.Printf("  F1:        %.3f\n", ms.Metrics.F1)
			return nil
		},
	}
}

func newModelCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Relevance model management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active model version",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(); err != nil {
				return err
			}

			ms, err := app.Store.GetLatestModelState(cmd.Context())
			if err != nil {
				if apperrors.Is(err, apperrors.ErrModelNotFound) {
					output.Dim("No trained model; scoring falls back to the heuristic baseline")
					return nil
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(ms)
			}
			output.Bold("Model v%d", ms.Version)
			output.Printf("  Trained:    %s\n", ms.TrainedAt.Format("2006-01-02 15:04"))
			output.Printf("  Examples:   %d\n", ms.Metrics.Examples)
			output.Printf("  Accuracy:   %.3f\n", ms.Metrics.Accuracy)
			output.Printf("  F1:         %.3f\n", ms.Metrics.F1)
			output.Printf("  Parameters: %d\n", len(ms.Parameters))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback",
		Short: "Roll back to the previous model version",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(); err != nil {
				return err
			}

			if err := app.Registry.LoadFromStore(cmd.Context()); err != nil {
				return err
			}
			if err := app.Registry.Rollback(cmd.Context()); err != nil {
				return err
			}

			current := app.Registry.Current()
			if output.IsJSON() {
				return output.JSON(current)
			}
			output.Success("Rolled back to model v%d", current.Version)
			return nil
		},
	})

	return cmd
}
