package scoring

import (
	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
)

func errUnknownSymbol(symbol string) error {
	return apperrors.NewValidationError("symbol", symbol, "not held in portfolio")
}

// LearnedScorer combines the heuristic baseline with adjustments
// learned from past feedback. When no usable model is supplied it
// falls back to the baseline alone and marks the result degraded.
type LearnedScorer struct{}

// NewLearnedScorer creates the learned scorer.
func NewLearnedScorer() *LearnedScorer {
	return &LearnedScorer{}
}

// Score implements Scorer.
func (s *LearnedScorer) Score(event models.CandidateEvent, pctx PortfolioContext, model *models.ModelState) (Result, error) {
	fv, err := Features(event, pctx)
	if err != nil {
		return Result{}, err
	}

	base := baseline(event, pctx)

	if !usable(model) {
		return Result{Score: base, Degraded: true}, nil
	}

	adjustment := 0.0
	for _, key := range fv.Keys() {
		adjustment += model.Param(key)
	}
	// Feedback history shifts the score toward the owner's revealed
	// preference for this symbol: 0.5 is neutral.
	adjustment += 0.2 * (fv.FeedbackRate - 0.5)

	return Result{Score: clamp01(base + adjustment)}, nil
}

// usable reports whether a model snapshot can contribute adjustments.
// A nil or parameterless model counts as corrupt and triggers the
// heuristic fallback.
func usable(model *models.ModelState) bool {
	return model != nil && model.Parameters != nil && model.Version > 0
}
