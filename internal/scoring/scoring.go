// Package scoring provides relevance scoring for candidate events.
package scoring

import (
	"fmt"
	"math"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/store"
)

// PortfolioContext is the per-owner context a scorer reads. It is
// assembled once per scan cycle and not mutated during scoring.
type PortfolioContext struct {
	Portfolio     *models.Portfolio
	FeedbackRates store.FeedbackRates
}

// Result is a scored event.
type Result struct {
	// Score is the estimated probability in [0, 1] that the owner
	// would judge the alert useful.
	Score float64
	// Degraded is set when the learned model was absent or corrupt
	// and the heuristic baseline was used alone.
	Degraded bool
}

// Scorer is the capability interface for a scoring strategy. Scoring
// must be deterministic given identical inputs and model version.
type Scorer interface {
	Score(event models.CandidateEvent, pctx PortfolioContext, model *models.ModelState) (Result, error)
}

// Feature keys used by the learned adjustment. Each key maps to a
// trained weight in ModelState.Parameters.
func typeKey(t models.EventType) string {
	return "type:" + string(t)
}

func bucketKey(t models.EventType, bucket int) string {
	return fmt.Sprintf("bucket:%s:%d", t, bucket)
}

// MagnitudeBucket discretizes an event's normalized magnitude into
// buckets 0..3. Bucket boundaries are fixed so scoring stays
// reproducible across model versions.
func MagnitudeBucket(norm float64) int {
	switch {
	case norm < 0.25:
		return 0
	case norm < 0.5:
		return 1
	case norm < 0.75:
		return 2
	default:
		return 3
	}
}

// NormalizedMagnitude maps an event's observed value onto [0, 1].
func NormalizedMagnitude(event models.CandidateEvent) float64 {
	switch event.Type {
	case models.EventPriceMove:
		// 20% move saturates the scale.
		return clamp01(math.Abs(event.ObservedValue) / 20.0)
	case models.EventNews:
		return clamp01(math.Abs(event.ObservedValue))
	case models.EventEarnings:
		// Closer report dates are larger magnitudes; 14 days out is 0.
		return clamp01(1 - event.ObservedValue/14.0)
	default:
		return 0
	}
}

// FeatureVector captures the features a learned model is keyed by.
type FeatureVector struct {
	Type            models.EventType
	MagnitudeBucket int
	HoldingWeight   float64
	FeedbackRate    float64
}

// Features builds the feature vector for an event in context.
func Features(event models.CandidateEvent, pctx PortfolioContext) (FeatureVector, error) {
	if _, ok := pctx.Portfolio.Holding(event.Symbol); !ok {
		return FeatureVector{}, apperrors.NewValidationError("symbol", event.Symbol, "not held in portfolio")
	}

	return FeatureVector{
		Type:            event.Type,
		MagnitudeBucket: MagnitudeBucket(NormalizedMagnitude(event)),
		HoldingWeight:   pctx.Portfolio.Weight(event.Symbol),
		FeedbackRate:    pctx.FeedbackRates.BySymbol[event.Symbol].Fraction(),
	}, nil
}

// Keys returns the model parameter keys this vector reads.
func (f FeatureVector) Keys() []string {
	return []string{typeKey(f.Type), bucketKey(f.Type, f.MagnitudeBucket)}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
