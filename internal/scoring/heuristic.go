package scoring

import (
	"investor-intelligence/internal/models"
)

// HeuristicScorer is the baseline strategy: normalized signal
// magnitude blended with the symbol's weight in the portfolio. It
// needs no model and never degrades.
type HeuristicScorer struct{}

// NewHeuristicScorer creates the baseline scorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// Score implements Scorer. Unknown symbols are rejected.
func (s *HeuristicScorer) Score(event models.CandidateEvent, pctx PortfolioContext, _ *models.ModelState) (Result, error) {
	if _, ok := pctx.Portfolio.Holding(event.Symbol); !ok {
		return Result{}, errUnknownSymbol(event.Symbol)
	}
	return Result{Score: baseline(event, pctx)}, nil
}

// baseline computes the heuristic score shared by both strategies:
// a neutral prior pushed up by signal magnitude and, slightly, by how
// much of the portfolio the symbol represents.
func baseline(event models.CandidateEvent, pctx PortfolioContext) float64 {
	magnitude := NormalizedMagnitude(event)
	weight := pctx.Portfolio.Weight(event.Symbol)
	return clamp01(0.25 + 0.55*magnitude + 0.2*weight)
}
