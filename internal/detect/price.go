package detect

import (
	"context"
	"math"

	"investor-intelligence/internal/models"
)

// PriceMoveDetector emits a candidate event when a holding's latest
// price has moved at least MinPriceChangePct from its reference price.
// The threshold is inclusive.
type PriceMoveDetector struct{}

// NewPriceMoveDetector creates a price-move detector.
func NewPriceMoveDetector() *PriceMoveDetector {
	return &PriceMoveDetector{}
}

// Name implements Detector.
func (d *PriceMoveDetector) Name() string {
	return "price_move"
}

// Detect implements Detector. Symbols without a quote in the snapshot
// were soft failures at collection time and are skipped here.
func (d *PriceMoveDetector) Detect(ctx context.Context, p *models.Portfolio, snap *models.MarketSnapshot, params Params) ([]models.CandidateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []models.CandidateEvent
	for _, h := range p.Holdings {
		quote, ok := snap.Quotes[h.Symbol]
		if !ok {
			continue
		}

		ref := params.ReferencePrices[h.Symbol]
		if ref == 0 {
			ref = h.PurchasePrice
		}
		if ref == 0 {
			continue
		}

		changePct := (quote.Price - ref) / ref * 100
		if math.Abs(changePct) < params.MinPriceChangePct {
			continue
		}

		events = append(events, models.CandidateEvent{
			Symbol:        h.Symbol,
			Type:          models.EventPriceMove,
			ObservedValue: changePct,
			DetectedAt:    snap.TakenAt,
			RawPayload: map[string]interface{}{
				"price":           quote.Price,
				"reference_price": ref,
				"change_pct":      changePct,
			},
		})
	}
	return events, nil
}
