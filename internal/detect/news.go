package detect

import (
	"context"
	"math"

	"investor-intelligence/internal/models"
)

// NewsDetector emits a candidate event per headline whose sentiment
// magnitude meets the threshold (inclusive), carrying the raw
// sentiment score as the observed value.
type NewsDetector struct{}

// NewNewsDetector creates a news detector.
func NewNewsDetector() *NewsDetector {
	return &NewsDetector{}
}

// Name implements Detector.
func (d *NewsDetector) Name() string {
	return "news"
}

// Detect implements Detector.
func (d *NewsDetector) Detect(ctx context.Context, p *models.Portfolio, snap *models.MarketSnapshot, params Params) ([]models.CandidateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []models.CandidateEvent
	for _, h := range p.Holdings {
		for _, headline := range snap.Headlines[h.Symbol] {
			if math.Abs(headline.Sentiment) < params.SentimentThreshold {
				continue
			}
			events = append(events, models.CandidateEvent{
				Symbol:        h.Symbol,
				Type:          models.EventNews,
				ObservedValue: headline.Sentiment,
				DetectedAt:    snap.TakenAt,
				RawPayload: map[string]interface{}{
					"headline":  headline.Text,
					"sentiment": headline.Sentiment,
					"published": headline.Timestamp,
				},
			})
		}
	}
	return events, nil
}
