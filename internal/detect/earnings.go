package detect

import (
	"context"
	"fmt"
	"time"

	"investor-intelligence/internal/models"
)

// EarningsKey identifies one (symbol, report date) earnings event.
func EarningsKey(symbol string, reportDate time.Time) string {
	return fmt.Sprintf("%s:%s", symbol, reportDate.Format("2006-01-02"))
}

// EarningsDetector emits a candidate event when a holding's next
// earnings date falls within the lookahead window, at most once per
// (symbol, report date).
type EarningsDetector struct{}

// NewEarningsDetector creates an earnings detector.
func NewEarningsDetector() *EarningsDetector {
	return &EarningsDetector{}
}

// Name implements Detector.
func (d *EarningsDetector) Name() string {
	return "earnings"
}

// Detect implements Detector.
func (d *EarningsDetector) Detect(ctx context.Context, p *models.Portfolio, snap *models.MarketSnapshot, params Params) ([]models.CandidateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lookahead := time.Duration(params.EarningsLookahead) * 24 * time.Hour
	horizon := snap.TakenAt.Add(lookahead)

	var events []models.CandidateEvent
	for _, h := range p.Holdings {
		for _, e := range snap.Earnings[h.Symbol] {
			if e.ReportDate.Before(snap.TakenAt.Truncate(24 * time.Hour)) {
				continue // already reported
			}
			if e.ReportDate.After(horizon) {
				continue
			}
			if params.AlertedEarnings[EarningsKey(h.Symbol, e.ReportDate)] {
				continue
			}

			daysUntil := e.ReportDate.Sub(snap.TakenAt).Hours() / 24
			if daysUntil < 0 {
				daysUntil = 0
			}
			events = append(events, models.CandidateEvent{
				Symbol:        h.Symbol,
				Type:          models.EventEarnings,
				ObservedValue: daysUntil,
				DetectedAt:    snap.TakenAt,
				RawPayload: map[string]interface{}{
					"report_date": e.ReportDate.Format("2006-01-02"),
					"fiscal_end":  e.FiscalEnd,
				},
			})
		}
	}
	return events, nil
}
