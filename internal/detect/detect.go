// Package detect provides signal detectors that compare market
// observations against portfolio holdings and emit candidate events.
package detect

import (
	"context"
	"sync"

	"investor-intelligence/internal/models"
)

// Params carries the per-owner thresholds a detector reads. Detectors
// are pure functions of (portfolio, snapshot, params); they retain no
// state between scan cycles.
type Params struct {
	MinPriceChangePct  float64
	EarningsLookahead  int // days
	SentimentThreshold float64
	// ReferencePrices maps symbol to the comparison baseline for the
	// price detector: the last-alerted price when one exists, else the
	// holding's purchase price.
	ReferencePrices map[string]float64
	// AlertedEarnings holds (symbol, report date) pairs already alerted,
	// keyed by EarningsKey. Earnings fire at most once per pair.
	AlertedEarnings map[string]bool
}

// Detector is the capability interface for a signal probe.
type Detector interface {
	Name() string
	Detect(ctx context.Context, p *models.Portfolio, snap *models.MarketSnapshot, params Params) ([]models.CandidateEvent, error)
}

// Result is the joined output of one detector fan-out.
type Result struct {
	Events []models.CandidateEvent
	// SoftFailures maps detector name to the absorbed error, if any.
	SoftFailures map[string]error
}

// RunAll runs every detector concurrently and joins their output.
// A failing detector contributes an empty sequence and a soft-failure
// record; it never aborts the others.
func RunAll(ctx context.Context, detectors []Detector, p *models.Portfolio, snap *models.MarketSnapshot, params Params) Result {
	res := Result{SoftFailures: make(map[string]error)}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, d := range detectors {
		wg.Add(1)
		go func(d Detector) {
			defer wg.Done()
			events, err := d.Detect(ctx, p, snap, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.SoftFailures[d.Name()] = err
				return
			}
			res.Events = append(res.Events, events...)
		}(d)
	}
	wg.Wait()

	return res
}
