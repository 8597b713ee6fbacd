package detect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"investor-intelligence/internal/logging"
	"investor-intelligence/internal/marketdata"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/resilience"
)

// Collector assembles a MarketSnapshot from a Provider, one symbol at
// a time. A symbol whose fetch fails or times out is simply absent
// from the snapshot; the failure is recorded and the remaining symbols
// are unaffected.
type Collector struct {
	provider marketdata.Provider
	health   *resilience.HealthTracker
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewCollector creates a snapshot collector. timeout bounds each
// per-symbol source call.
func NewCollector(provider marketdata.Provider, health *resilience.HealthTracker, timeout time.Duration, logger zerolog.Logger) *Collector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Collector{
		provider: provider,
		health:   health,
		timeout:  timeout,
		logger:   logger,
	}
}

// Collect gathers quotes, earnings calendars and headlines for every
// portfolio symbol concurrently. newsSince bounds the headline lookback.
func (c *Collector) Collect(ctx context.Context, p *models.Portfolio, newsSince time.Time) *models.MarketSnapshot {
	snap := models.NewMarketSnapshot(time.Now())

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, symbol := range p.Symbols() {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			quote, err := c.provider.Price(callCtx, symbol)
			if err != nil {
				c.recordFailure("price", symbol, err)
			} else {
				mu.Lock()
				snap.Quotes[symbol] = quote
				mu.Unlock()
			}

			earnings, err := c.provider.EarningsCalendar(callCtx, symbol)
			if err != nil {
				c.recordFailure("earnings", symbol, err)
			} else if len(earnings) > 0 {
				mu.Lock()
				snap.Earnings[symbol] = earnings
				mu.Unlock()
			}

			headlines, err := c.provider.Headlines(callCtx, symbol, newsSince)
			if err != nil {
				c.recordFailure("news", symbol, err)
			} else if len(headlines) > 0 {
				mu.Lock()
				snap.Headlines[symbol] = headlines
				mu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()

	return snap
}

func (c *Collector) recordFailure(source, symbol string, err error) {
	if c.health != nil {
		c.health.RecordSoftFailure(source, symbol, err)
	}
	logging.LogSoftFailure(c.logger, source, symbol, err)
}
