// Package marketdata provides market data and news source clients.
package marketdata

import (
	"context"
	"sync"
	"time"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
)

// Provider defines the pull interface for market observations. Every
// call is bounded by the caller's context deadline; a timed-out or
// rate-limited call surfaces as an error the detectors absorb as a
// soft failure.
type Provider interface {
	// Price returns the latest quote for a symbol.
	Price(ctx context.Context, symbol string) (models.Quote, error)
	// EarningsCalendar returns upcoming earnings report dates for a symbol.
	EarningsCalendar(ctx context.Context, symbol string) ([]models.EarningsEvent, error)
	// Headlines returns news items for a symbol published at or after since.
	Headlines(ctx context.Context, symbol string, since time.Time) ([]models.Headline, error)
}

// StaticProvider serves fixed observations. Used in tests and as the
// offline fixture backend; detectors behave identically against it.
type StaticProvider struct {
	mu        sync.RWMutex
	quotes    map[string]models.Quote
	earnings  map[string][]models.EarningsEvent
	headlines map[string][]models.Headline
	errs      map[string]error
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		quotes:    make(map[string]models.Quote),
		earnings:  make(map[string][]models.EarningsEvent),
		headlines: make(map[string][]models.Headline),
		errs:      make(map[string]error),
	}
}

// SetQuote sets the quote returned for a symbol.
func (p *StaticProvider) SetQuote(q models.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[q.Symbol] = q
}

// SetEarnings sets the earnings calendar returned for a symbol.
func (p *StaticProvider) SetEarnings(symbol string, events []models.EarningsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.earnings[symbol] = events
}

// SetHeadlines sets the headlines returned for a symbol.
func (p *StaticProvider) SetHeadlines(symbol string, headlines []models.Headline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headlines[symbol] = headlines
}

// FailSymbol makes every call for symbol return err.
func (p *StaticProvider) FailSymbol(symbol string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[symbol] = err
}

// Price implements Provider.
func (p *StaticProvider) Price(ctx context.Context, symbol string) (models.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.errs[symbol]; err != nil {
		return models.Quote{}, err
	}
	q, ok := p.quotes[symbol]
	if !ok {
		return models.Quote{}, apperrors.NewDataError("quote", symbol, "no quote available", nil)
	}
	return q, nil
}

// EarningsCalendar implements Provider.
func (p *StaticProvider) EarningsCalendar(ctx context.Context, symbol string) ([]models.EarningsEvent, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.errs[symbol]; err != nil {
		return nil, err
	}
	return p.earnings[symbol], nil
}

// Headlines implements Provider.
func (p *StaticProvider) Headlines(ctx context.Context, symbol string, since time.Time) ([]models.Headline, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.errs[symbol]; err != nil {
		return nil, err
	}
	var out []models.Headline
	for _, h := range p.headlines[symbol] {
		if !h.Timestamp.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}
