// Package portfolio provides portfolio loading from external sources.
//
// The spreadsheet that owns the holdings lives outside this system;
// the pipeline only pulls a snapshot of it at the start of a scan
// cycle. A load failure is a cycle-level failure for that owner.
package portfolio

import (
	"context"

	"investor-intelligence/internal/models"
)

// Source defines the pull interface for an owner's portfolio. Load
// returns a complete portfolio; the previous one is replaced wholesale.
type Source interface {
	Load(ctx context.Context, ownerID, sourceRef string) (*models.Portfolio, error)
}

// StaticSource serves fixed portfolios keyed by owner. Used in tests.
type StaticSource struct {
	portfolios map[string]*models.Portfolio
	errs       map[string]error
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		portfolios: make(map[string]*models.Portfolio),
		errs:       make(map[string]error),
	}
}

// SetPortfolio sets the portfolio returned for an owner.
func (s *StaticSource) SetPortfolio(p *models.Portfolio) {
	s.portfolios[p.OwnerID] = p
}

// FailOwner makes Load return err for an owner.
func (s *StaticSource) FailOwner(ownerID string, err error) {
	s.errs[ownerID] = err
}

// Load implements Source.
func (s *StaticSource) Load(ctx context.Context, ownerID, sourceRef string) (*models.Portfolio, error) {
	if err := s.errs[ownerID]; err != nil {
		return nil, err
	}
	p, ok := s.portfolios[ownerID]
	if !ok {
		return nil, ErrNoPortfolio
	}
	return p, nil
}
