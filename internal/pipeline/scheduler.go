package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	apperrors "investor-intelligence/internal/errors"
)

// RunAll runs one cycle per owner. refs maps owner IDs to their
// portfolio source refs. Owners run concurrently, bounded by the
// configured worker count; one owner's failure never touches another's
// cycle. The result maps each owner to its cycle error, nil on
// success; in-flight skips are reported as ErrCycleInFlight.
func (o *Orchestrator) RunAll(ctx context.Context, refs map[string]string) map[string]error {
	workers := o.cfg.Monitoring.MaxConcurrentOwners
	if workers < 1 {
		workers = 1
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, workers)
	)
	results := make(map[string]error, len(refs))

	for ownerID, ref := range refs {
		wg.Add(1)
		go func(ownerID, ref string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			_, err := o.RunCycle(ctx, ownerID, ref)
			mu.Lock()
			results[ownerID] = err
			mu.Unlock()
		}(ownerID, ref)
	}
	wg.Wait()

	return results
}

// OwnerLister supplies the owner set for a scheduled scan. The monitor
// command backs this with the user-config table and a portfolio
// directory convention.
type OwnerLister func(ctx context.Context) (map[string]string, error)

// Scheduler triggers scan cycles on a fixed cadence.
type Scheduler struct {
	orchestrator *Orchestrator
	owners       OwnerLister
	frequency    time.Duration
	logger       zerolog.Logger
	cron         *cron.Cron
}

// NewScheduler creates a scheduler firing every frequency.
func NewScheduler(o *Orchestrator, owners OwnerLister, frequency time.Duration, logger zerolog.Logger) *Scheduler {
	if frequency <= 0 {
		frequency = 15 * time.Minute
	}
	return &Scheduler{
		orchestrator: o,
		owners:       owners,
		frequency:    frequency,
		logger:       logger,
	}
}

// Start begins the scan loop. The first scan runs immediately, then on
// the cadence. Stop with Stop or by cancelling ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.frequency)
	_, err := s.cron.AddFunc(spec, func() { s.scan(ctx) })
	if err != nil {
		return apperrors.Wrap(err, "registering scan schedule")
	}

	s.scan(ctx)
	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// Stop halts future scans. A scan already running completes.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) scan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	refs, err := s.owners(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Owner listing failed, scan skipped")
		return
	}
	if len(refs) == 0 {
		s.logger.Debug().Msg("No owners to scan")
		return
	}

	results := s.orchestrator.RunAll(ctx, refs)
	failed := 0
	for ownerID, err := range results {
		if err != nil && !apperrors.Is(err, apperrors.ErrCycleInFlight) {
			failed++
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Scan cycle failed")
		}
	}
	s.logger.Info().
		Int("owners", len(refs)).
		Int("failed", failed).
		Msg("Scan sweep complete")
}
