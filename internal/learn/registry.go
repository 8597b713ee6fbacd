// Package learn provides the feedback-driven relevance model: a
// versioned registry of model snapshots and the learner that produces
// new versions from labeled alerts.
package learn

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/store"
)

// Registry holds the current model version behind an atomic pointer.
// Readers capture a snapshot once per scoring operation and use it
// throughout; the learner replaces the pointer in one swap, so a
// reader never observes a partially updated model.
type Registry struct {
	current atomic.Pointer[models.ModelState]
	store   store.DataStore
	keep    int
	logger  zerolog.Logger
}

// NewRegistry creates a registry persisting versions to st. keep is
// the number of versions retained for rollback (minimum 2).
func NewRegistry(st store.DataStore, keep int, logger zerolog.Logger) *Registry {
	if keep < 2 {
		keep = 2
	}
	return &Registry{store: st, keep: keep, logger: logger}
}

// LoadFromStore installs the latest persisted model version, if any.
// A missing model is not an error: the scorer falls back to its
// heuristic baseline until a first retrain succeeds.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	ms, err := r.store.GetLatestModelState(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrModelNotFound) {
			r.logger.Info().Msg("No persisted model state, scoring falls back to heuristic baseline")
			return nil
		}
		return err
	}
	r.current.Store(ms)
	r.logger.Info().Int64("version", ms.Version).Msg("Loaded model state")
	return nil
}

// Current returns the active model snapshot, or nil when none exists.
// The returned state is immutable; callers must not modify it.
func (r *Registry) Current() *models.ModelState {
	return r.current.Load()
}

// Swap persists ms and then atomically installs it as current. Older
// versions beyond the retention count are pruned, always keeping the
// immediately previous version for rollback.
func (r *Registry) Swap(ctx context.Context, ms *models.ModelState) error {
	if err := r.store.SaveModelState(ctx, ms); err != nil {
		return err
	}
	r.current.Store(ms)

	if err := r.store.PruneModelStates(ctx, r.keep); err != nil {
		// Pruning is housekeeping; the swap itself succeeded.
		r.logger.Warn().Err(err).Msg("Failed to prune old model states")
	}

	r.logger.Info().
		Int64("version", ms.Version).
		Float64("accuracy", ms.Metrics.Accuracy).
		Float64("f1", ms.Metrics.F1).
		Int("examples", ms.Metrics.Examples).
		Msg("Model state swapped in")
	return nil
}

// Rollback reinstates the version preceding the current one.
func (r *Registry) Rollback(ctx context.Context) error {
	cur := r.current.Load()
	if cur == nil {
		return apperrors.ErrModelNotFound
	}
	prev, err := r.store.GetModelState(ctx, cur.Version-1)
	if err != nil {
		return err
	}
	r.current.Store(prev)
	r.logger.Warn().Int64("version", prev.Version).Msg("Rolled back model state")
	return nil
}
