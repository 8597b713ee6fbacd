// Package throttle decides which scored alerts actually reach the
// user: duplicates inside the dedup window are dropped, the per-day
// budget is enforced with score-based replacement, and survivors are
// grouped into dispatch batches.
package throttle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/store"
	"investor-intelligence/pkg/utils"
)

// Drop reasons recorded on rejected candidates.
const (
	DropDuplicate = "duplicate"
	DropBudget    = "budget"
)

// Drop is a candidate the engine rejected, with the reason.
type Drop struct {
	Alert  models.Alert
	Reason string
}

// Decision is the outcome of evaluating one cycle's candidates. It is
// a plan, not a side effect: nothing is persisted until Commit, so a
// failed dispatch leaves the store exactly as it was.
type Decision struct {
	OwnerID   string
	Admitted  []models.Alert
	Demotions []models.Alert
	Dropped   []Drop
}

// Engine applies dedup and budget rules for all owners. Evaluation and
// commit for one owner must run under that owner's lock (Acquire) so
// concurrent cycles never double-spend the daily budget.
type Engine struct {
	store       store.DataStore
	dedupWindow time.Duration
	batchSize   int
	logger      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a throttle engine.
func NewEngine(st store.DataStore, dedupWindow time.Duration, batchSize int, logger zerolog.Logger) *Engine {
	if dedupWindow <= 0 {
		dedupWindow = 24 * time.Hour
	}
	if batchSize < 1 {
		batchSize = 5
	}
	return &Engine{
		store:       st,
		dedupWindow: dedupWindow,
		batchSize:   batchSize,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Acquire locks the owner's throttle state and returns the release
// func. Hold it across Evaluate, dispatch and Commit.
func (e *Engine) Acquire(ownerID string) func() {
	e.mu.Lock()
	lock, ok := e.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[ownerID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Evaluate filters candidates against the owner's active alerts and
// daily budget.
//
// Dedup: a candidate whose (symbol, type) matches an active alert
// created inside the dedup window is dropped. When one cycle carries
// several candidates for the same pair, the last one wins since it
// reflects the freshest observation.
//
// Budget: at most maxPerDay active alerts may carry today's date. Once
// the cap is reached a candidate is admitted only by outscoring the
// lowest-scored active alert created today, which is then demoted.
func (e *Engine) Evaluate(ctx context.Context, ownerID string, maxPerDay int, candidates []models.Alert) (*Decision, error) {
	d := &Decision{OwnerID: ownerID}
	if len(candidates) == 0 {
		return d, nil
	}

	active, err := e.store.GetActiveAlerts(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(err, "loading active alerts")
	}

	now := time.Now()
	windowStart := now.Add(-e.dedupWindow)

	recent := make(map[string]bool)
	for _, a := range active {
		if a.CreatedAt.After(windowStart) {
			recent[dedupKey(a.Symbol, a.Type)] = true
		}
	}

	// Last candidate per (symbol, type) wins within the cycle.
	lastIdx := make(map[string]int)
	for i, c := range candidates {
		lastIdx[dedupKey(c.Symbol, c.Type)] = i
	}

	var survivors []models.Alert
	for i, c := range candidates {
		key := dedupKey(c.Symbol, c.Type)
		if recent[key] || lastIdx[key] != i {
			d.Dropped = append(d.Dropped, Drop{Alert: c, Reason: DropDuplicate})
			continue
		}
		survivors = append(survivors, c)
	}
	if len(survivors) == 0 {
		return d, nil
	}

	midnight := utils.LocalMidnight(now)
	used, err := e.store.CountAlertsCreatedSince(ctx, ownerID, midnight)
	if err != nil {
		return nil, apperrors.Wrap(err, "counting today's alerts")
	}

	// Today's active alerts, lowest score first, form the demotion pool.
	var pool []models.Alert
	for _, a := range active {
		if !a.CreatedAt.Before(midnight) {
			pool = append(pool, a)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		return pool[i].RelevanceScore < pool[j].RelevanceScore
	})

	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].RelevanceScore > survivors[j].RelevanceScore
	})

	capacity := maxPerDay - used
	for _, c := range survivors {
		if capacity > 0 {
			d.Admitted = append(d.Admitted, c)
			capacity--
			continue
		}
		if len(pool) > 0 && c.RelevanceScore > pool[0].RelevanceScore {
			d.Demotions = append(d.Demotions, pool[0])
			pool = pool[1:]
			d.Admitted = append(d.Admitted, c)
			continue
		}
		d.Dropped = append(d.Dropped, Drop{Alert: c, Reason: DropBudget})
	}

	for _, drop := range d.Dropped {
		e.logger.Debug().
			Str("owner_id", ownerID).
			Str("symbol", drop.Alert.Symbol).
			Str("type", string(drop.Alert.Type)).
			Str("reason", drop.Reason).
			Msg("Candidate throttled")
	}
	return d, nil
}

// Commit persists a decision: demoted alerts are deactivated, admitted
// alerts are saved. Call only after dispatch succeeded.
func (e *Engine) Commit(ctx context.Context, d *Decision) error {
	for _, demoted := range d.Demotions {
		if err := e.store.DeactivateAlert(ctx, demoted.ID); err != nil {
			return apperrors.Wrapf(err, "demoting alert %s", demoted.ID)
		}
		e.logger.Info().
			Str("owner_id", d.OwnerID).
			Str("alert_id", demoted.ID).
			Float64("score", demoted.RelevanceScore).
			Msg("Alert demoted for a higher-scored candidate")
	}
	for i := range d.Admitted {
		if err := e.store.SaveAlert(ctx, &d.Admitted[i]); err != nil {
			return apperrors.Wrapf(err, "saving alert %s", d.Admitted[i].ID)
		}
	}
	return nil
}

// Batches splits admitted alerts into dispatch payloads of at most the
// configured batch size, preserving order.
func (e *Engine) Batches(alerts []models.Alert) [][]models.Alert {
	if len(alerts) == 0 {
		return nil
	}
	var batches [][]models.Alert
	for start := 0; start < len(alerts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(alerts) {
			end = len(alerts)
		}
		batches = append(batches, alerts[start:end])
	}
	return batches
}

func dedupKey(symbol string, t models.EventType) string {
	return symbol + "|" + string(t)
}
