// Package pipeline orchestrates the scan cycle: portfolio load, signal
// detection, relevance scoring, throttling and dispatch, one state
// machine per owner.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"investor-intelligence/internal/config"
	"investor-intelligence/internal/detect"
	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/learn"
	"investor-intelligence/internal/logging"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/notify"
	"investor-intelligence/internal/portfolio"
	"investor-intelligence/internal/scoring"
	"investor-intelligence/internal/store"
	"investor-intelligence/internal/throttle"
	"investor-intelligence/pkg/utils"
)

// Stage names an owner's position in the cycle state machine.
type Stage string

const (
	StageIdle        Stage = "IDLE"
	StageDetecting   Stage = "DETECTING"
	StageScoring     Stage = "SCORING"
	StageThrottling  Stage = "THROTTLING"
	StageDispatching Stage = "DISPATCHING"
	StageFailed      Stage = "FAILED"
)

// CycleReport summarizes one completed cycle.
type CycleReport struct {
	OwnerID    string
	Candidates int
	Scored     int
	Admitted   int
	Dropped    int
	Dispatched int
	Degraded   bool
	Duration   time.Duration
}

// Orchestrator runs scan cycles. One cycle per owner may be in flight
// at a time; a second start while the first runs is a logged no-op.
// All store writes for a cycle happen after dispatch, so an aborted
// cycle leaves no partial state.
type Orchestrator struct {
	cfg       *config.Config
	store     store.DataStore
	source    portfolio.Source
	collector *detect.Collector
	detectors []detect.Detector
	scorer    scoring.Scorer
	registry  *learn.Registry
	throttle  *throttle.Engine
	notifier  notify.Notifier
	logger    zerolog.Logger

	mu     sync.Mutex
	stages map[string]Stage
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(
	cfg *config.Config,
	st store.DataStore,
	source portfolio.Source,
	collector *detect.Collector,
	detectors []detect.Detector,
	scorer scoring.Scorer,
	registry *learn.Registry,
	engine *throttle.Engine,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		source:    source,
		collector: collector,
		detectors: detectors,
		scorer:    scorer,
		registry:  registry,
		throttle:  engine,
		notifier:  notifier,
		logger:    logger,
		stages:    make(map[string]Stage),
	}
}

// Stage returns the owner's current cycle stage.
func (o *Orchestrator) Stage(ownerID string) Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.stages[ownerID]; ok {
		return s
	}
	return StageIdle
}

// begin claims the owner's state machine for a new cycle. It fails
// with ErrCycleInFlight when a cycle is already running.
func (o *Orchestrator) begin(ownerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stages[ownerID]
	if ok && s != StageIdle && s != StageFailed {
		return apperrors.ErrCycleInFlight
	}
	o.stages[ownerID] = StageDetecting
	return nil
}

func (o *Orchestrator) setStage(ownerID string, s Stage) {
	o.mu.Lock()
	o.stages[ownerID] = s
	o.mu.Unlock()
}

// RunCycle runs one full scan cycle for an owner. sourceRef identifies
// the owner's portfolio for the configured Source (a CSV path for the
// file source). An overlapping start returns ErrCycleInFlight after a
// log line and changes nothing.
func (o *Orchestrator) RunCycle(ctx context.Context, ownerID, sourceRef string) (*CycleReport, error) {
	log := logging.WithOwner(o.logger, ownerID)

	if err := o.begin(ownerID); err != nil {
		log.Info().Msg("Cycle already in flight, skipping")
		return nil, err
	}

	start := time.Now()
	report, err := o.runCycle(ctx, ownerID, sourceRef, log)
	if err != nil {
		o.setStage(ownerID, StageFailed)
		log.Error().Err(err).Msg("Cycle failed")
		return nil, err
	}

	o.setStage(ownerID, StageIdle)
	report.Duration = time.Since(start)
	log.Info().
		Int("candidates", report.Candidates).
		Int("admitted", report.Admitted).
		Int("dropped", report.Dropped).
		Int("dispatched", report.Dispatched).
		Dur("duration", report.Duration).
		Msg("Cycle complete")
	return report, nil
}

// checkpoint reports a cancellation observed between stages.
func checkpoint(ctx context.Context, ownerID string, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewCycleError(ownerID, string(stage), err)
	}
	return nil
}

func (o *Orchestrator) runCycle(ctx context.Context, ownerID, sourceRef string, log zerolog.Logger) (*CycleReport, error) {
	report := &CycleReport{OwnerID: ownerID}

	// DETECTING: load inputs and fan out the detectors.
	o.setStage(ownerID, StageDetecting)

	userCfg, err := o.userConfig(ctx, ownerID)
	if err != nil {
		return nil, apperrors.NewCycleError(ownerID, string(StageDetecting), err)
	}

	pf, err := o.source.Load(ctx, ownerID, sourceRef)
	if err != nil {
		return nil, apperrors.NewCycleError(ownerID, string(StageDetecting), err)
	}
	if len(pf.Holdings) == 0 {
		log.Info().Msg("Portfolio empty, nothing to scan")
		return report, nil
	}

	params, err := o.detectParams(ctx, ownerID, userCfg)
	if err != nil {
		return nil, apperrors.NewCycleError(ownerID, string(StageDetecting), err)
	}

	newsSince := time.Now().Add(-o.cfg.Monitoring.DedupWindow())
	snap := o.collector.Collect(ctx, pf, newsSince)

	result := detect.RunAll(ctx, o.detectors, pf, snap, params)
	for name, softErr := range result.SoftFailures {
		logging.LogSoftFailure(log, name, "", softErr)
	}
	report.Candidates = len(result.Events)

	if err := checkpoint(ctx, ownerID, StageDetecting); err != nil {
		return nil, err
	}

	// SCORING: one model snapshot for the whole cycle.
	o.setStage(ownerID, StageScoring)

	model := o.registry.Current()
	rates, err := o.store.GetFeedbackRates(ctx, ownerID)
	if err != nil {
		return nil, apperrors.NewCycleError(ownerID, string(StageScoring), err)
	}
	pctx := scoring.PortfolioContext{Portfolio: pf, FeedbackRates: rates}

	candidates := make([]models.Alert, 0, len(result.Events))
	for _, event := range result.Events {
		scored, err := o.scorer.Score(event, pctx, model)
		if err != nil {
			log.Warn().Err(err).Str("symbol", event.Symbol).Msg("Event rejected by scorer")
			continue
		}
		candidates = append(candidates, o.buildAlert(ownerID, event, scored, model))
		if scored.Degraded {
			report.Degraded = true
		}
	}
	report.Scored = len(candidates)

	if err := checkpoint(ctx, ownerID, StageScoring); err != nil {
		return nil, err
	}

	// THROTTLING: dedup and budget under the owner's admission lock,
	// held through commit so a concurrent cycle cannot double-spend
	// the daily budget.
	o.setStage(ownerID, StageThrottling)

	release := o.throttle.Acquire(ownerID)
	defer release()

	decision, err := o.throttle.Evaluate(ctx, ownerID, userCfg.MaxAlertsPerDay, candidates)
	if err != nil {
		return nil, apperrors.NewCycleError(ownerID, string(StageThrottling), err)
	}
	report.Admitted = len(decision.Admitted)
	report.Dropped = len(decision.Dropped)

	if err := checkpoint(ctx, ownerID, StageThrottling); err != nil {
		return nil, err
	}

	// DISPATCHING: cancellation is no longer honored past this point.
	// Delivery and commit run on a detached context so a cancellation
	// arriving mid-dispatch cannot leave delivered alerts unpersisted.
	// Delivery failures are recorded on the affected alerts, which are
	// persisted and stay active; they are not retried.
	o.setStage(ownerID, StageDispatching)
	dctx := context.WithoutCancel(ctx)

	if userCfg.NotificationsEnabled && len(decision.Admitted) > 0 {
		for _, batch := range o.throttle.Batches(decision.Admitted) {
			if err := o.notifier.SendAlertBatch(dctx, ownerID, batch); err != nil {
				log.Warn().Err(err).Int("batch_size", len(batch)).Msg("Batch dispatch failed")
				markDispatchFailed(decision.Admitted, batch)
				continue
			}
			report.Dispatched += len(batch)
		}
	}

	if err := o.throttle.Commit(dctx, decision); err != nil {
		return nil, apperrors.NewCycleError(ownerID, string(StageDispatching), err)
	}
	for i := range decision.Admitted {
		a := &decision.Admitted[i]
		logging.LogAlert(log, a.ID, ownerID, a.Symbol, string(a.Type), a.RelevanceScore)
	}

	return report, nil
}

// markDispatchFailed flags every admitted alert belonging to a failed
// batch. Admitted entries are flagged in place so Commit persists the
// marker.
func markDispatchFailed(admitted []models.Alert, batch []models.Alert) {
	failed := make(map[string]bool, len(batch))
	for _, a := range batch {
		failed[a.ID] = true
	}
	for i := range admitted {
		if failed[admitted[i].ID] {
			admitted[i].SetMeta(models.MetaDispatchFailed, true)
		}
	}
}

// userConfig returns the owner's preferences, falling back to the
// system defaults for owners who never customized anything.
func (o *Orchestrator) userConfig(ctx context.Context, ownerID string) (*models.UserConfig, error) {
	cfg, err := o.store.GetUserConfig(ctx, ownerID)
	if err == nil {
		if cfg.MinPriceChangePct <= 0 {
			cfg.MinPriceChangePct = o.cfg.Monitoring.MinPriceChangeAlert
		}
		if cfg.MaxAlertsPerDay <= 0 {
			cfg.MaxAlertsPerDay = o.cfg.Monitoring.MaxAlertsPerDay
		}
		return cfg, nil
	}
	if apperrors.Is(err, apperrors.ErrOwnerNotFound) {
		return &models.UserConfig{
			OwnerID:              ownerID,
			MinPriceChangePct:    o.cfg.Monitoring.MinPriceChangeAlert,
			MaxAlertsPerDay:      o.cfg.Monitoring.MaxAlertsPerDay,
			NotificationsEnabled: true,
		}, nil
	}
	return nil, err
}

// detectParams derives detector thresholds and history-dependent
// baselines from the owner's alert history. The price detector
// compares against the last alerted price for a symbol so repeated
// cycles measure fresh movement, not the same move again; earnings
// alerts fire once per (symbol, report date).
func (o *Orchestrator) detectParams(ctx context.Context, ownerID string, userCfg *models.UserConfig) (detect.Params, error) {
	params := detect.Params{
		MinPriceChangePct:  userCfg.MinPriceChangePct,
		EarningsLookahead:  o.cfg.Monitoring.EarningsLookaheadDays,
		SentimentThreshold: o.cfg.Scoring.SentimentThreshold,
		ReferencePrices:    make(map[string]float64),
		AlertedEarnings:    make(map[string]bool),
	}

	priceAlerts, err := o.store.GetAlerts(ctx, store.AlertFilter{OwnerID: ownerID, Type: models.EventPriceMove})
	if err != nil {
		return params, err
	}
	for _, a := range priceAlerts {
		// Most recent first; keep the first price seen per symbol.
		if _, ok := params.ReferencePrices[a.Symbol]; ok {
			continue
		}
		if price, ok := a.Metadata["price"].(float64); ok && price > 0 {
			params.ReferencePrices[a.Symbol] = price
		}
	}

	earningsAlerts, err := o.store.GetAlerts(ctx, store.AlertFilter{OwnerID: ownerID, Type: models.EventEarnings})
	if err != nil {
		return params, err
	}
	for _, a := range earningsAlerts {
		if date, ok := a.Metadata["report_date"].(string); ok && date != "" {
			params.AlertedEarnings[a.Symbol+":"+date] = true
		}
	}

	return params, nil
}

// buildAlert materializes a scored event as a persistable alert. The
// event payload and the scoring feature markers both land in metadata;
// the learner later reconstructs feature keys from them.
func (o *Orchestrator) buildAlert(ownerID string, event models.CandidateEvent, scored scoring.Result, model *models.ModelState) models.Alert {
	a := models.Alert{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Symbol:         event.Symbol,
		Type:           event.Type,
		Message:        buildMessage(event),
		RelevanceScore: scored.Score,
		CreatedAt:      time.Now(),
		Active:         true,
	}
	if model != nil {
		a.ModelVersion = model.Version
	}
	for k, v := range event.RawPayload {
		a.SetMeta(k, v)
	}
	a.SetMeta("magnitude_bucket", scoring.MagnitudeBucket(scoring.NormalizedMagnitude(event)))
	if scored.Degraded {
		a.SetMeta(models.MetaModelDegraded, true)
	}
	return a
}

// buildMessage renders the user-facing alert text for an event.
func buildMessage(event models.CandidateEvent) string {
	switch event.Type {
	case models.EventPriceMove:
		price, _ := event.RawPayload["price"].(float64)
		ref, _ := event.RawPayload["reference_price"].(float64)
		return fmt.Sprintf("%s moved %s from %s to %s",
			event.Symbol, utils.FormatPercent(event.ObservedValue),
			utils.FormatPrice(ref), utils.FormatPrice(price))
	case models.EventEarnings:
		date, _ := event.RawPayload["report_date"].(string)
		days := int(event.ObservedValue + 0.5)
		if days == 0 {
			return fmt.Sprintf("%s reports earnings today (%s)", event.Symbol, date)
		}
		return fmt.Sprintf("%s reports earnings in %d days (%s)", event.Symbol, days, date)
	case models.EventNews:
		headline, _ := event.RawPayload["headline"].(string)
		return fmt.Sprintf("%s: %s (sentiment %+.2f)", event.Symbol, strings.TrimSpace(headline), event.ObservedValue)
	default:
		return fmt.Sprintf("%s: %s signal", event.Symbol, event.Type)
	}
}
