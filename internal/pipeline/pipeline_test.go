package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investor-intelligence/internal/config"
	"investor-intelligence/internal/detect"
	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/learn"
	"investor-intelligence/internal/marketdata"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/notify"
	"investor-intelligence/internal/portfolio"
	"investor-intelligence/internal/resilience"
	"investor-intelligence/internal/scoring"
	"investor-intelligence/internal/store"
	"investor-intelligence/internal/throttle"
)

// recordingNotifier captures dispatched batches and can be told to
// fail deliveries.
type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]models.Alert
	fail    bool
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error { return nil }

func (r *recordingNotifier) SendAlertBatch(ctx context.Context, ownerID string, alerts []models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return apperrors.NewDispatchError(ownerID, "test", errors.New("delivery refused"))
	}
	batch := make([]models.Alert, len(alerts))
	copy(batch, alerts)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingNotifier) SendDailySummary(ctx context.Context, summary *notify.DailySummary) error {
	return nil
}

func (r *recordingNotifier) SendError(ctx context.Context, err error, msg string) error {
	return nil
}

func (r *recordingNotifier) dispatched() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

type testRig struct {
	orch     *Orchestrator
	store    *store.MemoryStore
	provider *marketdata.StaticProvider
	source   *portfolio.StaticSource
	notifier *recordingNotifier
}

func testConfig() *config.Config {
	return &config.Config{
		Monitoring: config.MonitoringConfig{
			MinPriceChangeAlert:   5.0,
			MaxAlertsPerDay:       10,
			DedupWindowHours:      24,
			EarningsLookaheadDays: 7,
			MonitoringFrequency:   15 * time.Minute,
			BatchSize:             5,
			SourceTimeout:         time.Second,
			MaxConcurrentOwners:   4,
		},
		Scoring: config.ScoringConfig{
			Strategy:           "learned",
			SentimentThreshold: 0.35,
		},
		Learning: config.LearningConfig{MinExamples: 10, LearningRate: 0.1, KeepVersions: 2},
	}
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	cfg := testConfig()
	st := store.NewMemoryStore()
	provider := marketdata.NewStaticProvider()
	source := portfolio.NewStaticSource()
	notifier := &recordingNotifier{}
	registry := learn.NewRegistry(st, 2, zerolog.Nop())

	collector := detect.NewCollector(provider, resilience.NewHealthTracker(16), time.Second, zerolog.Nop())
	detectors := []detect.Detector{
		detect.NewPriceMoveDetector(),
		detect.NewEarningsDetector(),
		detect.NewNewsDetector(),
	}
	engine := throttle.NewEngine(st, 24*time.Hour, 5, zerolog.Nop())

	orch := NewOrchestrator(
		cfg, st, source, collector, detectors,
		scoring.NewLearnedScorer(), registry, engine, notifier, zerolog.Nop(),
	)
	return &testRig{orch: orch, store: st, provider: provider, source: source, notifier: notifier}
}

func (r *testRig) seedOwner(ownerID string, holdings ...models.Holding) {
	r.source.SetPortfolio(&models.Portfolio{
		OwnerID:  ownerID,
		Name:     "Main",
		Holdings: holdings,
		SyncedAt: time.Now(),
	})
}

func holding(symbol string, purchase float64) models.Holding {
	return models.Holding{
		Symbol:        symbol,
		Quantity:      10,
		PurchasePrice: purchase,
		PurchaseDate:  time.Now().AddDate(0, -3, 0),
	}
}

func TestCyclePersistsAndDispatchesPriceAlert(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seedOwner("usr1", holding("AAPL", 150))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 160.05, Timestamp: time.Now()})

	report, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Admitted)
	assert.Equal(t, 1, report.Dispatched)
	assert.True(t, report.Degraded, "no trained model yet")
	assert.Equal(t, StageIdle, rig.orch.Stage("usr1"))

	alerts, err := rig.store.GetActiveAlerts(ctx, "usr1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "AAPL", a.Symbol)
	assert.Equal(t, models.EventPriceMove, a.Type)
	assert.True(t, a.Active)
	assert.GreaterOrEqual(t, a.RelevanceScore, 0.0)
	assert.LessOrEqual(t, a.RelevanceScore, 1.0)
	assert.Contains(t, a.Metadata, "magnitude_bucket")
	assert.True(t, a.MetaBool(models.MetaModelDegraded))
	assert.Contains(t, a.Message, "AAPL")

	assert.Equal(t, 1, rig.notifier.dispatched())
}

func TestSecondCycleDedupesSameSignal(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seedOwner("usr1", holding("AAPL", 150))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 160.05, Timestamp: time.Now()})

	_, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err)

	report, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err)

	// The reference price moved to the alerted price, so the 0.03%
	// residual move is below threshold and nothing new fires.
	assert.Zero(t, report.Admitted)

	alerts, err := rig.store.GetActiveAlerts(ctx, "usr1")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.orch.setStage("usr1", StageScoring)

	_, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCycleInFlight))
	assert.Equal(t, StageScoring, rig.orch.Stage("usr1"))
}

func TestSourceFailureAbortsCycleWithoutWrites(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.source.FailOwner("usr1", apperrors.ErrSourceUnavailable)

	_, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.Error(t, err)

	var cerr *apperrors.CycleError
	require.True(t, apperrors.As(err, &cerr))
	assert.Equal(t, string(StageDetecting), cerr.Stage)
	assert.Equal(t, StageFailed, rig.orch.Stage("usr1"))

	alerts, err := rig.store.GetAlerts(ctx, store.AlertFilter{OwnerID: "usr1"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDispatchFailureRecordsMarkerAndKeepsAlertActive(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seedOwner("usr1", holding("AAPL", 150))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 170, Timestamp: time.Now()})
	rig.notifier.fail = true

	report, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err, "delivery failure is recorded, not fatal")
	assert.Equal(t, 1, report.Admitted)
	assert.Zero(t, report.Dispatched)

	alerts, err := rig.store.GetActiveAlerts(ctx, "usr1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Active)
	assert.True(t, alerts[0].MetaBool(models.MetaDispatchFailed))
}

func TestCancelledContextAbortsBeforePersisting(t *testing.T) {
	rig := newTestRig(t)

	rig.seedOwner("usr1", holding("AAPL", 150))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 170, Timestamp: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.Error(t, err)

	alerts, err := rig.store.GetAlerts(context.Background(), store.AlertFilter{OwnerID: "usr1"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

// cancellingNotifier cancels the cycle's context during delivery, as
// a caller-side timeout firing mid-dispatch would.
type cancellingNotifier struct {
	recordingNotifier
	cancel context.CancelFunc
}

func (c *cancellingNotifier) SendAlertBatch(ctx context.Context, ownerID string, alerts []models.Alert) error {
	c.cancel()
	return c.recordingNotifier.SendAlertBatch(ctx, ownerID, alerts)
}

func TestCancellationDuringDispatchStillPersists(t *testing.T) {
	rig := newTestRig(t)

	rig.seedOwner("usr1", holding("AAPL", 150))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 170, Timestamp: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier := &cancellingNotifier{cancel: cancel}
	rig.orch.notifier = notifier

	report, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err, "cancellation after dispatch begins is not honored")
	assert.Equal(t, 1, report.Admitted)
	assert.Equal(t, 1, report.Dispatched)

	alerts, err := rig.store.GetActiveAlerts(context.Background(), "usr1")
	require.NoError(t, err)
	require.Len(t, alerts, 1, "delivered alert must be persisted despite the cancellation")
	assert.True(t, alerts[0].Active)
	assert.False(t, alerts[0].MetaBool(models.MetaDispatchFailed))
}

func TestUserConfigOverridesThresholdAndBudget(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.SaveUserConfig(ctx, &models.UserConfig{
		OwnerID:              "usr1",
		MinPriceChangePct:    15.0,
		MaxAlertsPerDay:      1,
		NotificationsEnabled: true,
	}))

	rig.seedOwner("usr1", holding("AAPL", 150), holding("MSFT", 400))
	// +6.7% is below the owner's 15% threshold; +25% clears it.
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 160.05, Timestamp: time.Now()})
	rig.provider.SetQuote(models.Quote{Symbol: "MSFT", Price: 500, Timestamp: time.Now()})

	report, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Admitted)

	alerts, err := rig.store.GetActiveAlerts(ctx, "usr1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "MSFT", alerts[0].Symbol)
}

func TestNotificationsDisabledStillPersists(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.SaveUserConfig(ctx, &models.UserConfig{
		OwnerID:              "usr1",
		NotificationsEnabled: false,
	}))

	rig.seedOwner("usr1", holding("AAPL", 150))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 170, Timestamp: time.Now()})

	report, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Admitted)
	assert.Zero(t, report.Dispatched)
	assert.Zero(t, rig.notifier.dispatched())

	alerts, err := rig.store.GetActiveAlerts(ctx, "usr1")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSoftSourceFailureDoesNotAbortCycle(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seedOwner("usr1", holding("AAPL", 150), holding("GOOGL", 200))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 170, Timestamp: time.Now()})
	rig.provider.FailSymbol("GOOGL", apperrors.ErrTimeout)

	report, err := rig.orch.RunCycle(ctx, "usr1", "ref")
	require.NoError(t, err, "one symbol's timeout must not abort the cycle")
	assert.Equal(t, 1, report.Admitted)

	alerts, err := rig.store.GetActiveAlerts(ctx, "usr1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "AAPL", alerts[0].Symbol)
}

func TestRunAllIsolatesOwners(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seedOwner("usr1", holding("AAPL", 150))
	rig.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 170, Timestamp: time.Now()})
	rig.source.FailOwner("usr2", apperrors.ErrSourceUnavailable)

	results := rig.orch.RunAll(ctx, map[string]string{"usr1": "ref1", "usr2": "ref2"})

	assert.NoError(t, results["usr1"])
	assert.Error(t, results["usr2"])

	alerts, err := rig.store.GetActiveAlerts(ctx, "usr1")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
