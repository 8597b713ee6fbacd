// Package integration provides end-to-end tests that run the full
// pipeline against a real SQLite database.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"investor-intelligence/internal/config"
	"investor-intelligence/internal/detect"
	"investor-intelligence/internal/feedback"
	"investor-intelligence/internal/learn"
	"investor-intelligence/internal/marketdata"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/notify"
	"investor-intelligence/internal/pipeline"
	"investor-intelligence/internal/portfolio"
	"investor-intelligence/internal/resilience"
	"investor-intelligence/internal/scoring"
	"investor-intelligence/internal/store"
	"investor-intelligence/internal/throttle"
)

type fixture struct {
	store    store.DataStore
	provider *marketdata.StaticProvider
	source   *portfolio.StaticSource
	registry *learn.Registry
	orch     *pipeline.Orchestrator
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "intel_test.db")
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Monitoring: config.MonitoringConfig{
			MinPriceChangeAlert:   5.0,
			MaxAlertsPerDay:       10,
			DedupWindowHours:      24,
			EarningsLookaheadDays: 7,
			MonitoringFrequency:   15 * time.Minute,
			BatchSize:             5,
			SourceTimeout:         time.Second,
			MaxConcurrentOwners:   2,
		},
		Scoring:  config.ScoringConfig{Strategy: "learned", SentimentThreshold: 0.35},
		Learning: config.LearningConfig{MinExamples: 5, LearningRate: 0.1, KeepVersions: 2},
	}

	provider := marketdata.NewStaticProvider()
	source := portfolio.NewStaticSource()
	registry := learn.NewRegistry(st, cfg.Learning.KeepVersions, zerolog.Nop())

	collector := detect.NewCollector(provider, resilience.NewHealthTracker(16), time.Second, zerolog.Nop())
	detectors := []detect.Detector{
		detect.NewPriceMoveDetector(),
		detect.NewEarningsDetector(),
		detect.NewNewsDetector(),
	}
	engine := throttle.NewEngine(st, cfg.Monitoring.DedupWindow(), cfg.Monitoring.BatchSize, zerolog.Nop())

	orch := pipeline.NewOrchestrator(
		cfg, st, source, collector, detectors,
		scoring.NewLearnedScorer(), registry, engine,
		notify.NewNoOpNotifier(), zerolog.Nop(),
	)

	return &fixture{store: st, provider: provider, source: source, registry: registry, orch: orch, cfg: cfg}
}

// TestEndToEndAlertLifecycle walks an alert through its whole life:
// detection, scoring, persistence, feedback, retraining, and a later
// cycle scored by the retrained model.
func TestEndToEndAlertLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fx := newFixture(t)
	const owner = "integration-owner"

	fx.source.SetPortfolio(&models.Portfolio{
		OwnerID: owner,
		Name:    "Growth",
		Holdings: []models.Holding{
			{Symbol: "AAPL", Quantity: 10, PurchasePrice: 150, PurchaseDate: time.Now().AddDate(0, -6, 0)},
			{Symbol: "NVDA", Quantity: 4, PurchasePrice: 400, PurchaseDate: time.Now().AddDate(0, -2, 0)},
		},
		SyncedAt: time.Now(),
	})
	fx.provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 165, Timestamp: time.Now()})
	fx.provider.SetQuote(models.Quote{Symbol: "NVDA", Price: 402, Timestamp: time.Now()})
	fx.provider.SetEarnings("NVDA", []models.EarningsEvent{
		{Symbol: "NVDA", ReportDate: time.Now().AddDate(0, 0, 3), FiscalEnd: "2026-07"},
	})

	// First cycle: a +10% AAPL move and an NVDA earnings date within
	// the lookahead window should both produce alerts.
	report, err := fx.orch.RunCycle(ctx, owner, "ref")
	if err != nil {
		t.Fatalf("First cycle failed: %v", err)
	}
	if report.Admitted != 2 {
		t.Fatalf("Expected 2 admitted alerts, got %d", report.Admitted)
	}
	if !report.Degraded {
		t.Error("Expected degraded scoring before any model is trained")
	}

	alerts, err := fx.store.GetActiveAlerts(ctx, owner)
	if err != nil {
		t.Fatalf("Failed to list active alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 active alerts, got %d", len(alerts))
	}
	for _, a := range alerts {
		if a.RelevanceScore < 0 || a.RelevanceScore > 1 {
			t.Errorf("Score out of range for %s: %f", a.Symbol, a.RelevanceScore)
		}
		if !a.MetaBool(models.MetaModelDegraded) {
			t.Errorf("Expected degradation marker on %s alert", a.Symbol)
		}
	}

	// Record feedback through the service layer, then pad the corpus
	// with older labeled alerts so retraining has enough examples.
	fbSvc := feedback.NewService(fx.store, zerolog.Nop())
	if _, err := fbSvc.Record(ctx, owner, alerts[0].ID, models.FeedbackRelevant); err != nil {
		t.Fatalf("Failed to record feedback: %v", err)
	}
	if _, err := fbSvc.Record(ctx, owner, alerts[0].ID, models.FeedbackNotRelevant); err == nil {
		t.Error("Expected duplicate feedback to be rejected")
	}
	seedLabeledHistory(ctx, t, fx.store, owner, 6)

	// Retrain and install a model.
	learner := learn.NewLearner(fx.cfg.Learning.MinExamples, fx.cfg.Learning.LearningRate, zerolog.Nop())
	svc := learn.NewService(fx.store, fx.registry, learner, zerolog.Nop())
	ms, err := svc.Retrain(ctx)
	if err != nil {
		t.Fatalf("Retrain failed: %v", err)
	}
	if ms.Version < 1 {
		t.Fatalf("Expected a positive model version, got %d", ms.Version)
	}
	if fx.registry.Current() == nil {
		t.Fatal("Retrained model was not installed")
	}

	persisted, err := fx.store.GetLatestModelState(ctx)
	if err != nil {
		t.Fatalf("Failed to load persisted model: %v", err)
	}
	if persisted.Version != ms.Version {
		t.Errorf("Persisted version %d does not match installed %d", persisted.Version, ms.Version)
	}

	// Second cycle: a fresh NVDA move scores against the new model,
	// while the unchanged AAPL price and already-alerted earnings date
	// stay quiet.
	fx.provider.SetQuote(models.Quote{Symbol: "NVDA", Price: 460, Timestamp: time.Now()})

	report, err = fx.orch.RunCycle(ctx, owner, "ref")
	if err != nil {
		t.Fatalf("Second cycle failed: %v", err)
	}
	if report.Admitted != 1 {
		t.Fatalf("Expected 1 admitted alert in second cycle, got %d", report.Admitted)
	}
	if report.Degraded {
		t.Error("Second cycle should score with the trained model")
	}

	alerts, err = fx.store.GetActiveAlerts(ctx, owner)
	if err != nil {
		t.Fatalf("Failed to list active alerts: %v", err)
	}
	var nvdaMove *models.Alert
	for i := range alerts {
		if alerts[i].Symbol == "NVDA" && alerts[i].Type == models.EventPriceMove {
			nvdaMove = &alerts[i]
		}
	}
	if nvdaMove == nil {
		t.Fatal("Expected an NVDA price move alert in the second cycle")
	}
	if nvdaMove.ModelVersion != ms.Version {
		t.Errorf("Alert stamped with model version %d, want %d", nvdaMove.ModelVersion, ms.Version)
	}
	if nvdaMove.MetaBool(models.MetaModelDegraded) {
		t.Error("Trained-model alert should not carry a degradation marker")
	}
}

// TestConcurrentOwnersDoNotInterfere runs cycles for several owners
// through RunAll and checks budgets and alerts stay per-owner.
func TestConcurrentOwnersDoNotInterfere(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fx := newFixture(t)

	owners := []string{"own-a", "own-b", "own-c"}
	refs := make(map[string]string, len(owners))
	for i, owner := range owners {
		symbol := fmt.Sprintf("SYM%d", i)
		fx.source.SetPortfolio(&models.Portfolio{
			OwnerID: owner,
			Holdings: []models.Holding{
				{Symbol: symbol, Quantity: 1, PurchasePrice: 100, PurchaseDate: time.Now().AddDate(0, -1, 0)},
			},
			SyncedAt: time.Now(),
		})
		fx.provider.SetQuote(models.Quote{Symbol: symbol, Price: 112, Timestamp: time.Now()})
		refs[owner] = "ref"
	}

	results := fx.orch.RunAll(ctx, refs)
	for owner, err := range results {
		if err != nil {
			t.Errorf("Cycle for %s failed: %v", owner, err)
		}
	}

	for _, owner := range owners {
		alerts, err := fx.store.GetActiveAlerts(ctx, owner)
		if err != nil {
			t.Fatalf("Failed to list alerts for %s: %v", owner, err)
		}
		if len(alerts) != 1 {
			t.Errorf("Expected 1 alert for %s, got %d", owner, len(alerts))
		}
		for _, a := range alerts {
			if a.OwnerID != owner {
				t.Errorf("Alert %s leaked across owners: %s", a.ID, a.OwnerID)
			}
		}
	}
}

// TestDailyBudgetReplacement verifies that once the daily cap is hit,
// only a strictly higher scoring candidate displaces an active alert.
func TestDailyBudgetReplacement(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fx := newFixture(t)
	const owner = "budget-owner"

	if err := fx.store.SaveUserConfig(ctx, &models.UserConfig{
		OwnerID:              owner,
		MaxAlertsPerDay:      2,
		NotificationsEnabled: true,
	}); err != nil {
		t.Fatalf("Failed to save user config: %v", err)
	}

	fx.source.SetPortfolio(&models.Portfolio{
		OwnerID: owner,
		Holdings: []models.Holding{
			{Symbol: "AAA", Quantity: 1, PurchasePrice: 100, PurchaseDate: time.Now().AddDate(0, -1, 0)},
			{Symbol: "BBB", Quantity: 1, PurchasePrice: 100, PurchaseDate: time.Now().AddDate(0, -1, 0)},
			{Symbol: "CCC", Quantity: 1, PurchasePrice: 100, PurchaseDate: time.Now().AddDate(0, -1, 0)},
		},
		SyncedAt: time.Now(),
	})
	// Three qualifying moves of very different magnitude compete for
	// a budget of two; the weakest must be the one dropped.
	fx.provider.SetQuote(models.Quote{Symbol: "AAA", Price: 106, Timestamp: time.Now()})
	fx.provider.SetQuote(models.Quote{Symbol: "BBB", Price: 125, Timestamp: time.Now()})
	fx.provider.SetQuote(models.Quote{Symbol: "CCC", Price: 150, Timestamp: time.Now()})

	report, err := fx.orch.RunCycle(ctx, owner, "ref")
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if report.Admitted != 2 {
		t.Fatalf("Expected 2 admitted, got %d", report.Admitted)
	}
	if report.Dropped != 1 {
		t.Fatalf("Expected 1 dropped, got %d", report.Dropped)
	}

	alerts, err := fx.store.GetActiveAlerts(ctx, owner)
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 active alerts, got %d", len(alerts))
	}
	for _, a := range alerts {
		if a.Symbol == "AAA" {
			t.Error("Weakest candidate survived the budget cut")
		}
	}
}

// seedLabeledHistory inserts already-judged alerts so the retraining
// corpus clears the minimum example count.
func seedLabeledHistory(ctx context.Context, t *testing.T, st store.DataStore, owner string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		label := models.FeedbackRelevant
		if i%3 == 0 {
			label = models.FeedbackNotRelevant
		}
		alert := &models.Alert{
			ID:             fmt.Sprintf("hist-%d", i),
			OwnerID:        owner,
			Symbol:         "AAPL",
			Type:           models.EventPriceMove,
			Message:        "historical alert",
			RelevanceScore: 0.6,
			CreatedAt:      time.Now().AddDate(0, 0, -10-i),
			Active:         false,
			Metadata:       map[string]interface{}{"magnitude_bucket": 1},
		}
		if err := st.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("Failed to seed alert: %v", err)
		}
		fb := &models.Feedback{
			AlertID:     alert.ID,
			OwnerID:     owner,
			Label:       label,
			SubmittedAt: time.Now().AddDate(0, 0, -9-i),
		}
		if err := st.SaveFeedback(ctx, fb); err != nil {
			t.Fatalf("Failed to seed feedback: %v", err)
		}
	}
}
