package throttle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investor-intelligence/internal/models"
	"investor-intelligence/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewEngine(st, 24*time.Hour, 5, zerolog.Nop()), st
}

func candidate(owner, symbol string, typ models.EventType, score float64) models.Alert {
	return models.Alert{
		ID:             fmt.Sprintf("%s-%s-%s-%f", owner, symbol, typ, score),
		OwnerID:        owner,
		Symbol:         symbol,
		Type:           typ,
		Message:        symbol + " moved",
		RelevanceScore: score,
		CreatedAt:      time.Now(),
		Active:         true,
	}
}

func seedActive(t *testing.T, st *store.MemoryStore, a models.Alert) {
	t.Helper()
	require.NoError(t, st.SaveAlert(context.Background(), &a))
}

func TestEvaluateDropsDuplicateInsideWindow(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	existing := candidate("usr1", "AAPL", models.EventPriceMove, 0.6)
	existing.CreatedAt = time.Now().Add(-2 * time.Hour)
	seedActive(t, st, existing)

	d, err := engine.Evaluate(ctx, "usr1", 10, []models.Alert{
		candidate("usr1", "AAPL", models.EventPriceMove, 0.9),
	})
	require.NoError(t, err)

	assert.Empty(t, d.Admitted)
	require.Len(t, d.Dropped, 1)
	assert.Equal(t, DropDuplicate, d.Dropped[0].Reason)
}

func TestEvaluateAdmitsAfterWindowExpires(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	existing := candidate("usr1", "AAPL", models.EventPriceMove, 0.6)
	existing.CreatedAt = time.Now().Add(-25 * time.Hour)
	seedActive(t, st, existing)

	d, err := engine.Evaluate(ctx, "usr1", 10, []models.Alert{
		candidate("usr1", "AAPL", models.EventPriceMove, 0.9),
	})
	require.NoError(t, err)

	assert.Len(t, d.Admitted, 1)
	assert.Empty(t, d.Dropped)
}

func TestEvaluateSameTypeDifferentSymbolNotDeduped(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	existing := candidate("usr1", "AAPL", models.EventPriceMove, 0.6)
	existing.CreatedAt = time.Now().Add(-time.Hour)
	seedActive(t, st, existing)

	d, err := engine.Evaluate(ctx, "usr1", 10, []models.Alert{
		candidate("usr1", "MSFT", models.EventPriceMove, 0.7),
	})
	require.NoError(t, err)
	assert.Len(t, d.Admitted, 1)
}

func TestEvaluateLastDuplicateInCycleWins(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first := candidate("usr1", "AAPL", models.EventPriceMove, 0.5)
	second := candidate("usr1", "AAPL", models.EventPriceMove, 0.8)

	d, err := engine.Evaluate(ctx, "usr1", 10, []models.Alert{first, second})
	require.NoError(t, err)

	require.Len(t, d.Admitted, 1)
	assert.Equal(t, second.ID, d.Admitted[0].ID)
	require.Len(t, d.Dropped, 1)
	assert.Equal(t, first.ID, d.Dropped[0].Alert.ID)
	assert.Equal(t, DropDuplicate, d.Dropped[0].Reason)
}

func TestEvaluateEnforcesDailyBudget(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	symbols := []string{"AAPL", "MSFT", "GOOG"}
	for _, sym := range symbols {
		a := candidate("usr1", sym, models.EventPriceMove, 0.5)
		a.CreatedAt = time.Now().Add(-time.Minute)
		seedActive(t, st, a)
	}

	// Budget full; a weaker candidate is rejected outright.
	d, err := engine.Evaluate(ctx, "usr1", 3, []models.Alert{
		candidate("usr1", "NVDA", models.EventPriceMove, 0.4),
	})
	require.NoError(t, err)
	assert.Empty(t, d.Admitted)
	require.Len(t, d.Dropped, 1)
	assert.Equal(t, DropBudget, d.Dropped[0].Reason)
}

func TestEvaluateReplacesLowestScoredWhenOutscored(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	low := candidate("usr1", "AAPL", models.EventPriceMove, 0.3)
	low.CreatedAt = time.Now().Add(-time.Minute)
	seedActive(t, st, low)
	high := candidate("usr1", "MSFT", models.EventPriceMove, 0.8)
	high.CreatedAt = time.Now().Add(-time.Minute)
	seedActive(t, st, high)

	d, err := engine.Evaluate(ctx, "usr1", 2, []models.Alert{
		candidate("usr1", "NVDA", models.EventNews, 0.7),
	})
	require.NoError(t, err)

	require.Len(t, d.Admitted, 1)
	require.Len(t, d.Demotions, 1)
	assert.Equal(t, low.ID, d.Demotions[0].ID)

	require.NoError(t, engine.Commit(ctx, d))

	demoted, err := st.GetAlertByID(ctx, low.ID)
	require.NoError(t, err)
	assert.False(t, demoted.Active)

	// Active count stays at the cap after replacement.
	count, err := st.CountAlertsCreatedSince(ctx, "usr1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEvaluateEqualScoreDoesNotReplace(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	existing := candidate("usr1", "AAPL", models.EventPriceMove, 0.7)
	existing.CreatedAt = time.Now().Add(-time.Minute)
	seedActive(t, st, existing)

	d, err := engine.Evaluate(ctx, "usr1", 1, []models.Alert{
		candidate("usr1", "MSFT", models.EventNews, 0.7),
	})
	require.NoError(t, err)
	assert.Empty(t, d.Admitted)
	assert.Empty(t, d.Demotions)
	require.Len(t, d.Dropped, 1)
	assert.Equal(t, DropBudget, d.Dropped[0].Reason)
}

func TestEvaluateOwnersIsolated(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	full := candidate("usr1", "AAPL", models.EventPriceMove, 0.9)
	full.CreatedAt = time.Now().Add(-time.Minute)
	seedActive(t, st, full)

	// usr2's budget is untouched by usr1's alerts.
	d, err := engine.Evaluate(ctx, "usr2", 1, []models.Alert{
		candidate("usr2", "AAPL", models.EventPriceMove, 0.5),
	})
	require.NoError(t, err)
	assert.Len(t, d.Admitted, 1)
}

func TestBatchesSplitAtConfiguredSize(t *testing.T) {
	engine, _ := newTestEngine(t)

	var alerts []models.Alert
	for i := 0; i < 12; i++ {
		alerts = append(alerts, candidate("usr1", fmt.Sprintf("SYM%d", i), models.EventPriceMove, 0.5))
	}

	batches := engine.Batches(alerts)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 5)
	assert.Len(t, batches[1], 5)
	assert.Len(t, batches[2], 2)

	assert.Nil(t, engine.Batches(nil))
}

func TestAcquireSerializesPerOwner(t *testing.T) {
	engine, _ := newTestEngine(t)

	release := engine.Acquire("usr1")
	done := make(chan struct{})
	go func() {
		r := engine.Acquire("usr1")
		r()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should block until release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded")
	}
}
