package summary

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investor-intelligence/internal/marketdata"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/notify"
	"investor-intelligence/internal/store"
)

func seedAlert(t *testing.T, st store.DataStore, ownerID, symbol string, score float64, createdAt time.Time) *models.Alert {
	t.Helper()
	a := &models.Alert{
		ID:             fmt.Sprintf("%s-%s-%d", ownerID, symbol, createdAt.UnixNano()),
		OwnerID:        ownerID,
		Symbol:         symbol,
		Type:           models.EventPriceMove,
		Message:        "moved",
		RelevanceScore: score,
		CreatedAt:      createdAt,
		Active:         true,
	}
	require.NoError(t, st.SaveAlert(context.Background(), a))
	return a
}

func TestGenerateDigest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	provider := marketdata.NewStaticProvider()

	pf := &models.Portfolio{
		OwnerID: "usr1",
		Holdings: []models.Holding{
			{Symbol: "AAPL", Quantity: 10, PurchasePrice: 150},
			{Symbol: "NVDA", Quantity: 5, PurchasePrice: 400},
		},
	}

	now := time.Now()
	a1 := seedAlert(t, st, "usr1", "AAPL", 0.9, now.Add(-time.Hour))
	seedAlert(t, st, "usr1", "NVDA", 0.4, now.Add(-2*time.Hour))
	seedAlert(t, st, "usr1", "AAPL", 0.7, now.AddDate(0, 0, -2))
	seedAlert(t, st, "usr1", "MSFT", 0.8, now.Add(-3*time.Hour))

	require.NoError(t, st.SaveFeedback(ctx, &models.Feedback{
		AlertID: a1.ID, OwnerID: "usr1", Label: models.FeedbackRelevant, SubmittedAt: now,
	}))

	// One earnings date inside the horizon, one beyond it, one symbol
	// whose calendar lookup fails outright.
	provider.SetEarnings("AAPL", []models.EarningsEvent{
		{Symbol: "AAPL", ReportDate: now.AddDate(0, 0, 3)},
		{Symbol: "AAPL", ReportDate: now.AddDate(0, 0, 40)},
	})
	provider.FailSymbol("NVDA", fmt.Errorf("calendar unavailable"))

	svc := NewService(st, provider, notify.NewNoOpNotifier(), 7*24*time.Hour, zerolog.Nop())

	digest, err := svc.Generate(ctx, pf)
	require.NoError(t, err)

	assert.Equal(t, "usr1", digest.OwnerID)
	assert.Equal(t, 4, digest.ActiveAlerts)
	assert.Equal(t, 3, digest.CreatedToday, "two-day-old alert is not counted")
	assert.Equal(t, 3, digest.FeedbackPending, "one alert already has feedback")

	require.Len(t, digest.TopAlerts, 3)
	assert.Equal(t, 0.9, digest.TopAlerts[0].RelevanceScore)
	assert.Equal(t, 0.8, digest.TopAlerts[1].RelevanceScore)
	assert.Equal(t, 0.7, digest.TopAlerts[2].RelevanceScore)

	require.Len(t, digest.UpcomingEvents, 1, "far date and failed lookup are excluded")
	assert.Equal(t, "AAPL", digest.UpcomingEvents[0].Symbol)
}

func TestGenerateEmptyPortfolio(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, marketdata.NewStaticProvider(), notify.NewNoOpNotifier(), 0, zerolog.Nop())

	digest, err := svc.Generate(context.Background(), &models.Portfolio{OwnerID: "usr2"})
	require.NoError(t, err)
	assert.Zero(t, digest.ActiveAlerts)
	assert.Empty(t, digest.TopAlerts)
	assert.Empty(t, digest.UpcomingEvents)
}
