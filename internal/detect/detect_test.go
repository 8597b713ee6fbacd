package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/marketdata"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/resilience"
)

func testPortfolio(symbols ...string) *models.Portfolio {
	p := &models.Portfolio{OwnerID: "usr1", Name: "Main", SyncedAt: time.Now()}
	for _, sym := range symbols {
		p.Holdings = append(p.Holdings, models.Holding{
			Symbol:        sym,
			Quantity:      10,
			PurchasePrice: 150.0,
			PurchaseDate:  time.Now().AddDate(0, -6, 0),
		})
	}
	return p
}

func snapshotWithQuote(symbol string, price float64) *models.MarketSnapshot {
	snap := models.NewMarketSnapshot(time.Now())
	snap.Quotes[symbol] = models.Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}
	return snap
}

func TestPriceMoveFiresAboveThreshold(t *testing.T) {
	d := NewPriceMoveDetector()
	p := testPortfolio("AAPL")
	// 150 -> 160.05 is +6.7%.
	snap := snapshotWithQuote("AAPL", 160.05)

	events, err := d.Detect(context.Background(), p, snap, Params{MinPriceChangePct: 5.0})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPriceMove, events[0].Type)
	assert.InDelta(t, 6.7, events[0].ObservedValue, 0.01)
}

func TestPriceMoveThresholdIsInclusive(t *testing.T) {
	d := NewPriceMoveDetector()
	p := testPortfolio("AAPL")
	// Exactly +5.0%.
	snap := snapshotWithQuote("AAPL", 157.5)

	events, err := d.Detect(context.Background(), p, snap, Params{MinPriceChangePct: 5.0})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 5.0, events[0].ObservedValue, 1e-9)
}

func TestPriceMoveBelowThresholdSilent(t *testing.T) {
	d := NewPriceMoveDetector()
	p := testPortfolio("AAPL")
	snap := snapshotWithQuote("AAPL", 154.0)

	events, err := d.Detect(context.Background(), p, snap, Params{MinPriceChangePct: 5.0})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPriceMoveNegativeDirectionFires(t *testing.T) {
	d := NewPriceMoveDetector()
	p := testPortfolio("AAPL")
	snap := snapshotWithQuote("AAPL", 140.0)

	events, err := d.Detect(context.Background(), p, snap, Params{MinPriceChangePct: 5.0})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Less(t, events[0].ObservedValue, 0.0)
}

func TestPriceMoveUsesReferencePriceOverPurchase(t *testing.T) {
	d := NewPriceMoveDetector()
	p := testPortfolio("AAPL")
	snap := snapshotWithQuote("AAPL", 160.0)

	// Last alert was at 158; a 1.3% move since then stays silent even
	// though the move from purchase price is 6.7%.
	params := Params{
		MinPriceChangePct: 5.0,
		ReferencePrices:   map[string]float64{"AAPL": 158.0},
	}
	events, err := d.Detect(context.Background(), p, snap, params)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEarningsFiresInsideLookahead(t *testing.T) {
	d := NewEarningsDetector()
	p := testPortfolio("AAPL")
	snap := models.NewMarketSnapshot(time.Now())
	report := time.Now().AddDate(0, 0, 3)
	snap.Earnings["AAPL"] = []models.EarningsEvent{{Symbol: "AAPL", ReportDate: report}}

	events, err := d.Detect(context.Background(), p, snap, Params{EarningsLookahead: 7})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEarnings, events[0].Type)
}

func TestEarningsOutsideLookaheadSilent(t *testing.T) {
	d := NewEarningsDetector()
	p := testPortfolio("AAPL")
	snap := models.NewMarketSnapshot(time.Now())
	snap.Earnings["AAPL"] = []models.EarningsEvent{{Symbol: "AAPL", ReportDate: time.Now().AddDate(0, 0, 12)}}

	events, err := d.Detect(context.Background(), p, snap, Params{EarningsLookahead: 7})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEarningsFiresOncePerReportDate(t *testing.T) {
	d := NewEarningsDetector()
	p := testPortfolio("AAPL")
	snap := models.NewMarketSnapshot(time.Now())
	report := time.Now().AddDate(0, 0, 3)
	snap.Earnings["AAPL"] = []models.EarningsEvent{{Symbol: "AAPL", ReportDate: report}}

	params := Params{
		EarningsLookahead: 7,
		AlertedEarnings:   map[string]bool{EarningsKey("AAPL", report): true},
	}
	events, err := d.Detect(context.Background(), p, snap, params)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewsFiresOnStrongSentimentEitherSign(t *testing.T) {
	d := NewNewsDetector()
	p := testPortfolio("AAPL")
	snap := models.NewMarketSnapshot(time.Now())
	snap.Headlines["AAPL"] = []models.Headline{
		{Symbol: "AAPL", Text: "supplier recall", Sentiment: -0.62, Timestamp: time.Now()},
		{Symbol: "AAPL", Text: "record quarter", Sentiment: 0.55, Timestamp: time.Now()},
		{Symbol: "AAPL", Text: "routine filing", Sentiment: 0.05, Timestamp: time.Now()},
	}

	events, err := d.Detect(context.Background(), p, snap, Params{SentimentThreshold: 0.35})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRunAllIsolatesDetectorFailure(t *testing.T) {
	p := testPortfolio("AAPL")
	snap := snapshotWithQuote("AAPL", 170.0)

	failing := &stubDetector{name: "stub", err: errors.New("source exploded")}
	detectors := []Detector{NewPriceMoveDetector(), failing}

	res := RunAll(context.Background(), detectors, p, snap, Params{MinPriceChangePct: 5.0})
	assert.Len(t, res.Events, 1)
	require.Contains(t, res.SoftFailures, "stub")
}

type stubDetector struct {
	name string
	err  error
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(ctx context.Context, p *models.Portfolio, snap *models.MarketSnapshot, params Params) ([]models.CandidateEvent, error) {
	return nil, s.err
}

func TestCollectSkipsFailingSymbolOnly(t *testing.T) {
	provider := marketdata.NewStaticProvider()
	provider.SetQuote(models.Quote{Symbol: "AAPL", Price: 160.0, Timestamp: time.Now()})
	provider.SetQuote(models.Quote{Symbol: "MSFT", Price: 410.0, Timestamp: time.Now()})
	provider.FailSymbol("GOOGL", apperrors.ErrTimeout)

	health := resilience.NewHealthTracker(16)
	c := NewCollector(provider, health, time.Second, zerolog.Nop())

	p := testPortfolio("AAPL", "MSFT", "GOOGL")
	snap := c.Collect(context.Background(), p, time.Now().Add(-24*time.Hour))

	assert.Contains(t, snap.Quotes, "AAPL")
	assert.Contains(t, snap.Quotes, "MSFT")
	assert.NotContains(t, snap.Quotes, "GOOGL")
	assert.Greater(t, health.FailureCount("price"), int64(0))
}
