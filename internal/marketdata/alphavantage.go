package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/logging"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/resilience"
	"investor-intelligence/pkg/utils"
)

const (
	defaultBaseURL = "https://www.alphavantage.co/query"

	// Free-tier request budget per rolling day.
	dailyRequestLimit = 25

	// Short-horizon pacing: 5 calls per minute.
	requestsPerSecond = 5.0 / 60.0
	requestBurst      = 5

	quoteCacheTTL    = 5 * time.Minute
	earningsCacheTTL = 12 * time.Hour
	newsCacheTTL     = 30 * time.Minute
)

// AlphaVantageClient implements Provider against the Alpha Vantage API.
// It budgets requests against the free-tier daily limit, caches
// responses, and trips a circuit breaker on sustained failures so one
// dead source cannot stall every scan cycle.
type AlphaVantageClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	limiter    *resilience.RateLimiter
	logger     zerolog.Logger

	mu           sync.Mutex
	requestCount int
	windowStart  time.Time
	cache        map[string]cacheEntry
}

type cacheEntry struct {
	data      interface{}
	expiresAt time.Time
}

// NewAlphaVantageClient creates a new client.
func NewAlphaVantageClient(apiKey string, logger zerolog.Logger) *AlphaVantageClient {
	return &AlphaVantageClient{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		breaker:     resilience.NewCircuitBreaker("alphavantage", resilience.DefaultCircuitBreakerConfig()),
		limiter:     resilience.NewRateLimiter(requestsPerSecond, requestBurst),
		logger:      logger,
		windowStart: time.Now(),
		cache:       make(map[string]cacheEntry),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *AlphaVantageClient) SetBaseURL(u string) {
	c.baseURL = u
}

// RemainingRequests returns the request budget left in the current window.
func (c *AlphaVantageClient) RemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollWindowLocked()
	return dailyRequestLimit - c.requestCount
}

func (c *AlphaVantageClient) rollWindowLocked() {
	if time.Since(c.windowStart) >= 24*time.Hour {
		c.windowStart = time.Now()
		c.requestCount = 0
	}
}

func (c *AlphaVantageClient) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollWindowLocked()
	if c.requestCount >= dailyRequestLimit {
		return apperrors.ErrRateLimited
	}
	c.requestCount++
	return nil
}

func (c *AlphaVantageClient) getCached(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

func (c *AlphaVantageClient) setCached(key string, data interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

// get performs one budgeted, breaker-guarded HTTP request and returns
// the raw body.
func (c *AlphaVantageClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("apikey", c.apiKey)
	endpoint := c.baseURL + "?" + params.Encode()

	var body []byte
	start := time.Now()
	err := c.breaker.Execute(ctx, func() error {
		return utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				return apperrors.ErrRateLimited
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			return err
		})
	})
	logging.LogAPICall(c.logger, http.MethodGet, params.Get("function"), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	// Alpha Vantage reports throttling inside a 200 body.
	if strings.Contains(string(body), "higher API call volume") {
		return nil, apperrors.ErrRateLimited
	}

	return body, nil
}

// Price implements Provider using the GLOBAL_QUOTE function.
func (c *AlphaVantageClient) Price(ctx context.Context, symbol string) (models.Quote, error) {
	cacheKey := "quote:" + symbol
	if cached, ok := c.getCached(cacheKey); ok {
		return cached.(models.Quote), nil
	}

	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	body, err := c.get(ctx, params)
	if err != nil {
		return models.Quote{}, apperrors.NewDataError("quote", symbol, "fetch failed", err)
	}

	var payload struct {
		GlobalQuote struct {
			Symbol        string `json:"01. symbol"`
			Price         string `json:"05. price"`
			LatestDay     string `json:"07. latest trading day"`
		} `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Quote{}, apperrors.NewDataError("quote", symbol, "malformed response", err)
	}
	if payload.GlobalQuote.Price == "" {
		return models.Quote{}, apperrors.NewDataError("quote", symbol, "empty quote", nil)
	}

	price, err := strconv.ParseFloat(payload.GlobalQuote.Price, 64)
	if err != nil {
		return models.Quote{}, apperrors.NewDataError("quote", symbol, "unparseable price", err)
	}

	quote := models.Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
	}
	c.setCached(cacheKey, quote, quoteCacheTTL)
	return quote, nil
}

// earningsRow mirrors one line of the EARNINGS_CALENDAR CSV export.
type earningsRow struct {
	Symbol     string `csv:"symbol"`
	Name       string `csv:"name"`
	ReportDate string `csv:"reportDate"`
	FiscalEnd  string `csv:"fiscalDateEnding"`
	Estimate   string `csv:"estimate"`
	Currency   string `csv:"currency"`
}

// EarningsCalendar implements Provider using the EARNINGS_CALENDAR
// function, which responds with CSV rather than JSON.
func (c *AlphaVantageClient) EarningsCalendar(ctx context.Context, symbol string) ([]models.EarningsEvent, error) {
	cacheKey := "earnings:" + symbol
	if cached, ok := c.getCached(cacheKey); ok {
		return cached.([]models.EarningsEvent), nil
	}

	params := url.Values{}
	params.Set("function", "EARNINGS_CALENDAR")
	params.Set("symbol", symbol)
	params.Set("horizon", "3month")

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, apperrors.NewDataError("earnings", symbol, "fetch failed", err)
	}

	var rows []earningsRow
	if err := gocsv.UnmarshalBytes(body, &rows); err != nil {
		return nil, apperrors.NewDataError("earnings", symbol, "malformed calendar", err)
	}

	var events []models.EarningsEvent
	for _, row := range rows {
		if !strings.EqualFold(row.Symbol, symbol) {
			continue
		}
		reportDate, err := time.Parse("2006-01-02", row.ReportDate)
		if err != nil {
			continue // skip rows with unparseable dates
		}
		events = append(events, models.EarningsEvent{
			Symbol:     symbol,
			ReportDate: reportDate,
			FiscalEnd:  row.FiscalEnd,
		})
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ReportDate.Before(events[j].ReportDate)
	})

	c.setCached(cacheKey, events, earningsCacheTTL)
	return events, nil
}

// Headlines implements Provider using the NEWS_SENTIMENT function.
func (c *AlphaVantageClient) Headlines(ctx context.Context, symbol string, since time.Time) ([]models.Headline, error) {
	cacheKey := "news:" + symbol
	if cached, ok := c.getCached(cacheKey); ok {
		return filterSince(cached.([]models.Headline), since), nil
	}

	params := url.Values{}
	params.Set("function", "NEWS_SENTIMENT")
	params.Set("tickers", symbol)
	params.Set("sort", "LATEST")

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, apperrors.NewDataError("news", symbol, "fetch failed", err)
	}

	var payload struct {
		Feed []struct {
			Title         string `json:"title"`
			TimePublished string `json:"time_published"`
			TickerSentiment []struct {
				Ticker string `json:"ticker"`
				Score  string `json:"ticker_sentiment_score"`
			} `json:"ticker_sentiment"`
		} `json:"feed"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.NewDataError("news", symbol, "malformed response", err)
	}

	var headlines []models.Headline
	for _, item := range payload.Feed {
		ts, err := time.Parse("20060102T150405", item.TimePublished)
		if err != nil {
			continue
		}
		var sentiment float64
		for _, t := range item.TickerSentiment {
			if strings.EqualFold(t.Ticker, symbol) {
				sentiment, _ = strconv.ParseFloat(t.Score, 64)
				break
			}
		}
		headlines = append(headlines, models.Headline{
			Symbol:    symbol,
			Text:      item.Title,
			Sentiment: sentiment,
			Timestamp: ts,
		})
	}

	c.setCached(cacheKey, headlines, newsCacheTTL)
	return filterSince(headlines, since), nil
}

func filterSince(headlines []models.Headline, since time.Time) []models.Headline {
	var out []models.Headline
	for _, h := range headlines {
		if !h.Timestamp.Before(since) {
			out = append(out, h)
		}
	}
	return out
}
