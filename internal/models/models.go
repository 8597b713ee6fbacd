// Package models provides domain models for the alert pipeline.
package models

import (
	"time"
)

// EventType represents the kind of market signal a detector observed.
type EventType string

const (
	EventPriceMove EventType = "price_move"
	EventEarnings  EventType = "earnings"
	EventNews      EventType = "news"
)

// CandidateEvent is an unscored, unpersisted detection of a possibly
// relevant market change. It lives for exactly one scan cycle.
type CandidateEvent struct {
	Symbol        string
	Type          EventType
	ObservedValue float64
	DetectedAt    time.Time
	RawPayload    map[string]interface{}
}

// Quote represents a market quote for a single symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// EarningsEvent represents a scheduled earnings report date.
type EarningsEvent struct {
	Symbol     string
	ReportDate time.Time
	FiscalEnd  string
}

// Headline represents a news item with a pre-computed sentiment score.
type Headline struct {
	Symbol    string
	Text      string
	Sentiment float64 // [-1, 1]
	Timestamp time.Time
}

// MarketSnapshot holds the market observations gathered for one scan
// cycle. Detectors read it; nothing mutates it after assembly.
type MarketSnapshot struct {
	Quotes    map[string]Quote
	Earnings  map[string][]EarningsEvent
	Headlines map[string][]Headline
	TakenAt   time.Time
}

// NewMarketSnapshot creates an empty snapshot stamped at t.
func NewMarketSnapshot(t time.Time) *MarketSnapshot {
	return &MarketSnapshot{
		Quotes:    make(map[string]Quote),
		Earnings:  make(map[string][]EarningsEvent),
		Headlines: make(map[string][]Headline),
		TakenAt:   t,
	}
}
