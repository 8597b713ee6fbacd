package models

import "time"

// FeedbackLabel is the user's judgment on an alert.
type FeedbackLabel string

const (
	FeedbackRelevant    FeedbackLabel = "relevant"
	FeedbackNotRelevant FeedbackLabel = "not_relevant"
)

// Valid reports whether the label is one of the recognized values.
func (l FeedbackLabel) Valid() bool {
	return l == FeedbackRelevant || l == FeedbackNotRelevant
}

// Feedback is an immutable user judgment on a past alert. At most one
// feedback record may exist per alert.
type Feedback struct {
	AlertID     string
	OwnerID     string
	Label       FeedbackLabel
	SubmittedAt time.Time
}

// UserConfig holds per-owner monitoring preferences. Read by every
// pipeline stage; mutated only by explicit user action.
type UserConfig struct {
	OwnerID              string
	MinPriceChangePct    float64
	MaxAlertsPerDay      int
	RiskProfile          string
	NotificationsEnabled bool
}
