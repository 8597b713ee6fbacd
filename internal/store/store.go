// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"investor-intelligence/internal/models"
)

// DataStore defines the interface for data persistence. All alert,
// feedback and user-config rows are keyed by owner; model states are
// keyed by version. Data survives process restart.
type DataStore interface {
	// Alerts
	SaveAlert(ctx context.Context, alert *models.Alert) error
	GetAlertByID(ctx context.Context, id string) (*models.Alert, error)
	GetAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	GetActiveAlerts(ctx context.Context, ownerID string) ([]models.Alert, error)
	CountAlertsCreatedSince(ctx context.Context, ownerID string, since time.Time) (int, error)
	DeactivateAlert(ctx context.Context, alertID string) error
	SetAlertMetadata(ctx context.Context, alertID, key string, value interface{}) error

	// Feedback
	SaveFeedback(ctx context.Context, fb *models.Feedback) error
	GetFeedbackForAlert(ctx context.Context, alertID string) (*models.Feedback, error)
	GetLabeledCorpus(ctx context.Context) ([]LabeledAlert, error)
	GetFeedbackRates(ctx context.Context, ownerID string) (FeedbackRates, error)

	// User config
	SaveUserConfig(ctx context.Context, cfg *models.UserConfig) error
	GetUserConfig(ctx context.Context, ownerID string) (*models.UserConfig, error)
	ListOwners(ctx context.Context) ([]string, error)

	// Model states
	SaveModelState(ctx context.Context, ms *models.ModelState) error
	GetModelState(ctx context.Context, version int64) (*models.ModelState, error)
	GetLatestModelState(ctx context.Context) (*models.ModelState, error)
	PruneModelStates(ctx context.Context, keep int) error

	// Lifecycle
	Close() error
}

// AlertFilter represents filters for querying alerts.
type AlertFilter struct {
	OwnerID    string
	Symbol     string
	Type       models.EventType
	ActiveOnly bool
	Since      time.Time
	Limit      int
}

// LabeledAlert pairs an alert with its user feedback for retraining.
type LabeledAlert struct {
	Alert    models.Alert
	Feedback models.Feedback
}

// FeedbackRates summarizes historical relevance judgments per symbol
// and per event type, used by the scorer's feature vector.
type FeedbackRates struct {
	BySymbol map[string]Rate
	ByType   map[models.EventType]Rate
}

// Rate counts relevance judgments.
type Rate struct {
	Relevant int
	Total    int
}

// Fraction returns the relevant fraction, or 0.5 when no judgments
// exist (a neutral prior keeps untested symbols from being buried).
func (r Rate) Fraction() float64 {
	if r.Total == 0 {
		return 0.5
	}
	return float64(r.Relevant) / float64(r.Total)
}
