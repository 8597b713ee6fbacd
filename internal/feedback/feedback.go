// Package feedback records user judgments on alerts and summarizes
// them into the rates the scorer and learner consume.
package feedback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/store"
)

// Service validates and persists feedback. Feedback is immutable: one
// record per alert, rejected on resubmission rather than overwritten,
// so the training corpus never shifts under the learner.
type Service struct {
	store  store.DataStore
	logger zerolog.Logger
}

// NewService creates a feedback service.
func NewService(st store.DataStore, logger zerolog.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// Record stores a judgment on an alert. The alert must exist and belong
// to ownerID; a second submission for the same alert fails with
// ErrDuplicateFeedback and leaves the original untouched.
func (s *Service) Record(ctx context.Context, ownerID, alertID string, label models.FeedbackLabel) (*models.Feedback, error) {
	if !label.Valid() {
		return nil, apperrors.NewValidationError("label", string(label), "must be relevant or not_relevant")
	}
	if ownerID == "" {
		return nil, apperrors.NewValidationError("owner_id", ownerID, "must not be empty")
	}

	alert, err := s.store.GetAlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.OwnerID != ownerID {
		return nil, apperrors.NewValidationError("alert_id", alertID, "alert belongs to a different owner")
	}

	fb := &models.Feedback{
		AlertID:     alertID,
		OwnerID:     ownerID,
		Label:       label,
		SubmittedAt: time.Now(),
	}
	if err := s.store.SaveFeedback(ctx, fb); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("alert_id", alertID).
		Str("owner_id", ownerID).
		Str("label", string(label)).
		Msg("Feedback recorded")
	return fb, nil
}

// ForAlert returns the judgment recorded for an alert, or nil when
// none has been recorded yet.
func (s *Service) ForAlert(ctx context.Context, alertID string) (*models.Feedback, error) {
	return s.store.GetFeedbackForAlert(ctx, alertID)
}

// Rates returns per-symbol and per-type relevance fractions for an
// owner. Symbols or types with no judgments fall back to the neutral
// prior inside Rate.Fraction, so sparse history never zeroes a score.
func (s *Service) Rates(ctx context.Context, ownerID string) (store.FeedbackRates, error) {
	rates, err := s.store.GetFeedbackRates(ctx, ownerID)
	if err != nil {
		return store.FeedbackRates{}, apperrors.Wrap(err, "loading feedback rates")
	}
	return rates, nil
}
