package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
)

// MemoryStore is an in-memory DataStore with the same semantics as the
// SQLite store. It backs tests and throwaway runs; nothing survives
// the process.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]*models.Alert
	feedback map[string]*models.Feedback
	configs  map[string]*models.UserConfig
	states   map[int64]*models.ModelState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:   make(map[string]*models.Alert),
		feedback: make(map[string]*models.Feedback),
		configs:  make(map[string]*models.UserConfig),
		states:   make(map[int64]*models.ModelState),
	}
}

func copyAlert(a *models.Alert) *models.Alert {
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SaveAlert stores a copy of the alert. Like ExecContext on a real
// database, writes fail once the context is cancelled.
func (s *MemoryStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = copyAlert(alert)
	return nil
}

// GetAlertByID retrieves an alert, or ErrAlertNotFound.
func (s *MemoryStore) GetAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, apperrors.ErrAlertNotFound
	}
	return copyAlert(a), nil
}

// GetAlerts retrieves alerts matching the filter, most recent first.
func (s *MemoryStore) GetAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Alert
	for _, a := range s.alerts {
		if filter.OwnerID != "" && a.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Symbol != "" && a.Symbol != filter.Symbol {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.ActiveOnly && !a.Active {
			continue
		}
		if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, *copyAlert(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetActiveAlerts retrieves an owner's active alerts.
func (s *MemoryStore) GetActiveAlerts(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return s.GetAlerts(ctx, AlertFilter{OwnerID: ownerID, ActiveOnly: true})
}

// CountAlertsCreatedSince counts an owner's active alerts created at
// or after since.
func (s *MemoryStore) CountAlertsCreatedSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, a := range s.alerts {
		if a.OwnerID == ownerID && a.Active && !a.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// DeactivateAlert flips an alert's active flag off.
func (s *MemoryStore) DeactivateAlert(ctx context.Context, alertID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return apperrors.ErrAlertNotFound
	}
	a.Active = false
	return nil
}

// SetAlertMetadata sets one metadata entry on a stored alert.
func (s *MemoryStore) SetAlertMetadata(ctx context.Context, alertID, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return apperrors.ErrAlertNotFound
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	a.Metadata[key] = value
	return nil
}

// SaveFeedback stores the feedback, rejecting a second submission for
// the same alert.
func (s *MemoryStore) SaveFeedback(ctx context.Context, fb *models.Feedback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feedback[fb.AlertID]; ok {
		return apperrors.ErrDuplicateFeedback
	}
	c := *fb
	s.feedback[fb.AlertID] = &c
	return nil
}

// GetFeedbackForAlert retrieves the feedback for an alert, or nil when
// none has been recorded.
func (s *MemoryStore) GetFeedbackForAlert(ctx context.Context, alertID string) (*models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fb, ok := s.feedback[alertID]
	if !ok {
		return nil, nil
	}
	c := *fb
	return &c, nil
}

// GetLabeledCorpus joins alerts with their feedback for retraining.
func (s *MemoryStore) GetLabeledCorpus(ctx context.Context) ([]LabeledAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LabeledAlert
	for alertID, fb := range s.feedback {
		a, ok := s.alerts[alertID]
		if !ok {
			continue
		}
		out = append(out, LabeledAlert{Alert: *copyAlert(a), Feedback: *fb})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Feedback.SubmittedAt.Before(out[j].Feedback.SubmittedAt)
	})
	return out, nil
}

// GetFeedbackRates summarizes an owner's judgments per symbol and type.
func (s *MemoryStore) GetFeedbackRates(ctx context.Context, ownerID string) (FeedbackRates, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rates := FeedbackRates{
		BySymbol: make(map[string]Rate),
		ByType:   make(map[models.EventType]Rate),
	}
	for alertID, fb := range s.feedback {
		a, ok := s.alerts[alertID]
		if !ok || a.OwnerID != ownerID {
			continue
		}
		bySym := rates.BySymbol[a.Symbol]
		byType := rates.ByType[a.Type]
		bySym.Total++
		byType.Total++
		if fb.Label == models.FeedbackRelevant {
			bySym.Relevant++
			byType.Relevant++
		}
		rates.BySymbol[a.Symbol] = bySym
		rates.ByType[a.Type] = byType
	}
	return rates, nil
}

// SaveUserConfig stores an owner's preferences, replacing any previous.
func (s *MemoryStore) SaveUserConfig(ctx context.Context, cfg *models.UserConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.configs[cfg.OwnerID] = &c
	return nil
}

// GetUserConfig retrieves an owner's preferences.
func (s *MemoryStore) GetUserConfig(ctx context.Context, ownerID string) (*models.UserConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[ownerID]
	if !ok {
		return nil, apperrors.ErrOwnerNotFound
	}
	c := *cfg
	return &c, nil
}

// ListOwners returns every owner with stored preferences.
func (s *MemoryStore) ListOwners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make([]string, 0, len(s.configs))
	for owner := range s.configs {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

// SaveModelState stores a model version.
func (s *MemoryStore) SaveModelState(ctx context.Context, ms *models.ModelState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Versions are insert-only, matching the primary key constraint on
	// the SQLite table.
	if _, ok := s.states[ms.Version]; ok {
		return fmt.Errorf("model state version %d already exists", ms.Version)
	}
	s.states[ms.Version] = ms.Clone()
	return nil
}

// GetModelState retrieves one model version, or ErrModelNotFound.
func (s *MemoryStore) GetModelState(ctx context.Context, version int64) (*models.ModelState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.states[version]
	if !ok {
		return nil, apperrors.ErrModelNotFound
	}
	return ms.Clone(), nil
}

// GetLatestModelState retrieves the highest stored version.
func (s *MemoryStore) GetLatestModelState(ctx context.Context) (*models.ModelState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.ModelState
	for _, ms := range s.states {
		if latest == nil || ms.Version > latest.Version {
			latest = ms
		}
	}
	if latest == nil {
		return nil, apperrors.ErrModelNotFound
	}
	return latest.Clone(), nil
}

// PruneModelStates removes all but the newest keep versions. At least
// two versions are always kept so rollback stays possible.
func (s *MemoryStore) PruneModelStates(ctx context.Context, keep int) error {
	if keep < 2 {
		keep = 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) <= keep {
		return nil
	}
	versions := make([]int64, 0, len(s.states))
	for v := range s.states {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	for _, v := range versions[keep:] {
		delete(s.states, v)
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
