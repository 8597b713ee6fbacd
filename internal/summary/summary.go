// Package summary renders the daily digest of an owner's alert
// activity and upcoming earnings.
package summary

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/marketdata"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/notify"
	"investor-intelligence/internal/store"
	"investor-intelligence/pkg/utils"
)

// topAlertCount limits how many alerts appear in the digest body.
const topAlertCount = 3

// Service builds and dispatches daily summaries.
type Service struct {
	store    store.DataStore
	provider marketdata.Provider
	notifier notify.Notifier
	horizon  time.Duration
	logger   zerolog.Logger
}

// NewService creates a summary service. horizon bounds how far ahead
// earnings dates are included.
func NewService(st store.DataStore, provider marketdata.Provider, notifier notify.Notifier, horizon time.Duration, logger zerolog.Logger) *Service {
	if horizon <= 0 {
		horizon = 7 * 24 * time.Hour
	}
	return &Service{
		store:    st,
		provider: provider,
		notifier: notifier,
		horizon:  horizon,
		logger:   logger,
	}
}

// Generate assembles the digest for an owner. The portfolio supplies
// the symbols whose earnings calendars are checked; calendar lookup
// failures skip the symbol rather than failing the digest.
func (s *Service) Generate(ctx context.Context, pf *models.Portfolio) (*notify.DailySummary, error) {
	now := time.Now()

	active, err := s.store.GetActiveAlerts(ctx, pf.OwnerID)
	if err != nil {
		return nil, apperrors.Wrap(err, "loading active alerts")
	}

	createdToday, err := s.store.CountAlertsCreatedSince(ctx, pf.OwnerID, utils.LocalMidnight(now))
	if err != nil {
		return nil, apperrors.Wrap(err, "counting today's alerts")
	}

	pending := 0
	for _, a := range active {
		fb, err := s.store.GetFeedbackForAlert(ctx, a.ID)
		if err != nil {
			return nil, apperrors.Wrap(err, "checking feedback")
		}
		if fb == nil {
			pending++
		}
	}

	top := make([]models.Alert, len(active))
	copy(top, active)
	sort.Slice(top, func(i, j int) bool {
		return top[i].RelevanceScore > top[j].RelevanceScore
	})
	if len(top) > topAlertCount {
		top = top[:topAlertCount]
	}

	var upcoming []notify.EarningsLine
	for _, symbol := range pf.Symbols() {
		events, err := s.provider.EarningsCalendar(ctx, symbol)
		if err != nil {
			s.logger.Debug().Err(err).Str("symbol", symbol).Msg("Earnings lookup skipped in summary")
			continue
		}
		for _, ev := range events {
			if ev.ReportDate.Before(now) || ev.ReportDate.After(now.Add(s.horizon)) {
				continue
			}
			upcoming = append(upcoming, notify.EarningsLine{Symbol: symbol, Date: ev.ReportDate})
		}
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].Date.Before(upcoming[j].Date)
	})

	return &notify.DailySummary{
		Date:            now.Format("2006-01-02"),
		OwnerID:         pf.OwnerID,
		ActiveAlerts:    len(active),
		CreatedToday:    createdToday,
		TopAlerts:       top,
		UpcomingEvents:  upcoming,
		FeedbackPending: pending,
	}, nil
}

// Run generates and dispatches the digest for an owner.
func (s *Service) Run(ctx context.Context, pf *models.Portfolio) error {
	digest, err := s.Generate(ctx, pf)
	if err != nil {
		return err
	}
	if err := s.notifier.SendDailySummary(ctx, digest); err != nil {
		return err
	}
	s.logger.Info().
		Str("owner_id", pf.OwnerID).
		Int("active_alerts", digest.ActiveAlerts).
		Int("upcoming_earnings", len(digest.UpcomingEvents)).
		Msg("Daily summary dispatched")
	return nil
}
