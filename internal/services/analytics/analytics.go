// Package analytics records delivery outcomes and user engagement.
//
// Each delivery writes one append-only fact. The fact's delivered bit is
// true if ANY channel succeeded, which deliberately diverges from the
// queue row's sent status (ALL channels): the row answers "did the whole
// fan-out work", the fact answers "was the user reached at all".
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

var ErrUnknownAction = errors.New("unknown engagement action")

// Engagement scores per tracked action. Clicks dominate opens; a dismiss
// still counts as a weak signal that the notification was seen.
const (
	scoreOpened    = 0.5
	scoreClicked   = 1.0
	scoreDismissed = 0.1
)

type Service struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// RecordDelivery writes the delivery fact for one processed notification.
// Failures are logged, never propagated: a lost analytics row must not
// fail a delivery that already happened.
func (s *Service) RecordDelivery(ctx context.Context, n *notify.Notification, results []notify.DeliveryResult) {
	delivered := false
	for _, r := range results {
		if r.Success {
			delivered = true
			break
		}
	}
	_, err := s.store.InsertEngagement(ctx, &notify.EngagementFact{
		UserID:         n.UserID,
		NotificationID: n.ID,
		TemplateID:     n.TemplateID,
		Delivered:      delivered,
		SentAt:         time.Now(),
		Results:        results,
	})
	if err != nil {
		s.log.Error("analytics record failed",
			logx.Int64("notification", n.ID),
			logx.Int64("user", n.UserID),
			logx.Err(err))
	}
}

// TrackEngagement folds a user interaction into the notification's fact.
// Recognized actions are "opened", "clicked" and "dismissed".
func (s *Service) TrackEngagement(ctx context.Context, userID, notificationID int64, action string) error {
	var (
		opened, clicked, dismissed bool
		score                      float64
	)
	switch action {
	case "opened":
		opened, score = true, scoreOpened
	case "clicked":
		clicked, score = true, scoreClicked
	case "dismissed":
		dismissed, score = true, scoreDismissed
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	ok, err := s.store.SetEngagementFlags(ctx, userID, notificationID, opened, clicked, dismissed, score)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	s.log.Debug("engagement tracked",
		logx.Int64("user", userID),
		logx.Int64("notification", notificationID),
		logx.String("action", action))
	return nil
}

// ChannelStats is delivery performance for one channel.
type ChannelStats struct {
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// EngagementReport is the user-facing analytics rollup: overall totals and
// rates plus per-channel delivery performance.
type EngagementReport struct {
	storage.EngagementSummary
	Channels map[string]ChannelStats `json:"channels"`
}

// Report aggregates the user's engagement over the trailing window.
func (s *Service) Report(ctx context.Context, userID int64, window time.Duration) (*EngagementReport, error) {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	since := time.Now().Add(-window)
	sum, err := s.store.EngagementSummary(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	facts, err := s.store.ListEngagementFacts(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	channels := map[string]ChannelStats{}
	for _, f := range facts {
		for _, r := range f.Results {
			cs := channels[string(r.Channel)]
			cs.Attempts++
			if r.Success {
				cs.Successes++
			}
			channels[string(r.Channel)] = cs
		}
	}
	for ch, cs := range channels {
		cs.SuccessRate = float64(cs.Successes) / float64(cs.Attempts)
		channels[ch] = cs
	}
	return &EngagementReport{EngagementSummary: *sum, Channels: channels}, nil
}
