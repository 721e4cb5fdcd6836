package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/services/dispatch"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func New(cfg Config, store storage.Store, dispatcher *dispatch.Dispatcher, bus eventbus.Bus, recorder Recorder, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		recorder:   recorder,
		log:        log,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	s.cfg = cfg
}

// Enqueue persists a new queued row and announces it on the bus.
func (s *Service) Enqueue(ctx context.Context, n *notify.Notification) (int64, error) {
	if n.UserID == 0 {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(n.Channels) == 0 {
		return 0, fmt.Errorf("%w: no channels to deliver on", ErrInvalidInput)
	}
	if strings.TrimSpace(n.RequestID) == "" {
		return 0, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	n.Status = notify.StatusQueued
	id, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		return 0, err
	}
	n.ID = id
	s.publish(eventbus.EventQueued, id, n.UserID)
	s.log.Debug("notification enqueued",
		logx.Int64("id", id),
		logx.Int64("user", n.UserID),
		logx.String("template", n.TemplateName),
		logx.String("method", string(n.Method)))
	return id, nil
}

// Cancel stops a still-queued notification. Rows already picked up or
// delivered stay untouched.
func (s *Service) Cancel(ctx context.Context, userID, id int64) error {
	ok, err := s.store.CancelNotification(ctx, userID, id, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return s.stateError(ctx, userID, id)
	}
	s.publish(eventbus.EventCancelled, id, userID)
	s.log.Info("notification cancelled", logx.Int64("id", id), logx.Int64("user", userID))
	return nil
}

// MarkRead moves a sent notification to read.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	ok, err := s.store.MarkNotificationRead(ctx, userID, id, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return s.stateError(ctx, userID, id)
	}
	return nil
}

// Dismiss retires a sent or read notification from the user's views.
func (s *Service) Dismiss(ctx context.Context, userID, id int64) error {
	ok, err := s.store.DismissNotification(ctx, userID, id, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return s.stateError(ctx, userID, id)
	}
	return nil
}

// Snooze retires the original row and enqueues a fresh copy scheduled at
// until. The copy goes through normal due processing, so it is delivered
// again rather than just resurfacing.
func (s *Service) Snooze(ctx context.Context, userID, id int64, until time.Time) (int64, error) {
	if !until.After(time.Now()) {
		return 0, fmt.Errorf("%w: snooze time must be in the future", ErrInvalidInput)
	}
	orig, err := s.store.GetNotification(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if orig.UserID != userID {
		return 0, ErrNotFound
	}

	ok, err := s.store.SnoozeNotification(ctx, userID, id, until)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: only sent or read notifications can be snoozed", ErrWrongState)
	}

	repeat := &notify.Notification{
		RequestID:    orig.RequestID,
		UserID:       orig.UserID,
		TemplateID:   orig.TemplateID,
		TemplateName: orig.TemplateName,
		Priority:     orig.Priority,
		Category:     orig.Category,
		Channels:     orig.Channels,
		Title:        orig.Title,
		Body:         orig.Body,
		Payload:      orig.Payload,
		Method:       notify.DeliverScheduled,
		ScheduledFor: &until,
	}
	newID, err := s.Enqueue(ctx, repeat)
	if err != nil {
		return 0, err
	}
	s.log.Info("notification snoozed",
		logx.Int64("id", id),
		logx.Int64("repeat", newID),
		logx.Int64("user", userID),
		logx.Time("until", until))
	return newID, nil
}

func (s *Service) Get(ctx context.Context, userID, id int64) (*notify.Notification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if n.UserID != userID {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *Service) ListPending(ctx context.Context, userID int64, limit int) ([]*notify.Notification, error) {
	return s.store.ListPendingNotifications(ctx, userID, limit)
}

func (s *Service) History(ctx context.Context, userID int64, limit, offset int) ([]*notify.Notification, error) {
	return s.store.ListNotificationHistory(ctx, userID, limit, offset)
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	ok, err := s.store.DeleteNotification(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ClearAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.ClearNotifications(ctx, userID)
	if err == nil && n > 0 {
		s.log.Info("notifications cleared", logx.Int64("user", userID), logx.Int64("count", n))
	}
	return n, err
}

// stateError distinguishes a missing row from one in the wrong state so
// callers get an honest 404 vs 409 split.
func (s *Service) stateError(ctx context.Context, userID, id int64) error {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil || n.UserID != userID {
		return ErrNotFound
	}
	return fmt.Errorf("%w: status is %s", ErrWrongState, n.Status)
}

func (s *Service) publish(typ eventbus.Type, id, userID int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]int64{
		"id":   id,
		"user": userID,
	}})
}
