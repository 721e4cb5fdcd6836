package queue

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// ProcessDue selects the currently due batch and delivers it with a
// worker pool. Every item is isolated: a failure or panic in one leaves
// the rest of the batch running.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) (ProcessStats, error) {
	s.mu.Lock()
	batch := s.cfg.BatchSize
	workers := s.cfg.Workers
	s.mu.Unlock()

	due, err := s.store.SelectDue(ctx, now, batch)
	if err != nil {
		return ProcessStats{}, err
	}
	stats := ProcessStats{Selected: len(due)}
	if len(due) == 0 {
		return stats, nil
	}
	if workers > len(due) {
		workers = len(due)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan *notify.Notification)
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for n := range jobs {
				claimed, sent := s.processSafe(ctx, n, now)
				mu.Lock()
				if claimed {
					stats.Claimed++
					if sent {
						stats.Sent++
					} else {
						stats.Failed++
					}
				}
				mu.Unlock()
			}
		}()
	}
	for _, n := range due {
		select {
		case jobs <- n:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return stats, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	if stats.Claimed > 0 {
		s.log.Info("batch processed",
			logx.Int("selected", stats.Selected),
			logx.Int("claimed", stats.Claimed),
			logx.Int("sent", stats.Sent),
			logx.Int("failed", stats.Failed))
	}
	return stats, nil
}

func (s *Service) processSafe(ctx context.Context, n *notify.Notification, now time.Time) (claimed, sent bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while processing notification",
				logx.Int64("id", n.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			if claimed {
				// Leave the row failed, not stuck in processing.
				_ = s.store.FinishNotification(ctx, n.ID, notify.StatusFailed, time.Now())
				sent = false
			}
		}
	}()
	return s.ProcessOne(ctx, n, now)
}

// ProcessByID loads and processes one specific row, ignoring its
// schedule. The row still has to be in queued state to be claimed.
func (s *Service) ProcessByID(ctx context.Context, id int64, now time.Time) (claimed, sent bool, err error) {
	n, err := s.store.GetNotification(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, false, ErrNotFound
	}
	if err != nil {
		return false, false, err
	}
	claimed, sent = s.processSafe(ctx, n, now)
	return claimed, sent, nil
}

// ProcessOne claims and delivers a single queued notification.
// claimed=false means another run owns the row and nothing was done.
// sent reports the final row status: true only when every channel
// succeeded.
func (s *Service) ProcessOne(ctx context.Context, n *notify.Notification, now time.Time) (claimed, sent bool) {
	ok, err := s.store.ClaimNotification(ctx, n.ID, now)
	if err != nil {
		s.log.Error("claim failed", logx.Int64("id", n.ID), logx.Err(err))
		return false, false
	}
	if !ok {
		return false, false
	}

	results := s.dispatcher.Dispatch(ctx, n)

	allOK := len(results) > 0
	anyOK := false
	for _, r := range results {
		if r.Success {
			anyOK = true
		} else {
			allOK = false
		}
	}

	final := notify.StatusFailed
	event := eventbus.EventFailed
	if allOK {
		final = notify.StatusSent
		event = eventbus.EventSent
	}
	if err := s.store.FinishNotification(ctx, n.ID, final, time.Now()); err != nil {
		s.log.Error("finish failed",
			logx.Int64("id", n.ID),
			logx.String("status", string(final)),
			logx.Err(err))
	}
	s.publish(event, n.ID, n.UserID)

	if s.recorder != nil {
		s.recorder.RecordDelivery(ctx, n, results)
	}

	if allOK {
		s.log.Debug("notification sent",
			logx.Int64("id", n.ID),
			logx.Int64("user", n.UserID),
			logx.Int("channels", len(results)))
	} else {
		s.log.Warn("notification failed",
			logx.Int64("id", n.ID),
			logx.Int64("user", n.UserID),
			logx.Bool("partial", anyOK))
	}
	return true, allOK
}
