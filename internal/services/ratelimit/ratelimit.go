// Package ratelimit enforces per-user notification caps over rolling
// one-hour and 24-hour windows.
//
// The windows are counted from the durable queue, so restarting the
// daemon cannot reset anyone's budget. Cancelled rows do not count;
// everything else does, including failures, because the user was still
// targeted.
package ratelimit

import (
	"context"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type Limiter struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Limiter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Limiter{store: store, log: log}
}

// Allow reports whether one more notification fits inside both of the
// user's windows at now. A limit of zero blocks everything; a negative
// limit never triggers.
func (l *Limiter) Allow(ctx context.Context, p *notify.Preference, now time.Time) (bool, error) {
	if p.MaxPerHour >= 0 {
		n, err := l.store.CountRecentNotifications(ctx, p.UserID, now.Add(-time.Hour))
		if err != nil {
			return false, err
		}
		if n >= p.MaxPerHour {
			l.log.Debug("hourly rate limit hit",
				logx.Int64("user", p.UserID),
				logx.Int("count", n),
				logx.Int("max", p.MaxPerHour))
			return false, nil
		}
	}
	if p.MaxPerDay >= 0 {
		n, err := l.store.CountRecentNotifications(ctx, p.UserID, now.Add(-24*time.Hour))
		if err != nil {
			return false, err
		}
		if n >= p.MaxPerDay {
			l.log.Debug("daily rate limit hit",
				logx.Int64("user", p.UserID),
				logx.Int("count", n),
				logx.Int("max", p.MaxPerDay))
			return false, nil
		}
	}
	return true, nil
}
