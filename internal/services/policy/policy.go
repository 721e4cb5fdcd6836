package policy

import (
	"time"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// Decision is the delivery plan for one notification.
type Decision struct {
	Method       notify.DeliveryMethod
	ScheduledFor *time.Time // set for scheduled and smart_timing
	OptimalTime  *time.Time // set for smart_timing only
}

type Engine struct {
	log logx.Logger
}

func New(log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{log: log}
}

// CategoryAllowed reports whether the user accepts the category.
// Emergency notifications cannot be opted out of.
func (e *Engine) CategoryAllowed(p *notify.Preference, c notify.Category) bool {
	switch c {
	case notify.CategorySystem:
		return p.SystemAlerts
	case notify.CategoryGame:
		return p.GameNotifications
	case notify.CategoryRiskAlert:
		return p.RiskAlerts
	case notify.CategorySocial:
		return p.SocialNotifications
	case notify.CategoryTransaction:
		return p.TransactionAlerts
	case notify.CategoryEmergency:
		return true
	}
	return false
}

// ResolveChannels intersects the template's channels with the user's
// enabled ones, keeping template order. Critical priority forces in-app
// into the set so the user always has a record of it.
func (e *Engine) ResolveChannels(p *notify.Preference, tpl []notify.Channel, priority notify.Priority) []notify.Channel {
	out := make([]notify.Channel, 0, len(tpl))
	seen := map[notify.Channel]bool{}
	for _, c := range tpl {
		if seen[c] || !p.ChannelEnabled(c) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if priority == notify.PriorityCritical && !seen[notify.ChannelInApp] {
		out = append(out, notify.ChannelInApp)
	}
	return out
}

// Decide picks the delivery method for a notification created at now.
func (e *Engine) Decide(p *notify.Preference, profile *notify.BehaviorProfile, priority notify.Priority, now time.Time) Decision {
	if priority.Urgent() {
		return Decision{Method: notify.DeliverImmediate}
	}

	loc := userLocation(p)
	local := now.In(loc)

	if p.QuietHoursEnabled && inQuietHours(local, p.QuietHoursStart, p.QuietHoursEnd) {
		end := nextClock(local, p.QuietHoursEnd)
		e.log.Debug("deferred past quiet hours",
			logx.Int64("user", p.UserID),
			logx.Time("until", end))
		return Decision{Method: notify.DeliverScheduled, ScheduledFor: &end}
	}

	if profile != nil && len(profile.OptimalHours) > 0 {
		if h, ok := nextOptimalHour(profile.OptimalHours, local.Hour()); ok {
			at := time.Date(local.Year(), local.Month(), local.Day(), h, 0, 0, 0, loc)
			e.log.Debug("smart timing applied",
				logx.Int64("user", p.UserID),
				logx.Time("at", at))
			return Decision{Method: notify.DeliverSmartTiming, ScheduledFor: &at, OptimalTime: &at}
		}
	}

	return Decision{Method: notify.DeliverImmediate}
}

func userLocation(p *notify.Preference) *time.Location {
	if p.QuietHoursTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.QuietHoursTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// inQuietHours checks the local wall clock against a [start, end] window.
// A start after the end means the window wraps midnight.
func inQuietHours(local time.Time, start, end string) bool {
	s, okS := clockMinutes(start)
	en, okE := clockMinutes(end)
	if !okS || !okE {
		return false
	}
	now := local.Hour()*60 + local.Minute()
	if s > en {
		return now >= s || now <= en
	}
	return now >= s && now <= en
}

// nextClock returns the next occurrence of the HH:MM wall time at or
// after local.
func nextClock(local time.Time, clock string) time.Time {
	m, ok := clockMinutes(clock)
	if !ok {
		return local
	}
	at := time.Date(local.Year(), local.Month(), local.Day(), m/60, m%60, 0, 0, local.Location())
	if !at.After(local) {
		at = at.Add(24 * time.Hour)
	}
	return at
}

// nextOptimalHour finds the smallest listed hour strictly after the
// current one. A day with no later optimal hour yields no suggestion and
// the caller falls through to immediate delivery.
func nextOptimalHour(hours []int, current int) (int, bool) {
	best, found := 0, false
	for _, h := range hours {
		if h <= current || h > 23 || h < 0 {
			continue
		}
		if !found || h < best {
			best, found = h, true
		}
	}
	return best, found
}

func clockMinutes(v string) (int, bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
