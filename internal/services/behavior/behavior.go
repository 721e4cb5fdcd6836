package behavior

import (
	"context"
	"sort"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type Config struct {
	WindowDays int
}

type Service struct {
	cfg   Config
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, bus: bus, log: log}
}

// Profile returns the stored model, or nil when none exists yet.
func (s *Service) Profile(ctx context.Context, userID int64) (*notify.BehaviorProfile, error) {
	return s.store.GetBehaviorProfile(ctx, userID)
}

// Recompute rebuilds the user's profile from the trailing facts window.
// Returns (nil, nil) when the window is empty and nothing was written.
func (s *Service) Recompute(ctx context.Context, userID int64, now time.Time) (*notify.BehaviorProfile, error) {
	since := now.Add(-time.Duration(s.cfg.WindowDays) * 24 * time.Hour)
	facts, err := s.store.ListEngagementFacts(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}

	loc := s.userLocation(ctx, userID)
	p := buildProfile(userID, facts, loc, now)
	if err := s.store.UpsertBehaviorProfile(ctx, p); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventBehavior, Data: map[string]int64{"user": userID}})
	}
	s.log.Debug("behavior profile recomputed",
		logx.Int64("user", userID),
		logx.Int("facts", len(facts)),
		logx.Float64("engagement", p.EngagementRate))
	return p, nil
}

// RecomputeAll refreshes every user with analytics activity inside the
// window. Per-user failures are logged and skipped.
func (s *Service) RecomputeAll(ctx context.Context, now time.Time) (int, error) {
	since := now.Add(-time.Duration(s.cfg.WindowDays) * 24 * time.Hour)
	users, err := s.store.ActiveAnalyticsUsers(ctx, since)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, id := range users {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		if _, err := s.Recompute(ctx, id, now); err != nil {
			s.log.Warn("behavior recompute failed", logx.Int64("user", id), logx.Err(err))
			continue
		}
		updated++
	}
	if updated > 0 {
		s.log.Info("behavior models refreshed", logx.Int("users", updated))
	}
	return updated, nil
}

func (s *Service) userLocation(ctx context.Context, userID int64) *time.Location {
	pref, err := s.store.GetPreference(ctx, userID)
	if err != nil || pref == nil || pref.QuietHoursTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(pref.QuietHoursTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func buildProfile(userID int64, facts []*notify.EngagementFact, loc *time.Location, now time.Time) *notify.BehaviorProfile {
	var (
		hourSent    [24]int
		hourEngaged [24]int
		daySeen     [7]bool
		chanHits    = map[notify.Channel]int{}
		engaged     int
		delivered   int
		scoreSum    float64
		lastEngaged time.Time
	)
	for _, f := range facts {
		local := f.SentAt.In(loc)
		h := local.Hour()
		hourSent[h]++
		daySeen[int(local.Weekday())] = true
		if f.Delivered {
			delivered++
		}
		if f.Opened || f.Clicked {
			engaged++
			hourEngaged[h]++
			if f.SentAt.After(lastEngaged) {
				lastEngaged = f.SentAt
			}
		}
		scoreSum += f.EngagementScore
		for _, r := range f.Results {
			if r.Success {
				chanHits[r.Channel]++
			}
		}
	}

	total := len(facts)
	engagementRate := float64(engaged) / float64(total)
	deliveryRate := float64(delivered) / float64(total)

	p := &notify.BehaviorProfile{
		UserID:            userID,
		ActiveHours:       activeHours(hourSent),
		ActiveDays:        activeDays(daySeen),
		EngagementRate:    engagementRate,
		PreferredChannels: rankChannels(chanHits),
		OptimalHours:      optimalHours(hourSent, hourEngaged),
		ChurnRisk:         churnRisk(engagementRate, lastEngaged, now),
		ValueScore:        100 * (0.7*engagementRate + 0.3*deliveryRate),
		LastCalculated:    now,
	}
	// Session length is not observable from notification facts; the
	// average score stands in as a rough intensity proxy.
	p.AvgSessionMinutes = (scoreSum / float64(total)) * 45
	return p
}

func activeHours(sent [24]int) []int {
	var out []int
	for h, n := range sent {
		if n > 0 {
			out = append(out, h)
		}
	}
	return out
}

func activeDays(seen [7]bool) []int {
	var out []int
	for d, ok := range seen {
		if ok {
			out = append(out, d)
		}
	}
	return out
}

// optimalHours picks hours whose engagement ratio beats the overall one.
// Hours with traffic but no engagement never qualify.
func optimalHours(sent, engaged [24]int) []int {
	totalSent, totalEngaged := 0, 0
	for h := 0; h < 24; h++ {
		totalSent += sent[h]
		totalEngaged += engaged[h]
	}
	if totalSent == 0 || totalEngaged == 0 {
		return nil
	}
	overall := float64(totalEngaged) / float64(totalSent)
	var out []int
	for h := 0; h < 24; h++ {
		if sent[h] == 0 || engaged[h] == 0 {
			continue
		}
		if float64(engaged[h])/float64(sent[h]) >= overall {
			out = append(out, h)
		}
	}
	return out
}

func rankChannels(hits map[notify.Channel]int) []notify.Channel {
	out := make([]notify.Channel, 0, len(hits))
	for c := range hits {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if hits[out[i]] != hits[out[j]] {
			return hits[out[i]] > hits[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// churnRisk blends low engagement with how long ago the user last
// engaged. Both inputs are clamped to [0, 1].
func churnRisk(engagementRate float64, lastEngaged, now time.Time) float64 {
	staleness := 1.0
	if !lastEngaged.IsZero() {
		days := now.Sub(lastEngaged).Hours() / 24
		staleness = days / 14
		if staleness > 1 {
			staleness = 1
		}
		if staleness < 0 {
			staleness = 0
		}
	}
	risk := 0.6*(1-engagementRate) + 0.4*staleness
	if risk > 1 {
		risk = 1
	}
	return risk
}
