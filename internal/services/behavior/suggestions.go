package behavior

import (
	"context"
	"fmt"
	"time"

	"notifyd/internal/notify"
)

// Suggestion is one recommended preference change.
type Suggestion struct {
	Field       string `json:"field"`
	Current     any    `json:"current"`
	Recommended any    `json:"recommended"`
	Reason      string `json:"reason"`
}

const (
	lowChannelEngagement  = 0.2
	highChannelEngagement = 0.6
	lowOverallEngagement  = 0.3
	nightEngagementFloor  = 0.1
	highDailyVolume       = 30
)

// Suggest derives preference optimizations from the user's engagement
// history. It only reads; applying a suggestion is the caller's call.
func (s *Service) Suggest(ctx context.Context, userID int64, pref *notify.Preference, now time.Time) ([]Suggestion, error) {
	since := now.Add(-time.Duration(s.cfg.WindowDays) * 24 * time.Hour)
	facts, err := s.store.ListEngagementFacts(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}

	var out []Suggestion

	chanRate := channelEngagement(facts)
	if r, ok := chanRate[notify.ChannelEmail]; ok && r < lowChannelEngagement && pref.Email {
		out = append(out, Suggestion{
			Field: "email", Current: true, Recommended: false,
			Reason: fmt.Sprintf("Low email engagement rate (%.0f%%). Consider disabling email notifications.", r*100),
		})
	}
	if r, ok := chanRate[notify.ChannelPush]; ok && r > highChannelEngagement && !pref.Push {
		out = append(out, Suggestion{
			Field: "push", Current: false, Recommended: true,
			Reason: fmt.Sprintf("High push engagement rate (%.0f%%). Enable push for better reach.", r*100),
		})
	}

	if !pref.QuietHoursEnabled {
		if sent, rate := nightEngagement(facts, s.userLocation(ctx, userID)); sent > 0 && rate < nightEngagementFloor {
			out = append(out, Suggestion{
				Field: "quiet_hours_enabled", Current: false, Recommended: true,
				Reason: "Very low engagement during night hours. Consider enabling quiet hours.",
			})
		}
	}

	engaged := 0
	for _, f := range facts {
		if f.Opened || f.Clicked {
			engaged++
		}
	}
	overall := float64(engaged) / float64(len(facts))
	dailyAvg := float64(len(facts)) / float64(s.cfg.WindowDays)
	if dailyAvg > highDailyVolume && overall < lowOverallEngagement {
		out = append(out, Suggestion{
			Field: "max_per_day", Current: pref.MaxPerDay, Recommended: 20,
			Reason: "High notification volume with low engagement. Reduce the daily limit to improve quality.",
		})
	}

	return out, nil
}

// channelEngagement computes, per channel, the share of successful
// deliveries that the user went on to open or click.
func channelEngagement(facts []*notify.EngagementFact) map[notify.Channel]float64 {
	sent := map[notify.Channel]int{}
	engaged := map[notify.Channel]int{}
	for _, f := range facts {
		for _, r := range f.Results {
			if !r.Success {
				continue
			}
			sent[r.Channel]++
			if f.Opened || f.Clicked {
				engaged[r.Channel]++
			}
		}
	}
	out := make(map[notify.Channel]float64, len(sent))
	for c, n := range sent {
		out[c] = float64(engaged[c]) / float64(n)
	}
	return out
}

// nightEngagement measures the 22:00-08:00 local window.
func nightEngagement(facts []*notify.EngagementFact, loc *time.Location) (sent int, rate float64) {
	engaged := 0
	for _, f := range facts {
		h := f.SentAt.In(loc).Hour()
		if h < 22 && h >= 8 {
			continue
		}
		sent++
		if f.Opened || f.Clicked {
			engaged++
		}
	}
	if sent == 0 {
		return 0, 0
	}
	return sent, float64(engaged) / float64(sent)
}
