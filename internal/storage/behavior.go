package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notifyd/internal/notify"
)

func (s *sqliteStore) GetBehaviorProfile(ctx context.Context, userID int64) (*notify.BehaviorProfile, error) {
	var (
		p                      notify.BehaviorProfile
		hours, days            string
		channels, optimal      string
		lastCalcMS             int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, active_hours, active_days, avg_session_minutes,
		        engagement_rate, preferred_channels, optimal_hours,
		        churn_risk, value_score, last_calculated
		 FROM behavior_profiles WHERE user_id = ?`, userID).Scan(
		&p.UserID, &hours, &days, &p.AvgSessionMinutes,
		&p.EngagementRate, &channels, &optimal,
		&p.ChurnRisk, &p.ValueScore, &lastCalcMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.ActiveHours, err = parseIntList(hours); err != nil {
		return nil, err
	}
	if p.ActiveDays, err = parseIntList(days); err != nil {
		return nil, err
	}
	if p.PreferredChannels, err = parseChannels(channels); err != nil {
		return nil, err
	}
	if p.OptimalHours, err = parseIntList(optimal); err != nil {
		return nil, err
	}
	p.LastCalculated = fromMillis(lastCalcMS)
	return &p, nil
}

func (s *sqliteStore) UpsertBehaviorProfile(ctx context.Context, p *notify.BehaviorProfile) error {
	hours, err := intListText(p.ActiveHours)
	if err != nil {
		return err
	}
	days, err := intListText(p.ActiveDays)
	if err != nil {
		return err
	}
	channels, err := channelsText(p.PreferredChannels)
	if err != nil {
		return err
	}
	optimal, err := intListText(p.OptimalHours)
	if err != nil {
		return err
	}
	calc := p.LastCalculated
	if calc.IsZero() {
		calc = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO behavior_profiles
		 (user_id, active_hours, active_days, avg_session_minutes,
		  engagement_rate, preferred_channels, optimal_hours, churn_risk,
		  value_score, last_calculated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   active_hours = excluded.active_hours,
		   active_days = excluded.active_days,
		   avg_session_minutes = excluded.avg_session_minutes,
		   engagement_rate = excluded.engagement_rate,
		   preferred_channels = excluded.preferred_channels,
		   optimal_hours = excluded.optimal_hours,
		   churn_risk = excluded.churn_risk,
		   value_score = excluded.value_score,
		   last_calculated = excluded.last_calculated`,
		p.UserID, hours, days, p.AvgSessionMinutes,
		p.EngagementRate, channels, optimal, p.ChurnRisk,
		p.ValueScore, millis(calc))
	return err
}

func intListText(v []int) (string, error) {
	if v == nil {
		v = []int{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode int list: %w", err)
	}
	return string(b), nil
}
