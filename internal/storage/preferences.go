package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"notifyd/internal/notify"
)

const prefColumns = `user_id, in_app, email, push, sms,
	system_alerts, game_notifications, risk_alerts, social_notifications,
	transaction_alerts, emergency_alerts,
	quiet_hours_enabled, quiet_hours_start, quiet_hours_end, quiet_hours_timezone,
	max_per_hour, max_per_day, created_at, updated_at`

func (s *sqliteStore) GetPreference(ctx context.Context, userID int64) (*notify.Preference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prefColumns+` FROM notification_preferences WHERE user_id = ?`, userID)
	p, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *sqliteStore) InsertDefaultPreference(ctx context.Context, userID int64) (*notify.Preference, error) {
	now := millis(time.Now())
	// Concurrent first accesses race on the insert; DO NOTHING keeps the
	// earlier row and both callers read the same defaults back.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, created_at, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetPreference(ctx, userID)
}

func (s *sqliteStore) UpdatePreference(ctx context.Context, userID int64, u *notify.PreferenceUpdate) error {
	if u == nil || u.Empty() {
		return nil
	}
	sets := make([]string, 0, 17)
	args := make([]any, 0, 18)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.InApp != nil {
		set("in_app", boolInt(*u.InApp))
	}
	if u.Email != nil {
		set("email", boolInt(*u.Email))
	}
	if u.Push != nil {
		set("push", boolInt(*u.Push))
	}
	if u.SMS != nil {
		set("sms", boolInt(*u.SMS))
	}
	if u.SystemAlerts != nil {
		set("system_alerts", boolInt(*u.SystemAlerts))
	}
	if u.GameNotifications != nil {
		set("game_notifications", boolInt(*u.GameNotifications))
	}
	if u.RiskAlerts != nil {
		set("risk_alerts", boolInt(*u.RiskAlerts))
	}
	if u.SocialNotifications != nil {
		set("social_notifications", boolInt(*u.SocialNotifications))
	}
	if u.TransactionAlerts != nil {
		set("transaction_alerts", boolInt(*u.TransactionAlerts))
	}
	if u.EmergencyAlerts != nil {
		set("emergency_alerts", boolInt(*u.EmergencyAlerts))
	}
	if u.QuietHoursEnabled != nil {
		set("quiet_hours_enabled", boolInt(*u.QuietHoursEnabled))
	}
	if u.QuietHoursStart != nil {
		set("quiet_hours_start", *u.QuietHoursStart)
	}
	if u.QuietHoursEnd != nil {
		set("quiet_hours_end", *u.QuietHoursEnd)
	}
	if u.QuietHoursTimezone != nil {
		set("quiet_hours_timezone", *u.QuietHoursTimezone)
	}
	if u.MaxPerHour != nil {
		set("max_per_hour", *u.MaxPerHour)
	}
	if u.MaxPerDay != nil {
		set("max_per_day", *u.MaxPerDay)
	}
	set("updated_at", millis(time.Now()))
	args = append(args, userID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_preferences SET `+strings.Join(sets, ", ")+` WHERE user_id = ?`,
		args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ResetPreference(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_preferences WHERE user_id = ?`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreference(row rowScanner) (*notify.Preference, error) {
	var (
		p                                            notify.Preference
		inApp, email, push, sms                      int
		sysA, game, risk, social, txn, emg           int
		quietEnabled, createdMS, updatedMS           int64
	)
	err := row.Scan(
		&p.UserID, &inApp, &email, &push, &sms,
		&sysA, &game, &risk, &social, &txn, &emg,
		&quietEnabled, &p.QuietHoursStart, &p.QuietHoursEnd, &p.QuietHoursTimezone,
		&p.MaxPerHour, &p.MaxPerDay, &createdMS, &updatedMS,
	)
	if err != nil {
		return nil, err
	}
	p.InApp, p.Email, p.Push, p.SMS = inApp != 0, email != 0, push != 0, sms != 0
	p.SystemAlerts, p.GameNotifications = sysA != 0, game != 0
	p.RiskAlerts, p.SocialNotifications = risk != 0, social != 0
	p.TransactionAlerts, p.EmergencyAlerts = txn != 0, emg != 0
	p.QuietHoursEnabled = quietEnabled != 0
	p.CreatedAt = fromMillis(createdMS)
	p.UpdatedAt = fromMillis(updatedMS)
	return &p, nil
}
