package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"notifyd/internal/notify"
)

const queueColumns = `id, request_id, user_id, template_id, template_name,
	priority, category, channels, title, body, payload,
	delivery_method, scheduled_for, optimal_time, status,
	created_at, updated_at, sent_at, read_at, snoozed_until`

// priorityRank orders queue rows most-urgent-first without a lookup table.
const priorityRank = `CASE priority
	WHEN 'critical' THEN 3
	WHEN 'high' THEN 2
	WHEN 'normal' THEN 1
	ELSE 0 END`

func (s *sqliteStore) InsertNotification(ctx context.Context, n *notify.Notification) (int64, error) {
	chans, err := channelsText(n.Channels)
	if err != nil {
		return 0, err
	}
	payload := n.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	pl, err := jsonText(payload)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	created := n.CreatedAt
	if created.IsZero() {
		created = now
	}
	status := n.Status
	if status == "" {
		status = notify.StatusQueued
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_queue
		 (request_id, user_id, template_id, template_name, priority, category,
		  channels, title, body, payload, delivery_method, scheduled_for,
		  optimal_time, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.RequestID, n.UserID, n.TemplateID, n.TemplateName,
		string(n.Priority), string(n.Category), chans, n.Title, n.Body, pl,
		string(n.Method), millisPtr(n.ScheduledFor), millisPtr(n.OptimalTime),
		string(status), millis(created), millis(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetNotification(ctx context.Context, id int64) (*notify.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM notification_queue WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (s *sqliteStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]*notify.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+`
		 FROM notification_queue
		 WHERE status = 'queued'
		   AND (scheduled_for IS NULL OR scheduled_for <= ?)
		 ORDER BY `+priorityRank+` DESC, created_at ASC
		 LIMIT ?`,
		millis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *sqliteStore) ClaimNotification(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET status = 'processing', updated_at = ?
		 WHERE id = ? AND status = 'queued'`,
		millis(now), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) FinishNotification(ctx context.Context, id int64, st notify.Status, now time.Time) error {
	if _, err := notify.Transition(notify.StatusProcessing, st); err != nil {
		return err
	}
	var sentAt any
	if st == notify.StatusSent {
		sentAt = millis(now)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET status = ?, updated_at = ?, sent_at = ?
		 WHERE id = ? AND status = 'processing'`,
		string(st), millis(now), sentAt, id)
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

func (s *sqliteStore) CancelNotification(ctx context.Context, userID, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET status = 'cancelled', updated_at = ?
		 WHERE id = ? AND user_id = ? AND status = 'queued'`,
		millis(now), id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) MarkNotificationRead(ctx context.Context, userID, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET status = 'read', read_at = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND status = 'sent'`,
		millis(now), millis(now), id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) DismissNotification(ctx context.Context, userID, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET status = 'dismissed', updated_at = ?
		 WHERE id = ? AND user_id = ? AND status IN ('sent', 'read')`,
		millis(now), id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) SnoozeNotification(ctx context.Context, userID, id int64, until time.Time) (bool, error) {
	now := millis(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET status = 'snoozed', snoozed_until = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND status IN ('sent', 'read')`,
		millis(until), now, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) CountRecentNotifications(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_queue
		 WHERE user_id = ? AND created_at >= ? AND status != 'cancelled'`,
		userID, millis(since)).Scan(&n)
	return n, err
}

func (s *sqliteStore) ListPendingNotifications(ctx context.Context, userID int64, limit int) ([]*notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+`
		 FROM notification_queue
		 WHERE user_id = ? AND status IN ('queued', 'processing', 'sent')
		 ORDER BY `+priorityRank+` DESC, created_at DESC
		 LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *sqliteStore) ListNotificationHistory(ctx context.Context, userID int64, limit, offset int) ([]*notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+`
		 FROM notification_queue
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *sqliteStore) DeleteNotification(ctx context.Context, userID, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_queue WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ClearNotifications(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_queue WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectNotifications(rows *sql.Rows) ([]*notify.Notification, error) {
	var out []*notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (*notify.Notification, error) {
	var (
		n                    notify.Notification
		chans, payload       string
		scheduled, optimal   sql.NullInt64
		sentAt, readAt       sql.NullInt64
		snoozedUntil         sql.NullInt64
		createdMS, updatedMS int64
	)
	err := row.Scan(
		&n.ID, &n.RequestID, &n.UserID, &n.TemplateID, &n.TemplateName,
		&n.Priority, &n.Category, &chans, &n.Title, &n.Body, &payload,
		&n.Method, &scheduled, &optimal, &n.Status,
		&createdMS, &updatedMS, &sentAt, &readAt, &snoozedUntil,
	)
	if err != nil {
		return nil, err
	}
	n.Channels, err = parseChannels(chans)
	if err != nil {
		return nil, err
	}
	n.Payload, err = parsePayload(payload)
	if err != nil {
		return nil, err
	}
	n.ScheduledFor = fromMillisNull(scheduled)
	n.OptimalTime = fromMillisNull(optimal)
	n.CreatedAt = fromMillis(createdMS)
	n.UpdatedAt = fromMillis(updatedMS)
	n.SentAt = fromMillisNull(sentAt)
	n.ReadAt = fromMillisNull(readAt)
	n.SnoozedUntil = fromMillisNull(snoozedUntil)
	return &n, nil
}
