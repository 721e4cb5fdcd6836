package storage

import (
	"context"
	"database/sql"
	"time"

	"notifyd/internal/notify"
)

func (s *sqliteStore) InsertEngagement(ctx context.Context, f *notify.EngagementFact) (int64, error) {
	results, err := jsonText(f.Results)
	if err != nil {
		return 0, err
	}
	sentAt := f.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_analytics
		 (user_id, notification_id, template_id, delivered, opened, clicked,
		  dismissed, engagement_score, sent_at, results)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.NotificationID, f.TemplateID,
		boolInt(f.Delivered), boolInt(f.Opened), boolInt(f.Clicked),
		boolInt(f.Dismissed), f.EngagementScore, millis(sentAt), results)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetEngagementFlags folds a user interaction back into the newest fact
// for the notification. Flags only ever go from 0 to 1; the score keeps
// the highest value the row has seen.
func (s *sqliteStore) SetEngagementFlags(ctx context.Context, userID, notificationID int64, opened, clicked, dismissed bool, score float64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_analytics
		 SET opened = MAX(opened, ?),
		     clicked = MAX(clicked, ?),
		     dismissed = MAX(dismissed, ?),
		     engagement_score = MAX(engagement_score, ?)
		 WHERE id = (
		   SELECT id FROM notification_analytics
		   WHERE user_id = ? AND notification_id = ?
		   ORDER BY id DESC LIMIT 1
		 )`,
		boolInt(opened), boolInt(clicked), boolInt(dismissed), score,
		userID, notificationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) EngagementSummary(ctx context.Context, userID int64, since time.Time) (*EngagementSummary, error) {
	var (
		sum      EngagementSummary
		avgScore sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(delivered), 0),
		        COALESCE(SUM(opened), 0),
		        COALESCE(SUM(clicked), 0),
		        COALESCE(SUM(dismissed), 0),
		        AVG(engagement_score)
		 FROM notification_analytics
		 WHERE user_id = ? AND sent_at >= ?`,
		userID, millis(since)).Scan(
		&sum.Total, &sum.Delivered, &sum.Opened, &sum.Clicked,
		&sum.Dismissed, &avgScore)
	if err != nil {
		return nil, err
	}
	sum.AvgScore = avgScore.Float64
	if sum.Total > 0 {
		n := float64(sum.Total)
		sum.DeliveryRate = float64(sum.Delivered) / n
		sum.OpenRate = float64(sum.Opened) / n
		sum.ClickRate = float64(sum.Clicked) / n
		sum.DismissRate = float64(sum.Dismissed) / n
	}
	return &sum, nil
}

func (s *sqliteStore) ListEngagementFacts(ctx context.Context, userID int64, since time.Time) ([]*notify.EngagementFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, notification_id, template_id, delivered, opened,
		        clicked, dismissed, engagement_score, sent_at, results
		 FROM notification_analytics
		 WHERE user_id = ? AND sent_at >= ?
		 ORDER BY sent_at ASC, id ASC`,
		userID, millis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notify.EngagementFact
	for rows.Next() {
		f, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ActiveAnalyticsUsers(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM notification_analytics
		 WHERE sent_at >= ? ORDER BY user_id ASC`,
		millis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanEngagement(row rowScanner) (*notify.EngagementFact, error) {
	var (
		f                                  notify.EngagementFact
		delivered, opened, clicked, dismd  int
		sentMS                             int64
		results                            string
	)
	err := row.Scan(&f.ID, &f.UserID, &f.NotificationID, &f.TemplateID,
		&delivered, &opened, &clicked, &dismd, &f.EngagementScore,
		&sentMS, &results)
	if err != nil {
		return nil, err
	}
	f.Delivered, f.Opened = delivered != 0, opened != 0
	f.Clicked, f.Dismissed = clicked != 0, dismd != 0
	f.SentAt = fromMillis(sentMS)
	f.Results, err = parseResults(results)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
