package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"notifyd/internal/notify"
)

func (s *sqliteStore) GetTemplate(ctx context.Context, name string) (*notify.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, active, title_template, body_template,
		        priority, category, channels, created_at
		 FROM notification_templates
		 WHERE name = ? AND active = 1
		 ORDER BY version DESC
		 LIMIT 1`, name)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) InsertTemplate(ctx context.Context, t *notify.Template) (int64, error) {
	chans, err := channelsText(t.Channels)
	if err != nil {
		return 0, err
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	version := t.Version
	if version <= 0 {
		version = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_templates
		 (name, version, active, title_template, body_template, priority, category, channels, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, version, boolInt(t.Active), t.Title, t.Body,
		string(t.Priority), string(t.Category), chans, millis(created))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListTemplates(ctx context.Context) ([]*notify.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, active, title_template, body_template,
		        priority, category, channels, created_at
		 FROM notification_templates
		 ORDER BY name ASC, version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notify.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(row rowScanner) (*notify.Template, error) {
	var (
		t         notify.Template
		active    int
		chans     string
		createdMS int64
	)
	err := row.Scan(&t.ID, &t.Name, &t.Version, &active, &t.Title, &t.Body,
		&t.Priority, &t.Category, &chans, &createdMS)
	if err != nil {
		return nil, err
	}
	t.Active = active != 0
	t.CreatedAt = fromMillis(createdMS)
	t.Channels, err = parseChannels(chans)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
