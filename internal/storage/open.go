package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// Store is the persistence API used by the engine services.
//
// All methods take a context and are safe for concurrent use. Read-your-
// writes consistency holds within a single store handle, which the claim
// step depends on.
type Store interface {
	// Preferences. GetPreference returns (nil, nil) when the user has no
	// row yet; callers that need defaults use the preference service,
	// which inserts them.
	GetPreference(ctx context.Context, userID int64) (*notify.Preference, error)
	InsertDefaultPreference(ctx context.Context, userID int64) (*notify.Preference, error)
	UpdatePreference(ctx context.Context, userID int64, u *notify.PreferenceUpdate) error
	ResetPreference(ctx context.Context, userID int64) error

	// Templates. GetTemplate resolves the newest active version by name.
	GetTemplate(ctx context.Context, name string) (*notify.Template, error)
	InsertTemplate(ctx context.Context, t *notify.Template) (int64, error)
	ListTemplates(ctx context.Context) ([]*notify.Template, error)

	// Queue.
	InsertNotification(ctx context.Context, n *notify.Notification) (int64, error)
	GetNotification(ctx context.Context, id int64) (*notify.Notification, error)
	SelectDue(ctx context.Context, now time.Time, limit int) ([]*notify.Notification, error)
	// ClaimNotification atomically moves queued -> processing.
	// Returns false when the row was already claimed (or left queued state).
	ClaimNotification(ctx context.Context, id int64, now time.Time) (bool, error)
	// FinishNotification moves processing -> sent|failed.
	FinishNotification(ctx context.Context, id int64, st notify.Status, now time.Time) error
	CancelNotification(ctx context.Context, userID, id int64, now time.Time) (bool, error)
	MarkNotificationRead(ctx context.Context, userID, id int64, now time.Time) (bool, error)
	DismissNotification(ctx context.Context, userID, id int64, now time.Time) (bool, error)
	SnoozeNotification(ctx context.Context, userID, id int64, until time.Time) (bool, error)
	// CountRecentNotifications counts non-cancelled rows created at or
	// after since (rolling rate-limit windows).
	CountRecentNotifications(ctx context.Context, userID int64, since time.Time) (int, error)
	ListPendingNotifications(ctx context.Context, userID int64, limit int) ([]*notify.Notification, error)
	ListNotificationHistory(ctx context.Context, userID int64, limit, offset int) ([]*notify.Notification, error)
	DeleteNotification(ctx context.Context, userID, id int64) (bool, error)
	ClearNotifications(ctx context.Context, userID int64) (int64, error)

	// Analytics (append-only facts plus engagement flag backfill).
	InsertEngagement(ctx context.Context, f *notify.EngagementFact) (int64, error)
	SetEngagementFlags(ctx context.Context, userID, notificationID int64, opened, clicked, dismissed bool, score float64) (bool, error)
	EngagementSummary(ctx context.Context, userID int64, since time.Time) (*EngagementSummary, error)
	ListEngagementFacts(ctx context.Context, userID int64, since time.Time) ([]*notify.EngagementFact, error)
	// ActiveAnalyticsUsers lists users with at least one fact since the
	// given time (the behavior updater's work set).
	ActiveAnalyticsUsers(ctx context.Context, since time.Time) ([]int64, error)

	// Behavior profiles. GetBehaviorProfile returns (nil, nil) when absent.
	GetBehaviorProfile(ctx context.Context, userID int64) (*notify.BehaviorProfile, error)
	UpsertBehaviorProfile(ctx context.Context, p *notify.BehaviorProfile) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
