package notify

import "time"

// Channel is one of the four delivery transports.
//
// The channel set is closed: adapters for other transports are out of scope
// and unknown channel names produce a synthetic failed delivery instead of
// an error.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// Channels lists every known channel in a stable order.
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS}

func (c Channel) Known() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS:
		return true
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for queue processing (higher is more urgent).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Urgent reports whether the priority bypasses quiet hours and smart timing.
func (p Priority) Urgent() bool {
	return p == PriorityCritical || p == PriorityHigh
}

type Category string

const (
	CategorySystem      Category = "system"
	CategoryGame        Category = "game"
	CategoryRiskAlert   Category = "risk_alert"
	CategorySocial      Category = "social"
	CategoryTransaction Category = "transaction"
	CategoryEmergency   Category = "emergency"
)

// DeliveryMethod records how the policy engine decided to deliver a row.
type DeliveryMethod string

const (
	DeliverImmediate   DeliveryMethod = "immediate"
	DeliverScheduled   DeliveryMethod = "scheduled"
	DeliverSmartTiming DeliveryMethod = "smart_timing"
)

// Preference holds one user's notification settings.
// Exactly one row per user; created with permissive defaults on first access.
type Preference struct {
	UserID int64

	InApp bool
	Email bool
	Push  bool
	SMS   bool

	SystemAlerts        bool
	GameNotifications   bool
	RiskAlerts          bool
	SocialNotifications bool
	TransactionAlerts   bool
	EmergencyAlerts     bool

	QuietHoursEnabled  bool
	QuietHoursStart    string // "HH:MM"
	QuietHoursEnd      string // "HH:MM"
	QuietHoursTimezone string // IANA name, e.g. "America/New_York"

	MaxPerHour int
	MaxPerDay  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChannelEnabled reports whether the user accepts the given channel.
func (p *Preference) ChannelEnabled(c Channel) bool {
	switch c {
	case ChannelInApp:
		return p.InApp
	case ChannelEmail:
		return p.Email
	case ChannelPush:
		return p.Push
	case ChannelSMS:
		return p.SMS
	}
	return false
}

// PreferenceUpdate is a partial preference change. Only non-nil fields are
// applied; the struct itself is the update whitelist, so a field that is not
// here cannot be written through Update at all.
type PreferenceUpdate struct {
	InApp *bool
	Email *bool
	Push  *bool
	SMS   *bool

	SystemAlerts        *bool
	GameNotifications   *bool
	RiskAlerts          *bool
	SocialNotifications *bool
	TransactionAlerts   *bool
	EmergencyAlerts     *bool

	QuietHoursEnabled  *bool
	QuietHoursStart    *string
	QuietHoursEnd      *string
	QuietHoursTimezone *string

	MaxPerHour *int
	MaxPerDay  *int
}

// Empty reports whether no fields are set.
func (u *PreferenceUpdate) Empty() bool {
	if u == nil {
		return true
	}
	return u.InApp == nil && u.Email == nil && u.Push == nil && u.SMS == nil &&
		u.SystemAlerts == nil && u.GameNotifications == nil && u.RiskAlerts == nil &&
		u.SocialNotifications == nil && u.TransactionAlerts == nil && u.EmergencyAlerts == nil &&
		u.QuietHoursEnabled == nil && u.QuietHoursStart == nil && u.QuietHoursEnd == nil &&
		u.QuietHoursTimezone == nil && u.MaxPerHour == nil && u.MaxPerDay == nil
}

// Template is an immutable-per-version notification template.
type Template struct {
	ID       int64
	Name     string
	Version  int
	Active   bool
	Title    string // title template with {{placeholder}} tokens
	Body     string // body template with {{placeholder}} tokens
	Priority Priority
	Category Category
	Channels []Channel // default channel list

	CreatedAt time.Time
}

// Notification is one queued unit of work.
type Notification struct {
	ID           int64
	RequestID    string
	UserID       int64
	TemplateID   int64
	TemplateName string
	Priority     Priority
	Category     Category
	Channels     []Channel
	Title        string
	Body         string
	Payload      map[string]string

	Method       DeliveryMethod
	ScheduledFor *time.Time
	OptimalTime  *time.Time

	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SentAt       *time.Time
	ReadAt       *time.Time
	SnoozedUntil *time.Time
}

// DeliveryResult is the per-channel outcome of one dispatch attempt.
// It is not persisted on its own; the dispatcher folds results into the
// queue row's final status and the analytics record keeps the detail.
type DeliveryResult struct {
	Channel     Channel   `json:"channel"`
	Success     bool      `json:"success"`
	DeliveredAt time.Time `json:"delivered_at"`
	Error       string    `json:"error,omitempty"`
}

// EngagementFact is one append-only analytics row per delivered
// notification. "Delivered" is true if ANY channel succeeded, which can
// diverge from the queue row's sent/failed status (ALL channels) on
// purpose: the fact answers "was the user reached at all".
type EngagementFact struct {
	ID             int64
	UserID         int64
	NotificationID int64
	TemplateID     int64

	Delivered bool
	Opened    bool
	Clicked   bool
	Dismissed bool

	EngagementScore float64
	SentAt          time.Time
	Results         []DeliveryResult // per-channel detail
}

// BehaviorProfile is the per-user derived engagement model.
// It is recomputed wholesale on every updater run, never patched field by
// field.
type BehaviorProfile struct {
	UserID            int64
	ActiveHours       []int // 0-23
	ActiveDays        []int // 0=Sunday ... 6=Saturday
	AvgSessionMinutes float64
	EngagementRate    float64
	PreferredChannels []Channel
	OptimalHours      []int // 0-23, ascending
	ChurnRisk         float64
	ValueScore        float64
	LastCalculated    time.Time
}
