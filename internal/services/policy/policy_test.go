package policy

import (
	"testing"
	"time"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

func basePref() *notify.Preference {
	return &notify.Preference{
		UserID: 1,
		InApp:  true, Email: true, Push: true, SMS: true,
		SystemAlerts: true, GameNotifications: true, RiskAlerts: true,
		SocialNotifications: true, TransactionAlerts: true, EmergencyAlerts: true,
		QuietHoursStart: "22:00", QuietHoursEnd: "08:00", QuietHoursTimezone: "UTC",
		MaxPerHour: 10, MaxPerDay: 50,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestQuietHoursOvernightWindow(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.QuietHoursEnabled = true

	cases := []struct {
		now  time.Time
		want bool
	}{
		{at(23, 0), true},
		{at(2, 0), true},
		{at(22, 0), true},
		{at(8, 0), true},
		{at(12, 0), false},
		{at(21, 59), false},
	}
	for _, tc := range cases {
		d := e.Decide(p, nil, notify.PriorityNormal, tc.now)
		got := d.Method == notify.DeliverScheduled
		if got != tc.want {
			t.Fatalf("at %v: quiet=%v want %v", tc.now, got, tc.want)
		}
	}
}

func TestQuietHoursSameDayWindow(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.QuietHoursEnabled = true
	p.QuietHoursStart, p.QuietHoursEnd = "08:00", "22:00"

	if d := e.Decide(p, nil, notify.PriorityNormal, at(12, 0)); d.Method != notify.DeliverScheduled {
		t.Fatalf("12:00 should be inside 08:00-22:00, got %s", d.Method)
	}
	if d := e.Decide(p, nil, notify.PriorityNormal, at(23, 0)); d.Method != notify.DeliverImmediate {
		t.Fatalf("23:00 should be outside 08:00-22:00, got %s", d.Method)
	}
}

func TestQuietHoursDeferTarget(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.QuietHoursEnabled = true

	// 23:00 inside 22:00-08:00 defers to 08:00 the next day.
	d := e.Decide(p, nil, notify.PriorityNormal, at(23, 0))
	if d.ScheduledFor == nil {
		t.Fatalf("scheduled decision must carry a time")
	}
	want := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	if !d.ScheduledFor.Equal(want) {
		t.Fatalf("defer target %v, want %v", d.ScheduledFor, want)
	}

	// 02:00 defers to 08:00 the same day.
	d = e.Decide(p, nil, notify.PriorityNormal, at(2, 0))
	want = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if !d.ScheduledFor.Equal(want) {
		t.Fatalf("defer target %v, want %v", d.ScheduledFor, want)
	}
}

func TestUrgentBypassesQuietHours(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.QuietHoursEnabled = true

	for _, prio := range []notify.Priority{notify.PriorityCritical, notify.PriorityHigh} {
		d := e.Decide(p, nil, prio, at(23, 0))
		if d.Method != notify.DeliverImmediate {
			t.Fatalf("%s must be immediate in quiet hours, got %s", prio, d.Method)
		}
	}
}

func TestQuietHoursRespectTimezone(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.QuietHoursEnabled = true
	p.QuietHoursTimezone = "Asia/Jakarta" // UTC+7

	// 16:00 UTC is 23:00 in Jakarta, inside the window.
	d := e.Decide(p, nil, notify.PriorityNormal, at(16, 0))
	if d.Method != notify.DeliverScheduled {
		t.Fatalf("16:00 UTC should be quiet in Jakarta, got %s", d.Method)
	}
	// 05:00 UTC is 12:00 in Jakarta, outside.
	d = e.Decide(p, nil, notify.PriorityNormal, at(5, 0))
	if d.Method != notify.DeliverImmediate {
		t.Fatalf("05:00 UTC should not be quiet in Jakarta, got %s", d.Method)
	}
}

func TestSmartTimingPicksNextOptimalHour(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	profile := &notify.BehaviorProfile{OptimalHours: []int{9, 14, 20}}

	d := e.Decide(p, profile, notify.PriorityNormal, at(10, 30))
	if d.Method != notify.DeliverSmartTiming {
		t.Fatalf("expected smart_timing, got %s", d.Method)
	}
	want := at(14, 0)
	if d.ScheduledFor == nil || !d.ScheduledFor.Equal(want) {
		t.Fatalf("smart time %v, want %v", d.ScheduledFor, want)
	}
	if d.OptimalTime == nil || !d.OptimalTime.Equal(want) {
		t.Fatalf("optimal time must match scheduled time")
	}
}

func TestSmartTimingFallsThroughAfterLastHour(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	profile := &notify.BehaviorProfile{OptimalHours: []int{9, 14}}

	d := e.Decide(p, profile, notify.PriorityNormal, at(15, 0))
	if d.Method != notify.DeliverImmediate {
		t.Fatalf("no later optimal hour must mean immediate, got %s", d.Method)
	}
}

func TestResolveChannels(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.Email = false
	p.SMS = false

	got := e.ResolveChannels(p, []notify.Channel{notify.ChannelEmail, notify.ChannelPush, notify.ChannelSMS}, notify.PriorityNormal)
	if len(got) != 1 || got[0] != notify.ChannelPush {
		t.Fatalf("intersection wrong: %v", got)
	}
}

func TestCriticalForcesInApp(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.InApp = false

	got := e.ResolveChannels(p, []notify.Channel{notify.ChannelPush}, notify.PriorityCritical)
	found := false
	for _, c := range got {
		if c == notify.ChannelInApp {
			found = true
		}
	}
	if !found {
		t.Fatalf("critical must force in_app: %v", got)
	}

	// Non-critical does not.
	got = e.ResolveChannels(p, []notify.Channel{notify.ChannelPush}, notify.PriorityHigh)
	for _, c := range got {
		if c == notify.ChannelInApp {
			t.Fatalf("high priority must not force in_app: %v", got)
		}
	}
}

func TestCategoryGating(t *testing.T) {
	e := New(logx.Nop())
	p := basePref()
	p.GameNotifications = false
	p.EmergencyAlerts = false

	if e.CategoryAllowed(p, notify.CategoryGame) {
		t.Fatalf("disabled category must be blocked")
	}
	if !e.CategoryAllowed(p, notify.CategoryTransaction) {
		t.Fatalf("enabled category must pass")
	}
	if !e.CategoryAllowed(p, notify.CategoryEmergency) {
		t.Fatalf("emergency cannot be opted out of")
	}
	if e.CategoryAllowed(p, "marketing") {
		t.Fatalf("unknown category must be blocked")
	}
}
