package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/services/analytics"
	"notifyd/internal/services/behavior"
	"notifyd/internal/services/dispatch"
	"notifyd/internal/services/policy"
	"notifyd/internal/services/preference"
	"notifyd/internal/services/queue"
	"notifyd/internal/services/ratelimit"
	"notifyd/internal/services/template"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func testEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	log := logx.Nop()
	bus := eventbus.New()
	an := analytics.New(st, log)
	q := queue.New(queue.Config{}, st, dispatch.New(dispatch.Config{RatePerSec: 1000}, log, dispatch.DefaultAdapters(log)...), bus, an, log)
	e := New(
		preference.New(st, log),
		template.New(st, log),
		policy.New(log),
		ratelimit.New(st, log),
		q,
		an,
		behavior.New(behavior.Config{WindowDays: 30}, st, bus, log),
		bus,
		log,
	)
	return e, st
}

func mustTemplate(t *testing.T, st storage.Store, tpl notify.Template) {
	t.Helper()
	if tpl.Version == 0 {
		tpl.Version = 1
	}
	tpl.Active = true
	if _, err := st.InsertTemplate(context.Background(), &tpl); err != nil {
		t.Fatalf("insert template: %v", err)
	}
}

func TestSendImmediateDeliversInline(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "welcome", Title: "Welcome {{name}}", Body: "Hi {{name}}!",
		Priority: notify.PriorityNormal, Category: notify.CategorySystem,
		Channels: []notify.Channel{notify.ChannelInApp, notify.ChannelEmail},
	})

	res, err := e.Send(ctx, 1, "welcome", map[string]string{"name": "Ada"}, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Skipped {
		t.Fatalf("unexpected skip: %s", res.Reason)
	}
	if res.Method != notify.DeliverImmediate || !res.Delivered {
		t.Fatalf("immediate send must deliver inline: %+v", res)
	}

	n, err := st.GetNotification(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n.Status != notify.StatusSent {
		t.Fatalf("row status %s", n.Status)
	}
	if n.Title != "Welcome Ada" || n.Body != "Hi Ada!" {
		t.Fatalf("render wrong: %q / %q", n.Title, n.Body)
	}
	if n.RequestID == "" {
		t.Fatalf("request id must be assigned")
	}
}

func TestSendBlockedCategory(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "promo", Title: "t", Body: "b",
		Priority: notify.PriorityLow, Category: notify.CategoryGame,
		Channels: []notify.Channel{notify.ChannelInApp},
	})

	off := false
	if _, err := e.Preferences().Update(ctx, 2, &notify.PreferenceUpdate{GameNotifications: &off}); err != nil {
		t.Fatalf("update prefs: %v", err)
	}
	res, err := e.Send(ctx, 2, "promo", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Skipped || res.Reason != ReasonCategoryBlocked {
		t.Fatalf("expected category skip, got %+v", res)
	}
	// Nothing queued, so the rate windows stay untouched.
	if n, _ := st.CountRecentNotifications(ctx, 2, time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("skipped send must not enqueue, count=%d", n)
	}
}

func TestEmergencyIgnoresOptOut(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "evacuate", Title: "t", Body: "b",
		Priority: notify.PriorityCritical, Category: notify.CategoryEmergency,
		Channels: []notify.Channel{notify.ChannelPush},
	})

	off := false
	if _, err := e.Preferences().Update(ctx, 3, &notify.PreferenceUpdate{EmergencyAlerts: &off}); err != nil {
		t.Fatalf("update prefs: %v", err)
	}
	res, err := e.Send(ctx, 3, "evacuate", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Skipped {
		t.Fatalf("emergency must not be blockable: %+v", res)
	}
}

func TestSendRateLimited(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "ping", Title: "t", Body: "b",
		Priority: notify.PriorityNormal, Category: notify.CategorySystem,
		Channels: []notify.Channel{notify.ChannelInApp},
	})

	for i := 0; i < 10; i++ {
		res, err := e.Send(ctx, 4, "ping", nil, SendOptions{})
		if err != nil || res.Skipped {
			t.Fatalf("send %d: err=%v res=%+v", i+1, err, res)
		}
	}
	res, err := e.Send(ctx, 4, "ping", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Skipped || res.Reason != ReasonRateLimited {
		t.Fatalf("11th send in the hour must be rate limited, got %+v", res)
	}
}

func TestChannelIntersectionEndToEnd(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "digest", Title: "t", Body: "b",
		Priority: notify.PriorityNormal, Category: notify.CategorySocial,
		Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelPush, notify.ChannelSMS},
	})

	off := false
	if _, err := e.Preferences().Update(ctx, 5, &notify.PreferenceUpdate{Email: &off, SMS: &off}); err != nil {
		t.Fatalf("update prefs: %v", err)
	}
	res, err := e.Send(ctx, 5, "digest", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(res.Channels) != 1 || res.Channels[0] != notify.ChannelPush {
		t.Fatalf("intersection wrong: %v", res.Channels)
	}
}

func TestNoEnabledChannelsSkips(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "mail-only", Title: "t", Body: "b",
		Priority: notify.PriorityNormal, Category: notify.CategorySystem,
		Channels: []notify.Channel{notify.ChannelEmail},
	})

	off := false
	if _, err := e.Preferences().Update(ctx, 6, &notify.PreferenceUpdate{Email: &off}); err != nil {
		t.Fatalf("update prefs: %v", err)
	}
	res, err := e.Send(ctx, 6, "mail-only", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Skipped || res.Reason != ReasonNoChannels {
		t.Fatalf("expected channel skip, got %+v", res)
	}
}

func TestCriticalBypassesQuietHours(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "alarm", Title: "t", Body: "b",
		Priority: notify.PriorityCritical, Category: notify.CategoryRiskAlert,
		Channels: []notify.Channel{notify.ChannelInApp},
	})
	mustTemplate(t, st, notify.Template{
		Name: "note", Title: "t", Body: "b",
		Priority: notify.PriorityNormal, Category: notify.CategorySystem,
		Channels: []notify.Channel{notify.ChannelInApp},
	})

	// Quiet hours around the whole clock so any send time is inside.
	on := true
	start, end := "00:00", "23:59"
	if _, err := e.Preferences().Update(ctx, 7, &notify.PreferenceUpdate{
		QuietHoursEnabled: &on, QuietHoursStart: &start, QuietHoursEnd: &end,
	}); err != nil {
		t.Fatalf("update prefs: %v", err)
	}

	res, err := e.Send(ctx, 7, "note", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Method != notify.DeliverScheduled {
		t.Fatalf("normal send in quiet hours must defer, got %s", res.Method)
	}
	res, err = e.Send(ctx, 7, "alarm", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Method != notify.DeliverImmediate {
		t.Fatalf("critical must bypass quiet hours, got %s", res.Method)
	}
}

func TestExplicitScheduleOverridesPolicy(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "reminder", Title: "t", Body: "b",
		Priority: notify.PriorityNormal, Category: notify.CategorySystem,
		Channels: []notify.Channel{notify.ChannelInApp},
	})

	at := time.Now().Add(3 * time.Hour).Truncate(time.Second)
	res, err := e.Send(ctx, 8, "reminder", nil, SendOptions{DeliverAt: &at})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Method != notify.DeliverScheduled || res.ScheduledFor == nil || !res.ScheduledFor.Equal(at) {
		t.Fatalf("explicit schedule not honored: %+v", res)
	}
	if res.Delivered {
		t.Fatalf("scheduled sends must wait for the processor")
	}
}

func TestSendBatchIsolation(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	mustTemplate(t, st, notify.Template{
		Name: "wave", Title: "t", Body: "b",
		Priority: notify.PriorityNormal, Category: notify.CategoryGame,
		Channels: []notify.Channel{notify.ChannelInApp},
	})

	off := false
	if _, err := e.Preferences().Update(ctx, 11, &notify.PreferenceUpdate{GameNotifications: &off}); err != nil {
		t.Fatalf("update prefs: %v", err)
	}
	items := e.SendBatch(ctx, []int64{10, 11, 12}, "wave", nil, SendOptions{})
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Result.Skipped || items[0].Error != "" {
		t.Fatalf("user 10 should succeed: %+v", items[0])
	}
	if !items[1].Result.Skipped {
		t.Fatalf("user 11 should be skipped: %+v", items[1])
	}
	if items[2].Result.Skipped || items[2].Error != "" {
		t.Fatalf("user 12 must be unaffected by user 11: %+v", items[2])
	}
}
