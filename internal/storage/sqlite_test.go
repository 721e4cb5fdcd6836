package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "notifyd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insertQueued(t *testing.T, st Store, userID int64, prio notify.Priority, scheduled *time.Time) int64 {
	t.Helper()
	id, err := st.InsertNotification(context.Background(), &notify.Notification{
		RequestID:    "req-test",
		UserID:       userID,
		TemplateID:   1,
		TemplateName: "welcome",
		Priority:     prio,
		Category:     notify.CategorySystem,
		Channels:     []notify.Channel{notify.ChannelInApp},
		Title:        "t",
		Body:         "b",
		Method:       notify.DeliverImmediate,
		ScheduledFor: scheduled,
	})
	if err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	return id
}

func TestPreferenceDefaultsAndUpdate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p, err := st.GetPreference(ctx, 7)
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	if p != nil {
		t.Fatalf("expected no row before first insert, got %+v", p)
	}

	p, err = st.InsertDefaultPreference(ctx, 7)
	if err != nil {
		t.Fatalf("insert defaults: %v", err)
	}
	if !p.InApp || !p.Email || !p.Push || !p.SMS {
		t.Fatalf("default channels must all be enabled: %+v", p)
	}
	if p.MaxPerHour != 10 || p.MaxPerDay != 50 {
		t.Fatalf("default limits wrong: hour=%d day=%d", p.MaxPerHour, p.MaxPerDay)
	}
	if p.QuietHoursEnabled {
		t.Fatalf("quiet hours must default off")
	}
	if p.QuietHoursStart != "22:00" || p.QuietHoursEnd != "08:00" {
		t.Fatalf("quiet hours window defaults wrong: %s-%s", p.QuietHoursStart, p.QuietHoursEnd)
	}

	off := false
	tz := "Asia/Jakarta"
	if err := st.UpdatePreference(ctx, 7, &notify.PreferenceUpdate{Email: &off, QuietHoursTimezone: &tz}); err != nil {
		t.Fatalf("update preference: %v", err)
	}
	p, err = st.GetPreference(ctx, 7)
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	if p.Email {
		t.Fatalf("email should be disabled after update")
	}
	if !p.Push {
		t.Fatalf("untouched fields must keep their values")
	}
	if p.QuietHoursTimezone != tz {
		t.Fatalf("timezone not applied: %s", p.QuietHoursTimezone)
	}

	if err := st.ResetPreference(ctx, 7); err != nil {
		t.Fatalf("reset preference: %v", err)
	}
	p, err = st.GetPreference(ctx, 7)
	if err != nil {
		t.Fatalf("get preference after reset: %v", err)
	}
	if p != nil {
		t.Fatalf("reset must drop the row so defaults apply again")
	}
}

func TestUpdatePreferenceMissingUser(t *testing.T) {
	st := openTestStore(t)
	on := true
	err := st.UpdatePreference(context.Background(), 404, &notify.PreferenceUpdate{Email: &on})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplateNewestActiveVersionWins(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mk := func(version int, active bool, title string) {
		t.Helper()
		_, err := st.InsertTemplate(ctx, &notify.Template{
			Name: "bonus", Version: version, Active: active,
			Title: title, Body: "b",
			Priority: notify.PriorityNormal, Category: notify.CategoryGame,
			Channels: []notify.Channel{notify.ChannelInApp, notify.ChannelPush},
		})
		if err != nil {
			t.Fatalf("insert template v%d: %v", version, err)
		}
	}
	mk(1, true, "old")
	mk(2, true, "new")
	mk(3, false, "draft")

	tpl, err := st.GetTemplate(ctx, "bonus")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tpl.Version != 2 || tpl.Title != "new" {
		t.Fatalf("expected newest active version 2, got v%d %q", tpl.Version, tpl.Title)
	}

	if _, err := st.GetTemplate(ctx, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown template, got %v", err)
	}
}

func TestSelectDueOrderingAndFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	lowID := insertQueued(t, st, 1, notify.PriorityLow, nil)
	critID := insertQueued(t, st, 1, notify.PriorityCritical, nil)
	future := now.Add(time.Hour)
	insertQueued(t, st, 1, notify.PriorityHigh, &future)
	past := now.Add(-time.Minute)
	highID := insertQueued(t, st, 1, notify.PriorityHigh, &past)

	due, err := st.SelectDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected 3 due rows, got %d", len(due))
	}
	if due[0].ID != critID || due[1].ID != highID || due[2].ID != lowID {
		t.Fatalf("wrong order: got %d,%d,%d", due[0].ID, due[1].ID, due[2].ID)
	}
}

func TestClaimNotificationRace(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	id := insertQueued(t, st, 1, notify.PriorityNormal, nil)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ClaimNotification(ctx, id, time.Now())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", wins)
	}

	n, err := st.GetNotification(ctx, id)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != notify.StatusProcessing {
		t.Fatalf("expected processing after claim, got %s", n.Status)
	}
}

func TestFinishRequiresProcessing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	id := insertQueued(t, st, 1, notify.PriorityNormal, nil)

	if err := st.FinishNotification(ctx, id, notify.StatusSent, now); err != ErrNotFound {
		t.Fatalf("finish on queued row must fail, got %v", err)
	}
	if ok, _ := st.ClaimNotification(ctx, id, now); !ok {
		t.Fatalf("claim failed")
	}
	if err := st.FinishNotification(ctx, id, notify.StatusSent, now); err != nil {
		t.Fatalf("finish: %v", err)
	}

	n, err := st.GetNotification(ctx, id)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != notify.StatusSent {
		t.Fatalf("expected sent, got %s", n.Status)
	}
	if n.SentAt == nil {
		t.Fatalf("sent_at must be set on sent rows")
	}
}

func TestCountRecentExcludesCancelled(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	insertQueued(t, st, 5, notify.PriorityNormal, nil)
	id := insertQueued(t, st, 5, notify.PriorityNormal, nil)
	if ok, err := st.CancelNotification(ctx, 5, id, now); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	insertQueued(t, st, 6, notify.PriorityNormal, nil)

	n, err := st.CountRecentNotifications(ctx, 5, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count recent: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled rows must not count toward the window, got %d", n)
	}
}

func TestReadDismissSnoozeLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	id := insertQueued(t, st, 9, notify.PriorityNormal, nil)
	if ok, _ := st.MarkNotificationRead(ctx, 9, id, now); ok {
		t.Fatalf("queued row must not be markable read")
	}
	if ok, _ := st.ClaimNotification(ctx, id, now); !ok {
		t.Fatalf("claim failed")
	}
	if err := st.FinishNotification(ctx, id, notify.StatusSent, now); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if ok, err := st.MarkNotificationRead(ctx, 9, id, now); err != nil || !ok {
		t.Fatalf("mark read: ok=%v err=%v", ok, err)
	}
	if ok, err := st.SnoozeNotification(ctx, 9, id, now.Add(30*time.Minute)); err != nil || !ok {
		t.Fatalf("snooze: ok=%v err=%v", ok, err)
	}

	n, err := st.GetNotification(ctx, id)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != notify.StatusSnoozed {
		t.Fatalf("expected snoozed, got %s", n.Status)
	}
	if n.SnoozedUntil == nil {
		t.Fatalf("snoozed_until must be recorded")
	}
	if n.ReadAt == nil {
		t.Fatalf("read_at must survive the snooze")
	}

	if ok, _ := st.DismissNotification(ctx, 9, id, now); ok {
		t.Fatalf("snoozed row must not be dismissible")
	}
}

func TestEngagementFlagsAndSummary(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 4; i++ {
		_, err := st.InsertEngagement(ctx, &notify.EngagementFact{
			UserID: 3, NotificationID: int64(100 + i), TemplateID: 1,
			Delivered: i < 3, SentAt: now.Add(-time.Duration(i) * time.Hour),
			Results: []notify.DeliveryResult{{Channel: notify.ChannelInApp, Success: i < 3, DeliveredAt: now}},
		})
		if err != nil {
			t.Fatalf("insert engagement: %v", err)
		}
	}

	ok, err := st.SetEngagementFlags(ctx, 3, 100, true, false, false, 0.6)
	if err != nil || !ok {
		t.Fatalf("set flags: ok=%v err=%v", ok, err)
	}
	// Flags never regress.
	ok, err = st.SetEngagementFlags(ctx, 3, 100, false, true, false, 0.2)
	if err != nil || !ok {
		t.Fatalf("set flags again: ok=%v err=%v", ok, err)
	}

	facts, err := st.ListEngagementFacts(ctx, 3, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("list facts: %v", err)
	}
	if len(facts) != 4 {
		t.Fatalf("expected 4 facts, got %d", len(facts))
	}
	var flagged *notify.EngagementFact
	for _, f := range facts {
		if f.NotificationID == 100 {
			flagged = f
		}
	}
	if flagged == nil || !flagged.Opened || !flagged.Clicked {
		t.Fatalf("expected opened and clicked to both stick: %+v", flagged)
	}
	if flagged.EngagementScore != 0.6 {
		t.Fatalf("score must keep its maximum, got %f", flagged.EngagementScore)
	}

	sum, err := st.EngagementSummary(ctx, 3, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 4 || sum.Delivered != 3 {
		t.Fatalf("summary counts wrong: %+v", sum)
	}
	if sum.DeliveryRate != 0.75 {
		t.Fatalf("delivery rate wrong: %f", sum.DeliveryRate)
	}

	users, err := st.ActiveAnalyticsUsers(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	if len(users) != 1 || users[0] != 3 {
		t.Fatalf("expected user 3 active, got %v", users)
	}
}

func TestBehaviorProfileRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p, err := st.GetBehaviorProfile(ctx, 11)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil profile before first upsert")
	}

	in := &notify.BehaviorProfile{
		UserID:            11,
		ActiveHours:       []int{9, 12, 20},
		ActiveDays:        []int{1, 3, 5},
		EngagementRate:    0.42,
		PreferredChannels: []notify.Channel{notify.ChannelPush, notify.ChannelInApp},
		OptimalHours:      []int{9, 20},
		ChurnRisk:         0.1,
		ValueScore:        0.8,
		LastCalculated:    time.Now(),
	}
	if err := st.UpsertBehaviorProfile(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	in.EngagementRate = 0.5
	if err := st.UpsertBehaviorProfile(ctx, in); err != nil {
		t.Fatalf("upsert update: %v", err)
	}

	p, err = st.GetBehaviorProfile(ctx, 11)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.EngagementRate != 0.5 {
		t.Fatalf("upsert must replace, got rate %f", p.EngagementRate)
	}
	if len(p.OptimalHours) != 2 || p.OptimalHours[0] != 9 {
		t.Fatalf("optimal hours lost: %v", p.OptimalHours)
	}
	if len(p.PreferredChannels) != 2 || p.PreferredChannels[0] != notify.ChannelPush {
		t.Fatalf("preferred channels lost: %v", p.PreferredChannels)
	}
}

func TestHistoryAndPendingViews(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := insertQueued(t, st, 2, notify.PriorityNormal, nil)
	b := insertQueued(t, st, 2, notify.PriorityNormal, nil)
	if ok, _ := st.ClaimNotification(ctx, b, now); !ok {
		t.Fatalf("claim failed")
	}
	if err := st.FinishNotification(ctx, b, notify.StatusFailed, now); err != nil {
		t.Fatalf("finish: %v", err)
	}

	pending, err := st.ListPendingNotifications(ctx, 2, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != a {
		t.Fatalf("failed rows must not be pending: %+v", pending)
	}

	hist, err := st.ListNotificationHistory(ctx, 2, 10, 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history must include every status, got %d", len(hist))
	}

	if ok, err := st.DeleteNotification(ctx, 2, a); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	removed, err := st.ClearNotifications(ctx, 2)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 remaining row cleared, got %d", removed)
	}
}
