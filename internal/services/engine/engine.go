package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/services/analytics"
	"notifyd/internal/services/behavior"
	"notifyd/internal/services/policy"
	"notifyd/internal/services/preference"
	"notifyd/internal/services/queue"
	"notifyd/internal/services/ratelimit"
	"notifyd/internal/services/template"
	logx "notifyd/pkg/logx"
)

// Skip reasons reported in SendResult.
const (
	ReasonCategoryBlocked = "User preferences block this notification type"
	ReasonRateLimited     = "Rate limit exceeded"
	ReasonNoChannels      = "No enabled delivery channels"
)

// SendOptions tweak a single send.
type SendOptions struct {
	// DeliverAt forces a scheduled delivery at the given time, skipping
	// the policy engine's timing decision. Gates still apply.
	DeliverAt *time.Time
}

// SendResult is the outcome of one Send call.
type SendResult struct {
	Skipped      bool                  `json:"skipped"`
	Reason       string                `json:"reason,omitempty"`
	ID           int64                 `json:"id,omitempty"`
	RequestID    string                `json:"request_id,omitempty"`
	Method       notify.DeliveryMethod `json:"method,omitempty"`
	ScheduledFor *time.Time            `json:"scheduled_for,omitempty"`
	Channels     []notify.Channel      `json:"channels,omitempty"`
	Delivered    bool                  `json:"delivered"`
}

// BatchItem is one per-user outcome of SendBatch.
type BatchItem struct {
	UserID int64      `json:"user_id"`
	Result SendResult `json:"result"`
	Error  string     `json:"error,omitempty"`
}

type Engine struct {
	prefs     *preference.Service
	templates *template.Service
	policy    *policy.Engine
	limiter   *ratelimit.Limiter
	queue     *queue.Service
	analytics *analytics.Service
	behavior  *behavior.Service
	bus       eventbus.Bus
	log       logx.Logger
}

func New(
	prefs *preference.Service,
	templates *template.Service,
	pol *policy.Engine,
	limiter *ratelimit.Limiter,
	q *queue.Service,
	an *analytics.Service,
	bh *behavior.Service,
	bus eventbus.Bus,
	log logx.Logger,
) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		prefs:     prefs,
		templates: templates,
		policy:    pol,
		limiter:   limiter,
		queue:     q,
		analytics: an,
		behavior:  bh,
		bus:       bus,
		log:       log,
	}
	// Settings changes shift quiet hours and channels, so the model gets
	// a refresh on its next pass over that user.
	prefs.OnChange(func(userID int64) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := bh.Recompute(ctx, userID, time.Now()); err != nil {
				log.Warn("behavior refresh after settings change failed",
					logx.Int64("user", userID), logx.Err(err))
			}
		}()
	})
	return e
}

// Send runs the full pipeline for one user and template.
func (e *Engine) Send(ctx context.Context, userID int64, templateName string, data map[string]string, opts SendOptions) (SendResult, error) {
	now := time.Now()

	pref, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return SendResult{}, err
	}
	tpl, err := e.templates.Resolve(ctx, templateName)
	if err != nil {
		return SendResult{}, err
	}

	if !e.policy.CategoryAllowed(pref, tpl.Category) {
		e.skip(userID, templateName, ReasonCategoryBlocked)
		return SendResult{Skipped: true, Reason: ReasonCategoryBlocked}, nil
	}
	ok, err := e.limiter.Allow(ctx, pref, now)
	if err != nil {
		return SendResult{}, err
	}
	if !ok {
		e.skip(userID, templateName, ReasonRateLimited)
		return SendResult{Skipped: true, Reason: ReasonRateLimited}, nil
	}

	channels := e.policy.ResolveChannels(pref, tpl.Channels, tpl.Priority)
	if len(channels) == 0 {
		e.skip(userID, templateName, ReasonNoChannels)
		return SendResult{Skipped: true, Reason: ReasonNoChannels}, nil
	}

	profile, err := e.behavior.Profile(ctx, userID)
	if err != nil {
		e.log.Warn("behavior profile lookup failed", logx.Int64("user", userID), logx.Err(err))
		profile = nil
	}

	var decision policy.Decision
	if opts.DeliverAt != nil {
		decision = policy.Decision{Method: notify.DeliverScheduled, ScheduledFor: opts.DeliverAt}
	} else {
		decision = e.policy.Decide(pref, profile, tpl.Priority, now)
	}

	title, body := e.templates.Render(tpl, data)
	n := &notify.Notification{
		RequestID:    uuid.NewString(),
		UserID:       userID,
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		Priority:     tpl.Priority,
		Category:     tpl.Category,
		Channels:     channels,
		Title:        title,
		Body:         body,
		Payload:      data,
		Method:       decision.Method,
		ScheduledFor: decision.ScheduledFor,
		OptimalTime:  decision.OptimalTime,
	}
	id, err := e.queue.Enqueue(ctx, n)
	if err != nil {
		return SendResult{}, err
	}

	res := SendResult{
		ID:           id,
		RequestID:    n.RequestID,
		Method:       decision.Method,
		ScheduledFor: decision.ScheduledFor,
		Channels:     channels,
	}

	// Immediate sends go out in the caller's hand instead of waiting for
	// the next processor tick.
	if decision.Method == notify.DeliverImmediate {
		claimed, sent := e.queue.ProcessOne(ctx, n, now)
		res.Delivered = claimed && sent
	}

	e.log.Info("smart notification sent",
		logx.Int64("user", userID),
		logx.String("template", templateName),
		logx.String("method", string(decision.Method)),
		logx.Int("channels", len(channels)),
		logx.Int64("id", id))
	return res, nil
}

// SendBatch sends the same template to many users. Items are isolated:
// one user's failure or skip never stops the rest.
func (e *Engine) SendBatch(ctx context.Context, userIDs []int64, templateName string, data map[string]string, opts SendOptions) []BatchItem {
	out := make([]BatchItem, 0, len(userIDs))
	for _, uid := range userIDs {
		if ctx.Err() != nil {
			out = append(out, BatchItem{UserID: uid, Error: ctx.Err().Error()})
			continue
		}
		res, err := e.Send(ctx, uid, templateName, data, opts)
		item := BatchItem{UserID: uid, Result: res}
		if err != nil {
			item.Error = err.Error()
		}
		out = append(out, item)
	}
	return out
}

// Suggest surfaces preference optimizations for the user.
func (e *Engine) Suggest(ctx context.Context, userID int64) ([]behavior.Suggestion, error) {
	pref, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.behavior.Suggest(ctx, userID, pref, time.Now())
}

// Accessors for the composed services; the daemon's surfaces talk to
// these rather than re-wiring their own.

func (e *Engine) Preferences() *preference.Service { return e.prefs }
func (e *Engine) Templates() *template.Service     { return e.templates }
func (e *Engine) Queue() *queue.Service            { return e.queue }
func (e *Engine) Analytics() *analytics.Service    { return e.analytics }
func (e *Engine) Behavior() *behavior.Service      { return e.behavior }

func (e *Engine) skip(userID int64, tpl, reason string) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.EventSkipped, Data: map[string]any{
			"user":     userID,
			"template": tpl,
			"reason":   reason,
		}})
	}
	e.log.Debug("notification skipped",
		logx.Int64("user", userID),
		logx.String("template", tpl),
		logx.String("reason", reason))
}
