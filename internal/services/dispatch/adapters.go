package dispatch

import (
	"context"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// InAppAdapter acknowledges in-app delivery. The queue row itself is the
// in-app inbox record; once the row is marked sent it shows up in the
// user's pending list, so delivery here has nothing left to do.
type InAppAdapter struct {
	log logx.Logger
}

func NewInApp(log logx.Logger) *InAppAdapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &InAppAdapter{log: log}
}

func (a *InAppAdapter) Channel() notify.Channel { return notify.ChannelInApp }

func (a *InAppAdapter) Deliver(ctx context.Context, n *notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// LogAdapter stands in for outbound transports that are wired up per
// deployment (SMTP relay, push gateway, SMS provider). It acknowledges
// delivery after logging the send, which keeps the full pipeline running
// in environments without provider credentials.
type LogAdapter struct {
	channel notify.Channel
	log     logx.Logger
}

func NewLogAdapter(channel notify.Channel, log logx.Logger) *LogAdapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogAdapter{channel: channel, log: log}
}

func (a *LogAdapter) Channel() notify.Channel { return a.channel }

func (a *LogAdapter) Deliver(ctx context.Context, n *notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.log.Info("outbound notification",
		logx.String("channel", string(a.channel)),
		logx.Int64("user", n.UserID),
		logx.String("template", n.TemplateName),
		logx.String("title", n.Title))
	return nil
}

// DefaultAdapters wires every known channel with its default transport.
func DefaultAdapters(log logx.Logger) []Adapter {
	return []Adapter{
		NewInApp(log),
		NewLogAdapter(notify.ChannelEmail, log),
		NewLogAdapter(notify.ChannelPush, log),
		NewLogAdapter(notify.ChannelSMS, log),
	}
}
