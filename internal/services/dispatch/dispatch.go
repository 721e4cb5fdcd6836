package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

type Config struct {
	RatePerSec     int
	ChannelTimeout time.Duration
}

// Adapter delivers one notification over a single channel.
// Implementations must respect ctx cancellation.
type Adapter interface {
	Channel() notify.Channel
	Deliver(ctx context.Context, n *notify.Notification) error
}

type Dispatcher struct {
	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	adapters map[notify.Channel]Adapter
	log      logx.Logger
}

func New(cfg Config, log logx.Logger, adapters ...Adapter) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		adapters: make(map[notify.Channel]Adapter, len(adapters)),
		log:      log,
	}
	for _, a := range adapters {
		d.adapters[a.Channel()] = a
	}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 10 * time.Second
	}
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Dispatch attempts every channel on the notification in order and
// returns one result per channel. It never short-circuits; the caller
// folds the results into the final row status.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notify.Notification) []notify.DeliveryResult {
	d.mu.Lock()
	lim := d.limiter
	timeout := d.cfg.ChannelTimeout
	d.mu.Unlock()

	results := make([]notify.DeliveryResult, 0, len(n.Channels))
	for _, ch := range n.Channels {
		results = append(results, d.deliverOne(ctx, lim, timeout, ch, n))
	}
	return results
}

func (d *Dispatcher) deliverOne(ctx context.Context, lim *rate.Limiter, timeout time.Duration, ch notify.Channel, n *notify.Notification) notify.DeliveryResult {
	res := notify.DeliveryResult{Channel: ch}

	adapter, ok := d.adapterFor(ch)
	if !ok {
		res.DeliveredAt = time.Now()
		res.Error = fmt.Sprintf("no adapter for channel %q", ch)
		d.log.Warn("dispatch to unknown channel",
			logx.Int64("notification", n.ID),
			logx.String("channel", string(ch)))
		return res
	}

	if err := lim.Wait(ctx); err != nil {
		res.DeliveredAt = time.Now()
		res.Error = err.Error()
		return res
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := deliverSafe(cctx, adapter, n)
	cancel()

	res.DeliveredAt = time.Now()
	if err != nil {
		res.Error = err.Error()
		d.log.Warn("channel delivery failed",
			logx.Int64("notification", n.ID),
			logx.String("channel", string(ch)),
			logx.Err(err))
		return res
	}
	res.Success = true
	d.log.Debug("channel delivered",
		logx.Int64("notification", n.ID),
		logx.String("channel", string(ch)))
	return res
}

func (d *Dispatcher) adapterFor(ch notify.Channel) (Adapter, bool) {
	d.mu.Lock()
	a, ok := d.adapters[ch]
	d.mu.Unlock()
	return a, ok
}

// deliverSafe converts an adapter panic into an error so one channel
// cannot crash the processor.
func deliverSafe(ctx context.Context, a Adapter, n *notify.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return a.Deliver(ctx, n)
}
