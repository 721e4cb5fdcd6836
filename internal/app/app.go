// Package app assembles the notifyd daemon: config, logging, storage,
// the engine services and the periodic jobs, with hot reload for the
// settings that can change live.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/eventbus"
	"notifyd/internal/observability/pprof"
	"notifyd/internal/services/analytics"
	"notifyd/internal/services/behavior"
	"notifyd/internal/services/dispatch"
	"notifyd/internal/services/engine"
	"notifyd/internal/services/policy"
	"notifyd/internal/services/preference"
	"notifyd/internal/services/queue"
	"notifyd/internal/services/ratelimit"
	"notifyd/internal/services/scheduler"
	"notifyd/internal/services/template"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	dispatcher *dispatch.Dispatcher
	queue      *queue.Service
	behavior   *behavior.Service
	engine     *engine.Engine
	sched      *scheduler.Service
	prof       *pprof.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(dc,
		log.With(logx.String("comp", "dispatch")),
		dispatch.DefaultAdapters(log.With(logx.String("comp", "dispatch")))...)

	an := analytics.New(store, log.With(logx.String("comp", "analytics")))

	qc, err := mapQueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	q := queue.New(qc, store, dispatcher, bus, an, log.With(logx.String("comp", "queue")))

	bc, err := mapBehaviorConfig(cfg)
	if err != nil {
		return nil, err
	}
	bh := behavior.New(bc, store, bus, log.With(logx.String("comp", "behavior")))

	eng := engine.New(
		preference.New(store, log.With(logx.String("comp", "preference"))),
		template.New(store, log.With(logx.String("comp", "template"))),
		policy.New(log.With(logx.String("comp", "policy"))),
		ratelimit.New(store, log.With(logx.String("comp", "ratelimit"))),
		q, an, bh, bus,
		log.With(logx.String("comp", "engine")),
	)

	schc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schc, log.With(logx.String("comp", "scheduler")))

	prof := pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof")))

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		dispatcher: dispatcher,
		queue:      q,
		behavior:   bh,
		engine:     eng,
		sched:      sched,
		prof:       prof,
	}, nil
}

// Engine exposes the composed notification engine for embedding callers.
func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	cfg := a.cfgm.Get()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapStorageConfig(c); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(c); err != nil {
			return err
		}
		if _, err := mapQueueConfig(c); err != nil {
			return err
		}
		if _, err := mapBehaviorConfig(c); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(c); err != nil {
			return err
		}
		return nil
	})

	if cfg.Processor.Enabled {
		if err := a.sched.Add(scheduler.Job{
			Name:    "queue.process",
			Spec:    processorSpec(cfg),
			Timeout: 5 * time.Minute,
			Run: func(c context.Context) error {
				_, err := a.queue.ProcessDue(c, time.Now())
				return err
			},
		}); err != nil {
			return err
		}
	}
	if cfg.Behavior.Enabled {
		if err := a.sched.Add(scheduler.Job{
			Name:    "behavior.recompute",
			Spec:    behaviorSpec(cfg),
			Timeout: 10 * time.Minute,
			Run: func(c context.Context) error {
				_, err := a.behavior.RecomputeAll(c, time.Now())
				return err
			},
		}); err != nil {
			return err
		}
	}
	a.sched.Start(runCtx)

	// Profiling is optional; a bad bind must not take the daemon down.
	if err := a.prof.Start(runCtx); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	// Config file watch plus reload fan-out.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	// Event visibility at debug level.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", string(e.Type)), logx.Any("data", e.Data))
			}
		}
	}()

	a.log.Info("notifyd started",
		logx.Bool("processor", cfg.Processor.Enabled),
		logx.Bool("behavior", cfg.Behavior.Enabled))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.prof.Stop(ctx)
	a.sched.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("notifyd stopped")
	return a.logs.Close()
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			lastApplied = newCfg

			a.logs.Apply(mapLoggingConfig(newCfg))

			if dc, err := mapDispatchConfig(newCfg); err == nil {
				a.dispatcher.Apply(dc)
			}
			if qc, err := mapQueueConfig(newCfg); err == nil {
				a.queue.Apply(qc)
			}
			if sc, err := mapSchedulerConfig(newCfg); err == nil {
				a.sched.Apply(sc)
			}
			a.prof.Apply(ctx, mapPprofConfig(newCfg))
			for _, s := range sections {
				if s == "storage" || s == "processor" || s == "behavior" {
					a.log.Warn("section change needs a restart to take full effect",
						logx.String("section", s))
				}
			}
		}
	}
}
