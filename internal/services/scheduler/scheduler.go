// Package scheduler runs the engine's periodic jobs on cron specs: the
// due-queue processor and the behavior model refresh.
//
// Each job skips a tick when the previous run is still going, and a
// panicking job is logged and survives to its next tick.
package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "notifyd/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
}

type Job struct {
	Name    string
	Spec    string // cron spec or @every descriptor
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	parser cron.Parser
	c      *cron.Cron
	jobs   []Job

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers a job. Jobs added after Start are picked up immediately.
func (s *Service) Add(j Job) error {
	if j.Run == nil || strings.TrimSpace(j.Spec) == "" {
		return errors.New("scheduler job needs a spec and a run func")
	}
	if _, err := s.parser.Parse(j.Spec); err != nil {
		return err
	}
	if j.Timeout <= 0 {
		j.Timeout = time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	if s.c != nil {
		s.scheduleLocked(j)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.locationLocked()))
	for _, j := range s.jobs {
		s.scheduleLocked(j)
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("jobs", len(s.jobs)),
		logx.String("tz", s.locationLocked().String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	// Wait for running jobs, bounded by the caller's context.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply swaps the config. A timezone change restarts cron so specs fire
// on the new wall clock.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if !changed || s.c == nil {
		return
	}
	s.c.Stop()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.locationLocked()))
	for _, j := range s.jobs {
		s.scheduleLocked(j)
	}
	s.c.Start()
	s.log.Info("scheduler timezone changed", logx.String("tz", s.locationLocked().String()))
}

func (s *Service) scheduleLocked(j Job) {
	var running atomic.Bool
	runCtx := s.runCtx
	_, err := s.c.AddFunc(j.Spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Debug("tick skipped, previous run still active", logx.String("job", j.Name))
			return
		}
		defer running.Store(false)
		s.runJob(runCtx, j)
	})
	if err != nil {
		// Specs are validated in Add; this only fires on programmer error.
		s.log.Error("schedule registration failed", logx.String("job", j.Name), logx.Err(err))
	}
}

func (s *Service) runJob(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job",
				logx.String("job", j.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	jctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	if err := j.Run(jctx); err != nil {
		s.log.Warn("scheduled job failed",
			logx.String("job", j.Name),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done",
		logx.String("job", j.Name),
		logx.Duration("took", time.Since(start)))
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid scheduler timezone, using local", logx.String("tz", tz))
		return time.Local
	}
	return loc
}
