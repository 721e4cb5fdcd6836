package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "notifyd/pkg/logx"
)

func TestAddValidatesSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	err := s.Add(Job{Name: "bad", Spec: "not-a-spec", Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatal("invalid spec must be rejected")
	}
	err = s.Add(Job{Name: "norun", Spec: "@every 1s"})
	if err == nil {
		t.Fatal("missing run func must be rejected")
	}
	if err := s.Add(Job{Name: "ok", Spec: "*/5 * * * *", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("valid cron spec rejected: %v", err)
	}
	if err := s.Add(Job{Name: "ok2", Spec: "@every 30s", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
}

func TestJobsRunAndSurviveFailures(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	var runs atomic.Int32
	err := s.Add(Job{
		Name: "flaky",
		Spec: "@every 10ms",
		Run: func(ctx context.Context) error {
			n := runs.Add(1)
			if n == 1 {
				return errors.New("first run fails")
			}
			if n == 2 {
				panic("second run panics")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	deadline := time.After(3 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("job did not keep running, runs=%d", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	var active, overlaps atomic.Int32
	release := make(chan struct{})
	err := s.Add(Job{
		Name:    "slow",
		Spec:    "@every 10ms",
		Timeout: 5 * time.Second,
		Run: func(ctx context.Context) error {
			if active.Add(1) > 1 {
				overlaps.Add(1)
			}
			defer active.Add(-1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	close(release)
	s.Stop(context.Background())

	if overlaps.Load() != 0 {
		t.Fatalf("ticks overlapped %d times", overlaps.Load())
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	started := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)
	err := s.Add(Job{
		Name:    "waiter",
		Spec:    "@every 10ms",
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			select {
			case stopped <- struct{}{}:
			default:
			}
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop(context.Background())
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("job context was not cancelled on stop")
	}
}
