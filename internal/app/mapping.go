package app

import (
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/observability/pprof"
	"notifyd/internal/services/behavior"
	"notifyd/internal/services/dispatch"
	"notifyd/internal/services/queue"
	"notifyd/internal/services/scheduler"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Cadence defaults for the periodic jobs.
const (
	defaultProcessorSpec = "@every 30s"
	defaultBehaviorSpec  = "@every 1h"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	timeout, err := config.ParseDurationOrDefault("dispatch.channel_timeout", cfg.Dispatch.ChannelTimeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	if cfg.Dispatch.RatePerSec < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	return dispatch.Config{
		RatePerSec:     cfg.Dispatch.RatePerSec,
		ChannelTimeout: timeout,
	}, nil
}

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	if cfg.Processor.BatchSize < 0 {
		return queue.Config{}, fmt.Errorf("processor.batch_size must be >= 0")
	}
	if cfg.Processor.Workers < 0 {
		return queue.Config{}, fmt.Errorf("processor.workers must be >= 0")
	}
	return queue.Config{
		BatchSize: cfg.Processor.BatchSize,
		Workers:   cfg.Processor.Workers,
	}, nil
}

func mapBehaviorConfig(cfg *config.Config) (behavior.Config, error) {
	if cfg.Behavior.WindowDays < 0 {
		return behavior.Config{}, fmt.Errorf("behavior.window_days must be >= 0")
	}
	return behavior.Config{WindowDays: cfg.Behavior.WindowDays}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if tz := strings.TrimSpace(cfg.Processor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("processor.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Timezone: cfg.Processor.Timezone}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}

func processorSpec(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Processor.Spec); s != "" {
		return s
	}
	return defaultProcessorSpec
}

func behaviorSpec(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Behavior.Spec); s != "" {
		return s
	}
	return defaultBehaviorSpec
}
