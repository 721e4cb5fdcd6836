package config

// Config is the full notifyd configuration.
//
// Accepted as JSON or YAML (YAML is coerced to JSON so both formats share the
// strict decoder). Unknown fields are rejected so typos are caught at load
// time rather than silently ignored.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage configures the durable store backing the queue, preferences,
	// templates, analytics and behavior profiles.
	Storage StorageConfig `json:"storage"`

	// Processor controls the periodic queue sweep that claims and dispatches
	// due notifications.
	Processor ProcessorConfig `json:"processor"`

	// Behavior controls the periodic per-user behavior model recompute.
	Behavior BehaviorConfig `json:"behavior"`

	// Dispatch controls channel delivery pacing and timeouts.
	Dispatch DispatchConfig `json:"dispatch"`

	// Pprof exposes Go's profiling endpoints over HTTP. Off by default.
	Pprof PprofConfig `json:"pprof"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ProcessorConfig controls the queue processor.
//
// Spec is a cron expression or @every interval (robfig/cron syntax).
//
// Defaults (when fields are omitted/zero):
//   - spec: "@every 30s"
//   - batch_size: 100
//   - workers: 4
type ProcessorConfig struct {
	Enabled   bool   `json:"enabled"`
	Spec      string `json:"spec,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
	Workers   int    `json:"workers,omitempty"`

	// Timezone for cron trigger evaluation (IANA name). Quiet-hours matching
	// always uses each user's stored timezone, never this one.
	Timezone string `json:"timezone,omitempty"`
}

// BehaviorConfig controls the behavior model updater cadence.
//
// Defaults:
//   - spec: "@every 1h"
//   - window_days: 30
type BehaviorConfig struct {
	Enabled    bool   `json:"enabled"`
	Spec       string `json:"spec,omitempty"`
	WindowDays int    `json:"window_days,omitempty"`
}

// DispatchConfig controls channel delivery.
//
// RatePerSec paces outbound sends across all channels; ChannelTimeout bounds
// a single adapter call so one hung transport cannot stall a batch.
//
// Defaults:
//   - rate_per_sec: 20
//   - channel_timeout: "10s"
type DispatchConfig struct {
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	ChannelTimeout string `json:"channel_timeout,omitempty"`
}

// PprofConfig controls the optional profiling HTTP server.
//
// Binding to a non-loopback address requires token (or allow_insecure).
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
