package config

import (
	"strings"

	logx "notifyd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Paths are logged only as "set or not" when
// they could point somewhere sensitive.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Processor != newCfg.Processor {
		changed = append(changed, "processor")
		attrs = append(attrs,
			logx.Bool("processor.enabled", newCfg.Processor.Enabled),
			logx.String("processor.spec", strings.TrimSpace(newCfg.Processor.Spec)),
			logx.Int("processor.batch_size", newCfg.Processor.BatchSize),
			logx.Int("processor.workers", newCfg.Processor.Workers),
		)
	}

	if oldCfg.Behavior != newCfg.Behavior {
		changed = append(changed, "behavior")
		attrs = append(attrs,
			logx.Bool("behavior.enabled", newCfg.Behavior.Enabled),
			logx.String("behavior.spec", strings.TrimSpace(newCfg.Behavior.Spec)),
			logx.Int("behavior.window_days", newCfg.Behavior.WindowDays),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.String("dispatch.channel_timeout", strings.TrimSpace(newCfg.Dispatch.ChannelTimeout)),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	return changed, attrs
}
