package config

import (
	"reflect"
	"strings"

	logx "pollguard/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and structured
// attrs describing the new values. The parameter URL is reduced to whether
// it is set since it may carry one-time values.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Runtime != newCfg.Runtime {
		changed = append(changed, "runtime")
		attrs = append(attrs,
			logx.Int("runtime.frame_rate", newCfg.Runtime.FrameRateOrDefault()),
			logx.Int("runtime.queue_size", newCfg.Runtime.QueueSizeOrDefault()),
		)
	}

	op, np := oldCfg.Params, newCfg.Params
	if strings.TrimSpace(op.URL) != strings.TrimSpace(np.URL) ||
		strings.TrimSpace(op.File) != strings.TrimSpace(np.File) ||
		op.ScopeOrDefault() != np.ScopeOrDefault() ||
		strings.TrimSpace(op.GracePeriod) != strings.TrimSpace(np.GracePeriod) ||
		!reflect.DeepEqual(op.Specs, np.Specs) {
		changed = append(changed, "params")
		attrs = append(attrs,
			logx.Bool("params.url_set", strings.TrimSpace(np.URL) != ""),
			logx.String("params.file", strings.TrimSpace(np.File)),
			logx.String("params.scope", np.ScopeOrDefault()),
			logx.String("params.grace_period", strings.TrimSpace(np.GracePeriod)),
			logx.Int("params.spec_count", len(np.Specs)),
		)
	}

	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.schedule", strings.TrimSpace(newCfg.Monitor.Schedule)),
			logx.Bool("monitor.watchdog", newCfg.Monitor.Watchdog),
			logx.String("monitor.error_every", strings.TrimSpace(newCfg.Monitor.ErrorEvery)),
			logx.Int("monitor.error_burst", newCfg.Monitor.ErrorBurstOrDefault()),
		)
	}

	oldSt, ns := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldSt != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.String("storage.path", strings.TrimSpace(ns.Path)),
		)
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "runtime", "storage":
			out = append(out, c)
		}
	}
	return out
}
