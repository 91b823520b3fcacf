package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultScope      = "default"
	DefaultFrameRate  = 60
	DefaultQueueSize  = 256
	DefaultErrorEvery = time.Second
	DefaultErrorBurst = 5

	// reservedParamName mirrors params.HasAnyParamsKey.
	reservedParamName = "hasAnyParams"
)

// Validate checks structural rules that do not need any runtime component.
// All problems are reported together.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: %q is not console or json", c.Logging.Format))
	}
	if c.Runtime.FrameRate < 0 || c.Runtime.FrameRate > 1000 {
		errs = append(errs, fmt.Errorf("runtime.frame_rate: must be between 0 and 1000"))
	}
	if c.Runtime.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("runtime.queue_size: must be >= 0"))
	}
	if _, err := ParseDurationField("params.grace_period", c.Params.GracePeriod); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("monitor.error_every", c.Monitor.ErrorEvery); err != nil {
		errs = append(errs, err)
	}
	if c.Monitor.ErrorBurst < 0 {
		errs = append(errs, fmt.Errorf("monitor.error_burst: must be >= 0"))
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]struct{}, len(c.Params.Specs))
	for i, sp := range c.Params.Specs {
		path := fmt.Sprintf("params.specs[%d]", i)
		name := strings.TrimSpace(sp.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s.name: required", path))
			continue
		case name != sp.Name:
			errs = append(errs, fmt.Errorf("%s.name: %q has surrounding whitespace", path, sp.Name))
		case name == reservedParamName:
			errs = append(errs, fmt.Errorf("%s.name: %q is reserved", path, name))
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = struct{}{}
		if sp.Min != nil && sp.Max != nil && *sp.Min > *sp.Max {
			errs = append(errs, fmt.Errorf("%s: min %d > max %d", path, *sp.Min, *sp.Max))
		}
	}
	return errors.Join(errs...)
}

// ScopeOrDefault returns the persisted state key.
func (p ParamsConfig) ScopeOrDefault() string {
	if s := strings.TrimSpace(p.Scope); s != "" {
		return s
	}
	return DefaultScope
}

func (r RuntimeConfig) FrameRateOrDefault() int {
	if r.FrameRate <= 0 {
		return DefaultFrameRate
	}
	return r.FrameRate
}

func (r RuntimeConfig) QueueSizeOrDefault() int {
	if r.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return r.QueueSize
}

func (m MonitorConfig) ErrorBurstOrDefault() int {
	if m.ErrorBurst <= 0 {
		return DefaultErrorBurst
	}
	return m.ErrorBurst
}
