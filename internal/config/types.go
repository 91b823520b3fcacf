package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Runtime sizes the single-threaded host loop.
	Runtime RuntimeConfig `json:"runtime"`

	// Params declares the one-time parameters read at startup.
	Params ParamsConfig `json:"params"`

	Monitor MonitorConfig  `json:"monitor"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Format of stdout output: "console" (default) or "json".
	Format  string      `json:"format,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RuntimeConfig controls the host loop.
//
// Defaults (when fields are omitted/zero):
//   - frame_rate: 60
//   - queue_size: 256
type RuntimeConfig struct {
	FrameRate int `json:"frame_rate,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// ParamsConfig describes where parameters come from and which ones exist.
//
// Exactly one of URL and File is normally set. File wins when both are:
// a file keeps unconsumed parameters across restarts.
//
// Example:
//
//	params:
//	  url: "https://bench.local/run?speed=3"
//	  scope: bench
//	  grace_period: 100ms
//	  specs:
//	    - { name: speed, default: 1, min: 1, max: 5 }
type ParamsConfig struct {
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`

	// Scope keys the persisted state record. Default: "default".
	Scope string `json:"scope,omitempty"`

	// GracePeriod is a Go duration string. Default: "100ms".
	GracePeriod string `json:"grace_period,omitempty"`

	Specs []ParamSpec `json:"specs"`
}

// ParamSpec is one declared integer parameter. Min, Max and OneOf combine;
// all configured checks must accept a value.
type ParamSpec struct {
	Name    string `json:"name"`
	Default int    `json:"default"`
	Min     *int   `json:"min,omitempty"`
	Max     *int   `json:"max,omitempty"`
	OneOf   []int  `json:"one_of,omitempty"`
}

// MonitorConfig controls the heartbeat and error reporting.
//
// Schedule accepts everything scheduler.ParseSchedule does
// ("every:30s", "cron:0 */5 * * * *", "@hourly", "15m"). Empty disables
// the heartbeat.
//
// ErrorEvery/ErrorBurst rate-limit timer errors forwarded to the event bus
// and audit trail. Defaults: "1s" and 5.
type MonitorConfig struct {
	Schedule   string `json:"schedule,omitempty"`
	Watchdog   bool   `json:"watchdog,omitempty"`
	ErrorEvery string `json:"error_every,omitempty"`
	ErrorBurst int    `json:"error_burst,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pollguard.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
