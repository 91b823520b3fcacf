package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("state not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON state snapshot + JSONL audit next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit kinds written by the daemon.
const (
	AuditTimerError   = "timer_error"
	AuditParamInvalid = "param_invalid"
	AuditStateReset   = "state_reset"
	AuditStateInit    = "state_init"
)

// AuditEntry records one noteworthy runtime event.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Subject  string    `json:"subject,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
