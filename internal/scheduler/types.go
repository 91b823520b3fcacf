package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Handle is the opaque identifier returned by a Host.
// The scheduler never interprets it; zero means "no handle".
type Handle uint64

// Kind tags a TimerError with the primitive that produced it.
type Kind string

const (
	KindInterval Kind = "interval"
	KindTimeout  Kind = "timeout"
)

// TimerError is built at the moment a wrapped callback panics.
// Frame callbacks are reported as KindInterval.
//
// ID is the handle returned when the callback was scheduled. It is recorded
// after the host returns that handle, so a callback scheduled off the host's
// thread that fails before then reports ID 0. Scheduling from the host's own
// thread (the loop goroutine) always yields the real handle.
type TimerError struct {
	Err  error
	Kind Kind
	ID   Handle
}

func (e TimerError) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " callback failed"
	}
	return string(e.Kind) + " callback failed: " + e.Err.Error()
}

func (e TimerError) Unwrap() error { return e.Err }

// ErrorHandler observes callback failures.
type ErrorHandler func(TimerError)

// Host is the underlying scheduling runtime.
//
// Implementations must not block and must return comparable handles.
// Clear* may return an error (or panic) for unknown handles; the scheduler
// contains both.
type Host interface {
	SetInterval(fn func(), every time.Duration) Handle
	SetTimeout(fn func(), after time.Duration) Handle
	RequestFrame(fn func()) Handle

	ClearInterval(h Handle) error
	ClearTimeout(h Handle) error
	CancelFrame(h Handle) error
}

// CronHost is implemented by hosts that can fire on a cron schedule.
// Handles returned by SetSchedule are cancelled with ClearInterval.
type CronHost interface {
	SetSchedule(s cron.Schedule, fn func()) Handle
}
