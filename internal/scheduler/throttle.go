package scheduler

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often h is invoked: at most burst events at once and one
// more per interval after that. Over-limit events are dropped.
//
// Intended for downstream sinks (audit trail, alerts) observing a timer that
// fails on every tick. The scheduler's own diagnostic log is not affected.
func Throttle(h ErrorHandler, every time.Duration, burst int) ErrorHandler {
	if h == nil {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Every(every), burst)
	return func(ev TimerError) {
		if !lim.Allow() {
			return
		}
		h(ev)
	}
}
