// Package loop is the single-threaded host runtime.
//
// All callbacks posted to a Loop run one at a time on the goroutine executing
// Run, so code scheduled through it never needs locks against other loop
// callbacks. Host arms Go timers whose fires only post work onto the Loop.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "pollguard/pkg/logx"
)

var (
	ErrStopped       = errors.New("loop stopped")
	ErrUnknownHandle = errors.New("unknown handle")
)

type Loop struct {
	log   logx.Logger
	queue chan func()

	stopOnce sync.Once
	stopped  chan struct{}
	running  atomic.Bool

	// Counters are best-effort operational metrics.
	ran    atomic.Uint64
	panics atomic.Uint64
}

// Stats is a point-in-time view of loop counters.
type Stats struct {
	Ran     uint64 `json:"ran"`
	Panics  uint64 `json:"panics"`
	Pending int    `json:"pending"`
}

func New(queueSize int, log logx.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		log:     log,
		queue:   make(chan func(), queueSize),
		stopped: make(chan struct{}),
	}
}

// Post queues fn for execution on the loop goroutine.
// It blocks while the queue is full and returns ErrStopped once the loop exits.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.stopped:
		return ErrStopped
	}
}

// Run executes posted callbacks until ctx is cancelled.
//
// A panic escaping a callback is the host's unhandled-error path: it is logged
// and counted, and the loop keeps running.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("loop already running")
	}
	defer l.stop()

	l.log.Debug("loop started", logx.Int("queue_cap", cap(l.queue)))
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("loop stopped", logx.Uint64("ran", l.ran.Load()))
			return nil
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.panics.Add(1)
			l.log.Error("unhandled panic in loop callback",
				logx.String("panic", fmt.Sprint(p)),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	l.ran.Add(1)
	fn()
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.stopped }

func (l *Loop) Stats() Stats {
	return Stats{Ran: l.ran.Load(), Panics: l.panics.Load(), Pending: len(l.queue)}
}
