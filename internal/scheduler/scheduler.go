package scheduler

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"pollguard/internal/observer"
	logx "pollguard/pkg/logx"
)

var ErrCronUnsupported = errors.New("host does not support cron schedules")

// cronParser accepts 5-field and 6-field (with seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Scheduler struct {
	host Host
	log  logx.Logger

	observers observer.Registry[ErrorHandler]
}

func New(host Host, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{host: host, log: log}
}

// ValidateSchedule reports whether raw would be accepted by RepeatSchedule
// on a cron-capable host.
func ValidateSchedule(raw string) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := cronParser.Parse(strings.TrimSpace(ps.Cron)); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", ps.Cron, err)
		}
	}
	return nil
}

// OnError registers h and returns its unregister func.
func (s *Scheduler) OnError(h ErrorHandler) (unregister func()) {
	if h == nil {
		return func() {}
	}
	return s.observers.Add(h)
}

// Repeat schedules fn every interval. A panicking fn keeps firing.
func (s *Scheduler) Repeat(fn func(), every time.Duration) Handle {
	id := new(atomic.Uint64)
	h := s.host.SetInterval(s.wrap(fn, KindInterval, id), every)
	id.Store(uint64(h))
	return h
}

// Once schedules fn after the given delay.
func (s *Scheduler) Once(fn func(), after time.Duration) Handle {
	id := new(atomic.Uint64)
	h := s.host.SetTimeout(s.wrap(fn, KindTimeout, id), after)
	id.Store(uint64(h))
	return h
}

// Frame schedules fn before the host's next frame.
func (s *Scheduler) Frame(fn func()) Handle {
	id := new(atomic.Uint64)
	h := s.host.RequestFrame(s.wrap(fn, KindInterval, id))
	id.Store(uint64(h))
	return h
}

// RepeatSchedule parses raw with ParseSchedule and schedules fn accordingly.
// Interval specs use Repeat; cron specs need a CronHost.
// Cancel the returned handle with CancelRepeat.
func (s *Scheduler) RepeatSchedule(raw string, fn func()) (Handle, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return 0, err
	}
	if ps.Kind == SpecInterval {
		return s.Repeat(fn, ps.Every), nil
	}

	ch, ok := s.host.(CronHost)
	if !ok {
		return 0, ErrCronUnsupported
	}
	expr := strings.TrimSpace(ps.Cron)
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	id := new(atomic.Uint64)
	h := ch.SetSchedule(sched, s.wrap(fn, KindInterval, id))
	id.Store(uint64(h))
	return h, nil
}

func (s *Scheduler) CancelRepeat(h Handle) { s.cancel(KindInterval, h, s.host.ClearInterval) }
func (s *Scheduler) CancelOnce(h Handle)   { s.cancel(KindTimeout, h, s.host.ClearTimeout) }
func (s *Scheduler) CancelFrame(h Handle)  { s.cancel("frame", h, s.host.CancelFrame) }

func (s *Scheduler) cancel(kind Kind, h Handle, clear func(Handle) error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Warn("cancel failed", logx.String("kind", string(kind)), logx.Uint64("id", uint64(h)), logx.String("panic", fmt.Sprint(p)))
		}
	}()
	if err := clear(h); err != nil {
		s.log.Warn("cancel failed", logx.String("kind", string(kind)), logx.Uint64("id", uint64(h)), logx.Err(err))
	}
}

func (s *Scheduler) wrap(fn func(), kind Kind, id *atomic.Uint64) func() {
	return func() {
		defer func() {
			if p := recover(); p != nil {
				s.report(TimerError{Err: asError(p), Kind: kind, ID: Handle(id.Load())}, string(debug.Stack()))
			}
		}()
		if fn != nil {
			fn()
		}
	}
}

func (s *Scheduler) report(ev TimerError, stack string) {
	s.log.Error("timer callback failed",
		logx.String("kind", string(ev.Kind)),
		logx.Uint64("id", uint64(ev.ID)),
		logx.Err(ev.Err),
		logx.Stack(stack),
	)
	s.observers.Each(s.log.With(logx.String("kind", string(ev.Kind))), func(h ErrorHandler) { h(ev) })
}

func asError(p any) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}
