package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pollguard/internal/config"
	"pollguard/internal/eventbus"
	"pollguard/internal/params"
	"pollguard/internal/scheduler"
	"pollguard/internal/storage"
	logx "pollguard/pkg/logx"
)

// TimerFailure is the payload of timer.error events.
type TimerFailure struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
	Err  string `json:"err"`
}

// Heartbeat is the payload of monitor.heartbeat events.
type Heartbeat struct {
	Ran       uint64 `json:"ran"`
	Panics    uint64 `json:"panics"`
	Pending   int    `json:"pending"`
	Repeating int    `json:"repeating"`
	Timeouts  int    `json:"timeouts"`
	Frames    int    `json:"frames"`
	Dropped   uint64 `json:"dropped"`
}

// setErrorRouting (re)installs the rate-limited timer error observer.
func (a *App) setErrorRouting(mc config.MonitorConfig) {
	every, err := config.ParseDurationOrDefault("monitor.error_every", mc.ErrorEvery, config.DefaultErrorEvery)
	if err != nil {
		every = config.DefaultErrorEvery
	}
	h := scheduler.Throttle(a.onTimerError, every, mc.ErrorBurstOrDefault())

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.errUnsub != nil {
		a.errUnsub()
	}
	a.errUnsub = a.sched.OnError(h)
}

func (a *App) onTimerError(ev scheduler.TimerError) {
	msg := "<nil>"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeTimerError,
		Data: TimerFailure{Kind: string(ev.Kind), ID: uint64(ev.ID), Err: msg},
	})
}

func (a *App) onValidationErrors(errs []params.ValidationError) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeParamsInvalid, Data: errs})
}

// auditLoop persists audited events until ctx is done, then drains what is
// already buffered.
func (a *App) auditLoop(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.audit(context.Background(), e)
				default:
					return nil
				}
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.audit(ctx, e)
		}
	}
}

func (a *App) audit(ctx context.Context, e eventbus.Event) {
	entries := auditEntries(e)
	if a.store == nil {
		a.log.Debug("event", logx.String("type", e.Type), logx.Int("entries", len(entries)))
		return
	}
	for _, entry := range entries {
		if err := a.store.AppendAudit(ctx, entry); err != nil {
			a.log.Warn("audit append failed", logx.String("kind", entry.Kind), logx.Err(err))
			return
		}
	}
}

func auditEntries(e eventbus.Event) []storage.AuditEntry {
	switch d := e.Data.(type) {
	case TimerFailure:
		return []storage.AuditEntry{{
			At:      e.Time,
			Kind:    storage.AuditTimerError,
			Subject: fmt.Sprintf("%s#%d", d.Kind, d.ID),
			Detail:  d.Err,
		}}
	case []params.ValidationError:
		out := make([]storage.AuditEntry, 0, len(d))
		for _, ve := range d {
			out = append(out, storage.AuditEntry{
				At:       e.Time,
				Kind:     storage.AuditParamInvalid,
				Subject:  ve.Parameter,
				Detail:   ve.Reason.String(),
				MetaJSON: metaJSON(ve),
			})
		}
		return out
	case StateChange:
		kind := storage.AuditStateInit
		if e.Type == eventbus.TypeStateReset {
			kind = storage.AuditStateReset
		}
		return []storage.AuditEntry{{
			At:       e.Time,
			Kind:     kind,
			Subject:  d.Scope,
			MetaJSON: metaJSON(d),
		}}
	default:
		return nil
	}
}

func metaJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// armMonitor replaces the heartbeat and watchdog schedules.
func (a *App) armMonitor(mc config.MonitorConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disarmMonitorLocked()

	if raw := strings.TrimSpace(mc.Schedule); raw != "" {
		h, err := a.sched.RepeatSchedule(raw, a.beat)
		if err != nil {
			return fmt.Errorf("monitor.schedule: %w", err)
		}
		a.heartbeat = h
	}
	if mc.Watchdog {
		if every := a.sd.WatchdogInterval(); every > 0 {
			a.watchdog = a.sched.Repeat(a.kickWatchdog, every/2)
		} else {
			a.log.Debug("watchdog requested but WatchdogSec is not set")
		}
	}
	return nil
}

func (a *App) disarmMonitorLocked() {
	if a.heartbeat != 0 {
		a.sched.CancelRepeat(a.heartbeat)
		a.heartbeat = 0
	}
	if a.watchdog != 0 {
		a.sched.CancelRepeat(a.watchdog)
		a.watchdog = 0
	}
}

// beat runs on the loop goroutine.
func (a *App) beat() {
	st := a.loop.Stats()
	rep, to, fr := a.host.Active()
	hb := Heartbeat{
		Ran:       st.Ran,
		Panics:    st.Panics,
		Pending:   st.Pending,
		Repeating: rep,
		Timeouts:  to,
		Frames:    fr,
		Dropped:   a.bus.Dropped(),
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeHeartbeat, Time: time.Now(), Data: hb})
	a.log.Debug("heartbeat",
		logx.Uint64("ran", hb.Ran),
		logx.Uint64("panics", hb.Panics),
		logx.Int("repeating", hb.Repeating),
		logx.Uint64("dropped", hb.Dropped),
	)
}

func (a *App) kickWatchdog() {
	if err := a.sd.Watchdog(); err != nil {
		a.log.Warn("systemd watchdog notification failed", logx.Err(err))
	}
}
