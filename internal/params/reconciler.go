// Package params turns externally supplied parameters into a fully defaulted
// record, reports rejected values asynchronously and decides whether such
// input should override persisted state.
//
// Nothing in this package returns an error or panics to its caller: malformed
// or rejected values fall back to their defaults and are delivered to
// ValidationHandlers after a short grace period.
package params

import (
	"fmt"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"pollguard/internal/observer"
	"pollguard/internal/scheduler"
	logx "pollguard/pkg/logx"
)

// DefaultGracePeriod delays validation error delivery so handlers that are
// wired up during startup still see errors from the initial parse.
const DefaultGracePeriod = 100 * time.Millisecond

// Deferrer schedules a one-shot callback; *scheduler.Scheduler satisfies it.
type Deferrer interface {
	Once(fn func(), after time.Duration) scheduler.Handle
}

type Reconciler struct {
	src   Source
	later Deferrer
	log   logx.Logger
	grace atomic.Int64 // time.Duration

	observers observer.Registry[ValidationHandler]
}

type Option func(*Reconciler)

func WithGracePeriod(d time.Duration) Option {
	return func(r *Reconciler) { r.SetGracePeriod(d) }
}

// NewReconciler builds a Reconciler reading from src.
// A nil Deferrer delivers validation errors synchronously.
func NewReconciler(src Source, d Deferrer, log logx.Logger, opts ...Option) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reconciler{src: src, later: d, log: log}
	r.grace.Store(int64(DefaultGracePeriod))
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetGracePeriod changes the delivery delay for subsequent parses.
// Negative values are treated as zero.
func (r *Reconciler) SetGracePeriod(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.grace.Store(int64(d))
}

func (r *Reconciler) GracePeriod() time.Duration { return time.Duration(r.grace.Load()) }

// OnValidationError registers h and returns its unregister func.
func (r *Reconciler) OnValidationError(h ValidationHandler) (unregister func()) {
	if h == nil {
		return func() {}
	}
	return r.observers.Add(h)
}

// ParseAndClean reads every spec from the source.
//
// Absent names get their default. Present names set HasAnyParams and are
// parsed as base-10 integers. Parsing is strict: "12abc", "1.5" and
// out-of-range numbers are NotANumber, never a prefix. Values that fail to
// parse or fail the spec's validator fall back to the default and produce a
// ValidationError, delivered after the grace period. When any declared name
// was present, those names are removed from the source so the same one-time
// parameters are not applied twice.
func (r *Reconciler) ParseAndClean(specs []Spec) Parsed {
	q := r.query()
	out := Parsed{Values: make(map[string]int, len(specs))}

	var (
		errs     []ValidationError
		consumed []string
	)
	for _, sp := range specs {
		if sp.Name == HasAnyParamsKey {
			r.log.Error("parameter name is reserved; spec skipped", logx.String("name", sp.Name))
			continue
		}
		raw, present := lookup(q, sp.Name)
		if !present {
			out.Values[sp.Name] = sp.Default
			continue
		}
		out.HasAnyParams = true
		consumed = append(consumed, sp.Name)

		v, err := strconv.Atoi(strings.TrimSpace(raw))
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Parameter: sp.Name, Provided: raw, DefaultUsed: sp.Default, Reason: ReasonNotANumber})
			out.Values[sp.Name] = sp.Default
		case !r.accepts(sp, v):
			errs = append(errs, ValidationError{Parameter: sp.Name, Provided: raw, DefaultUsed: sp.Default, Reason: ReasonFailedValidator})
			out.Values[sp.Name] = sp.Default
		default:
			out.Values[sp.Name] = v
		}
	}

	if len(errs) > 0 {
		r.deliverLater(errs)
	}
	if out.HasAnyParams {
		r.scrub(consumed)
	}

	r.log.Debug("parameters parsed",
		logx.Int("specs", len(specs)),
		logx.Bool("has_any", out.HasAnyParams),
		logx.Int("rejected", len(errs)),
	)
	return out
}

// EmitValidationErrors fans errs out to every handler in registration order.
// A panicking handler is logged and skipped. Empty input is a no-op.
func (r *Reconciler) EmitValidationErrors(errs []ValidationError) {
	if len(errs) == 0 {
		return
	}
	for _, e := range errs {
		r.log.Warn("parameter rejected",
			logx.String("param", e.Parameter),
			logx.String("provided", e.Provided),
			logx.Int("default", e.DefaultUsed),
			logx.String("reason", e.Reason.String()),
		)
	}
	r.observers.Each(r.log, func(h ValidationHandler) {
		h(append([]ValidationError(nil), errs...))
	})
}

func (r *Reconciler) deliverLater(errs []ValidationError) {
	if r.later == nil {
		r.EmitValidationErrors(errs)
		return
	}
	r.later.Once(func() { r.EmitValidationErrors(errs) }, r.GracePeriod())
}

func (r *Reconciler) accepts(sp Spec, v int) (ok bool) {
	if sp.Validate == nil {
		return true
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("validator panicked; treating value as invalid",
				logx.String("param", sp.Name),
				logx.String("panic", fmt.Sprint(p)),
				logx.Stack(string(debug.Stack())),
			)
			ok = false
		}
	}()
	return sp.Validate(v)
}

func (r *Reconciler) query() (q url.Values) {
	if r.src == nil {
		return url.Values{}
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("reading parameter source failed", logx.String("panic", fmt.Sprint(p)))
			q = url.Values{}
		}
	}()
	q = r.src.Query()
	if q == nil {
		q = url.Values{}
	}
	return q
}

func (r *Reconciler) scrub(keys []string) {
	if r.src == nil || len(keys) == 0 {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("cleaning parameter source failed", logx.String("panic", fmt.Sprint(p)))
		}
	}()
	q := r.src.Query()
	for _, k := range keys {
		q.Del(k)
	}
	if err := r.src.Replace(q); err != nil {
		r.log.Warn("cleaning parameter source failed", logx.Err(err), logx.Strings("keys", keys))
		return
	}
	r.log.Debug("consumed parameters removed from source", logx.Strings("keys", keys))
}

// lookup returns the first value for name; a key with no values is present
// with an empty value.
func lookup(q url.Values, name string) (string, bool) {
	vs, ok := q[name]
	if !ok {
		return "", false
	}
	if len(vs) == 0 {
		return "", true
	}
	return vs[0], true
}
