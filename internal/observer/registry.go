// Package observer provides the ordered publish/subscribe registry shared by
// the scheduler and the parameter reconciler.
package observer

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "pollguard/pkg/logx"
)

// Registry is an ordered set of handlers.
//
// Handlers are identified by the token handed out at registration time, so the
// same func value may be registered twice and removed independently.
// Registries are never cleared automatically; callers own unregistration.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries []entry[T]
	seq     atomic.Uint64
}

type entry[T any] struct {
	id uint64
	h  T
}

// Add registers h and returns a func that removes exactly that registration.
// Calling the returned func more than once is a no-op.
func (r *Registry[T]) Add(h T) (unregister func()) {
	id := r.seq.Add(1)

	r.mu.Lock()
	r.entries = append(r.entries, entry[T]{id: id, h: h})
	r.mu.Unlock()

	return func() { r.remove(id) }
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			// keep registration order for the remaining handlers
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len reports the number of registered handlers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the handlers in registration order.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	out := make([]T, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.h)
	}
	r.mu.RUnlock()
	return out
}

// Each calls fn for every handler in registration order.
//
// A panic inside fn is recovered and logged; iteration continues with the
// next handler. Handlers registered or removed during iteration do not affect
// the current pass.
func (r *Registry[T]) Each(log logx.Logger, fn func(h T)) {
	for i, h := range r.Snapshot() {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error("observer panicked",
						logx.Int("index", i),
						logx.String("panic", fmt.Sprint(p)),
						logx.Stack(string(debug.Stack())),
					)
				}
			}()
			fn(h)
		}()
	}
}
