package loop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"pollguard/internal/scheduler"
	logx "pollguard/pkg/logx"
)

const (
	// minInterval mirrors the clamping browsers apply to zero/negative delays.
	minInterval = time.Millisecond

	DefaultFrameRate = 60
)

// Host implements scheduler.Host and scheduler.CronHost on top of a Loop.
//
// Timers fire on their own goroutines but only post work; every callback runs
// on the loop goroutine. Cancelling a handle discards any post still queued for
// it. A callback that already started runs to completion.
type Host struct {
	loop *Loop
	log  logx.Logger

	frameEvery time.Duration
	epoch      time.Time

	seq atomic.Uint64

	mu         sync.Mutex
	repeating  map[scheduler.Handle]chan struct{}
	timeouts   map[scheduler.Handle]*time.Timer
	frames     map[scheduler.Handle]func()
	frameOrder []scheduler.Handle
	frameArmed bool
	// flushing holds the batch of the frame being run.
	flushing map[scheduler.Handle]func()
}

var (
	_ scheduler.Host     = (*Host)(nil)
	_ scheduler.CronHost = (*Host)(nil)
)

// NewHost returns a Host posting to l. frameRate <= 0 uses DefaultFrameRate.
func NewHost(l *Loop, frameRate int, log logx.Logger) *Host {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Host{
		loop:       l,
		log:        log,
		frameEvery: time.Second / time.Duration(frameRate),
		epoch:      time.Now(),
		repeating:  map[scheduler.Handle]chan struct{}{},
		timeouts:   map[scheduler.Handle]*time.Timer{},
		frames:     map[scheduler.Handle]func(){},
	}
}

func (h *Host) nextID() scheduler.Handle { return scheduler.Handle(h.seq.Add(1)) }

// issued reports whether id was ever handed out by this host.
func (h *Host) issued(id scheduler.Handle) bool {
	return id != 0 && uint64(id) <= h.seq.Load()
}

func (h *Host) post(fn func()) error {
	err := h.loop.Post(fn)
	if err != nil {
		h.log.Trace("post dropped", logx.Err(err))
	}
	return err
}

func (h *Host) SetInterval(fn func(), every time.Duration) scheduler.Handle {
	if every < minInterval {
		every = minInterval
	}
	id, stop := h.addRepeating()
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-h.loop.Done():
				return
			case <-t.C:
				_ = h.post(h.repeatTick(id, fn))
			}
		}
	}()
	return id
}

// SetSchedule fires fn at every activation of s until ClearInterval.
func (h *Host) SetSchedule(s cron.Schedule, fn func()) scheduler.Handle {
	id, stop := h.addRepeating()
	go func() {
		for {
			next := s.Next(time.Now())
			if next.IsZero() {
				return
			}
			t := time.NewTimer(time.Until(next))
			select {
			case <-stop:
				t.Stop()
				return
			case <-h.loop.Done():
				t.Stop()
				return
			case <-t.C:
				_ = h.post(h.repeatTick(id, fn))
			}
		}
	}()
	return id
}

func (h *Host) addRepeating() (scheduler.Handle, chan struct{}) {
	id := h.nextID()
	stop := make(chan struct{})
	h.mu.Lock()
	h.repeating[id] = stop
	h.mu.Unlock()
	return id, stop
}

func (h *Host) repeatTick(id scheduler.Handle, fn func()) func() {
	return func() {
		h.mu.Lock()
		_, live := h.repeating[id]
		h.mu.Unlock()
		if live {
			fn()
		}
	}
}

func (h *Host) ClearInterval(id scheduler.Handle) error {
	if !h.issued(id) {
		return ErrUnknownHandle
	}
	h.mu.Lock()
	stop, ok := h.repeating[id]
	delete(h.repeating, id)
	h.mu.Unlock()
	if ok {
		close(stop)
	}
	return nil
}

func (h *Host) SetTimeout(fn func(), after time.Duration) scheduler.Handle {
	if after < 0 {
		after = 0
	}
	id := h.nextID()
	// Hold mu while arming so the fire can never observe a missing entry.
	h.mu.Lock()
	h.timeouts[id] = time.AfterFunc(after, func() {
		err := h.post(func() {
			h.mu.Lock()
			_, live := h.timeouts[id]
			delete(h.timeouts, id)
			h.mu.Unlock()
			if live {
				fn()
			}
		})
		if err != nil {
			// the loop is gone; nothing will ever run this timeout
			h.mu.Lock()
			delete(h.timeouts, id)
			h.mu.Unlock()
		}
	})
	h.mu.Unlock()
	return id
}

func (h *Host) ClearTimeout(id scheduler.Handle) error {
	if !h.issued(id) {
		return ErrUnknownHandle
	}
	h.mu.Lock()
	t, ok := h.timeouts[id]
	delete(h.timeouts, id)
	h.mu.Unlock()
	if ok {
		t.Stop()
	}
	return nil
}

// RequestFrame runs fn at the next frame boundary together with every other
// frame callback requested before it. Callbacks requested while a frame is
// being flushed run on the following frame.
func (h *Host) RequestFrame(fn func()) scheduler.Handle {
	id := h.nextID()
	h.mu.Lock()
	h.frames[id] = fn
	h.frameOrder = append(h.frameOrder, id)
	arm := !h.frameArmed
	h.frameArmed = true
	h.mu.Unlock()

	if arm {
		time.AfterFunc(h.untilNextFrame(time.Now()), func() { _ = h.post(h.flushFrames) })
	}
	return id
}

func (h *Host) untilNextFrame(now time.Time) time.Duration {
	elapsed := now.Sub(h.epoch) % h.frameEvery
	return h.frameEvery - elapsed
}

// flushFrames runs the current batch. Each entry is taken out of the batch
// right before it runs, so a callback can cancel a later one in the same frame.
func (h *Host) flushFrames() {
	h.mu.Lock()
	order := h.frameOrder
	h.flushing = h.frames
	h.frameOrder = nil
	h.frames = map[scheduler.Handle]func(){}
	h.frameArmed = false
	h.mu.Unlock()

	for _, id := range order {
		h.mu.Lock()
		fn, ok := h.flushing[id]
		delete(h.flushing, id)
		h.mu.Unlock()
		if ok {
			// one failing callback must not starve the rest of the frame
			h.loop.exec(fn)
		}
	}

	h.mu.Lock()
	h.flushing = nil
	h.mu.Unlock()
}

func (h *Host) CancelFrame(id scheduler.Handle) error {
	if !h.issued(id) {
		return ErrUnknownHandle
	}
	h.mu.Lock()
	delete(h.frames, id)
	delete(h.flushing, id)
	h.mu.Unlock()
	return nil
}

// Active reports the number of live repeating schedules, pending timeouts and
// pending frame callbacks.
func (h *Host) Active() (repeating, timeouts, frames int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.repeating), len(h.timeouts), len(h.frames) + len(h.flushing)
}
