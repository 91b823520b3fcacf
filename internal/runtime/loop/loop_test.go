package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pollguard/internal/scheduler"
	logx "pollguard/pkg/logx"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(64, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

// onLoop runs fn on the loop and waits for it.
func onLoop(t *testing.T, l *Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := l.Post(func() { fn(); close(done) }); err != nil {
		t.Fatalf("Post: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not run posted callback")
	}
}

func TestLoopRunsCallbacksOneAtATime(t *testing.T) {
	l := startLoop(t)

	var inFlight, maxInFlight, ran atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = l.Post(func() {
					n := inFlight.Add(1)
					if n > maxInFlight.Load() {
						maxInFlight.Store(n)
					}
					time.Sleep(10 * time.Microsecond)
					inFlight.Add(-1)
					ran.Add(1)
				})
			}
		}()
	}
	wg.Wait()
	waitFor(t, 2*time.Second, func() bool { return ran.Load() == 200 })

	if maxInFlight.Load() != 1 {
		t.Fatalf("max concurrent callbacks = %d, want 1", maxInFlight.Load())
	}
}

func TestLoopSurvivesPanickingCallback(t *testing.T) {
	l := startLoop(t)

	_ = l.Post(func() { panic("unhandled") })
	ran := false
	onLoop(t, l, func() { ran = true })

	if !ran {
		t.Fatal("loop stopped after panic")
	}
	if got := l.Stats().Panics; got != 1 {
		t.Fatalf("Panics = %d, want 1", got)
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(1, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = l.Run(ctx); close(done) }()
	cancel()
	<-done

	if err := l.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Post after stop = %v, want ErrStopped", err)
	}
	if err := l.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}
}

func TestHostRepeatingFailureKeepsFiring(t *testing.T) {
	l := startLoop(t)
	host := NewHost(l, 0, logx.Nop())
	s := scheduler.New(host, logx.Nop())

	var a, b atomic.Int64
	var order []string
	var mu sync.Mutex
	s.OnError(func(scheduler.TimerError) {
		a.Add(1)
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
	})
	s.OnError(func(scheduler.TimerError) {
		b.Add(1)
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	})

	h := s.Repeat(func() { panic("probe failed") }, 2*time.Millisecond)
	waitFor(t, 2*time.Second, func() bool { return b.Load() >= 3 })
	s.CancelRepeat(h)

	var settled int64
	onLoop(t, l, func() { settled = a.Load() })
	time.Sleep(20 * time.Millisecond)
	var after int64
	onLoop(t, l, func() { after = a.Load() })
	if after != settled {
		t.Fatalf("interval fired after cancel: %d -> %d", settled, after)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i+1 < len(order); i += 2 {
		if order[i] != "a" || order[i+1] != "b" {
			t.Fatalf("observer order broken at %d: %v", i, order)
		}
	}
}

func TestHostTimeoutAndCancel(t *testing.T) {
	l := startLoop(t)
	host := NewHost(l, 0, logx.Nop())

	var fired atomic.Int64
	host.SetTimeout(func() { fired.Add(1) }, time.Millisecond)
	cancelled := host.SetTimeout(func() { fired.Add(100) }, 20*time.Millisecond)
	if err := host.ClearTimeout(cancelled); err != nil {
		t.Fatalf("ClearTimeout: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	onLoop(t, l, func() {})
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired = %d, want 1", got)
	}

	// already fired / already cleared handles are no-ops
	if err := host.ClearTimeout(cancelled); err != nil {
		t.Fatalf("second ClearTimeout: %v", err)
	}
	if err := host.ClearTimeout(12345); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("ClearTimeout(unknown) = %v, want ErrUnknownHandle", err)
	}
	if err := host.ClearInterval(0); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("ClearInterval(0) = %v, want ErrUnknownHandle", err)
	}
}

func TestHostFramesRunInRequestOrder(t *testing.T) {
	l := startLoop(t)
	host := NewHost(l, 120, logx.Nop())

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		host.RequestFrame(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	skipped := host.RequestFrame(func() { panic("cancelled frame ran") })
	if err := host.CancelFrame(skipped); err != nil {
		t.Fatalf("CancelFrame: %v", err)
	}
	host.RequestFrame(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not flushed")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("frame order = %v, want [1 2 3]", got)
	}
	if l.Stats().Panics != 0 {
		t.Fatal("cancelled frame callback ran")
	}
}

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestHostSetSchedule(t *testing.T) {
	l := startLoop(t)
	host := NewHost(l, 0, logx.Nop())

	var n atomic.Int64
	h := host.SetSchedule(everySchedule(2*time.Millisecond), func() { n.Add(1) })
	waitFor(t, 2*time.Second, func() bool { return n.Load() >= 3 })

	if err := host.ClearInterval(h); err != nil {
		t.Fatalf("ClearInterval: %v", err)
	}
	if rep, _, _ := host.Active(); rep != 0 {
		t.Fatalf("repeating = %d after clear, want 0", rep)
	}
}

func TestHostFrameCancelledByEarlierFrameInBatch(t *testing.T) {
	l := startLoop(t)
	host := NewHost(l, 120, logx.Nop())
	s := scheduler.New(host, logx.Nop())

	ranB := make(chan struct{}, 1)
	done := make(chan struct{})
	var b scheduler.Handle
	onLoop(t, l, func() {
		s.Frame(func() { s.CancelFrame(b) })
		b = s.Frame(func() { ranB <- struct{}{} })
		s.Frame(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not flushed")
	}
	select {
	case <-ranB:
		t.Fatal("frame callback ran after being cancelled earlier in the same frame")
	default:
	}
	if _, _, fr := host.Active(); fr != 0 {
		t.Fatalf("pending frames = %d after flush, want 0", fr)
	}
}

func TestHostTimeoutAfterStopIsForgotten(t *testing.T) {
	l := New(1, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	cancel()
	<-l.Done()

	host := NewHost(l, 0, logx.Nop())
	host.SetTimeout(func() {}, 0)
	waitFor(t, 2*time.Second, func() bool {
		_, to, _ := host.Active()
		return to == 0
	})
}

func TestTimerErrorCarriesHandleWhenScheduledOnLoop(t *testing.T) {
	l := startLoop(t)
	host := NewHost(l, 0, logx.Nop())
	s := scheduler.New(host, logx.Nop())

	got := make(chan scheduler.TimerError, 1)
	s.OnError(func(ev scheduler.TimerError) { got <- ev })

	var h scheduler.Handle
	onLoop(t, l, func() { h = s.Once(func() { panic("boom") }, 0) })

	select {
	case ev := <-got:
		if ev.ID != h || ev.Kind != scheduler.KindTimeout {
			t.Fatalf("TimerError = %+v, want ID %d", ev, h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no timer error reported")
	}
}
