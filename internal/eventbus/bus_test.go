package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unAll := b.Subscribe(4)
	defer unAll()
	timers, unTimers := b.Subscribe(4, TypeTimerError)
	defer unTimers()

	b.Publish(Event{Type: TypeTimerError, Data: "x"})
	b.Publish(Event{Type: TypeStateReset})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(timers); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-timers
	if e.Type != TypeTimerError || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeHeartbeat})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped = %d, want 4", got)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() { defer wg.Done(); unsub(); unsub() }()
		go func() { defer wg.Done(); b.Publish(Event{Type: TypeParamsInvalid}) }()
	}
	wg.Wait()
}
