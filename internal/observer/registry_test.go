package observer

import (
	"bytes"
	"strings"
	"testing"

	logx "pollguard/pkg/logx"
)

func TestRegistryOrderAndRemoval(t *testing.T) {
	t.Parallel()
	var r Registry[func(*[]string)]

	unA := r.Add(func(out *[]string) { *out = append(*out, "a") })
	r.Add(func(out *[]string) { *out = append(*out, "b") })
	r.Add(func(out *[]string) { *out = append(*out, "c") })

	var got []string
	r.Each(logx.Nop(), func(h func(*[]string)) { h(&got) })
	if strings.Join(got, "") != "abc" {
		t.Fatalf("order = %v, want abc", got)
	}

	unA()
	unA() // idempotent
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	got = nil
	r.Each(logx.Nop(), func(h func(*[]string)) { h(&got) })
	if strings.Join(got, "") != "bc" {
		t.Fatalf("order after removal = %v, want bc", got)
	}
}

func TestRegistrySameHandlerTwice(t *testing.T) {
	t.Parallel()
	var r Registry[func()]
	calls := 0
	h := func() { calls++ }

	un1 := r.Add(h)
	r.Add(h)
	un1()

	r.Each(logx.Nop(), func(f func()) { f() })
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRegistryEachContainsPanics(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := logx.NewJSON(&buf, "debug")

	var r Registry[func()]
	r.Add(func() { panic("first") })
	reached := false
	r.Add(func() { reached = true })

	r.Each(log, func(f func()) { f() })

	if !reached {
		t.Fatal("second handler was not invoked after first panicked")
	}
	if !strings.Contains(buf.String(), "observer panicked") {
		t.Fatalf("expected panic to be logged, got %q", buf.String())
	}
}
