package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestJSONLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "info").With(String("comp", "test"))

	log.Debug("hidden")
	log.Warn("visible", Int("n", 3), Err(errors.New("boom")))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	got := lines[0]
	if got["message"] != "visible" || got["level"] != "warn" {
		t.Fatalf("unexpected line: %v", got)
	}
	if got["comp"] != "test" || got["n"] != float64(3) || got["err"] != "boom" {
		t.Fatalf("missing fields: %v", got)
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:<line>", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("must not panic", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop() should not be zero")
	}
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("to file", String("k", "v"))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 1 || lines[0]["k"] != "v" {
		t.Fatalf("unexpected file content: %s", b)
	}

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("filtered")
	if log.Enabled(LevelInfo) {
		t.Fatal("info should be disabled after Apply(level=error)")
	}
	if got := svc.Config().Level; got != "error" {
		t.Fatalf("Config().Level = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"trace", LevelTrace},
		{" DEBUG ", LevelDebug},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestServiceJSONStdout(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "info", Format: "json", Console: true, Out: &buf})
	t.Cleanup(func() { _ = svc.Close() })

	log.With(String("comp", "loop")).Info("tick", Uint64("ran", 7))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 || lines[0]["comp"] != "loop" || lines[0]["ran"] != float64(7) {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	svc.Apply(Config{Level: "info", Console: true, Out: &buf})
	log.Info("pretty")
	if out := buf.String(); !strings.Contains(out, "pretty") || strings.HasPrefix(out, "{") {
		t.Fatalf("console output = %q", out)
	}
}
