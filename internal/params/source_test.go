package params

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "pollguard/pkg/logx"
)

func TestParseLocationForms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{"a=1&b=2", "1"},
		{"?a=1", "1"},
		{"/bench?a=1", "1"},
		{"https://h.example/x?a=1#top", "1"},
		{"", ""},
	}
	for _, tt := range tests {
		loc, err := ParseLocation(tt.raw)
		if err != nil {
			t.Fatalf("ParseLocation(%q): %v", tt.raw, err)
		}
		if got := loc.Query().Get("a"); got != tt.want {
			t.Fatalf("ParseLocation(%q).a = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLocationQueryIsACopy(t *testing.T) {
	t.Parallel()
	loc, _ := ParseLocation("?a=1")
	q := loc.Query()
	q.Set("a", "2")
	if loc.Query().Get("a") != "1" {
		t.Fatal("mutating the returned query must not change the location")
	}
}

func TestLocationReplaceKeepsPathAndFragment(t *testing.T) {
	t.Parallel()
	loc, _ := ParseLocation("https://h.example/run/x?a=1&b=2#frag")
	if err := loc.Replace(url.Values{"b": {"2"}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := loc.String(); got != "https://h.example/run/x?b=2#frag" {
		t.Fatalf("String = %s", got)
	}
	_ = loc.Replace(url.Values{})
	if got := loc.String(); got != "https://h.example/run/x#frag" {
		t.Fatalf("String after empty replace = %s", got)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()
	src := NewFileSource(filepath.Join(t.TempDir(), "params.url"))
	if q := src.Query(); len(q) != 0 {
		t.Fatalf("missing file should be empty, got %v", q)
	}
}

func TestFileSourceConsumesOnce(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "params.url")
	if err := os.WriteFile(path, []byte("/bench?speed=4&note=keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewFileSource(path)
	r := NewReconciler(src, nil, logx.Nop())

	specs := []Spec{{Name: "speed", Default: 1}}
	first := r.ParseAndClean(specs)
	if first.Values["speed"] != 4 || !first.HasAnyParams {
		t.Fatalf("first = %+v", first)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(b)); got != "/bench?note=keep" {
		t.Fatalf("file after clean = %q", got)
	}

	second := r.ParseAndClean(specs)
	if second.HasAnyParams || second.Values["speed"] != 1 {
		t.Fatalf("second = %+v", second)
	}
}

func TestFileSourceReplaceCreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "params.url")
	src := NewFileSource(path)
	if err := src.Replace(url.Values{"a": {"5"}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if src.Query().Get("a") != "5" {
		t.Fatalf("Query after Replace = %v", src.Query())
	}
	if src.Path() != path {
		t.Fatalf("Path = %s", src.Path())
	}
}
