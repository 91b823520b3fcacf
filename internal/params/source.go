package params

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Source is the external, addressable parameter location.
//
// Query returns a copy the caller may mutate. Replace swaps the query part
// and keeps everything else (path, fragment) as is.
type Source interface {
	Query() url.Values
	Replace(q url.Values) error
}

// Location is an in-process Source backed by a URL.
type Location struct {
	mu sync.RWMutex
	u  url.URL
}

var _ Source = (*Location)(nil)

// ParseLocation parses raw as a URL. A bare query ("a=1&b=2" or "?a=1")
// is accepted too.
func ParseLocation(raw string) (*Location, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "?") {
		raw = "?" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse location: %w", err)
	}
	return &Location{u: *u}, nil
}

func (l *Location) Query() url.Values {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.u.Query()
}

func (l *Location) Replace(q url.Values) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.u.RawQuery = q.Encode()
	l.u.ForceQuery = false
	return nil
}

func (l *Location) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.u.String()
}

// FileSource keeps the location in a file so one-time parameters survive a
// restart until they have been consumed.
//
// A missing file is an empty location. Replace writes atomically
// (temp file + rename).
type FileSource struct {
	path string
	mu   sync.Mutex
}

var _ Source = (*FileSource)(nil)

func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (f *FileSource) Path() string { return f.path }

func (f *FileSource) load() (*Location, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Location{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseLocation(string(b))
}

// Query returns the current parameters. Read failures yield an empty set;
// the next Replace surfaces persistent I/O problems.
func (f *FileSource) Query() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, err := f.load()
	if err != nil {
		return url.Values{}
	}
	return loc.Query()
}

func (f *FileSource) Replace(q url.Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, err := f.load()
	if err != nil {
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	if err := loc.Replace(q); err != nil {
		return err
	}
	return writeFileAtomic(f.path, []byte(loc.String()+"\n"))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
