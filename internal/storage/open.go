package storage

import (
	"context"
	"fmt"
	"strings"

	logx "pollguard/pkg/logx"
)

// Store is the persistence API used by the daemon.
//
// LoadState returns ErrNotFound when nothing was saved for scope.
// SaveState replaces the whole record for scope.
type Store interface {
	LoadState(ctx context.Context, scope string) (map[string]any, error)
	SaveState(ctx context.Context, scope string, values map[string]any) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
