package storage

import (
	"context"
	"errors"
	"strings"

	logx "cptbot/pkg/logx"
)

// Store is the minimal history API used by the checker and the bridge.
type Store interface {
	AppendSend(ctx context.Context, r SendRecord) error
	RecentSends(ctx context.Context, limit int) ([]SendRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
