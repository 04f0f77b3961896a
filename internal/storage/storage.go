// Package storage persists finished job runs so operators can inspect
// execution history across restarts. Schedules themselves are never
// persisted; the job table is config, not state.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"desyncd/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures run-history persistence.
//
// Driver values:
//   - "" or "none": disabled
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 means default
}

// RunRecord is one finished job run. Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time
	RunID    string
	JobID    string
	Duration time.Duration
	OK       bool
	Error    string
}

// Store is the minimal persistence API used by the stats collector.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	RecentRuns(ctx context.Context, jobID string, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) if storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
