// Package store persists pipeline and arbitration state in SQLite.
//
// All writes are keyed upserts on natural keys, so concurrent batch workers
// never need locks beyond the single-row upsert SQLite already serializes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the database handle shared by all repositories.
type Store struct {
	DB *sql.DB

	busyRetries uint
}

// Options tune how the database is opened.
type Options struct {
	// BusyTimeout is PRAGMA busy_timeout (default: 10s).
	BusyTimeout time.Duration
	// BusyRetries is the number of attempts for a write that hits SQLITE_BUSY (default: 3).
	BusyRetries uint
}

func (o *Options) withDefaults() {
	if o.BusyTimeout == 0 {
		o.BusyTimeout = 10 * time.Second
	}
	if o.BusyRetries == 0 {
		o.BusyRetries = 3
	}
}

// Open opens (or creates) the database at path, applies pragmas and the schema.
func Open(path string, opts Options) (*Store, error) {
	opts.withDefaults()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Every ":memory:" connection is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{DB: db, busyRetries: opts.BusyRetries}, nil
}

// OpenMemory opens an in-memory store for tests and closes it on cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:", Options{})
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// IsBusy reports whether err indicates an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn inside a transaction, retrying when SQLite reports BUSY.
func (s *Store) RunTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retry.Do(
		func() error {
			tx, err := s.DB.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin tx: %w", err)
			}
			if err := fn(tx); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.busyRetries),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsBusy),
		retry.LastErrorOnly(true),
	)
}

// exec runs a single statement with the same BUSY retry policy as RunTx.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry.Do(
		func() error {
			var err error
			res, err = s.DB.ExecContext(ctx, query, args...)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.busyRetries),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsBusy),
		retry.LastErrorOnly(true),
	)
	return res, err
}

// Timestamps are stored as RFC3339Nano UTC text.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
