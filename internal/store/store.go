// Package store is the local authoritative repository: sources, libraries,
// media items, home sections and sync checkpoints in SQLite.
//
// Every multi-row mutation runs in one transaction, and canonical values are
// enforced on write so queries can compare them verbatim.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mmcdole/reel/internal/domain"
)

// DatabaseFile is the file name used under the data directory
const DatabaseFile = "reel.db"

// Store manages catalog persistence backed by SQLite
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Repository = (*Store)(nil)

// Open creates or opens the database at path and applies migrations
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrStorage, err)
	}

	// Pragmas go in the DSN so every pooled connection gets them
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", domain.ErrStorage, err)
	}
	// Single writer; keeps transactions from racing for the write lock
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger, now: time.Now}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return s, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// withTx runs fn inside a transaction and commits when it returns nil.
// Errors are wrapped as ErrStorage unless already classified.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.Classify(err) != domain.KindUnknown ||
		errors.Is(err, domain.ErrSourceNotFound) || errors.Is(err, domain.ErrItemNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, op, err)
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// prefixed qualifies each column of a comma-separated list with a table alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
