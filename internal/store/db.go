// Package store implements the local persistent store for placekeep: venue
// entities, curations, curator identities, the durable sync queue, and a flat
// settings table, all in one embedded SQLite database.
//
// The store is the single local writer. Multi-table writes (a data row plus
// its sync queue entry, or a cascade delete) always share one transaction, so
// no caller can ever observe a queue entry without its data row or vice versa.
//
// The database runs in embedded mode with WAL for concurrent reads. Callers
// do not need their own locks; SQLite's transaction mechanism provides the
// only serialization required.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/placekeep/placekeep/internal/record"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with placekeep-specific functionality.
type Store struct {
	conn *sql.DB
	path string

	logger *log.Logger

	// categories is the externally configured curation category set.
	// Empty means no set has been fetched yet and the check is disabled.
	categories []string
}

// Open opens (or creates) the database at path and brings its schema up to
// the version this build expects.
//
// If SQLite reports a corruption-class error, the file is deleted and
// recreated exactly once; local history is lost but the process can continue
// and re-pull from the remote. If the recreate also fails, the returned error
// wraps record.ErrStorageUnavailable and the caller must operate remote-only.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	return OpenWithLogger(path, nil)
}

// OpenWithLogger is Open with a custom logger. A nil logger logs to stderr.
func OpenWithLogger(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	s, err := open(path, logger)
	if err == nil {
		return s, nil
	}
	if !isCorruptionError(err) {
		return nil, err
	}

	// One recovery attempt, never a loop: drop the damaged file and start
	// over with an empty store.
	logger.Printf("WARNING: local store is corrupted, recreating: %v", err)
	removeDatabaseFiles(path)

	s, err = open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: recovery failed: %v", record.ErrStorageUnavailable, err)
	}
	return s, nil
}

func open(path string, logger *log.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single local writer: one connection serializes all transactions.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, logger: logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// isCorruptionError reports whether err belongs to SQLite's corruption class.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database corruption")
}

// removeDatabaseFiles deletes the database file and its WAL sidecars.
func removeDatabaseFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetAllowedCategories installs the externally configured curation category
// set. Curation writes validate their category names against it; an empty
// set disables the check.
func (s *Store) SetAllowedCategories(categories []string) {
	s.categories = categories
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Counts summarizes the store for status displays.
type Counts struct {
	Entities   int `json:"entities"`
	Curations  int `json:"curations"`
	Curators   int `json:"curators"`
	PendingOps int `json:"pending_ops"`
}

// CountRecords returns row counts for the four logical tables.
func (s *Store) CountRecords(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM entities", &c.Entities},
		{"SELECT COUNT(*) FROM curations", &c.Curations},
		{"SELECT COUNT(*) FROM curators", &c.Curators},
		{"SELECT COUNT(*) FROM sync_queue WHERE sync_status = 'pending'", &c.PendingOps},
	} {
		if err := s.conn.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("failed to count records: %w", err)
		}
	}
	return c, nil
}

// begin opens a write transaction.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}
