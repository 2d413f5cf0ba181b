package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/placekeep/placekeep/internal/record"
)

// expectedSchemaVersion is the schema version this build requires. Bump it
// when appending to the migrations list.
const expectedSchemaVersion = 3

// migration is one numbered schema delta. Each runs in its own transaction
// and is recorded in schema_migrations only after it commits, so a failed
// step leaves the store at the previous version, never halfway.
type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial layout", migrateInitial},
	{2, "flatten entity status out of state blob", migrateFlattenStatus},
	{3, "external catalog ids, retire lookup cache", migrateExternalIDs},
}

// Migrate brings the on-disk schema up to expectedSchemaVersion, applying
// every intermediate step in order.
//
// If, after all upgrades, the recorded version still differs from what this
// build expects, the data file was written by different code (typically a
// newer build, or a stale cached binary) and the returned error wraps
// record.ErrSchemaMismatch. Callers should surface it loudly ("upgrade
// placekeep or use a fresh data directory") rather than degrade silently.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY CHECK(version > 0),
			applied_at  TEXT NOT NULL,
			description TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.version, m.description, err)
		}
		s.logger.Printf("Applied schema migration %d: %s", m.version, m.description)
	}

	final, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if final != expectedSchemaVersion {
		return fmt.Errorf("%w: store is at schema version %d but this build expects %d; "+
			"upgrade placekeep (or remove the stale data file) before continuing",
			record.ErrSchemaMismatch, final, expectedSchemaVersion)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version, 0 for a fresh
// database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.apply(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.version, time.Now().UTC().Format(time.RFC3339), m.description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// migrateInitial creates the version-1 layout. Entity status originally
// lived inside the state JSON blob; version 2 flattens it.
func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS entities (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		name        TEXT NOT NULL,
		state       TEXT NOT NULL DEFAULT '{}',  -- JSON, holds status pre-v2
		latitude    REAL,
		longitude   REAL,
		metadata    TEXT,  -- JSON array of provenance records
		freeform    TEXT,  -- opaque JSON payload
		created_by  TEXT,
		version     INTEGER NOT NULL DEFAULT 1,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		change_tag  TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS curations (
		id           TEXT PRIMARY KEY,
		entity_id    TEXT NOT NULL,
		curator_id   TEXT NOT NULL,
		curator_name TEXT,
		categories   TEXT,  -- JSON map: category -> concepts
		note_public  TEXT,
		note_private TEXT,
		version      INTEGER NOT NULL DEFAULT 1,
		sync_status  TEXT NOT NULL DEFAULT 'pending',
		change_tag   TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS curators (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		email          TEXT,
		status         TEXT NOT NULL DEFAULT 'active',
		created_at     TEXT NOT NULL,
		last_active_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		record_type     TEXT NOT NULL,
		action          TEXT NOT NULL,
		local_record_id TEXT NOT NULL,
		remote_key      TEXT,
		payload         TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		retry_count     INTEGER NOT NULL DEFAULT 0,
		sync_status     TEXT NOT NULL DEFAULT 'pending',
		last_error      TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Response cache for the venue search provider. Unused since the search
	-- layer moved out of process; retired by migration 3.
	CREATE TABLE IF NOT EXISTS lookup_cache (
		query     TEXT PRIMARY KEY,
		response  TEXT,
		cached_at TEXT
	);

	-- Import and sync workloads iterate by-creator and by-creator-since.
	CREATE INDEX IF NOT EXISTS idx_entities_created_by ON entities(created_by);
	CREATE INDEX IF NOT EXISTS idx_entities_creator_created ON entities(created_by, created_at);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);

	-- The dominant curation query is "curator X's opinion on entity Y".
	CREATE INDEX IF NOT EXISTS idx_curations_entity ON curations(entity_id);
	CREATE INDEX IF NOT EXISTS idx_curations_entity_curator ON curations(entity_id, curator_id);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(sync_status, seq);
	`)
	return err
}

// migrateFlattenStatus moves entity status from the state JSON blob into a
// real column. Every existing row is read, transformed, and written back
// before the version is considered applied.
func migrateFlattenStatus(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`ALTER TABLE entities ADD COLUMN status TEXT NOT NULL DEFAULT 'active'`); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, "SELECT id, state FROM entities")
	if err != nil {
		return err
	}
	type flattened struct {
		id     string
		status string
	}
	var updates []flattened
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			rows.Close()
			return err
		}
		var blob struct {
			Status string `json:"status"`
		}
		status := string(record.EntityStatusActive)
		if state != "" && state != "{}" {
			if err := json.Unmarshal([]byte(state), &blob); err == nil && blob.Status != "" {
				status = blob.Status
			}
		}
		updates = append(updates, flattened{id, status})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			"UPDATE entities SET status = ? WHERE id = ?", u.status, u.id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `ALTER TABLE entities DROP COLUMN state`); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status)")
	return err
}

// migrateExternalIDs adds the foreign catalog key used for exact-match
// deduplication, and retires the lookup_cache table as an explicit,
// documented step (tables are never dropped silently).
func migrateExternalIDs(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	ALTER TABLE entities ADD COLUMN external_id TEXT;
	CREATE INDEX IF NOT EXISTS idx_entities_external_id
	    ON entities(external_id) WHERE external_id IS NOT NULL;
	DROP TABLE IF EXISTS lookup_cache;
	`)
	return err
}
