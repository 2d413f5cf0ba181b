package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/placekeep/placekeep/internal/record"
)

const entityColumns = `id, type, name, status, external_id, latitude, longitude,
	metadata, freeform, created_by, version, sync_status, change_tag,
	created_at, updated_at`

// CreateEntity validates the entity, generates an id if absent, and inserts
// the row together with its `create` queue entry in one transaction.
//
// Returns the persisted entity with generated id, timestamps, version 1, and
// sync status pending.
func (s *Store) CreateEntity(ctx context.Context, e *record.Entity) (*record.Entity, error) {
	e.SetDefaults(time.Now().UTC())
	if err := e.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := insertEntityTx(ctx, tx, e); err != nil {
		return nil, err
	}
	if err := enqueueTx(ctx, tx, record.RecordTypeEntity, record.ActionCreate, e.ID, e); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entity create: %w", err)
	}
	return e, nil
}

// GetEntity retrieves a single entity by id. Missing ids return an error
// wrapping record.ErrNotFound.
func (s *Store) GetEntity(ctx context.Context, id string) (*record.Entity, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", record.ErrNotFound, id)
	}
	return e, err
}

// FindEntityByExternalID returns the entity carrying the given foreign
// catalog key, or nil if none does. Used by the exact-match dedup path.
func (s *Store) FindEntityByExternalID(ctx context.Context, externalID string) (*record.Entity, error) {
	if externalID == "" {
		return nil, nil
	}
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE external_id = ?", externalID)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// EntityFilter configures ListEntities.
type EntityFilter struct {
	// Type filters by entity type (empty = all types).
	Type record.EntityType
	// Status filters by exact status. When empty, inactive entities are
	// excluded unless IncludeInactive is set.
	Status record.EntityStatus
	// CreatedBy filters by creating curator (empty = all curators).
	CreatedBy string
	// Since keeps only entities created at or after this time.
	Since time.Time
	// IncludeInactive includes inactive entities in the default listing.
	IncludeInactive bool
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results (for pagination).
	Offset int
}

// ListEntities retrieves entities matching the filter, ordered by creation
// time. The by-creator and by-creator-since combinations hit the composite
// index; import and sync workloads iterate this path repeatedly.
func (s *Store) ListEntities(ctx context.Context, filter EntityFilter) ([]*record.Entity, error) {
	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	} else if !filter.IncludeInactive {
		conditions = append(conditions, "status != ?")
		args = append(args, string(record.EntityStatusInactive))
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}

	query := "SELECT " + entityColumns + " FROM entities"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite only accepts OFFSET after a LIMIT clause; -1 means unbounded.
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// EntityPatch is a partial update to an entity. Nil fields are left alone.
type EntityPatch struct {
	Name         *string
	Type         *record.EntityType
	Status       *record.EntityStatus
	ExternalID   *string
	Latitude     *float64
	Longitude    *float64
	FreeformData json.RawMessage

	// AddMetadata appends provenance records to the entity's ordered trail.
	AddMetadata []record.Provenance
}

func (p EntityPatch) applyTo(e *record.Entity) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.ExternalID != nil {
		e.ExternalID = *p.ExternalID
	}
	if p.Latitude != nil {
		e.Latitude = p.Latitude
	}
	if p.Longitude != nil {
		e.Longitude = p.Longitude
	}
	if p.FreeformData != nil {
		e.FreeformData = p.FreeformData
	}
	if len(p.AddMetadata) > 0 {
		e.Metadata = append(e.Metadata, p.AddMetadata...)
	}
}

// UpdateEntity applies a patch under optimistic concurrency.
//
// If expectedChangeTag is non-empty and does not match the stored value, the
// update fails with a *record.ConflictError carrying the stored row's version
// and tag, and nothing is mutated. On success one transaction bumps the
// version, regenerates the change tag, re-marks the row pending, and writes
// an `update` queue entry.
func (s *Store) UpdateEntity(ctx context.Context, id string, patch EntityPatch, expectedChangeTag string) (*record.Entity, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	e, err := s.updateEntityTx(ctx, tx, id, patch, expectedChangeTag)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entity update: %w", err)
	}
	return e, nil
}

func (s *Store) updateEntityTx(ctx context.Context, tx *sql.Tx, id string, patch EntityPatch, expectedChangeTag string) (*record.Entity, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", record.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if expectedChangeTag != "" && expectedChangeTag != e.ChangeTag {
		return nil, &record.ConflictError{
			RecordID:         e.ID,
			CurrentVersion:   e.Version,
			CurrentChangeTag: e.ChangeTag,
		}
	}

	patch.applyTo(e)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.Touch(time.Now().UTC())

	if err := writeEntityTx(ctx, tx, e); err != nil {
		return nil, err
	}
	if err := enqueueTx(ctx, tx, record.RecordTypeEntity, record.ActionUpdate, e.ID, e); err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEntity deletes an entity and everything that hangs off it: all of its
// curations, the entity row, and exactly one `delete` queue entry for the
// entity, in one transaction. Curation deletions ride along without their own
// queue entries because the remote cascades the same way.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: entity %s", record.ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM curations WHERE entity_id = ?", id); err != nil {
		return fmt.Errorf("failed to cascade curations for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", id, err)
	}
	if err := enqueueTx(ctx, tx, record.RecordTypeEntity, record.ActionDelete, id, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entity delete: %w", err)
	}
	return nil
}

// BulkCreateEntities inserts many entities at once. Every item is validated
// before any transaction opens: one bad record rejects the whole batch, so
// an import can never land partially. The rows and their queue entries are
// then written in a single transaction; per-row transactions would be one to
// two orders of magnitude slower on the import path.
func (s *Store) BulkCreateEntities(ctx context.Context, entities []*record.Entity) ([]string, error) {
	now := time.Now().UTC()
	for i, e := range entities {
		e.SetDefaults(now)
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		if err := insertEntityTx(ctx, tx, e); err != nil {
			return nil, err
		}
		if err := enqueueTx(ctx, tx, record.RecordTypeEntity, record.ActionCreate, e.ID, e); err != nil {
			return nil, err
		}
		ids = append(ids, e.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bulk create: %w", err)
	}
	return ids, nil
}

// BulkUpdateItem pairs an entity id with the patch to apply to it.
type BulkUpdateItem struct {
	ID    string
	Patch EntityPatch
}

// BulkUpdateEntities applies patches best-effort: an item referencing a
// missing id is skipped and logged, not fatal to the batch, but each item's
// row+queue write is still atomic. Returns the number of entities updated.
func (s *Store) BulkUpdateEntities(ctx context.Context, items []BulkUpdateItem) (int, error) {
	updated := 0
	for _, item := range items {
		if _, err := s.UpdateEntity(ctx, item.ID, item.Patch, ""); err != nil {
			s.logger.Printf("WARNING: bulk update skipped %s: %v", item.ID, err)
			continue
		}
		updated++
	}
	return updated, nil
}

// MarkEntitySynced records a successful remote sync. The version and change
// tag are untouched; only the sync status flips.
func (s *Store) MarkEntitySynced(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE entities SET sync_status = 'synced' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark entity %s synced: %w", id, err)
	}
	return nil
}

// ApplyRemoteEntity upserts an entity pulled from the remote authority.
// Remote-applied rows arrive already synced and never enqueue operations;
// echoing them back would loop forever.
func (s *Store) ApplyRemoteEntity(ctx context.Context, e *record.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.SyncStatus = record.SyncSynced

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", e.ID); err != nil {
		return fmt.Errorf("failed to replace entity %s: %w", e.ID, err)
	}
	if err := insertEntityTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remote entity: %w", err)
	}
	return nil
}

// RemoveRemoteDeletedEntity applies a remote-side delete locally: curations
// cascade and no queue entry is written.
func (s *Store) RemoveRemoteDeletedEntity(ctx context.Context, id string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM curations WHERE entity_id = ?", id); err != nil {
		return fmt.Errorf("failed to cascade curations for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remote delete: %w", err)
	}
	return nil
}

func insertEntityTx(ctx context.Context, tx *sql.Tx, e *record.Entity) error {
	metadata, freeform, err := marshalEntityBlobs(e)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (id, type, name, status, external_id, latitude, longitude,
			metadata, freeform, created_by, version, sync_status, change_tag,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Name, string(e.Status), nullString(e.ExternalID),
		nullFloat(e.Latitude), nullFloat(e.Longitude), metadata, freeform,
		nullString(e.CreatedBy), e.Version, string(e.SyncStatus), e.ChangeTag,
		e.CreatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert entity %s: %w", e.ID, err)
	}
	return nil
}

func writeEntityTx(ctx context.Context, tx *sql.Tx, e *record.Entity) error {
	metadata, freeform, err := marshalEntityBlobs(e)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE entities SET type = ?, name = ?, status = ?, external_id = ?,
			latitude = ?, longitude = ?, metadata = ?, freeform = ?,
			created_by = ?, version = ?, sync_status = ?, change_tag = ?,
			updated_at = ?
		WHERE id = ?`,
		string(e.Type), e.Name, string(e.Status), nullString(e.ExternalID),
		nullFloat(e.Latitude), nullFloat(e.Longitude), metadata, freeform,
		nullString(e.CreatedBy), e.Version, string(e.SyncStatus), e.ChangeTag,
		e.UpdatedAt.Format(time.RFC3339Nano), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update entity %s: %w", e.ID, err)
	}
	return nil
}

func marshalEntityBlobs(e *record.Entity) (metadata, freeform sql.NullString, err error) {
	if len(e.Metadata) > 0 {
		data, merr := json.Marshal(e.Metadata)
		if merr != nil {
			return metadata, freeform, fmt.Errorf("failed to marshal metadata: %w", merr)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	if len(e.FreeformData) > 0 {
		freeform = sql.NullString{String: string(e.FreeformData), Valid: true}
	}
	return metadata, freeform, nil
}

func scanEntity(row scanner) (*record.Entity, error) {
	var e record.Entity
	var typ, status, syncStatus, createdAt, updatedAt string
	var externalID, metadata, freeform, createdBy sql.NullString
	var lat, lng sql.NullFloat64

	err := row.Scan(&e.ID, &typ, &e.Name, &status, &externalID, &lat, &lng,
		&metadata, &freeform, &createdBy, &e.Version, &syncStatus, &e.ChangeTag,
		&createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	e.Type = record.EntityType(typ)
	e.Status = record.EntityStatus(status)
	e.SyncStatus = record.SyncStatus(syncStatus)
	e.ExternalID = externalID.String
	e.CreatedBy = createdBy.String
	if lat.Valid {
		v := lat.Float64
		e.Latitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		e.Longitude = &v
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity metadata: %w", err)
		}
	}
	if freeform.Valid {
		e.FreeformData = json.RawMessage(freeform.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		e.UpdatedAt = t
	}
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*record.Entity, error) {
	var entities []*record.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return entities, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
