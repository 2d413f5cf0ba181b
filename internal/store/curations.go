package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/placekeep/placekeep/internal/record"
)

const curationColumns = `id, entity_id, curator_id, curator_name, categories,
	note_public, note_private, version, sync_status, change_tag,
	created_at, updated_at`

// CreateCuration validates the curation, verifies the referenced entity
// exists, and inserts the row with its `create` queue entry in one
// transaction.
//
// The entity check happens before the write transaction opens: a curation
// referencing a non-existent entity fails with record.ErrDanglingReference
// and never touches storage.
func (s *Store) CreateCuration(ctx context.Context, c *record.Curation) (*record.Curation, error) {
	c.SetDefaults(time.Now().UTC())
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.ValidateCategories(s.categories); err != nil {
		return nil, err
	}

	var exists int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE id = ?", c.EntityID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check entity existence: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: entity %s", record.ErrDanglingReference, c.EntityID)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := insertCurationTx(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := enqueueTx(ctx, tx, record.RecordTypeCuration, record.ActionCreate, c.ID, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit curation create: %w", err)
	}
	return c, nil
}

// GetCuration retrieves a single curation by id.
func (s *Store) GetCuration(ctx context.Context, id string) (*record.Curation, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+curationColumns+" FROM curations WHERE id = ?", id)
	c, err := scanCuration(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: curation %s", record.ErrNotFound, id)
	}
	return c, err
}

// ListCurations returns all curations for an entity, oldest first. When
// curatorID is non-empty the result is narrowed to that curator's opinions;
// both shapes hit the composite (entity_id, curator_id) index because the
// dominant UI query is "does curator X already have an opinion on entity Y".
func (s *Store) ListCurations(ctx context.Context, entityID, curatorID string) ([]*record.Curation, error) {
	query := "SELECT " + curationColumns + " FROM curations WHERE entity_id = ?"
	args := []any{entityID}
	if curatorID != "" {
		query += " AND curator_id = ?"
		args = append(args, curatorID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list curations: %w", err)
	}
	defer rows.Close()

	var curations []*record.Curation
	for rows.Next() {
		c, err := scanCuration(rows)
		if err != nil {
			return nil, err
		}
		curations = append(curations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating curations: %w", err)
	}
	return curations, nil
}

// CurationPatch is a partial update to a curation. Nil fields are left alone.
type CurationPatch struct {
	CuratorDisplayName *string
	Categories         map[string][]string
	Notes              *record.Notes
}

// UpdateCuration applies a patch under the same optimistic-concurrency
// contract as UpdateEntity.
func (s *Store) UpdateCuration(ctx context.Context, id string, patch CurationPatch, expectedChangeTag string) (*record.Curation, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+curationColumns+" FROM curations WHERE id = ?", id)
	c, err := scanCuration(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: curation %s", record.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if expectedChangeTag != "" && expectedChangeTag != c.ChangeTag {
		return nil, &record.ConflictError{
			RecordID:         c.ID,
			CurrentVersion:   c.Version,
			CurrentChangeTag: c.ChangeTag,
		}
	}

	if patch.CuratorDisplayName != nil {
		c.CuratorDisplayName = *patch.CuratorDisplayName
	}
	if patch.Categories != nil {
		c.Categories = patch.Categories
	}
	if patch.Notes != nil {
		c.Notes = *patch.Notes
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.ValidateCategories(s.categories); err != nil {
		return nil, err
	}
	c.Touch(time.Now().UTC())

	if err := writeCurationTx(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := enqueueTx(ctx, tx, record.RecordTypeCuration, record.ActionUpdate, c.ID, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit curation update: %w", err)
	}
	return c, nil
}

// DeleteCuration removes a single curation and enqueues its `delete`
// operation in the same transaction.
func (s *Store) DeleteCuration(ctx context.Context, id string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+curationColumns+" FROM curations WHERE id = ?", id)
	c, err := scanCuration(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: curation %s", record.ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM curations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete curation %s: %w", id, err)
	}
	if err := enqueueTx(ctx, tx, record.RecordTypeCuration, record.ActionDelete, id, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit curation delete: %w", err)
	}
	return nil
}

// MarkCurationSynced records a successful remote sync of a curation.
func (s *Store) MarkCurationSynced(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE curations SET sync_status = 'synced' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark curation %s synced: %w", id, err)
	}
	return nil
}

// ApplyRemoteCuration upserts a curation pulled from the remote authority,
// already synced and without enqueueing. The dangling-reference check still
// applies; a pull that delivers curations before their entities is a remote
// ordering bug worth surfacing.
func (s *Store) ApplyRemoteCuration(ctx context.Context, c *record.Curation) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var exists int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE id = ?", c.EntityID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check entity existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: entity %s", record.ErrDanglingReference, c.EntityID)
	}

	c.SyncStatus = record.SyncSynced

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM curations WHERE id = ?", c.ID); err != nil {
		return fmt.Errorf("failed to replace curation %s: %w", c.ID, err)
	}
	if err := insertCurationTx(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remote curation: %w", err)
	}
	return nil
}

// RemoveRemoteDeletedCuration applies a remote-side curation tombstone
// locally, without enqueueing.
func (s *Store) RemoveRemoteDeletedCuration(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM curations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete curation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: curation %s", record.ErrNotFound, id)
	}
	return nil
}

func insertCurationTx(ctx context.Context, tx *sql.Tx, c *record.Curation) error {
	categories, err := marshalCategories(c.Categories)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO curations (id, entity_id, curator_id, curator_name, categories,
			note_public, note_private, version, sync_status, change_tag,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EntityID, c.CuratorID, nullString(c.CuratorDisplayName), categories,
		nullString(c.Notes.Public), nullString(c.Notes.Private), c.Version,
		string(c.SyncStatus), c.ChangeTag,
		c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert curation %s: %w", c.ID, err)
	}
	return nil
}

func writeCurationTx(ctx context.Context, tx *sql.Tx, c *record.Curation) error {
	categories, err := marshalCategories(c.Categories)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE curations SET curator_name = ?, categories = ?, note_public = ?,
			note_private = ?, version = ?, sync_status = ?, change_tag = ?,
			updated_at = ?
		WHERE id = ?`,
		nullString(c.CuratorDisplayName), categories, nullString(c.Notes.Public),
		nullString(c.Notes.Private), c.Version, string(c.SyncStatus), c.ChangeTag,
		c.UpdatedAt.Format(time.RFC3339Nano), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update curation %s: %w", c.ID, err)
	}
	return nil
}

func marshalCategories(categories map[string][]string) (sql.NullString, error) {
	if len(categories) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(categories)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal categories: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanCuration(row scanner) (*record.Curation, error) {
	var c record.Curation
	var syncStatus, createdAt, updatedAt string
	var curatorName, categories, notePublic, notePrivate sql.NullString

	err := row.Scan(&c.ID, &c.EntityID, &c.CuratorID, &curatorName, &categories,
		&notePublic, &notePrivate, &c.Version, &syncStatus, &c.ChangeTag,
		&createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan curation: %w", err)
	}

	c.CuratorDisplayName = curatorName.String
	c.SyncStatus = record.SyncStatus(syncStatus)
	c.Notes = record.Notes{Public: notePublic.String, Private: notePrivate.String}
	if categories.Valid && categories.String != "" {
		if err := json.Unmarshal([]byte(categories.String), &c.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal curation categories: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		c.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}
