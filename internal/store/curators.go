package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/placekeep/placekeep/internal/record"
)

const curatorColumns = `id, name, email, status, created_at, last_active_at`

// CreateCurator inserts a curator identity. Curator records are local
// identity bookkeeping and are not queued for sync.
func (s *Store) CreateCurator(ctx context.Context, c *record.Curator) (*record.Curator, error) {
	c.SetDefaults(time.Now().UTC())
	if err := c.Validate(); err != nil {
		return nil, err
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO curators (id, name, email, status, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.Email), string(c.Status),
		c.CreatedAt.Format(time.RFC3339Nano), c.LastActiveAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to insert curator %s: %w", c.ID, err)
	}
	return c, nil
}

// GetCurator retrieves a curator by id.
func (s *Store) GetCurator(ctx context.Context, id string) (*record.Curator, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+curatorColumns+" FROM curators WHERE id = ?", id)
	c, err := scanCurator(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: curator %s", record.ErrNotFound, id)
	}
	return c, err
}

// ListCurators returns all curators, oldest first.
func (s *Store) ListCurators(ctx context.Context) ([]*record.Curator, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+curatorColumns+" FROM curators ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list curators: %w", err)
	}
	defer rows.Close()

	var curators []*record.Curator
	for rows.Next() {
		c, err := scanCurator(rows)
		if err != nil {
			return nil, err
		}
		curators = append(curators, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating curators: %w", err)
	}
	return curators, nil
}

// currentCuratorKey is the settings key holding the current-curator pointer.
// The pointer lives behind these accessors only; there is no ambient global.
const currentCuratorKey = "current_curator"

// CurrentCurator returns the curator marked current, or ErrNotFound when no
// curator has been selected yet.
func (s *Store) CurrentCurator(ctx context.Context) (*record.Curator, error) {
	id, err := s.GetSetting(ctx, currentCuratorKey, "")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no current curator selected", record.ErrNotFound)
	}
	return s.GetCurator(ctx, id)
}

// SetCurrentCurator switches the current-curator pointer and stamps the
// curator's last_active_at.
func (s *Store) SetCurrentCurator(ctx context.Context, id string) error {
	if _, err := s.GetCurator(ctx, id); err != nil {
		return err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		currentCuratorKey, id); err != nil {
		return fmt.Errorf("failed to set current curator: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE curators SET last_active_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("failed to stamp curator activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit curator switch: %w", err)
	}
	return nil
}

func scanCurator(row scanner) (*record.Curator, error) {
	var c record.Curator
	var status, createdAt, lastActiveAt string
	var email sql.NullString

	err := row.Scan(&c.ID, &c.Name, &email, &status, &createdAt, &lastActiveAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan curator: %w", err)
	}

	c.Email = email.String
	c.Status = record.CuratorStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		c.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, lastActiveAt); err == nil {
		c.LastActiveAt = t
	}
	return &c, nil
}
