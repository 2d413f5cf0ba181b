package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetSetting returns the value for key, or fallback when the key is unset.
// Settings are a flat key-value table: not versioned, not queued for sync.
func (s *Store) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a value for key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// lastSyncKey is the settings key holding the last successful sync time.
const lastSyncKey = "last_sync_time"

// LastSyncTime returns when the sync engine last completed, zero if never.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	value, err := s.GetSetting(ctx, lastSyncKey, "")
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time: %w", err)
	}
	return t, nil
}

// SetLastSyncTime records a completed sync.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.SetSetting(ctx, lastSyncKey, t.UTC().Format(time.RFC3339Nano))
}
