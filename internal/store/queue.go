package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/placekeep/placekeep/internal/record"
)

// enqueueTx appends an operation to the sync queue inside an existing data
// transaction. It is deliberately unexported: a queue entry must never be
// written standalone, only in the same transaction as the mutation it
// describes.
func enqueueTx(ctx context.Context, tx *sql.Tx, recordType record.RecordType, action record.Action, localRecordID string, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_queue (id, record_type, action, local_record_id, payload, created_at, retry_count, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, 0, 'pending')`,
		record.NewQueueID(), string(recordType), string(action), localRecordID,
		string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s: %w", action, recordType, err)
	}
	return nil
}

// ListPendingOps returns all pending queue entries in FIFO order. Insertion
// order is the replay order: a record's create is always pushed before its
// updates, preserving causal ordering against the remote side.
func (s *Store) ListPendingOps(ctx context.Context) ([]*record.QueueEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, id, record_type, action, local_record_id, remote_key,
		       payload, created_at, retry_count, sync_status, last_error
		FROM sync_queue
		WHERE sync_status = 'pending'
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	defer rows.Close()

	var entries []*record.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

// GetOp returns a single queue entry by id.
func (s *Store) GetOp(ctx context.Context, id string) (*record.QueueEntry, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT seq, id, record_type, action, local_record_id, remote_key,
		       payload, created_at, retry_count, sync_status, last_error
		FROM sync_queue WHERE id = ?`, id)
	entry, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: queue entry %s", record.ErrNotFound, id)
	}
	return entry, err
}

// RemoveOp deletes a queue entry after a successful sync. The queue never
// purges a pending entry any other way; a crash between local write and sync
// leaves the operation recoverable.
func (s *Store) RemoveOp(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: queue entry %s", record.ErrNotFound, id)
	}
	return nil
}

// MarkOpFailed records a failed sync attempt: retry count goes up, the error
// is kept for diagnostics, and the entry stays pending for a later retry.
func (s *Store) MarkOpFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark queue entry %s failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: queue entry %s", record.ErrNotFound, id)
	}
	return nil
}

// SetOpRemoteKey stores the remote side's key for the affected record, once
// known (typically after the first successful create push of that record).
func (s *Store) SetOpRemoteKey(ctx context.Context, id, remoteKey string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE sync_queue SET remote_key = ? WHERE id = ?", remoteKey, id)
	if err != nil {
		return fmt.Errorf("failed to set remote key on %s: %w", id, err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(row scanner) (*record.QueueEntry, error) {
	var e record.QueueEntry
	var recordType, action, createdAt, syncStatus string
	var remoteKey, lastError sql.NullString
	var payload string

	err := row.Scan(&e.Seq, &e.ID, &recordType, &action, &e.LocalRecordID,
		&remoteKey, &payload, &createdAt, &e.RetryCount, &syncStatus, &lastError)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	e.RecordType = record.RecordType(recordType)
	e.Action = record.Action(action)
	e.RemoteKey = remoteKey.String
	e.PayloadSnapshot = json.RawMessage(payload)
	e.SyncStatus = record.SyncStatus(syncStatus)
	e.LastError = lastError.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}
