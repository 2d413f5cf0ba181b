package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/placekeep/placekeep/internal/record"
	"github.com/placekeep/placekeep/internal/store"
)

// Engine reconciles the local store with a remote authority.
type Engine struct {
	store  *store.Store
	remote RemoteClient
	logger *log.Logger
}

// New creates a sync engine. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, remote RemoteClient, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{store: st, remote: remote, logger: logger}
}

// DrainStats summarizes one queue drain.
type DrainStats struct {
	Pushed    int
	Conflicts int
	Failed    int
}

// Drain walks the pending queue in FIFO order and pushes each operation.
//
// Success removes the queue entry and flips the record to synced. A conflict
// marks the entry failed with the remote's competing version recorded in
// last_error and keeps it pending for manual resolution. Transport errors
// mark the entry failed and stop the drain: replaying later entries ahead
// of an earlier failed one would break causal ordering for that record, and
// a dead remote fails them all anyway.
func (e *Engine) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	pending, err := e.store.ListPendingOps(ctx)
	if err != nil {
		return stats, err
	}
	if len(pending) == 0 {
		return stats, nil
	}
	e.logger.Printf("Draining %d pending operations", len(pending))

	for _, entry := range pending {
		op := Operation{
			OpID:       entry.ID,
			RecordID:   entry.LocalRecordID,
			RecordType: entry.RecordType,
			Action:     entry.Action,
			RemoteKey:  entry.RemoteKey,
			Payload:    entry.PayloadSnapshot,
		}

		result, err := e.remote.Push(ctx, op)
		if err != nil {
			stats.Failed++
			if markErr := e.store.MarkOpFailed(ctx, entry.ID, err); markErr != nil {
				e.logger.Printf("WARNING: failed to record push failure for %s: %v", entry.ID, markErr)
			}
			return stats, fmt.Errorf("push %s %s failed: %w", entry.Action, entry.LocalRecordID, err)
		}

		if result.Status == PushConflict {
			stats.Conflicts++
			conflict := &record.ConflictError{
				RecordID:         entry.LocalRecordID,
				CurrentVersion:   result.RemoteVersion,
				CurrentChangeTag: result.RemoteChangeTag,
			}
			e.logger.Printf("Conflict on %s: remote has version %d", entry.LocalRecordID, result.RemoteVersion)
			if markErr := e.store.MarkOpFailed(ctx, entry.ID, conflict); markErr != nil {
				e.logger.Printf("WARNING: failed to record conflict for %s: %v", entry.ID, markErr)
			}
			continue
		}

		if result.RemoteKey != "" && result.RemoteKey != entry.RemoteKey {
			if err := e.store.SetOpRemoteKey(ctx, entry.ID, result.RemoteKey); err != nil {
				e.logger.Printf("WARNING: %v", err)
			}
		}

		if err := e.markSynced(ctx, entry); err != nil {
			return stats, err
		}
		stats.Pushed++
	}

	if err := e.store.SetLastSyncTime(ctx, time.Now().UTC()); err != nil {
		return stats, err
	}

	e.logger.Printf("Drain complete: pushed=%d conflicts=%d failed=%d",
		stats.Pushed, stats.Conflicts, stats.Failed)
	return stats, nil
}

// markSynced clears a confirmed queue entry and flips the affected record to
// synced. Deletes have no surviving row to flip.
func (e *Engine) markSynced(ctx context.Context, entry *record.QueueEntry) error {
	if err := e.store.RemoveOp(ctx, entry.ID); err != nil {
		return err
	}
	if entry.Action == record.ActionDelete {
		return nil
	}
	switch entry.RecordType {
	case record.RecordTypeEntity:
		return e.store.MarkEntitySynced(ctx, entry.LocalRecordID)
	case record.RecordTypeCuration:
		return e.store.MarkCurationSynced(ctx, entry.LocalRecordID)
	}
	return nil
}

// PullStats summarizes one pull.
type PullStats struct {
	Applied int
	Deleted int
	Skipped int
}

// Pull fetches remote changes since the last recorded sync and applies them
// locally. Applied records arrive already synced and are never re-enqueued.
// Individual record failures are logged and skipped; a bad record from the
// remote should not wedge the whole pull.
func (e *Engine) Pull(ctx context.Context) (PullStats, error) {
	var stats PullStats

	since, err := e.store.LastSyncTime(ctx)
	if err != nil {
		return stats, err
	}

	records, err := e.remote.Pull(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("pull failed: %w", err)
	}

	for _, r := range records {
		if err := e.applyRemote(ctx, r); err != nil {
			e.logger.Printf("WARNING: skipping remote %s %s: %v", r.RecordType, r.RecordID, err)
			stats.Skipped++
			continue
		}
		if r.Deleted {
			stats.Deleted++
		} else {
			stats.Applied++
		}
	}

	if err := e.store.SetLastSyncTime(ctx, time.Now().UTC()); err != nil {
		return stats, err
	}

	e.logger.Printf("Pull complete: applied=%d deleted=%d skipped=%d",
		stats.Applied, stats.Deleted, stats.Skipped)
	return stats, nil
}

func (e *Engine) applyRemote(ctx context.Context, r RemoteRecord) error {
	switch r.RecordType {
	case record.RecordTypeEntity:
		if r.Deleted {
			return e.store.RemoveRemoteDeletedEntity(ctx, r.RecordID)
		}
		var entity record.Entity
		if err := json.Unmarshal(r.Payload, &entity); err != nil {
			return fmt.Errorf("failed to decode remote entity: %w", err)
		}
		return e.store.ApplyRemoteEntity(ctx, &entity)

	case record.RecordTypeCuration:
		if r.Deleted {
			// A missing row is fine here: the local cascade may have beaten
			// the pull to it.
			if err := e.store.RemoveRemoteDeletedCuration(ctx, r.RecordID); err != nil && !errors.Is(err, record.ErrNotFound) {
				return err
			}
			return nil
		}
		var curation record.Curation
		if err := json.Unmarshal(r.Payload, &curation); err != nil {
			return fmt.Errorf("failed to decode remote curation: %w", err)
		}
		return e.store.ApplyRemoteCuration(ctx, &curation)
	}
	return fmt.Errorf("unknown record type %q", r.RecordType)
}
