// Package sync drains the durable operation queue against a remote authority
// and pulls remote changes back into the local store.
//
// The engine is thin by design: transport is an external collaborator behind
// the RemoteClient interface. The engine owns ordering (FIFO replay), queue
// bookkeeping (remove on success, retry accounting on failure), and conflict
// surfacing. It never auto-merges.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/placekeep/placekeep/internal/record"
)

// Operation is one queued mutation presented to the remote side.
type Operation struct {
	// OpID is the originating queue entry's id. The remote dedupes replays
	// by it, which is what makes pushing the same queue entry twice safe
	// while distinct operations on one record all get through.
	OpID string `json:"op_id"`

	// RecordID identifies the affected record.
	RecordID   string            `json:"record_id"`
	RecordType record.RecordType `json:"record_type"`
	Action     record.Action     `json:"action"`
	RemoteKey  string            `json:"remote_key,omitempty"`

	// Payload is the full record snapshot taken when the mutation committed.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PushStatus classifies the remote's answer to a pushed operation.
type PushStatus string

const (
	// PushOK means the remote accepted the operation.
	PushOK PushStatus = "ok"

	// PushConflict means the remote holds a competing version. The entry is
	// marked failed and surfaced for manual resolution; the engine never
	// merges.
	PushConflict PushStatus = "conflict"
)

// PushResult is the remote's answer to a pushed operation.
type PushResult struct {
	Status PushStatus

	// RemoteKey is the remote's key for the record, when newly assigned.
	RemoteKey string

	// RemoteVersion and RemoteChangeTag carry the competing version on a
	// conflict, so the caller can drive accept-mine / accept-theirs.
	RemoteVersion   int64
	RemoteChangeTag string
}

// RemoteRecord is one record delivered by a pull.
type RemoteRecord struct {
	RecordType record.RecordType `json:"record_type"`
	RecordID   string            `json:"record_id"`

	// Deleted marks a remote-side tombstone; Payload is empty for those.
	Deleted bool            `json:"deleted,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RemoteClient is the boundary with the remote sync endpoint. Implementations
// live outside the core; tests use fakes and the CLI ships a JSONL export
// client for offline hand-off.
type RemoteClient interface {
	// Push delivers one operation. A PushConflict result is not an error;
	// transport failures are.
	Push(ctx context.Context, op Operation) (PushResult, error)

	// Pull returns remote records changed since the given time, oldest
	// first. Entities arrive before curations that reference them.
	Pull(ctx context.Context, since time.Time) ([]RemoteRecord, error)
}
