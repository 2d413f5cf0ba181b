package record

import (
	"encoding/json"
	"time"
)

// RecordType identifies which table a queue entry's snapshot belongs to.
type RecordType string

const (
	RecordTypeEntity   RecordType = "entity"
	RecordTypeCuration RecordType = "curation"
)

// Action is the kind of pending mutation a queue entry describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// QueueEntry is one pending operation in the durable sync queue.
//
// Every accepted repository mutation writes exactly one entry in the same
// transaction as the mutation itself, so the queue can never be observably
// out of sync with the data it describes, even across a crash. Entries are
// consumed in FIFO order and removed only after the remote confirms them.
type QueueEntry struct {
	// Seq is the insertion order, assigned by the store. FIFO replay
	// preserves causal ordering (a create is pushed before its updates).
	Seq int64 `json:"seq"`

	ID         string     `json:"id"`
	RecordType RecordType `json:"record_type"`
	Action     Action     `json:"action"`

	// LocalRecordID is the id of the affected row; RemoteKey is the remote
	// side's key for it, when known.
	LocalRecordID string `json:"local_record_id"`
	RemoteKey     string `json:"remote_key,omitempty"`

	// PayloadSnapshot is the full record as of the mutation, so replay does
	// not depend on the row's current (possibly later) state.
	PayloadSnapshot json.RawMessage `json:"payload_snapshot,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	RetryCount int        `json:"retry_count"`
	SyncStatus SyncStatus `json:"sync_status"`
	LastError  string     `json:"last_error,omitempty"`
}
