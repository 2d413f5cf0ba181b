package record

import (
	"errors"
	"fmt"
)

// Error taxonomy for the local store. Callers branch with errors.Is, except
// for ConflictError which carries the remote's competing version and is
// matched with errors.As.
var (
	// ErrValidation marks bad input rejected before any transaction opened.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an operation targeting a missing record id.
	ErrNotFound = errors.New("record not found")

	// ErrDanglingReference marks a curation referencing a non-existent entity.
	ErrDanglingReference = errors.New("dangling entity reference")

	// ErrStorageUnavailable marks a local store that could not be opened even
	// after recovery. Callers should degrade to remote-only operation.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrSchemaMismatch marks an on-disk schema version inconsistent with
	// what this build expects after all upgrades ran. The usual cause is
	// running an older build against a data file a newer build has touched.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// ConflictError is returned when an update carries a stale change tag.
// It carries the competing version so the caller can drive its own
// resolution (accept-mine / accept-theirs / merge); the store never
// auto-merges.
type ConflictError struct {
	RecordID string

	// CurrentVersion and CurrentChangeTag describe the version that won.
	// For local optimistic-lock failures this is the stored row; for sync
	// conflicts it is the remote's copy.
	CurrentVersion   int64
	CurrentChangeTag string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: current version %d (change tag %s)",
		e.RecordID, e.CurrentVersion, e.CurrentChangeTag)
}
