// Package record defines the persistent record types for placekeep: venue
// entities, per-curator curations, curator identities, and sync queue entries.
//
// All records are flat, JSON-friendly structs with last-write-wins semantics.
// Every record carries a monotonically increasing version and an opaque change
// tag that is regenerated on each accepted mutation; the pair is what the sync
// layer uses for optimistic concurrency against the remote side.
//
// Validation lives here so it can run before any transaction is opened.
// A record that fails Validate must never reach storage or the sync queue.
package record

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// EntityType classifies a venue. The set is closed; anything the external
// catalog reports outside it maps to EntityTypeOther.
type EntityType string

const (
	EntityTypeRestaurant EntityType = "restaurant"
	EntityTypeHotel      EntityType = "hotel"
	EntityTypeVenue      EntityType = "venue"
	EntityTypeBar        EntityType = "bar"
	EntityTypeCafe       EntityType = "cafe"
	EntityTypeOther      EntityType = "other"
)

// ValidEntityType reports whether t is a member of the closed type set.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeRestaurant, EntityTypeHotel, EntityTypeVenue,
		EntityTypeBar, EntityTypeCafe, EntityTypeOther:
		return true
	}
	return false
}

// EntityStatus is the lifecycle status of an entity.
//
// Inactive entities still participate in lookups (dedup, direct Get) but are
// excluded from default listings.
type EntityStatus string

const (
	EntityStatusActive   EntityStatus = "active"
	EntityStatusInactive EntityStatus = "inactive"
	EntityStatusDraft    EntityStatus = "draft"
)

// ValidEntityStatus reports whether s is a member of the closed status set.
func ValidEntityStatus(s EntityStatus) bool {
	switch s {
	case EntityStatusActive, EntityStatusInactive, EntityStatusDraft:
		return true
	}
	return false
}

// SyncStatus tracks whether a record's latest local version has reached the
// remote authority.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// MaxNameLength bounds entity names. Matches the remote schema's column width.
const MaxNameLength = 500

// Provenance records where a piece of entity data came from and when.
// The metadata list on an entity is ordered, oldest first.
type Provenance struct {
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
	Note       string    `json:"note,omitempty"`
}

// Entity is a venue record, independent of any one curator's opinion.
type Entity struct {
	ID     string       `json:"id"`
	Type   EntityType   `json:"type"`
	Name   string       `json:"name"`
	Status EntityStatus `json:"status"`

	// ExternalID is the foreign catalog key (e.g. a places API id) used for
	// exact-match deduplication. Empty for hand-entered venues.
	ExternalID string `json:"external_id,omitempty"`

	// Latitude/Longitude locate the venue for fuzzy deduplication.
	// Nil when the source did not supply coordinates.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Metadata is the ordered provenance trail for this record.
	Metadata []Provenance `json:"metadata,omitempty"`

	// FreeformData is an opaque payload the core stores but never interprets.
	FreeformData json.RawMessage `json:"freeform_data,omitempty"`

	CreatedBy string `json:"created_by,omitempty"`

	Version    int64      `json:"version"`
	SyncStatus SyncStatus `json:"sync_status"`
	ChangeTag  string     `json:"change_tag"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the entity's fields against the write contract.
// It is cheap and synchronous; repositories call it before opening any
// transaction so a validation failure can never partially write state.
func (e *Entity) Validate() error {
	if e.ID != "" && !IsEntityID(e.ID) {
		return fmt.Errorf("%w: entity id must have prefix %q (got %q)", ErrValidation, EntityIDPrefix, e.ID)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if n := utf8.RuneCountInString(e.Name); n > MaxNameLength {
		return fmt.Errorf("%w: name must be %d characters or less (got %d)", ErrValidation, MaxNameLength, n)
	}
	if !ValidEntityType(e.Type) {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, e.Type)
	}
	if !ValidEntityStatus(e.Status) {
		return fmt.Errorf("%w: unknown entity status %q", ErrValidation, e.Status)
	}
	if (e.Latitude == nil) != (e.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrValidation)
	}
	return nil
}

// SetDefaults fills optional fields so writes behave consistently when the
// caller omits them. It does not touch caller-supplied values.
func (e *Entity) SetDefaults(now time.Time) {
	if e.ID == "" {
		e.ID = NewEntityID()
	}
	if e.Status == "" {
		e.Status = EntityStatusActive
	}
	if e.Version == 0 {
		e.Version = 1
	}
	if e.SyncStatus == "" {
		e.SyncStatus = SyncPending
	}
	if e.ChangeTag == "" {
		e.ChangeTag = NewChangeTag()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
}

// Touch records an accepted mutation: version and change tag move together,
// and the record goes back to pending until the sync engine confirms it.
func (e *Entity) Touch(now time.Time) {
	e.Version++
	e.ChangeTag = NewChangeTag()
	e.SyncStatus = SyncPending
	e.UpdatedAt = now
}
