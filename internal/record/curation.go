package record

import (
	"fmt"
	"time"
)

// Notes holds a curator's public and private commentary on an entity.
type Notes struct {
	Public  string `json:"public,omitempty"`
	Private string `json:"private,omitempty"`
}

// Curation is one curator's opinion about one entity.
//
// Curations hold a one-way reference to their entity; the entity never points
// back. The store does not enforce uniqueness of (EntityID, CuratorID);
// multiple curations per curator per entity is a deliberate capability, and
// any one-opinion-per-curator rule belongs to the application layer.
type Curation struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`

	CuratorID          string `json:"curator_id"`
	CuratorDisplayName string `json:"curator_display_name,omitempty"`

	// Categories maps a category name to free-text concepts. The category
	// set is configured externally (server-driven), never hardcoded here;
	// membership is checked at write time against whatever set the store
	// was handed.
	Categories map[string][]string `json:"categories,omitempty"`

	Notes Notes `json:"notes"`

	Version    int64      `json:"version"`
	SyncStatus SyncStatus `json:"sync_status"`
	ChangeTag  string     `json:"change_tag"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural requirements. Entity existence is a storage
// precondition, checked by the repository; category-set membership is checked
// separately via ValidateCategories because the allowed set is runtime data.
func (c *Curation) Validate() error {
	if c.ID != "" && !IsCurationID(c.ID) {
		return fmt.Errorf("%w: curation id must have prefix %q (got %q)", ErrValidation, CurationIDPrefix, c.ID)
	}
	if c.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrValidation)
	}
	if !IsEntityID(c.EntityID) {
		return fmt.Errorf("%w: entity_id must have prefix %q (got %q)", ErrValidation, EntityIDPrefix, c.EntityID)
	}
	if c.CuratorID == "" {
		return fmt.Errorf("%w: curator_id is required", ErrValidation)
	}
	return nil
}

// ValidateCategories checks that every category name is a member of allowed.
// An empty allowed set disables the check (no configuration fetched yet).
func (c *Curation) ValidateCategories(allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	ok := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		ok[name] = true
	}
	for name := range c.Categories {
		if !ok[name] {
			return fmt.Errorf("%w: category %q is not in the configured set", ErrValidation, name)
		}
	}
	return nil
}

// SetDefaults fills optional fields for a new curation.
func (c *Curation) SetDefaults(now time.Time) {
	if c.ID == "" {
		c.ID = NewCurationID()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.SyncStatus == "" {
		c.SyncStatus = SyncPending
	}
	if c.ChangeTag == "" {
		c.ChangeTag = NewChangeTag()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// Touch records an accepted mutation, mirroring Entity.Touch.
func (c *Curation) Touch(now time.Time) {
	c.Version++
	c.ChangeTag = NewChangeTag()
	c.SyncStatus = SyncPending
	c.UpdatedAt = now
}
