package record

import (
	"fmt"
	"time"
)

// CuratorStatus is the lifecycle status of a curator identity.
type CuratorStatus string

const (
	CuratorActive   CuratorStatus = "active"
	CuratorInactive CuratorStatus = "inactive"
)

// Curator is an identity record. Exactly one curator is marked current at any
// time via the settings table; see store.CurrentCurator.
type Curator struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Email  string        `json:"email,omitempty"`
	Status CuratorStatus `json:"status"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Validate checks the curator's fields.
func (c *Curator) Validate() error {
	if c.ID != "" && !IsCuratorID(c.ID) {
		return fmt.Errorf("%w: curator id must have prefix %q (got %q)", ErrValidation, CuratorIDPrefix, c.ID)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: curator name is required", ErrValidation)
	}
	switch c.Status {
	case "", CuratorActive, CuratorInactive:
	default:
		return fmt.Errorf("%w: unknown curator status %q", ErrValidation, c.Status)
	}
	return nil
}

// SetDefaults fills optional fields for a new curator.
func (c *Curator) SetDefaults(now time.Time) {
	if c.ID == "" {
		c.ID = NewCuratorID()
	}
	if c.Status == "" {
		c.Status = CuratorActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastActiveAt.IsZero() {
		c.LastActiveAt = now
	}
}
