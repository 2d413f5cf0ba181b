package record

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes tag every identifier with its record kind so that an id is
// self-describing in logs, queue payloads, and the remote's audit trail.
const (
	EntityIDPrefix   = "ent_"
	CurationIDPrefix = "cur_"
	CuratorIDPrefix  = "cru_"
	QueueIDPrefix    = "opq_"
)

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewEntityID returns a fresh globally unique entity id.
func NewEntityID() string { return newID(EntityIDPrefix) }

// NewCurationID returns a fresh globally unique curation id.
func NewCurationID() string { return newID(CurationIDPrefix) }

// NewCuratorID returns a fresh globally unique curator id.
func NewCuratorID() string { return newID(CuratorIDPrefix) }

// NewQueueID returns a fresh id for a sync queue entry.
func NewQueueID() string { return newID(QueueIDPrefix) }

// NewChangeTag returns a fresh opaque change tag. Tags are compared only for
// equality; their content carries no meaning.
func NewChangeTag() string { return uuid.NewString() }

// IsEntityID reports whether id follows the entity id convention.
func IsEntityID(id string) bool { return strings.HasPrefix(id, EntityIDPrefix) }

// IsCurationID reports whether id follows the curation id convention.
func IsCurationID(id string) bool { return strings.HasPrefix(id, CurationIDPrefix) }

// IsCuratorID reports whether id follows the curator id convention.
func IsCuratorID(id string) bool { return strings.HasPrefix(id, CuratorIDPrefix) }
