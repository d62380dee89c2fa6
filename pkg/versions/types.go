package versions

import (
	"errors"
	"time"

	"github.com/neofi/chronicle/pkg/diff"
)

// ChangeType classifies a version entry
type ChangeType string

const (
	ChangeCreate   ChangeType = "create"
	ChangeUpdate   ChangeType = "update"
	ChangeRollback ChangeType = "rollback"
)

// Valid reports whether the change type is one of the known values
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeCreate, ChangeUpdate, ChangeRollback:
		return true
	}
	return false
}

// Entry is one immutable record in an event's change history
type Entry struct {
	ID         int64                  `json:"id"`
	EventID    string                 `json:"event_id"`
	ChangeType ChangeType             `json:"change_type"`
	Snapshot   map[string]interface{} `json:"snapshot"`
	Delta      diff.Delta             `json:"delta"`
	Actor      string                 `json:"actor"`
	Reason     string                 `json:"reason,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

var (
	// ErrNotFound is returned when a version entry does not exist for
	// the given event
	ErrNotFound = errors.New("version not found")

	// ErrStoreUnavailable is returned on persistence failure. Callers
	// must treat it as fatal to the enclosing mutation.
	ErrStoreUnavailable = errors.New("version store unavailable")

	// ErrInvalidChangeType is returned when appending with an unknown
	// change type
	ErrInvalidChangeType = errors.New("invalid change type")
)
