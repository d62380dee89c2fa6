package events

import (
	"errors"
	"time"
)

// Collaborator grants a user a role-scoped permission set on one event.
// Role is a name in the global role registry, not an inline permission
// set. At most one entry per user id per event.
type Collaborator struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Event is the live record. Owner is immutable after creation.
type Event struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Start             time.Time      `json:"start_time"`
	End               time.Time      `json:"end_time"`
	Location          string         `json:"location,omitempty"`
	IsRecurring       bool           `json:"is_recurring"`
	RecurrencePattern string         `json:"recurrence_pattern,omitempty"`
	Owner             string         `json:"owner"`
	Collaborators     []Collaborator `json:"collaborators"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CollaboratorEntry returns the collaborator record for a user, if any
func (e *Event) CollaboratorEntry(userID string) (Collaborator, bool) {
	for _, c := range e.Collaborators {
		if c.UserID == userID {
			return c, true
		}
	}
	return Collaborator{}, false
}

// CreateInput is the payload for creating an event
type CreateInput struct {
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Start             time.Time      `json:"start_time"`
	End               time.Time      `json:"end_time"`
	Location          string         `json:"location"`
	IsRecurring       bool           `json:"is_recurring"`
	RecurrencePattern string         `json:"recurrence_pattern"`
	Collaborators     []Collaborator `json:"collaborators"`
}

// UpdateInput is a partial update; nil fields are left unchanged
type UpdateInput struct {
	Title             *string    `json:"title"`
	Description       *string    `json:"description"`
	Start             *time.Time `json:"start_time"`
	End               *time.Time `json:"end_time"`
	Location          *string    `json:"location"`
	IsRecurring       *bool      `json:"is_recurring"`
	RecurrencePattern *string    `json:"recurrence_pattern"`
}

// Empty reports whether the update changes nothing
func (u UpdateInput) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Start == nil && u.End == nil &&
		u.Location == nil && u.IsRecurring == nil && u.RecurrencePattern == nil
}

var (
	// ErrNotFound is returned when an event or target entity is absent
	ErrNotFound = errors.New("event not found")

	// ErrForbidden is returned when the caller is authenticated but not
	// authorized
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when a commit affected zero records,
	// meaning a concurrent mutation got there first
	ErrConflict = errors.New("conflicting concurrent modification")

	// ErrBadRequest is returned for malformed or redundant operations
	ErrBadRequest = errors.New("bad request")
)
