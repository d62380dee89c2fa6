package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/store"
)

// Store persists live event records
type Store struct {
	db      *store.DB
	metrics *observability.Metrics
}

// NewStore creates an event store. metrics may be nil.
func NewStore(db *store.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

const eventColumns = `id, title, description, start_time, end_time, location,
	is_recurring, recurrence_pattern, owner, collaborators, created_at, updated_at`

// Create inserts a new event
func (s *Store) Create(ctx context.Context, event *Event) error {
	collabJSON, err := marshalCollaborators(event.Collaborators)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, event.Title, event.Description, event.Start, event.End,
		event.Location, event.IsRecurring, event.RecurrencePattern,
		event.Owner, collabJSON, event.CreatedAt, event.UpdatedAt,
	)
	store.Observe(s.metrics, "events", "create", start, err)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// Get loads an event by id
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+eventColumns+` FROM events WHERE id = ?`), id)

	event, err := scanEvent(row)
	store.Observe(s.metrics, "events", "get", start, err)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// ListFilter narrows List results. UserEmail is mandatory: only events the
// user owns or collaborates on are visible.
type ListFilter struct {
	UserEmail string
	// CollaboratorID, when set, narrows to events where that user is a
	// collaborator. It never widens visibility.
	CollaboratorID string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// List returns the events visible to a user, ordered by start time
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE (owner = ? OR collaborators LIKE ? ESCAPE '\')`
	args := []interface{}{filter.UserEmail, collaboratorPattern(filter.UserEmail)}

	if filter.CollaboratorID != "" {
		query += ` AND collaborators LIKE ? ESCAPE '\'`
		args = append(args, collaboratorPattern(filter.CollaboratorID))
	}
	if filter.From != nil {
		query += ` AND start_time >= ?`
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		query += ` AND start_time <= ?`
		args = append(args, filter.To.UTC())
	}

	query += ` ORDER BY start_time ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	store.Observe(s.metrics, "events", "list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Update overwrites an event's mutable fields. Returns ErrConflict when no
// row matched, meaning the event vanished under a concurrent mutation.
func (s *Store) Update(ctx context.Context, event *Event) error {
	collabJSON, err := marshalCollaborators(event.Collaborators)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE events SET
			title = ?, description = ?, start_time = ?, end_time = ?,
			location = ?, is_recurring = ?, recurrence_pattern = ?,
			collaborators = ?, updated_at = ?
		WHERE id = ?`),
		event.Title, event.Description, event.Start, event.End,
		event.Location, event.IsRecurring, event.RecurrencePattern,
		collabJSON, event.UpdatedAt, event.ID,
	)
	store.Observe(s.metrics, "events", "update", start, err)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, event.ID)
	}
	return nil
}

// Delete removes an event. Version history is stored separately and
// survives deletion.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM events WHERE id = ?`), id)
	store.Observe(s.metrics, "events", "delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// likeEscaper neutralizes LIKE metacharacters in user-supplied values so
// a registered email like %@example.com cannot act as a wildcard
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// collaboratorPattern matches the JSON encoding of a collaborator entry
// for the given user id within the embedded collaborators column. Queries
// using it must carry ESCAPE '\'.
func collaboratorPattern(userID string) string {
	return `%"user_id":"` + likeEscaper.Replace(userID) + `"%`
}

func marshalCollaborators(collaborators []Collaborator) (string, error) {
	if collaborators == nil {
		collaborators = []Collaborator{}
	}
	raw, err := json.Marshal(collaborators)
	if err != nil {
		return "", fmt.Errorf("failed to marshal collaborators: %w", err)
	}
	return string(raw), nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scannable) (*Event, error) {
	var (
		event      Event
		collabJSON string
	)
	if err := row.Scan(
		&event.ID, &event.Title, &event.Description, &event.Start, &event.End,
		&event.Location, &event.IsRecurring, &event.RecurrencePattern,
		&event.Owner, &collabJSON, &event.CreatedAt, &event.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(collabJSON), &event.Collaborators); err != nil {
		return nil, fmt.Errorf("corrupt collaborator list for event %s: %w", event.ID, err)
	}
	if event.Collaborators == nil {
		event.Collaborators = []Collaborator{}
	}
	return &event, nil
}
