package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neofi/chronicle/pkg/contextkeys"
	"github.com/neofi/chronicle/pkg/diff"
	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/rbac"
	"github.com/neofi/chronicle/pkg/versions"
)

// Service orchestrates event mutations: authorization first, then diff
// computation, then version capture, then the live write.
type Service struct {
	store    *Store
	versions *versions.Store
	resolver *rbac.Resolver
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService creates the event mutation service. metrics may be nil.
func NewService(store *Store, versionStore *versions.Store, resolver *rbac.Resolver, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		versions: versionStore,
		resolver: resolver,
		logger:   logger,
		metrics:  metrics,
	}
}

// Create validates and persists a new event. Creation is not versioned.
func (s *Service) Create(ctx context.Context, actor contextkeys.Identity, input CreateInput) (*Event, error) {
	event, err := buildEvent(actor.Email, input)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, event); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{"event": event.ID, "user": actor.Email}).Info("event created")
	return event, nil
}

// BatchCreate validates every input before persisting any of them
func (s *Service) BatchCreate(ctx context.Context, actor contextkeys.Identity, inputs []CreateInput) ([]*Event, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrBadRequest)
	}

	events := make([]*Event, 0, len(inputs))
	for i, input := range inputs {
		event, err := buildEvent(actor.Email, input)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, event)
	}

	for _, event := range events {
		if err := s.store.Create(ctx, event); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func buildEvent(owner string, input CreateInput) (*Event, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrBadRequest)
	}
	if input.Start.IsZero() || input.End.IsZero() {
		return nil, fmt.Errorf("%w: start_time and end_time are required", ErrBadRequest)
	}
	if input.End.Before(input.Start) {
		return nil, fmt.Errorf("%w: end_time must not precede start_time", ErrBadRequest)
	}

	collaborators := make([]Collaborator, 0, len(input.Collaborators))
	seen := map[string]bool{}
	for _, c := range input.Collaborators {
		if c.UserID == "" || c.UserID == owner || seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		collaborators = append(collaborators, c)
	}

	now := time.Now().UTC()
	return &Event{
		ID:                uuid.NewString(),
		Title:             input.Title,
		Description:       input.Description,
		Start:             input.Start.UTC(),
		End:               input.End.UTC(),
		Location:          input.Location,
		IsRecurring:       input.IsRecurring,
		RecurrencePattern: input.RecurrencePattern,
		Owner:             owner,
		Collaborators:     collaborators,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Get loads an event the actor may read
func (s *Service) Get(ctx context.Context, actor contextkeys.Identity, id string) (*Event, error) {
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEvent(ctx, actor, event, rbac.VerbGet); err != nil {
		return nil, err
	}
	return event, nil
}

// ListOptions narrows a listing
type ListOptions struct {
	CollaboratorID string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// List returns events the actor owns or collaborates on
func (s *Service) List(ctx context.Context, actor contextkeys.Identity, opts ListOptions) ([]*Event, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := s.store.List(ctx, ListFilter{
		UserEmail:      actor.Email,
		CollaboratorID: opts.CollaboratorID,
		From:           opts.From,
		To:             opts.To,
		Limit:          limit,
		Offset:         opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*Event{}
	}
	return events, nil
}

// Update applies a partial update. The version entry capturing the
// pre-update snapshot is appended before the live record is written; if
// the append fails the whole mutation aborts.
func (s *Service) Update(ctx context.Context, actor contextkeys.Identity, id string, input UpdateInput) (*Event, error) {
	if input.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrBadRequest)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEvent(ctx, actor, current, rbac.VerbPut); err != nil {
		return nil, err
	}

	proposed := *current
	proposed.Collaborators = current.Collaborators
	applyUpdate(&proposed, input)
	if proposed.End.Before(proposed.Start) {
		return nil, fmt.Errorf("%w: end_time must not precede start_time", ErrBadRequest)
	}
	proposed.UpdatedAt = time.Now().UTC()

	delta, err := s.deltaBetween(current, &proposed)
	if err != nil {
		return nil, err
	}

	if _, err := s.appendVersion(ctx, current, versions.ChangeUpdate, delta, actor.Email, ""); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, &proposed); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{"event": id, "user": actor.Email}).Info("event updated")
	return &proposed, nil
}

func applyUpdate(event *Event, input UpdateInput) {
	if input.Title != nil {
		event.Title = *input.Title
	}
	if input.Description != nil {
		event.Description = *input.Description
	}
	if input.Start != nil {
		event.Start = input.Start.UTC()
	}
	if input.End != nil {
		event.End = input.End.UTC()
	}
	if input.Location != nil {
		event.Location = *input.Location
	}
	if input.IsRecurring != nil {
		event.IsRecurring = *input.IsRecurring
	}
	if input.RecurrencePattern != nil {
		event.RecurrencePattern = *input.RecurrencePattern
	}
}

// Delete removes an event. Owner only; history survives.
func (s *Service) Delete(ctx context.Context, actor contextkeys.Identity, id string) error {
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if event.Owner != actor.Email {
		return fmt.Errorf("%w: only the owner may delete an event", ErrForbidden)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{"event": id, "user": actor.Email}).Info("event deleted")
	return nil
}

// Share adds collaborators. Owner only. Entries already present are
// dropped; if nothing remains the share is rejected as redundant.
func (s *Service) Share(ctx context.Context, actor contextkeys.Identity, id string, entries []Collaborator) (*Event, error) {
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Owner != actor.Email {
		return nil, fmt.Errorf("%w: only the owner may share an event", ErrForbidden)
	}

	var added []Collaborator
	seen := map[string]bool{}
	for _, entry := range entries {
		if entry.UserID == "" || entry.UserID == event.Owner || seen[entry.UserID] {
			continue
		}
		if _, exists := event.CollaboratorEntry(entry.UserID); exists {
			continue
		}
		seen[entry.UserID] = true
		added = append(added, entry)
	}
	if len(added) == 0 {
		return nil, fmt.Errorf("%w: all target users are already collaborators", ErrBadRequest)
	}

	event.Collaborators = append(event.Collaborators, added...)
	event.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, event); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{"event": id, "added": len(added)}).Info("event shared")
	return event, nil
}

// ChangeCollaboratorRole updates one collaborator's role. Owner only. The
// target role must exist in the registry and the change must not be a
// no-op.
func (s *Service) ChangeCollaboratorRole(ctx context.Context, actor contextkeys.Identity, id, userID, newRole string) (*Event, error) {
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Owner != actor.Email {
		return nil, fmt.Errorf("%w: only the owner may change collaborator roles", ErrForbidden)
	}

	if _, err := s.resolver.GetRole(ctx, newRole); err != nil {
		if errors.Is(err, rbac.ErrRoleNotFound) {
			return nil, fmt.Errorf("%w: role %q is not registered", ErrBadRequest, newRole)
		}
		return nil, err
	}

	idx := -1
	for i, c := range event.Collaborators {
		if c.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s is not a collaborator", ErrNotFound, userID)
	}
	if event.Collaborators[idx].Role == newRole {
		return nil, fmt.Errorf("%w: collaborator already holds role %q", ErrBadRequest, newRole)
	}

	event.Collaborators[idx].Role = newRole
	event.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// RemoveCollaborator removes a collaborator entry. Owner only.
func (s *Service) RemoveCollaborator(ctx context.Context, actor contextkeys.Identity, id, userID string) (*Event, error) {
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Owner != actor.Email {
		return nil, fmt.Errorf("%w: only the owner may remove collaborators", ErrForbidden)
	}

	kept := event.Collaborators[:0:0]
	found := false
	for _, c := range event.Collaborators {
		if c.UserID == userID {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s is not a collaborator", ErrNotFound, userID)
	}

	event.Collaborators = kept
	event.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Rollback restores an event's content fields to a historical snapshot.
// The pre-rollback state is appended to the log first, so history never
// loses the state being replaced. Identity, owner, collaborators, and
// created_at are preserved from the live record: history replay must not
// change access control.
func (s *Service) Rollback(ctx context.Context, actor contextkeys.Identity, id string, versionID int64) (*Event, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEvent(ctx, actor, current, rbac.VerbPut); err != nil {
		return nil, err
	}

	target, err := s.versions.Get(ctx, id, versionID)
	if err != nil {
		if errors.Is(err, versions.ErrNotFound) {
			return nil, fmt.Errorf("%w: version %d", ErrNotFound, versionID)
		}
		return nil, err
	}

	currentSnapshot, err := diff.Normalize(current)
	if err != nil {
		return nil, err
	}
	delta, err := diff.Compute(currentSnapshot, target.Snapshot)
	if err != nil {
		return nil, err
	}

	// Restore into a copy before touching the log: a corrupt snapshot
	// aborts the whole rollback instead of leaving an orphan log entry.
	restored := *current
	if err := restoreSnapshot(&restored, target.Snapshot); err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("rollback to version %d", versionID)
	if _, err := s.appendVersion(ctx, current, versions.ChangeRollback, delta, actor.Email, reason); err != nil {
		return nil, err
	}
	restored.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, &restored); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RollbacksTotal.Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"event":   id,
		"user":    actor.Email,
		"version": versionID,
	}).Info("event rolled back")
	return &restored, nil
}

// restoreSnapshot copies content fields out of a historical snapshot,
// leaving id, owner, collaborators, and created_at untouched. A snapshot
// whose timestamps cannot be parsed is corrupt and fails the restore.
func restoreSnapshot(event *Event, snapshot map[string]interface{}) error {
	if v, ok := snapshot["title"].(string); ok {
		event.Title = v
	}
	if v, ok := snapshot["description"].(string); ok {
		event.Description = v
	} else if _, present := snapshot["description"]; !present {
		event.Description = ""
	}
	if v, ok := snapshot["location"].(string); ok {
		event.Location = v
	} else if _, present := snapshot["location"]; !present {
		event.Location = ""
	}
	if v, ok := snapshot["recurrence_pattern"].(string); ok {
		event.RecurrencePattern = v
	} else if _, present := snapshot["recurrence_pattern"]; !present {
		event.RecurrencePattern = ""
	}
	if v, ok := snapshot["is_recurring"].(bool); ok {
		event.IsRecurring = v
	}
	if v, ok := snapshot["start_time"]; ok {
		ts, err := snapshotTime(v)
		if err != nil {
			return fmt.Errorf("%w: corrupt snapshot start_time for event %s: %v",
				versions.ErrStoreUnavailable, event.ID, err)
		}
		event.Start = ts
	}
	if v, ok := snapshot["end_time"]; ok {
		ts, err := snapshotTime(v)
		if err != nil {
			return fmt.Errorf("%w: corrupt snapshot end_time for event %s: %v",
				versions.ErrStoreUnavailable, event.ID, err)
		}
		event.End = ts
	}
	return nil
}

func snapshotTime(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("not a string: %T", v)
	}
	return time.Parse(time.RFC3339, s)
}

// Changelog returns the event's full history in append order. Readable by
// anyone who can read the event; the record survives event deletion but
// access then requires ownership knowledge, so a missing event is
// NotFound.
func (s *Service) Changelog(ctx context.Context, actor contextkeys.Identity, id string) ([]*versions.Entry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.versions.Changelog(ctx, id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*versions.Entry{}
	}
	return entries, nil
}

// History returns one version entry
func (s *Service) History(ctx context.Context, actor contextkeys.Identity, id string, versionID int64) (*versions.Entry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	entry, err := s.versions.Get(ctx, id, versionID)
	if err != nil {
		if errors.Is(err, versions.ErrNotFound) {
			return nil, fmt.Errorf("%w: version %d", ErrNotFound, versionID)
		}
		return nil, err
	}
	return entry, nil
}

// DiffBetween returns the structural delta between two stored versions
func (s *Service) DiffBetween(ctx context.Context, actor contextkeys.Identity, id string, versionA, versionB int64) (diff.Delta, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return diff.Delta{}, err
	}
	delta, err := s.versions.DiffBetween(ctx, id, versionA, versionB)
	if err != nil {
		if errors.Is(err, versions.ErrNotFound) {
			return diff.Delta{}, fmt.Errorf("%w: version", ErrNotFound)
		}
		return diff.Delta{}, err
	}
	return delta, nil
}

// EffectivePermission describes one collaborator's resolved access
type EffectivePermission struct {
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Permissions rbac.Grid `json:"permissions"`
}

// Permissions returns the owner-only enriched collaborator listing, each
// role joined to its registry grid
func (s *Service) Permissions(ctx context.Context, actor contextkeys.Identity, id string) ([]EffectivePermission, error) {
	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Owner != actor.Email {
		return nil, fmt.Errorf("%w: only the owner may list event permissions", ErrForbidden)
	}

	perms := make([]EffectivePermission, 0, len(event.Collaborators))
	for _, c := range event.Collaborators {
		grid, err := s.resolver.EffectiveEventPermissions(ctx, c.Role)
		if err != nil {
			return nil, err
		}
		if grid == nil {
			grid = rbac.Grid{}
		}
		perms = append(perms, EffectivePermission{UserID: c.UserID, Role: c.Role, Permissions: grid})
	}
	return perms, nil
}

// authorizeEvent is the event-scoped gate: owner bypass first, then the
// caller's collaborator role joined through the registry. Non-collaborators
// are denied regardless of their global role.
func (s *Service) authorizeEvent(ctx context.Context, actor contextkeys.Identity, event *Event, verb rbac.Verb) error {
	if event.Owner == actor.Email {
		return nil
	}

	entry, ok := event.CollaboratorEntry(actor.Email)
	if !ok {
		return fmt.Errorf("%w: not a collaborator on this event", ErrForbidden)
	}

	grid, err := s.resolver.EffectiveEventPermissions(ctx, entry.Role)
	if err != nil {
		return err
	}
	if !grid.Allows(rbac.ResourceEvents, verb) {
		return fmt.Errorf("%w: role %q does not permit %s on events", ErrForbidden, entry.Role, verb)
	}
	return nil
}

// appendVersion snapshots the current state into the log. Failure is
// fatal to the enclosing mutation.
func (s *Service) appendVersion(ctx context.Context, current *Event, changeType versions.ChangeType, delta diff.Delta, actor, reason string) (int64, error) {
	snapshot, err := diff.Normalize(current)
	if err != nil {
		return 0, err
	}
	return s.versions.Append(ctx, current.ID, changeType, snapshot, delta, actor, reason)
}

func (s *Service) deltaBetween(oldEvent, newEvent *Event) (diff.Delta, error) {
	oldSnap, err := diff.Normalize(oldEvent)
	if err != nil {
		return diff.Delta{}, err
	}
	newSnap, err := diff.Normalize(newEvent)
	if err != nil {
		return diff.Delta{}, err
	}
	return diff.Compute(oldSnap, newSnap)
}
