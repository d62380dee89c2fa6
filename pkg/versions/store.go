package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neofi/chronicle/pkg/diff"
	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/store"
)

// Store persists event version entries. It intentionally has no update or
// delete methods.
type Store struct {
	db      *store.DB
	metrics *observability.Metrics
}

// NewStore creates a version store. metrics may be nil.
func NewStore(db *store.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// Append inserts a new immutable version entry and returns its id
func (s *Store) Append(ctx context.Context, eventID string, changeType ChangeType, snapshot map[string]interface{}, delta diff.Delta, actor, reason string) (int64, error) {
	if !changeType.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidChangeType, changeType)
	}

	start := time.Now()
	id, err := s.append(ctx, eventID, changeType, snapshot, delta, actor, reason)
	store.Observe(s.metrics, "event_versions", "append", start, err)
	if err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.VersionAppendsTotal.WithLabelValues(string(changeType)).Inc()
	}
	return id, nil
}

func (s *Store) append(ctx context.Context, eventID string, changeType ChangeType, snapshot map[string]interface{}, delta diff.Delta, actor, reason string) (int64, error) {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal delta: %w", err)
	}

	now := time.Now().UTC()

	if s.db.Driver() == store.DriverPostgres {
		var id int64
		err = s.db.QueryRowContext(ctx, s.db.Rebind(`
			INSERT INTO event_versions (event_id, change_type, snapshot, delta, actor, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			eventID, string(changeType), string(snapshotJSON), string(deltaJSON), actor, reason, now,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO event_versions (event_id, change_type, snapshot, delta, actor, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, string(changeType), string(snapshotJSON), string(deltaJSON), actor, reason, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return id, nil
}

const entryColumns = `id, event_id, change_type, snapshot, delta, actor, reason, created_at`

// Get loads a single version entry. The lookup is event-scoped: a version
// id belonging to a different event is NotFound, not leaked.
func (s *Store) Get(ctx context.Context, eventID string, versionID int64) (*Entry, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+entryColumns+` FROM event_versions
		WHERE id = ? AND event_id = ?`),
		versionID, eventID,
	)

	entry, err := scanEntry(row)
	store.Observe(s.metrics, "event_versions", "get", start, err)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return entry, nil
}

// Changelog returns all entries for an event ordered by timestamp
// ascending, tie-broken by insertion sequence.
func (s *Store) Changelog(ctx context.Context, eventID string) ([]*Entry, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+entryColumns+` FROM event_versions
		WHERE event_id = ?
		ORDER BY created_at ASC, id ASC`),
		eventID,
	)
	store.Observe(s.metrics, "event_versions", "changelog", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return entries, nil
}

// DiffBetween loads two snapshots of the same event and computes the
// structural delta from the first to the second.
func (s *Store) DiffBetween(ctx context.Context, eventID string, versionA, versionB int64) (diff.Delta, error) {
	a, err := s.Get(ctx, eventID, versionA)
	if err != nil {
		return diff.Delta{}, err
	}
	b, err := s.Get(ctx, eventID, versionB)
	if err != nil {
		return diff.Delta{}, err
	}
	return diff.Compute(a.Snapshot, b.Snapshot)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scannable) (*Entry, error) {
	var (
		entry        Entry
		changeType   string
		snapshotJSON string
		deltaJSON    string
	)
	if err := row.Scan(&entry.ID, &entry.EventID, &changeType, &snapshotJSON, &deltaJSON, &entry.Actor, &entry.Reason, &entry.CreatedAt); err != nil {
		return nil, err
	}

	entry.ChangeType = ChangeType(changeType)
	if err := json.Unmarshal([]byte(snapshotJSON), &entry.Snapshot); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for version %d: %w", entry.ID, err)
	}
	if err := json.Unmarshal([]byte(deltaJSON), &entry.Delta); err != nil {
		return nil, fmt.Errorf("corrupt delta for version %d: %w", entry.ID, err)
	}
	return &entry, nil
}
