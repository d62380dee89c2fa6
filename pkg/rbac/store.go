package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/store"
)

// Store persists the role registry and its permission grids
type Store struct {
	db      *store.DB
	metrics *observability.Metrics
}

// NewStore creates a role registry store. metrics may be nil.
func NewStore(db *store.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// CreateRole registers a new role with no permission document
func (s *Store) CreateRole(ctx context.Context, name, createdBy string) (*Role, error) {
	start := time.Now()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO roles (name, created_by, created_at) VALUES (?, ?, ?)`),
		name, createdBy, now,
	)
	store.Observe(s.metrics, "roles", "create", start, err)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrRoleExists, name)
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	return &Role{Name: name, CreatedBy: createdBy, CreatedAt: now}, nil
}

// GetRole loads a role by name
func (s *Store) GetRole(ctx context.Context, name string) (*Role, error) {
	start := time.Now()
	var role Role
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT name, created_by, created_at FROM roles WHERE name = ?`),
		name,
	).Scan(&role.Name, &role.CreatedBy, &role.CreatedAt)
	store.Observe(s.metrics, "roles", "get", start, err)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles returns all registered roles ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT name, created_by, created_at FROM roles ORDER BY name`)
	store.Observe(s.metrics, "roles", "list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.Name, &role.CreatedBy, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

// SetGrid upserts the permission grid for a role. The role must exist.
func (s *Store) SetGrid(ctx context.Context, roleName string, grid Grid) error {
	if err := validateGrid(grid); err != nil {
		return err
	}
	if _, err := s.GetRole(ctx, roleName); err != nil {
		return err
	}

	gridJSON, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("failed to marshal grid: %w", err)
	}

	start := time.Now()
	now := time.Now().UTC()

	// portable upsert: update first, insert when nothing matched
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE role_permissions SET grid = ?, updated_at = ? WHERE role_name = ?`),
		string(gridJSON), now, roleName,
	)
	if err == nil {
		if affected, aerr := res.RowsAffected(); aerr == nil && affected == 0 {
			_, err = s.db.ExecContext(ctx, s.db.Rebind(`
				INSERT INTO role_permissions (role_name, grid, updated_at) VALUES (?, ?, ?)`),
				roleName, string(gridJSON), now,
			)
		}
	}
	store.Observe(s.metrics, "role_permissions", "set", start, err)
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return nil
}

// GetGrid loads the permission grid for a role. The boolean reports
// whether a permission document exists at all, which authorization
// distinguishes from an empty grid.
func (s *Store) GetGrid(ctx context.Context, roleName string) (Grid, bool, error) {
	start := time.Now()
	var gridJSON string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT grid FROM role_permissions WHERE role_name = ?`),
		roleName,
	).Scan(&gridJSON)
	store.Observe(s.metrics, "role_permissions", "get", start, err)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get permissions: %w", err)
	}

	var grid Grid
	if err := json.Unmarshal([]byte(gridJSON), &grid); err != nil {
		return nil, false, fmt.Errorf("corrupt permission grid for role %s: %w", roleName, err)
	}
	return grid, true, nil
}

func validateGrid(grid Grid) error {
	for resource, verbs := range grid {
		if !resource.Valid() {
			return fmt.Errorf("%w: unknown resource %q", ErrInvalidGrid, resource)
		}
		for verb := range verbs {
			if !verb.Valid() {
				return fmt.Errorf("%w: unknown verb %q", ErrInvalidGrid, verb)
			}
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
