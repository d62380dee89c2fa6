package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/neofi/chronicle/pkg/observability"
)

const (
	gridCacheSize = 256
	gridCacheTTL  = 30 * time.Second
)

// gridEntry caches a permission lookup, including the distinction between
// "no document" and "empty grid"
type gridEntry struct {
	grid   Grid
	exists bool
}

// Resolver answers authorization questions against the role registry.
// Grid lookups go through a short-TTL LRU cache that is invalidated on
// every grant, so a stale cache can only delay a permission change by the
// TTL, never resurrect a deleted grant past it.
type Resolver struct {
	store   *Store
	cache   *expirable.LRU[string, gridEntry]
	metrics *observability.Metrics
}

// NewResolver creates a resolver over the given registry store. metrics
// may be nil.
func NewResolver(store *Store, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		cache:   expirable.NewLRU[string, gridEntry](gridCacheSize, nil, gridCacheTTL),
		metrics: metrics,
	}
}

// Authorize resolves whether a user holding roleName may perform verb on
// resource. The empty role name means the user has no assigned role.
// Resolution never mutates state; identical inputs against identical
// registry state yield identical decisions.
func (r *Resolver) Authorize(ctx context.Context, roleName string, resource Resource, verb Verb) (Decision, error) {
	decision, err := r.resolve(ctx, roleName, resource, verb)
	if err != nil {
		return Decision{}, err
	}

	if r.metrics != nil {
		outcome := "allow"
		if !decision.Allowed {
			outcome = string(decision.Reason)
		}
		r.metrics.AuthzDecisionsTotal.WithLabelValues(string(resource), string(verb), outcome).Inc()
	}
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, roleName string, resource Resource, verb Verb) (Decision, error) {
	if roleName == "" {
		return Decision{Allowed: false, Reason: DenyNoRole}, nil
	}

	entry, err := r.lookupGrid(ctx, roleName)
	if err != nil {
		return Decision{}, err
	}
	if !entry.exists {
		return Decision{Allowed: false, Reason: DenyNoPermissions}, nil
	}
	if !entry.grid.Allows(resource, verb) {
		return Decision{Allowed: false, Reason: DenyPermissionDenied}, nil
	}
	return Decision{Allowed: true}, nil
}

// EffectiveEventPermissions returns the grid a collaborator role grants
// on an event by joining the role name against the registry. A role with
// no registry entry yields a nil (deny-all) grid, not an error.
func (r *Resolver) EffectiveEventPermissions(ctx context.Context, collaboratorRole string) (Grid, error) {
	if collaboratorRole == "" {
		return nil, nil
	}
	entry, err := r.lookupGrid(ctx, collaboratorRole)
	if err != nil {
		return nil, err
	}
	if !entry.exists {
		return nil, nil
	}
	return entry.grid, nil
}

func (r *Resolver) lookupGrid(ctx context.Context, roleName string) (gridEntry, error) {
	if entry, ok := r.cache.Get(roleName); ok {
		if r.metrics != nil {
			r.metrics.GridCacheHitsTotal.Inc()
		}
		return entry, nil
	}
	if r.metrics != nil {
		r.metrics.GridCacheMissTotal.Inc()
	}

	grid, exists, err := r.store.GetGrid(ctx, roleName)
	if err != nil {
		return gridEntry{}, err
	}
	entry := gridEntry{grid: grid, exists: exists}
	r.cache.Add(roleName, entry)
	return entry, nil
}

// CreateRole registers a new role
func (r *Resolver) CreateRole(ctx context.Context, name, createdBy string) (*Role, error) {
	return r.store.CreateRole(ctx, name, createdBy)
}

// GetRole loads a role by name
func (r *Resolver) GetRole(ctx context.Context, name string) (*Role, error) {
	return r.store.GetRole(ctx, name)
}

// ListRoles returns all registered roles
func (r *Resolver) ListRoles(ctx context.Context) ([]*Role, error) {
	return r.store.ListRoles(ctx)
}

// SetGrid stores a role's permission grid and invalidates its cache entry
func (r *Resolver) SetGrid(ctx context.Context, roleName string, grid Grid) error {
	if err := r.store.SetGrid(ctx, roleName, grid); err != nil {
		return err
	}
	r.cache.Remove(roleName)
	return nil
}

// RolePermissions returns a role's grid, normalizing "no document" to an
// empty grid for presentation. The role must exist.
func (r *Resolver) RolePermissions(ctx context.Context, roleName string) (Grid, error) {
	if _, err := r.store.GetRole(ctx, roleName); err != nil {
		return nil, err
	}
	grid, exists, err := r.store.GetGrid(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return Grid{}, nil
	}
	return grid, nil
}
