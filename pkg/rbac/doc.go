// Package rbac implements the role registry and permission resolver.
//
// Roles are global, named permission holders. A role's permission set is
// a separate document (a resource -> verb -> bool grid) joined by role
// name; a role with no document denies everything. Authorization resolves
// in a fixed order: no role denies with NoRole, a role without a grid
// denies with NoPermissions, and a grid lookup with any missing key
// denies with PermissionDenied. Owner bypass for event-scoped operations
// happens in the events service before the resolver is consulted.
//
// Collaborator roles on events are indirections through this same
// registry, never inline permission blobs; EffectiveEventPermissions
// performs that join.
package rbac
