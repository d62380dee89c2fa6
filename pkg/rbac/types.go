package rbac

import (
	"errors"
	"time"
)

// Resource names the gated resource classes
type Resource string

const (
	ResourceEvents        Resource = "events"
	ResourceUsers         Resource = "users"
	ResourceRoles         Resource = "roles"
	ResourceCollaborators Resource = "collaborators"
)

// Valid reports whether the resource is one of the known classes
func (r Resource) Valid() bool {
	switch r {
	case ResourceEvents, ResourceUsers, ResourceRoles, ResourceCollaborators:
		return true
	}
	return false
}

// Verb is an HTTP-style action on a resource
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPut    Verb = "PUT"
	VerbDelete Verb = "DELETE"
)

// Valid reports whether the verb is one of the known actions
func (v Verb) Valid() bool {
	switch v {
	case VerbGet, VerbPost, VerbPut, VerbDelete:
		return true
	}
	return false
}

// Grid is a role's permission set: resource -> verb -> allowed. Any
// missing key denies. The typed two-level lookup exists precisely so that
// absence can never be read as allow.
type Grid map[Resource]map[Verb]bool

// Allows performs the default-deny lookup
func (g Grid) Allows(resource Resource, verb Verb) bool {
	if g == nil {
		return false
	}
	verbs, ok := g[resource]
	if !ok {
		return false
	}
	return verbs[verb]
}

// FullAccess returns a grid granting every verb on every resource
func FullAccess() Grid {
	g := Grid{}
	for _, r := range []Resource{ResourceEvents, ResourceUsers, ResourceRoles, ResourceCollaborators} {
		g[r] = map[Verb]bool{VerbGet: true, VerbPost: true, VerbPut: true, VerbDelete: true}
	}
	return g
}

// Role is a named permission holder. Its grid lives in a separate
// permission document joined by name; a role with no document denies all.
type Role struct {
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// DenyReason explains why authorization was denied
type DenyReason string

const (
	DenyNoRole           DenyReason = "no_role"
	DenyNoPermissions    DenyReason = "no_permissions"
	DenyPermissionDenied DenyReason = "permission_denied"
)

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

var (
	// ErrRoleNotFound is returned when a named role does not exist
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a role whose name is taken
	ErrRoleExists = errors.New("role already exists")

	// ErrInvalidGrid is returned when a permission grid names an unknown
	// resource or verb
	ErrInvalidGrid = errors.New("invalid permission grid")
)
