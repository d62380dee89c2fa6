package rbac

import "github.com/neofi/chronicle/pkg/store"

// Migrations returns the role registry schema. Roles and their permission
// grids are separate tables joined by role name, so a role can exist with
// no permission document (deny-all).
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					name TEXT PRIMARY KEY,
					created_by TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
			PostgresSQL: `
				CREATE TABLE IF NOT EXISTS roles (
					name TEXT PRIMARY KEY,
					created_by TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_name TEXT PRIMARY KEY REFERENCES roles(name) ON DELETE CASCADE,
					grid TEXT NOT NULL,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
			PostgresSQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_name TEXT PRIMARY KEY REFERENCES roles(name) ON DELETE CASCADE,
					grid TEXT NOT NULL,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}
