package auth

import "github.com/neofi/chronicle/pkg/store"

// Migrations returns the users and refresh_tokens schema
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					email TEXT PRIMARY KEY,
					password_hash TEXT NOT NULL,
					role TEXT NOT NULL DEFAULT '',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
			PostgresSQL: `
				CREATE TABLE IF NOT EXISTS users (
					email TEXT PRIMARY KEY,
					password_hash TEXT NOT NULL,
					role TEXT NOT NULL DEFAULT '',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create refresh_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS refresh_tokens (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_email TEXT NOT NULL REFERENCES users(email) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					expires_at TIMESTAMP NOT NULL,
					revoked BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_email
					ON refresh_tokens(user_email);
			`,
			PostgresSQL: `
				CREATE TABLE IF NOT EXISTS refresh_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_email TEXT NOT NULL REFERENCES users(email) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					expires_at TIMESTAMP NOT NULL,
					revoked BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_email
					ON refresh_tokens(user_email);
			`,
		},
	}
}
