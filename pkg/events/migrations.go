package events

import "github.com/neofi/chronicle/pkg/store"

// Migrations returns the events schema. The collaborator list is embedded
// as a JSON column, mirroring the single-document shape the service reads
// and writes atomically.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					start_time TIMESTAMP NOT NULL,
					end_time TIMESTAMP NOT NULL,
					location TEXT NOT NULL DEFAULT '',
					is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
					recurrence_pattern TEXT NOT NULL DEFAULT '',
					owner TEXT NOT NULL,
					collaborators TEXT NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner);
				CREATE INDEX IF NOT EXISTS idx_events_start_time ON events(start_time);
			`,
			PostgresSQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					start_time TIMESTAMP NOT NULL,
					end_time TIMESTAMP NOT NULL,
					location TEXT NOT NULL DEFAULT '',
					is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
					recurrence_pattern TEXT NOT NULL DEFAULT '',
					owner TEXT NOT NULL,
					collaborators TEXT NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner);
				CREATE INDEX IF NOT EXISTS idx_events_start_time ON events(start_time);
			`,
		},
	}
}
