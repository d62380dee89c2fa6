package versions

import "github.com/neofi/chronicle/pkg/store"

// Migrations returns the version-store schema. The auto-increment primary
// key doubles as the insertion-sequence tie-break for changelog ordering.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "Create event_versions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS event_versions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					event_id TEXT NOT NULL,
					change_type TEXT NOT NULL,
					snapshot TEXT NOT NULL,
					delta TEXT NOT NULL,
					actor TEXT NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_event_versions_event_id
					ON event_versions(event_id);
			`,
			PostgresSQL: `
				CREATE TABLE IF NOT EXISTS event_versions (
					id BIGSERIAL PRIMARY KEY,
					event_id TEXT NOT NULL,
					change_type TEXT NOT NULL,
					snapshot TEXT NOT NULL,
					delta TEXT NOT NULL,
					actor TEXT NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_event_versions_event_id
					ON event_versions(event_id);
			`,
		},
	}
}
