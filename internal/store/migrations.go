package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: approved knowledge units",
		SQL: `
CREATE TABLE memories (
    id                 TEXT PRIMARY KEY,
    canonical_question TEXT NOT NULL,
    semantic_variants  TEXT,
    answer             TEXT,

    -- Access control
    departments        TEXT,
    min_clearance      TEXT NOT NULL DEFAULT 'internal' CHECK (min_clearance IN ('public', 'internal', 'confidential')),
    allowed_roles      TEXT,
    redact_below       INTEGER NOT NULL DEFAULT 0,
    sensitivity        TEXT NOT NULL DEFAULT 'general' CHECK (sensitivity IN ('general', 'security', 'legal')),

    -- Workflow linkage
    related_workflows  TEXT,
    workflow_step      INTEGER NOT NULL DEFAULT 0,

    -- Lifecycle
    status             TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'pending_approval', 'approved', 'expired', 'archived')),
    expires_at         INTEGER NOT NULL DEFAULT 0,
    authority_score    REAL NOT NULL DEFAULT 0.5,

    -- Usage stats, written only by the feedback ingestor
    access_count       INTEGER NOT NULL DEFAULT 0,
    last_accessed      INTEGER,
    accept_rate        REAL NOT NULL DEFAULT 1.0,

    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);

CREATE INDEX idx_memories_status      ON memories(status);
CREATE INDEX idx_memories_sensitivity ON memories(sensitivity);
CREATE INDEX idx_memories_expires     ON memories(expires_at);
`,
	},
	{
		Version:     2,
		Description: "memory_vectors: embedding vectors for semantic retrieval",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "feedback_events: append-only user reactions, deduplicated by event id",
		SQL: `
CREATE TABLE feedback_events (
    event_id            TEXT PRIMARY KEY,
    memory_id           TEXT NOT NULL,
    user_id             TEXT NOT NULL,
    context_fingerprint TEXT,
    outcome             TEXT NOT NULL CHECK (outcome IN ('accepted', 'ignored', 'rejected', 'edited')),
    created_at          INTEGER NOT NULL
);

CREATE INDEX idx_feedback_memory ON feedback_events(memory_id);
CREATE INDEX idx_feedback_user   ON feedback_events(user_id, created_at);
`,
	},
	{
		Version:     4,
		Description: "user_thresholds: adaptive per user/context threshold state",
		SQL: `
CREATE TABLE user_thresholds (
    user_id      TEXT NOT NULL,
    context_key  TEXT NOT NULL,
    positive     INTEGER NOT NULL DEFAULT 0,
    negative     INTEGER NOT NULL DEFAULT 0,
    updated_at   INTEGER NOT NULL,
    PRIMARY KEY (user_id, context_key)
);
`,
	},
	{
		Version:     5,
		Description: "users: identity directory",
		SQL: `
CREATE TABLE users (
    id         TEXT PRIMARY KEY,
    role       TEXT NOT NULL,
    department TEXT NOT NULL,
    clearance  TEXT NOT NULL DEFAULT 'internal' CHECK (clearance IN ('public', 'internal', 'confidential')),
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     6,
		Description: "memories: reconfirmation deadline as an expiration alternative",
		SQL: `
ALTER TABLE memories ADD COLUMN reconfirm_by INTEGER NOT NULL DEFAULT 0;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
