package store

import (
	"database/sql"
	"fmt"
	"strings"
)

type migration struct {
	Version     int
	Description string
	SQL         string

	// Backfill runs inside the same transaction as SQL, for data migrations
	// that can't be expressed in SQLite's dialect. If it fails, the whole
	// migration (and the open) fails.
	Backfill func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		Version:     1,
		Description: "records, entities, links, provenance",
		SQL: `
CREATE TABLE records (
    id            TEXT PRIMARY KEY,
    content       TEXT NOT NULL,
    kind          TEXT NOT NULL DEFAULT 'fact' CHECK (kind IN ('fact', 'entity', 'relationship', 'self')),
    importance    REAL NOT NULL DEFAULT 3.0 CHECK (importance >= 0 AND importance <= 10),
    created_at    INTEGER NOT NULL,
    last_accessed INTEGER NOT NULL,
    access_count  INTEGER NOT NULL DEFAULT 0,
    expires_at    INTEGER,
    metadata      TEXT,
    is_deleted    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_records_kind    ON records(kind);
CREATE INDEX idx_records_expires ON records(expires_at);
CREATE INDEX idx_records_deleted ON records(is_deleted);

CREATE TABLE entities (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    kind       TEXT NOT NULL DEFAULT 'other' CHECK (kind IN ('person', 'organization', 'project', 'technology', 'location', 'concept', 'document', 'other')),
    metadata   TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE record_entities (
    record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
    entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (record_id, entity_id)
);
CREATE INDEX idx_record_entities_entity ON record_entities(entity_id);

CREATE TABLE provenance (
    id        INTEGER PRIMARY KEY,
    record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
    operation TEXT NOT NULL CHECK (operation IN ('create', 'update', 'delete', 'access', 'restore')),
    timestamp INTEGER NOT NULL,
    source    TEXT,
    context   TEXT,
    actor     TEXT,
    changes   TEXT
);
CREATE INDEX idx_provenance_record ON provenance(record_id);
`,
	},
	{
		Version:     2,
		Description: "records.summary with backfill for legacy rows",
		SQL:         `ALTER TABLE records ADD COLUMN summary TEXT NOT NULL DEFAULT ''`,
		Backfill:    backfillSummaries,
	},
	{
		Version:     3,
		Description: "records_fts: synchronized full-text index over content+summary",
		SQL: `
CREATE VIRTUAL TABLE records_fts USING fts5(
    content,
    summary,
    content='records',
    content_rowid='rowid'
);

CREATE TRIGGER records_ai AFTER INSERT ON records WHEN new.is_deleted = 0 BEGIN
    INSERT INTO records_fts(rowid, content, summary) VALUES (new.rowid, new.content, new.summary);
END;

CREATE TRIGGER records_ad AFTER DELETE ON records WHEN old.is_deleted = 0 BEGIN
    INSERT INTO records_fts(records_fts, rowid, content, summary) VALUES ('delete', old.rowid, old.content, old.summary);
END;

CREATE TRIGGER records_au AFTER UPDATE ON records BEGIN
    INSERT INTO records_fts(records_fts, rowid, content, summary)
        SELECT 'delete', old.rowid, old.content, old.summary WHERE old.is_deleted = 0;
    INSERT INTO records_fts(rowid, content, summary)
        SELECT new.rowid, new.content, new.summary WHERE new.is_deleted = 0;
END;

INSERT INTO records_fts(rowid, content, summary)
    SELECT rowid, content, summary FROM records WHERE is_deleted = 0;
`,
	},
}

// backfillSummaries derives a summary for rows created before the summary
// column existed. Cannot be done in SQL: summaries are word-bounded.
func backfillSummaries(tx *sql.Tx) error {
	rows, err := tx.Query(`SELECT id, content FROM records WHERE summary = ''`)
	if err != nil {
		return fmt.Errorf("select legacy rows: %w", err)
	}
	defer rows.Close()

	type pair struct{ id, summary string }
	var pending []pair
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return fmt.Errorf("scan legacy row: %w", err)
		}
		pending = append(pending, pair{id, Summarize(content)})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate legacy rows: %w", err)
	}

	for _, p := range pending {
		if _, err := tx.Exec(`UPDATE records SET summary = ? WHERE id = ?`, p.summary, p.id); err != nil {
			return fmt.Errorf("backfill summary for %s: %w", p.id, err)
		}
	}
	return nil
}

// Summarize derives a synopsis of at most 25 words from content.
func Summarize(content string) string {
	const maxWords = 25
	words := strings.Fields(content)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func (db *DB) migrate() error {
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

		if m.Backfill != nil {
			if err := m.Backfill(tx); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d backfill (%s): %w", m.Version, m.Description, err)
			}
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
