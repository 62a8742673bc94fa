package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Entity kinds form a closed set.
var entityKinds = map[string]bool{
	"person": true, "organization": true, "project": true, "technology": true,
	"location": true, "concept": true, "document": true, "other": true,
}

// ValidEntityKind reports whether kind is one of the closed entity-kind set.
func ValidEntityKind(kind string) bool {
	return entityKinds[kind]
}

// Entity is a named thing records can reference. Names are unique.
type Entity struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      string         `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// UpsertEntity returns the entity with the given name, creating it if absent.
// An existing entity keeps its original kind.
func (db *DB) UpsertEntity(name, kind string, now int64) (*Entity, error) {
	return db.upsertEntity(db.DB, name, kind, now)
}

// UpsertEntityTx is UpsertEntity inside a caller-owned transaction.
func (db *DB) UpsertEntityTx(tx *sql.Tx, name, kind string, now int64) (*Entity, error) {
	return db.upsertEntity(tx, name, kind, now)
}

type querier interface {
	execer
	QueryRow(query string, args ...any) *sql.Row
}

func (db *DB) upsertEntity(q querier, name, kind string, now int64) (*Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("entity name cannot be empty")
	}
	if kind == "" {
		kind = "other"
	}

	var e Entity
	var metadataJSON sql.NullString
	err := q.QueryRow(`SELECT id, name, kind, metadata, created_at FROM entities WHERE name = ?`, name).
		Scan(&e.ID, &e.Name, &e.Kind, &metadataJSON, &e.CreatedAt)
	if err == nil {
		if err := unmarshalMetadata(metadataJSON, &e.Metadata); err != nil {
			return nil, err
		}
		return &e, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup entity: %w", err)
	}

	e = Entity{ID: uuid.New().String(), Name: name, Kind: kind, CreatedAt: now}
	if _, err := q.Exec(`INSERT INTO entities (id, name, kind, metadata, created_at) VALUES (?, ?, ?, NULL, ?)`,
		e.ID, e.Name, e.Kind, e.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	return &e, nil
}

// LinkRecordEntity associates a record with an entity. Idempotent.
func (db *DB) LinkRecordEntity(recordID, entityID string) error {
	return db.linkRecordEntity(db.DB, recordID, entityID)
}

// LinkRecordEntityTx is LinkRecordEntity inside a caller-owned transaction.
func (db *DB) LinkRecordEntityTx(tx *sql.Tx, recordID, entityID string) error {
	return db.linkRecordEntity(tx, recordID, entityID)
}

func (db *DB) linkRecordEntity(e execer, recordID, entityID string) error {
	_, err := e.Exec(`INSERT OR IGNORE INTO record_entities (record_id, entity_id) VALUES (?, ?)`, recordID, entityID)
	if err != nil {
		return fmt.Errorf("link record entity: %w", err)
	}
	return nil
}

// UnlinkRecordEntities removes all entity links for a record.
func (db *DB) UnlinkRecordEntitiesTx(tx *sql.Tx, recordID string) error {
	if _, err := tx.Exec(`DELETE FROM record_entities WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("unlink record entities: %w", err)
	}
	return nil
}

// EntitiesForRecord returns the entities linked to a record, name-ordered.
func (db *DB) EntitiesForRecord(recordID string) ([]Entity, error) {
	rows, err := db.Query(`
		SELECT e.id, e.name, e.kind, e.metadata, e.created_at
		FROM entities e
		JOIN record_entities re ON re.entity_id = e.id
		WHERE re.record_id = ?
		ORDER BY e.name`, recordID)
	if err != nil {
		return nil, fmt.Errorf("entities for record: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var metadataJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Kind, &metadataJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if err := unmarshalMetadata(metadataJSON, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// DeleteOrphanEntities removes entities with no remaining record links.
func (db *DB) DeleteOrphanEntities() (int, error) {
	res, err := db.Exec(`DELETE FROM entities WHERE id NOT IN (SELECT DISTINCT entity_id FROM record_entities)`)
	if err != nil {
		return 0, fmt.Errorf("delete orphan entities: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountOrphanEntities reports how many entities DeleteOrphanEntities would remove.
func (db *DB) CountOrphanEntities() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM entities WHERE id NOT IN (SELECT DISTINCT entity_id FROM record_entities)`).Scan(&n)
	return n, err
}

// CountEntities returns the total entity count.
func (db *DB) CountEntities() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	return n, err
}
