package store

import (
	"database/sql"
	"fmt"
)

// Bulk accessors for offline maintenance. The consolidation path reads whole
// tables from source databases and writes merged rows into a fresh target.

// AllRecords returns every record, including soft-deleted ones, in creation
// order.
func (db *DB) AllRecords() ([]Record, error) {
	rows, err := db.Query(`SELECT ` + recordColumns + ` FROM records ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("all records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// AllEntities returns every entity in creation order.
func (db *DB) AllEntities() ([]Entity, error) {
	rows, err := db.Query(`SELECT id, name, kind, metadata, created_at FROM entities ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("all entities: %w", err)
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

// RecordEntityLink is one row of the record/entity join table.
type RecordEntityLink struct {
	RecordID string
	EntityID string
}

// AllLinks returns every record/entity association.
func (db *DB) AllLinks() ([]RecordEntityLink, error) {
	rows, err := db.Query(`SELECT record_id, entity_id FROM record_entities ORDER BY record_id, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("all links: %w", err)
	}
	defer rows.Close()

	var out []RecordEntityLink
	for rows.Next() {
		var l RecordEntityLink
		if err := rows.Scan(&l.RecordID, &l.EntityID); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

// AllProvenance returns every audit row, oldest first.
func (db *DB) AllProvenance() ([]Provenance, error) {
	rows, err := db.Query(`
		SELECT id, record_id, operation, timestamp,
		       COALESCE(source, ''), COALESCE(context, ''), COALESCE(actor, ''), COALESCE(changes, '')
		FROM provenance ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all provenance: %w", err)
	}
	defer rows.Close()

	var out []Provenance
	for rows.Next() {
		var p Provenance
		if err := rows.Scan(&p.ID, &p.RecordID, &p.Operation, &p.Timestamp,
			&p.Source, &p.Context, &p.Actor, &p.Changes); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance: %w", err)
	}
	return out, nil
}

// InsertEntityTx inserts an entity preserving its id. Unlike UpsertEntityTx
// this never generates a fresh id; the caller owns identity.
func (db *DB) InsertEntityTx(tx *sql.Tx, e *Entity) error {
	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entity metadata: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO entities (id, name, kind, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Kind, metadataJSON, e.CreatedAt); err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// OptimizeFTS merges the full-text index's b-trees and refreshes planner
// statistics. Used after bulk loads. A full 'rebuild' is deliberately not
// offered: it would re-index soft-deleted rows that the triggers keep out.
func (db *DB) OptimizeFTS() error {
	stmts := []string{
		`INSERT INTO records_fts(records_fts) VALUES('optimize')`,
		`ANALYZE`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("optimize fts: %w", err)
		}
	}
	return nil
}
