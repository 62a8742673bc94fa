package store

import (
	"database/sql"
	"fmt"
)

// Provenance operations form a closed set.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpAccess  = "access"
	OpRestore = "restore"
)

// Provenance is one append-only audit row. Rows are never updated or
// deleted except by cascade when their record is hard-deleted.
type Provenance struct {
	ID        int64  `json:"id"`
	RecordID  string `json:"record_id"`
	Operation string `json:"operation"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source,omitempty"`
	Context   string `json:"context,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Changes   string `json:"changes,omitempty"`
}

// AddProvenance appends an audit row.
func (db *DB) AddProvenance(p *Provenance) error {
	return db.addProvenance(db.DB, p)
}

// AddProvenanceTx is AddProvenance inside a caller-owned transaction.
func (db *DB) AddProvenanceTx(tx *sql.Tx, p *Provenance) error {
	return db.addProvenance(tx, p)
}

func (db *DB) addProvenance(e execer, p *Provenance) error {
	res, err := e.Exec(`
		INSERT INTO provenance (record_id, operation, timestamp, source, context, actor, changes)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))`,
		p.RecordID, p.Operation, p.Timestamp, p.Source, p.Context, p.Actor, p.Changes)
	if err != nil {
		return fmt.Errorf("add provenance: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// ProvenanceForRecord returns a record's audit trail, oldest first.
func (db *DB) ProvenanceForRecord(recordID string) ([]Provenance, error) {
	rows, err := db.Query(`
		SELECT id, record_id, operation, timestamp,
		       COALESCE(source, ''), COALESCE(context, ''), COALESCE(actor, ''), COALESCE(changes, '')
		FROM provenance WHERE record_id = ? ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("provenance for record: %w", err)
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

// CountProvenance returns the total provenance row count.
func (db *DB) CountProvenance() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM provenance`).Scan(&n)
	return n, err
}
