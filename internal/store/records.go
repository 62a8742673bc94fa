package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record kinds form a closed set.
const (
	KindFact         = "fact"
	KindEntity       = "entity"
	KindRelationship = "relationship"
	KindSelf         = "self"
)

// ValidRecordKind reports whether kind is one of the closed record-kind set.
func ValidRecordKind(kind string) bool {
	switch kind {
	case KindFact, KindEntity, KindRelationship, KindSelf:
		return true
	}
	return false
}

// Record is a single memory. Timestamps are milliseconds since epoch.
// ExpiresAt == nil means the record is permanent.
type Record struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Summary      string         `json:"summary"`
	Kind         string         `json:"kind"`
	Importance   float64        `json:"importance"`
	CreatedAt    int64          `json:"created_at"`
	LastAccessed int64          `json:"last_accessed"`
	AccessCount  int            `json:"access_count"`
	ExpiresAt    *int64         `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IsDeleted    bool           `json:"is_deleted,omitempty"`
}

const recordColumns = `id, content, summary, kind, importance, created_at, last_accessed, access_count, expires_at, metadata, is_deleted`

// PutRecord inserts or replaces a record. The FTS index is kept in sync by
// triggers, inside the same statement's transaction.
func (db *DB) PutRecord(rec *Record) error {
	return db.putRecord(db.DB, rec)
}

// PutRecordTx is PutRecord inside a caller-owned transaction.
func (db *DB) PutRecordTx(tx *sql.Tx, rec *Record) error {
	return db.putRecord(tx, rec)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (db *DB) putRecord(e execer, rec *Record) error {
	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	deleted := 0
	if rec.IsDeleted {
		deleted = 1
	}

	_, err = e.Exec(`
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			summary = excluded.summary,
			kind = excluded.kind,
			importance = excluded.importance,
			last_accessed = excluded.last_accessed,
			access_count = excluded.access_count,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata,
			is_deleted = excluded.is_deleted
	`, rec.ID, rec.Content, rec.Summary, rec.Kind, rec.Importance,
		rec.CreatedAt, rec.LastAccessed, rec.AccessCount, rec.ExpiresAt,
		metadataJSON, deleted)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// GetRecord returns a record by id, or nil if not found. Soft-deleted records
// are returned with IsDeleted set; callers decide whether they count.
func (db *DB) GetRecord(id string) (*Record, error) {
	row := db.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// SoftDeleteRecord flips is_deleted. The update trigger drops the row from
// the FTS index in the same transaction. Returns sql.ErrNoRows semantics via
// a found flag.
func (db *DB) SoftDeleteRecord(id string) (bool, error) {
	res, err := db.Exec(`UPDATE records SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return false, fmt.Errorf("soft delete record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RestoreRecord reverses a soft delete; the update trigger re-adds the row
// to the FTS index.
func (db *DB) RestoreRecord(id string) (bool, error) {
	res, err := db.Exec(`UPDATE records SET is_deleted = 0 WHERE id = ? AND is_deleted = 1`, id)
	if err != nil {
		return false, fmt.Errorf("restore record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteExpired permanently removes active records whose expiry has passed.
// Join rows and provenance cascade via foreign keys.
func (db *DB) DeleteExpired(now int64) (int, error) {
	res, err := db.Exec(`DELETE FROM records WHERE is_deleted = 0 AND expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountExpired reports how many records DeleteExpired would remove.
func (db *DB) CountExpired(now int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM records WHERE is_deleted = 0 AND expires_at IS NOT NULL AND expires_at <= ?`, now).Scan(&n)
	return n, err
}

// DeleteSoftDeletedBefore permanently removes soft-deleted records last
// touched before cutoff.
func (db *DB) DeleteSoftDeletedBefore(cutoff int64) (int, error) {
	res, err := db.Exec(`DELETE FROM records WHERE is_deleted = 1 AND last_accessed < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete soft-deleted: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountSoftDeletedBefore reports how many records DeleteSoftDeletedBefore
// would remove.
func (db *DB) CountSoftDeletedBefore(cutoff int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM records WHERE is_deleted = 1 AND last_accessed < ?`, cutoff).Scan(&n)
	return n, err
}

// TouchRecords bumps access_count and last_accessed for a batch of records.
func (db *DB) TouchRecords(ids []string, now int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	_, err := db.Exec(fmt.Sprintf(
		`UPDATE records SET access_count = access_count + 1, last_accessed = ? WHERE id IN (%s)`,
		strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("touch records: %w", err)
	}
	return nil
}

// UpdateExpiry sets a record's expires_at.
func (db *DB) UpdateExpiry(id string, expiresAt *int64) error {
	_, err := db.Exec(`UPDATE records SET expires_at = ? WHERE id = ?`, expiresAt, id)
	if err != nil {
		return fmt.Errorf("update expiry: %w", err)
	}
	return nil
}

// CountRecords returns the number of non-deleted records.
func (db *DB) CountRecords() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM records WHERE is_deleted = 0`).Scan(&n)
	return n, err
}

// ListActive returns all non-deleted, non-expired records. Used by the
// hot-context ranking, which has no text query to narrow the set.
func (db *DB) ListActive(now int64) ([]Record, error) {
	rows, err := db.Query(`SELECT `+recordColumns+` FROM records
		WHERE is_deleted = 0 AND (expires_at IS NULL OR expires_at > ?)`, now)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
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

// TextFilters narrows a full-text query.
type TextFilters struct {
	Kind     string   // restrict to one record kind
	Entities []string // restrict to records linked to any of these entity names
}

// Candidate is a full-text match with the engine's raw rank. Lower bm25 rank
// is a better match.
type Candidate struct {
	Record
	Rank float64
}

// QueryText runs the FTS query and returns all non-deleted, non-expired
// matches meeting the filters. Result order is whatever the index engine
// produces; ranking is the caller's job.
func (db *DB) QueryText(query string, filters TextFilters, now int64) ([]Candidate, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	where := []string{
		"records_fts MATCH ?",
		"r.is_deleted = 0",
		"(r.expires_at IS NULL OR r.expires_at > ?)",
	}
	args := []any{match, now}

	if filters.Kind != "" {
		where = append(where, "r.kind = ?")
		args = append(args, filters.Kind)
	}
	if len(filters.Entities) > 0 {
		placeholders := make([]string, len(filters.Entities))
		for i, name := range filters.Entities {
			placeholders[i] = "?"
			args = append(args, name)
		}
		where = append(where, fmt.Sprintf(`r.id IN (
			SELECT re.record_id FROM record_entities re
			JOIN entities e ON e.id = re.entity_id
			WHERE e.name IN (%s))`, strings.Join(placeholders, ",")))
	}

	rows, err := db.Query(fmt.Sprintf(`
		SELECT `+prefixed(recordColumns, "r.")+`, bm25(records_fts) AS rank
		FROM records_fts
		JOIN records r ON r.rowid = records_fts.rowid
		WHERE %s`, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("query text: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var metadataJSON sql.NullString
		var expiresAt sql.NullInt64
		var deleted int
		err := rows.Scan(&c.ID, &c.Content, &c.Summary, &c.Kind, &c.Importance,
			&c.CreatedAt, &c.LastAccessed, &c.AccessCount, &expiresAt,
			&metadataJSON, &deleted, &c.Rank)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if expiresAt.Valid {
			v := expiresAt.Int64
			c.ExpiresAt = &v
		}
		c.IsDeleted = deleted != 0
		if err := unmarshalMetadata(metadataJSON, &c.Metadata); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// ftsMatchExpr turns free text into an FTS5 MATCH expression. Each term is
// quoted so user input can't inject FTS syntax; terms are OR-joined.
func ftsMatchExpr(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var metadataJSON sql.NullString
	var expiresAt sql.NullInt64
	var deleted int
	err := row.Scan(&rec.ID, &rec.Content, &rec.Summary, &rec.Kind, &rec.Importance,
		&rec.CreatedAt, &rec.LastAccessed, &rec.AccessCount, &expiresAt,
		&metadataJSON, &deleted)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		v := expiresAt.Int64
		rec.ExpiresAt = &v
	}
	rec.IsDeleted = deleted != 0
	if err := unmarshalMetadata(metadataJSON, &rec.Metadata); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Metadata is stored as a single JSON column; serialization stays at this
// edge so nothing above the store sees raw JSON.
func marshalMetadata(m map[string]any) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func unmarshalMetadata(col sql.NullString, dst *map[string]any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}

// NowMillis is the store's clock: milliseconds since epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
