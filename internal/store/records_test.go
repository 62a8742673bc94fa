package store

import (
	"testing"
)

func seedRecord(t *testing.T, db *DB, id, content string) *Record {
	t.Helper()
	now := NowMillis()
	rec := &Record{
		ID:           id,
		Content:      content,
		Summary:      Summarize(content),
		Kind:         KindFact,
		Importance:   5.0,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord %s: %v", id, err)
	}
	return rec
}

func ftsMatches(t *testing.T, db *DB, term string) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM records_fts WHERE records_fts MATCH ?`, term).Scan(&n)
	if err != nil {
		t.Fatalf("fts count: %v", err)
	}
	return n
}

func TestPutGetRoundTrip(t *testing.T) {
	db := testDB(t)

	exp := NowMillis() + 86400_000
	rec := &Record{
		ID:           "rec-1",
		Content:      "The deploy pipeline uses blue-green rollout",
		Summary:      "deploy pipeline summary",
		Kind:         KindFact,
		Importance:   6.5,
		CreatedAt:    NowMillis(),
		LastAccessed: NowMillis(),
		AccessCount:  2,
		ExpiresAt:    &exp,
		Metadata:     map[string]any{"project": "atlas", "tags": []any{"infra"}},
	}
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := db.GetRecord("rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got == nil {
		t.Fatal("record not found")
	}
	if got.Content != rec.Content || got.Kind != KindFact || got.Importance != 6.5 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.ExpiresAt == nil || *got.ExpiresAt != exp {
		t.Errorf("expires_at = %v, want %d", got.ExpiresAt, exp)
	}
	if got.Metadata["project"] != "atlas" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestGetRecordMissing(t *testing.T) {
	db := testDB(t)

	got, err := db.GetRecord("nope")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestFTSSyncOnInsert(t *testing.T) {
	db := testDB(t)
	seedRecord(t, db, "rec-1", "kubernetes cluster autoscaling settings")

	if n := ftsMatches(t, db, "autoscaling"); n != 1 {
		t.Errorf("fts matches = %d, want 1", n)
	}
}

func TestFTSSyncOnSoftDeleteAndRestore(t *testing.T) {
	db := testDB(t)
	seedRecord(t, db, "rec-1", "kubernetes cluster autoscaling settings")

	found, err := db.SoftDeleteRecord("rec-1")
	if err != nil || !found {
		t.Fatalf("SoftDeleteRecord: found=%v err=%v", found, err)
	}
	if n := ftsMatches(t, db, "autoscaling"); n != 0 {
		t.Errorf("fts matches after soft delete = %d, want 0", n)
	}

	// Row itself is retained
	rec, err := db.GetRecord("rec-1")
	if err != nil || rec == nil {
		t.Fatalf("GetRecord after soft delete: %v %v", rec, err)
	}
	if !rec.IsDeleted {
		t.Error("record should be marked deleted")
	}

	found, err = db.RestoreRecord("rec-1")
	if err != nil || !found {
		t.Fatalf("RestoreRecord: found=%v err=%v", found, err)
	}
	if n := ftsMatches(t, db, "autoscaling"); n != 1 {
		t.Errorf("fts matches after restore = %d, want 1", n)
	}
}

func TestFTSSyncOnUpdate(t *testing.T) {
	db := testDB(t)
	rec := seedRecord(t, db, "rec-1", "original content about postgres")

	rec.Content = "replacement content about redis"
	rec.Summary = Summarize(rec.Content)
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord update: %v", err)
	}

	if n := ftsMatches(t, db, "postgres"); n != 0 {
		t.Errorf("old content still indexed: %d matches", n)
	}
	if n := ftsMatches(t, db, "redis"); n != 1 {
		t.Errorf("new content not indexed: %d matches", n)
	}
}

func TestSoftDeleteTwice(t *testing.T) {
	db := testDB(t)
	seedRecord(t, db, "rec-1", "something")

	if found, _ := db.SoftDeleteRecord("rec-1"); !found {
		t.Fatal("first soft delete should find the record")
	}
	if found, _ := db.SoftDeleteRecord("rec-1"); found {
		t.Error("second soft delete should report not found")
	}
}

func TestQueryTextFilters(t *testing.T) {
	db := testDB(t)
	now := NowMillis()

	seedRecord(t, db, "rec-1", "the atlas project deploys on fridays")
	rel := seedRecord(t, db, "rec-2", "atlas depends on the billing service")
	rel.Kind = KindRelationship
	if err := db.PutRecord(rel); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	all, err := db.QueryText("atlas", TextFilters{}, now)
	if err != nil {
		t.Fatalf("QueryText: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("matches = %d, want 2", len(all))
	}

	rels, err := db.QueryText("atlas", TextFilters{Kind: KindRelationship}, now)
	if err != nil {
		t.Fatalf("QueryText kind filter: %v", err)
	}
	if len(rels) != 1 || rels[0].ID != "rec-2" {
		t.Errorf("kind filter: %+v", rels)
	}
}

func TestQueryTextEntityFilter(t *testing.T) {
	db := testDB(t)
	now := NowMillis()

	seedRecord(t, db, "rec-1", "alice reviewed the atlas design doc")
	seedRecord(t, db, "rec-2", "the atlas design doc shipped last week")

	e, err := db.UpsertEntity("Alice", "person", now)
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	if err := db.LinkRecordEntity("rec-1", e.ID); err != nil {
		t.Fatalf("LinkRecordEntity: %v", err)
	}

	got, err := db.QueryText("atlas", TextFilters{Entities: []string{"Alice"}}, now)
	if err != nil {
		t.Fatalf("QueryText: %v", err)
	}
	if len(got) != 1 || got[0].ID != "rec-1" {
		t.Errorf("entity filter: %+v", got)
	}
}

func TestQueryTextExcludesExpired(t *testing.T) {
	db := testDB(t)
	now := NowMillis()

	rec := seedRecord(t, db, "rec-1", "ephemeral scratch note about caching")
	past := now - 1000
	rec.ExpiresAt = &past
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := db.QueryText("caching", TextFilters{}, now)
	if err != nil {
		t.Fatalf("QueryText: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expired record returned: %+v", got)
	}
}

func TestQueryTextQuotesInput(t *testing.T) {
	db := testDB(t)
	seedRecord(t, db, "rec-1", "notes about the AND operator")

	// Raw FTS syntax in user input must not error
	if _, err := db.QueryText(`AND OR NOT "unbalanced`, TextFilters{}, NowMillis()); err != nil {
		t.Errorf("QueryText with fts metachars: %v", err)
	}
}

func TestTouchRecords(t *testing.T) {
	db := testDB(t)
	seedRecord(t, db, "rec-1", "first")
	seedRecord(t, db, "rec-2", "second")

	later := NowMillis() + 5000
	if err := db.TouchRecords([]string{"rec-1", "rec-2"}, later); err != nil {
		t.Fatalf("TouchRecords: %v", err)
	}

	for _, id := range []string{"rec-1", "rec-2"} {
		rec, err := db.GetRecord(id)
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if rec.AccessCount != 1 {
			t.Errorf("%s access_count = %d, want 1", id, rec.AccessCount)
		}
		if rec.LastAccessed != later {
			t.Errorf("%s last_accessed = %d, want %d", id, rec.LastAccessed, later)
		}
	}
}

func TestDeleteExpiredCascades(t *testing.T) {
	db := testDB(t)
	now := NowMillis()

	rec := seedRecord(t, db, "rec-1", "short lived")
	past := now - 1000
	rec.ExpiresAt = &past
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	e, _ := db.UpsertEntity("Atlas", "project", now)
	db.LinkRecordEntity("rec-1", e.ID)
	db.AddProvenance(&Provenance{RecordID: "rec-1", Operation: OpCreate, Timestamp: now})

	n, err := db.DeleteExpired(now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	var links, prov int
	db.QueryRow(`SELECT COUNT(*) FROM record_entities`).Scan(&links)
	db.QueryRow(`SELECT COUNT(*) FROM provenance`).Scan(&prov)
	if links != 0 || prov != 0 {
		t.Errorf("cascade failed: links=%d provenance=%d", links, prov)
	}
}

func TestSummaryBackfillMigration(t *testing.T) {
	// Simulate a pre-v2 database: run only migration v1, insert a row, then
	// let Open-equivalent migration complete v2+v3.
	raw, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer raw.Close()

	// Roll the schema back to v1 by rebuilding: drop v3 artifacts and the
	// summary column is not trivially droppable, so instead verify the
	// backfill function directly.
	tx, err := raw.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = tx.Exec(`INSERT INTO records (id, content, summary, kind, importance, created_at, last_accessed, access_count, is_deleted)
		VALUES ('legacy', 'a b c d e', '', 'fact', 3.0, 0, 0, 0, 0)`)
	if err != nil {
		t.Fatalf("insert legacy: %v", err)
	}
	if err := backfillSummaries(tx); err != nil {
		t.Fatalf("backfillSummaries: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rec, err := raw.GetRecord("legacy")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Summary != "a b c d e" {
		t.Errorf("summary = %q", rec.Summary)
	}
}
