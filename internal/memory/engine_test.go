package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/engram/internal/store"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	if opts.Extractor == nil {
		opts.Extractor = NoopExtractor{}
	}
	return NewEngine(db, opts)
}

func TestStoreCreate(t *testing.T) {
	e := newTestEngine(t, Options{})

	rec, ents, err := e.Store(StoreParams{
		Content:    "  The service binds port 8080\r\non startup  ",
		Kind:       store.KindFact,
		Entities:   []string{"svc"},
		Provenance: "conversation",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	assert.Equal(t, "The service binds port 8080\non startup", rec.Content)
	assert.NotEmpty(t, rec.Summary)
	assert.Greater(t, rec.Importance, 0.0)
	require.NotNil(t, rec.ExpiresAt, "non-permanent record gets an expiry")
	require.Len(t, ents, 1)
	assert.Equal(t, "svc", ents[0].Name)

	// Round-trip through the store, not the cache
	got, err := e.DB.GetRecord(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Content, got.Content)

	provs, err := e.DB.ProvenanceForRecord(rec.ID)
	require.NoError(t, err)
	require.Len(t, provs, 1)
	assert.Equal(t, store.OpCreate, provs[0].Operation)
	assert.Equal(t, "conversation", provs[0].Source)
}

func TestStoreValidation(t *testing.T) {
	e := newTestEngine(t, Options{})

	_, _, err := e.Store(StoreParams{Content: "ab"})
	assert.True(t, IsValidation(err), "short content: %v", err)

	_, _, err = e.Store(StoreParams{Content: "valid content", Kind: "opinion"})
	assert.True(t, IsValidation(err), "unknown kind: %v", err)

	bad := 11.0
	_, _, err = e.Store(StoreParams{Content: "valid content", Importance: &bad})
	assert.True(t, IsValidation(err), "importance out of range: %v", err)

	ttl := -1.0
	_, _, err = e.Store(StoreParams{Content: "valid content", TTLDays: &ttl})
	assert.True(t, IsValidation(err), "negative ttl: %v", err)
}

func TestStoreExplicitImportanceWins(t *testing.T) {
	e := newTestEngine(t, Options{})

	imp := 9.5
	rec, _, err := e.Store(StoreParams{Content: "just a tiny note", Importance: &imp})
	require.NoError(t, err)
	assert.Equal(t, 9.5, rec.Importance)
}

func TestStorePermanentRecordHasNoExpiry(t *testing.T) {
	e := newTestEngine(t, Options{})

	imp := 10.0
	rec, _, err := e.Store(StoreParams{Content: "the one load-bearing fact", Importance: &imp})
	require.NoError(t, err)
	assert.Nil(t, rec.ExpiresAt)
}

func TestStoreTagsFoldIntoMetadata(t *testing.T) {
	e := newTestEngine(t, Options{})

	rec, _, err := e.Store(StoreParams{
		Content: "tagged note about deploys",
		Tags:    []string{"ops", "deploy"},
	})
	require.NoError(t, err)

	got, err := e.DB.GetRecord(rec.ID)
	require.NoError(t, err)
	tags, ok := got.Metadata["tags"].([]any)
	require.True(t, ok, "metadata: %#v", got.Metadata)
	assert.Len(t, tags, 2)
}

func TestStoreUpdateInPlace(t *testing.T) {
	e := newTestEngine(t, Options{})

	orig, _, err := e.Store(StoreParams{Content: "team uses postgres for storage"})
	require.NoError(t, err)

	updated, _, err := e.Store(StoreParams{
		ID:      orig.ID,
		Content: "team uses sqlite for storage",
		Kind:    store.KindFact,
	})
	require.NoError(t, err)

	assert.Equal(t, orig.ID, updated.ID)
	assert.Equal(t, orig.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "team uses sqlite for storage", updated.Content)

	// An update alone doesn't change the record's life.
	require.NotNil(t, updated.ExpiresAt)
	assert.Equal(t, *orig.ExpiresAt, *updated.ExpiresAt)

	provs, err := e.DB.ProvenanceForRecord(orig.ID)
	require.NoError(t, err)
	require.Len(t, provs, 2)
	assert.Equal(t, store.OpUpdate, provs[1].Operation)
	assert.Contains(t, provs[1].Changes, "content")
}

func TestStoreUpdateRecomputesExpiryWhenAsked(t *testing.T) {
	e := newTestEngine(t, Options{})

	orig, _, err := e.Store(StoreParams{Content: "a fact with a default lifetime"})
	require.NoError(t, err)

	ttl := 3.0
	updated, _, err := e.Store(StoreParams{
		ID:      orig.ID,
		Content: "a fact with a short lifetime",
		TTLDays: &ttl,
	})
	require.NoError(t, err)

	require.NotNil(t, updated.ExpiresAt)
	assert.Equal(t, orig.CreatedAt+3*dayMillis, *updated.ExpiresAt)
}

func TestStoreUpdateMissingID(t *testing.T) {
	e := newTestEngine(t, Options{})

	_, _, err := e.Store(StoreParams{ID: "no-such-id", Content: "valid content"})
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestStoreUpdateDeletedRecordNotFound(t *testing.T) {
	e := newTestEngine(t, Options{})

	rec, _, err := e.Store(StoreParams{Content: "soon to be forgotten"})
	require.NoError(t, err)

	_, err = e.Forget(rec.ID, "test", "")
	require.NoError(t, err)

	_, _, err = e.Store(StoreParams{ID: rec.ID, Content: "necromancy attempt"})
	assert.True(t, IsNotFound(err))
}

func TestStoreDefaultTTLDays(t *testing.T) {
	e := newTestEngine(t, Options{DefaultTTLDays: 14})

	rec, _, err := e.Store(StoreParams{Content: "a fact under the configured default"})
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, rec.CreatedAt+14*dayMillis, *rec.ExpiresAt)

	// Caller-supplied TTL still wins over the configured default.
	ttl := 2.0
	rec2, _, err := e.Store(StoreParams{Content: "a fact with its own ttl", TTLDays: &ttl})
	require.NoError(t, err)
	assert.Equal(t, rec2.CreatedAt+2*dayMillis, *rec2.ExpiresAt)
}

func TestStoreMergesExtractedEntities(t *testing.T) {
	e := newTestEngine(t, Options{Extractor: RegexExtractor{}})

	_, ents, err := e.Store(StoreParams{
		Content:  "deployments run on kubernetes behind redis",
		Entities: []string{"deploy-pipeline"},
	})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, ent := range ents {
		names[ent.Name] = true
	}
	assert.True(t, names["deploy-pipeline"], "caller entity kept: %v", names)
	assert.True(t, names["kubernetes"], "extracted entity added: %v", names)
	assert.True(t, names["redis"], "extracted entity added: %v", names)
}

func TestGetBumpsAccess(t *testing.T) {
	e := newTestEngine(t, Options{CacheDisabled: true})

	rec, _, err := e.Store(StoreParams{Content: "a fact that gets read"})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AccessCount)

	got, _, err := e.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)

	stored, err := e.DB.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AccessCount)

	provs, err := e.DB.ProvenanceForRecord(rec.ID)
	require.NoError(t, err)
	require.Len(t, provs, 2)
	assert.Equal(t, store.OpAccess, provs[1].Operation)
}

func TestGetMissing(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, _, err := e.Get("no-such-id")
	assert.True(t, IsNotFound(err))
}

func TestForgetAndRestore(t *testing.T) {
	e := newTestEngine(t, Options{})

	rec, _, err := e.Store(StoreParams{Content: "fact scheduled for deletion"})
	require.NoError(t, err)

	res, err := e.Forget(rec.ID, "superseded", "cli")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, rec.ID, res.MemoryID)

	_, _, err = e.Get(rec.ID)
	assert.True(t, IsNotFound(err), "forgotten record unreadable")

	_, err = e.Forget(rec.ID, "again", "cli")
	assert.True(t, IsNotFound(err), "double forget")

	require.NoError(t, e.Restore(rec.ID, "cli"))
	got, _, err := e.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)

	provs, err := e.DB.ProvenanceForRecord(rec.ID)
	require.NoError(t, err)
	ops := make([]string, len(provs))
	for i, p := range provs {
		ops[i] = p.Operation
	}
	assert.Equal(t, []string{store.OpCreate, store.OpDelete, store.OpRestore, store.OpAccess}, ops)
}

func TestForgetMissing(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.Forget("no-such-id", "", "")
	assert.True(t, IsNotFound(err))
}

func TestPrune(t *testing.T) {
	e := newTestEngine(t, Options{})
	now := store.NowMillis()

	// Expired record
	past := now - dayMillis
	_, _, err := e.Store(StoreParams{Content: "already expired fact", ExpiresAt: &past})
	require.NoError(t, err)

	// Soft-deleted long ago
	old := &store.Record{
		ID: "old-deleted", Content: "deleted long ago", Summary: "deleted long ago",
		Kind: store.KindFact, Importance: 3, CreatedAt: now - 90*dayMillis,
		LastAccessed: now - 90*dayMillis,
	}
	require.NoError(t, e.DB.PutRecord(old))
	found, err := e.DB.SoftDeleteRecord(old.ID)
	require.NoError(t, err)
	require.True(t, found)

	// Survivor
	keep, _, err := e.Store(StoreParams{Content: "fact that survives the sweep"})
	require.NoError(t, err)

	dry, err := e.Prune(30, true)
	require.NoError(t, err)
	assert.Equal(t, 1, dry.Expired)
	assert.Equal(t, 1, dry.SoftDeleted)
	assert.True(t, dry.DryRun)

	n, err := e.DB.CountRecords()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "dry run must not delete")

	res, err := e.Prune(30, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.SoftDeleted)

	n, err = e.DB.CountRecords()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.DB.GetRecord(keep.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}
