package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/engram/internal/metrics"
	"github.com/lazypower/engram/internal/store"
)

// Access-bump policies for recall. "all" (the compatible default) bumps
// every candidate that appears in the index, even if it was never expanded
// into details — this knowingly inflates frequency/recency for items the
// caller may not have read. "details" bumps only detail-promoted records.
const (
	AccessPolicyAll     = "all"
	AccessPolicyDetails = "details"
)

// Content bounds, char-approximated (1 token ~= 4 chars).
const (
	minContentChars = 3
	maxContentChars = 40000
)

// Engine orchestrates the store, lifecycle, hot cache, and recall. One
// Engine per open database; no globals, so tests can run isolated
// instances side by side.
type Engine struct {
	DB        *store.DB
	Cache     *Cache
	Extractor Extractor
	Metrics   metrics.Collector

	// AccessPolicy selects which recalled records get access bookkeeping.
	AccessPolicy string

	// DefaultTTLDays, when positive, overrides the importance-derived TTL
	// for records stored without an explicit ttl_days/expires_at.
	DefaultTTLDays float64
}

// Options configures an Engine.
type Options struct {
	CacheSize      int
	CacheTTL       time.Duration
	CacheDisabled  bool
	Extractor      Extractor
	Metrics        metrics.Collector
	AccessPolicy   string
	DefaultTTLDays float64
}

// NewEngine creates an Engine over an open store.
func NewEngine(db *store.DB, opts Options) *Engine {
	var cache *Cache
	if !opts.CacheDisabled {
		cache = NewCache(opts.CacheSize, opts.CacheTTL)
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = RegexExtractor{}
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	policy := opts.AccessPolicy
	if policy != AccessPolicyDetails {
		policy = AccessPolicyAll
	}
	return &Engine{
		DB:             db,
		Cache:          cache,
		Extractor:      extractor,
		Metrics:        collector,
		AccessPolicy:   policy,
		DefaultTTLDays: opts.DefaultTTLDays,
	}
}

// StoreParams is the write-path input. ID absent means create; present
// means update-in-place (the id is never reassigned).
type StoreParams struct {
	ID         string
	Content    string
	Kind       string
	Importance *float64
	Entities   []string
	Tags       []string
	Metadata   map[string]any
	TTLDays    *float64
	ExpiresAt  *int64
	Provenance string // source label for the audit row
	Actor      string
	Context    string
}

// Store creates or updates a record, returning it with its resolved
// entities.
func (e *Engine) Store(p StoreParams) (*store.Record, []store.Entity, error) {
	started := time.Now()
	rec, ents, err := e.storeRecord(p)
	if err != nil {
		e.Metrics.RecordError("store", errorType(err))
		return nil, nil, err
	}
	e.Metrics.RecordOperation("store", "ok", time.Since(started).Milliseconds())
	return rec, ents, nil
}

func (e *Engine) storeRecord(p StoreParams) (*store.Record, []store.Entity, error) {
	content := NormalizeContent(p.Content)
	if len(content) < minContentChars {
		return nil, nil, &ValidationError{Field: "content", Reason: fmt.Sprintf("shorter than %d characters", minContentChars)}
	}
	if len(content) > maxContentChars {
		return nil, nil, &ValidationError{Field: "content", Reason: fmt.Sprintf("longer than %d characters", maxContentChars)}
	}

	kind := p.Kind
	if kind == "" {
		kind = store.KindFact
	}
	if !store.ValidRecordKind(kind) {
		return nil, nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
	if p.Importance != nil && (*p.Importance < 0 || *p.Importance > 10) {
		return nil, nil, &ValidationError{Field: "importance", Reason: "outside [0,10]"}
	}
	if p.TTLDays != nil && *p.TTLDays <= 0 {
		return nil, nil, &ValidationError{Field: "ttl_days", Reason: "must be positive"}
	}

	now := store.NowMillis()

	// Merge caller-supplied entities with extractor output. Caller names win
	// on duplicates.
	entityNames := make([]string, 0, len(p.Entities))
	entityKinds := make(map[string]string)
	seen := make(map[string]bool)
	for _, name := range p.Entities {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		entityNames = append(entityNames, name)
		entityKinds[name] = "other"
	}
	for _, ext := range e.Extractor.Extract(content) {
		if ext.Name == "" || seen[ext.Name] {
			continue
		}
		seen[ext.Name] = true
		entityNames = append(entityNames, ext.Name)
		entityKinds[ext.Name] = ext.Kind
	}

	metadata := p.Metadata
	if len(p.Tags) > 0 {
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["tags"] = p.Tags
	}

	importance := 0.0
	if p.Importance != nil {
		importance = ClampImportance(*p.Importance)
	} else {
		importance = ComputeImportance(content, kind, len(entityNames), p.Provenance != "", len(metadata) > 0)
	}

	if p.ID == "" {
		return e.createRecord(p, content, kind, importance, entityNames, entityKinds, metadata, now)
	}
	return e.updateRecord(p, content, kind, importance, entityNames, entityKinds, metadata, now)
}

func (e *Engine) expiryFor(p StoreParams, importance float64, createdAt int64) *int64 {
	if p.ExpiresAt != nil {
		v := *p.ExpiresAt
		return &v
	}
	if p.TTLDays != nil {
		exp := createdAt + int64(*p.TTLDays*dayMillis)
		return &exp
	}
	if e.DefaultTTLDays > 0 {
		exp := createdAt + int64(e.DefaultTTLDays*dayMillis)
		return &exp
	}
	return ComputeExpiry(createdAt, importance)
}

func (e *Engine) createRecord(p StoreParams, content, kind string, importance float64,
	entityNames []string, entityKinds map[string]string, metadata map[string]any, now int64) (*store.Record, []store.Entity, error) {

	rec := &store.Record{
		ID:           uuid.New().String(),
		Content:      content,
		Summary:      store.Summarize(content),
		Kind:         kind,
		Importance:   importance,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    e.expiryFor(p, importance, now),
		Metadata:     metadata,
	}

	ents, err := e.writeRecord(rec, entityNames, entityKinds, &store.Provenance{
		RecordID:  rec.ID,
		Operation: store.OpCreate,
		Timestamp: now,
		Source:    p.Provenance,
		Actor:     p.Actor,
		Context:   p.Context,
	}, now)
	if err != nil {
		return nil, nil, err
	}
	return rec, ents, nil
}

func (e *Engine) updateRecord(p StoreParams, content, kind string, importance float64,
	entityNames []string, entityKinds map[string]string, metadata map[string]any, now int64) (*store.Record, []store.Entity, error) {

	existing, err := e.DB.GetRecord(p.ID)
	if err != nil {
		return nil, nil, err
	}
	if existing == nil || existing.IsDeleted {
		return nil, nil, &NotFoundError{ID: p.ID}
	}

	changes := changeSet(existing, content, kind, importance)

	rec := &store.Record{
		ID:           existing.ID,
		Content:      content,
		Summary:      store.Summarize(content),
		Kind:         kind,
		Importance:   importance,
		CreatedAt:    existing.CreatedAt,
		LastAccessed: now,
		AccessCount:  existing.AccessCount,
		ExpiresAt:    existing.ExpiresAt,
		Metadata:     metadata,
	}
	// Expiry is recomputed only when the caller says so; an update alone
	// doesn't shorten or extend a record's life.
	if p.ExpiresAt != nil || p.TTLDays != nil {
		rec.ExpiresAt = e.expiryFor(p, importance, existing.CreatedAt)
	}

	ents, err := e.writeRecord(rec, entityNames, entityKinds, &store.Provenance{
		RecordID:  rec.ID,
		Operation: store.OpUpdate,
		Timestamp: now,
		Source:    p.Provenance,
		Actor:     p.Actor,
		Context:   p.Context,
		Changes:   changes,
	}, now)
	if err != nil {
		return nil, nil, err
	}
	return rec, ents, nil
}

// writeRecord persists the record, its entity links, and the audit row in
// one transaction. The cache entry is invalidated before commit.
func (e *Engine) writeRecord(rec *store.Record, entityNames []string, entityKinds map[string]string,
	prov *store.Provenance, now int64) ([]store.Entity, error) {

	e.Cache.Invalidate(rec.ID)

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin store tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.DB.PutRecordTx(tx, rec); err != nil {
		return nil, err
	}
	if err := e.DB.UnlinkRecordEntitiesTx(tx, rec.ID); err != nil {
		return nil, err
	}

	ents := make([]store.Entity, 0, len(entityNames))
	for _, name := range entityNames {
		ent, err := e.DB.UpsertEntityTx(tx, name, entityKinds[name], now)
		if err != nil {
			return nil, err
		}
		if err := e.DB.LinkRecordEntityTx(tx, rec.ID, ent.ID); err != nil {
			return nil, err
		}
		ents = append(ents, *ent)
	}

	if err := e.DB.AddProvenanceTx(tx, prov); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit store tx: %w", err)
	}

	e.Cache.Put(*rec, ents)
	return ents, nil
}

func changeSet(old *store.Record, content, kind string, importance float64) string {
	diff := make(map[string]any)
	if old.Content != content {
		diff["content"] = map[string]string{"before": old.Summary, "after": store.Summarize(content)}
	}
	if old.Kind != kind {
		diff["kind"] = map[string]string{"before": old.Kind, "after": kind}
	}
	if old.Importance != importance {
		diff["importance"] = map[string]float64{"before": old.Importance, "after": importance}
	}
	if len(diff) == 0 {
		return ""
	}
	b, err := json.Marshal(diff)
	if err != nil {
		return ""
	}
	return string(b)
}

// Get returns a record and its entities by id, through the cache. A read
// counts as an access: stats are bumped, the expiry is lazily refreshed,
// and an access audit row is appended.
func (e *Engine) Get(id string) (*store.Record, []store.Entity, error) {
	now := store.NowMillis()

	rec, ents, hit := e.Cache.Get(id)
	if !hit {
		var err error
		rec, err = e.DB.GetRecord(id)
		if err != nil {
			return nil, nil, err
		}
		if rec == nil || rec.IsDeleted {
			return nil, nil, &NotFoundError{ID: id}
		}
		ents, err = e.DB.EntitiesForRecord(id)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := e.touch([]*store.Record{rec}, now); err != nil {
		return nil, nil, err
	}
	if err := e.DB.AddProvenance(&store.Provenance{
		RecordID: id, Operation: store.OpAccess, Timestamp: now,
	}); err != nil {
		return nil, nil, err
	}

	e.Cache.Put(*rec, ents)
	return rec, ents, nil
}

// touch applies access bookkeeping and lazy TTL refresh to records,
// mutating the passed structs to reflect the new state.
func (e *Engine) touch(recs []*store.Record, now int64) error {
	if len(recs) == 0 {
		return nil
	}

	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
		e.Cache.Invalidate(rec.ID)
	}
	if err := e.DB.TouchRecords(ids, now); err != nil {
		return err
	}

	for _, rec := range recs {
		if exp, changed := RefreshExpiry(rec, now); changed {
			if err := e.DB.UpdateExpiry(rec.ID, exp); err != nil {
				return err
			}
			rec.ExpiresAt = exp
		}
		rec.AccessCount++
		rec.LastAccessed = now
	}
	return nil
}

// ForgetResult is the outcome of a soft delete.
type ForgetResult struct {
	Success  bool   `json:"success"`
	MemoryID string `json:"memory_id"`
	Message  string `json:"message"`
}

// Forget soft-deletes a record: data stays, text-index membership goes,
// and the deletion is auditable and reversible.
func (e *Engine) Forget(id, reason, source string) (*ForgetResult, error) {
	started := time.Now()
	now := store.NowMillis()

	e.Cache.Invalidate(id)

	found, err := e.DB.SoftDeleteRecord(id)
	if err != nil {
		e.Metrics.RecordError("forget", errorType(err))
		return nil, err
	}
	if !found {
		e.Metrics.RecordError("forget", "not_found")
		return nil, &NotFoundError{ID: id}
	}

	if err := e.DB.AddProvenance(&store.Provenance{
		RecordID: id, Operation: store.OpDelete, Timestamp: now,
		Source: source, Context: reason,
	}); err != nil {
		return nil, err
	}

	e.Metrics.RecordOperation("forget", "ok", time.Since(started).Milliseconds())
	return &ForgetResult{Success: true, MemoryID: id, Message: "memory forgotten"}, nil
}

// Restore reverses a soft delete.
func (e *Engine) Restore(id, source string) error {
	now := store.NowMillis()
	e.Cache.Invalidate(id)

	found, err := e.DB.RestoreRecord(id)
	if err != nil {
		return err
	}
	if !found {
		return &NotFoundError{ID: id}
	}
	return e.DB.AddProvenance(&store.Provenance{
		RecordID: id, Operation: store.OpRestore, Timestamp: now, Source: source,
	})
}

// PruneResult summarizes one prune sweep.
type PruneResult struct {
	Expired        int  `json:"expired"`
	SoftDeleted    int  `json:"soft_deleted"`
	OrphanEntities int  `json:"orphan_entities"`
	DryRun         bool `json:"dry_run"`
}

// Prune permanently removes expired records and soft-deleted records older
// than softDeletedAfterDays, then drops orphaned entities. Provenance and
// join rows cascade. DryRun reports counts without mutating.
func (e *Engine) Prune(softDeletedAfterDays float64, dryRun bool) (*PruneResult, error) {
	started := time.Now()
	now := store.NowMillis()
	cutoff := now - int64(softDeletedAfterDays*dayMillis)

	res := &PruneResult{DryRun: dryRun}
	var err error

	if dryRun {
		if res.Expired, err = e.DB.CountExpired(now); err != nil {
			return nil, err
		}
		if res.SoftDeleted, err = e.DB.CountSoftDeletedBefore(cutoff); err != nil {
			return nil, err
		}
		if res.OrphanEntities, err = e.DB.CountOrphanEntities(); err != nil {
			return nil, err
		}
		return res, nil
	}

	e.Cache.Clear()

	if res.Expired, err = e.DB.DeleteExpired(now); err != nil {
		return nil, err
	}
	if res.SoftDeleted, err = e.DB.DeleteSoftDeletedBefore(cutoff); err != nil {
		return nil, err
	}
	if res.OrphanEntities, err = e.DB.DeleteOrphanEntities(); err != nil {
		return nil, err
	}

	if n, err := e.DB.CountRecords(); err == nil {
		e.Metrics.SetStorageCount("records", int64(n))
	}
	e.Metrics.RecordOperation("prune", "ok", time.Since(started).Milliseconds())
	return res, nil
}

func errorType(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	default:
		return "storage"
	}
}
