package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/engram/internal/store"
)

// Recall bounds.
const (
	MaxRecallLimit      = 50
	DefaultRecallLimit  = 20
	MinRecallTokens     = 100
	MaxRecallTokens     = 5000
	DefaultRecallTokens = 1000
)

// RecallRequest is the read-path input. Zero Limit/MaxTokens take the
// defaults; out-of-range values are clamped to the bounds.
type RecallRequest struct {
	Query     string
	Kind      string
	Entities  []string
	Limit     int
	MaxTokens int
}

// IndexEntry is the minimal rendering of one match. The index always holds
// every ranked candidate, regardless of the token budget.
type IndexEntry struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Summary    string          `json:"summary"`
	Importance float64         `json:"importance"`
	Score      float64         `json:"score"`
	Components ScoreComponents `json:"components"`
}

// DetailEntry is the standard rendering: adds content, resolved entity
// names, and timestamps.
type DetailEntry struct {
	IndexEntry
	Content      string   `json:"content"`
	Entities     []string `json:"entities,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	LastAccessed int64    `json:"last_accessed"`
}

// RecallResult is the dual response: a complete lightweight index and a
// budget-limited details subset.
type RecallResult struct {
	Index      []IndexEntry  `json:"index"`
	Details    []DetailEntry `json:"details"`
	TotalCount int           `json:"total_count"`
	HasMore    bool          `json:"has_more"`
	TokensUsed int           `json:"tokens_used"`
	Query      string        `json:"query"`
}

// EstimateTokens approximates token cost as ceil(chars/4).
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Recall runs the hybrid-ranked, token-budgeted query.
//
// The index is never truncated by the budget: its estimated size is charged
// up front, even when it alone exceeds max_tokens. Details are then a
// contiguous prefix of the ranked list — the walk stops at the first entry
// that would overflow, never skipping ahead to a smaller one.
func (e *Engine) Recall(req RecallRequest) (*RecallResult, error) {
	started := time.Now()
	res, err := e.recall(req)
	if err != nil {
		e.Metrics.RecordError("recall", errorType(err))
		return nil, err
	}
	e.Metrics.RecordOperation("recall", "ok", time.Since(started).Milliseconds())
	return res, nil
}

func (e *Engine) recall(req RecallRequest) (*RecallResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &ValidationError{Field: "query", Reason: "cannot be empty"}
	}
	if req.Kind != "" && !store.ValidRecordKind(req.Kind) {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", req.Kind)}
	}

	limit := req.Limit
	switch {
	case limit <= 0:
		limit = DefaultRecallLimit
	case limit > MaxRecallLimit:
		limit = MaxRecallLimit
	}

	maxTokens := req.MaxTokens
	switch {
	case maxTokens <= 0:
		maxTokens = DefaultRecallTokens
	case maxTokens < MinRecallTokens:
		maxTokens = MinRecallTokens
	case maxTokens > MaxRecallTokens:
		maxTokens = MaxRecallTokens
	}

	now := store.NowMillis()

	candidates, err := e.DB.QueryText(query, store.TextFilters{Kind: req.Kind, Entities: req.Entities}, now)
	if err != nil {
		return nil, err
	}

	res := &RecallResult{Query: query, TotalCount: len(candidates)}
	if len(candidates) == 0 {
		res.Index = []IndexEntry{}
		res.Details = []DetailEntry{}
		return res, nil
	}

	// Hybrid scoring
	ranks := make([]float64, len(candidates))
	for i, c := range candidates {
		ranks[i] = c.Rank
	}
	relevance := NormalizeRanks(ranks)

	scored := make([]scoredCandidate, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		comps := RecallScore(
			relevance[i],
			c.Importance/10,
			RecencyNorm(c.LastAccessed, now),
			FrequencyNorm(c.AccessCount),
		)
		scored[i] = scoredCandidate{rec: &c.Record, comps: comps}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].comps.Total != scored[j].comps.Total {
			return scored[i].comps.Total > scored[j].comps.Total
		}
		if scored[i].rec.LastAccessed != scored[j].rec.LastAccessed {
			return scored[i].rec.LastAccessed > scored[j].rec.LastAccessed
		}
		return scored[i].rec.ID < scored[j].rec.ID
	})

	res.HasMore = len(scored) > limit
	if len(scored) > limit {
		scored = scored[:limit]
	}

	// Index: every ranked candidate in minimal form, charged up front.
	res.Index = make([]IndexEntry, len(scored))
	indexTokens := 0
	for i, s := range scored {
		entry := IndexEntry{
			ID:         s.rec.ID,
			Kind:       s.rec.Kind,
			Summary:    s.rec.Summary,
			Importance: s.rec.Importance,
			Score:      s.comps.Total,
			Components: s.comps,
		}
		res.Index[i] = entry
		indexTokens += EstimateTokens(renderIndexEntry(entry))
	}
	res.TokensUsed = indexTokens

	// Details: greedy contiguous prefix of the ranked list.
	res.Details = []DetailEntry{}
	for _, s := range scored {
		names, err := e.entityNames(s.rec.ID)
		if err != nil {
			return nil, err
		}
		detail := DetailEntry{
			IndexEntry:   res.Index[len(res.Details)],
			Content:      s.rec.Content,
			Entities:     names,
			CreatedAt:    s.rec.CreatedAt,
			LastAccessed: s.rec.LastAccessed,
		}
		cost := EstimateTokens(renderDetailEntry(detail))
		if res.TokensUsed+cost > maxTokens {
			break
		}
		res.TokensUsed += cost
		res.Details = append(res.Details, detail)
	}

	// Access bookkeeping side effect: recall is deliberately not
	// idempotent. Which records get bumped is policy.
	var touched []*store.Record
	if e.AccessPolicy == AccessPolicyDetails {
		for i := range res.Details {
			touched = append(touched, scored[i].rec)
		}
	} else {
		for _, s := range scored {
			touched = append(touched, s.rec)
		}
	}
	if err := e.touch(touched, now); err != nil {
		return nil, err
	}

	return res, nil
}

type scoredCandidate struct {
	rec   *store.Record
	comps ScoreComponents
}

func (e *Engine) entityNames(recordID string) ([]string, error) {
	if _, ents, hit := e.Cache.Get(recordID); hit {
		return entityNameList(ents), nil
	}
	ents, err := e.DB.EntitiesForRecord(recordID)
	if err != nil {
		return nil, err
	}
	return entityNameList(ents), nil
}

func entityNameList(ents []store.Entity) []string {
	if len(ents) == 0 {
		return nil
	}
	names := make([]string, len(ents))
	for i, e := range ents {
		names[i] = e.Name
	}
	return names
}

// renderIndexEntry is the canonical minimal form used for token
// estimation.
func renderIndexEntry(e IndexEntry) string {
	return fmt.Sprintf("- [%s] (%s, %.1f) %s\n", e.ID, e.Kind, e.Importance, e.Summary)
}

// renderDetailEntry is the canonical standard form used for token
// estimation.
func renderDetailEntry(d DetailEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## [%s] %s (importance %.1f)\n", d.ID, d.Kind, d.Importance)
	b.WriteString(d.Content)
	b.WriteString("\n")
	if len(d.Entities) > 0 {
		fmt.Fprintf(&b, "entities: %s\n", strings.Join(d.Entities, ", "))
	}
	fmt.Fprintf(&b, "created %d, last accessed %d\n", d.CreatedAt, d.LastAccessed)
	return b.String()
}

// HotEntry is one row of the queryless hot-context ranking.
type HotEntry struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Summary    string  `json:"summary"`
	Importance float64 `json:"importance"`
	Score      float64 `json:"score"`
}

// HotContext ranks all active records by HotContextScore and returns the
// top limit entries. Unlike Recall this has no side effects: context
// assembly shouldn't inflate access stats.
func (e *Engine) HotContext(limit int) ([]HotEntry, error) {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	now := store.NowMillis()

	recs, err := e.DB.ListActive(now)
	if err != nil {
		return nil, err
	}

	entries := make([]HotEntry, len(recs))
	for i, rec := range recs {
		entries[i] = HotEntry{
			ID:         rec.ID,
			Kind:       rec.Kind,
			Summary:    rec.Summary,
			Importance: rec.Importance,
			Score: HotContextScore(
				rec.Importance/10,
				RecencyNorm(rec.LastAccessed, now),
				FrequencyNorm(rec.AccessCount),
			),
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID < entries[j].ID
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
