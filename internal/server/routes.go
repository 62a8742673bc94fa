package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/engram/internal/memory"
	"github.com/lazypower/engram/internal/store"
)

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string         `json:"id"`
		Content    string         `json:"content"`
		Kind       string         `json:"kind"`
		Importance *float64       `json:"importance"`
		Entities   []string       `json:"entities"`
		Tags       []string       `json:"tags"`
		Metadata   map[string]any `json:"metadata"`
		TTLDays    *float64       `json:"ttl_days"`
		ExpiresAt  *int64         `json:"expires_at"`
		Provenance string         `json:"provenance"`
		Actor      string         `json:"actor"`
		Context    string         `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	rec, ents, err := s.engine.Store(memory.StoreParams{
		ID:         req.ID,
		Content:    req.Content,
		Kind:       req.Kind,
		Importance: req.Importance,
		Entities:   req.Entities,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		TTLDays:    req.TTLDays,
		ExpiresAt:  req.ExpiresAt,
		Provenance: req.Provenance,
		Actor:      req.Actor,
		Context:    req.Context,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if req.ID != "" {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"record":   rec,
		"entities": entityNames(ents),
	})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string   `json:"query"`
		Kind      string   `json:"kind"`
		Entities  []string `json:"entities"`
		Limit     int      `json:"limit"`
		MaxTokens int      `json:"max_tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	res, err := s.engine.Recall(memory.RecallRequest{
		Query:     req.Query,
		Kind:      req.Kind,
		Entities:  req.Entities,
		Limit:     req.Limit,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return
	}

	res, err := s.engine.Forget(req.ID, req.Reason, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SoftDeletedAfterDays float64 `json:"soft_deleted_after_days"`
		DryRun               bool    `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.SoftDeletedAfterDays <= 0 {
		req.SoftDeletedAfterDays = 30
	}

	res, err := s.engine.Prune(req.SoftDeletedAfterDays, req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.engine.HotContext(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordID")

	rec, ents, err := s.engine.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":   rec,
		"entities": entityNames(ents),
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordID")

	if err := s.engine.Restore(id, "api"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored", "id": id})
}

func entityNames(ents []store.Entity) []string {
	names := make([]string, len(ents))
	for i, e := range ents {
		names[i] = e.Name
	}
	return names
}
