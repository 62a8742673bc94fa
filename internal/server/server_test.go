package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lazypower/engram/internal/memory"
	"github.com/lazypower/engram/internal/metrics"
	"github.com/lazypower/engram/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	collector := metrics.NewCollector()
	engine := memory.NewEngine(db, memory.Options{Extractor: memory.NoopExtractor{}, Metrics: collector})
	return New(engine, "test", collector)
}

func postJSON(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["db"] != true {
		t.Errorf("db = %v, want true", resp["db"])
	}
}

func TestStoreAndGetRecord(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/store", `{"content":"the build pipeline caches modules","kind":"fact"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp struct {
		Record store.Record `json:"record"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Record.ID == "" {
		t.Fatal("expected a record id")
	}

	req := httptest.NewRequest("GET", "/api/records/"+resp.Record.ID, nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var got struct {
		Record store.Record `json:"record"`
	}
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Record.Content != "the build pipeline caches modules" {
		t.Errorf("content = %q", got.Record.Content)
	}
}

func TestStoreValidationError(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/store", `{"content":"ab"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("short content: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = postJSON(t, srv, "/api/store", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStoreUpdateUnknownID(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/store", `{"id":"no-such","content":"updated content"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestRecallRoute(t *testing.T) {
	srv := testServer(t)

	postJSON(t, srv, "/api/store", `{"content":"the scheduler runs nightly compaction"}`)
	postJSON(t, srv, "/api/store", `{"content":"compaction reclaims disk space"}`)

	w := postJSON(t, srv, "/api/recall", `{"query":"compaction"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var res memory.RecallResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.TotalCount != 2 {
		t.Errorf("total_count = %d, want 2", res.TotalCount)
	}
	if len(res.Index) != 2 {
		t.Errorf("index length = %d, want 2", len(res.Index))
	}
}

func TestRecallEmptyQuery(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/recall", `{"query":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestForgetAndRestoreRoutes(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/store", `{"content":"fact to be forgotten soon"}`)
	var resp struct {
		Record store.Record `json:"record"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	w = postJSON(t, srv, "/api/forget", `{"id":"`+resp.Record.ID+`","reason":"stale"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("forget status = %d; body: %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/records/"+resp.Record.ID, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after forget: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	w = postJSON(t, srv, "/api/records/"+resp.Record.ID+"/restore", "")
	if w.Code != http.StatusOK {
		t.Fatalf("restore status = %d; body: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/records/"+resp.Record.ID, nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("get after restore: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestForgetMissingID(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/forget", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("no id: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = postJSON(t, srv, "/api/forget", `{"id":"no-such"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestContextRoute(t *testing.T) {
	srv := testServer(t)

	postJSON(t, srv, "/api/store", `{"content":"the primary region is eu-west-1","importance":9}`)
	postJSON(t, srv, "/api/store", `{"content":"a minor throwaway note","importance":1}`)

	req := httptest.NewRequest("GET", "/api/context?limit=1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Count   int               `json:"count"`
		Entries []memory.HotEntry `json:"entries"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	if resp.Entries[0].Importance != 9 {
		t.Errorf("top entry importance = %v, want 9", resp.Entries[0].Importance)
	}
}

func TestPruneRoute(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/prune", `{"dry_run":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var res memory.PruneResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.DryRun {
		t.Error("expected dry_run in response")
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := testServer(t)

	postJSON(t, srv, "/api/store", `{"content":"a fact so the counters move"}`)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "engram_operations_total") {
		t.Error("metrics output missing engram_operations_total")
	}
}
