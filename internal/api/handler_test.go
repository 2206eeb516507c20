package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/episodic"
	"github.com/nidhogg/mnemosyne/internal/memory"
)

// fakeController is an in-memory MemoryController (no Neo4j/Qdrant/Postgres).
type fakeController struct {
	ingested   []memory.Turn
	fact       *memory.Fact
	characters []memory.Character
	emotions   []episodic.EmotionSnapshot
}

func (f *fakeController) Ingest(_ context.Context, sessionID string, turn memory.Turn) (memory.IngestResult, error) {
	f.ingested = append(f.ingested, turn)
	return memory.IngestResult{
		Operations: []memory.Operation{{
			ID:    "op-1",
			Type:  memory.OpWrite,
			Layer: memory.LayerWorking,
			Name:  "append_turn",
		}},
		EmotionalChanges: []memory.EmotionalChange{},
	}, nil
}

func (f *fakeController) Retrieve(_ context.Context, query memory.RetrievalQuery) (*memory.RetrievalResult, error) {
	weights := query.Weights
	if weights.IsZero() {
		weights = memory.DefaultConfig().DefaultWeights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &memory.RetrievalResult{Weights: weights}, nil
}

func (f *fakeController) Characters(context.Context) ([]memory.Character, error) {
	return f.characters, nil
}

func (f *fakeController) EmotionalHistory(context.Context, string, int) ([]episodic.EmotionSnapshot, error) {
	return f.emotions, nil
}

func (f *fakeController) FactVersions(context.Context, string) (*memory.Fact, error) {
	return f.fact, nil
}

func (f *fakeController) Operations(context.Context, string, int) ([]memory.Operation, error) {
	return nil, nil
}

func (f *fakeController) Prune(context.Context) (map[string]any, error) {
	return map[string]any{"facts_demoted": 0, "fragments_pruned": 0}, nil
}

func (f *fakeController) Statistics(context.Context) (map[string]any, error) {
	return map[string]any{"l1_sessions": 0}, nil
}

func (f *fakeController) Inspect(_ context.Context, sessionID string) (map[string]any, error) {
	return map[string]any{"session_id": sessionID}, nil
}

func newTestHandler(t *testing.T) (*fakeController, http.Handler) {
	t.Helper()
	ctrl := &fakeController{}
	h := NewHandler(ctrl, zap.NewNop())
	return ctrl, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestIngestTurn(t *testing.T) {
	ctrl, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/sessions/s1/turns", map[string]string{
		"role":    "user",
		"content": "Alice says she loves coffee.",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result memory.IngestResult
	decodeJSON(t, resp, &result)
	if len(result.Operations) != 1 {
		t.Errorf("expected 1 operation, got %d", len(result.Operations))
	}
	if len(ctrl.ingested) != 1 || ctrl.ingested[0].Content != "Alice says she loves coffee." {
		t.Errorf("controller saw %+v", ctrl.ingested)
	}
}

func TestIngestTurnValidation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// missing content
	resp := postJSON(t, ts, "/api/memory/sessions/s1/turns", map[string]string{"role": "user"})
	if resp.StatusCode != 400 {
		t.Errorf("empty content: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// bad role
	resp = postJSON(t, ts, "/api/memory/sessions/s1/turns", map[string]string{
		"role": "narrator", "content": "hi",
	})
	if resp.StatusCode != 400 {
		t.Errorf("bad role: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRetrieve(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/retrieve", map[string]interface{}{
		"query_text": "coffee",
		"session_id": "s1",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result memory.RetrievalResult
	decodeJSON(t, resp, &result)
	if result.Weights.IsZero() {
		t.Errorf("expected default weights, got %+v", result.Weights)
	}
}

func TestRetrieveInvalidWeights(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/retrieve", map[string]interface{}{
		"query_text":     "coffee",
		"session_id":     "s1",
		"fusion_weights": map[string]float64{"w_L1": 0.9, "w_L2": 0.9, "w_L3": 0.9},
	})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 for invalid weights, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRetrieveRequiresQueryText(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/retrieve", map[string]string{"session_id": "s1"})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListCharactersEmpty(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/memory/characters")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var characters []memory.Character
	decodeJSON(t, resp, &characters)
	if characters == nil || len(characters) != 0 {
		t.Errorf("expected empty array, got %v", characters)
	}
}

func TestFactVersionsNotFound(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/memory/facts/fact:unknown")
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFactVersionsFound(t *testing.T) {
	ctrl, router := newTestHandler(t)
	ctrl.fact = &memory.Fact{
		ID:           "fact:1",
		Entity:       "Alice",
		Attribute:    "preference",
		CurrentValue: "tea",
		History:      []string{"coffee"},
	}
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/memory/facts/fact:1")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var fact memory.Fact
	decodeJSON(t, resp, &fact)
	if fact.CurrentValue != "tea" || len(fact.History) != 1 {
		t.Errorf("unexpected fact: %+v", fact)
	}
}

func TestPruneAndStats(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/prune", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("prune: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/memory/stats")
	if resp.StatusCode != 200 {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInspectSession(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/memory/sessions/s42/inspect")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["session_id"] != "s42" {
		t.Errorf("session_id = %v", body["session_id"])
	}
}
