package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/engine"
	"github.com/lazypower/surfacer/internal/store"
)

// testServer wires a server over an in-memory database with a TF-IDF
// embedder built from the seeded corpus.
func testServer(t *testing.T, memories ...*store.Memory) (*Server, *store.DB) {
	t.Helper()

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.PutUser(store.User{
		ID: "dana", Role: "engineer", Department: "it", Clearance: store.ClearanceInternal,
	}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	for _, m := range memories {
		m.Status = store.StatusApproved
		if err := db.CreateMemory(m); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	var embedder engine.Embedder
	if len(memories) > 0 {
		emb, err := engine.NewTFIDFEmbedder(db, 256)
		if err != nil {
			t.Fatalf("NewTFIDFEmbedder: %v", err)
		}
		for _, m := range memories {
			vec, err := emb.Embed(context.Background(), engine.EmbeddingText(m))
			if err != nil {
				t.Fatalf("Embed: %v", err)
			}
			if err := db.SaveVector(m.ID, vec, emb.Model()); err != nil {
				t.Fatalf("SaveVector: %v", err)
			}
		}
		embedder = emb
	}

	eng := engine.New(db, embedder, config.Default(), zap.NewNop(), nil)
	eng.Ingestor().Start()
	t.Cleanup(func() { eng.Ingestor().Stop() })

	return New(db, eng, "test", zap.NewNop(), nil), db
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v", resp["status"])
	}
	if resp["db"] != true {
		t.Errorf("db = %v", resp["db"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v", resp["version"])
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	srv, _ := testServer(t, &store.Memory{
		CanonicalQuestion: "How do I submit a vendor onboarding request?",
		Answer:            "Open the vendor portal.",
		Departments:       []string{"it"},
		MinClearance:      store.ClearanceInternal,
		RelatedWorkflows:  []string{"vendor-onboarding"},
		AuthorityScore:    0.9,
	})

	w := doJSON(t, srv, "POST", "/api/evaluate", map[string]string{
		"platform":  "slack",
		"raw_input": "How do I submit a vendor onboarding request?",
		"user_id":   "dana",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var decision engine.SurfacingDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decision.ShouldSurface {
		t.Error("expected surfaced decision")
	}
	if len(decision.Memories) != 1 {
		t.Fatalf("memories = %d", len(decision.Memories))
	}
	if decision.Memories[0].Answer == "" {
		t.Error("answer missing")
	}
}

func TestEvaluateEndpointValidation(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/evaluate", map[string]string{"raw_input": "hello"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id: status = %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/evaluate", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", rec.Code)
	}
}

func TestEvaluateEndpointSuppressedWithoutEmbedder(t *testing.T) {
	srv, _ := testServer(t) // no memories, no embedder: engine fails closed

	w := doJSON(t, srv, "POST", "/api/evaluate", map[string]string{
		"platform":  "slack",
		"raw_input": "anything at all",
		"user_id":   "dana",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var decision engine.SurfacingDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.ShouldSurface {
		t.Error("expected suppressed decision")
	}
	if decision.Mode != engine.ModeSuppressed {
		t.Errorf("mode = %q", decision.Mode)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	srv, db := testServer(t)

	m := &store.Memory{CanonicalQuestion: "q", Status: store.StatusApproved}
	if err := db.CreateMemory(m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	w := doJSON(t, srv, "POST", "/api/feedback", map[string]string{
		"event_id":  "ev-1",
		"memory_id": m.ID,
		"user_id":   "dana",
		"outcome":   "accepted",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// Missing event id gets one assigned instead of failing.
	w = doJSON(t, srv, "POST", "/api/feedback", map[string]string{
		"memory_id": m.ID,
		"user_id":   "dana",
		"outcome":   "ignored",
	})
	if w.Code != http.StatusAccepted {
		t.Errorf("auto event id: status = %d", w.Code)
	}

	// Unknown outcomes are rejected at the door.
	w = doJSON(t, srv, "POST", "/api/feedback", map[string]string{
		"event_id":  "ev-2",
		"memory_id": m.ID,
		"user_id":   "dana",
		"outcome":   "clicked",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid outcome: status = %d", w.Code)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/memories", map[string]any{
		"canonical_question": "What is the travel booking policy?",
		"answer":             "Book through the portal.",
		"departments":        []string{"finance"},
		"sensitivity":        "general",
		"authority_score":    0.7,
		"approve":            true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}

	var created map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["id"] == "" {
		t.Fatal("no id returned")
	}
	if created["status"] != store.StatusApproved {
		t.Errorf("status = %q, want approved", created["status"])
	}

	w = doJSON(t, srv, "GET", "/api/memories/"+created["id"], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["canonical_question"] != "What is the travel booking policy?" {
		t.Errorf("question = %v", got["canonical_question"])
	}

	w = doJSON(t, srv, "GET", "/api/memories/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", w.Code)
	}
}

func TestCreateMemoryValidation(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/memories", map[string]string{"answer": "a"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	srv := New(db, nil, "test", zap.NewNop(), registry)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}

	// Without a gatherer the route is absent entirely.
	srvNoMetrics := New(db, nil, "test", zap.NewNop(), nil)
	w = httptest.NewRecorder()
	srvNoMetrics.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
