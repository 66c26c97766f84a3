package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/engine"
	"github.com/lazypower/surfacer/internal/store"
)

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform string `json:"platform"`
		RawInput string `json:"raw_input"`
		UserID   string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}

	decision, err := s.engine.Evaluate(r.Context(), engine.RawEvent{
		Platform: req.Platform,
		RawInput: req.RawInput,
		UserID:   req.UserID,
	})
	if err != nil {
		// Caller disconnect is the only error Evaluate surfaces; everything
		// else already degraded to a suppressed decision inside the engine.
		writeError(w, http.StatusRequestTimeout, "request canceled")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID            string `json:"event_id"`
		MemoryID           string `json:"memory_id"`
		UserID             string `json:"user_id"`
		ContextFingerprint string `json:"context_fingerprint"`
		Outcome            string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}

	if req.EventID == "" {
		req.EventID = uuid.NewString() // non-idempotent senders get a fresh id
	}

	err := s.engine.Ingestor().Submit(store.FeedbackEvent{
		EventID:            req.EventID,
		MemoryID:           req.MemoryID,
		UserID:             req.UserID,
		ContextFingerprint: req.ContextFingerprint,
		Outcome:            req.Outcome,
	})
	if err != nil {
		// Feedback is best-effort: malformed events are dropped with a
		// warning, never a 5xx the sender would retry forever.
		s.logger.Warn("feedback rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid feedback event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CanonicalQuestion string   `json:"canonical_question"`
		SemanticVariants  []string `json:"semantic_variants"`
		Answer            string   `json:"answer"`
		Departments       []string `json:"departments"`
		MinClearance      string   `json:"min_clearance"`
		AllowedRoles      []string `json:"allowed_roles"`
		RedactBelow       bool     `json:"redact_below"`
		Sensitivity       string   `json:"sensitivity"`
		RelatedWorkflows  []string `json:"related_workflows"`
		WorkflowStep      int      `json:"workflow_step"`
		ExpiresAt         int64    `json:"expires_at"`
		ReconfirmBy       int64    `json:"reconfirm_by"`
		AuthorityScore    float64  `json:"authority_score"`
		Approve           bool     `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.CanonicalQuestion == "" {
		writeError(w, http.StatusBadRequest, "canonical_question required")
		return
	}

	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}

	m := &store.Memory{
		CanonicalQuestion: req.CanonicalQuestion,
		SemanticVariants:  req.SemanticVariants,
		Answer:            req.Answer,
		Departments:       req.Departments,
		MinClearance:      req.MinClearance,
		AllowedRoles:      req.AllowedRoles,
		RedactBelow:       req.RedactBelow,
		Sensitivity:       req.Sensitivity,
		RelatedWorkflows:  req.RelatedWorkflows,
		WorkflowStep:      req.WorkflowStep,
		ExpiresAt:         req.ExpiresAt,
		ReconfirmBy:       req.ReconfirmBy,
		AuthorityScore:    req.AuthorityScore,
	}
	if err := s.engine.AddMemory(r.Context(), m, req.Approve); err != nil {
		s.logger.Error("create memory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create memory failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     m.ID,
		"status": m.Status,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")

	m, err := s.db.GetMemory(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 m.ID,
		"canonical_question": m.CanonicalQuestion,
		"departments":        m.Departments,
		"sensitivity":        m.Sensitivity,
		"status":             m.Status,
		"expires_at":         m.ExpiresAt,
		"authority_score":    m.AuthorityScore,
		"access_count":       m.AccessCount,
		"accept_rate":        m.AcceptRate,
	})
}
