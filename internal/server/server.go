// Package server hosts the adjudicator's HTTP surface: claim CRUD,
// verification, panel runs, and the SSE progress stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"truce/internal/claims"
	"truce/internal/config"
	"truce/internal/models"
	"truce/internal/panel"
	"truce/internal/progress"
	"truce/internal/verification"
)

// Server wires the engine components behind HTTP handlers.
type Server struct {
	cfg      *config.Config
	claims   *claims.Service
	verifier *verification.Service
	bus      *progress.Bus
	logger   *zap.Logger
	mux      *http.ServeMux
}

// New builds the server and registers its routes.
func New(cfg *config.Config, claimsSvc *claims.Service, verifier *verification.Service, bus *progress.Bus, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		claims:   claimsSvc,
		verifier: verifier,
		bus:      bus,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("POST /claims", s.handleCreateClaim)
	s.mux.HandleFunc("POST /claims/create-async", s.handleCreateAsync)
	s.mux.HandleFunc("GET /claims/progress/{session_id}", s.handleProgressStream)
	s.mux.HandleFunc("DELETE /claims/progress/{session_id}", s.handleCancelSession)
	s.mux.HandleFunc("GET /claims/{id}", s.handleGetClaim)
	s.mux.HandleFunc("POST /claims/{id}/verify", s.handleVerifyClaim)
	s.mux.HandleFunc("POST /claims/{id}/panel/run", s.handleRunPanel)
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":   s.cfg.Name,
		"version":   s.cfg.Version,
		"status":    "running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type claimCreateRequest struct {
	Text     string   `json:"text"`
	Topic    string   `json:"topic"`
	Entities []string `json:"entities"`
}

type claimResponse struct {
	Slug           string              `json:"slug"`
	Claim          *models.Claim       `json:"claim"`
	ConsensusScore *float64            `json:"consensus_score,omitempty"`
	Panel          *models.PanelResult `json:"panel,omitempty"`
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req claimCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slug, claim, err := s.claims.CreateClaim(req.Text, req.Topic, req.Entities)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, claimResponse{Slug: slug, Claim: claim})
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("id")
	claim, ok := s.claims.Registry().Get(slug)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Claim not found")
		return
	}

	resp := claimResponse{
		Slug:  slug,
		Claim: claim,
		Panel: claim.LatestPanelResult(),
	}
	if len(claim.ModelAssessments) > 0 {
		supports := 0
		for _, a := range claim.ModelAssessments {
			if a.Verdict == models.VerdictSupports {
				supports++
			}
		}
		score := float64(supports) / float64(len(claim.ModelAssessments))
		resp.ConsensusScore = &score
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateAsync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if len(query) < 10 {
		s.writeError(w, http.StatusBadRequest, "Query must be at least 10 characters")
		return
	}

	sessionID := uuid.New().String()
	s.bus.Open(sessionID)

	go func() {
		// The request context dies with this handler; the background
		// flow runs to completion or cancellation on its own.
		if _, err := s.claims.CreateFromQuery(context.WithoutCancel(r.Context()), query, sessionID); err != nil {
			s.logger.Warn("background claim creation ended early",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()

	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

func (s *Server) handleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("id")
	claim, ok := s.claims.Registry().Get(slug)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Claim not found")
		return
	}

	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("time_start"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid time_start: must be ISO 8601 format")
		return
	}
	end, err := parseTimeParam(q.Get("time_end"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid time_end: must be ISO 8601 format")
		return
	}
	if start != nil && end != nil && start.After(*end) {
		s.writeError(w, http.StatusBadRequest, "time_start must be before time_end")
		return
	}

	providers := q["providers[]"]
	if len(providers) == 0 {
		providers = q["providers"]
	}
	if len(providers) == 0 {
		providers = s.cfg.VerificationProviders()
	}
	force := q.Get("force") == "true" || q.Get("force") == "1"

	window := models.TimeWindow{Start: start, End: end}
	resp, err := s.verifier.Verify(r.Context(), slug, claim, window, providers, force, "")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Verification failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type panelRequest struct {
	Models    []string   `json:"models"`
	TimeStart *time.Time `json:"time_start"`
	TimeEnd   *time.Time `json:"time_end"`
}

func (s *Server) handleRunPanel(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("id")
	claim, ok := s.claims.Registry().Get(slug)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Claim not found")
		return
	}

	var req panelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TimeStart != nil && req.TimeEnd != nil && req.TimeStart.After(*req.TimeEnd) {
		s.writeError(w, http.StatusBadRequest, "time_start must be before time_end")
		return
	}

	agentic := s.cfg.Panel.Agentic
	if v := r.URL.Query().Get("agentic"); v != "" {
		agentic = v == "true" || v == "1"
	}

	result, err := s.claims.EvaluatePanel(r.Context(), claim, panel.RunOptions{
		Models:  req.Models,
		Window:  models.TimeWindow{Start: req.TimeStart, End: req.TimeEnd},
		Agentic: agentic,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Panel evaluation failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"panel":            result,
		"agentic_research": agentic,
		"evidence_count":   len(claim.Evidence),
	})
}

func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.bus.Subscribe(sessionID, r.Context().Done()) {
		frame, err := json.Marshal(eventPayload(ev))
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			return
		}
		flusher.Flush()
	}
}

// eventPayload flattens an event into the wire shape: stage, message,
// timestamp, then any detail fields at top level. Bus heartbeats map
// to the keepalive stage.
func eventPayload(ev progress.Event) map[string]any {
	if ev.Stage == progress.StageHeartbeat {
		return map[string]any{"stage": "keepalive", "message": "Connection active"}
	}
	payload := map[string]any{
		"stage":     ev.Stage,
		"message":   ev.Message,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339),
	}
	for k, v := range ev.Details {
		payload[k] = v
	}
	return payload
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if !s.bus.Cancel(sessionID) {
		s.writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":     "cancelled",
		"session_id": sessionID,
	})
}

// parseTimeParam accepts ISO-8601 timestamps with or without zone or
// time component. Results are naive UTC.
func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, value); err == nil {
			utc := ts.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unparseable timestamp %q", value)
}
