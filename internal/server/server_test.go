package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"truce/internal/claims"
	"truce/internal/config"
	"truce/internal/models"
	"truce/internal/panel"
	"truce/internal/progress"
	"truce/internal/search"
	"truce/internal/verification"
)

type fakeRunner struct{}

func (fakeRunner) RunPanelEvaluation(_ context.Context, claim *models.Claim, opts panel.RunOptions) (*models.PanelResult, error) {
	verdicts := make([]*models.PanelModelVerdict, 0, len(opts.Models))
	for _, m := range opts.Models {
		verdicts = append(verdicts, &models.PanelModelVerdict{
			ProviderID: "stub:" + m,
			Model:      m,
			Approval: models.ArgumentWithEvidence{
				Argument:   "Supporting reporting broadly backs the central assertion of the claim.",
				Confidence: 0.7,
			},
			Refusal: models.ArgumentWithEvidence{
				Argument:   "Some counter evidence raises doubts about the central assertion here.",
				Confidence: 0.3,
			},
		})
	}
	result := &models.PanelResult{
		ID:          uuid.New(),
		Verdicts:    verdicts,
		Summary:     panel.AggregatePanel(verdicts),
		GeneratedAt: time.Now().UTC(),
	}
	claim.AppendPanelResult(result)
	return result, nil
}

type fakeGatherer struct {
	sources []*search.RawSource
}

func (g *fakeGatherer) GatherSources(context.Context, string, models.TimeWindow, string) ([]*search.RawSource, error) {
	return g.sources, nil
}

func newTestServer(t *testing.T) (*Server, *claims.Service, *progress.Bus) {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.DefaultConfig()
	bus := progress.NewBus(logger)
	lexicon := config.NewLexicon(cfg.Lexicon)
	claimsSvc := claims.NewService(claims.NewRegistry(), fakeRunner{}, bus, lexicon,
		cfg.Panel.Models, time.Minute, logger)
	verifier := verification.NewService(&fakeGatherer{}, nil, logger)
	return New(cfg, claimsSvc, verifier, bus, logger), claimsSvc, bus
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "running" {
		t.Errorf("status field = %v, want running", body["status"])
	}
}

func TestCreateAndGetClaim(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/claims", map[string]any{
		"text":  "Violent crime is rising in Toronto",
		"topic": "crime",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created claimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Slug == "" || created.Claim == nil {
		t.Fatalf("incomplete response: %+v", created)
	}
	if !strings.HasPrefix(created.Slug, "violent-crime-is-rising-in-toronto-") {
		t.Errorf("slug = %q", created.Slug)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/claims/"+created.Slug, nil)
	getRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}

	missRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(missRec, httptest.NewRequest(http.MethodGet, "/claims/nope", nil))
	if missRec.Code != http.StatusNotFound {
		t.Errorf("unknown claim status = %d, want 404", missRec.Code)
	}
}

func TestCreateClaimValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/claims", map[string]any{
		"text":  "too short",
		"topic": "crime",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	srv, claimsSvc, _ := newTestServer(t)
	slug, claim, err := claimsSvc.CreateClaim("Violent crime is rising in Toronto", "crime", nil)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	claim.AppendEvidence(models.NewEvidence(
		"https://cbc.ca/report", "CBC News", "crime report snippet text", "explorer"))

	rec := postJSON(t, srv.Handler(), "/claims/"+slug+"/verify", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.VerificationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cached {
		t.Error("first verification should be uncached")
	}
	if len(resp.EvidenceIDs) != 1 {
		t.Errorf("evidence ids = %d, want 1", len(resp.EvidenceIDs))
	}

	second := postJSON(t, srv.Handler(), "/claims/"+slug+"/verify", nil)
	var cached models.VerificationResponse
	if err := json.Unmarshal(second.Body.Bytes(), &cached); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cached.Cached {
		t.Error("second verification should hit the cache")
	}
}

func TestVerifyEndpointValidation(t *testing.T) {
	srv, claimsSvc, _ := newTestServer(t)
	slug, _, err := claimsSvc.CreateClaim("Violent crime is rising in Toronto", "crime", nil)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	inverted := postJSON(t, srv.Handler(),
		"/claims/"+slug+"/verify?time_start=2024-06-01T00:00:00&time_end=2024-01-01T00:00:00", nil)
	if inverted.Code != http.StatusBadRequest {
		t.Errorf("inverted window status = %d, want 400", inverted.Code)
	}

	badTime := postJSON(t, srv.Handler(), "/claims/"+slug+"/verify?time_start=notatime", nil)
	if badTime.Code != http.StatusBadRequest {
		t.Errorf("bad timestamp status = %d, want 400", badTime.Code)
	}

	missing := postJSON(t, srv.Handler(), "/claims/unknown/verify", nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("unknown claim status = %d, want 404", missing.Code)
	}
}

func TestRunPanelEndpoint(t *testing.T) {
	srv, claimsSvc, _ := newTestServer(t)
	slug, claim, err := claimsSvc.CreateClaim("Violent crime is rising in Toronto", "crime", nil)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	claim.AppendEvidence(models.NewEvidence(
		"https://cbc.ca/report", "CBC News", "crime report snippet text", "explorer"))

	rec := postJSON(t, srv.Handler(), "/claims/"+slug+"/panel/run?agentic=false", map[string]any{
		"models": []string{"gpt-4o", "grok-3"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("panel status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status  string              `json:"status"`
		Panel   *models.PanelResult `json:"panel"`
		Agentic bool                `json:"agentic_research"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "success" {
		t.Errorf("status = %q", body.Status)
	}
	if body.Agentic {
		t.Error("agentic_research should reflect the query param")
	}
	if len(body.Panel.Verdicts) != 2 {
		t.Errorf("verdicts = %d, want 2", len(body.Panel.Verdicts))
	}
	if len(claim.ModelAssessments) != 2 {
		t.Errorf("assessments = %d, want 2", len(claim.ModelAssessments))
	}
}

func TestCreateAsyncAndProgressStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/claims/create-async", "application/json",
		strings.NewReader(`{"query": "Violent crime is rising in Toronto"}`))
	if err != nil {
		t.Fatalf("create-async: %v", err)
	}
	defer resp.Body.Close()
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("missing session_id")
	}

	stream, err := http.Get(ts.URL + "/claims/progress/" + created.SessionID)
	if err != nil {
		t.Fatalf("progress stream: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var stages []string
	scanner := bufio.NewScanner(stream.Body)
	deadline := time.After(10 * time.Second)
	done := make(chan []string, 1)
	go func() {
		var got []string
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			stage, _ := ev["stage"].(string)
			got = append(got, stage)
			if stage == "complete" || stage == "error" || stage == "cancelled" {
				break
			}
		}
		done <- got
	}()

	select {
	case stages = <-done:
	case <-deadline:
		t.Fatal("progress stream did not terminate")
	}

	if len(stages) == 0 || stages[len(stages)-1] != "complete" {
		t.Fatalf("stages = %v, want trailing complete", stages)
	}
	sawEvaluating := false
	for _, s := range stages {
		if s == "evaluating" {
			sawEvaluating = true
		}
	}
	if !sawEvaluating {
		t.Errorf("stages = %v missing evaluating", stages)
	}
}

func TestCreateAsyncRejectsShortQuery(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/claims/create-async", map[string]string{"query": "short"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCancelSession(t *testing.T) {
	srv, _, bus := newTestServer(t)
	sessionID := uuid.New().String()
	bus.Open(sessionID)

	req := httptest.NewRequest(http.MethodDelete, "/claims/progress/"+sessionID, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "cancelled" {
		t.Errorf("status = %q, want cancelled", body["status"])
	}

	missRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(missRec, httptest.NewRequest(http.MethodDelete, "/claims/progress/unknown", nil))
	if missRec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", missRec.Code)
	}

	if err := bus.CheckCancelled(sessionID); err == nil {
		t.Error("session should be marked cancelled")
	}
}

func TestParseTimeParam(t *testing.T) {
	tests := []struct {
		in      string
		wantNil bool
		wantErr bool
	}{
		{"", true, false},
		{"2024-01-15T10:30:00Z", false, false},
		{"2024-01-15T10:30:00", false, false},
		{"2024-01-15", false, false},
		{"not-a-time", false, true},
	}
	for _, tt := range tests {
		got, err := parseTimeParam(tt.in)
		if tt.wantErr != (err != nil) {
			t.Errorf("parseTimeParam(%q) err = %v", tt.in, err)
			continue
		}
		if tt.wantNil != (got == nil) && !tt.wantErr {
			t.Errorf("parseTimeParam(%q) = %v", tt.in, got)
		}
	}
}
