package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AndrewLee0430/medinotes/internal/db"
	"github.com/AndrewLee0430/medinotes/internal/knowledge"
	"github.com/AndrewLee0430/medinotes/internal/rag"
	"github.com/AndrewLee0430/medinotes/internal/retrieval"
	"github.com/AndrewLee0430/medinotes/internal/verify"
)

// stubRetriever returns a fixed document list.
type stubRetriever struct {
	docs []retrieval.Document
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, maxResults int, _ []retrieval.SourceType) []retrieval.Document {
	if len(s.docs) > maxResults {
		return s.docs[:maxResults]
	}
	return s.docs
}

// stubGenerator emits a short canned stream.
type stubGenerator struct{}

func (stubGenerator) GenerateStream(_ context.Context, _ string, docs []retrieval.Document, onEvent func(rag.StreamEvent) error) error {
	if len(docs) == 0 {
		if err := onEvent(rag.StreamEvent{Type: rag.EventError, Content: "no data"}); err != nil {
			return err
		}
		return onEvent(rag.StreamEvent{Type: rag.EventDone})
	}
	if err := onEvent(rag.StreamEvent{Type: rag.EventAnswer, Content: "Metformin is first line [1]."}); err != nil {
		return err
	}
	citations := make([]retrieval.Citation, len(docs))
	for i, d := range docs {
		citations[i] = d.ToCitation(i + 1)
	}
	if err := onEvent(rag.StreamEvent{Type: rag.EventCitations, Citations: citations}); err != nil {
		return err
	}
	return onEvent(rag.StreamEvent{Type: rag.EventDone, ElapsedMS: 5})
}

func (stubGenerator) SummarizeVisitStream(_ context.Context, _ rag.Visit, onDelta func(string) error) error {
	if err := onDelta("### Summary of visit"); err != nil {
		return err
	}
	return onDelta(" for the doctor's records")
}

// stubVerifier returns a fixed result.
type stubVerifier struct {
	result verify.Result
}

func (s *stubVerifier) Check(_ context.Context, _ string, drugs []string, _ string) verify.Result {
	r := s.result
	r.DrugsAnalyzed = drugs
	return r
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	ret := &stubRetriever{docs: []retrieval.Document{{
		Content:        "Metformin is first line therapy.",
		SourceType:     retrieval.SourcePubMed,
		SourceID:       "PMID:111",
		Title:          "Guidelines",
		RelevanceScore: 0.8,
	}}}
	ver := &stubVerifier{result: verify.Result{
		Interactions: []verify.DrugInteraction{},
		Summary:      "none",
		RiskLevel:    verify.RiskLow,
	}}

	return New(Config{MaxResults: 5}, database, ret, stubGenerator{}, ver, nil)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-ID", "dr-lin")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := doJSON(t, newTestServer(t), "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestStatusFeatureMap(t *testing.T) {
	w := doJSON(t, newTestServer(t), "GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Service  string          `json:"service"`
		Features map[string]bool `json:"features"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Service != "medinotes" {
		t.Errorf("service = %q", body.Service)
	}
	for _, feature := range []string{"research", "verify", "feedback", "history"} {
		if !body.Features[feature] {
			t.Errorf("feature %q should be enabled", feature)
		}
	}
}

func TestResearchStream(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/research",
		`{"question": "first line therapy for type 2 diabetes"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := parseSSE(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %s", len(events), w.Body.String())
	}
	if events[0].Type != rag.EventAnswer || events[1].Type != rag.EventCitations || events[2].Type != rag.EventDone {
		t.Errorf("event order wrong: %v %v %v", events[0].Type, events[1].Type, events[2].Type)
	}
	if len(events[1].Citations) != 1 || events[1].Citations[0].SourceID != "PMID:111" {
		t.Errorf("citations = %+v", events[1].Citations)
	}
}

func TestResearchRejectsPHI(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/research",
		`{"question": "medication history for patient id A123456789"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "phi_detected" {
		t.Errorf("error = %q", body["error"])
	}
	if !strings.Contains(body["category"], "Taiwan ID") {
		t.Errorf("category = %q", body["category"])
	}
	if strings.Contains(w.Body.String(), "A123456789") {
		t.Error("matched text echoed back in rejection")
	}
}

func TestResearchValidation(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/research", `{"question": ""}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty question: status = %d, want 422", w.Code)
	}

	w = doJSON(t, newTestServer(t), "POST", "/api/research", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", w.Code)
	}
}

func TestSuggestions(t *testing.T) {
	w := doJSON(t, newTestServer(t), "GET", "/api/research/suggestions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body["suggestions"]) == 0 {
		t.Error("no suggestions returned")
	}
}

func TestVerifyEndpoint(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/verify",
		`{"drugs": ["Warfarin", "Aspirin"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var result verify.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.RiskLevel != verify.RiskLow {
		t.Errorf("RiskLevel = %q", result.RiskLevel)
	}
	if len(result.DrugsAnalyzed) != 2 {
		t.Errorf("DrugsAnalyzed = %v", result.DrugsAnalyzed)
	}
}

func TestVerifyRequiresTwoDrugs(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/verify", `{"drugs": ["Warfarin"]}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestVerifyPHIGate(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/verify",
		`{"drugs": ["Warfarin", "Aspirin"], "patient_context": "SSN 123-45-6789"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "phi_detected" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestConsultationStream(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/consultation",
		`{"patient_name": "T. Chen", "date_of_visit": "2026-08-01", "notes": "BP controlled."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	events := parseSSE(t, w.Body.String())
	var text strings.Builder
	for _, e := range events {
		if e.Type == rag.EventAnswer {
			text.WriteString(e.Content)
		}
	}
	if !strings.Contains(text.String(), "### Summary of visit") {
		t.Errorf("summary text = %q", text.String())
	}
	if events[len(events)-1].Type != rag.EventDone {
		t.Error("stream did not end with done")
	}
}

func TestConsultationValidation(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/consultation", `{"notes": "x"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestFeedbackAndHistoryFlow(t *testing.T) {
	s := newTestServer(t)

	// A research call populates history.
	doJSON(t, s, "POST", "/api/research", `{"question": "metformin dosing"}`)

	w := doJSON(t, s, "POST", "/api/feedback",
		`{"query": "metformin dosing", "response": "answer", "rating": 5, "category": "accuracy"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("feedback status = %d, body %s", w.Code, w.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created["id"] == "" {
		t.Error("no feedback id returned")
	}

	w = doJSON(t, s, "GET", "/api/history?session_type=research", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var histBody struct {
		Records []struct {
			UserID   string `json:"user_id"`
			Question string `json:"question"`
		} `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &histBody); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(histBody.Records) != 1 {
		t.Fatalf("got %d history records, want 1", len(histBody.Records))
	}
	if histBody.Records[0].UserID != "dr-lin" {
		t.Errorf("history user = %q", histBody.Records[0].UserID)
	}
}

func TestFeedbackRatingBounds(t *testing.T) {
	w := doJSON(t, newTestServer(t), "POST", "/api/feedback",
		`{"query": "q", "response": "r", "rating": 9}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestHistoryIsolatedPerUser(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, "POST", "/api/research", `{"question": "metformin dosing"}`)

	req := httptest.NewRequest("GET", "/api/history", nil)
	req.Header.Set("X-User-ID", "dr-other")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var body struct {
		Records []any `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Records) != 0 {
		t.Errorf("dr-other sees %d foreign records", len(body.Records))
	}
}

func TestKnowledgeStatsInStatus(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	s := New(Config{}, database, &stubRetriever{}, stubGenerator{}, nil, statsStub{})
	w := doJSON(t, s, "GET", "/api/status", "")

	var body struct {
		KnowledgeBase knowledge.Stats `json:"knowledge_base"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.KnowledgeBase.TotalDocuments != 42 {
		t.Errorf("TotalDocuments = %d", body.KnowledgeBase.TotalDocuments)
	}
}

type statsStub struct{}

func (statsStub) GetStats() knowledge.Stats {
	return knowledge.Stats{TotalDocuments: 42, CollectionName: "medical_knowledge"}
}

// parseSSE splits an event-stream body into decoded events.
func parseSSE(t *testing.T, body string) []rag.StreamEvent {
	t.Helper()
	var events []rag.StreamEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e rag.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("bad SSE line %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}
