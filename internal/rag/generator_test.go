package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AndrewLee0430/medinotes/internal/llm"
	"github.com/AndrewLee0430/medinotes/internal/retrieval"
)

// stubProvider replays fixed deltas, or fails, and records the last
// request it saw.
type stubProvider struct {
	deltas  []string
	err     error
	lastReq llm.CompletionRequest
	calls   int
}

func (s *stubProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.lastReq = req
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: strings.Join(s.deltas, "")}, nil
}

func (s *stubProvider) CompleteStream(_ context.Context, req llm.CompletionRequest, onDelta func(string) error) error {
	s.lastReq = req
	s.calls++
	if s.err != nil {
		return s.err
	}
	for _, d := range s.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return nil
}

func sampleDocs() []retrieval.Document {
	return []retrieval.Document{
		{
			Content:     "Metformin is first line therapy for type 2 diabetes.",
			SourceType:  retrieval.SourcePubMed,
			SourceID:    "PMID:111",
			Title:       "Diabetes management guidelines",
			Credibility: retrieval.CredibilityPeerReviewed,
		},
		{
			Content:     strings.Repeat("x", 3000),
			SourceType:  retrieval.SourceFDA,
			SourceID:    "FDA:Glucophage",
			Title:       "Glucophage label",
			Credibility: retrieval.CredibilityOfficial,
		},
	}
}

func collectEvents(t *testing.T, g *Generator, question string, docs []retrieval.Document) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	err := g.GenerateStream(context.Background(), question, docs, func(e StreamEvent) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	return events
}

func TestGenerateStreamEventOrder(t *testing.T) {
	stub := &stubProvider{deltas: []string{"Metformin ", "is first line ", "[1]."}}
	g := NewGenerator(stub, "")

	events := collectEvents(t, g, "first line therapy for T2DM?", sampleDocs())

	if len(events) != 5 {
		t.Fatalf("got %d events, want 5 (3 answer + citations + done)", len(events))
	}

	var answer strings.Builder
	for _, e := range events[:3] {
		if e.Type != EventAnswer {
			t.Fatalf("event %v, want answer", e.Type)
		}
		answer.WriteString(e.Content)
	}
	if answer.String() != "Metformin is first line [1]." {
		t.Errorf("answer = %q", answer.String())
	}

	if events[3].Type != EventCitations {
		t.Fatalf("event[3] = %v, want citations", events[3].Type)
	}
	cits := events[3].Citations
	if len(cits) != 2 {
		t.Fatalf("got %d citations, want 2", len(cits))
	}
	if cits[0].ID != 1 || cits[0].SourceID != "PMID:111" {
		t.Errorf("citation 1 = %+v", cits[0])
	}
	if cits[1].ID != 2 || cits[1].SourceID != "FDA:Glucophage" {
		t.Errorf("citation 2 = %+v", cits[1])
	}

	done := events[4]
	if done.Type != EventDone {
		t.Fatalf("last event = %v, want done", done.Type)
	}
	if done.ElapsedMS < 0 {
		t.Errorf("ElapsedMS = %d", done.ElapsedMS)
	}
}

func TestGenerateStreamEmptyDocs(t *testing.T) {
	stub := &stubProvider{deltas: []string{"should not appear"}}
	g := NewGenerator(stub, "")

	events := collectEvents(t, g, "anything", nil)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (error + done)", len(events))
	}
	if events[0].Type != EventError || events[0].Content != noDataMessage {
		t.Errorf("event[0] = %+v", events[0])
	}
	if events[1].Type != EventDone {
		t.Errorf("event[1] = %v, want done", events[1].Type)
	}
	if stub.calls != 0 {
		t.Errorf("model was called %d times for empty docs", stub.calls)
	}
}

func TestGenerateStreamProviderError(t *testing.T) {
	stub := &stubProvider{err: errors.New("rate limited")}
	g := NewGenerator(stub, "")

	events := collectEvents(t, g, "q", sampleDocs())

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (error + done)", len(events))
	}
	if events[0].Type != EventError || !strings.Contains(events[0].Content, "rate limited") {
		t.Errorf("event[0] = %+v", events[0])
	}
	// No citations event on the error path.
	for _, e := range events {
		if e.Type == EventCitations {
			t.Error("citations emitted despite provider failure")
		}
	}
}

func TestGenerateStreamContextTruncation(t *testing.T) {
	stub := &stubProvider{deltas: []string{"ok"}}
	g := NewGenerator(stub, "")

	collectEvents(t, g, "q", sampleDocs())

	userMsg := stub.lastReq.Messages[1].Content
	if !strings.Contains(userMsg, strings.Repeat("x", contextCharBudget)+"...") {
		t.Error("long document not truncated with ellipsis in context")
	}
	if strings.Contains(userMsg, strings.Repeat("x", contextCharBudget+1)) {
		t.Error("context exceeds per-document budget")
	}
	if !strings.Contains(userMsg, "[1] Diabetes management guidelines") {
		t.Error("context missing numbered document header")
	}
	if stub.lastReq.Temperature != temperature {
		t.Errorf("Temperature = %v, want %v", stub.lastReq.Temperature, temperature)
	}
	if stub.lastReq.MaxTokens != maxTokens {
		t.Errorf("MaxTokens = %v, want %v", stub.lastReq.MaxTokens, maxTokens)
	}
}

func TestGenerateStreamContextRuneBoundary(t *testing.T) {
	stub := &stubProvider{deltas: []string{"ok"}}
	g := NewGenerator(stub, "")

	docs := []retrieval.Document{{
		Content:    strings.Repeat("藥", contextCharBudget+100),
		SourceType: retrieval.SourceLocal,
		SourceID:   "local:tcm",
		Title:      "用藥指引",
	}}
	collectEvents(t, g, "q", docs)

	userMsg := stub.lastReq.Messages[1].Content
	if !utf8.ValidString(userMsg) {
		t.Fatal("prompt is not valid UTF-8")
	}
	if strings.ContainsRune(userMsg, utf8.RuneError) {
		t.Error("prompt contains a replacement character")
	}
	if !strings.Contains(userMsg, strings.Repeat("藥", contextCharBudget)+"...") {
		t.Error("long document not truncated on a rune boundary")
	}
}

func TestGenerateBlocking(t *testing.T) {
	stub := &stubProvider{deltas: []string{"Metformin is first line [1]."}}
	g := NewGenerator(stub, "gpt-4o")

	answer, citations, err := g.Generate(context.Background(), "q", sampleDocs())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "Metformin is first line [1]." {
		t.Errorf("answer = %q", answer)
	}
	if len(citations) != 2 {
		t.Errorf("got %d citations, want 2", len(citations))
	}
	if stub.lastReq.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", stub.lastReq.Model)
	}
}

func TestGenerateBlockingEmptyDocs(t *testing.T) {
	stub := &stubProvider{}
	g := NewGenerator(stub, "")

	answer, citations, err := g.Generate(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != noDataMessage {
		t.Errorf("answer = %q", answer)
	}
	if citations != nil {
		t.Errorf("citations = %v, want nil", citations)
	}
	if stub.calls != 0 {
		t.Error("model called for empty docs")
	}
}

func TestSummarizeVisitStream(t *testing.T) {
	stub := &stubProvider{deltas: []string{"### Summary of visit", " ..."}}
	g := NewGenerator(stub, "")

	var out strings.Builder
	err := g.SummarizeVisitStream(context.Background(), Visit{
		PatientName: "T. Chen",
		DateOfVisit: "2026-08-01",
		Notes:       "Follow-up for hypertension. BP well controlled.",
	}, func(delta string) error {
		out.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("SummarizeVisitStream: %v", err)
	}
	if out.String() != "### Summary of visit ..." {
		t.Errorf("output = %q", out.String())
	}

	sys := stub.lastReq.Messages[0].Content
	if !strings.Contains(sys, "exactly three sections") {
		t.Error("system prompt missing section contract")
	}
	user := stub.lastReq.Messages[1].Content
	if !strings.Contains(user, "T. Chen") || !strings.Contains(user, "2026-08-01") {
		t.Errorf("user prompt missing visit fields: %q", user)
	}
}
