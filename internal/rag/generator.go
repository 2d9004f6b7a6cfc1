// Package rag turns ranked documents and a question into a cited,
// streamed answer.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AndrewLee0430/medinotes/internal/llm"
	"github.com/AndrewLee0430/medinotes/internal/retrieval"
)

const (
	// contextCharBudget caps each document's contribution to the
	// model context.
	contextCharBudget = 2000

	defaultModel = "gpt-4o-mini"
	temperature  = 0.3
	maxTokens    = 2000

	// noDataMessage is returned verbatim when retrieval produced
	// nothing to ground an answer on.
	noDataMessage = "未找到相關資料，請嘗試調整問題或查詢關鍵字。"
)

// EventType identifies a stream event.
type EventType string

const (
	EventAnswer    EventType = "answer"
	EventCitations EventType = "citations"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// StreamEvent is one element of the generation stream. Exactly one of
// Content or Citations is set depending on Type; Done events carry the
// elapsed time.
type StreamEvent struct {
	Type      EventType            `json:"type"`
	Content   string               `json:"content,omitempty"`
	Citations []retrieval.Citation `json:"citations,omitempty"`
	ElapsedMS int64                `json:"elapsed_ms,omitempty"`
}

// Generator produces answers grounded in retrieved documents.
type Generator struct {
	provider llm.StreamProvider
	model    string
}

// NewGenerator creates a Generator using the given provider. An empty
// model selects the default.
func NewGenerator(provider llm.StreamProvider, model string) *Generator {
	if model == "" {
		model = defaultModel
	}
	return &Generator{provider: provider, model: model}
}

// GenerateStream answers the question from the documents, invoking
// onEvent for each stream event in order: answer fragments, then one
// citations event, then done. On failure it emits error then done and
// skips citations. An empty document list short-circuits to an error
// without calling the model.
func (g *Generator) GenerateStream(ctx context.Context, question string, docs []retrieval.Document, onEvent func(StreamEvent) error) error {
	start := time.Now()

	if len(docs) == 0 {
		if err := onEvent(StreamEvent{Type: EventError, Content: noDataMessage}); err != nil {
			return err
		}
		return onEvent(StreamEvent{Type: EventDone, ElapsedMS: time.Since(start).Milliseconds()})
	}

	citations := makeCitations(docs)
	req := g.buildRequest(question, docs)

	streamErr := g.provider.CompleteStream(ctx, req, func(delta string) error {
		if delta == "" {
			return nil
		}
		return onEvent(StreamEvent{Type: EventAnswer, Content: delta})
	})
	if streamErr != nil {
		if err := onEvent(StreamEvent{Type: EventError, Content: fmt.Sprintf("生成答案時發生錯誤: %v", streamErr)}); err != nil {
			return err
		}
		return onEvent(StreamEvent{Type: EventDone, ElapsedMS: time.Since(start).Milliseconds()})
	}

	if err := onEvent(StreamEvent{Type: EventCitations, Citations: citations}); err != nil {
		return err
	}
	return onEvent(StreamEvent{Type: EventDone, ElapsedMS: time.Since(start).Milliseconds()})
}

// Generate is the blocking variant, returning the full answer and the
// citations list.
func (g *Generator) Generate(ctx context.Context, question string, docs []retrieval.Document) (string, []retrieval.Citation, error) {
	if len(docs) == 0 {
		return noDataMessage, nil, nil
	}

	citations := makeCitations(docs)

	resp, err := g.provider.Complete(ctx, g.buildRequest(question, docs))
	if err != nil {
		return "", citations, fmt.Errorf("completing answer: %w", err)
	}
	return resp.Content, citations, nil
}

func (g *Generator) buildRequest(question string, docs []retrieval.Document) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: buildUserPrompt(question, buildContext(docs))},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// makeCitations numbers the documents 1..N in input order, so bracket
// references produced by the model line up with the emitted list.
func makeCitations(docs []retrieval.Document) []retrieval.Citation {
	citations := make([]retrieval.Citation, len(docs))
	for i, doc := range docs {
		citations[i] = doc.ToCitation(i + 1)
	}
	return citations
}

// buildContext renders the documents as numbered reference blocks.
func buildContext(docs []retrieval.Document) string {
	parts := make([]string, len(docs))
	for i, doc := range docs {
		content := retrieval.TruncateRunes(doc.Content, contextCharBudget)
		parts[i] = fmt.Sprintf("[%d] %s\n%s", i+1, doc.Title, content)
	}
	return strings.Join(parts, "\n\n")
}

const systemPrompt = `You are a medical AI assistant designed to help healthcare professionals.

Your responsibilities:
1. Provide accurate, evidence-based medical information
2. ALWAYS cite sources using [1], [2], etc. format
3. Be concise but comprehensive
4. Acknowledge uncertainty when evidence is limited
5. Use professional medical terminology
6. Respond in Traditional Chinese (繁體中文)

Citation rules:
- Every factual claim MUST be cited
- Use [1], [2] format corresponding to the context documents
- Multiple citations can be combined: [1][2]
- If information is not in the context, clearly state that

Important:
- Do NOT provide treatment recommendations without emphasizing consultation with healthcare providers
- Do NOT make claims beyond what's supported by the provided context
- If asked about specific patient cases, remind that individual medical advice requires clinical evaluation`

func buildUserPrompt(question, context string) string {
	return fmt.Sprintf(`Context (reference documents):
%s

Question: %s

Instructions:
1. Answer the question based ONLY on the provided context
2. Cite sources using [1], [2], etc.
3. If the context doesn't contain enough information, clearly state what's missing
4. Be specific and precise
5. Use Traditional Chinese (繁體中文)

Answer:`, context, question)
}
