package llm

import "context"

// Provider runs a blocking chat completion.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// StreamProvider is implemented by providers that can deliver a
// completion incrementally. The callback receives each content delta in
// arrival order; returning an error from it stops the stream.
type StreamProvider interface {
	Provider
	CompleteStream(ctx context.Context, req CompletionRequest, onDelta func(delta string) error) error
}
