package llm

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest holds the parameters for a completion. JSONMode
// forces a JSON object response, which the interaction analyzer
// depends on.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// CompletionResponse is a finished completion.
type CompletionResponse struct {
	Content string
	Model   string
}
