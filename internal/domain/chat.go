package domain

// ChatMessage is the provider-agnostic chat message shape sent to the
// completion engine.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the text generated for a conversation window together with the
// token usage reported by the engine.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Sampling carries the generation parameters of a single completion request.
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}
