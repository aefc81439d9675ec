// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote or local model API (Gemini, OpenAI, Anthropic, a
// local Ollama instance) and exposes the single-shot completion the coach
// needs to score transcripts and write profiles, without coupling callers to
// any specific SDK.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is one turn of a conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction placed before
	// Messages.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is normally from
	// the "user" role.
	Messages []Message

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the provider
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// JSONMode asks the model to answer with a single JSON object.
	JSONMode bool
}

// CompletionResponse is the full reply of a completion.
type CompletionResponse struct {
	// Content is the assistant's reply text.
	Content string

	// Usage contains token accounting for this request.
	Usage Usage
}

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the most the model can generate in one completion.
	MaxOutputTokens int

	// SupportsJSONMode reports native structured-output support. Providers
	// without it fall back to prompt instructions.
	SupportsJSONMode bool
}

// JSONInstruction is appended to the system prompt by providers that have no
// native JSON mode.
const JSONInstruction = "Respond with a single valid JSON object and nothing else."

// Provider is the abstraction over any LLM backend.
//
// Complete must return promptly once ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}
