package models

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a single conversational message sent to providers.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is the canonical, provider-agnostic completion request.
// Nil Temperature and MaxTokens are filled in at the adapter boundary.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	Temperature  *float64
	MaxTokens    *int
	Stream       bool
}

// CompletionResponse captures a non-streaming provider response.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Model        string
}

// StreamChunk is one incremental fragment of a streamed completion.
// A stream ends with exactly one chunk where Done is true.
type StreamChunk struct {
	Content      string
	FinishReason string
	Done         bool
}

// ModelOption describes a selectable model in a provider's static catalog.
type ModelOption struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	ContextLength int      `json:"context_length" yaml:"context_length"`
	Description   string   `json:"description" yaml:"description"`
	Capabilities  []string `json:"capabilities" yaml:"capabilities"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
