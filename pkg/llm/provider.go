package llm

import (
	"context"
	"encoding/json"
)

// Part is one piece of a multimodal prompt. Exactly one field is set.
type Part struct {
	Text     string
	ImageURL string // data URL or http(s) URL
}

// Provider defines the interface for structured LLM generation.
type Provider interface {
	// GenerateJSON sends a prompt and unmarshals the JSON response into target.
	// name selects the model profile (e.g. "intent", "sql").
	GenerateJSON(ctx context.Context, name, prompt string, target any) error

	// GenerateVisionJSON sends a system prompt plus interleaved text and image
	// parts, and unmarshals the JSON response into target.
	GenerateVisionJSON(ctx context.Context, name, system string, parts []Part, target any) error

	// HasProfile checks if the provider has a specific profile configured.
	HasProfile(name string) bool
}

// Tool describes a callable function exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatMessage is one turn of a tool-calling conversation.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on role "tool"
}

// ToolChatter is implemented by providers that can drive a function-calling
// conversation. Providers without tool support return only Provider.
type ToolChatter interface {
	// ChatWithTools sends the conversation and tool catalogue at the given
	// sampling temperature, returning the assistant's next message (which may
	// contain tool calls).
	ChatWithTools(ctx context.Context, name string, messages []ChatMessage, tools []Tool, temperature float32) (ChatMessage, error)
}
