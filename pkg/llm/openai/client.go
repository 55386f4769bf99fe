package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"tourrag/pkg/config"
	"tourrag/pkg/llm"
	"tourrag/pkg/request"
)

// Client implements llm.Provider and llm.ToolChatter for any
// OpenAI-compatible API.
type Client struct {
	rc       *request.Client
	apiKey   string
	baseURL  string
	profiles map[string]string
	label    string

	mu sync.RWMutex
}

// Request follows the standard OpenAI Chat Completions format.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    float32         `json:"temperature,omitempty"`
	Tools          []ToolSpec      `json:"tools,omitempty"`
}

type Message struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"` // string or []ContentPart
	ToolCalls  []ToolCallWire `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type ContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *ImageURLContent `json:"image_url,omitempty"`
}

type ImageURLContent struct {
	URL string `json:"url"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// ToolSpec is the wire form of a function declaration.
type ToolSpec struct {
	Type     string       `json:"type"` // always "function"
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCallWire is the wire form of a requested function invocation.
type ToolCallWire struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Response follows the standard Chat Completions response format.
type Response struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []ToolCallWire `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(cfg config.LLMConfig, rc *request.Client) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("api key is required")
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   cfg.Key,
		profiles: cfg.Profiles,
		rc:       rc,
		label:    "openai",
	}, nil
}

// SetLabel sets the provider label for request tracking.
func (c *Client) SetLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.label = label
}

// GenerateJSON implements llm.Provider.
func (c *Client) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	model, err := c.ResolveModel(name)
	if err != nil {
		return err
	}

	// OpenAI-compatible providers require "json" in the prompt for json_object mode.
	if !strings.Contains(strings.ToLower(prompt), "json") {
		prompt += " Respond in JSON."
	}

	req := Request{
		Model: model,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Temperature:    0.1,
	}

	respText, _, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}

	respText = llm.CleanJSONBlock(respText)
	if err := json.Unmarshal([]byte(respText), target); err != nil {
		return fmt.Errorf("failed to unmarshal openai json: %w (raw: %s)", err, respText)
	}
	return nil
}

// GenerateVisionJSON implements llm.Provider.
func (c *Client) GenerateVisionJSON(ctx context.Context, name, system string, parts []llm.Part, target any) error {
	model, err := c.ResolveModel(name)
	if err != nil {
		return err
	}

	content := make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.ImageURL != "":
			content = append(content, ContentPart{Type: "image_url", ImageURL: &ImageURLContent{URL: p.ImageURL}})
		case p.Text != "":
			content = append(content, ContentPart{Type: "text", Text: p.Text})
		}
	}

	messages := []Message{}
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: content})

	req := Request{
		Model:          model,
		Messages:       messages,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Temperature:    0.1,
	}

	respText, _, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}

	respText = llm.CleanJSONBlock(respText)
	if err := json.Unmarshal([]byte(respText), target); err != nil {
		return fmt.Errorf("failed to unmarshal openai vision json: %w (raw: %s)", err, respText)
	}
	return nil
}

// ChatWithTools implements llm.ToolChatter.
func (c *Client) ChatWithTools(ctx context.Context, name string, messages []llm.ChatMessage, tools []llm.Tool, temperature float32) (llm.ChatMessage, error) {
	model, err := c.ResolveModel(name)
	if err != nil {
		return llm.ChatMessage{}, err
	}

	wireMessages := make([]Message, 0, len(messages))
	for _, m := range messages {
		wm := Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var w ToolCallWire
			w.ID = tc.ID
			w.Type = "function"
			w.Function.Name = tc.Name
			w.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, w)
		}
		wireMessages = append(wireMessages, wm)
	}

	wireTools := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		wireTools = append(wireTools, ToolSpec{
			Type: "function",
			Function: FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	req := Request{
		Model:       model,
		Messages:    wireMessages,
		Temperature: temperature,
		Tools:       wireTools,
	}

	content, toolCalls, err := c.Execute(ctx, req)
	if err != nil {
		return llm.ChatMessage{}, err
	}

	out := llm.ChatMessage{Role: "assistant", Content: content}
	for _, w := range toolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        w.ID,
			Name:      w.Function.Name,
			Arguments: json.RawMessage(w.Function.Arguments),
		})
	}
	return out, nil
}

// Execute sends a chat completion request and returns the assistant content
// and any tool calls.
func (c *Client) Execute(ctx context.Context, oreq Request) (string, []ToolCallWire, error) {
	body, err := json.Marshal(oreq)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}

	u := c.baseURL + "/chat/completions"

	c.mu.RLock()
	label := c.label
	c.mu.RUnlock()
	if label != "" {
		ctx = context.WithValue(ctx, request.CtxProviderLabel, label)
	}

	respBody, err := c.rc.PostWithHeaders(ctx, u, body, headers)
	if err != nil {
		// Surface a provider error message when the body carries one
		var oresp Response
		if len(respBody) > 0 && json.Unmarshal(respBody, &oresp) == nil && oresp.Error != nil {
			return "", nil, fmt.Errorf("openai api error: %s (%s)", oresp.Error.Message, oresp.Error.Type)
		}
		return "", nil, err
	}

	var oresp Response
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if oresp.Error != nil {
		return "", nil, fmt.Errorf("openai api error: %s (%s)", oresp.Error.Message, oresp.Error.Type)
	}

	if len(oresp.Choices) == 0 {
		return "", nil, fmt.Errorf("api returned no choices")
	}

	msg := oresp.Choices[0].Message
	return msg.Content, msg.ToolCalls, nil
}

// HasProfile implements llm.Provider.
func (c *Client) HasProfile(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.profiles[name]
	return ok && c.profiles[name] != ""
}

// ResolveModel maps a profile name to the configured model.
func (c *Client) ResolveModel(intent string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.profiles[intent]; ok && model != "" {
		return model, nil
	}
	return "", fmt.Errorf("profile %q not configured", intent)
}
