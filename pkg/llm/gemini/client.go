package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"tourrag/pkg/config"
	"tourrag/pkg/llm"
	"tourrag/pkg/llm/imageutil"
	"tourrag/pkg/tracker"
)

// Client implements llm.Provider for Google Gemini. Gemini is not wired into
// the tool-calling agent loop; callers needing llm.ToolChatter use the
// OpenAI-compatible client.
type Client struct {
	genaiClient *genai.Client
	apiKey      string
	profiles    map[string]string // Map intent -> modelName
	tracker     *tracker.Tracker
	logPath     string

	mu sync.RWMutex
}

// NewClient creates a new Gemini client.
func NewClient(cfg config.LLMConfig, t *tracker.Tracker) (*Client, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("api key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := &Client{
		genaiClient: client,
		apiKey:      cfg.Key,
		profiles:    cfg.Profiles,
		tracker:     t,
		logPath:     cfg.LogPath,
	}

	// Validate model availability. Startup proceeds even if the API is flaky
	// or rate-limited; a truly invalid model fails on first generation.
	if err := c.validateModels(context.Background()); err != nil {
		slog.Warn("Gemini model validation failed (proceeding anyway)", "error", err)
	}

	return c, nil
}

// HasProfile implements llm.Provider.
func (c *Client) HasProfile(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.profiles[name]
	return ok && c.profiles[name] != ""
}

func (c *Client) resolveModel(name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if model, ok := c.profiles[name]; ok && model != "" {
		return model, nil
	}
	return "", fmt.Errorf("profile %q not configured", name)
}

// GenerateJSON implements llm.Provider.
func (c *Client) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	modelName, err := c.resolveModel(name)
	if err != nil {
		return err
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	resp, err := c.genaiClient.Models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("ERROR: %v", err))
		c.tracker.TrackAPIFailure("gemini")
		return fmt.Errorf("generate json error: %w", err)
	}

	return c.decodeJSON(name, prompt, resp, target)
}

// GenerateVisionJSON implements llm.Provider. Image parts are carried as
// inline data; plain http(s) URLs are rejected because they are not fetched
// here.
func (c *Client) GenerateVisionJSON(ctx context.Context, name, system string, parts []llm.Part, target any) error {
	modelName, err := c.resolveModel(name)
	if err != nil {
		return err
	}

	var genParts []*genai.Part
	var promptLog strings.Builder
	for _, p := range parts {
		switch {
		case p.ImageURL != "":
			mime, data, err := imageutil.SplitDataURL(p.ImageURL)
			if err != nil {
				return fmt.Errorf("gemini requires inline image data: %w", err)
			}
			genParts = append(genParts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: mime, Data: data},
			})
			fmt.Fprintf(&promptLog, "[image %s, %d bytes]\n", mime, len(data))
		case p.Text != "":
			genParts = append(genParts, &genai.Part{Text: p.Text})
			promptLog.WriteString(p.Text + "\n")
		}
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	contents := []*genai.Content{{Role: "user", Parts: genParts}}
	resp, err := c.genaiClient.Models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		c.logPrompt(name, promptLog.String(), fmt.Sprintf("ERROR: %v", err))
		c.tracker.TrackAPIFailure("gemini")
		return fmt.Errorf("generate vision json error: %w", err)
	}

	return c.decodeJSON(name, promptLog.String(), resp, target)
}

func (c *Client) decodeJSON(name, prompt string, resp *genai.GenerateContentResponse, target any) error {
	text, err := responseText(resp)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.tracker.TrackAPIFailure("gemini")
		return err
	}

	cleaned := llm.CleanJSONBlock(text)
	c.logPrompt(name, prompt, cleaned)

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		c.tracker.TrackAPIFailure("gemini")
		return fmt.Errorf("failed to unmarshal JSON response: %w. Response: %s", err, cleaned)
	}

	c.tracker.TrackAPISuccess("gemini")
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func (c *Client) logPrompt(name, prompt, response string) {
	if c.logPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, name, prompt, response, strings.Repeat("-", 80))

	_, _ = f.WriteString(entry)
}

// validateModels checks that every configured profile model is available for
// the API key.
func (c *Client) validateModels(ctx context.Context) error {
	missing := map[string]bool{}
	for _, model := range c.profiles {
		name := model
		if !strings.HasPrefix(name, "models/") {
			name = "models/" + name
		}
		if _, err := c.genaiClient.Models.Get(ctx, name, nil); err != nil {
			missing[model] = true
		}
	}
	if len(missing) == 0 {
		slog.Debug("Gemini model validation success")
		return nil
	}

	// Fetch available models for the error message
	iter, listErr := c.genaiClient.Models.List(ctx, nil)
	if listErr != nil {
		return fmt.Errorf("models %v not found (list failed: %v)", keys(missing), listErr)
	}

	var available []string
	for {
		resp, nextErr := iter.Next(ctx)
		if nextErr == iterator.Done {
			break
		}
		if nextErr != nil {
			break
		}
		if strings.Contains(strings.ToLower(resp.Name), "gemini") {
			available = append(available, resp.Name)
		}
	}

	return fmt.Errorf("configured models %v not found; available: %v", keys(missing), available)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
