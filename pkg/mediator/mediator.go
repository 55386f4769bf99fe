// Package mediator orchestrates a query end to end: intent extraction,
// candidate retrieval, ranking, and the audit log. It prefers the agent loop
// when the configured provider can drive tool calls and falls back to the
// deterministic cascade otherwise.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tourrag/pkg/agent"
	"tourrag/pkg/intent"
	"tourrag/pkg/model"
	"tourrag/pkg/rank"
	"tourrag/pkg/retrieval"
	"tourrag/pkg/store"
	"tourrag/pkg/tagschema"
)

// ErrEmptyText is returned when a query carries no text. Images alone are
// accepted only by intent extraction.
var ErrEmptyText = errors.New("query text must not be empty")

// ErrStoreUnavailable wraps a query failure whose root cause is an
// unreachable data store.
var ErrStoreUnavailable = errors.New("data store unavailable")

// Request is one retrieval query.
type Request struct {
	Text     string   `json:"text"`
	Images   []string `json:"images,omitempty"`
	TopK     int      `json:"top_k,omitempty"`
	Language string   `json:"language,omitempty"`
}

// Response is the full answer envelope.
type Response struct {
	RequestID     string                  `json:"request_id"`
	Intent        *model.QueryIntent      `json:"query_intent,omitempty"`
	Results       []model.ViewpointResult `json:"results"`
	Answer        string                  `json:"answer,omitempty"`
	SQLQueries    []model.SQLAttempt      `json:"sql_queries,omitempty"`
	ToolCalls     []agent.ToolTrace       `json:"tool_calls,omitempty"`
	Iterations    int                     `json:"iterations,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Flags         []string                `json:"flags,omitempty"`
	ElapsedMs     int64                   `json:"execution_time_ms"`
	SchemaVersion string                  `json:"tag_schema_version"`
}

// IntentResponse is the extraction endpoint's envelope.
type IntentResponse struct {
	Intent        *model.QueryIntent `json:"query_intent"`
	SchemaVersion string             `json:"tag_schema_version"`
}

// Mediator wires the pipeline stages together.
type Mediator struct {
	extractor *intent.Extractor
	searcher  *retrieval.Searcher
	ranker    *rank.Ranker
	agent     *agent.Agent // nil when the provider cannot drive tool calls
	registry  *tagschema.Registry
	store     store.Store
}

// New creates a mediator. agentLoop may be nil; queries then always run the
// deterministic cascade.
func New(extractor *intent.Extractor, searcher *retrieval.Searcher, ranker *rank.Ranker,
	agentLoop *agent.Agent, registry *tagschema.Registry, st store.Store) *Mediator {
	return &Mediator{
		extractor: extractor,
		searcher:  searcher,
		ranker:    ranker,
		agent:     agentLoop,
		registry:  registry,
		store:     st,
	}
}

// HasAgent reports whether the agent loop is available.
func (m *Mediator) HasAgent() bool { return m.agent != nil }

// ExtractIntent runs intent extraction alone, for the dedicated endpoint.
// Unlike Query it accepts image-only input.
func (m *Mediator) ExtractIntent(ctx context.Context, req Request) (*IntentResponse, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		return nil, ErrEmptyText
	}
	queryIntent, err := m.extractor.Extract(ctx, intent.Input{Text: req.Text, Images: req.Images, Language: req.Language})
	if err != nil {
		return nil, err
	}
	return &IntentResponse{Intent: queryIntent, SchemaVersion: m.registry.Version()}, nil
}

// Query answers a request with the agent loop when available, the
// deterministic pipeline otherwise.
func (m *Mediator) Query(ctx context.Context, req Request) (*Response, error) {
	if m.agent != nil {
		return m.run(ctx, req, m.runAgent)
	}
	return m.run(ctx, req, m.runPipeline)
}

// AgentQuery forces the agent loop; it fails when no tool-calling provider is
// configured.
func (m *Mediator) AgentQuery(ctx context.Context, req Request) (*Response, error) {
	if m.agent == nil {
		return nil, errors.New("agent requires a tool-calling provider")
	}
	return m.run(ctx, req, m.runAgent)
}

// PipelineQuery forces the deterministic cascade.
func (m *Mediator) PipelineQuery(ctx context.Context, req Request) (*Response, error) {
	return m.run(ctx, req, m.runPipeline)
}

func (m *Mediator) run(ctx context.Context, req Request, exec func(context.Context, Request, *Response) error) (*Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	resp := &Response{
		RequestID:     uuid.NewString(),
		Results:       []model.ViewpointResult{},
		SchemaVersion: m.registry.Version(),
	}

	if err := exec(ctx, req, resp); err != nil {
		return nil, m.classify(err)
	}

	resp.ElapsedMs = time.Since(start).Milliseconds()
	m.logQuery(req, resp)
	return resp, nil
}

// classify distinguishes an unreachable store from other failures so the
// transport layer can answer 503 instead of 500.
func (m *Mediator) classify(err error) error {
	if m.store == nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if pingErr := m.store.Ping(pingCtx); pingErr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (m *Mediator) runAgent(ctx context.Context, req Request, resp *Response) error {
	res, err := m.agent.Run(ctx, req.Text, req.Images)
	if err != nil {
		return err
	}
	resp.Intent = res.Intent
	resp.Results = res.Results
	resp.Answer = res.Answer
	resp.SQLQueries = res.SQLLog
	resp.ToolCalls = res.Trace
	resp.Iterations = res.Iterations
	resp.Error = res.Error
	resp.Flags = res.Flags

	// The agent produced neither results nor an intent to rank with: extract
	// the intent directly and run the deterministic cascade.
	if len(resp.Results) == 0 && resp.Intent == nil {
		if err := m.runPipeline(ctx, req, resp); err != nil {
			return err
		}
	}

	if req.TopK > 0 && len(resp.Results) > req.TopK {
		resp.Results = resp.Results[:req.TopK]
	}
	return nil
}

func (m *Mediator) runPipeline(ctx context.Context, req Request, resp *Response) error {
	queryIntent, err := m.extractor.Extract(ctx, intent.Input{
		Text: req.Text, Images: req.Images, Language: req.Language,
	})
	if err != nil {
		if !errors.Is(err, intent.ErrExtractionFailed) {
			return err
		}
		slog.Warn("Intent extraction failed, using raw-text fallback", "error", err)
		queryIntent = intent.FallbackIntent(req.Text)
		resp.Flags = append(resp.Flags, "intent_fallback")
	}
	resp.Intent = queryIntent

	candidates, attempts, err := m.searcher.Retrieve(ctx, queryIntent, 0)
	resp.SQLQueries = append(resp.SQLQueries, attempts...)
	if err != nil {
		return err
	}

	results, err := m.ranker.Rank(ctx, queryIntent, candidates, req.TopK)
	if err != nil {
		return err
	}
	resp.Results = results
	return nil
}

// logQuery writes the audit record. Failures are logged, never surfaced.
func (m *Mediator) logQuery(req Request, resp *Response) {
	if m.store == nil {
		return
	}

	// Image payloads can be huge data URLs; log references only.
	imageRefs := make([]string, len(req.Images))
	for i, img := range req.Images {
		if len(img) > 120 {
			imageRefs[i] = img[:120] + "…"
		} else {
			imageRefs[i] = img
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.store.LogQuery(ctx, &model.QueryLogRecord{
		RequestID:       resp.RequestID,
		UserText:        req.Text,
		UserImages:      imageRefs,
		Intent:          resp.Intent,
		SQLQueries:      resp.SQLQueries,
		ToolCalls:       resp.ToolCalls,
		Results:         resp.Results,
		ExecutionTimeMs: resp.ElapsedMs,
	})
	if err != nil {
		slog.Warn("Query log write failed", "request_id", resp.RequestID, "error", err)
	}
}
