// Package agent drives the tool-calling retrieval loop: the model plans which
// retrieval primitives to call, the toolbox executes them, and the resulting
// candidate set is ranked before the answer goes back to the caller.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tourrag/pkg/config"
	"tourrag/pkg/llm"
	"tourrag/pkg/model"
)

// FlagMaxIterations marks a run that hit the iteration cap before the model
// produced a final answer.
const FlagMaxIterations = "max_iterations_reached"

// ToolTrace is one audited tool invocation.
type ToolTrace struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// Result is the outcome of one agent run.
type Result struct {
	Intent     *model.QueryIntent      `json:"query_intent,omitempty"`
	Results    []model.ViewpointResult `json:"results"`
	Answer     string                  `json:"answer,omitempty"`
	SQLLog     []model.SQLAttempt      `json:"sql_queries,omitempty"`
	Trace      []ToolTrace             `json:"tool_calls,omitempty"`
	Iterations int                     `json:"iterations"`
	Error      string                  `json:"error,omitempty"`
	Flags      []string                `json:"flags,omitempty"`
}

// Agent runs the tool-calling loop against a ToolChatter provider.
type Agent struct {
	chatter llm.ToolChatter
	toolbox *Toolbox
	cfg     config.AgentConfig
}

// New creates an agent.
func New(chatter llm.ToolChatter, toolbox *Toolbox, cfg config.AgentConfig) *Agent {
	return &Agent{chatter: chatter, toolbox: toolbox, cfg: cfg}
}

const agentSystemPrompt = `You are a retrieval planner for a tourist viewpoint corpus. Answer the user's query by calling tools:
1. Always call extract_query_intent first.
2. Search with the most specific primitive the intent supports: names before categories before visual tags. Try broader primitives when a search returns nothing.
3. When you have candidates, call rank_and_explain_results and then give a short final answer naming the top viewpoints.
Never invent viewpoints; only report what the tools returned.`

// Run executes the loop for one user query.
func (a *Agent) Run(ctx context.Context, text string, images []string) (*Result, error) {
	if d := time.Duration(a.cfg.Timeout); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sess := &session{userText: text, userImages: images}
	res := &Result{}

	messages := []llm.ChatMessage{
		{Role: "system", Content: agentSystemPrompt},
		{Role: "user", Content: text},
	}

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return a.finish(ctx, sess, res, fmt.Sprintf("deadline: %v", err))
		}

		reply, err := a.chatter.ChatWithTools(ctx, "agent", messages, toolCatalogue(), a.cfg.Temperature)
		if err != nil {
			return nil, fmt.Errorf("agent chat failed: %w", err)
		}
		messages = append(messages, reply)
		res.Iterations = iteration + 1

		if len(reply.ToolCalls) == 0 {
			res.Answer = reply.Content
			return a.finish(ctx, sess, res, "")
		}

		for _, call := range reply.ToolCalls {
			messages = append(messages, a.execute(ctx, sess, res, call))
		}
	}

	slog.Warn("Agent hit iteration cap", "max_iterations", a.cfg.MaxIterations)
	res.Error = FlagMaxIterations
	return a.finish(ctx, sess, res, "")
}

// execute runs one tool call, records its trace, and builds the tool reply
// message. Tool errors are reported to the model rather than aborting the run.
func (a *Agent) execute(ctx context.Context, sess *session, res *Result, call llm.ToolCall) llm.ChatMessage {
	start := time.Now()
	output, err := a.toolbox.dispatch(ctx, sess, call)

	trace := ToolTrace{
		Tool:      call.Name,
		Arguments: call.Arguments,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		trace.Error = err.Error()
		output = fmt.Sprintf(`{"error": %q}`, err.Error())
		slog.Warn("Tool call failed", "tool", call.Name, "error", err)
	}

	output = llm.TruncateBytes(output, a.cfg.MaxToolOutputBytes)
	trace.Output = output
	res.Trace = append(res.Trace, trace)

	return llm.ChatMessage{Role: "tool", ToolCallID: call.ID, Content: output}
}

// finish reconciles the session state into the result: ranked results when
// the model produced them, a rank over the raw candidates otherwise.
func (a *Agent) finish(ctx context.Context, sess *session, res *Result, note string) (*Result, error) {
	res.Intent = sess.intent
	res.SQLLog = sess.sqlLog
	if note != "" {
		res.Flags = append(res.Flags, note)
	}

	switch {
	case sess.ranked != nil:
		res.Results = sess.ranked
	case len(sess.candidates) > 0:
		// Rank on a fresh context so a hit deadline doesn't lose the run.
		rctx := ctx
		if rctx.Err() != nil {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
		}
		queryIntent := sess.intent
		if queryIntent == nil {
			queryIntent = &model.QueryIntent{RawText: sess.userText}
		}
		ranked, err := a.toolbox.Ranker.Rank(rctx, queryIntent, sess.candidates, 0)
		if err != nil {
			return nil, err
		}
		res.Results = ranked
	default:
		res.Results = []model.ViewpointResult{}
	}
	return res, nil
}
