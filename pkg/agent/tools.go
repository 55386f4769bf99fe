package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"tourrag/pkg/enrich"
	"tourrag/pkg/intent"
	"tourrag/pkg/llm"
	"tourrag/pkg/model"
	"tourrag/pkg/rank"
	"tourrag/pkg/retrieval"
)

// Toolbox binds the retrieval pipeline's stages to the agent's callable tools.
type Toolbox struct {
	Extractor *intent.Extractor
	Searcher  *retrieval.Searcher
	Enricher  *enrich.Enricher
	Ranker    *rank.Ranker
}

// session is the per-run working state the tools share: the latest extracted
// intent, the latest candidate set, and everything worth auditing.
type session struct {
	userText   string
	userImages []string

	intent     *model.QueryIntent
	candidates []model.Candidate
	ranked     []model.ViewpointResult
	sqlLog     []model.SQLAttempt
}

func toolCatalogue() []llm.Tool {
	object := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	return []llm.Tool{
		{
			Name:        "extract_query_intent",
			Description: "Interpret the user's text and images into a structured intent with schema-bound tags. Call this first.",
			Parameters:  object(map[string]any{}),
		},
		{
			Name:        "search_by_name",
			Description: "Find viewpoints whose primary name or name variants match the given names.",
			Parameters: object(map[string]any{
				"names": stringArray,
				"limit": map[string]any{"type": "integer"},
			}, "names"),
		},
		{
			Name:        "search_by_category",
			Description: "Find viewpoints by normalised category, optionally restricted to a country.",
			Parameters: object(map[string]any{
				"categories": stringArray,
				"country":    map[string]any{"type": "string"},
				"limit":      map[string]any{"type": "integer"},
			}, "categories"),
		},
		{
			Name:        "search_by_tags",
			Description: "Find viewpoints whose stored visual tags contain every given tag, optionally for a season.",
			Parameters: object(map[string]any{
				"tags":   stringArray,
				"season": map[string]any{"type": "string", "enum": []string{"spring", "summer", "autumn", "winter", "unknown"}},
				"limit":  map[string]any{"type": "integer"},
			}, "tags"),
		},
		{
			Name:        "search_popular",
			Description: "Return the most popular viewpoints. Use when nothing else matched.",
			Parameters: object(map[string]any{
				"limit": map[string]any{"type": "integer"},
			}),
		},
		{
			Name:        "get_viewpoint_details",
			Description: "Fetch the full knowledge bundle (wiki, tags, assets, nearby) for one viewpoint.",
			Parameters: object(map[string]any{
				"viewpoint_id": map[string]any{"type": "integer"},
			}, "viewpoint_id"),
		},
		{
			Name:        "rank_and_explain_results",
			Description: "Score and explain the current candidate set against the extracted intent. Call this last.",
			Parameters: object(map[string]any{
				"top_k": map[string]any{"type": "integer"},
			}),
		},
	}
}

// dispatch executes one tool call against the session, returning the JSON
// payload handed back to the model.
func (t *Toolbox) dispatch(ctx context.Context, sess *session, call llm.ToolCall) (string, error) {
	switch call.Name {
	case "extract_query_intent":
		extracted, err := t.Extractor.Extract(ctx, intent.Input{Text: sess.userText, Images: sess.userImages})
		if err != nil {
			extracted = intent.FallbackIntent(sess.userText)
		}
		sess.intent = extracted
		return encode(extracted)

	case "search_by_name":
		var args struct {
			Names []string `json:"names"`
			Limit int      `json:"limit"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
		env, err := t.Searcher.SearchByName(ctx, args.Names, args.Limit)
		return sess.recordSearch(call.Name, env, err)

	case "search_by_category":
		var args struct {
			Categories []string `json:"categories"`
			Country    string   `json:"country"`
			Limit      int      `json:"limit"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
		env, err := t.Searcher.SearchByCategory(ctx, args.Categories, args.Country, args.Limit)
		return sess.recordSearch(call.Name, env, err)

	case "search_by_tags":
		var args struct {
			Tags   []string `json:"tags"`
			Season string   `json:"season"`
			Limit  int      `json:"limit"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
		env, err := t.Searcher.SearchByTags(ctx, args.Tags, args.Season, args.Limit)
		return sess.recordSearch(call.Name, env, err)

	case "search_popular":
		var args struct {
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
		env, err := t.Searcher.SearchPopular(ctx, args.Limit)
		return sess.recordSearch(call.Name, env, err)

	case "get_viewpoint_details":
		var args struct {
			ViewpointID int64 `json:"viewpoint_id"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
		bundle, err := t.Enricher.Bundle(ctx, args.ViewpointID)
		if err != nil {
			return "", err
		}
		if bundle == nil {
			return `{"error": "viewpoint not found"}`, nil
		}
		return encode(bundle)

	case "rank_and_explain_results":
		var args struct {
			TopK int `json:"top_k"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
		queryIntent := sess.intent
		if queryIntent == nil {
			queryIntent = intent.FallbackIntent(sess.userText)
			sess.intent = queryIntent
		}
		ranked, err := t.Ranker.Rank(ctx, queryIntent, sess.candidates, args.TopK)
		if err != nil {
			return "", err
		}
		sess.ranked = ranked
		return encode(ranked)

	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

// recordSearch stores a search envelope on the session and serialises the
// candidates for the model.
func (s *session) recordSearch(source string, env *retrieval.Envelope, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if env.SQL != "" {
		s.sqlLog = append(s.sqlLog, model.SQLAttempt{
			Source:  source,
			SQL:     env.SQL,
			Params:  env.Params,
			Warning: env.Warning,
			Rows:    len(env.Candidates),
		})
	}
	if len(env.Candidates) > 0 {
		s.candidates = env.Candidates
	}

	payload := map[string]any{
		"count":      len(env.Candidates),
		"candidates": env.Candidates,
	}
	if env.Warning != "" {
		payload["warning"] = env.Warning
	}
	return encode(payload)
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
