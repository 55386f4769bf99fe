package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"tourrag/pkg/model"
)

// visualCategoryHints maps visual tags onto the category they most often
// imply, used when an intent carries no category tag of its own.
var visualCategoryHints = map[string]string{
	"snow_peak":       "mountain",
	"snowy":           "mountain",
	"ice":             "mountain",
	"clear_water":     "lake",
	"reflection":      "lake",
	"lush_vegetation": "valley",
	"cherry_blossom":  "park",
	"autumn_foliage":  "park",
}

// Retrieve is the composite entry point: the model-synthesised query runs
// first when enabled, and the deterministic cascade covers everything it
// misses or gets rejected for. A rejected query is recorded as an attempt with
// its warning so the caller can surface it.
func (s *Searcher) Retrieve(ctx context.Context, intent *model.QueryIntent, limit int) ([]model.Candidate, []model.SQLAttempt, error) {
	var attempts []model.SQLAttempt

	env, err := s.SearchWithLLMSQL(ctx, intent, limit)
	switch {
	case errors.Is(err, ErrUnsafeSQL):
		slog.Warn("Model-synthesised query rejected, falling back", "error", err)
		attempts = append(attempts, model.SQLAttempt{
			Source:  "llm_sql",
			Warning: err.Error(),
		})
	case err != nil:
		// Synthesis failures (provider down, malformed response) must not
		// sink the request either.
		slog.Warn("Model-synthesised query skipped", "error", err)
	case env.SQL != "":
		attempts = append(attempts, model.SQLAttempt{
			Source: "llm_sql",
			SQL:    env.SQL,
			Params: env.Params,
			Rows:   len(env.Candidates),
		})
		if len(env.Candidates) > 0 {
			return env.Candidates, attempts, nil
		}
	}

	candidates, cascadeAttempts, err := s.Cascade(ctx, intent, limit)
	attempts = append(attempts, cascadeAttempts...)
	return candidates, attempts, err
}

// Cascade runs the deterministic fallback chain for an intent: exact name,
// category with country, category alone, visual tags with season, then a
// prefix-name pass. The first stage with results wins; every attempt's SQL is
// recorded for the audit log. The chain is identical for identical inputs on
// the same corpus.
func (s *Searcher) Cascade(ctx context.Context, intent *model.QueryIntent, limit int) ([]model.Candidate, []model.SQLAttempt, error) {
	limit = s.clampLimit(limit)
	var attempts []model.SQLAttempt

	record := func(source string, env *Envelope) []model.Candidate {
		if env == nil || env.SQL == "" {
			return nil
		}
		attempts = append(attempts, model.SQLAttempt{
			Source:  source,
			SQL:     env.SQL,
			Params:  env.Params,
			Warning: env.Warning,
			Rows:    len(env.Candidates),
		})
		return env.Candidates
	}

	// Stage 1: name match.
	env, err := s.SearchByName(ctx, intent.NameCandidates, limit)
	if err != nil {
		return nil, attempts, err
	}
	if c := record("search_by_name", env); len(c) > 0 {
		return c, attempts, nil
	}

	// Stage 2: category, first with the country filter, then without.
	categories := s.intentCategories(intent)
	if len(categories) > 0 {
		env, err = s.SearchByCategory(ctx, categories, intent.GeoHints.Country, limit)
		if err != nil {
			return nil, attempts, err
		}
		if c := record("search_by_category", env); len(c) > 0 {
			return c, attempts, nil
		}
	}

	// Stage 3: visual tags with the season hint.
	visualTags := s.intentVisualTags(intent)
	if len(visualTags) > 0 {
		env, err = s.SearchByTags(ctx, visualTags, intent.SeasonHint, limit)
		if err != nil {
			return nil, attempts, err
		}
		if c := record("search_by_tags", env); len(c) > 0 {
			return c, attempts, nil
		}
	}

	// Stage 4: prefix name match as a weak last pass over the corpus.
	prefixes := prefixTerms(intent.NameCandidates)
	if len(prefixes) > 0 {
		env, err = s.SearchByName(ctx, prefixes, limit)
		if err != nil {
			return nil, attempts, err
		}
		if c := record("search_by_name_prefix", env); len(c) > 0 {
			return c, attempts, nil
		}
	}

	return nil, attempts, nil
}

// intentCategories resolves the categories an intent searches for: explicit
// category tags first, visual tag hints when there are none.
func (s *Searcher) intentCategories(intent *model.QueryIntent) []string {
	var categories []string
	for _, tag := range intent.QueryTags {
		if s.registry.IsCategory(tag) {
			categories = append(categories, tag)
		}
	}
	if len(categories) > 0 {
		return categories
	}

	seen := map[string]bool{}
	for _, tag := range intent.QueryTags {
		if hint, ok := visualCategoryHints[tag]; ok && !seen[hint] {
			seen[hint] = true
			categories = append(categories, hint)
		}
	}
	return categories
}

func (s *Searcher) intentVisualTags(intent *model.QueryIntent) []string {
	var tags []string
	for _, tag := range intent.QueryTags {
		if s.registry.IsVisualTag(tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// prefixTerms derives shortened name terms (first word of multi-word names)
// for the weakest cascade stage.
func prefixTerms(names []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range nonEmpty(names) {
		fields := strings.Fields(name)
		if len(fields) < 2 {
			continue
		}
		prefix := fields[0]
		if len(prefix) >= 3 && !seen[prefix] {
			seen[prefix] = true
			out = append(out, prefix)
		}
	}
	return out
}
