// Package retrieval turns query intents into viewpoint candidates. A small set
// of fixed SQL primitives covers the common shapes; a gated model-synthesised
// query handles the long tail; the cascade stitches them into a fallback chain.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"tourrag/pkg/config"
	"tourrag/pkg/geo"
	"tourrag/pkg/llm"
	"tourrag/pkg/model"
	"tourrag/pkg/store"
	"tourrag/pkg/tagschema"
)

// Envelope is the result of one retrieval attempt: the candidates plus the
// exact SQL and parameters that produced them.
type Envelope struct {
	Candidates []model.Candidate
	SQL        string
	Params     []any
	Warning    string
}

// Searcher executes retrieval primitives against the viewpoint corpus.
type Searcher struct {
	store    store.CandidateQuerier
	registry *tagschema.Registry
	provider llm.Provider // nil disables model-synthesised SQL
	cfg      config.RetrievalConfig
}

// NewSearcher creates a searcher. provider may be nil when model-synthesised
// SQL is disabled.
func NewSearcher(st store.CandidateQuerier, reg *tagschema.Registry, provider llm.Provider, cfg config.RetrievalConfig) *Searcher {
	return &Searcher{store: st, registry: reg, provider: provider, cfg: cfg}
}

const candidateColumns = `e.viewpoint_id, e.name_primary, e.name_variants, e.category_norm, e.lat, e.lon, e.popularity`

// SearchByName matches candidate names against primary names and stored name
// variants, case-insensitively. Primary matches score 1.0, variant matches 0.5.
func (s *Searcher) SearchByName(ctx context.Context, names []string, limit int) (*Envelope, error) {
	names = nonEmpty(names)
	if len(names) == 0 {
		return &Envelope{}, nil
	}
	limit = s.clampLimit(limit)

	var primary, either []string
	var primaryArgs, eitherArgs []any
	for _, name := range names {
		pattern := "%" + strings.ToLower(name) + "%"
		primary = append(primary, "LOWER(e.name_primary) LIKE ?")
		primaryArgs = append(primaryArgs, pattern)
		either = append(either, "(LOWER(e.name_primary) LIKE ? OR LOWER(e.name_variants) LIKE ?)")
		eitherArgs = append(eitherArgs, pattern, pattern)
	}

	var b builder
	b.write("SELECT " + candidateColumns + ",\n")
	b.bind("       CASE WHEN "+orGroup(primary)+" THEN 1.0 ELSE 0.5 END AS name_score\n", primaryArgs...)
	b.write("FROM viewpoint_entity e\n")
	b.bind("WHERE "+orGroup(either)+"\n", eitherArgs...)
	b.bind("ORDER BY name_score DESC, e.popularity DESC\nLIMIT ?", limit)

	return s.run(ctx, &b, "")
}

// SearchByCategory matches normalised categories, optionally restricted to a
// country. When the country filter yields nothing the query silently retries
// without it and reports a warning.
func (s *Searcher) SearchByCategory(ctx context.Context, categories []string, country string, limit int) (*Envelope, error) {
	categories = nonEmpty(categories)
	if len(categories) == 0 {
		return &Envelope{}, nil
	}
	limit = s.clampLimit(limit)

	env, err := s.categoryQuery(ctx, categories, country, limit)
	if err != nil {
		return nil, err
	}
	if len(env.Candidates) == 0 && country != "" {
		retry, err := s.categoryQuery(ctx, categories, "", limit)
		if err != nil {
			return nil, err
		}
		retry.Warning = fmt.Sprintf("no results in country %q, filter dropped", country)
		return retry, nil
	}
	return env, nil
}

func (s *Searcher) categoryQuery(ctx context.Context, categories []string, country string, limit int) (*Envelope, error) {
	catArgs := make([]any, len(categories))
	for i, c := range categories {
		catArgs[i] = c
	}

	var b builder
	b.write("SELECT " + candidateColumns + ", 1.0 AS category_score\n")
	b.write("FROM viewpoint_entity e\n")
	b.bind("WHERE e.category_norm IN ("+placeholderList(len(categories))+")\n", catArgs...)

	if country != "" {
		var clauses []string
		var args []any
		for _, variant := range countrySpellings(country) {
			clauses = append(clauses, "e.admin_regions LIKE ?")
			args = append(args, "%"+variant+"%")
		}
		b.bind("  AND "+orGroup(clauses)+"\n", args...)
	}

	b.bind("ORDER BY e.popularity DESC\nLIMIT ?", limit)
	return s.run(ctx, &b, "")
}

// SearchByTags finds viewpoints whose stored visual tag sets contain any of
// the requested tags, optionally for a season.
func (s *Searcher) SearchByTags(ctx context.Context, tags []string, season string, limit int) (*Envelope, error) {
	tags = nonEmpty(tags)
	if len(tags) == 0 {
		return &Envelope{}, nil
	}
	limit = s.clampLimit(limit)

	var clauses []string
	var args []any
	for _, tag := range tags {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(vt.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}

	var b builder
	b.write("SELECT DISTINCT " + candidateColumns + "\n")
	b.write("FROM viewpoint_entity e\n")
	b.write("JOIN viewpoint_visual_tags vt ON vt.viewpoint_id = e.viewpoint_id\n")
	b.bind("WHERE "+orGroup(clauses)+"\n", args...)
	if season != "" && season != model.SeasonUnknown {
		b.bind("  AND vt.season = ?\n", season)
	}
	b.bind("ORDER BY e.popularity DESC\nLIMIT ?", limit)

	return s.run(ctx, &b, "")
}

// SearchByHistoryTerms matches terms against stored encyclopedia extracts.
func (s *Searcher) SearchByHistoryTerms(ctx context.Context, terms []string, limit int) (*Envelope, error) {
	terms = nonEmpty(terms)
	if len(terms) == 0 {
		return &Envelope{}, nil
	}
	limit = s.clampLimit(limit)

	var clauses []string
	var args []any
	for _, term := range terms {
		clauses = append(clauses, "LOWER(w.extract_text) LIKE ?")
		args = append(args, "%"+strings.ToLower(term)+"%")
	}

	var b builder
	b.write("SELECT " + candidateColumns + "\n")
	b.write("FROM viewpoint_entity e\n")
	b.write("JOIN viewpoint_wiki w ON w.viewpoint_id = e.viewpoint_id\n")
	b.bind("WHERE "+orGroup(clauses)+"\n", args...)
	b.bind("ORDER BY e.popularity DESC\nLIMIT ?", limit)

	return s.run(ctx, &b, "")
}

// SearchPopular returns the most popular viewpoints outright.
func (s *Searcher) SearchPopular(ctx context.Context, limit int) (*Envelope, error) {
	limit = s.clampLimit(limit)

	var b builder
	b.write("SELECT " + candidateColumns + "\n")
	b.write("FROM viewpoint_entity e\n")
	b.write("WHERE e.popularity IS NOT NULL\n")
	b.bind("ORDER BY e.popularity DESC\nLIMIT ?", limit)

	return s.run(ctx, &b, "")
}

func (s *Searcher) run(ctx context.Context, b *builder, warning string) (*Envelope, error) {
	sqlText := b.String()
	candidates, err := s.store.RunCandidateQuery(ctx, sqlText, b.params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Candidates: candidates, SQL: sqlText, Params: b.params, Warning: warning}, nil
}

func (s *Searcher) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	return limit
}

// countrySpellings expands a country hint into every spelling that may appear
// in stored admin regions: the canonical tag plus its corpus variants. A name
// the alias tables don't know is used verbatim so the filter never degrades
// into a match-everything pattern.
func countrySpellings(country string) []string {
	canonical := geo.CanonicalCountry(country)
	if canonical == "" {
		return []string{strings.TrimSpace(country)}
	}
	return append([]string{canonical}, geo.CountryVariants(canonical)...)
}

func placeholderList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
