package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"tourrag/pkg/model"
)

// ErrUnsafeSQL is returned when a model-synthesised query fails the safety
// gate even after repair.
var ErrUnsafeSQL = errors.New("unsafe generated sql rejected")

var forbiddenSQL = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|exec|attach|detach|pragma|vacuum|reindex|replace|grant|revoke)\b`)

type sqlResponse struct {
	SQL string `json:"sql"`
}

// SearchWithLLMSQL asks the model to synthesise one SELECT over the corpus
// schema and executes it with pre-materialised parameters. The query never
// carries user values inline: the model only decides the shape, the parameters
// are bound positionally in a fixed order. A query that fails the gate gets one
// repair round before ErrUnsafeSQL.
func (s *Searcher) SearchWithLLMSQL(ctx context.Context, intent *model.QueryIntent, limit int) (*Envelope, error) {
	if s.provider == nil || !s.cfg.LLMSQLEnabled {
		return &Envelope{}, nil
	}
	limit = s.clampLimit(limit)

	params, manifest := s.materialiseParams(intent, limit)
	if len(params) == 1 {
		// Only the limit is bound, nothing to search for.
		return &Envelope{}, nil
	}

	prompt := s.sqlPrompt(intent, manifest)
	var lastErr error
	for attempt := 0; attempt <= s.cfg.SQLRepairMax; attempt++ {
		if attempt > 0 {
			prompt += fmt.Sprintf("\n\nYour previous query was rejected: %v. Produce a corrected query.", lastErr)
		}

		var resp sqlResponse
		if err := s.provider.GenerateJSON(ctx, "sql", prompt, &resp); err != nil {
			return nil, fmt.Errorf("sql synthesis failed: %w", err)
		}

		sqlText, err := vetSQL(resp.SQL, len(params))
		if err != nil {
			lastErr = err
			slog.Warn("Generated SQL rejected", "attempt", attempt, "error", err)
			continue
		}

		candidates, err := s.store.RunCandidateQuery(ctx, sqlText, params)
		if err != nil {
			lastErr = err
			slog.Warn("Generated SQL failed to execute", "attempt", attempt, "error", err)
			continue
		}
		return &Envelope{Candidates: candidates, SQL: sqlText, Params: params}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnsafeSQL, lastErr)
}

// vetSQL enforces the safety gate: single SELECT statement, no DML/DDL
// keywords, placeholder count equal to the bound parameter count.
func vetSQL(raw string, paramCount int) (string, error) {
	sqlText := stripFences(raw)
	sqlText = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if sqlText == "" {
		return "", errors.New("empty query")
	}
	if !strings.HasPrefix(strings.ToUpper(sqlText), "SELECT") {
		return "", errors.New("query must start with SELECT")
	}
	if strings.Contains(sqlText, ";") {
		return "", errors.New("multiple statements are not allowed")
	}
	if m := forbiddenSQL.FindString(sqlText); m != "" {
		return "", fmt.Errorf("forbidden keyword %q", strings.ToLower(m))
	}
	if n := countPlaceholders(sqlText); n != paramCount {
		return "", fmt.Errorf("query has %d placeholders, %d parameters are bound", n, paramCount)
	}
	return sqlText, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// materialiseParams binds intent values in a fixed order: name patterns,
// categories, visual tags as a JSON array, scene terms, country variants,
// season, limit. The manifest describes each position for the prompt.
func (s *Searcher) materialiseParams(intent *model.QueryIntent, limit int) ([]any, []string) {
	var params []any
	var manifest []string

	add := func(desc string, v any) {
		params = append(params, v)
		manifest = append(manifest, fmt.Sprintf("?%d — %s", len(params), desc))
	}

	for _, name := range nonEmpty(intent.NameCandidates) {
		add(fmt.Sprintf("name pattern for %q (use with LIKE on name_primary or name_variants)", name),
			"%"+strings.ToLower(name)+"%")
	}

	var visualTags []string
	for _, tag := range intent.QueryTags {
		if s.registry.IsCategory(tag) {
			add(fmt.Sprintf("category %q (use with category_norm)", tag), tag)
		} else {
			visualTags = append(visualTags, tag)
		}
	}
	if len(visualTags) > 0 {
		encoded, _ := json.Marshal(visualTags)
		add(fmt.Sprintf("JSON array of visual tags %v (use with json_each(?))", visualTags), string(encoded))
	}
	for _, scene := range intent.SceneHints {
		add(fmt.Sprintf("scene tag %q (use with json_each on viewpoint_visual_tags.tags)", scene), scene)
	}
	if intent.GeoHints.Country != "" {
		for _, variant := range countrySpellings(intent.GeoHints.Country) {
			add(fmt.Sprintf("country spelling pattern %q (use with LIKE on admin_regions)", variant),
				"%"+variant+"%")
		}
	}
	if intent.SeasonHint != "" && intent.SeasonHint != model.SeasonUnknown {
		add(fmt.Sprintf("season %q (use with viewpoint_visual_tags.season)", intent.SeasonHint), intent.SeasonHint)
	}
	add("result limit (use with LIMIT)", limit)

	return params, manifest
}

func (s *Searcher) sqlPrompt(intent *model.QueryIntent, manifest []string) string {
	var b strings.Builder
	b.WriteString(`You write a single SQLite SELECT query over a tourist viewpoint corpus.

Schema:
  viewpoint_entity(viewpoint_id, name_primary, name_variants /*JSON array*/, category_norm,
                   category_osm, lat, lon, h3_cell, admin_regions /*JSON object*/, popularity)
  viewpoint_visual_tags(viewpoint_id, season, tag_source, tags /*JSON array*/, confidence)
  viewpoint_wiki(viewpoint_id, wikipedia_title, wikipedia_lang, extract_text)

Rules:
- Respond with JSON: {"sql": "SELECT ..."}
- Exactly one SELECT statement. No writes, no PRAGMA, no subqueries that modify data.
- Select at least: viewpoint_id, name_primary, category_norm, lat, lon, popularity.
- Never inline user values. Use every positional '?' parameter below exactly once, in order:
`)
	for _, m := range manifest {
		b.WriteString("  " + m + "\n")
	}
	b.WriteString("\nUser intent:\n")
	encoded, _ := json.Marshal(intent)
	b.Write(encoded)
	return b.String()
}
