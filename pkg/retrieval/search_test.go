package retrieval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourrag/pkg/config"
	"tourrag/pkg/db"
	"tourrag/pkg/llm"
	"tourrag/pkg/model"
	"tourrag/pkg/store"
	"tourrag/pkg/tagschema"
)

type scriptedSQLProvider struct {
	responses []string
	calls     int
}

func (p *scriptedSQLProvider) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	resp := p.responses[p.calls]
	if p.calls < len(p.responses)-1 {
		p.calls++
	}
	return json.Unmarshal([]byte(resp), target)
}

func (p *scriptedSQLProvider) GenerateVisionJSON(ctx context.Context, name, system string, parts []llm.Part, target any) error {
	return p.GenerateJSON(ctx, name, "", target)
}

func (p *scriptedSQLProvider) HasProfile(name string) bool { return true }

func testRegistry(t *testing.T) *tagschema.Registry {
	t.Helper()
	dir := t.TempDir()
	schema := `{
		"version": "v1.0.0",
		"categories": {"mountain": "peaks", "lake": "lakes", "glacier": "ice fields"},
		"visual_tags": {"snow_peak": "snow-capped summit", "clear_water": "transparent water", "reflection": "mirror surface"},
		"scene_tags": {"sunrise": "dawn light"},
		"countries": {"japan": "Japan", "switzerland": "Switzerland"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tag_schema_v1.0.0.json"), []byte(schema), 0o644))
	reg, err := tagschema.Load(dir, "v1.0.0")
	require.NoError(t, err)
	return reg
}

func newTestSearcher(t *testing.T, provider llm.Provider) (*Searcher, *store.SQLiteStore) {
	t.Helper()
	database, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	st := store.NewSQLiteStore(database)
	cfg := config.DefaultConfig().Retrieval
	return NewSearcher(st, testRegistry(t), provider, cfg), st
}

func seedCorpus(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	type row struct {
		id       int64
		name     string
		variants []string
		category string
		country  string
		lat, lon float64
		pop      float64
	}
	for _, r := range []row{
		{1, "Mount Fuji", []string{"富士山", "Fujisan"}, "mountain", "japan", 35.3606, 138.7274, 0.95},
		{2, "Matterhorn", []string{"Monte Cervino"}, "mountain", "switzerland", 45.9763, 7.6586, 0.90},
		{3, "Lake Bled", nil, "lake", "slovenia", 46.3625, 14.0936, 0.70},
	} {
		pop := r.pop
		require.NoError(t, st.SaveViewpoint(ctx, &model.Viewpoint{
			ID: r.id, NamePrimary: r.name, NameVariants: r.variants,
			CategoryNorm: r.category, Lat: r.lat, Lon: r.lon, Popularity: &pop,
			AdminRegions: map[string]string{"country": r.country},
		}))
	}

	require.NoError(t, st.SaveVisualTags(ctx, &model.VisualTagRecord{
		ViewpointID: 1, Season: model.SeasonWinter, Source: "vision_model",
		Tags: []string{"snow_peak", "reflection"}, Confidence: 0.9,
	}))
	require.NoError(t, st.SaveVisualTags(ctx, &model.VisualTagRecord{
		ViewpointID: 3, Season: model.SeasonSummer, Source: "vision_model",
		Tags: []string{"clear_water", "reflection"}, Confidence: 0.8,
	}))
	require.NoError(t, st.SaveWiki(ctx, &model.WikiEntry{
		ViewpointID: 2, Title: "Matterhorn",
		Extract: "First climbed in 1865 by Edward Whymper's party.",
	}))
}

func TestSearchByName(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)
	ctx := context.Background()

	env, err := s.SearchByName(ctx, []string{"fuji"}, 10)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 1)
	assert.Equal(t, int64(1), env.Candidates[0].ViewpointID)
	assert.InDelta(t, 1.0, env.Candidates[0].NameScore, 0.001)
	assert.NotEmpty(t, env.SQL)

	// Variant-only match scores lower.
	env, err = s.SearchByName(ctx, []string{"cervino"}, 10)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 1)
	assert.Equal(t, int64(2), env.Candidates[0].ViewpointID)
	assert.InDelta(t, 0.5, env.Candidates[0].NameScore, 0.001)

	// No input, no query.
	env, err = s.SearchByName(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, env.Candidates)
	assert.Empty(t, env.SQL)
}

func TestSearchByCategoryCountryFallback(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)
	ctx := context.Background()

	env, err := s.SearchByCategory(ctx, []string{"mountain"}, "japan", 10)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 1)
	assert.Equal(t, int64(1), env.Candidates[0].ViewpointID)
	assert.Empty(t, env.Warning)

	// No mountains in Iceland: the country filter is dropped with a warning.
	env, err = s.SearchByCategory(ctx, []string{"mountain"}, "iceland", 10)
	require.NoError(t, err)
	assert.Len(t, env.Candidates, 2)
	assert.Contains(t, env.Warning, "iceland")

	// A country the alias tables don't know still filters by its raw name
	// instead of degrading into a match-everything pattern.
	env, err = s.SearchByCategory(ctx, []string{"lake"}, "Mongolia", 10)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 1)
	assert.Equal(t, int64(3), env.Candidates[0].ViewpointID)
	assert.Contains(t, env.Warning, "Mongolia")
}

func TestCountrySpellingsUnknownCountry(t *testing.T) {
	assert.Equal(t, []string{"Mongolia"}, countrySpellings(" Mongolia "))
	assert.NotContains(t, countrySpellings("Mongolia"), "")
}

func TestSearchByTags(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)
	ctx := context.Background()

	// The season filter still restricts tag matches.
	env, err := s.SearchByTags(ctx, []string{"snow_peak", "reflection"}, model.SeasonWinter, 10)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 1)
	assert.Equal(t, int64(1), env.Candidates[0].ViewpointID)

	// Unknown season searches across all seasons.
	env, err = s.SearchByTags(ctx, []string{"reflection"}, model.SeasonUnknown, 10)
	require.NoError(t, err)
	assert.Len(t, env.Candidates, 2)

	// Any one matching tag qualifies; no record carries both.
	env, err = s.SearchByTags(ctx, []string{"snow_peak", "clear_water"}, model.SeasonUnknown, 10)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 2)

	// Wrong season excludes the record.
	env, err = s.SearchByTags(ctx, []string{"snow_peak"}, model.SeasonSummer, 10)
	require.NoError(t, err)
	assert.Empty(t, env.Candidates)
}

func TestSearchByHistoryTerms(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	env, err := s.SearchByHistoryTerms(context.Background(), []string{"whymper"}, 10)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 1)
	assert.Equal(t, int64(2), env.Candidates[0].ViewpointID)
}

func TestSearchPopular(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	env, err := s.SearchPopular(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, env.Candidates, 2)
	assert.Equal(t, int64(1), env.Candidates[0].ViewpointID, "most popular first")
	assert.Equal(t, int64(2), env.Candidates[1].ViewpointID)
}
