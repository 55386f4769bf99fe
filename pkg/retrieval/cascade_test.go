package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourrag/pkg/model"
)

func TestCascadeNameWins(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	intent := &model.QueryIntent{
		NameCandidates: []string{"fuji"},
		QueryTags:      []string{"mountain"},
	}
	candidates, attempts, err := s.Cascade(context.Background(), intent, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(1), candidates[0].ViewpointID)

	require.Len(t, attempts, 1, "later stages must not run once a stage hits")
	assert.Equal(t, "search_by_name", attempts[0].Source)
	assert.Equal(t, 1, attempts[0].Rows)
}

func TestCascadeFallsThroughToCategory(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	intent := &model.QueryIntent{
		NameCandidates: []string{"zzz_nonexistent"},
		QueryTags:      []string{"lake"},
	}
	candidates, attempts, err := s.Cascade(context.Background(), intent, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(3), candidates[0].ViewpointID)

	require.Len(t, attempts, 2)
	assert.Equal(t, "search_by_name", attempts[0].Source)
	assert.Equal(t, 0, attempts[0].Rows)
	assert.Equal(t, "search_by_category", attempts[1].Source)
}

func TestCascadeVisualTagHintsCategory(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	// snow_peak carries no category tag but hints at mountains.
	intent := &model.QueryIntent{QueryTags: []string{"snow_peak"}}
	candidates, attempts, err := s.Cascade(context.Background(), intent, 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "mountain", candidates[0].CategoryNorm)
	assert.Equal(t, "search_by_category", attempts[len(attempts)-1].Source)
}

func TestCascadeTagsStage(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)
	ctx := context.Background()

	// With the only lake gone, "reflection" hints at a category with no rows,
	// so the cascade falls through to the tag containment stage.
	require.NoError(t, st.DeleteViewpoint(ctx, 3))

	intent := &model.QueryIntent{
		QueryTags:  []string{"reflection"},
		SeasonHint: model.SeasonWinter,
	}
	candidates, attempts, err := s.Cascade(ctx, intent, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(1), candidates[0].ViewpointID)

	var sources []string
	for _, a := range attempts {
		sources = append(sources, a.Source)
	}
	assert.Contains(t, sources, "search_by_tags")
}

func TestCascadeNoResults(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	intent := &model.QueryIntent{NameCandidates: []string{"atlantis"}}
	candidates, attempts, err := s.Cascade(context.Background(), intent, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.NotEmpty(t, attempts, "failed attempts are still recorded")
}

func TestCascadePrefixStage(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	// "Matterhorn Nordwand" matches nothing as a whole; the prefix stage
	// finds the Matterhorn via its first word.
	intent := &model.QueryIntent{NameCandidates: []string{"Matterhorn Nordwand"}}
	candidates, attempts, err := s.Cascade(context.Background(), intent, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(2), candidates[0].ViewpointID)
	assert.Equal(t, "search_by_name_prefix", attempts[len(attempts)-1].Source)
}

func TestRetrievePrefersModelQuery(t *testing.T) {
	provider := &scriptedSQLProvider{responses: []string{
		`{"sql": "SELECT e.viewpoint_id, e.name_primary, e.category_norm, e.lat, e.lon, e.popularity FROM viewpoint_entity e WHERE LOWER(e.name_primary) LIKE ? ORDER BY e.popularity DESC LIMIT ?"}`,
	}}
	s, st := newTestSearcher(t, provider)
	seedCorpus(t, st)

	intent := &model.QueryIntent{NameCandidates: []string{"matterhorn"}}
	candidates, attempts, err := s.Retrieve(context.Background(), intent, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(2), candidates[0].ViewpointID)

	require.Len(t, attempts, 1, "the cascade never runs when the model query hits")
	assert.Equal(t, "llm_sql", attempts[0].Source)
	assert.Equal(t, 1, attempts[0].Rows)
	assert.NotEmpty(t, attempts[0].SQL)
}

func TestRetrieveRejectedQueryFallsBackToCascade(t *testing.T) {
	// Both synthesis rounds fail the safety gate; the cascade still answers and
	// the rejection is surfaced as a warning attempt.
	provider := &scriptedSQLProvider{responses: []string{
		`{"sql": "DROP TABLE viewpoint_entity"}`,
		`{"sql": "DELETE FROM viewpoint_entity"}`,
	}}
	s, st := newTestSearcher(t, provider)
	seedCorpus(t, st)

	intent := &model.QueryIntent{NameCandidates: []string{"fuji"}}
	candidates, attempts, err := s.Retrieve(context.Background(), intent, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(1), candidates[0].ViewpointID)

	require.GreaterOrEqual(t, len(attempts), 2)
	assert.Equal(t, "llm_sql", attempts[0].Source)
	assert.NotEmpty(t, attempts[0].Warning)
	assert.Empty(t, attempts[0].SQL)
	assert.Equal(t, "search_by_name", attempts[1].Source)
}

func TestRetrieveWithoutProviderRunsCascadeOnly(t *testing.T) {
	s, st := newTestSearcher(t, nil)
	seedCorpus(t, st)

	intent := &model.QueryIntent{NameCandidates: []string{"fuji"}}
	candidates, attempts, err := s.Retrieve(context.Background(), intent, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Len(t, attempts, 1)
	assert.Equal(t, "search_by_name", attempts[0].Source)
}

func TestPrefixTerms(t *testing.T) {
	assert.Equal(t, []string{"Mount"}, prefixTerms([]string{"Mount Fuji"}))
	assert.Empty(t, prefixTerms([]string{"Fuji"}), "single words have no prefix form")
	assert.Empty(t, prefixTerms([]string{"of the"}), "short prefixes are skipped")
}
