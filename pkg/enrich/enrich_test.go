package enrich

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourrag/pkg/db"
	"tourrag/pkg/model"
	"tourrag/pkg/store"
)

func newTestEnricher(t *testing.T) (*Enricher, *store.SQLiteStore) {
	t.Helper()
	database, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	st := store.NewSQLiteStore(database)
	return New(st), st
}

func seedViewpoint(t *testing.T, st *store.SQLiteStore, id int64, name string, lat, lon float64) {
	t.Helper()
	pop := 0.8
	require.NoError(t, st.SaveViewpoint(context.Background(), &model.Viewpoint{
		ID: id, NamePrimary: name, CategoryNorm: "mountain",
		Lat: lat, Lon: lon, Popularity: &pop,
	}))
}

func TestWikipediaCleansExtract(t *testing.T) {
	e, st := newTestEnricher(t)
	ctx := context.Background()
	seedViewpoint(t, st, 1, "Matterhorn", 45.9763, 7.6586)

	require.NoError(t, st.SaveWiki(ctx, &model.WikiEntry{
		ViewpointID: 1, Title: "Matterhorn", Lang: "en",
		Extract: "<p>The Matterhorn is a mountain.<sup>[2]</sup></p>",
	}))

	got, err := e.Wikipedia(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "The Matterhorn is a mountain.", got.Extract)

	missing, err := e.Wikipedia(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAssetsDistance(t *testing.T) {
	e, st := newTestEnricher(t)
	ctx := context.Background()
	seedViewpoint(t, st, 1, "Matterhorn", 45.9763, 7.6586)

	lat, lon := 45.9833, 7.6586 // ~780 m north of the summit
	require.NoError(t, st.SaveAsset(ctx, &model.MediaAsset{
		ViewpointID: 1, CommonsFileID: "File:Matterhorn.jpg", Lat: &lat, Lon: &lon,
	}))
	require.NoError(t, st.SaveAsset(ctx, &model.MediaAsset{
		ViewpointID: 1, CommonsFileID: "File:NoGeotag.jpg",
	}))

	assets, err := e.Assets(ctx, 1, 0, false)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	require.NotNil(t, assets[0].DistanceM)
	assert.InDelta(t, 780, *assets[0].DistanceM, 100)
	assert.Nil(t, assets[1].DistanceM, "no geotag, no distance")
}

func TestHistoricalSummaryPrefersWiki(t *testing.T) {
	e, st := newTestEnricher(t)
	ctx := context.Background()
	seedViewpoint(t, st, 1, "Matterhorn", 45.9763, 7.6586)

	require.NoError(t, st.SaveWiki(ctx, &model.WikiEntry{
		ViewpointID: 1, Title: "Matterhorn", Lang: "en",
		Extract:   "First climbed in 1865.",
		Citations: []model.Citation{{Ref: "[1]", Text: "Whymper account", URL: "https://example.org/whymper"}},
	}))
	require.NoError(t, st.SaveAISummary(ctx, &model.AISummary{
		ViewpointID: 1, HistorySummary: "Generated fallback.", Source: "offline_batch",
	}))

	text, evidence, err := e.HistoricalSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "First climbed in 1865.", text)
	require.Len(t, evidence, 2)
	assert.Equal(t, "wikipedia", evidence[0].Source)
	assert.Equal(t, "wikipedia_citation", evidence[1].Source)
	assert.Equal(t, "[1]", evidence[1].Reference)
	assert.Equal(t, "Whymper account", evidence[1].Text)
}

func TestHistoricalSummaryFallsBackToAISummary(t *testing.T) {
	e, st := newTestEnricher(t)
	ctx := context.Background()
	seedViewpoint(t, st, 1, "Hidden Gorge", 46.0, 7.0)

	require.NoError(t, st.SaveAISummary(ctx, &model.AISummary{
		ViewpointID: 1, HistorySummary: "A narrow gorge carved in the last ice age.", Source: "offline_batch",
	}))

	text, evidence, err := e.HistoricalSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A narrow gorge carved in the last ice age.", text)
	require.Len(t, evidence, 1)
	assert.Equal(t, "ai_summary", evidence[0].Source)
}

func TestHistoricalSummaryNothingStored(t *testing.T) {
	e, st := newTestEnricher(t)
	seedViewpoint(t, st, 1, "Unknown Rock", 46.0, 7.0)

	text, evidence, err := e.HistoricalSummary(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, evidence)
}

func TestBundle(t *testing.T) {
	e, st := newTestEnricher(t)
	ctx := context.Background()

	seedViewpoint(t, st, 1, "Matterhorn", 45.9763, 7.6586)
	seedViewpoint(t, st, 2, "Gornergrat", 45.9833, 7.7847) // ~10 km away
	require.NoError(t, st.SaveWiki(ctx, &model.WikiEntry{
		ViewpointID: 1, Title: "Matterhorn", Lang: "en", Extract: "A famous peak.",
	}))
	require.NoError(t, st.SaveVisualTags(ctx, &model.VisualTagRecord{
		ViewpointID: 1, Season: model.SeasonWinter, Source: "vision_model",
		Tags: []string{"snow_peak"}, Confidence: 0.9,
	}))

	b, err := e.Bundle(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Matterhorn", b.Viewpoint.NamePrimary)
	require.NotNil(t, b.Wiki)
	assert.Equal(t, "A famous peak.", b.Summary)
	require.Len(t, b.VisualTags, 1)

	require.Len(t, b.Nearby, 1, "the viewpoint itself is excluded")
	assert.Equal(t, int64(2), b.Nearby[0].ID)

	missing, err := e.Bundle(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
