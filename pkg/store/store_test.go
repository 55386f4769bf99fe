package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourrag/pkg/db"
	"tourrag/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	database, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewSQLiteStore(database)
}

func seedViewpoint(t *testing.T, s *SQLiteStore, id int64, name string, lat, lon float64, pop float64) {
	t.Helper()
	err := s.SaveViewpoint(context.Background(), &model.Viewpoint{
		ID:           id,
		NamePrimary:  name,
		NameVariants: []string{name + " Peak"},
		CategoryNorm: "mountain",
		Lat:          lat,
		Lon:          lon,
		Popularity:   &pop,
	})
	require.NoError(t, err)
}

func TestViewpointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pop := 0.92
	vp := &model.Viewpoint{
		ID:           1,
		NamePrimary:  "Mount Fuji",
		NameVariants: []string{"富士山", "Fujisan"},
		CategoryNorm: "mountain",
		CategoryOSM:  "natural=volcano",
		Lat:          35.3606,
		Lon:          138.7274,
		AdminRegions: map[string]string{"country": "japan", "admin1": "Shizuoka"},
		Popularity:   &pop,
	}
	require.NoError(t, s.SaveViewpoint(ctx, vp))
	assert.NotEmpty(t, vp.H3Cell, "save should compute the spatial cell")

	got, err := s.GetViewpoint(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Mount Fuji", got.NamePrimary)
	assert.Equal(t, []string{"富士山", "Fujisan"}, got.NameVariants)
	assert.Equal(t, "japan", got.AdminRegions["country"])
	require.NotNil(t, got.Popularity)
	assert.InDelta(t, 0.92, *got.Popularity, 0.001)

	// Upsert updates in place.
	vp.NamePrimary = "Mt. Fuji"
	require.NoError(t, s.SaveViewpoint(ctx, vp))
	got, err = s.GetViewpoint(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Mt. Fuji", got.NamePrimary)

	count, err := s.CountViewpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetViewpointMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetViewpoint(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetViewpointsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)
	seedViewpoint(t, s, 2, "Eiger", 46.5775, 8.0053, 0.7)

	got, err := s.GetViewpointsBatch(ctx, []int64{1, 2, 42})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Matterhorn", got[1].NamePrimary)
	assert.Equal(t, "Eiger", got[2].NamePrimary)

	empty, err := s.GetViewpointsBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindNearby(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two points near Zermatt, one far away in Japan.
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)
	seedViewpoint(t, s, 2, "Gornergrat", 45.9833, 7.7847, 0.6)
	seedViewpoint(t, s, 3, "Mount Fuji", 35.3606, 138.7274, 0.95)

	got, err := s.FindNearby(ctx, 45.9763, 7.6586, 5, 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Matterhorn", got[0].NamePrimary, "nearest first")
	for _, vp := range got {
		assert.NotEqual(t, int64(3), vp.ID, "far viewpoint must be excluded")
	}
}

func TestWikiRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)

	entry := &model.WikiEntry{
		ViewpointID: 1,
		Title:       "Matterhorn",
		Lang:        "en",
		Extract:     "The Matterhorn is a mountain of the Alps.",
		Sections: []model.WikiSection{
			{Title: "Geography", Content: "Located on the Swiss-Italian border.", Level: 2},
			{Title: "History", Level: 2},
		},
		Citations: []model.Citation{{Ref: "[1]", Text: "First ascent", URL: "https://example.org/ascent"}},
	}
	require.NoError(t, s.SaveWiki(ctx, entry))

	got, err := s.GetWiki(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Matterhorn", got.Title)
	require.Len(t, got.Sections, 2)
	assert.Equal(t, "Geography", got.Sections[0].Title)
	assert.Equal(t, 2, got.Sections[0].Level)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "[1]", got.Citations[0].Ref)
	assert.Equal(t, "First ascent", got.Citations[0].Text)
	assert.Equal(t, "https://example.org/ascent", got.Citations[0].URL)

	missing, err := s.GetWiki(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWikidataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)

	entry := &model.WikidataEntry{
		ViewpointID:    1,
		QID:            "Q1374",
		Claims:         map[string]any{"P2044": 4478.0},
		SitelinksCount: 120,
	}
	require.NoError(t, s.SaveWikidata(ctx, entry))

	got, err := s.GetWikidata(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Q1374", got.QID)
	assert.Equal(t, 120, got.SitelinksCount)
	assert.InDelta(t, 4478.0, got.Claims["P2044"].(float64), 0.1)
}

func TestAssetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)

	lat, lon := 45.98, 7.66
	asset := &model.MediaAsset{
		ViewpointID:   1,
		CommonsFileID: "File:Matterhorn_north.jpg",
		Caption:       "North face in winter",
		Categories:    []string{"Matterhorn", "Snow"},
		License:       "CC-BY-SA-4.0",
		ImageBlob:     []byte{0xff, 0xd8, 0xff},
		Lat:           &lat,
		Lon:           &lon,
		ImageWidth:    1920,
		ImageHeight:   1080,
		ImageFormat:   "jpeg",
	}
	require.NoError(t, s.SaveAsset(ctx, asset))
	assert.Positive(t, asset.ID)

	// Metadata only by default.
	got, err := s.GetAssets(ctx, 1, 10, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ImageBlob)
	assert.Equal(t, "File:Matterhorn_north.jpg", got[0].CommonsFileID)
	require.NotNil(t, got[0].Lat)
	assert.InDelta(t, 45.98, *got[0].Lat, 0.001)

	// Bytes on request.
	got, err = s.GetAssets(ctx, 1, 10, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, got[0].ImageBlob)
}

func TestVisualTagsSeasonOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)

	for _, rec := range []*model.VisualTagRecord{
		{ViewpointID: 1, Season: model.SeasonSummer, Source: "vision_model", Tags: []string{"lush_vegetation"}, Confidence: 0.9},
		{ViewpointID: 1, Season: model.SeasonWinter, Source: "vision_model", Tags: []string{"snow_peak", "snowy"}, Confidence: 0.8},
	} {
		require.NoError(t, s.SaveVisualTags(ctx, rec))
	}

	got, err := s.GetVisualTags(ctx, 1, model.SeasonWinter)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.SeasonWinter, got[0].Season, "requested season sorts first")
	assert.Equal(t, []string{"snow_peak", "snowy"}, got[0].Tags)

	got, err = s.GetVisualTags(ctx, 1, model.SeasonUnknown)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.SeasonSummer, got[0].Season, "unknown season falls back to confidence order")

	// Upsert replaces the same (season, source) slot.
	require.NoError(t, s.SaveVisualTags(ctx, &model.VisualTagRecord{
		ViewpointID: 1, Season: model.SeasonWinter, Source: "vision_model",
		Tags: []string{"ice"}, Confidence: 0.95,
	}))
	got, err = s.GetVisualTags(ctx, 1, model.SeasonWinter)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"ice"}, got[0].Tags)
}

func TestAISummaryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)

	require.NoError(t, s.SaveAISummary(ctx, &model.AISummary{
		ViewpointID:    1,
		HistorySummary: "First climbed in 1865.",
		Source:         "offline_batch",
	}))

	got, err := s.GetAISummary(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "First climbed in 1865.", got.HistorySummary)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)
	require.NoError(t, s.SaveWiki(ctx, &model.WikiEntry{ViewpointID: 1, Title: "Matterhorn"}))
	require.NoError(t, s.SaveVisualTags(ctx, &model.VisualTagRecord{
		ViewpointID: 1, Season: model.SeasonWinter, Source: "vision_model", Tags: []string{"snowy"},
	}))

	require.NoError(t, s.DeleteViewpoint(ctx, 1))

	wiki, err := s.GetWiki(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, wiki)
	tags, err := s.GetVisualTags(ctx, 1, "")
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestRunCandidateQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)
	seedViewpoint(t, s, 2, "Eiger", 46.5775, 8.0053, 0.7)

	got, err := s.RunCandidateQuery(ctx, `
		SELECT viewpoint_id, name_primary, category_norm, lat, lon, popularity,
		       CASE WHEN name_primary LIKE ? THEN 1.0 ELSE 0.5 END AS name_score
		FROM viewpoint_entity
		ORDER BY name_score DESC, popularity DESC`, []any{"%matterhorn%"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Matterhorn", got[0].NamePrimary)
	assert.InDelta(t, 1.0, got[0].NameScore, 0.001)
	assert.InDelta(t, 0.5, got[1].NameScore, 0.001)
	require.NotNil(t, got[1].Popularity)
	assert.InDelta(t, 0.7, *got[1].Popularity, 0.001)
}

func TestRunCandidateQueryIgnoresUnknownColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedViewpoint(t, s, 1, "Matterhorn", 45.9763, 7.6586, 0.9)

	got, err := s.RunCandidateQuery(ctx, `
		SELECT viewpoint_id, name_primary, h3_cell, created_at
		FROM viewpoint_entity`, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ViewpointID)
	assert.Equal(t, "Matterhorn", got[0].NamePrimary)
}

func TestTagSchemaRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterTagSchema(ctx, "v1.0.0", []byte(`{"version":"v1.0.0"}`)))
	require.NoError(t, s.RegisterTagSchema(ctx, "v1.0.0", []byte(`{"version":"v1.0.0"}`)))

	versions, err := s.TagSchemaVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0.0"}, versions)
}

func TestSaveViewpointBundle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pop := 0.8
	bundle := &ViewpointBundle{
		Viewpoint: &model.Viewpoint{
			ID: 7, NamePrimary: "Lake Bled", CategoryNorm: "lake",
			Lat: 46.3625, Lon: 14.0936, Popularity: &pop,
		},
		Wiki:     &model.WikiEntry{Title: "Lake Bled", Lang: "en", Extract: "A glacial lake in Slovenia."},
		Wikidata: &model.WikidataEntry{QID: "Q6414", SitelinksCount: 80},
		VisualTags: []*model.VisualTagRecord{
			{Season: model.SeasonSummer, Source: "vision_model", Tags: []string{"clear_water", "reflection"}, Confidence: 0.85},
		},
		Summary: &model.AISummary{HistorySummary: "The island church dates to the 17th century."},
	}
	require.NoError(t, s.SaveViewpointBundle(ctx, bundle))

	wiki, err := s.GetWiki(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, wiki)
	assert.Equal(t, "Lake Bled", wiki.Title)

	tags, err := s.GetVisualTags(ctx, 7, model.SeasonSummer)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, int64(7), tags[0].ViewpointID)

	summary, err := s.GetAISummary(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, summary)
}

func TestLogQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.LogQuery(ctx, &model.QueryLogRecord{
		RequestID: "req-1",
		UserText:  "snow mountains in japan",
		Intent: &model.QueryIntent{
			QueryTags:  []string{"snow_peak"},
			SeasonHint: model.SeasonWinter,
		},
		SQLQueries:      []model.SQLAttempt{{Source: "search_by_tags", SQL: "SELECT 1", Rows: 3}},
		ExecutionTimeMs: 42,
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT count(*) FROM query_log`).Scan(&count))
	assert.Equal(t, 1, count)
}
