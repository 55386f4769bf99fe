package store

import (
	"context"

	"tourrag/pkg/model"
)

// EntityStore provides access to the viewpoint corpus.
type EntityStore interface {
	GetViewpoint(ctx context.Context, id int64) (*model.Viewpoint, error)
	GetViewpointsBatch(ctx context.Context, ids []int64) (map[int64]*model.Viewpoint, error)
	SaveViewpoint(ctx context.Context, vp *model.Viewpoint) error
	DeleteViewpoint(ctx context.Context, id int64) error
	FindNearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]*model.Viewpoint, error)
	CountViewpoints(ctx context.Context) (int, error)
}

// WikiStore provides access to preindexed Wikipedia payloads.
type WikiStore interface {
	GetWiki(ctx context.Context, viewpointID int64) (*model.WikiEntry, error)
	SaveWiki(ctx context.Context, entry *model.WikiEntry) error
}

// WikidataStore provides access to preindexed Wikidata payloads.
type WikidataStore interface {
	GetWikidata(ctx context.Context, viewpointID int64) (*model.WikidataEntry, error)
	SaveWikidata(ctx context.Context, entry *model.WikidataEntry) error
}

// AssetStore provides access to Commons-derived image assets.
type AssetStore interface {
	// GetAssets returns up to limit assets for the viewpoint. Image bytes are
	// only loaded when includeBytes is set.
	GetAssets(ctx context.Context, viewpointID int64, limit int, includeBytes bool) ([]*model.MediaAsset, error)
	SaveAsset(ctx context.Context, asset *model.MediaAsset) error
}

// VisualTagStore provides access to per-season visual tag records.
type VisualTagStore interface {
	// GetVisualTags returns records for the viewpoint. When season is a
	// concrete season, matching records sort first; "unknown" or "" returns
	// all records in confidence order.
	GetVisualTags(ctx context.Context, viewpointID int64, season string) ([]*model.VisualTagRecord, error)
	SaveVisualTags(ctx context.Context, rec *model.VisualTagRecord) error
}

// SummaryStore provides access to offline-generated summaries.
type SummaryStore interface {
	GetAISummary(ctx context.Context, viewpointID int64) (*model.AISummary, error)
	SaveAISummary(ctx context.Context, summary *model.AISummary) error
}

// QueryLogStore records request audit entries.
type QueryLogStore interface {
	LogQuery(ctx context.Context, rec *model.QueryLogRecord) error
}

// SchemaStore records which tag schema versions have been active.
type SchemaStore interface {
	RegisterTagSchema(ctx context.Context, version string, definition []byte) error
	TagSchemaVersions(ctx context.Context) ([]string, error)
}

// CandidateQuerier executes parameterised retrieval SQL.
type CandidateQuerier interface {
	// RunCandidateQuery executes the query and maps recognised columns onto
	// Candidate fields. Unknown columns are ignored.
	RunCandidateQuery(ctx context.Context, sqlText string, params []any) ([]model.Candidate, error)
}

// Store aggregates every per-concern interface.
type Store interface {
	EntityStore
	WikiStore
	WikidataStore
	AssetStore
	VisualTagStore
	SummaryStore
	QueryLogStore
	SchemaStore
	CandidateQuerier

	Ping(ctx context.Context) error
}
