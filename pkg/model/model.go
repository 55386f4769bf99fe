package model

import "time"

// Season values recognised by the intent extractor and the visual tag store.
const (
	SeasonSpring  = "spring"
	SeasonSummer  = "summer"
	SeasonAutumn  = "autumn"
	SeasonWinter  = "winter"
	SeasonUnknown = "unknown"
)

// ValidSeason reports whether s is one of the recognised season values.
func ValidSeason(s string) bool {
	switch s {
	case SeasonSpring, SeasonSummer, SeasonAutumn, SeasonWinter, SeasonUnknown:
		return true
	}
	return false
}

// GeoHints carries location hints extracted from a user query.
type GeoHints struct {
	PlaceName string `json:"place_name,omitempty"`
	Country   string `json:"country,omitempty"`
}

// QueryIntent is the structured interpretation of a user's text and images.
type QueryIntent struct {
	RawText         string   `json:"raw_text,omitempty"`
	NameCandidates  []string `json:"name_candidates"`
	QueryTags       []string `json:"query_tags"`
	SeasonHint      string   `json:"season_hint"`
	SceneHints      []string `json:"scene_hints"`
	GeoHints        GeoHints `json:"geo_hints"`
	ConfidenceNotes []string `json:"confidence_notes,omitempty"`
}

// Viewpoint is a row of the viewpoint corpus.
type Viewpoint struct {
	ID           int64             `json:"viewpoint_id"`
	NamePrimary  string            `json:"name_primary"`
	NameVariants []string          `json:"name_variants,omitempty"`
	CategoryNorm string            `json:"category_norm,omitempty"`
	CategoryOSM  string            `json:"category_osm,omitempty"`
	Lat          float64           `json:"lat"`
	Lon          float64           `json:"lon"`
	H3Cell       string            `json:"h3_cell,omitempty"`
	AdminRegions map[string]string `json:"admin_regions,omitempty"`
	Popularity   *float64          `json:"popularity,omitempty"`
	CreatedAt    time.Time         `json:"created_at,omitempty"`
}

// WikiSection is one article section of a stored extract.
type WikiSection struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Level   int    `json:"level,omitempty"`
}

// Citation is a single reference attached to a wiki extract.
type Citation struct {
	Ref  string `json:"ref,omitempty"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// WikiEntry holds the preindexed Wikipedia payload for a viewpoint.
type WikiEntry struct {
	ViewpointID int64         `json:"viewpoint_id"`
	Title       string        `json:"wikipedia_title,omitempty"`
	Lang        string        `json:"wikipedia_lang,omitempty"`
	Extract     string        `json:"extract_text,omitempty"`
	Sections    []WikiSection `json:"sections,omitempty"`
	Citations   []Citation    `json:"citations,omitempty"`
}

// WikidataEntry holds the preindexed Wikidata payload for a viewpoint.
type WikidataEntry struct {
	ViewpointID    int64          `json:"viewpoint_id"`
	QID            string         `json:"wikidata_qid,omitempty"`
	Claims         map[string]any `json:"claims,omitempty"`
	SitelinksCount int            `json:"sitelinks_count"`
}

// MediaAsset is a Commons-derived image asset attached to a viewpoint.
type MediaAsset struct {
	ID            int64    `json:"id"`
	ViewpointID   int64    `json:"viewpoint_id"`
	CommonsFileID string   `json:"commons_file_id,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Depicts       []string `json:"depicts_wikidata,omitempty"`
	License       string   `json:"license,omitempty"`
	ImageBlob     []byte   `json:"-"`
	Lat           *float64 `json:"lat,omitempty"`
	Lon           *float64 `json:"lon,omitempty"`
	ImageWidth    int      `json:"image_width,omitempty"`
	ImageHeight   int      `json:"image_height,omitempty"`
	ImageFormat   string   `json:"image_format,omitempty"`

	// DistanceM is the asset geotag's distance from the viewpoint, computed
	// at enrichment time when both geometries are present.
	DistanceM *float64 `json:"distance_m,omitempty"`
}

// Evidence points at the provenance of an enrichment payload.
type Evidence struct {
	Source    string `json:"source"` // "wikipedia", "wikipedia_citation", "ai_summary", "visual_model"
	Reference string `json:"reference,omitempty"`
	Text      string `json:"text,omitempty"`
}

// VisualTagRecord is a stored per-season visual tag set for a viewpoint.
type VisualTagRecord struct {
	ID          int64      `json:"id"`
	ViewpointID int64      `json:"viewpoint_id"`
	Season      string     `json:"season"`
	Source      string     `json:"tag_source"`
	Tags        []string   `json:"tags"`
	Confidence  float64    `json:"confidence"`
	Evidence    []Evidence `json:"evidence,omitempty"`
}

// AISummary is a fallback historical summary generated offline.
type AISummary struct {
	ViewpointID    int64     `json:"viewpoint_id"`
	HistorySummary string    `json:"history_summary"`
	Source         string    `json:"source,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Candidate is a retrieval hit with per-primitive subscores.
type Candidate struct {
	ViewpointID   int64    `json:"viewpoint_id"`
	NamePrimary   string   `json:"name_primary"`
	NameVariants  []string `json:"name_variants,omitempty"`
	CategoryNorm  string   `json:"category_norm,omitempty"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Popularity    *float64 `json:"popularity,omitempty"`
	NameScore     float64  `json:"name_score"`
	GeoScore      float64  `json:"geo_score"`
	CategoryScore float64  `json:"category_score"`
}

// VisualTagInfo is the per-season tag block surfaced on a ranked result.
type VisualTagInfo struct {
	Season     string     `json:"season"`
	Tags       []string   `json:"tags"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source,omitempty"`
	Evidence   []Evidence `json:"evidence,omitempty"`
}

// ViewpointResult is a fully enriched, ranked result.
type ViewpointResult struct {
	ViewpointID     int64           `json:"viewpoint_id"`
	Name            string          `json:"name"`
	NameVariants    []string        `json:"name_variants,omitempty"`
	Category        string          `json:"category,omitempty"`
	Lat             float64         `json:"lat"`
	Lon             float64         `json:"lon"`
	Popularity      *float64        `json:"popularity,omitempty"`
	MatchConfidence float64         `json:"match_confidence"`
	MatchReasons    []string        `json:"match_reasons,omitempty"`
	VisualTags      []VisualTagInfo `json:"visual_tags,omitempty"`
	HistorySummary  string          `json:"history_summary,omitempty"`
	Evidence        []Evidence      `json:"evidence,omitempty"`
}

// SQLAttempt records one executed (or rejected) retrieval query.
type SQLAttempt struct {
	Source  string `json:"source"` // primitive name or "llm_sql"
	SQL     string `json:"sql"`
	Params  []any  `json:"params,omitempty"`
	Warning string `json:"warning,omitempty"`
	Rows    int    `json:"rows"`
}

// QueryLogRecord is the best-effort audit record written per request.
type QueryLogRecord struct {
	RequestID       string       `json:"request_id"`
	UserText        string       `json:"user_text"`
	UserImages      []string     `json:"user_images,omitempty"`
	Intent          *QueryIntent `json:"query_intent,omitempty"`
	SQLQueries      []SQLAttempt `json:"sql_queries,omitempty"`
	ToolCalls       any          `json:"tool_calls,omitempty"`
	Results         any          `json:"results,omitempty"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
}
