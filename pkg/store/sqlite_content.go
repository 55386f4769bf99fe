package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tourrag/pkg/model"
)

// --- WikiStore ---

func (s *SQLiteStore) GetWiki(ctx context.Context, viewpointID int64) (*model.WikiEntry, error) {
	var entry model.WikiEntry
	var title, lang, extract, sections, citations sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT viewpoint_id, wikipedia_title, wikipedia_lang, extract_text, sections, citations
		FROM viewpoint_wiki WHERE viewpoint_id = ?`, viewpointID).
		Scan(&entry.ViewpointID, &title, &lang, &extract, &sections, &citations)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry.Title = title.String
	entry.Lang = lang.String
	entry.Extract = extract.String
	if err := unmarshalJSON(sections, &entry.Sections); err != nil {
		return nil, fmt.Errorf("bad sections for viewpoint %d: %w", viewpointID, err)
	}
	if err := unmarshalJSON(citations, &entry.Citations); err != nil {
		return nil, fmt.Errorf("bad citations for viewpoint %d: %w", viewpointID, err)
	}
	return &entry, nil
}

func (s *SQLiteStore) SaveWiki(ctx context.Context, entry *model.WikiEntry) error {
	return saveWiki(ctx, s.db, entry)
}

func saveWiki(ctx context.Context, e execer, entry *model.WikiEntry) error {
	sections, err := marshalJSON(entry.Sections)
	if err != nil {
		return err
	}
	citations, err := marshalJSON(entry.Citations)
	if err != nil {
		return err
	}

	_, err = e.ExecContext(ctx, `
		INSERT OR REPLACE INTO viewpoint_wiki
			(viewpoint_id, wikipedia_title, wikipedia_lang, extract_text, sections, citations)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ViewpointID, nullString(entry.Title), nullString(entry.Lang),
		nullString(entry.Extract), sections, citations)
	return err
}

// --- WikidataStore ---

func (s *SQLiteStore) GetWikidata(ctx context.Context, viewpointID int64) (*model.WikidataEntry, error) {
	var entry model.WikidataEntry
	var qid, claims sql.NullString
	var sitelinks sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT viewpoint_id, wikidata_qid, claims, sitelinks_count
		FROM viewpoint_wikidata WHERE viewpoint_id = ?`, viewpointID).
		Scan(&entry.ViewpointID, &qid, &claims, &sitelinks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry.QID = qid.String
	entry.SitelinksCount = int(sitelinks.Int64)
	if err := unmarshalJSON(claims, &entry.Claims); err != nil {
		return nil, fmt.Errorf("bad claims for viewpoint %d: %w", viewpointID, err)
	}
	return &entry, nil
}

func (s *SQLiteStore) SaveWikidata(ctx context.Context, entry *model.WikidataEntry) error {
	return saveWikidata(ctx, s.db, entry)
}

func saveWikidata(ctx context.Context, e execer, entry *model.WikidataEntry) error {
	claims, err := marshalJSON(entry.Claims)
	if err != nil {
		return err
	}

	_, err = e.ExecContext(ctx, `
		INSERT OR REPLACE INTO viewpoint_wikidata
			(viewpoint_id, wikidata_qid, claims, sitelinks_count)
		VALUES (?, ?, ?, ?)`,
		entry.ViewpointID, nullString(entry.QID), claims, entry.SitelinksCount)
	return err
}

// --- AssetStore ---

func (s *SQLiteStore) GetAssets(ctx context.Context, viewpointID int64, limit int, includeBytes bool) ([]*model.MediaAsset, error) {
	blobCol := "NULL"
	if includeBytes {
		blobCol = "image_blob"
	}

	query := fmt.Sprintf(`
		SELECT id, viewpoint_id, commons_file_id, caption, categories, depicts_wikidata,
		       license, %s, lat, lon, image_width, image_height, image_format
		FROM viewpoint_assets WHERE viewpoint_id = ? ORDER BY id`, blobCol)

	args := []any{viewpointID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("assets query failed: %w", err)
	}
	defer rows.Close()

	var assets []*model.MediaAsset
	for rows.Next() {
		var a model.MediaAsset
		var fileID, caption, categories, depicts, license, format sql.NullString
		var lat, lon sql.NullFloat64
		var width, height sql.NullInt64

		err := rows.Scan(&a.ID, &a.ViewpointID, &fileID, &caption, &categories, &depicts,
			&license, &a.ImageBlob, &lat, &lon, &width, &height, &format)
		if err != nil {
			return nil, err
		}

		a.CommonsFileID = fileID.String
		a.Caption = caption.String
		a.License = license.String
		a.ImageFormat = format.String
		a.ImageWidth = int(width.Int64)
		a.ImageHeight = int(height.Int64)
		if lat.Valid {
			v := lat.Float64
			a.Lat = &v
		}
		if lon.Valid {
			v := lon.Float64
			a.Lon = &v
		}
		if err := unmarshalJSON(categories, &a.Categories); err != nil {
			return nil, fmt.Errorf("bad categories for asset %d: %w", a.ID, err)
		}
		if err := unmarshalJSON(depicts, &a.Depicts); err != nil {
			return nil, fmt.Errorf("bad depicts for asset %d: %w", a.ID, err)
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

func (s *SQLiteStore) SaveAsset(ctx context.Context, asset *model.MediaAsset) error {
	return saveAsset(ctx, s.db, asset)
}

func saveAsset(ctx context.Context, e execer, asset *model.MediaAsset) error {
	categories, err := marshalJSON(asset.Categories)
	if err != nil {
		return err
	}
	depicts, err := marshalJSON(asset.Depicts)
	if err != nil {
		return err
	}

	res, err := e.ExecContext(ctx, `
		INSERT INTO viewpoint_assets
			(viewpoint_id, commons_file_id, caption, categories, depicts_wikidata,
			 license, image_blob, lat, lon, image_width, image_height, image_format)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ViewpointID, nullString(asset.CommonsFileID), nullString(asset.Caption),
		categories, depicts, nullString(asset.License), asset.ImageBlob,
		nullFloat(asset.Lat), nullFloat(asset.Lon),
		asset.ImageWidth, asset.ImageHeight, nullString(asset.ImageFormat))
	if err != nil {
		return fmt.Errorf("save asset failed: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		asset.ID = id
	}
	return nil
}

// --- VisualTagStore ---

func (s *SQLiteStore) GetVisualTags(ctx context.Context, viewpointID int64, season string) ([]*model.VisualTagRecord, error) {
	// A concrete season sorts its matching records first; "unknown" or ""
	// returns everything in confidence order.
	query := `
		SELECT id, viewpoint_id, season, tag_source, tags, confidence, evidence
		FROM viewpoint_visual_tags WHERE viewpoint_id = ?`
	args := []any{viewpointID}

	if season != "" && season != model.SeasonUnknown {
		query += ` ORDER BY (season = ?) DESC, confidence DESC`
		args = append(args, season)
	} else {
		query += ` ORDER BY confidence DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("visual tags query failed: %w", err)
	}
	defer rows.Close()

	var records []*model.VisualTagRecord
	for rows.Next() {
		var rec model.VisualTagRecord
		var seasonCol, source, tags, evidence sql.NullString
		var confidence sql.NullFloat64

		err := rows.Scan(&rec.ID, &rec.ViewpointID, &seasonCol, &source, &tags, &confidence, &evidence)
		if err != nil {
			return nil, err
		}

		rec.Season = seasonCol.String
		rec.Source = source.String
		rec.Confidence = confidence.Float64
		if err := unmarshalJSON(tags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("bad tags for record %d: %w", rec.ID, err)
		}
		if err := unmarshalJSON(evidence, &rec.Evidence); err != nil {
			return nil, fmt.Errorf("bad evidence for record %d: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveVisualTags(ctx context.Context, rec *model.VisualTagRecord) error {
	return saveVisualTags(ctx, s.db, rec)
}

func saveVisualTags(ctx context.Context, e execer, rec *model.VisualTagRecord) error {
	tags, err := marshalJSON(rec.Tags)
	if err != nil {
		return err
	}
	evidence, err := marshalJSON(rec.Evidence)
	if err != nil {
		return err
	}

	res, err := e.ExecContext(ctx, `
		INSERT INTO viewpoint_visual_tags
			(viewpoint_id, season, tag_source, tags, confidence, evidence)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(viewpoint_id, season, tag_source) DO UPDATE SET
			tags = excluded.tags,
			confidence = excluded.confidence,
			evidence = excluded.evidence`,
		rec.ViewpointID, rec.Season, rec.Source, tags, rec.Confidence, evidence)
	if err != nil {
		return fmt.Errorf("save visual tags failed: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		rec.ID = id
	}
	return nil
}

// --- SummaryStore ---

func (s *SQLiteStore) GetAISummary(ctx context.Context, viewpointID int64) (*model.AISummary, error) {
	var summary model.AISummary
	var text, source sql.NullString
	var updatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT viewpoint_id, history_summary, source, updated_at
		FROM viewpoint_ai_summaries WHERE viewpoint_id = ?`, viewpointID).
		Scan(&summary.ViewpointID, &text, &source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	summary.HistorySummary = text.String
	summary.Source = source.String
	if updatedAt.Valid {
		summary.UpdatedAt = updatedAt.Time
	}
	return &summary, nil
}

func (s *SQLiteStore) SaveAISummary(ctx context.Context, summary *model.AISummary) error {
	return saveAISummary(ctx, s.db, summary)
}

func saveAISummary(ctx context.Context, e execer, summary *model.AISummary) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO viewpoint_ai_summaries (viewpoint_id, history_summary, source, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(viewpoint_id) DO UPDATE SET
			history_summary = excluded.history_summary,
			source = excluded.source,
			updated_at = CURRENT_TIMESTAMP`,
		summary.ViewpointID, summary.HistorySummary, nullString(summary.Source))
	return err
}

// --- QueryLogStore ---

func (s *SQLiteStore) LogQuery(ctx context.Context, rec *model.QueryLogRecord) error {
	images, err := marshalJSON(rec.UserImages)
	if err != nil {
		return err
	}
	intent, err := marshalJSON(rec.Intent)
	if err != nil {
		return err
	}
	queries, err := marshalJSON(rec.SQLQueries)
	if err != nil {
		return err
	}
	toolCalls, err := marshalJSON(rec.ToolCalls)
	if err != nil {
		return err
	}
	results, err := marshalJSON(rec.Results)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_log
			(request_id, user_text, user_images, query_intent, sql_queries,
			 tool_calls, results, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.UserText, images, intent, queries, toolCalls, results,
		rec.ExecutionTimeMs)
	if err != nil {
		return fmt.Errorf("query log insert failed: %w", err)
	}
	return nil
}

// --- SchemaStore ---

func (s *SQLiteStore) RegisterTagSchema(ctx context.Context, version string, definition []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tag_schema_version (version, schema_definition)
		VALUES (?, ?)`, version, string(definition))
	return err
}

func (s *SQLiteStore) TagSchemaVersions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM tag_schema_version ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ViewpointBundle groups everything the seed tool writes for one viewpoint.
type ViewpointBundle struct {
	Viewpoint  *model.Viewpoint
	Wiki       *model.WikiEntry
	Wikidata   *model.WikidataEntry
	Assets     []*model.MediaAsset
	VisualTags []*model.VisualTagRecord
	Summary    *model.AISummary
}

// SaveViewpointBundle writes a viewpoint and all of its attached payloads in a
// single transaction.
func (s *SQLiteStore) SaveViewpointBundle(ctx context.Context, b *ViewpointBundle) error {
	if b.Viewpoint == nil {
		return errors.New("bundle has no viewpoint")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bundle tx failed: %w", err)
	}
	defer tx.Rollback()

	if err := saveViewpoint(ctx, tx, b.Viewpoint); err != nil {
		return err
	}
	if b.Wiki != nil {
		b.Wiki.ViewpointID = b.Viewpoint.ID
		if err := saveWiki(ctx, tx, b.Wiki); err != nil {
			return err
		}
	}
	if b.Wikidata != nil {
		b.Wikidata.ViewpointID = b.Viewpoint.ID
		if err := saveWikidata(ctx, tx, b.Wikidata); err != nil {
			return err
		}
	}
	for _, asset := range b.Assets {
		asset.ViewpointID = b.Viewpoint.ID
		if err := saveAsset(ctx, tx, asset); err != nil {
			return err
		}
	}
	for _, rec := range b.VisualTags {
		rec.ViewpointID = b.Viewpoint.ID
		if err := saveVisualTags(ctx, tx, rec); err != nil {
			return err
		}
	}
	if b.Summary != nil {
		b.Summary.ViewpointID = b.Viewpoint.ID
		if err := saveAISummary(ctx, tx, b.Summary); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- CandidateQuerier ---

// RunCandidateQuery executes retrieval SQL and maps recognised result columns
// onto Candidate fields. Column sets vary between the fixed primitives and
// model-synthesised queries, so the mapping is driven by rows.Columns().
func (s *SQLiteStore) RunCandidateQuery(ctx context.Context, sqlText string, params []any) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("candidate query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var candidates []model.Candidate
	for rows.Next() {
		var c model.Candidate
		var name, variants, category sql.NullString
		var lat, lon, popularity, nameScore, geoScore, catScore sql.NullFloat64
		dests := make([]any, len(cols))
		for i, col := range cols {
			switch strings.ToLower(col) {
			case "viewpoint_id", "id":
				dests[i] = &c.ViewpointID
			case "name_primary", "name":
				dests[i] = &name
			case "name_variants":
				dests[i] = &variants
			case "category_norm", "category":
				dests[i] = &category
			case "lat":
				dests[i] = &lat
			case "lon":
				dests[i] = &lon
			case "popularity":
				dests[i] = &popularity
			case "name_score":
				dests[i] = &nameScore
			case "geo_score":
				dests[i] = &geoScore
			case "category_score":
				dests[i] = &catScore
			default:
				dests[i] = new(any)
			}
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		c.NamePrimary = name.String
		if err := unmarshalJSON(variants, &c.NameVariants); err != nil {
			return nil, err
		}
		c.CategoryNorm = category.String
		c.Lat = lat.Float64
		c.Lon = lon.Float64
		c.NameScore = nameScore.Float64
		c.GeoScore = geoScore.Float64
		c.CategoryScore = catScore.Float64
		if popularity.Valid {
			p := popularity.Float64
			c.Popularity = &p
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
