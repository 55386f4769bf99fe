package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tourrag/pkg/db"
	"tourrag/pkg/geo"
	"tourrag/pkg/model"
)

// SQLiteStore implements Store on the embedded sqlite database.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a store backed by the given database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execer abstracts *sql.DB and *sql.Tx for the write paths, so the bundle
// writer can reuse them inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- helpers ---

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal failed: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON(ns sql.NullString, target any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- EntityStore ---

func (s *SQLiteStore) GetViewpoint(ctx context.Context, id int64) (*model.Viewpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT viewpoint_id, name_primary, name_variants, category_norm, category_osm,
		       lat, lon, h3_cell, admin_regions, popularity, created_at
		FROM viewpoint_entity WHERE viewpoint_id = ?`, id)

	vp, err := scanViewpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return vp, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViewpoint(row rowScanner) (*model.Viewpoint, error) {
	var vp model.Viewpoint
	var variants, catNorm, catOSM, h3Cell, regions sql.NullString
	var lat, lon, popularity sql.NullFloat64
	var createdAt sql.NullTime

	err := row.Scan(&vp.ID, &vp.NamePrimary, &variants, &catNorm, &catOSM,
		&lat, &lon, &h3Cell, &regions, &popularity, &createdAt)
	if err != nil {
		return nil, err
	}

	vp.CategoryNorm = catNorm.String
	vp.CategoryOSM = catOSM.String
	vp.H3Cell = h3Cell.String
	vp.Lat = lat.Float64
	vp.Lon = lon.Float64
	if popularity.Valid {
		p := popularity.Float64
		vp.Popularity = &p
	}
	if createdAt.Valid {
		vp.CreatedAt = createdAt.Time
	}
	if err := unmarshalJSON(variants, &vp.NameVariants); err != nil {
		return nil, fmt.Errorf("bad name_variants for viewpoint %d: %w", vp.ID, err)
	}
	if err := unmarshalJSON(regions, &vp.AdminRegions); err != nil {
		return nil, fmt.Errorf("bad admin_regions for viewpoint %d: %w", vp.ID, err)
	}
	return &vp, nil
}

func (s *SQLiteStore) GetViewpointsBatch(ctx context.Context, ids []int64) (map[int64]*model.Viewpoint, error) {
	result := make(map[int64]*model.Viewpoint, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT viewpoint_id, name_primary, name_variants, category_norm, category_osm,
		       lat, lon, h3_cell, admin_regions, popularity, created_at
		FROM viewpoint_entity WHERE viewpoint_id IN (%s)`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		vp, err := scanViewpoint(rows)
		if err != nil {
			return nil, err
		}
		result[vp.ID] = vp
	}
	return result, rows.Err()
}

func (s *SQLiteStore) SaveViewpoint(ctx context.Context, vp *model.Viewpoint) error {
	return saveViewpoint(ctx, s.db, vp)
}

func saveViewpoint(ctx context.Context, e execer, vp *model.Viewpoint) error {
	if vp.H3Cell == "" && (vp.Lat != 0 || vp.Lon != 0) {
		cell, err := geo.CellFor(vp.Lat, vp.Lon)
		if err != nil {
			return err
		}
		vp.H3Cell = cell
	}

	variants, err := marshalJSON(vp.NameVariants)
	if err != nil {
		return err
	}
	regions, err := marshalJSON(vp.AdminRegions)
	if err != nil {
		return err
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO viewpoint_entity
			(viewpoint_id, name_primary, name_variants, category_norm, category_osm,
			 lat, lon, h3_cell, admin_regions, popularity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(viewpoint_id) DO UPDATE SET
			name_primary = excluded.name_primary,
			name_variants = excluded.name_variants,
			category_norm = excluded.category_norm,
			category_osm = excluded.category_osm,
			lat = excluded.lat,
			lon = excluded.lon,
			h3_cell = excluded.h3_cell,
			admin_regions = excluded.admin_regions,
			popularity = excluded.popularity`,
		vp.ID, vp.NamePrimary, variants, nullString(vp.CategoryNorm), nullString(vp.CategoryOSM),
		vp.Lat, vp.Lon, nullString(vp.H3Cell), regions, nullFloat(vp.Popularity))
	if err != nil {
		return fmt.Errorf("save viewpoint %d failed: %w", vp.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteViewpoint(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM viewpoint_entity WHERE viewpoint_id = ?`, id)
	return err
}

func (s *SQLiteStore) CountViewpoints(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM viewpoint_entity`).Scan(&count)
	return count, err
}

// FindNearby returns viewpoints within radiusKm of the coordinate, nearest
// first. An H3 grid disk serves as a coarse prefilter; exact distances decide
// membership and order.
func (s *SQLiteStore) FindNearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]*model.Viewpoint, error) {
	cells, err := geo.CoveringCells(lat, lon, radiusKm)
	if err != nil {
		return nil, err
	}

	args := make([]any, len(cells))
	for i, c := range cells {
		args[i] = c
	}

	query := fmt.Sprintf(`
		SELECT viewpoint_id, name_primary, name_variants, category_norm, category_osm,
		       lat, lon, h3_cell, admin_regions, popularity, created_at
		FROM viewpoint_entity WHERE h3_cell IN (%s)`, placeholders(len(cells)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("nearby query failed: %w", err)
	}
	defer rows.Close()

	type hit struct {
		vp   *model.Viewpoint
		dist float64
	}
	var hits []hit
	for rows.Next() {
		vp, err := scanViewpoint(rows)
		if err != nil {
			return nil, err
		}
		d := geo.DistanceM(lat, lon, vp.Lat, vp.Lon)
		if d <= radiusKm*1000 {
			hits = append(hits, hit{vp: vp, dist: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	result := make([]*model.Viewpoint, len(hits))
	for i, h := range hits {
		result[i] = h.vp
	}
	return result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
