package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	h3 "github.com/uber/h3-go/v4"
)

// CellResolution is the H3 resolution used for the viewpoint spatial index.
// Resolution 7 cells are roughly 5 km across, a good match for "nearby
// viewpoints" lookups.
const CellResolution = 7

// DistanceM calculates the Haversine distance between two lat/lon pairs in meters.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	return orbgeo.Distance(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

// CellFor returns the H3 index string for a coordinate at CellResolution.
func CellFor(lat, lon float64) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), CellResolution)
	if err != nil {
		return "", fmt.Errorf("h3 index failed for %f,%f: %w", lat, lon, err)
	}
	return cell.String(), nil
}

// cellSpacingKm approximates the center-to-center distance of adjacent cells
// at CellResolution, used to size grid disks for a metric radius.
const cellSpacingKm = 2.0

// NeighborCells returns the cell containing the coordinate plus its immediate
// ring of neighbors. Used as a coarse prefilter before exact distance checks.
func NeighborCells(lat, lon float64) ([]string, error) {
	return gridDisk(lat, lon, 1)
}

// CoveringCells returns every cell whose center may lie within radiusKm of the
// coordinate. The disk overshoots slightly; callers still filter by exact
// distance.
func CoveringCells(lat, lon, radiusKm float64) ([]string, error) {
	k := int(radiusKm/cellSpacingKm) + 1
	return gridDisk(lat, lon, k)
}

func gridDisk(lat, lon float64, k int) ([]string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), CellResolution)
	if err != nil {
		return nil, fmt.Errorf("h3 index failed for %f,%f: %w", lat, lon, err)
	}
	disk, err := h3.GridDisk(cell, k)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk failed: %w", err)
	}
	cells := make([]string, 0, len(disk))
	for _, c := range disk {
		cells = append(cells, c.String())
	}
	return cells, nil
}
