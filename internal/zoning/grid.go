// Package zoning holds the land-use grid that synthesized clicks edit.
//
// The grid is a GeoJSON FeatureCollection of polygon cells. Each cell has
// an OBJECTID and a desc_zoni zoning value; other properties are kept
// untouched so the collection round-trips.
package zoning

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	geojson.CustomJSONMarshaler = json
	geojson.CustomJSONUnmarshaler = json
}

// Zoning values.
const (
	Commercial  = "COMERCIAL"
	Residential = "RESIDENCIAL"
)

// Property names.
const (
	PropID         = "OBJECTID"
	PropZoning     = "desc_zoni"
	PropPopulation = "denspob"
)

// densityFactor converts mean population per cell into inhabitants per
// square kilometre for the default cell size.
const densityFactor = 22.23

var (
	// ErrCellNotFound is returned for an unknown cell id.
	ErrCellNotFound = errors.New("zoning: cell not found")
	// ErrInvalidGrid is returned when data is not a usable feature collection.
	ErrInvalidGrid = errors.New("zoning: invalid grid")
)

// Cell summarizes one feature.
type Cell struct {
	ID     string `json:"id"`
	Zoning string `json:"zoning"`
}

// Stats summarizes the grid.
type Stats struct {
	Cells       int     `json:"cells"`
	Commercial  int     `json:"commercial"`
	Residential int     `json:"residential"`
	Other       int     `json:"other"`
	Population  float64 `json:"population"`
	Density     float64 `json:"density"`
}

// Grid is a concurrency-safe zoning grid.
type Grid struct {
	mu       sync.RWMutex
	fc       *geojson.FeatureCollection
	index    map[string]int
	previous map[string]string
}

// Parse decodes a GeoJSON FeatureCollection.
func Parse(data []byte) (*Grid, error) {
	g := &Grid{}
	if err := g.Replace(data); err != nil {
		return nil, err
	}
	return g, nil
}

// Replace swaps the grid contents for data, as when another context saved
// a newer copy. Toggle history is kept.
func (g *Grid) Replace(data []byte) error {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrid, err)
	}
	return g.load(fc)
}

func (g *Grid) load(fc *geojson.FeatureCollection) error {
	if fc.Type != "FeatureCollection" {
		return fmt.Errorf("%w: type %q", ErrInvalidGrid, fc.Type)
	}
	index := make(map[string]int, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil {
			return fmt.Errorf("%w: feature %d is null", ErrInvalidGrid, i)
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		if id := cellID(f); id != "" {
			index[id] = i
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.fc = fc
	g.index = index
	if g.previous == nil {
		g.previous = make(map[string]string)
	}
	return nil
}

// MarshalJSON encodes the grid as a FeatureCollection.
func (g *Grid) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fc.MarshalJSON()
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.fc.Features)
}

// Cell returns the cell with the given id.
func (g *Grid) Cell(id string) (Cell, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return Cell{}, false
	}
	return Cell{ID: id, Zoning: zoningOf(g.fc.Features[i])}, true
}

// Toggle flips a cell between commercial and residential and records the
// value it had. Anything that is not commercial becomes commercial. A cell
// whose current value equals its recorded previous value is left alone, so
// a click replayed against a reloaded copy does not undo the edit. The
// returned bool reports whether the cell changed.
func (g *Grid) Toggle(id string) (Cell, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[id]
	if !ok {
		return Cell{}, false, fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	f := g.fc.Features[i]
	current := zoningOf(f)

	if prev, seen := g.previous[id]; seen && prev == current {
		return Cell{ID: id, Zoning: current}, false, nil
	}

	next := Commercial
	if current == Commercial {
		next = Residential
	}
	f.Properties[PropZoning] = next
	g.previous[id] = current
	return Cell{ID: id, Zoning: next}, true, nil
}

// CellAt returns the id of the cell containing the point. Holes are
// honored and only polygonal cells match. The first matching cell wins.
func (g *Grid) CellAt(lon, lat float64) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p := orb.Point{lon, lat}
	for _, f := range g.fc.Features {
		if contains(f.Geometry, p) {
			id := cellID(f)
			return id, id != ""
		}
	}
	return "", false
}

func contains(geom orb.Geometry, p orb.Point) bool {
	switch geom := geom.(type) {
	case orb.Polygon:
		return geom.Bound().Contains(p) && planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return geom.Bound().Contains(p) && planar.MultiPolygonContains(geom, p)
	default:
		return false
	}
}

// Stats counts cells by zoning and sums population.
func (g *Grid) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var s Stats
	s.Cells = len(g.fc.Features)
	for _, f := range g.fc.Features {
		switch zoningOf(f) {
		case Commercial:
			s.Commercial++
		case Residential:
			s.Residential++
		default:
			s.Other++
		}
		s.Population += f.Properties.MustFloat64(PropPopulation, 0)
	}
	if s.Cells > 0 {
		s.Density = s.Population / float64(s.Cells) * densityFactor
	}
	return s
}

func cellID(f *geojson.Feature) string {
	switch v := f.Properties[PropID].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func zoningOf(f *geojson.Feature) string {
	return f.Properties.MustString(PropZoning, "")
}

// BBox is a lon/lat bounding box in degrees.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Bound returns the box as an orb.Bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// SquareGrid builds a grid of square cells of side cellKm kilometres
// covering bbox. Cells are numbered from 1 in row-major order from the
// south-west corner and start as commercial.
func SquareGrid(bbox BBox, cellKm float64) (*Grid, error) {
	bound := bbox.Bound()
	if cellKm <= 0 || bound.Right() <= bound.Left() || bound.Top() <= bound.Bottom() {
		return nil, fmt.Errorf("%w: empty bbox or cell size", ErrInvalidGrid)
	}

	// Cell sides in degrees, measured on the sphere at the box center.
	center := bound.Center()
	side := cellKm * 1000
	dLon := geo.PointAtBearingAndDistance(center, 90, side)[0] - center[0]
	dLat := geo.PointAtBearingAndDistance(center, 0, side)[1] - center[1]

	fc := geojson.NewFeatureCollection()
	id := 1
	for lat := bound.Bottom(); lat+dLat <= bound.Top()+1e-12; lat += dLat {
		for lon := bound.Left(); lon+dLon <= bound.Right()+1e-12; lon += dLon {
			cell := orb.Bound{Min: orb.Point{lon, lat}, Max: orb.Point{lon + dLon, lat + dLat}}
			f := geojson.NewFeature(cell.ToPolygon())
			f.Properties[PropID] = float64(id)
			f.Properties[PropZoning] = Commercial
			fc.Append(f)
			id++
		}
	}

	g := &Grid{}
	if err := g.load(fc); err != nil {
		return nil, err
	}
	return g, nil
}
