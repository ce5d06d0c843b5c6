package zoning

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoCells is a pair of unit squares side by side; the second has a hole
// in its middle and extra properties that must survive a round trip.
const twoCells = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
     "properties": {"OBJECTID": 1, "desc_zoni": "COMERCIAL", "denspob": 10}},
    {"type": "Feature",
     "geometry": {"type": "Polygon", "coordinates": [
        [[1,0],[2,0],[2,1],[1,1],[1,0]],
        [[1.4,0.4],[1.6,0.4],[1.6,0.6],[1.4,0.6],[1.4,0.4]]]},
     "properties": {"OBJECTID": 2, "desc_zoni": "RESIDENCIAL", "denspob": 30, "name": "plaza"}}
  ]
}`

func mustParse(t *testing.T, data string) *Grid {
	t.Helper()
	g, err := Parse([]byte(data))
	require.NoError(t, err)
	return g
}

func TestParse(t *testing.T) {
	g := mustParse(t, twoCells)
	assert.Equal(t, 2, g.Len())

	c, ok := g.Cell("2")
	require.True(t, ok)
	assert.Equal(t, Residential, c.Zoning)

	_, ok = g.Cell("3")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"wrong type":      `{"type":"Feature"}`,
		"bad coordinates": `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":"x"},"properties":{}}]}`,
		"null feature":    `{"type":"FeatureCollection","features":[null]}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.True(t, errors.Is(err, ErrInvalidGrid), "got %v", err)
		})
	}
}

func TestCellAt(t *testing.T) {
	g := mustParse(t, twoCells)

	tests := []struct {
		name     string
		lon, lat float64
		want     string
		found    bool
	}{
		{"first cell", 0.5, 0.5, "1", true},
		{"second cell", 1.2, 0.2, "2", true},
		{"inside hole", 1.5, 0.5, "", false},
		{"outside", 5, 5, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := g.CellAt(tt.lon, tt.lat)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestCellAt_MultiPolygon(t *testing.T) {
	g := mustParse(t, `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"MultiPolygon","coordinates":[
			[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
			[[[3,3],[4,3],[4,4],[3,4],[3,3]]]]},
		 "properties":{"OBJECTID":7,"desc_zoni":"COMERCIAL"}}]}`)

	for _, p := range [][2]float64{{0.5, 0.5}, {3.5, 3.5}} {
		id, ok := g.CellAt(p[0], p[1])
		assert.True(t, ok, "%v", p)
		assert.Equal(t, "7", id)
	}
	_, ok := g.CellAt(2, 2)
	assert.False(t, ok, "between the parts")
}

func TestToggle(t *testing.T) {
	g := mustParse(t, twoCells)

	c, changed, err := g.Toggle("1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Residential, c.Zoning)

	c, changed, err = g.Toggle("1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Commercial, c.Zoning)

	_, _, err = g.Toggle("99")
	assert.True(t, errors.Is(err, ErrCellNotFound))
}

func TestToggle_OtherBecomesCommercial(t *testing.T) {
	g := mustParse(t, `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"OBJECTID":"a","desc_zoni":"PARQUE"}}]}`)

	c, changed, err := g.Toggle("a")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Commercial, c.Zoning)

	// Points never match a hit test.
	_, ok := g.CellAt(0, 0)
	assert.False(t, ok)
}

func TestToggle_StaleReloadIsNotUndone(t *testing.T) {
	g := mustParse(t, twoCells)

	_, _, err := g.Toggle("1")
	require.NoError(t, err)

	// Another context still holds the original copy and saves it back.
	require.NoError(t, g.Replace([]byte(twoCells)))

	c, changed, err := g.Toggle("1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, Commercial, c.Zoning)
}

func TestStats(t *testing.T) {
	g := mustParse(t, twoCells)

	s := g.Stats()
	assert.Equal(t, 2, s.Cells)
	assert.Equal(t, 1, s.Commercial)
	assert.Equal(t, 1, s.Residential)
	assert.Equal(t, 0, s.Other)
	assert.Equal(t, 40.0, s.Population)
	assert.InDelta(t, 20*densityFactor, s.Density, 1e-9)
}

func TestMarshalJSON_RoundTrip(t *testing.T) {
	g := mustParse(t, twoCells)
	_, _, err := g.Toggle("2")
	require.NoError(t, err)

	data, err := g.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"plaza"`)

	again := mustParse(t, string(data))
	c, _ := again.Cell("2")
	assert.Equal(t, Commercial, c.Zoning)
	id, ok := again.CellAt(1.9, 0.9)
	assert.True(t, ok)
	assert.Equal(t, "2", id)
}

func TestSquareGrid(t *testing.T) {
	bbox := BBox{MinLon: -77.065, MinLat: -12.054, MaxLon: -77.045, MaxLat: -12.034}
	g, err := SquareGrid(bbox, 0.5)
	require.NoError(t, err)
	// About 2.2 km square at this latitude: four half-kilometre cells a side.
	assert.Equal(t, 16, g.Len())

	s := g.Stats()
	assert.Equal(t, s.Cells, s.Commercial)

	id, ok := g.CellAt(bbox.MinLon+1e-5, bbox.MinLat+1e-5)
	assert.True(t, ok)
	assert.Equal(t, "1", id)

	_, err = SquareGrid(BBox{}, 1)
	assert.Error(t, err)
}
