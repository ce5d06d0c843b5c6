// Package viewport holds the map camera state driven by gestures and the
// Web Mercator math needed to turn display pixels into map coordinates.
package viewport

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/ayusman/mediamap/internal/geometry"
)

// TileSize is the pixel size of a Web Mercator tile at zoom 0.
const TileSize = 512

// maxLatitude is the Web Mercator latitude limit.
const maxLatitude = 85.05112878

// circumference is the length of the equator in EPSG:3857 metres.
const circumference = 2 * math.Pi * orb.EarthRadius

// State is the map camera. Longitude and latitude are degrees, bearing is
// degrees clockwise from north and pitch is degrees from nadir.
type State struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      float64 `json:"zoom"`
	Bearing   float64 `json:"bearing"`
	Pitch     float64 `json:"pitch"`
}

// Limits bounds the values a State may take.
type Limits struct {
	MinZoom  float64 `json:"min_zoom"`
	MaxZoom  float64 `json:"max_zoom"`
	MinPitch float64 `json:"min_pitch"`
	MaxPitch float64 `json:"max_pitch"`
}

// DefaultLimits returns the limits of a typical WebGL map view.
func DefaultLimits() Limits {
	return Limits{MinZoom: 0, MaxZoom: 22, MinPitch: 0, MaxPitch: 60}
}

// Clamp keeps zoom and pitch within l, latitude within the Web Mercator
// range, and wraps longitude and bearing into [-180, 180).
func (s State) Clamp(l Limits) State {
	s.Zoom = clamp(s.Zoom, l.MinZoom, l.MaxZoom)
	s.Pitch = clamp(s.Pitch, l.MinPitch, l.MaxPitch)
	s.Latitude = clamp(s.Latitude, -maxLatitude, maxLatitude)
	s.Longitude = wrap180(s.Longitude)
	s.Bearing = wrap180(s.Bearing)
	return s
}

// Unproject converts an absolute display pixel into longitude and latitude
// for a top-down view (pitch and bearing ignored) of the given size.
func (s State) Unproject(p geometry.Point2D, size geometry.Size) (lon, lat float64) {
	world := TileSize * math.Pow(2, s.Zoom)
	cx, cy := mercator(s.Longitude, s.Latitude, world)

	wx := cx + (p.X - size.Width/2)
	wy := cy + (p.Y - size.Height/2)

	ll := project.Mercator.ToWGS84(orb.Point{
		(wx/world - 0.5) * circumference,
		(0.5 - wy/world) * circumference,
	})
	return ll.Lon(), ll.Lat()
}

// Project converts longitude and latitude into an absolute display pixel.
// It is the inverse of Unproject.
func (s State) Project(lon, lat float64, size geometry.Size) geometry.Point2D {
	world := TileSize * math.Pow(2, s.Zoom)
	cx, cy := mercator(s.Longitude, s.Latitude, world)
	x, y := mercator(lon, lat, world)
	return geometry.Point2D{
		X: x - cx + size.Width/2,
		Y: y - cy + size.Height/2,
	}
}

// mercator returns the world pixel of lon, lat with the origin at the
// north-west corner.
func mercator(lon, lat, world float64) (x, y float64) {
	m := project.WGS84.ToMercator(orb.Point{lon, clamp(lat, -maxLatitude, maxLatitude)})
	return (m.X()/circumference + 0.5) * world, (0.5 - m.Y()/circumference) * world
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrap180(v float64) float64 {
	v = math.Mod(v+180, 360)
	if v < 0 {
		v += 360
	}
	return v - 180
}
