// Package geometry provides the planar primitives used to reconcile the
// camera frame with the projected surface: points, canvas sizes, point
// correspondences and projective transforms (homographies).
package geometry

import (
	"math"
	"sort"
)

// Point2D is an immutable 2D point. The same type carries normalized
// (0..1) and pixel coordinates; callers must know which space a value is in.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point2D{X: x, Y: y}.
func Pt(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Add returns p + q.
func (p Point2D) Add(q Point2D) Point2D {
	return Point2D{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns p - q.
func (p Point2D) Sub(q Point2D) Point2D {
	return Point2D{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale returns p multiplied component-wise by k.
func (p Point2D) Scale(k float64) Point2D {
	return Point2D{X: p.X * k, Y: p.Y * k}
}

// Distance returns the Euclidean distance between p and q.
func (p Point2D) Distance(q Point2D) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Midpoint returns the point halfway between p and q.
func (p Point2D) Midpoint(q Point2D) Point2D {
	return Point2D{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// ApproxEqual reports whether p and q differ by at most tol on each axis.
func (p Point2D) ApproxEqual(q Point2D, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol && math.Abs(p.Y-q.Y) <= tol
}

// Size is the pixel extent of a canvas, video frame or viewport.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Half returns the canvas center in absolute pixel coordinates.
func (s Size) Half() Point2D {
	return Point2D{X: s.Width / 2, Y: s.Height / 2}
}

// Center moves p from absolute pixel coordinates into coordinates whose
// origin is the canvas center. All registered transforms work in
// centered coordinates.
func (s Size) Center(p Point2D) Point2D {
	return p.Sub(s.Half())
}

// Uncenter is the inverse of Center.
func (s Size) Uncenter(p Point2D) Point2D {
	return p.Add(s.Half())
}

// Denormalize scales a normalized (0..1) point to absolute pixels.
func (s Size) Denormalize(p Point2D) Point2D {
	return Point2D{X: p.X * s.Width, Y: p.Y * s.Height}
}

// Corners returns the canvas corners in absolute pixels, ordered
// top-left, top-right, bottom-left, bottom-right.
func (s Size) Corners() [4]Point2D {
	return [4]Point2D{
		{X: 0, Y: 0},
		{X: s.Width, Y: 0},
		{X: 0, Y: s.Height},
		{X: s.Width, Y: s.Height},
	}
}

// CenteredCorners returns Corners in centered coordinates.
func (s Size) CenteredCorners() [4]Point2D {
	c := s.Corners()
	for i := range c {
		c[i] = s.Center(c[i])
	}
	return c
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// SortCorners orders four points as top-left, top-right, bottom-left,
// bottom-right: the two smallest y values form the top pair, then each
// pair is ordered by ascending x.
func SortCorners(points [4]Point2D) [4]Point2D {
	sorted := points
	s := sorted[:]
	sort.SliceStable(s, func(i, j int) bool { return s[i].Y < s[j].Y })

	top := s[:2]
	bottom := s[2:]
	sort.SliceStable(top, func(i, j int) bool { return top[i].X < top[j].X })
	sort.SliceStable(bottom, func(i, j int) bool { return bottom[i].X < bottom[j].X })

	return sorted
}
