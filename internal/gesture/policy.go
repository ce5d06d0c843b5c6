package gesture

import (
	"github.com/ayusman/mediamap/internal/detector"
	"github.com/ayusman/mediamap/internal/geometry"
)

// ratioEpsilon keeps the scale ratio finite when two landmarks touch.
const ratioEpsilon = 0.001

// Activation decides whether a channel is engaged for a hand, given the
// two landmark indices the channel measures.
type Activation interface {
	Active(h *detector.HandLandmarks, a, b int) bool
}

// DistanceBelow engages when the planar distance between the two landmarks
// is below Threshold (normalized image units).
type DistanceBelow struct {
	Threshold float64
}

// Active implements Activation.
func (d DistanceBelow) Active(h *detector.HandLandmarks, a, b int) bool {
	return h.PlanarDistance(a, b) < d.Threshold
}

// ScaleRatioAbove engages when a hand-scale reference distance, measured
// between RefA and RefB, divided by the distance between the channel's two
// landmarks exceeds Threshold. It is insensitive to how far the hand is
// from the camera.
type ScaleRatioAbove struct {
	Threshold  float64
	RefA, RefB int
}

// Active implements Activation.
func (s ScaleRatioAbove) Active(h *detector.HandLandmarks, a, b int) bool {
	scale := h.PlanarDistance(s.RefA, s.RefB)
	d := h.PlanarDistance(a, b)
	return scale/(d+ratioEpsilon) > s.Threshold
}

// Reference extracts the tracked reference point of a channel.
type Reference func(h *detector.HandLandmarks, a, b int) geometry.Point2D

// Midpoint tracks the x,y midpoint of the two landmarks.
func Midpoint(h *detector.HandLandmarks, a, b int) geometry.Point2D {
	pa, pb := h.Planar(a), h.Planar(b)
	return pa.Midpoint(pb)
}

// MidpointY tracks only the vertical midpoint, reported in X.
func MidpointY(h *detector.HandLandmarks, a, b int) geometry.Point2D {
	return geometry.Point2D{X: (h.Points[a].Y + h.Points[b].Y) / 2}
}

// Depth tracks the mean depth of the two landmarks, reported in X.
func Depth(h *detector.HandLandmarks, a, b int) geometry.Point2D {
	return geometry.Point2D{X: (h.Points[a].Z + h.Points[b].Z) / 2}
}

// Smoothing turns the previous reference and the current reading into a
// per-frame delta.
type Smoothing interface {
	Delta(ref, cur geometry.Point2D) geometry.Point2D
}

// Exponential blends the current reading into the reference:
// delta = ref - (Alpha*ref + (1-Alpha)*cur).
type Exponential struct {
	Alpha float64
}

// Delta implements Smoothing.
func (e Exponential) Delta(ref, cur geometry.Point2D) geometry.Point2D {
	smoothed := ref.Scale(e.Alpha).Add(cur.Scale(1 - e.Alpha))
	return ref.Sub(smoothed)
}

// Linear applies no smoothing: delta = ref - cur.
type Linear struct{}

// Delta implements Smoothing.
func (Linear) Delta(ref, cur geometry.Point2D) geometry.Point2D {
	return ref.Sub(cur)
}

// Direct applies no smoothing and follows the hand: delta = cur - ref.
// Rotate and tilt use it so moving right raises the bearing and moving
// down raises the pitch.
type Direct struct{}

// Delta implements Smoothing.
func (Direct) Delta(ref, cur geometry.Point2D) geometry.Point2D {
	return cur.Sub(ref)
}
