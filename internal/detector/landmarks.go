// Package detector provides the hand and object detection collaborators
// that feed the gesture and pointer pipeline.
package detector

import (
	"math"

	"github.com/ayusman/mediamap/internal/geometry"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Tips maps finger names to their tip landmark.
var Tips = map[string]int{
	"thumb":  ThumbTip,
	"index":  IndexTip,
	"middle": MiddleTip,
	"ring":   RingTip,
	"pinky":  PinkyTip,
}

// Point3D is a landmark position. X and Y are normalized to the frame
// (0..1); Z is relative depth with smaller values closer to the camera.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Planar returns landmark i projected onto the image plane.
func (h *HandLandmarks) Planar(i int) geometry.Point2D {
	return geometry.Point2D{X: h.Points[i].X, Y: h.Points[i].Y}
}

// PlanarDistance is the image-plane distance between landmarks a and b,
// ignoring depth.
func (h *HandLandmarks) PlanarDistance(a, b int) float64 {
	return h.Planar(a).Distance(h.Planar(b))
}

// Valid reports whether every coordinate is finite.
func (h *HandLandmarks) Valid() bool {
	if h == nil {
		return false
	}
	for _, p := range h.Points {
		for _, v := range [3]float64{p.X, p.Y, p.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Denormalize converts landmark i into pixels of a frame of the given size.
func (h *HandLandmarks) Denormalize(i int, size geometry.Size) geometry.Point2D {
	return size.Denormalize(h.Planar(i))
}
