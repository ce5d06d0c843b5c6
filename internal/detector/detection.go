package detector

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/mediamap/internal/geometry"
)

// DefaultExcludedClasses are object classes that mark the play surface
// itself and never produce pointer events.
var DefaultExcludedClasses = []string{"base", "pooltable"}

// Detection is one detected object. X and Y are the bounding-box center in
// capture pixels.
type Detection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Color      string  `json:"color,omitempty"`
}

// Center returns the bounding-box center.
func (d Detection) Center() geometry.Point2D {
	return geometry.Point2D{X: d.X, Y: d.Y}
}

// ObjectDetector finds objects in a frame.
type ObjectDetector interface {
	DetectObjects(frame *gocv.Mat) ([]Detection, error)
	Close() error
}

// Filter drops detections below a confidence threshold or belonging to an
// excluded class.
type Filter struct {
	MinConfidence float64
	Exclude       []string
}

// DefaultFilter keeps detections of at least 0.5 confidence outside the
// default excluded classes.
func DefaultFilter() Filter {
	return Filter{MinConfidence: 0.5, Exclude: DefaultExcludedClasses}
}

// Keep reports whether d passes the filter.
func (f Filter) Keep(d Detection) bool {
	if d.Confidence < f.MinConfidence {
		return false
	}
	for _, c := range f.Exclude {
		if d.Class == c {
			return false
		}
	}
	return true
}

// Apply returns the detections that pass, in order.
func (f Filter) Apply(ds []Detection) []Detection {
	out := make([]Detection, 0, len(ds))
	for _, d := range ds {
		if f.Keep(d) {
			out = append(out, d)
		}
	}
	return out
}
