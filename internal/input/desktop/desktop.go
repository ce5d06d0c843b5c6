// Package desktop drives the operating system pointer through robotgo.
// It lives apart from package input so that input and its tests build
// without the native automation libraries.
package desktop

import (
	"fmt"
	"math"

	"github.com/go-vgo/robotgo"

	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/input"
)

// Sink drives the operating system pointer. Points are absolute screen
// pixels; the target is ignored.
type Sink struct {
	button string
}

var _ input.Sink = (*Sink)(nil)

// NewSink creates a Sink pressing button ("left", "right" or "center").
// An empty button means "left".
func NewSink(button string) *Sink {
	if button == "" {
		button = "left"
	}
	return &Sink{button: button}
}

// Raise implements input.Sink.
func (d *Sink) Raise(kind input.EventKind, p geometry.Point2D, _ string) error {
	robotgo.Move(int(math.Round(p.X)), int(math.Round(p.Y)))

	switch kind {
	case input.Move:
		return nil
	case input.Press:
		return robotgo.Toggle(d.button)
	case input.Release:
		return robotgo.Toggle(d.button, "up")
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
}

// ScreenSize returns the primary display size in pixels.
func ScreenSize() geometry.Size {
	w, h := robotgo.GetScreenSize()
	return geometry.Size{Width: float64(w), Height: float64(h)}
}
