package gesture

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/detector"
	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/viewport"
)

// Mode selects what the pan channel drives.
type Mode int

const (
	// ModeViewport applies all channel deltas to the map viewport.
	ModeViewport Mode = iota
	// ModePointer turns the pan channel into a press/move/release drag.
	ModePointer
)

func (m Mode) String() string {
	switch m {
	case ModeViewport:
		return "viewport"
	case ModePointer:
		return "pointer"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "viewport", "":
		return ModeViewport, nil
	case "pointer":
		return ModePointer, nil
	default:
		return ModeViewport, fmt.Errorf("unknown gesture mode %q", s)
	}
}

// Pointer receives drag events in capture pixels.
type Pointer interface {
	Press(p geometry.Point2D) error
	Move(p geometry.Point2D) error
	Release(p geometry.Point2D) error
}

// Gains are the linear factors applied to each channel's delta.
type Gains struct {
	Pan    float64
	Zoom   float64
	Rotate float64
	Tilt   float64
}

// FeedbackConfig sizes the visual cues reported with each frame.
type FeedbackConfig struct {
	// ZoomRadius is the base radius in pixels of the zoom circle.
	ZoomRadius float64
	// ZoomScale multiplies the zoom accumulator in the radius formula.
	ZoomScale float64
	// BearingScale converts the rotate accumulator into radians.
	BearingScale float64
	// BearingSpan is the largest sweep in radians either side of the rest
	// angle.
	BearingSpan float64
	// PitchScale converts the tilt accumulator into the line offset.
	PitchScale float64
}

// Config configures an Interpreter.
type Config struct {
	Pan    ChannelConfig
	Zoom   ChannelConfig
	Rotate ChannelConfig
	Tilt   ChannelConfig

	Gains    Gains
	Feedback FeedbackConfig
	Mode     Mode

	// Limits, when set, clamps the viewport after each frame.
	Limits *viewport.Limits
	// CaptureSize scales normalized landmarks to capture pixels in
	// pointer mode.
	CaptureSize geometry.Size
	// Pointer receives drags in ModePointer.
	Pointer Pointer

	Logger logrus.FieldLogger
}

// DefaultConfig returns the channel layout used with MediaPipe hands:
// pan pinches thumb and index, zoom thumb and middle (depth), rotate thumb
// and ring, tilt thumb and pinky.
func DefaultConfig() Config {
	return Config{
		Pan: ChannelConfig{
			Name:       "pan",
			A:          detector.ThumbTip,
			B:          detector.IndexTip,
			Activation: DistanceBelow{Threshold: 0.05},
			Reference:  Midpoint,
			Smoothing:  Exponential{Alpha: 0.8},
			DeadZone:   DefaultDeadZone,
		},
		Zoom: ChannelConfig{
			Name:       "zoom",
			A:          detector.ThumbTip,
			B:          detector.MiddleTip,
			Activation: DistanceBelow{Threshold: 0.1},
			Reference:  Depth,
			Smoothing:  Exponential{Alpha: 0.8},
			DeadZone:   DefaultDeadZone,
		},
		Rotate: ChannelConfig{
			Name:       "rotate",
			A:          detector.ThumbTip,
			B:          detector.RingTip,
			Activation: DistanceBelow{Threshold: 0.1},
			Reference:  Midpoint,
			Smoothing:  Direct{},
			DeadZone:   DefaultDeadZone,
		},
		Tilt: ChannelConfig{
			Name:       "tilt",
			A:          detector.ThumbTip,
			B:          detector.PinkyTip,
			Activation: DistanceBelow{Threshold: 0.1},
			Reference:  MidpointY,
			Smoothing:  Direct{},
			DeadZone:   DefaultDeadZone,
		},
		Gains: Gains{Pan: 20, Zoom: 20, Rotate: 10, Tilt: 10},
		Feedback: FeedbackConfig{
			ZoomRadius:   50,
			ZoomScale:    20,
			BearingScale: 10,
			BearingSpan:  0.5 * math.Pi,
			PitchScale:   1,
		},
		Mode: ModeViewport,
	}
}

// Arc is a circular arc in normalized canvas coordinates; angles are
// radians.
type Arc struct {
	Center geometry.Point2D `json:"center"`
	Radius float64          `json:"radius"`
	Start  float64          `json:"start"`
	End    float64          `json:"end"`
}

// Line is a segment in normalized canvas coordinates.
type Line struct {
	From geometry.Point2D `json:"from"`
	To   geometry.Point2D `json:"to"`
}

// Feedback describes the visual cues for the active channels. A nil field
// means the channel is inactive.
type Feedback struct {
	PanCross bool  `json:"pan_cross"`
	Zoom     *Arc  `json:"zoom,omitempty"`
	Bearing  *Arc  `json:"bearing,omitempty"`
	Pitch    *Line `json:"pitch,omitempty"`
}

// Frame is the result of processing one set of detections.
type Frame struct {
	Hand     bool
	Pan      Output
	Zoom     Output
	Rotate   Output
	Tilt     Output
	Feedback Feedback
	// Changed is true when the viewport was modified.
	Changed bool
}

// restBearing is the angle the bearing arc sweeps from.
const restBearing = -1.5 * math.Pi

var canvasCenter = geometry.Point2D{X: 0.5, Y: 0.5}

// Interpreter runs the four channels per frame. It owns their state and is
// not safe for concurrent use.
type Interpreter struct {
	cfg Config
	log logrus.FieldLogger

	pan, zoom, rotate, tilt *Channel
}

// NewInterpreter creates an interpreter with all channels inactive.
func NewInterpreter(cfg Config) *Interpreter {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "gesture")

	return &Interpreter{
		cfg:    cfg,
		log:    log,
		pan:    NewChannel(cfg.Pan, log),
		zoom:   NewChannel(cfg.Zoom, log),
		rotate: NewChannel(cfg.Rotate, log),
		tilt:   NewChannel(cfg.Tilt, log),
	}
}

// Mode returns the active mode.
func (in *Interpreter) Mode() Mode {
	return in.cfg.Mode
}

// SetMode switches between viewport and pointer mode. Channel state is
// reset so a drag in progress is not carried across.
func (in *Interpreter) SetMode(m Mode) {
	if m == in.cfg.Mode {
		return
	}
	in.cfg.Mode = m
	in.Reset()
}

// Reset deactivates every channel.
func (in *Interpreter) Reset() {
	for _, c := range in.channels() {
		c.Reset()
	}
}

// Channels returns a copy of each channel's state keyed by name.
func (in *Interpreter) Channels() map[string]ChannelState {
	out := make(map[string]ChannelState, 4)
	for _, c := range in.channels() {
		out[c.Name()] = c.State()
	}
	return out
}

// Process advances all channels with the first detected hand and applies
// the deltas to vp. Hands after the first are ignored, and a hand with
// non-finite coordinates counts as no hand. The returned error
// comes from the Pointer in pointer mode; the viewport is still updated.
func (in *Interpreter) Process(hands []detector.HandLandmarks, vp *viewport.State) (Frame, error) {
	var hand *detector.HandLandmarks
	if len(hands) > 0 && hands[0].Valid() {
		hand = &hands[0]
	}

	f := Frame{
		Hand:   hand != nil,
		Pan:    in.pan.Update(hand),
		Zoom:   in.zoom.Update(hand),
		Rotate: in.rotate.Update(hand),
		Tilt:   in.tilt.Update(hand),
	}

	var err error
	if in.cfg.Mode == ModePointer {
		err = in.drag(f.Pan)
	}
	if vp != nil {
		f.Changed = in.apply(f, vp)
	}
	f.Feedback = in.feedback(f)
	return f, err
}

func (in *Interpreter) apply(f Frame, vp *viewport.State) bool {
	before := *vp
	g := in.cfg.Gains

	if in.cfg.Mode == ModeViewport && f.Pan.Active {
		vp.Longitude -= f.Pan.Delta.X * g.Pan
		vp.Latitude -= f.Pan.Delta.Y * g.Pan
	}
	if f.Zoom.Active {
		vp.Zoom += f.Zoom.Delta.X * g.Zoom
	}
	if f.Rotate.Active {
		vp.Bearing += f.Rotate.Delta.X * g.Rotate
	}
	if f.Tilt.Active {
		vp.Pitch += f.Tilt.Delta.X * g.Tilt
	}

	if in.cfg.Limits != nil {
		*vp = vp.Clamp(*in.cfg.Limits)
	}
	return *vp != before
}

func (in *Interpreter) drag(pan Output) error {
	if in.cfg.Pointer == nil {
		return nil
	}
	p := in.cfg.CaptureSize.Denormalize(pan.Point)

	switch {
	case pan.Started:
		return in.cfg.Pointer.Press(p)
	case pan.Active:
		return in.cfg.Pointer.Move(p)
	case pan.Stopped:
		return in.cfg.Pointer.Release(p)
	}
	return nil
}

func (in *Interpreter) feedback(f Frame) Feedback {
	fc := in.cfg.Feedback
	var fb Feedback

	fb.PanCross = f.Pan.Active

	if f.Zoom.Active {
		r := math.Max(0, fc.ZoomRadius*(1+f.Zoom.Accumulator*fc.ZoomScale))
		fb.Zoom = &Arc{Center: canvasCenter, Radius: r, Start: math.Pi, End: 2 * math.Pi}
	}

	if f.Rotate.Active {
		angle := restBearing + f.Rotate.Accumulator*fc.BearingScale
		angle = math.Max(restBearing-fc.BearingSpan, math.Min(restBearing+fc.BearingSpan, angle))
		fb.Bearing = &Arc{
			Center: canvasCenter,
			Radius: fc.ZoomRadius,
			Start:  math.Min(restBearing, angle),
			End:    math.Max(restBearing, angle),
		}
	}

	if f.Tilt.Active {
		y := 0.5 * (1 + f.Tilt.Accumulator*fc.PitchScale)
		y = math.Max(0, math.Min(1, y))
		fb.Pitch = &Line{
			From: geometry.Point2D{X: 0.5, Y: math.Min(0.5, y)},
			To:   geometry.Point2D{X: 0.5, Y: math.Max(0.5, y)},
		}
	}
	return fb
}

func (in *Interpreter) channels() []*Channel {
	return []*Channel{in.pan, in.zoom, in.rotate, in.tilt}
}
