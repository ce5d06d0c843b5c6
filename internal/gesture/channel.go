// Package gesture turns per-frame hand landmarks into continuous control
// deltas. Each control axis is a Channel with its own activation test and
// smoothing; an Interpreter runs the four channels and applies their
// deltas to a map viewport or to a pointer.
package gesture

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/detector"
	"github.com/ayusman/mediamap/internal/geometry"
)

// DefaultDeadZone is the magnitude below which a delta component is zeroed.
const DefaultDeadZone = 1e-3

// ChannelConfig parameterizes one control axis.
type ChannelConfig struct {
	Name       string
	A, B       int
	Activation Activation
	Reference  Reference
	Smoothing  Smoothing
	DeadZone   float64
}

// ChannelState is the mutable per-channel state. Reference is nil while the
// channel is inactive. Accumulator sums the X component of every delta
// since activation.
type ChannelState struct {
	Active      bool
	Reference   *geometry.Point2D
	Accumulator float64
}

// Output is the result of one Update.
type Output struct {
	// Delta is the smoothed, dead-zoned change since the previous frame.
	// It is zero on the activation frame.
	Delta geometry.Point2D
	// Point is the current reference, or the last one on the stop frame.
	Point geometry.Point2D
	// Accumulator mirrors ChannelState.Accumulator after this frame.
	Accumulator float64

	Active  bool
	Started bool
	Stopped bool
}

// Channel is the activation and smoothing state machine for one axis. It is
// not safe for concurrent use.
type Channel struct {
	cfg   ChannelConfig
	state ChannelState
	log   logrus.FieldLogger
}

// NewChannel creates an inactive channel. Missing policies default to
// Midpoint references and Linear smoothing.
func NewChannel(cfg ChannelConfig, log logrus.FieldLogger) *Channel {
	if cfg.Reference == nil {
		cfg.Reference = Midpoint
	}
	if cfg.Smoothing == nil {
		cfg.Smoothing = Linear{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Channel{
		cfg: cfg,
		log: log.WithField("channel", cfg.Name),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.cfg.Name
}

// State returns a copy of the channel state.
func (c *Channel) State() ChannelState {
	st := c.state
	if st.Reference != nil {
		ref := *st.Reference
		st.Reference = &ref
	}
	return st
}

// Reset returns the channel to inactive without reporting a stop.
func (c *Channel) Reset() {
	c.state = ChannelState{}
}

// Update advances the channel by one frame. A nil hand counts as inactive.
func (c *Channel) Update(h *detector.HandLandmarks) Output {
	active := h != nil && c.cfg.Activation != nil && c.cfg.Activation.Active(h, c.cfg.A, c.cfg.B)

	if !active {
		if !c.state.Active {
			return Output{}
		}
		last := *c.state.Reference
		c.state = ChannelState{}
		c.log.Info("gesture stopped")
		return Output{Point: last, Stopped: true}
	}

	cur := c.cfg.Reference(h, c.cfg.A, c.cfg.B)

	if !c.state.Active {
		c.state = ChannelState{Active: true, Reference: &cur}
		c.log.WithFields(logrus.Fields{"x": cur.X, "y": cur.Y}).Info("gesture started")
		return Output{Point: cur, Active: true, Started: true}
	}

	delta := c.cfg.Smoothing.Delta(*c.state.Reference, cur)
	delta.X = deadZone(delta.X, c.cfg.DeadZone)
	delta.Y = deadZone(delta.Y, c.cfg.DeadZone)

	c.state.Reference = &cur
	c.state.Accumulator += delta.X

	return Output{
		Delta:       delta,
		Point:       cur,
		Accumulator: c.state.Accumulator,
		Active:      true,
	}
}

func deadZone(v, eps float64) float64 {
	if math.Abs(v) < eps {
		return 0
	}
	return v
}
