package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gocv.io/x/gocv"

	"github.com/ayusman/mediamap/internal/capture"
	"github.com/ayusman/mediamap/internal/detector"
	"github.com/ayusman/mediamap/internal/gesture"
	"github.com/ayusman/mediamap/internal/input"
	"github.com/ayusman/mediamap/internal/syncbus"
	"github.com/ayusman/mediamap/internal/transform"
	"github.com/ayusman/mediamap/internal/viewport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// runPipeline runs one pass per tick until stop is closed. Passes never
// overlap; a slow pass delays the next tick.
func (a *App) runPipeline(stop <-chan struct{}) {
	ticker := time.NewTicker(a.settings.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !a.IsEnabled() {
				continue
			}
			a.Tick()
		}
	}
}

// Tick runs one pipeline pass: read a frame, publish it for streaming,
// interpret hands and turn detected objects into clicks.
func (a *App) Tick() {
	a.pmu.Lock()
	defer a.pmu.Unlock()

	frame, err := a.camera.ReadFrame()
	if err != nil {
		if errors.Is(err, capture.ErrFrameNotReady) {
			a.log.Debug("frame not ready")
			return
		}
		a.log.WithError(err).Warn("error reading frame")
		return
	}
	defer frame.Close()

	if err := a.latest.Store(frame); err != nil {
		a.log.WithError(err).Debug("preview encode failed")
	}

	a.processHands(frame)
	a.processObjects(frame)
}

func (a *App) processHands(frame *gocv.Mat) {
	if a.hands == nil {
		return
	}

	hands, err := a.hands.Detect(frame)
	if err != nil {
		if errors.Is(err, detector.ErrNotReady) {
			a.log.Debug("hand detector loading")
			return
		}
		a.log.WithError(err).Warn("error detecting hands")
		return
	}

	vp := a.Viewport()
	f, err := a.interp.Process(hands, &vp)
	if err != nil {
		a.fault(err, "pointer drag failed")
	}
	if f.Changed {
		a.applyGestureViewport(vp)
	}
	a.broadcastFeedback(f)
}

// applyGestureViewport stores a viewport produced by the interpreter and
// announces it.
func (a *App) applyGestureViewport(vp viewport.State) {
	a.vmu.Lock()
	a.vp = vp
	a.vmu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := syncbus.PublishJSON(ctx, a.bus, syncbus.KeyViewport, vp); err != nil {
		a.log.WithError(err).Warn("failed to publish viewport")
	}
}

// broadcastFeedback sends the visual cues when they differ from the last
// ones sent.
func (a *App) broadcastFeedback(f gesture.Frame) {
	if a.broadcaster == nil {
		return
	}
	data, err := json.Marshal(f.Feedback)
	if err != nil {
		return
	}
	if bytes.Equal(data, a.lastFeedback) {
		return
	}
	a.lastFeedback = data
	a.broadcaster.Broadcast(KindFeedback, f.Feedback)
}

func (a *App) processObjects(frame *gocv.Mat) {
	if a.objects == nil {
		return
	}
	if !a.motion.Check(frame).Open {
		return
	}

	found, err := a.objects.DetectObjects(frame)
	if err != nil {
		a.log.WithError(err).Warn("error detecting objects")
		return
	}
	kept := a.filter.Apply(found)
	if a.broadcaster != nil && len(found) > 0 {
		a.broadcaster.Broadcast(KindDetections, kept)
	}
	if len(kept) == 0 {
		return
	}

	if !a.stack.Has(transform.Capture, transform.Display) {
		a.log.WithField("detections", len(kept)).Debug("capture not calibrated to display, clicks skipped")
		return
	}
	for _, d := range kept {
		if _, err := a.synth.Synthesize(d.Center(), transform.Capture, transform.Display); err != nil {
			a.fault(err, fmt.Sprintf("click for %s failed", d.Class))
		}
	}
}

// fault reports a failure raised while synthesizing input. A missing
// transform panics in development and is logged in production.
func (a *App) fault(err error, msg string) {
	switch {
	case errors.Is(err, input.ErrThrottled):
		a.log.Debug("click throttled")
	case errors.Is(err, transform.ErrUnknownSpace):
		if a.settings.IsDevelopment() {
			panic(fmt.Sprintf("%s: %v", msg, err))
		}
		a.log.WithError(err).Warn(msg)
	default:
		a.log.WithError(err).Warn(msg)
	}
}
