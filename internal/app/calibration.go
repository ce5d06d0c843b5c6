package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/calibration"
	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/transform"
)

// initCalibration creates the camera (capture->surface) and projection
// (display->surface) sessions and restores whatever the store holds.
func (a *App) initCalibration(log logrus.FieldLogger) {
	a.sessions = map[string]*calibration.Session{
		CameraCalibration: calibration.New(calibration.Config{
			Name:       CameraCalibration,
			From:       transform.Capture,
			To:         transform.Surface,
			SourceSize: a.captureSize,
			TargetSize: a.surfaceSize,
			Stack:      a.stack,
			Repository: a.repo,
			Logger:     log,
		}),
		ProjectionCalibration: calibration.New(calibration.Config{
			Name:       ProjectionCalibration,
			From:       transform.Display,
			To:         transform.Surface,
			SourceSize: a.displaySize,
			TargetSize: a.surfaceSize,
			Stack:      a.stack,
			Repository: a.repo,
			Logger:     log,
		}),
	}

	for _, s := range a.sessions {
		s.OnReady(func(calibration.Snapshot) { a.compose() })
		s.OnReset(a.compose)
		if _, err := s.RestoreFrom(a.repo); err != nil {
			a.log.WithError(err).WithField("calibration", s.Name()).Warn("could not restore calibration")
		}
	}
}

// compose registers capture->display as capture->surface followed by
// surface->display once both sessions are ready, and removes it otherwise.
func (a *App) compose() {
	captureToSurface, err := a.sessions[CameraCalibration].Transform()
	if err != nil {
		a.stack.Unregister(transform.Capture, transform.Display)
		return
	}
	displayToSurface, err := a.sessions[ProjectionCalibration].Transform()
	if err != nil {
		a.stack.Unregister(transform.Capture, transform.Display)
		return
	}
	surfaceToDisplay, err := displayToSurface.Invert()
	if err != nil {
		a.log.WithError(err).Error("projection calibration cannot be inverted")
		a.stack.Unregister(transform.Capture, transform.Display)
		return
	}

	a.stack.Register(transform.Capture, transform.Display, transform.Compose(captureToSurface, surfaceToDisplay))
	a.log.Info("capture mapped to display")
}

// Calibration returns the named session.
func (a *App) Calibration(name string) (*calibration.Session, error) {
	s, ok := a.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalibration, name)
	}
	return s, nil
}

// Calibrations returns the status of both sessions.
func (a *App) Calibrations() []calibration.Status {
	return []calibration.Status{
		a.sessions[CameraCalibration].Status(),
		a.sessions[ProjectionCalibration].Status(),
	}
}

// ResetCalibration resets the named session. The session's reset hook
// drops the composed capture->display transform.
func (a *App) ResetCalibration(name string) error {
	s, err := a.Calibration(name)
	if err != nil {
		return err
	}
	s.Reset()
	return nil
}

// calibratedPointer forwards drags to the synthesizer once capture is
// mapped to display. Before that, drags are dropped.
type calibratedPointer struct {
	a *App
}

func (p calibratedPointer) ready() bool {
	if p.a.stack.Has(transform.Capture, transform.Display) {
		return true
	}
	p.a.log.Debug("capture not calibrated to display, drag skipped")
	return false
}

func (p calibratedPointer) Press(pt geometry.Point2D) error {
	if !p.ready() {
		return nil
	}
	return p.a.synth.Press(pt)
}

func (p calibratedPointer) Move(pt geometry.Point2D) error {
	if !p.ready() {
		return nil
	}
	return p.a.synth.Move(pt)
}

func (p calibratedPointer) Release(pt geometry.Point2D) error {
	if !p.ready() {
		return nil
	}
	return p.a.synth.Release(pt)
}
