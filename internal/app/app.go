// Package app wires the camera, detectors, gesture interpreter, calibration
// sessions and pointer synthesis into the frame-driven pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ayusman/mediamap/internal/calibration"
	"github.com/ayusman/mediamap/internal/capture"
	"github.com/ayusman/mediamap/internal/config"
	"github.com/ayusman/mediamap/internal/detector"
	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/gesture"
	"github.com/ayusman/mediamap/internal/input"
	"github.com/ayusman/mediamap/internal/input/desktop"
	"github.com/ayusman/mediamap/internal/plugin"
	"github.com/ayusman/mediamap/internal/store"
	"github.com/ayusman/mediamap/internal/syncbus"
	"github.com/ayusman/mediamap/internal/transform"
	"github.com/ayusman/mediamap/internal/trips"
	"github.com/ayusman/mediamap/internal/viewport"
	"github.com/ayusman/mediamap/internal/zoning"
)

// Calibration session names.
const (
	CameraCalibration     = "camera"
	ProjectionCalibration = "projection"
)

// Broadcast kinds sent to connected clients.
const (
	KindFeedback   = "feedback"
	KindDetections = "detections"
)

// clickTarget is the target passed to sinks with every synthesized event.
const clickTarget = "map"

// ErrUnknownCalibration is returned for a calibration name other than
// "camera" or "projection".
var ErrUnknownCalibration = errors.New("unknown calibration")

// Broadcaster pushes ephemeral messages to connected clients.
type Broadcaster interface {
	Broadcast(kind string, v interface{})
}

// Config holds the collaborators of an App. Nil collaborators are built
// from Settings.
type Config struct {
	Settings *config.Config
	Store    *store.Store
	Bus      syncbus.Bus
	Camera   capture.Camera
	Hands    detector.Detector
	Objects  detector.ObjectDetector
	// Sink receives synthesized pointer events besides the zoning grid and
	// the Broadcaster.
	Sink        input.Sink
	Broadcaster Broadcaster
	Logger      logrus.FieldLogger
}

// TripsUpdate is published on the bus for every trips batch.
type TripsUpdate struct {
	Trips []trips.Trip `json:"trips"`
	Stats trips.Stats  `json:"stats"`
}

// App is the main application that turns camera frames into map and pointer
// actions.
type App struct {
	settings    *config.Config
	log         logrus.FieldLogger
	store       *store.Store
	bus         syncbus.Bus
	broadcaster Broadcaster

	camera  capture.Camera
	latest  *capture.Latest
	motion  *capture.MotionGate
	filter  detector.Filter
	stack   *transform.Stack
	repo    calibration.Repository
	synth   *input.Synthesizer
	grid    *zoning.Grid
	trips   *trips.Streamer
	plugins *plugin.Manager

	sessions map[string]*calibration.Session

	surfaceSize geometry.Size
	displaySize geometry.Size

	// pmu serializes pipeline passes and guards the interpreter and
	// detectors.
	pmu          sync.Mutex
	interp       *gesture.Interpreter
	mode         gesture.Mode
	captureSize  geometry.Size
	hands        detector.Detector
	objects      detector.ObjectDetector
	lastFeedback []byte

	vmu sync.RWMutex
	vp  viewport.State

	mu      sync.RWMutex
	enabled bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App, restoring calibrations, the grid and the viewport
// from the store.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	a := &App{
		settings:    settings,
		log:         log.WithField("component", "app"),
		store:       cfg.Store,
		bus:         cfg.Bus,
		broadcaster: cfg.Broadcaster,
		camera:      cfg.Camera,
		latest:      capture.NewLatest(),
		stack:       transform.NewStack(),
		repo:        calibration.NewStoreRepository(cfg.Store),
		hands:       cfg.Hands,
		objects:     cfg.Objects,
		plugins:     plugin.NewManager(settings.Input.PluginDir, log),
		enabled:     settings.StartEnabled,
	}
	if a.bus == nil {
		a.bus = syncbus.NewMemoryBus(log)
	}

	cam := settings.Camera
	if a.camera == nil {
		a.camera = capture.NewCamera(capture.Config{
			DeviceID: cam.DeviceID,
			Width:    cam.Width,
			Height:   cam.Height,
			FPS:      cam.FPS,
			Logger:   log,
		})
	}
	a.captureSize = geometry.Size{Width: float64(cam.Width), Height: float64(cam.Height)}
	a.surfaceSize = geometry.Size{Width: float64(settings.Surface.Width), Height: float64(settings.Surface.Height)}
	a.displaySize = resolveDisplaySize(settings, a.surfaceSize)

	if err := a.initDetectors(log); err != nil {
		return nil, err
	}

	a.motion = capture.NewMotionGate(capture.MotionConfig{
		Threshold: settings.Objects.MotionThreshold,
		Hold:      settings.Objects.MotionHold.Std(),
	})
	a.filter = detector.Filter{
		MinConfidence: settings.Objects.MinConfidence,
		Exclude:       settings.Objects.Exclude,
	}

	grid, err := zoning.Load(cfg.Store.Settings(), settings.Grid.SeedPath, settings.Grid.BBox, settings.Grid.CellKm)
	if err != nil {
		return nil, err
	}
	a.grid = grid

	a.vp = settings.Viewport.Initial
	var stored viewport.State
	switch err := cfg.Store.Settings().GetJSON(syncbus.KeyViewport, &stored); {
	case err == nil:
		a.vp = stored
	case !errors.Is(err, store.ErrNotFound):
		a.log.WithError(err).Warn("ignoring stored viewport")
	}

	extra := cfg.Sink
	if extra == nil {
		if extra, err = a.buildSink(); err != nil {
			return nil, err
		}
	}
	a.synth = input.NewSynthesizer(input.Config{
		Stack:  a.stack,
		Sink:   a.buildSinks(extra, log),
		Target: clickTarget,
		Sizes: map[transform.Space]geometry.Size{
			transform.Capture: a.captureSize,
			transform.Surface: a.surfaceSize,
			transform.Display: a.displaySize,
		},
		Limiter: clickLimiter(settings.Objects),
		Logger:  log,
	})

	if settings.Trips.URL != "" {
		a.trips, err = trips.NewStreamer(trips.Config{
			URL:            settings.Trips.URL,
			TripsPerPerson: settings.Trips.TripsPerPerson,
			Debounce:       settings.Trips.Debounce.Std(),
			OnBatch:        a.publishTrips,
			Logger:         log,
		})
		if err != nil {
			return nil, err
		}
	}

	a.mode, err = gesture.ParseMode(settings.Gestures.Mode)
	if err != nil {
		return nil, err
	}
	a.interp = gesture.NewInterpreter(a.gestureConfig(log))

	a.initCalibration(log)
	return a, nil
}

func (a *App) initDetectors(log logrus.FieldLogger) error {
	s := a.settings
	if a.hands == nil && s.Hands.Enabled {
		mp, err := detector.NewMediaPipeDetector(detector.Config{
			MaxHands:        s.Hands.MaxHands,
			MinConfidence:   s.Hands.MinConfidence,
			MinTrackingConf: s.Hands.MinTrackingConfidence,
			ScriptPath:      s.Hands.ScriptPath,
			PythonPath:      s.Hands.PythonPath,
			IdleTimeout:     s.Hands.IdleTimeout.Std(),
			Logger:          log,
		})
		if err != nil {
			a.log.WithError(err).Warn("MediaPipe not available, hand detection disabled")
			a.hands = detector.NewMockDetector()
		} else {
			a.hands = mp
			a.log.Info("using MediaPipe hand detection")
		}
	}

	if a.objects == nil && s.Objects.Enabled {
		rf, err := detector.NewRoboflowDetector(detector.RoboflowConfig{
			BaseURL:       s.Objects.URL,
			APIKey:        s.Objects.APIKey,
			Model:         s.Objects.Model,
			Version:       s.Objects.Version,
			MinConfidence: s.Objects.MinConfidence,
			Logger:        log,
		})
		if err != nil {
			return fmt.Errorf("object detection: %w", err)
		}
		a.objects = rf
	}
	return nil
}

func (a *App) buildSink() (input.Sink, error) {
	switch a.settings.Input.Sink {
	case "desktop":
		return desktop.NewSink(a.settings.Input.Button), nil
	case "plugin":
		if err := a.plugins.Discover(); err != nil {
			return nil, fmt.Errorf("discover plugins: %w", err)
		}
		p, err := a.plugins.Get(a.settings.Input.Plugin)
		if err != nil {
			return nil, fmt.Errorf("input plugin %q: %w", a.settings.Input.Plugin, err)
		}
		exec := plugin.NewExecutor(a.settings.Input.PluginTimeout.Std(), plugin.WithExecutorLogger(a.log))
		return input.NewPluginSink(exec, p, nil), nil
	default:
		return nil, nil
	}
}

// buildSinks fans events out to the zoning grid, the broadcaster when it
// is also a sink, and extra.
func (a *App) buildSinks(extra input.Sink, log logrus.FieldLogger) input.Sink {
	sinks := input.MultiSink{zoning.NewSink(zoning.SinkConfig{
		Grid:     a.grid,
		View:     a.view,
		Settings: a.store.Settings(),
		Bus:      a.bus,
		Logger:   log,
	})}
	if s, ok := a.broadcaster.(input.Sink); ok {
		sinks = append(sinks, s)
	}
	if extra != nil {
		sinks = append(sinks, extra)
	}
	return sinks
}

func clickLimiter(o config.ObjectsConfig) *rate.Limiter {
	if o.ClicksPerSecond <= 0 {
		return nil
	}
	burst := o.ClickBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.ClicksPerSecond), burst)
}

func resolveDisplaySize(s *config.Config, surface geometry.Size) geometry.Size {
	if s.Display.Width > 0 && s.Display.Height > 0 {
		return geometry.Size{Width: float64(s.Display.Width), Height: float64(s.Display.Height)}
	}
	if s.Input.Sink == "desktop" {
		return desktop.ScreenSize()
	}
	return surface
}

// gestureConfig maps the settings onto the interpreter's channel layout.
func (a *App) gestureConfig(log logrus.FieldLogger) gesture.Config {
	g := a.settings.Gestures
	cfg := gesture.DefaultConfig()

	switch g.PanActivation {
	case "scale_ratio":
		cfg.Pan.Activation = gesture.ScaleRatioAbove{
			Threshold: g.PanRatioThreshold,
			RefA:      detector.ThumbTip,
			RefB:      detector.ThumbIP,
		}
	default:
		cfg.Pan.Activation = gesture.DistanceBelow{Threshold: g.PanThreshold}
	}
	for _, ch := range []*gesture.ChannelConfig{&cfg.Zoom, &cfg.Rotate, &cfg.Tilt} {
		ch.Activation = gesture.DistanceBelow{Threshold: g.PinchThreshold}
	}
	for _, ch := range []*gesture.ChannelConfig{&cfg.Pan, &cfg.Zoom, &cfg.Rotate, &cfg.Tilt} {
		ch.DeadZone = g.DeadZone
	}
	cfg.Pan.Smoothing = gesture.Exponential{Alpha: g.Alpha}
	cfg.Zoom.Smoothing = gesture.Exponential{Alpha: g.Alpha}

	cfg.Gains = gesture.Gains{Pan: g.PanGain, Zoom: g.ZoomGain, Rotate: g.RotateGain, Tilt: g.TiltGain}
	limits := a.settings.Viewport.Limits
	cfg.Limits = &limits
	cfg.Mode = a.mode
	cfg.CaptureSize = a.captureSize
	cfg.Pointer = calibratedPointer{a}
	cfg.Logger = log
	return cfg
}

// SetEnabled enables or disables frame processing.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	changed := a.enabled != enabled
	a.enabled = enabled
	a.mu.Unlock()

	if changed {
		a.log.WithField("enabled", enabled).Info("gesture control toggled")
	}
}

// IsEnabled returns whether frame processing is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Start opens the camera and begins the pipeline and the background sync
// loops.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return err
	}
	a.camera.SetFPS(a.settings.Camera.FPS)
	a.setCaptureSize(a.camera.Size())

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	a.stopCh, a.cancel = stop, cancel

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.runPipeline(stop)
	}()
	go func() {
		defer a.wg.Done()
		zoning.Follow(ctx, a.bus, a.grid, a.log)
	}()
	go func() {
		defer a.wg.Done()
		a.followViewport(ctx)
	}()
	if a.trips != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.followGrid(ctx)
		}()
	}

	a.log.Info("pipeline started")
	return nil
}

// Stop halts the pipeline and releases the camera and detectors.
func (a *App) Stop() {
	a.mu.Lock()
	stop, cancel := a.stopCh, a.cancel
	a.stopCh, a.cancel = nil, nil
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	cancel()
	a.wg.Wait()

	if a.trips != nil {
		a.trips.Close()
	}
	if err := a.camera.Close(); err != nil {
		a.log.WithError(err).Warn("error closing camera")
	}
	a.motion.Close()

	a.pmu.Lock()
	defer a.pmu.Unlock()
	if a.hands != nil {
		if err := a.hands.Close(); err != nil {
			a.log.WithError(err).Warn("error closing hand detector")
		}
	}
	if a.objects != nil {
		if err := a.objects.Close(); err != nil {
			a.log.WithError(err).Warn("error closing object detector")
		}
	}
	a.log.Info("pipeline stopped")
}

// setCaptureSize records the granted camera resolution everywhere it is
// used.
func (a *App) setCaptureSize(size geometry.Size) {
	if size.Width <= 0 || size.Height <= 0 {
		return
	}
	a.pmu.Lock()
	defer a.pmu.Unlock()

	a.captureSize = size
	a.synth.SetSize(transform.Capture, size)
	a.sessions[CameraCalibration].SetSizes(size, a.surfaceSize)
	a.interp = gesture.NewInterpreter(a.gestureConfig(a.log))
}

// Mode returns the gesture mode.
func (a *App) Mode() gesture.Mode {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	return a.mode
}

// SetMode switches between viewport and pointer mode. Channel state is
// reset.
func (a *App) SetMode(m gesture.Mode) {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	if m == a.mode {
		return
	}
	a.mode = m
	a.interp.SetMode(m)
	a.log.WithField("mode", m).Info("gesture mode changed")
}

// Viewport returns the current map camera.
func (a *App) Viewport() viewport.State {
	a.vmu.RLock()
	defer a.vmu.RUnlock()
	return a.vp
}

// SetViewport replaces the map camera, persists it as the initial view and
// publishes it.
func (a *App) SetViewport(ctx context.Context, vp viewport.State) (viewport.State, error) {
	vp = vp.Clamp(a.settings.Viewport.Limits)
	a.vmu.Lock()
	a.vp = vp
	a.vmu.Unlock()

	if err := a.store.Settings().SetJSON(syncbus.KeyViewport, vp); err != nil {
		return vp, fmt.Errorf("save viewport: %w", err)
	}
	if err := syncbus.PublishJSON(ctx, a.bus, syncbus.KeyViewport, vp); err != nil {
		return vp, fmt.Errorf("publish viewport: %w", err)
	}
	return vp, nil
}

func (a *App) view() (viewport.State, geometry.Size) {
	return a.Viewport(), a.displaySize
}

// followViewport adopts viewports published by other contexts.
func (a *App) followViewport(ctx context.Context) {
	msgs, stop := a.bus.Subscribe(syncbus.KeyViewport)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if m.Origin == a.bus.ID() {
				continue
			}
			var vp viewport.State
			if err := json.Unmarshal(m.Value, &vp); err != nil {
				a.log.WithError(err).Warn("ignoring viewport update")
				continue
			}
			a.vmu.Lock()
			a.vp = vp
			a.vmu.Unlock()
		}
	}
}

// followGrid refetches trips for the current grid and after every grid
// change from any context.
func (a *App) followGrid(ctx context.Context) {
	msgs, stop := a.bus.Subscribe(syncbus.KeyGrid)
	defer stop()

	if data, err := a.grid.MarshalJSON(); err == nil {
		a.trips.Trigger(data)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			a.trips.Trigger(m.Value)
		}
	}
}

func (a *App) publishTrips(batch []trips.Trip, stats trips.Stats) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := syncbus.PublishJSON(ctx, a.bus, syncbus.KeyTrips, TripsUpdate{Trips: batch, Stats: stats}); err != nil {
		a.log.WithError(err).Warn("failed to publish trips")
	}
}

// ToggleCell flips one grid cell, then saves and publishes the grid when it
// changed.
func (a *App) ToggleCell(ctx context.Context, id string) (zoning.Cell, bool, error) {
	cell, changed, err := a.grid.Toggle(id)
	if err != nil || !changed {
		return cell, changed, err
	}
	return cell, true, zoning.Save(ctx, a.grid, a.store.Settings(), a.bus)
}

// Camera returns the camera.
func (a *App) Camera() capture.Camera { return a.camera }

// Latest returns the shared buffer of the most recent camera frame.
func (a *App) Latest() *capture.Latest { return a.latest }

// Stack returns the transform stack.
func (a *App) Stack() *transform.Stack { return a.stack }

// Synthesizer returns the pointer synthesizer.
func (a *App) Synthesizer() *input.Synthesizer { return a.synth }

// Grid returns the zoning grid.
func (a *App) Grid() *zoning.Grid { return a.grid }

// Bus returns the sync bus.
func (a *App) Bus() syncbus.Bus { return a.bus }

// Trips returns the trips streamer, or nil when no trips service is set.
func (a *App) Trips() *trips.Streamer { return a.trips }

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager { return a.plugins }

// Settings returns the configuration the app was built with.
func (a *App) Settings() *config.Config { return a.settings }
