package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mediamap/internal/calibration"
	"github.com/ayusman/mediamap/internal/capture"
	"github.com/ayusman/mediamap/internal/config"
	"github.com/ayusman/mediamap/internal/detector"
	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/gesture"
	"github.com/ayusman/mediamap/internal/input"
	"github.com/ayusman/mediamap/internal/store"
	"github.com/ayusman/mediamap/internal/syncbus"
	"github.com/ayusman/mediamap/internal/transform"
	"github.com/ayusman/mediamap/internal/viewport"
	"github.com/ayusman/mediamap/internal/zoning"
	"github.com/ayusman/mediamap/testdata"
)

var captureSize = geometry.Size{Width: 640, Height: 480}

type broadcast struct {
	kind string
	v    interface{}
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []broadcast
}

func (b *fakeBroadcaster) Broadcast(kind string, v interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, broadcast{kind, v})
}

func (b *fakeBroadcaster) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.kind
	}
	return out
}

type harness struct {
	app     *App
	store   *store.Store
	bus     *syncbus.MemoryBus
	camera  *capture.MockCamera
	hands   *detector.MockDetector
	objects *detector.MockObjectDetector
	sink    *input.Recorder
	events  *fakeBroadcaster
	hook    *test.Hook
}

func newStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	log, _ := test.NewNullLogger()
	s, err := store.New(filepath.Join(dir, "test.db"), store.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSettings() *config.Config {
	s := config.Default()
	s.Environment = config.Test
	s.Hands.Enabled = false
	s.Surface = config.Size{Width: 1920, Height: 1080}
	return s
}

func newHarness(t *testing.T, st *store.Store, settings *config.Config) *harness {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	h := &harness{
		store:   st,
		bus:     syncbus.NewMemoryBus(log),
		camera:  capture.NewBlankCamera(captureSize),
		hands:   detector.NewMockDetector(),
		objects: detector.NewMockObjectDetector(),
		sink:    input.NewRecorder(),
		events:  &fakeBroadcaster{},
		hook:    hook,
	}
	t.Cleanup(func() {
		h.camera.CloseFrames()
		h.bus.Close()
	})

	a, err := New(Config{
		Settings:    settings,
		Store:       st,
		Bus:         h.bus,
		Camera:      h.camera,
		Hands:       h.hands,
		Objects:     h.objects,
		Sink:        h.sink,
		Broadcaster: h.events,
		Logger:      log,
	})
	require.NoError(t, err)
	require.NoError(t, h.camera.Open())
	h.app = a
	return h
}

// calibrate maps the full camera frame and the full display onto the
// surface, so capture->display is a pure scale.
func (h *harness) calibrate(t *testing.T) {
	t.Helper()
	cam, err := h.app.Calibration(CameraCalibration)
	require.NoError(t, err)
	require.NoError(t, cam.SetPoints([4]geometry.Point2D{
		{X: 0, Y: 0}, {X: 640, Y: 0}, {X: 0, Y: 480}, {X: 640, Y: 480},
	}))
	proj, err := h.app.Calibration(ProjectionCalibration)
	require.NoError(t, err)
	require.NoError(t, proj.SetPoints([4]geometry.Point2D{
		{X: 0, Y: 0}, {X: 1920, Y: 0}, {X: 0, Y: 1080}, {X: 1920, Y: 1080},
	}))
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestApp_PanSequenceMovesViewport(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	frames, err := testdata.LoadHands(testdata.PanRight)
	require.NoError(t, err)
	h.hands.SetSequence(frames)

	start := h.app.Viewport()
	for range frames {
		h.app.Tick()
	}

	end := h.app.Viewport()
	assert.NotEqual(t, start.Longitude, end.Longitude)
	assert.InDelta(t, start.Latitude, end.Latitude, 1e-9)
	assert.Equal(t, start.Zoom, end.Zoom)

	var published viewport.State
	require.NoError(t, syncbus.LatestJSON(context.Background(), h.bus, syncbus.KeyViewport, &published))
	assert.Equal(t, end, published)

	assert.Contains(t, h.events.kinds(), KindFeedback)
	assert.Empty(t, h.sink.Events(), "viewport mode raises no pointer events")

	_, _, err = h.app.Latest().Next(context.Background(), 0)
	assert.NoError(t, err, "each pass publishes the frame for streaming")
}

func TestApp_PanActivationPolicies(t *testing.T) {
	t.Run("scale ratio uses its own threshold and the thumb", func(t *testing.T) {
		settings := testSettings()
		settings.Gestures.PanActivation = "scale_ratio"
		h := newHarness(t, newStore(t, t.TempDir()), settings)

		cfg := h.app.gestureConfig(logrus.New())
		assert.Equal(t, gesture.ScaleRatioAbove{
			Threshold: 0.5,
			RefA:      detector.ThumbTip,
			RefB:      detector.ThumbIP,
		}, cfg.Pan.Activation)
	})

	t.Run("distance", func(t *testing.T) {
		h := newHarness(t, newStore(t, t.TempDir()), testSettings())

		cfg := h.app.gestureConfig(logrus.New())
		assert.Equal(t, gesture.DistanceBelow{Threshold: 0.05}, cfg.Pan.Activation)
	})
}

func TestApp_ZoomSequence(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	frames, err := testdata.LoadHands(testdata.ZoomIn)
	require.NoError(t, err)
	h.hands.SetSequence(frames)

	start := h.app.Viewport()
	for range frames {
		h.app.Tick()
	}
	assert.Greater(t, h.app.Viewport().Zoom, start.Zoom)
	assert.Equal(t, start.Longitude, h.app.Viewport().Longitude)
}

func TestApp_IdleSequenceChangesNothing(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	frames, err := testdata.LoadHands(testdata.Idle)
	require.NoError(t, err)
	h.hands.SetSequence(frames)

	start := h.app.Viewport()
	for range frames {
		h.app.Tick()
	}
	assert.Equal(t, start, h.app.Viewport())
	_, err = h.bus.Latest(context.Background(), syncbus.KeyViewport)
	assert.ErrorIs(t, err, syncbus.ErrNoValue)
}

func TestApp_DetectorLoadingIsDebugSkip(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	h.hands.SetError(detector.ErrNotReady)

	h.app.Tick()

	entry := h.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "hand detector loading", entry.Message)
}

func TestApp_FrameNotReadyIsDebugSkip(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	h.camera.CloseFrames()

	h.app.Tick()

	entry := h.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "frame not ready", entry.Message)
	assert.Zero(t, h.hands.Calls())
}

func TestApp_ObjectClickTogglesCell(t *testing.T) {
	st := newStore(t, t.TempDir())
	h := newHarness(t, st, testSettings())
	h.objects.SetDetections([]detector.Detection{
		{X: 320, Y: 240, Width: 20, Height: 20, Class: "block", Confidence: 0.9},
		{X: 100, Y: 100, Width: 400, Height: 300, Class: "base", Confidence: 0.99},
	})

	// Not calibrated yet: no clicks.
	h.app.Tick()
	assert.Empty(t, h.sink.Events())

	h.calibrate(t)
	require.True(t, h.app.Stack().Has(transform.Capture, transform.Display))

	vp := h.app.Viewport()
	id, ok := h.app.Grid().CellAt(vp.Longitude, vp.Latitude)
	require.True(t, ok, "the initial view is centered on the grid")
	before, _ := h.app.Grid().Cell(id)

	h.app.Tick()

	require.Equal(t, []input.EventKind{input.Press, input.Release}, h.sink.Kinds())
	click := h.sink.Events()[0].Point
	assert.InDelta(t, 960, click.X, 1e-6)
	assert.InDelta(t, 540, click.Y, 1e-6)

	after, _ := h.app.Grid().Cell(id)
	assert.NotEqual(t, before.Zoning, after.Zoning)

	stored, err := st.Settings().Get(zoning.SettingsKey)
	require.NoError(t, err)
	assert.Contains(t, stored, after.Zoning)
	_, err = h.bus.Latest(context.Background(), syncbus.KeyGrid)
	assert.NoError(t, err)
	assert.Contains(t, h.events.kinds(), KindDetections)
}

func TestApp_PointerModeDrags(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	h.calibrate(t)
	h.app.SetMode(gesture.ModePointer)
	assert.Equal(t, gesture.ModePointer, h.app.Mode())

	frames, err := testdata.LoadHands(testdata.PanRight)
	require.NoError(t, err)
	h.hands.SetSequence(frames)

	start := h.app.Viewport()
	for range frames {
		h.app.Tick()
	}

	kinds := h.sink.Kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, input.Press, kinds[0])
	assert.Equal(t, input.Release, kinds[len(kinds)-1])
	assert.Contains(t, kinds, input.Move)
	assert.Equal(t, start.Longitude, h.app.Viewport().Longitude, "pan drives the pointer, not the map")
}

func TestApp_PointerModeWithoutCalibration(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	h.app.SetMode(gesture.ModePointer)
	frames, err := testdata.LoadHands(testdata.PanRight)
	require.NoError(t, err)
	h.hands.SetSequence(frames)

	assert.NotPanics(t, func() {
		for range frames {
			h.app.Tick()
		}
	})
	assert.Empty(t, h.sink.Events())
}

func TestApp_ResetCalibrationDropsComposite(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	h.calibrate(t)
	require.True(t, h.app.Stack().Has(transform.Capture, transform.Display))

	require.NoError(t, h.app.ResetCalibration(CameraCalibration))
	assert.False(t, h.app.Stack().Has(transform.Capture, transform.Display))
	assert.False(t, h.app.Stack().Has(transform.Capture, transform.Surface))
	assert.True(t, h.app.Stack().Has(transform.Display, transform.Surface))

	assert.ErrorIs(t, h.app.ResetCalibration("lidar"), ErrUnknownCalibration)
}

func TestApp_DegenerateRecalibrationDropsComposite(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	h.calibrate(t)
	require.True(t, h.app.Stack().Has(transform.Capture, transform.Display))

	cam, err := h.app.Calibration(CameraCalibration)
	require.NoError(t, err)
	err = cam.SetPoints([4]geometry.Point2D{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}})
	require.ErrorIs(t, err, geometry.ErrSingular)
	require.Equal(t, calibration.Failed, cam.State())

	assert.False(t, h.app.Stack().Has(transform.Capture, transform.Surface))
	assert.False(t, h.app.Stack().Has(transform.Capture, transform.Display))

	// A block in view must not click through the stale calibration.
	h.objects.SetDetections([]detector.Detection{{X: 320, Y: 240, Width: 10, Height: 10, Class: "block", Confidence: 0.9}})
	h.app.Tick()
	assert.Empty(t, h.sink.Events())
}

func TestApp_RestoresFromStore(t *testing.T) {
	dir := t.TempDir()
	st := newStore(t, dir)

	first := newHarness(t, st, testSettings())
	first.calibrate(t)
	_, err := first.app.SetViewport(context.Background(), viewport.State{Longitude: -77.04, Latitude: -12.05, Zoom: 13})
	require.NoError(t, err)

	second := newHarness(t, st, testSettings())
	assert.True(t, second.app.Stack().Has(transform.Capture, transform.Display))
	for _, status := range second.app.Calibrations() {
		assert.Equal(t, calibration.Ready, status.State, status.Name)
	}
	assert.Equal(t, 13.0, second.app.Viewport().Zoom)
}

func TestApp_SetViewportClamps(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	vp, err := h.app.SetViewport(context.Background(), viewport.State{Zoom: 40, Pitch: 80})
	require.NoError(t, err)
	assert.Equal(t, 22.0, vp.Zoom)
	assert.Equal(t, 60.0, vp.Pitch)
	assert.Equal(t, vp, h.app.Viewport())
}

func TestApp_ToggleCell(t *testing.T) {
	st := newStore(t, t.TempDir())
	h := newHarness(t, st, testSettings())

	cell, changed, err := h.app.ToggleCell(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, zoning.Residential, cell.Zoning)

	_, err = st.Settings().Get(zoning.SettingsKey)
	assert.NoError(t, err)

	_, _, err = h.app.ToggleCell(context.Background(), "nope")
	assert.ErrorIs(t, err, zoning.ErrCellNotFound)
}

func TestApp_FaultPolicy(t *testing.T) {
	unknown := fmt.Errorf("synthesize: %w", transform.ErrUnknownSpace)

	t.Run("development panics", func(t *testing.T) {
		s := testSettings()
		s.Environment = config.Development
		h := newHarness(t, newStore(t, t.TempDir()), s)
		assert.Panics(t, func() { h.app.fault(unknown, "click failed") })
	})

	t.Run("production warns", func(t *testing.T) {
		s := testSettings()
		s.Environment = config.Production
		h := newHarness(t, newStore(t, t.TempDir()), s)
		assert.NotPanics(t, func() { h.app.fault(unknown, "click failed") })
		assert.Equal(t, logrus.WarnLevel, h.hook.LastEntry().Level)
	})

	t.Run("throttle is debug", func(t *testing.T) {
		h := newHarness(t, newStore(t, t.TempDir()), testSettings())
		h.app.fault(input.ErrThrottled, "click failed")
		assert.Equal(t, logrus.DebugLevel, h.hook.LastEntry().Level)
	})
}

func TestApp_StartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline loop test")
	}
	s := testSettings()
	s.TickInterval = config.Duration(5 * time.Millisecond)
	h := newHarness(t, newStore(t, t.TempDir()), s)
	require.NoError(t, h.camera.Close())

	require.NoError(t, h.app.Start())
	require.NoError(t, h.app.Start(), "second Start is a no-op")

	assert.Never(t, func() bool { return h.hands.Calls() > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"disabled pipeline must not detect")

	h.app.SetEnabled(true)
	assert.Eventually(t, func() bool { return h.hands.Calls() > 2 }, time.Second, 5*time.Millisecond)

	h.app.Stop()
	assert.False(t, h.camera.IsOpen())
	h.app.Stop()
}

func TestApp_FollowsViewportFromOtherContexts(t *testing.T) {
	h := newHarness(t, newStore(t, t.TempDir()), testSettings())
	require.NoError(t, h.camera.Close())
	require.NoError(t, h.app.Start())
	defer h.app.Stop()

	want := viewport.State{Longitude: -77.06, Latitude: -12.03, Zoom: 15}
	data, err := json.Marshal(want)
	require.NoError(t, err)
	// Give the subscriber goroutine a moment to register.
	assert.Eventually(t, func() bool {
		if err := h.bus.PublishAs(context.Background(), "browser-1", syncbus.KeyViewport, data); err != nil {
			return false
		}
		return h.app.Viewport() == want
	}, time.Second, 10*time.Millisecond)
}
