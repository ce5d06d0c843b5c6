package input

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/plugin"
	"github.com/ayusman/mediamap/internal/transform"
)

var (
	captureSize = geometry.Size{Width: 640, Height: 480}
	displaySize = geometry.Size{Width: 1280, Height: 720}
)

// scaleStack registers capture->display as the centered scale that maps
// the capture frame onto the display.
func scaleStack() *transform.Stack {
	s := transform.NewStack()
	s.Register(transform.Capture, transform.Display, geometry.NewTransform([9]float64{
		displaySize.Width / captureSize.Width, 0, 0,
		0, displaySize.Height / captureSize.Height, 0,
		0, 0, 1,
	}))
	return s
}

func newSynth(t *testing.T, sink Sink, limiter *rate.Limiter) *Synthesizer {
	t.Helper()
	log, _ := test.NewNullLogger()
	return NewSynthesizer(Config{
		Stack:   scaleStack(),
		Sink:    sink,
		Target:  "map",
		Sizes:   map[transform.Space]geometry.Size{transform.Capture: captureSize, transform.Display: displaySize},
		Limiter: limiter,
		Logger:  log,
	})
}

func TestSynthesize_PressThenRelease(t *testing.T) {
	rec := NewRecorder()
	s := newSynth(t, rec, nil)

	got, err := s.Synthesize(geometry.Pt(160, 120), transform.Capture, transform.Display)
	require.NoError(t, err)

	want := geometry.Pt(320, 180)
	assert.True(t, got.ApproxEqual(want, 1e-9), "got %+v", got)

	events := rec.Events()
	require.Len(t, events, 2)
	if diff := cmp.Diff([]EventKind{Press, Release}, rec.Kinds()); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	for _, e := range events {
		assert.True(t, e.Point.ApproxEqual(want, 1e-9))
		assert.Equal(t, "map", e.Target)
	}
}

func TestSynthesize_CenterMapsToCenter(t *testing.T) {
	rec := NewRecorder()
	s := newSynth(t, rec, nil)

	got, err := s.Synthesize(captureSize.Half(), transform.Capture, transform.Display)
	require.NoError(t, err)
	assert.True(t, got.ApproxEqual(displaySize.Half(), 1e-9))
}

func TestSynthesize_InverseDirection(t *testing.T) {
	rec := NewRecorder()
	s := newSynth(t, rec, nil)

	got, err := s.Synthesize(geometry.Pt(1280, 720), transform.Display, transform.Capture)
	require.NoError(t, err)
	assert.True(t, got.ApproxEqual(geometry.Pt(640, 480), 1e-9))
}

func TestSynthesize_FailureRaisesNothing(t *testing.T) {
	t.Run("unknown space", func(t *testing.T) {
		rec := NewRecorder()
		s := newSynth(t, rec, nil)

		_, err := s.Synthesize(geometry.Pt(1, 1), transform.Capture, transform.Surface)
		require.Error(t, err)
		assert.True(t, errors.Is(err, transform.ErrUnknownSpace))
		assert.Empty(t, rec.Events())
	})

	t.Run("point at infinity", func(t *testing.T) {
		rec := NewRecorder()
		s := newSynth(t, rec, nil)
		// w = x vanishes at the capture center once centered.
		s.stack.Register(transform.Capture, transform.Surface, geometry.NewTransform([9]float64{1, 0, 0, 0, 1, 0, 1, 0, 0}))

		_, err := s.Synthesize(captureSize.Half(), transform.Capture, transform.Surface)
		require.Error(t, err)
		assert.True(t, errors.Is(err, geometry.ErrPointAtInfinity))
		assert.Empty(t, rec.Events())
	})
}

func TestSynthesize_Throttled(t *testing.T) {
	rec := NewRecorder()
	s := newSynth(t, rec, rate.NewLimiter(rate.Every(time.Hour), 1))

	_, err := s.Synthesize(geometry.Pt(10, 10), transform.Capture, transform.Display)
	require.NoError(t, err)

	_, err = s.Synthesize(geometry.Pt(20, 20), transform.Capture, transform.Display)
	assert.True(t, errors.Is(err, ErrThrottled))
	assert.Len(t, rec.Events(), 2)
}

func TestSynthesize_SinkError(t *testing.T) {
	rec := NewRecorder()
	rec.SetError(errors.New("no display"))
	s := newSynth(t, rec, nil)

	_, err := s.Synthesize(geometry.Pt(10, 10), transform.Capture, transform.Display)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raise press")
}

// flakyRelease records events and fails the next failures releases.
type flakyRelease struct {
	*Recorder
	failures int
}

func (f *flakyRelease) Raise(kind EventKind, p geometry.Point2D, target string) error {
	if kind == Release && f.failures > 0 {
		f.failures--
		return errors.New("release lost")
	}
	return f.Recorder.Raise(kind, p, target)
}

func TestSynthesize_ReleaseFailure(t *testing.T) {
	t.Run("retried once", func(t *testing.T) {
		sink := &flakyRelease{Recorder: NewRecorder(), failures: 1}
		s := newSynth(t, sink, nil)

		_, err := s.Synthesize(geometry.Pt(10, 10), transform.Capture, transform.Display)
		require.NoError(t, err)
		assert.Equal(t, []EventKind{Press, Release}, sink.Kinds())
	})

	t.Run("dangling press is logged", func(t *testing.T) {
		log, hook := test.NewNullLogger()
		sink := &flakyRelease{Recorder: NewRecorder(), failures: 2}
		s := NewSynthesizer(Config{
			Stack:  scaleStack(),
			Sink:   sink,
			Sizes:  map[transform.Space]geometry.Size{transform.Capture: captureSize, transform.Display: displaySize},
			Logger: log,
		})

		_, err := s.Synthesize(geometry.Pt(10, 10), transform.Capture, transform.Display)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "raise release")
		assert.Equal(t, []EventKind{Press}, sink.Kinds())

		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Contains(t, entry.Message, "dangling")
	})
}

func TestDrag(t *testing.T) {
	rec := NewRecorder()
	s := newSynth(t, rec, rate.NewLimiter(rate.Every(time.Hour), 1))

	require.NoError(t, s.Press(geometry.Pt(0, 0)))
	require.NoError(t, s.Move(geometry.Pt(320, 240)))
	require.NoError(t, s.Release(geometry.Pt(640, 480)))

	events := rec.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []EventKind{Press, Move, Release}, rec.Kinds())
	assert.True(t, events[0].Point.ApproxEqual(geometry.Pt(0, 0), 1e-9))
	assert.True(t, events[1].Point.ApproxEqual(geometry.Pt(640, 360), 1e-9))
	assert.True(t, events[2].Point.ApproxEqual(geometry.Pt(1280, 720), 1e-9))
}

func TestSetSize(t *testing.T) {
	s := newSynth(t, NewRecorder(), nil)

	_, ok := s.Size(transform.Surface)
	assert.False(t, ok)

	s.SetSize(transform.Surface, geometry.Size{Width: 100, Height: 50})
	size, ok := s.Size(transform.Surface)
	assert.True(t, ok)
	assert.Equal(t, 100.0, size.Width)
}

func TestMultiSink(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	failing := SinkFunc(func(EventKind, geometry.Point2D, string) error { return errors.New("down") })

	err := MultiSink{a, failing, b}.Raise(Press, geometry.Pt(1, 2), "grid")

	require.Error(t, err)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestPluginSink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "events.log")
	script := "#!/bin/sh\ncat >> " + out + "\necho >> " + out + "\necho '{\"success\":true}'\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pointer.sh"), []byte(script), 0755))

	p := &plugin.Plugin{
		Manifest:   plugin.Manifest{Name: "pointer", Executable: "pointer.sh", Events: []string{"press", "release"}},
		Path:       dir,
		Executable: filepath.Join(dir, "pointer.sh"),
	}
	sink := NewPluginSink(plugin.NewExecutor(5*time.Second), p, nil)

	require.NoError(t, sink.Raise(Press, geometry.Pt(3, 4), "map"))
	require.NoError(t, sink.Raise(Move, geometry.Pt(5, 6), "map"))
	require.NoError(t, sink.Raise(Release, geometry.Pt(3, 4), "map"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"press"`)
	assert.Contains(t, string(data), `"event":"release"`)
	assert.NotContains(t, string(data), `"event":"move"`)
}

func TestPluginSink_Failure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	script := "#!/bin/sh\necho '{\"success\":false,\"error\":\"no X server\"}'\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pointer.sh"), []byte(script), 0755))

	p := &plugin.Plugin{
		Manifest:   plugin.Manifest{Name: "pointer"},
		Path:       dir,
		Executable: filepath.Join(dir, "pointer.sh"),
	}
	err := NewPluginSink(plugin.NewExecutor(5*time.Second), p, nil).Raise(Press, geometry.Pt(0, 0), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no X server")
}
