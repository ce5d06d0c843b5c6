package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/mediamap/internal/geometry"
)

// ErrNoMoreFrames is returned by a non-looping MockCamera after the last
// frame.
var ErrNoMoreFrames = errors.New("no more frames")

// MockCamera plays back pre-recorded frames for testing. With no frames it
// reports ErrFrameNotReady, like a device that is still warming up.
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	size    geometry.Size
	fps     int
	reads   int
	mu      sync.Mutex
	running bool
}

// NewMockCamera creates a MockCamera. Its size is taken from the first
// frame, or DefaultWidth x DefaultHeight when there is none.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	c := &MockCamera{loop: loop, fps: DefaultFPS}
	c.setFrames(frames)
	return c
}

// NewBlankCamera creates a looping MockCamera serving one black frame of
// the given size. The caller closes the camera's frames with CloseFrames.
func NewBlankCamera(size geometry.Size) *MockCamera {
	m := gocv.NewMatWithSize(int(size.Height), int(size.Width), gocv.MatTypeCV8UC3)
	return NewMockCamera([]*gocv.Mat{&m}, true)
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}
	c.reads++

	if len(c.frames) == 0 {
		return nil, ErrFrameNotReady
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrNoMoreFrames
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) Size() geometry.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reads returns how many ReadFrame calls reached an open camera.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setFrames(frames)
}

// CloseFrames releases the frames the camera plays back.
func (c *MockCamera) CloseFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		f.Close()
	}
	c.frames = nil
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}

func (c *MockCamera) setFrames(frames []*gocv.Mat) {
	c.frames = frames
	c.index = 0
	c.size = geometry.Size{Width: DefaultWidth, Height: DefaultHeight}
	if len(frames) > 0 && !frames[0].Empty() {
		c.size = geometry.Size{Width: float64(frames[0].Cols()), Height: float64(frames[0].Rows())}
	}
}
