// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/mediamap/internal/geometry"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrFrameNotReady is returned while the device delivers no usable
	// frames yet, typically right after opening.
	ErrFrameNotReady = errors.New("camera frame not ready")
)

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller closes it.
	ReadFrame() (*gocv.Mat, error)
	// Size is the capture resolution in pixels.
	Size() geometry.Size
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Config configures a device camera.
type Config struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
	Logger   logrus.FieldLogger
}

// DefaultConfig returns a 640x480 camera on device 0.
func DefaultConfig() Config {
	return Config{Width: DefaultWidth, Height: DefaultHeight, FPS: DefaultFPS}
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	cfg     Config
	log     logrus.FieldLogger
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
	size    geometry.Size
}

// NewCamera creates a Camera for cfg. Zero fields take DefaultConfig values.
func NewCamera(cfg Config) Camera {
	def := DefaultConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &cameraImpl{
		cfg:  cfg,
		log:  log.WithFields(logrus.Fields{"component": "camera", "device": cfg.DeviceID}),
		fps:  cfg.FPS,
		size: geometry.Size{Width: float64(cfg.Width), Height: float64(cfg.Height)},
	}
}

// Open opens the camera for capturing frames and records the resolution
// the device actually granted.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.cfg.DeviceID, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	if w, h := capture.Get(gocv.VideoCaptureFrameWidth), capture.Get(gocv.VideoCaptureFrameHeight); w > 0 && h > 0 {
		c.size = geometry.Size{Width: w, Height: h}
	}

	c.capture = capture
	c.running = true
	c.log.WithFields(logrus.Fields{"width": c.size.Width, "height": c.size.Height}).Info("camera opened")

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrFrameNotReady
	}

	return &mat, nil
}

// Size returns the capture resolution.
func (c *cameraImpl) Size() geometry.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
