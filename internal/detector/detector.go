package detector

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrNotReady is returned while a detector is still loading its model.
// Callers should skip the frame and try again on the next one.
var ErrNotReady = errors.New("detector not ready")

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 1).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ScriptPath and PythonPath override the service script and interpreter
	// lookup. Empty means search the usual locations.
	ScriptPath string
	PythonPath string

	// IdleTimeout shuts the service down after this long without frames.
	IdleTimeout time.Duration

	Logger logrus.FieldLogger
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		IdleTimeout:     30 * time.Second,
	}
}
