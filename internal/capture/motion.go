package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
)

// MotionConfig configures a MotionGate.
type MotionConfig struct {
	// Threshold is the percentage of pixels that must change between
	// consecutive frames to count as motion.
	Threshold float64
	// Hold keeps the gate open this long after the last motion.
	Hold time.Duration
}

// DefaultMotionConfig opens on a 1% change and holds for two seconds.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{Threshold: 1.0, Hold: 2 * time.Second}
}

// MotionResult is the outcome of one MotionGate check.
type MotionResult struct {
	// Moving is true when this frame differs from the previous one.
	Moving bool
	// Open is true while moving or within Hold of the last motion.
	Open bool
	// ChangePercent is the share of changed pixels, 0..100.
	ChangePercent float64
}

// MotionGate decides whether a frame is worth running expensive detection
// on. It differences consecutive blurred grayscale frames and stays open
// for a hold period after motion stops.
type MotionGate struct {
	threshold   float64
	hold        time.Duration
	now         func() time.Time
	prevGray    gocv.Mat
	initialized bool
	lastMotion  time.Time
	mu          sync.Mutex
}

// NewMotionGate creates a MotionGate. A non-positive threshold takes the
// default.
func NewMotionGate(cfg MotionConfig) *MotionGate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultMotionConfig().Threshold
	}
	return &MotionGate{
		threshold: cfg.Threshold,
		hold:      cfg.Hold,
		now:       time.Now,
		prevGray:  gocv.NewMat(),
	}
}

// Check analyzes a frame against the previous one. The first frame after
// creation or Reset only sets the baseline and leaves the gate open so the
// scene is inspected at least once.
func (m *MotionGate) Check(frame *gocv.Mat) MotionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return MotionResult{}
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)

	now := m.now()
	if !m.initialized {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		m.lastMotion = now
		return MotionResult{Open: true}
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	nonZero := gocv.CountNonZero(thresh)
	totalPixels := thresh.Rows() * thresh.Cols()
	changePercent := float64(nonZero) / float64(totalPixels) * 100.0

	blurred.CopyTo(&m.prevGray)

	moving := changePercent > m.threshold
	if moving {
		m.lastMotion = now
	}
	return MotionResult{
		Moving:        moving,
		Open:          moving || now.Sub(m.lastMotion) < m.hold,
		ChangePercent: changePercent,
	}
}

// Reset drops the baseline frame.
func (m *MotionGate) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

// Close releases resources used by the gate.
func (m *MotionGate) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

// SetThreshold sets the motion threshold percentage.
// Values less than or equal to 0 are ignored.
func (m *MotionGate) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
}

func (m *MotionGate) release() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
}
