// Package calibration collects four corner correspondences, solves the
// homography between two spaces and publishes it on the transform stack.
package calibration

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/transform"
)

// ErrNotReady is returned when a solved transform is requested before the
// session reached the Ready state.
var ErrNotReady = errors.New("calibration not ready")

// State is the lifecycle state of a Session.
type State int

const (
	// Collecting means fewer than four points have been picked.
	Collecting State = iota
	// Ready means a transform was solved (or restored) and registered.
	Ready
	// Failed means four points were picked but solving failed. Reset is
	// required before new points are accepted.
	Failed
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Collecting, Ready, Failed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown calibration state %q", text)
}

// Snapshot is the persisted form of a solved calibration. Source and
// Destination are absolute pixel coordinates; Matrix is the Matrix4 layout
// of the centered transform.
type Snapshot struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Source      [4]geometry.Point2D `json:"source"`
	Destination [4]geometry.Point2D `json:"destination"`
	Matrix      [16]float64         `json:"matrix"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Status is a point-in-time view of a session, safe to serialize.
type Status struct {
	Name   string             `json:"name"`
	From   transform.Space    `json:"from"`
	To     transform.Space    `json:"to"`
	State  State              `json:"state"`
	Points []geometry.Point2D `json:"points"`
	Matrix *[16]float64       `json:"matrix,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Config configures a Session.
type Config struct {
	// Name identifies the session in storage keys and logs.
	Name string
	// From and To name the spaces the solved transform links.
	From transform.Space
	To   transform.Space
	// SourceSize is the pixel size of the space points are picked in.
	SourceSize geometry.Size
	// TargetSize is the pixel size of the destination rectangle.
	TargetSize geometry.Size

	Stack      *transform.Stack
	Repository Repository
	Logger     logrus.FieldLogger
}

// Session is the four-point calibration state machine. It is safe for
// concurrent use.
type Session struct {
	cfg Config
	log logrus.FieldLogger

	mu      sync.Mutex
	state   State
	points  []geometry.Point2D
	snap    Snapshot
	lastErr error
	onReady []func(Snapshot)
	onReset []func()
}

// New creates a session in the Collecting state.
func New(cfg Config) *Session {
	if cfg.From == "" {
		cfg.From = transform.Capture
	}
	if cfg.To == "" {
		cfg.To = transform.Surface
	}
	if cfg.Stack == nil {
		cfg.Stack = transform.NewStack()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Session{
		cfg: cfg,
		log: log.WithFields(logrus.Fields{
			"component":   "calibration",
			"calibration": cfg.Name,
		}),
		points: make([]geometry.Point2D, 0, 4),
	}
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// Spaces returns the pair of spaces the session calibrates.
func (s *Session) Spaces() (from, to transform.Space) {
	return s.cfg.From, s.cfg.To
}

// SetSizes updates the source and target pixel sizes used for the next
// solve. It does not affect an already solved transform.
func (s *Session) SetSizes(source, target geometry.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SourceSize = source
	s.cfg.TargetSize = target
}

// OnReady registers fn to be called each time the session enters Ready,
// either by solving or by restoring. Callbacks run outside the session lock.
func (s *Session) OnReady(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = append(s.onReady, fn)
}

// OnReset registers fn to be called after every Reset, once the transform
// has been unregistered. Callbacks run outside the session lock.
func (s *Session) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = append(s.onReset, fn)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddPoint records a picked point in absolute source pixels. It returns
// false without error when the session is not collecting. The fourth point
// triggers a solve; a solve failure moves the session to Failed and is
// returned.
func (s *Session) AddPoint(p geometry.Point2D) (bool, error) {
	s.mu.Lock()
	if s.state != Collecting || len(s.points) >= 4 {
		s.mu.Unlock()
		return false, nil
	}

	s.points = append(s.points, p)
	s.log.WithField("count", len(s.points)).Debug("calibration point added")
	if len(s.points) < 4 {
		s.mu.Unlock()
		return true, nil
	}

	snap, err := s.solveLocked()
	if err != nil {
		s.state = Failed
		s.lastErr = err
		s.mu.Unlock()
		s.log.WithError(err).Warn("calibration solve failed")
		return true, err
	}

	s.enterReadyLocked(snap)
	callbacks := append([]func(Snapshot){}, s.onReady...)
	s.mu.Unlock()

	s.persist(snap)
	s.log.WithField("matrix", geometry.FromMatrix4(snap.Matrix)).Info("calibration ready")
	for _, fn := range callbacks {
		fn(snap)
	}
	return true, nil
}

// SetPoints resets the session and adds all four points.
func (s *Session) SetPoints(points [4]geometry.Point2D) error {
	s.Reset()
	for _, p := range points {
		if _, err := s.AddPoint(p); err != nil {
			return err
		}
	}
	return nil
}

// Reset returns to Collecting with no points, unregisters the transform and
// clears the persisted snapshot.
func (s *Session) Reset() {
	s.mu.Lock()
	s.state = Collecting
	s.points = s.points[:0]
	s.snap = Snapshot{}
	s.lastErr = nil
	callbacks := append([]func(){}, s.onReset...)
	s.mu.Unlock()

	s.cfg.Stack.Unregister(s.cfg.From, s.cfg.To)
	if s.cfg.Repository != nil {
		if err := s.cfg.Repository.Clear(s.cfg.Name); err != nil {
			s.log.WithError(err).Error("failed to clear persisted calibration")
		}
	}
	s.log.Info("calibration reset")
	for _, fn := range callbacks {
		fn()
	}
}

// Restore enters Ready directly from a persisted snapshot without solving.
func (s *Session) Restore(snap Snapshot) {
	if snap.Name == "" {
		snap.Name = s.cfg.Name
	}

	s.mu.Lock()
	s.points = append(s.points[:0], snap.Source[:]...)
	s.lastErr = nil
	s.enterReadyLocked(snap)
	callbacks := append([]func(Snapshot){}, s.onReady...)
	s.mu.Unlock()

	s.log.Info("calibration restored")
	for _, fn := range callbacks {
		fn(snap)
	}
}

// RestoreFrom loads the persisted snapshot from repo and restores it. It
// returns false when nothing complete was persisted.
func (s *Session) RestoreFrom(repo Repository) (bool, error) {
	snap, err := repo.Load(s.cfg.Name)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return false, nil
		}
		return false, fmt.Errorf("restore %s: %w", s.cfg.Name, err)
	}
	s.Restore(snap)
	return true, nil
}

// Transform returns the solved transform.
func (s *Session) Transform() (geometry.Transform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return geometry.Transform{}, fmt.Errorf("%s: %w", s.cfg.Name, ErrNotReady)
	}
	return geometry.FromMatrix4(s.snap.Matrix), nil
}

// Snapshot returns the ready snapshot.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return Snapshot{}, fmt.Errorf("%s: %w", s.cfg.Name, ErrNotReady)
	}
	return s.snap, nil
}

// Status returns a serializable view of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:   s.cfg.Name,
		From:   s.cfg.From,
		To:     s.cfg.To,
		State:  s.state,
		Points: append([]geometry.Point2D{}, s.points...),
	}
	if s.state == Ready {
		m := s.snap.Matrix
		st.Matrix = &m
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *Session) solveLocked() (Snapshot, error) {
	src := geometry.SortCorners([4]geometry.Point2D(s.points))
	dst := s.cfg.TargetSize.Corners()

	var srcC, dstC [4]geometry.Point2D
	for i := range src {
		srcC[i] = s.cfg.SourceSize.Center(src[i])
		dstC[i] = s.cfg.TargetSize.Center(dst[i])
	}

	h, err := geometry.Solve(geometry.NewCorrespondenceSet(srcC, dstC))
	if err != nil {
		return Snapshot{}, fmt.Errorf("calibrate %s: %w", s.cfg.Name, err)
	}

	return Snapshot{
		ID:          uuid.NewString(),
		Name:        s.cfg.Name,
		Source:      src,
		Destination: dst,
		Matrix:      h.Matrix4(),
		CreatedAt:   time.Now(),
	}, nil
}

func (s *Session) enterReadyLocked(snap Snapshot) {
	s.state = Ready
	s.snap = snap
	s.cfg.Stack.Register(s.cfg.From, s.cfg.To, geometry.FromMatrix4(snap.Matrix))
}

func (s *Session) persist(snap Snapshot) {
	if s.cfg.Repository == nil {
		return
	}
	if err := s.cfg.Repository.Save(snap); err != nil {
		s.log.WithError(err).Error("failed to persist calibration")
	}
}
