package input

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/transform"
)

// Config configures a Synthesizer.
type Config struct {
	Stack *transform.Stack
	Sink  Sink
	// Target is passed to the sink with every event.
	Target string
	// Sizes holds the pixel size of each space, used to center points
	// before mapping and uncenter them after. A space without a size is
	// mapped as is.
	Sizes map[transform.Space]geometry.Size
	// DragFrom and DragTo are the spaces used by Press, Move and Release.
	DragFrom transform.Space
	DragTo   transform.Space
	// Limiter, when set, throttles Synthesize clicks. Drags are never
	// throttled.
	Limiter *rate.Limiter
	Logger  logrus.FieldLogger
}

// Synthesizer maps points through the transform stack and raises pointer
// events on a sink. It is safe for concurrent use.
type Synthesizer struct {
	stack    *transform.Stack
	sink     Sink
	target   string
	from, to transform.Space
	limiter  *rate.Limiter
	log      logrus.FieldLogger

	mu    sync.RWMutex
	sizes map[transform.Space]geometry.Size
}

// NewSynthesizer creates a Synthesizer. Drags default to capture->display.
func NewSynthesizer(cfg Config) *Synthesizer {
	if cfg.Stack == nil {
		cfg.Stack = transform.NewStack()
	}
	if cfg.DragFrom == "" {
		cfg.DragFrom = transform.Capture
	}
	if cfg.DragTo == "" {
		cfg.DragTo = transform.Display
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	sizes := make(map[transform.Space]geometry.Size, len(cfg.Sizes))
	for k, v := range cfg.Sizes {
		sizes[k] = v
	}

	return &Synthesizer{
		stack:   cfg.Stack,
		sink:    cfg.Sink,
		target:  cfg.Target,
		from:    cfg.DragFrom,
		to:      cfg.DragTo,
		limiter: cfg.Limiter,
		log:     log.WithField("component", "input"),
		sizes:   sizes,
	}
}

// SetSize records the pixel size of a space.
func (s *Synthesizer) SetSize(space transform.Space, size geometry.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes[space] = size
}

// Size returns the recorded pixel size of a space.
func (s *Synthesizer) Size(space transform.Space) (geometry.Size, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size, ok := s.sizes[space]
	return size, ok
}

// Map converts an absolute pixel point in one space into absolute pixels
// of another: center by the source size, map through the stack, uncenter
// by the destination size.
func (s *Synthesizer) Map(p geometry.Point2D, from, to transform.Space) (geometry.Point2D, error) {
	s.mu.RLock()
	fromSize, toSize := s.sizes[from], s.sizes[to]
	s.mu.RUnlock()

	mapped, err := s.stack.Map(fromSize.Center(p), from, to)
	if err != nil {
		return geometry.Point2D{}, err
	}
	return toSize.Uncenter(mapped), nil
}

// Synthesize maps p and raises a click: press then release at the mapped
// point. On a mapping error or throttle nothing is raised. A failed release
// is retried once. The mapped point is returned.
func (s *Synthesizer) Synthesize(p geometry.Point2D, from, to transform.Space) (geometry.Point2D, error) {
	q, err := s.Map(p, from, to)
	if err != nil {
		return geometry.Point2D{}, fmt.Errorf("synthesize: %w", err)
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.log.WithFields(logrus.Fields{"x": q.X, "y": q.Y}).Debug("click throttled")
		return q, ErrThrottled
	}

	if err := s.raise(Press, q); err != nil {
		return q, err
	}
	if err := s.raise(Release, q); err != nil {
		// Try once more so the button is not left held down.
		if retryErr := s.raise(Release, q); retryErr != nil {
			s.log.WithError(retryErr).WithFields(logrus.Fields{"x": q.X, "y": q.Y, "target": s.target}).
				Warn("release failed twice, press left dangling")
			return q, err
		}
		s.log.WithError(err).Debug("release retried")
	}
	s.log.WithFields(logrus.Fields{"x": q.X, "y": q.Y, "target": s.target}).Debug("click synthesized")
	return q, nil
}

// Press starts a drag at p, given in DragFrom pixels.
func (s *Synthesizer) Press(p geometry.Point2D) error {
	return s.drag(Press, p)
}

// Move continues a drag.
func (s *Synthesizer) Move(p geometry.Point2D) error {
	return s.drag(Move, p)
}

// Release ends a drag.
func (s *Synthesizer) Release(p geometry.Point2D) error {
	return s.drag(Release, p)
}

func (s *Synthesizer) drag(kind EventKind, p geometry.Point2D) error {
	q, err := s.Map(p, s.from, s.to)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return s.raise(kind, q)
}

func (s *Synthesizer) raise(kind EventKind, p geometry.Point2D) error {
	if s.sink == nil {
		return nil
	}
	if err := s.sink.Raise(kind, p, s.target); err != nil {
		return fmt.Errorf("raise %s: %w", kind, err)
	}
	return nil
}
