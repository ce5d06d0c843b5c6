// Package transform keeps the registry of projective transforms between
// named coordinate spaces.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ayusman/mediamap/internal/geometry"
)

// ErrUnknownSpace is returned when no transform (direct or inverse) links
// two spaces.
var ErrUnknownSpace = errors.New("unknown space pair")

// Space names a coordinate frame.
type Space string

const (
	// Capture is the camera or video frame in pixels.
	Capture Space = "capture"
	// Surface is the physical projection surface.
	Surface Space = "surface"
	// Display is the pixel space of the rendered output.
	Display Space = "display"
)

type pair struct {
	from, to Space
}

// Registration describes one registered transform.
type Registration struct {
	From      Space              `json:"from"`
	To        Space              `json:"to"`
	Transform geometry.Transform `json:"-"`
}

// Compose returns the transform equivalent to applying a then b.
func Compose(a, b geometry.Transform) geometry.Transform {
	return a.Then(b)
}

// Stack maps points between named spaces. Every registered transform is
// expected to operate in centered coordinates (origin at the canvas
// center); see geometry.Size.Center. A Stack is safe for concurrent use.
type Stack struct {
	mu    sync.RWMutex
	edges map[pair]geometry.Transform
}

// NewStack creates an empty stack.
func NewStack() *Stack {
	return &Stack{edges: make(map[pair]geometry.Transform)}
}

// Register stores t as the transform from one space to another, replacing
// any previous registration for the pair.
func (s *Stack) Register(from, to Space, t geometry.Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[pair{from, to}] = t
}

// Unregister removes the transform for the pair, if any.
func (s *Stack) Unregister(from, to Space) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, pair{from, to})
}

// Reset replaces the whole registry. Passing nil clears it.
func (s *Stack) Reset(regs []Registration) {
	edges := make(map[pair]geometry.Transform, len(regs))
	for _, r := range regs {
		edges[pair{r.From, r.To}] = r.Transform
	}

	s.mu.Lock()
	s.edges = edges
	s.mu.Unlock()
}

// Lookup returns the transform from one space to another. It uses the
// direct registration when present, otherwise inverts the reverse
// registration. Multi-hop paths are not searched.
func (s *Stack) Lookup(from, to Space) (geometry.Transform, error) {
	if from == to {
		return geometry.Identity(), nil
	}

	s.mu.RLock()
	direct, okDirect := s.edges[pair{from, to}]
	reverse, okReverse := s.edges[pair{to, from}]
	s.mu.RUnlock()

	if okDirect {
		return direct, nil
	}
	if okReverse {
		inv, err := reverse.Invert()
		if err != nil {
			return geometry.Transform{}, fmt.Errorf("invert %s->%s: %w", to, from, err)
		}
		return inv, nil
	}
	return geometry.Transform{}, fmt.Errorf("%s->%s: %w", from, to, ErrUnknownSpace)
}

// Map transforms p from one space to another.
func (s *Stack) Map(p geometry.Point2D, from, to Space) (geometry.Point2D, error) {
	t, err := s.Lookup(from, to)
	if err != nil {
		return geometry.Point2D{}, err
	}
	out, err := t.Apply(p)
	if err != nil {
		return geometry.Point2D{}, fmt.Errorf("map %s->%s: %w", from, to, err)
	}
	return out, nil
}

// Has reports whether a direct registration exists for the pair.
func (s *Stack) Has(from, to Space) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[pair{from, to}]
	return ok
}

// Registrations returns a snapshot of all direct registrations, sorted by
// from and then to.
func (s *Stack) Registrations() []Registration {
	s.mu.RLock()
	out := make([]Registration, 0, len(s.edges))
	for p, t := range s.edges {
		out = append(out, Registration{From: p.from, To: p.to, Transform: t})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
