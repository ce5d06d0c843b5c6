// Package input synthesizes pointer events from points in any registered
// coordinate space and delivers them to pluggable sinks.
package input

import (
	"errors"
	"sync"
	"time"

	"github.com/ayusman/mediamap/internal/geometry"
)

// ErrThrottled is returned when a click is dropped by the rate limiter.
var ErrThrottled = errors.New("pointer event throttled")

// EventKind is a pointer event type.
type EventKind string

const (
	Press   EventKind = "press"
	Move    EventKind = "move"
	Release EventKind = "release"
)

// Event is one raised pointer event.
type Event struct {
	Kind   EventKind        `json:"kind"`
	Point  geometry.Point2D `json:"point"`
	Target string           `json:"target"`
	Time   time.Time        `json:"time"`
}

// Sink receives pointer events. p is in absolute pixels of the sink's
// space; target names the element or surface the event is meant for.
type Sink interface {
	Raise(kind EventKind, p geometry.Point2D, target string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(kind EventKind, p geometry.Point2D, target string) error

// Raise implements Sink.
func (f SinkFunc) Raise(kind EventKind, p geometry.Point2D, target string) error {
	return f(kind, p, target)
}

// MultiSink raises each event on every sink in order. All sinks are tried;
// their errors are joined.
type MultiSink []Sink

// Raise implements Sink.
func (m MultiSink) Raise(kind EventKind, p geometry.Point2D, target string) error {
	var errs []error
	for _, s := range m {
		if err := s.Raise(kind, p, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is an in-memory Sink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SetError makes subsequent Raise calls fail with err without recording.
func (r *Recorder) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Raise implements Sink.
func (r *Recorder) Raise(kind EventKind, p geometry.Point2D, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, Event{Kind: kind, Point: p, Target: target, Time: time.Now()})
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Reset discards the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
