package syncbus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// subscriberBuffer is the per-subscriber queue length. A subscriber that
// falls further behind loses messages.
const subscriberBuffer = 32

type subscriber struct {
	key string
	ch  chan Message
}

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	id  string
	log logrus.FieldLogger

	mu     sync.RWMutex
	latest map[string][]byte
	subs   map[*subscriber]struct{}
	closed bool
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus(log logrus.FieldLogger) *MemoryBus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MemoryBus{
		id:     uuid.NewString(),
		log:    log.WithField("component", "syncbus"),
		latest: make(map[string][]byte),
		subs:   make(map[*subscriber]struct{}),
	}
}

// ID implements Bus.
func (b *MemoryBus) ID() string { return b.id }

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, key string, value []byte) error {
	return b.PublishAs(ctx, b.id, key, value)
}

// PublishAs implements Bus.
func (b *MemoryBus) PublishAs(ctx context.Context, origin, key string, value []byte) error {
	if !validJSON(value) {
		return errors.New("syncbus: value is not valid JSON")
	}
	msg := Message{Key: key, Value: append([]byte(nil), value...), Origin: origin}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.latest[msg.Key] = msg.Value
	for s := range b.subs {
		if s.key != "" && s.key != msg.Key {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			b.log.WithField("key", msg.Key).Warn("subscriber full, message dropped")
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(key string) (<-chan Message, func()) {
	s := &subscriber{key: key, ch: make(chan Message, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
}

// Latest implements Bus.
func (b *MemoryBus) Latest(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.latest[key]
	if !ok {
		return nil, ErrNoValue
	}
	return append([]byte(nil), v...), nil
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
	return nil
}
