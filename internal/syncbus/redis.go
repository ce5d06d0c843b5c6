package syncbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix namespaces keys and channels in Redis.
const DefaultPrefix = "mediamap:"

// RedisConfig configures a RedisBus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   logrus.FieldLogger
}

// RedisBus is a Bus over Redis: values are SET under the prefixed key and
// announced with PUBLISH on a channel of the same name.
type RedisBus struct {
	id     string
	prefix string
	client *redis.Client
	log    logrus.FieldLogger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// envelope is the PUBLISH payload.
type envelope struct {
	Origin string              `json:"origin"`
	Value  jsoniter.RawMessage `json:"value"`
}

// NewRedisBus connects to Redis and checks the connection with PING.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	log.WithField("addr", cfg.Addr).Info("connecting to redis")
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisBus{
		id:     uuid.NewString(),
		prefix: cfg.Prefix,
		client: client,
		log:    log.WithField("component", "syncbus"),
		subs:   make(map[*redis.PubSub]struct{}),
	}, nil
}

// ID implements Bus.
func (b *RedisBus) ID() string { return b.id }

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, key string, value []byte) error {
	return b.PublishAs(ctx, b.id, key, value)
}

// PublishAs implements Bus.
func (b *RedisBus) PublishAs(ctx context.Context, origin, key string, value []byte) error {
	if !validJSON(value) {
		return errors.New("syncbus: value is not valid JSON")
	}
	payload, err := json.Marshal(envelope{Origin: origin, Value: value})
	if err != nil {
		return err
	}

	name := b.prefix + key
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, name, value, 0)
		pipe.Publish(ctx, name, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	b.log.WithField("key", key).Debug("published")
	return nil
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(key string) (<-chan Message, func()) {
	out := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(out)
		return out, func() {}
	}
	var ps *redis.PubSub
	if key == "" {
		ps = b.client.PSubscribe(context.Background(), b.prefix+"*")
	} else {
		ps = b.client.Subscribe(context.Background(), b.prefix+key)
	}
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(out)
		for m := range ps.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.log.WithError(err).WithField("channel", m.Channel).Warn("malformed message")
				continue
			}
			msg := Message{Key: strings.TrimPrefix(m.Channel, b.prefix), Value: []byte(env.Value), Origin: env.Origin}
			select {
			case out <- msg:
			default:
				b.log.WithField("key", msg.Key).Warn("subscriber full, message dropped")
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			ps.Close()
		})
	}
}

// Latest implements Bus.
func (b *RedisBus) Latest(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoValue
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Close ends every subscription and the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for ps := range subs {
		ps.Close()
	}
	return b.client.Close()
}
