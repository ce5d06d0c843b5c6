package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/input"
	"github.com/ayusman/mediamap/internal/syncbus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 2 * pingInterval
	sendBuffer   = 32
	maxMessage   = 4 << 20
)

// KindPointer is the message kind of synthesized pointer events.
const KindPointer = "pointer"

// relayed maps the bus keys shared with clients to their message kinds.
var relayed = map[string]string{
	syncbus.KeyViewport: "viewport",
	syncbus.KeyGrid:     "grid",
	syncbus.KeyTrips:    "trips",
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Message is the envelope sent to clients.
type Message struct {
	Kind   string              `json:"kind"`
	Key    string              `json:"key,omitempty"`
	Origin string              `json:"origin,omitempty"`
	Value  jsoniter.RawMessage `json:"value"`
}

// publish is what clients send to share state with other contexts.
type publish struct {
	Key   string              `json:"key"`
	Value jsoniter.RawMessage `json:"value"`
}

type pointerEvent struct {
	Kind   input.EventKind `json:"kind"`
	X      float64         `json:"x"`
	Y      float64         `json:"y"`
	Target string          `json:"target"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// dropped is set once the client fell behind; it gets nothing after.
	dropped atomic.Bool
}

// Hub fans app events and bus updates out to websocket clients, and relays
// client publishes back to the bus. It implements app.Broadcaster and
// input.Sink.
type Hub struct {
	bus syncbus.Bus
	log logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

var _ input.Sink = (*Hub)(nil)

// NewHub creates a Hub. Call Start to relay bus updates.
func NewHub(bus syncbus.Bus, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		bus:     bus,
		log:     log.WithField("component", "hub"),
		clients: make(map[*client]struct{}),
	}
}

// Start subscribes to every shared bus key and relays updates to clients
// until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	for key, kind := range relayed {
		msgs, stop := h.bus.Subscribe(key)
		go func(key, kind string) {
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-msgs:
					if !ok {
						return
					}
					h.send(Message{Kind: kind, Key: key, Origin: m.Origin, Value: m.Value})
				}
			}
		}(key, kind)
	}
}

// Broadcast sends v to every client under kind.
func (h *Hub) Broadcast(kind string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).WithField("kind", kind).Warn("failed to encode broadcast")
		return
	}
	h.send(Message{Kind: kind, Value: data})
}

// Raise implements input.Sink by broadcasting the event so the browser can
// dispatch it on the map.
func (h *Hub) Raise(kind input.EventKind, p geometry.Point2D, target string) error {
	h.Broadcast(KindPointer, pointerEvent{Kind: kind, X: p.X, Y: p.Y, Target: target})
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// send queues m for every client. A client whose buffer is full is
// disconnected rather than skipped, so it never sees a stream with holes
// such as a press without its release.
func (h *Hub) send(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.log.WithError(err).Warn("failed to encode message")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.dropped.Load() {
			continue
		}
		select {
		case c.send <- data:
		default:
			if c.dropped.CompareAndSwap(false, true) {
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
}

// drop forgets a client that fell behind and closes its connection, which
// ends its read loop.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.log.WithField("client", c.id).Warn("client too slow, disconnecting")
	if c.conn != nil {
		c.conn.Close()
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade error")
		return
	}

	c := &client{id: uuid.New().String(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log := h.log.WithField("client", c.id)
	log.Debug("client connected")

	done := make(chan struct{})
	go h.writeLoop(c, done)

	h.readLoop(r.Context(), c, log)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	conn.Close()
	log.Debug("client disconnected")
}

func (h *Hub) readLoop(ctx context.Context, c *client, log logrus.FieldLogger) {
	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var p publish
		if err := json.Unmarshal(data, &p); err != nil {
			log.WithError(err).Warn("ignoring malformed publish")
			continue
		}
		if _, ok := relayed[p.Key]; !ok || len(p.Value) == 0 {
			log.WithField("key", p.Key).Warn("ignoring publish for unshared key")
			continue
		}
		if err := h.bus.PublishAs(ctx, c.id, p.Key, p.Value); err != nil {
			log.WithError(err).WithField("key", p.Key).Warn("failed to relay publish")
		}
	}
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
