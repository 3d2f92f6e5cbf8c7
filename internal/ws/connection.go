package ws

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"relaydesk/internal/metrics"
	"relaydesk/internal/models"
	"relaydesk/internal/transport"
)

// Stream is the transport a Connection drives. *transport.Client implements it.
type Stream interface {
	On(name models.EventName, l transport.Listener)
	OnConnect(fn func())
	Start()
	Close() error
	State() transport.State
}

// Connection binds one stream, opened for one token, to the hub of its
// subscribers. Listeners on the stream only route into the hub.
type Connection struct {
	token   string
	stream  Stream
	hub     *Hub
	metrics *metrics.Metrics
	log     *slog.Logger

	handshakes atomic.Int32
	closed     atomic.Bool
}

func newConnection(token string, stream Stream, m *metrics.Metrics) *Connection {
	c := &Connection{
		token:   token,
		stream:  stream,
		hub:     NewHub(m),
		metrics: m,
		log:     slog.With("token_hash", transport.TokenHash(token)),
	}
	stream.OnConnect(c.installListeners)
	return c
}

// installListeners runs after every handshake, before the stream reads its
// first frame. A new socket has no listeners, so skipping this after a
// reconnect would silently drop every later event.
func (c *Connection) installListeners() {
	if c.handshakes.Add(1) > 1 {
		c.metrics.Reconnected()
		c.log.Info("stream reconnected, listeners reinstalled")
	}
	for _, name := range models.EventNames {
		c.stream.On(name, func(data json.RawMessage) {
			c.route(name, data)
		})
	}
}

func (c *Connection) route(name models.EventName, data json.RawMessage) {
	if c.closed.Load() {
		return
	}
	if name == models.EventError {
		var e models.StreamError
		_ = json.Unmarshal(data, &e)
		c.log.Warn("stream reported error", "code", e.Code, "message", e.Message)
	}
	c.hub.Dispatch(name, data)
}

func (c *Connection) open() {
	c.metrics.ConnectionOpened()
	c.stream.Start()
}

// close detaches every subscriber and closes the stream.
func (c *Connection) close() {
	if c.closed.Swap(true) {
		return
	}
	n := c.hub.Clear()
	if err := c.stream.Close(); err != nil {
		c.log.Warn("error closing stream", "error", err)
	}
	c.metrics.ConnectionClosed()
	c.log.Info("connection closed", "discarded_subscribers", n)
}

func (c *Connection) Token() string {
	return c.token
}

func (c *Connection) State() transport.State {
	return c.stream.State()
}
