package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"relaydesk/internal/metrics"
	"relaydesk/internal/sched"
	"relaydesk/internal/transport"
)

const DefaultTeardownDelay = 2 * time.Second

var (
	ErrClosed     = errors.New("connection manager closed")
	ErrEmptyToken = errors.New("session token is empty")
)

// StreamFactory opens a stream for a session token. The stream must not
// start connecting until Start is called.
type StreamFactory func(token string) Stream

// TransportFactory returns a StreamFactory backed by websocket clients.
func TransportFactory(url string, settings *transport.Settings, opts ...transport.Option) StreamFactory {
	return func(token string) Stream {
		return transport.NewClient(url, token, settings, opts...)
	}
}

type Config struct {
	NewStream     StreamFactory
	TeardownDelay time.Duration
	Metrics       *metrics.Metrics
}

// Subscription is the handle returned by Acquire.
type Subscription struct {
	ID       string
	conn     *Connection
	handlers *Handlers
}

// Handlers returns the handler cell of the subscription.
func (s *Subscription) Handlers() *Handlers {
	return s.handlers
}

// Manager owns the single connection of the process. Consumers attach with
// Acquire and detach with Release; they never touch the stream.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	conn     *Connection
	teardown sched.Task
	closed   bool
}

func NewManager(cfg Config) *Manager {
	if cfg.TeardownDelay == 0 {
		cfg.TeardownDelay = DefaultTeardownDelay
	}
	return &Manager{cfg: cfg}
}

// Acquire attaches a subscriber for token. An existing connection for the
// same token is reused as is. A connection for another token is torn down
// first, together with all of its subscribers.
func (m *Manager) Acquire(token string, handlers *Handlers) (*Subscription, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	if handlers == nil {
		handlers = NewHandlers()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if m.conn != nil && m.conn.token != token {
		slog.Info("session token changed, closing connection",
			"old_token_hash", transport.TokenHash(m.conn.token),
			"new_token_hash", transport.TokenHash(token))
		m.teardown.Cancel()
		m.closeLocked()
	}

	if m.conn == nil {
		m.conn = newConnection(token, m.cfg.NewStream(token), m.cfg.Metrics)
		m.conn.open()
	} else if m.teardown.Cancel() {
		m.conn.log.Debug("teardown cancelled by new subscriber")
	}

	sub := m.conn.hub.Join(handlers)
	return &Subscription{
		ID:       sub.ID,
		conn:     m.conn,
		handlers: handlers,
	}, nil
}

// Release detaches the subscriber. When it was the last one, the connection
// is closed after the teardown delay unless someone acquires it first.
// Releasing a handle twice, or one from a replaced session, does nothing.
func (m *Manager) Release(sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || sub.conn != m.conn {
		return
	}
	remaining, ok := m.conn.hub.Leave(sub.ID)
	if !ok || remaining > 0 {
		return
	}

	conn := m.conn
	if m.teardown.ScheduleIfIdle(m.cfg.TeardownDelay, func() { m.teardownIdle(conn) }) {
		conn.log.Debug("last subscriber left, teardown scheduled", "delay", m.cfg.TeardownDelay)
	}
}

func (m *Manager) teardownIdle(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// An Acquire may have won the lock between the timer firing and now.
	if m.conn != conn || conn.hub.Len() > 0 {
		return
	}
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if m.conn == nil {
		return
	}
	m.conn.close()
	m.conn = nil
}

// Reacquire restarts a connection whose reconnect attempts were exhausted.
// It reports whether a restart was issued.
func (m *Manager) Reacquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.conn.State() != transport.StateDisconnected {
		return false
	}
	m.conn.log.Info("restarting exhausted stream")
	m.conn.stream.Start()
	return true
}

// State returns the state of the current connection.
func (m *Manager) State() transport.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return transport.StateDisconnected
	}
	return m.conn.State()
}

// Token returns the token of the current connection, or "".
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.token
}

// Subscribers returns the number of live subscribers.
func (m *Manager) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return 0
	}
	return m.conn.hub.Len()
}

// TeardownPending reports whether a teardown is scheduled.
func (m *Manager) TeardownPending() bool {
	return m.teardown.Pending()
}

// Close tears down the connection immediately and rejects later Acquires.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.teardown.Stop()
	m.closeLocked()
	return nil
}
