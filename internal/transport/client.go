package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"relaydesk/internal/models"

	"github.com/gorilla/websocket"
)

var (
	ErrUnauthorized = errors.New("stream handshake rejected")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Listener receives the raw payload of one event.
type Listener func(data json.RawMessage)

// Conn is the part of a websocket connection the client needs.
type Conn interface {
	Close() error
	ReadJSON(v interface{}) error
}

// DialFunc opens an authenticated socket for token.
type DialFunc func(ctx context.Context, url, token string) (Conn, error)

type Settings struct {
	MaxAttempts      int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		MaxAttempts:      5,
		MinDelay:         1 * time.Second,
		MaxDelay:         5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// backoff returns the wait before retry number attempt (1-based): MinDelay
// doubled per failed attempt, capped at MaxDelay.
func (s *Settings) backoff(attempt int) time.Duration {
	d := s.MinDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.MaxDelay || d <= 0 {
			return s.MaxDelay
		}
	}
	return min(d, s.MaxDelay)
}

type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// Client is one authenticated event stream. The listener table belongs to
// the current socket: every (re)connect starts with an empty table and runs
// the OnConnect hooks, which must install listeners again, before the first
// frame of the new socket is read.
type Client struct {
	url      string
	token    string
	settings *Settings
	dial     DialFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[models.EventName]Listener
	onConnect []func()
	ws        Conn
	done      chan struct{}
	running   bool

	state atomic.Int32
}

func NewClient(url, token string, settings *Settings, opts ...Option) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:       url,
		token:     token,
		settings:  settings,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[models.EventName]Listener),
	}
	c.dial = dialWebsocket(settings.HandshakeTimeout)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func dialWebsocket(timeout time.Duration) DialFunc {
	return func(ctx context.Context, url, token string) (Conn, error) {
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		}
		header := http.Header{}
		header.Set("token", token)
		header.Set("Authorization", "Bearer "+token)

		ws, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
			}
			return nil, err
		}
		return ws, nil
	}
}

// On installs the listener for name on the current socket, replacing any
// previous one.
func (c *Client) On(name models.EventName, l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[name] = l
}

// OnConnect registers fn to run after every successful handshake.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) Token() string {
	return c.token
}

// Start begins connecting in the background. Calling it while the client is
// running does nothing; calling it after reconnect attempts were exhausted
// starts a fresh round of attempts.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.ctx.Err() != nil {
		return
	}
	c.running = true
	c.done = make(chan struct{})
	c.setState(StateConnecting)
	go c.run(c.done)
}

// Close stops the client and closes the current socket. It does not wait for
// the connection loop; an event that was already being delivered may still
// reach its listener. Use Done to wait.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	ws := c.ws
	c.setState(StateDisconnected)
	c.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	return nil
}

// Done is closed when the connection loop has exited. It is nil before the
// first Start.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) run(done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.setState(StateDisconnected)
		c.mu.Unlock()
		close(done)
	}()

	log := slog.With("url", c.url, "token_hash", TokenHash(c.token))
	attempt := 0
	for {
		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.setState(StateConnecting)
		c.mu.Unlock()

		ws, err := c.dial(c.ctx, c.url, c.token)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			attempt++
			log.Warn("stream connect failed", "attempt", attempt, "error", err)
			if attempt >= c.settings.MaxAttempts {
				log.Error("stream reconnect attempts exhausted", "attempts", attempt)
				return
			}
			if !c.sleep(c.settings.backoff(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		c.serve(ws, log)

		if !c.sleep(c.settings.MinDelay) {
			return
		}
	}
}

func (c *Client) serve(ws Conn, log *slog.Logger) {
	c.mu.Lock()
	c.ws = ws
	c.listeners = make(map[models.EventName]Listener)
	hooks := slices.Clone(c.onConnect)
	c.mu.Unlock()

	// The socket may have been opened concurrently with Close.
	if c.ctx.Err() != nil {
		_ = ws.Close()
		return
	}

	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()
	}()

	for _, fn := range hooks {
		fn()
	}
	c.mu.Lock()
	if c.ctx.Err() == nil {
		c.setState(StateConnected)
	}
	c.mu.Unlock()
	log.Info("stream connected")

	for {
		var ev models.Event
		if err := ws.ReadJSON(&ev); err != nil {
			if c.ctx.Err() == nil {
				log.Warn("stream read failed", "error", err)
				c.setState(StateConnecting)
			}
			return
		}

		c.mu.Lock()
		l := c.listeners[ev.Name]
		c.mu.Unlock()

		if l == nil {
			log.Debug("no listener for event", "event", ev.Name)
			continue
		}
		l(ev.Data)
	}
}

func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// TokenHash returns a short stable fingerprint of token that is safe to log.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
