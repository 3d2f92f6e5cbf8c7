package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaydesk/internal/models"
	"relaydesk/internal/transport"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeStream stands in for a websocket client. Start performs a handshake
// synchronously; reconnect drops the listener table and handshakes again.
type fakeStream struct {
	token string
	log   *eventLog

	mu        sync.Mutex
	listeners map[models.EventName]transport.Listener
	hooks     []func()
	starts    int
	closes    int
	state     transport.State
}

func (f *fakeStream) On(name models.EventName, l transport.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[name] = l
}

func (f *fakeStream) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, fn)
}

func (f *fakeStream) Start() {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	f.log.add("start " + f.token)
	f.handshake()
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closes++
	f.state = transport.StateDisconnected
	f.listeners = make(map[models.EventName]transport.Listener)
	f.mu.Unlock()
	f.log.add("close " + f.token)
	return nil
}

func (f *fakeStream) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStream) handshake() {
	f.mu.Lock()
	f.listeners = make(map[models.EventName]transport.Listener)
	hooks := append([]func(){}, f.hooks...)
	f.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	f.mu.Lock()
	f.state = transport.StateConnected
	f.mu.Unlock()
}

func (f *fakeStream) reconnect() {
	f.mu.Lock()
	f.state = transport.StateConnecting
	f.mu.Unlock()
	f.handshake()
}

func (f *fakeStream) exhaust() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = make(map[models.EventName]transport.Listener)
	f.state = transport.StateDisconnected
}

func (f *fakeStream) emit(t *testing.T, name models.EventName, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	f.mu.Lock()
	l := f.listeners[name]
	f.mu.Unlock()
	if l != nil {
		l(raw)
	}
}

func (f *fakeStream) counts() (starts, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.closes
}

type eventLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

type streamFactory struct {
	log eventLog

	mu      sync.Mutex
	streams []*fakeStream
}

func (s *streamFactory) New(token string) Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &fakeStream{
		token:     token,
		log:       &s.log,
		listeners: make(map[models.EventName]transport.Listener),
	}
	s.streams = append(s.streams, f)
	return f
}

func (s *streamFactory) get(i int) *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[i]
}

func (s *streamFactory) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func newTestManager(t *testing.T, delay time.Duration) (*Manager, *streamFactory) {
	f := &streamFactory{}
	m := NewManager(Config{NewStream: f.New, TeardownDelay: delay})
	t.Cleanup(func() { _ = m.Close() })
	return m, f
}

// recorder collects the instance ids of groups-changed events.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) handlers() *Handlers {
	return NewHandlers().Set(models.EventGroupsChanged, Decode(r.record))
}

func (r *recorder) record(ev models.GroupsChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev.InstanceID)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestManager_SameTokenSharesConnection(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	var a, b recorder
	subA, err := m.Acquire("tok", a.handlers())
	require.NoError(t, err)
	subB, err := m.Acquire("tok", b.handlers())
	require.NoError(t, err)
	require.NotEqual(t, subA.ID, subB.ID)

	require.Equal(t, 1, f.len())
	require.Equal(t, 2, m.Subscribers())
	require.Equal(t, "tok", m.Token())
	require.Equal(t, transport.StateConnected, m.State())

	f.get(0).emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "i1"})
	require.Equal(t, []string{"i1"}, a.events())
	require.Equal(t, []string{"i1"}, b.events())

	starts, closes := f.get(0).counts()
	require.Equal(t, 1, starts)
	require.Equal(t, 0, closes)
}

func TestManager_AcquireRejectsEmptyToken(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	_, err := m.Acquire("", nil)
	require.ErrorIs(t, err, ErrEmptyToken)
	require.Equal(t, 0, f.len())
}

func TestManager_AcquireAfterClose(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	_, err := m.Acquire("tok", nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, closes := f.get(0).counts()
	require.Equal(t, 1, closes)

	_, err = m.Acquire("tok", nil)
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, 1, f.len())
	require.NoError(t, m.Close())
}

func TestManager_TeardownAfterLastRelease(t *testing.T) {
	m, f := newTestManager(t, 20*time.Millisecond)

	subA, err := m.Acquire("tok", nil)
	require.NoError(t, err)
	subB, err := m.Acquire("tok", nil)
	require.NoError(t, err)

	m.Release(subA)
	require.False(t, m.TeardownPending())

	m.Release(subB)
	require.True(t, m.TeardownPending())

	require.Eventually(t, func() bool {
		_, closes := f.get(0).counts()
		return closes == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "", m.Token())
	require.Equal(t, 0, m.Subscribers())
	require.Equal(t, transport.StateDisconnected, m.State())

	// The next Acquire opens a fresh connection.
	_, err = m.Acquire("tok", nil)
	require.NoError(t, err)
	require.Equal(t, 2, f.len())
}

func TestManager_AcquireWithinTeardownWindowReusesConnection(t *testing.T) {
	m, f := newTestManager(t, 50*time.Millisecond)

	sub, err := m.Acquire("tok", nil)
	require.NoError(t, err)
	m.Release(sub)
	require.True(t, m.TeardownPending())

	var r recorder
	_, err = m.Acquire("tok", r.handlers())
	require.NoError(t, err)
	require.False(t, m.TeardownPending())

	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 1, f.len())
	starts, closes := f.get(0).counts()
	require.Equal(t, 1, starts)
	require.Equal(t, 0, closes)

	f.get(0).emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "i1"})
	require.Equal(t, []string{"i1"}, r.events())
}

func TestManager_TokenSwitchClosesOldConnectionFirst(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	var a1, a2, b recorder
	subA, err := m.Acquire("token-a", a1.handlers())
	require.NoError(t, err)
	_, err = m.Acquire("token-a", a2.handlers())
	require.NoError(t, err)

	_, err = m.Acquire("token-b", b.handlers())
	require.NoError(t, err)

	require.Equal(t, []string{"start token-a", "close token-a", "start token-b"}, f.log.all())
	require.Equal(t, "token-b", m.Token())
	require.Equal(t, 1, m.Subscribers())

	f.get(0).emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "old"})
	f.get(1).emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "new"})
	require.Empty(t, a1.events())
	require.Empty(t, a2.events())
	require.Equal(t, []string{"new"}, b.events())

	// A handle from the replaced session no longer affects the manager.
	m.Release(subA)
	require.Equal(t, 1, m.Subscribers())
	require.False(t, m.TeardownPending())
}

func TestManager_ListenersSurviveReconnect(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	var a, b recorder
	_, err := m.Acquire("tok", a.handlers())
	require.NoError(t, err)
	_, err = m.Acquire("tok", b.handlers())
	require.NoError(t, err)

	stream := f.get(0)
	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "before"})
	stream.reconnect()
	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "after"})

	require.Equal(t, []string{"before", "after"}, a.events())
	require.Equal(t, []string{"before", "after"}, b.events())
	require.Equal(t, 1, f.len())
}

func TestManager_Reacquire(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	var r recorder
	_, err := m.Acquire("tok", r.handlers())
	require.NoError(t, err)
	require.False(t, m.Reacquire())

	stream := f.get(0)
	stream.exhaust()
	require.Equal(t, transport.StateDisconnected, m.State())

	require.True(t, m.Reacquire())
	starts, _ := stream.counts()
	require.Equal(t, 2, starts)

	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "i1"})
	require.Equal(t, []string{"i1"}, r.events())
}

func TestManager_ReplacedHandlerWins(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	var first, second recorder
	h := first.handlers()
	sub, err := m.Acquire("tok", h)
	require.NoError(t, err)
	require.Same(t, h, sub.Handlers())

	stream := f.get(0)
	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "one"})
	sub.Handlers().Set(models.EventGroupsChanged, Decode(second.record))
	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "two"})
	sub.Handlers().Clear(models.EventGroupsChanged)
	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{InstanceID: "three"})

	require.Equal(t, []string{"one"}, first.events())
	require.Equal(t, []string{"two"}, second.events())
}

func TestManager_ReleaseFromHandler(t *testing.T) {
	m, f := newTestManager(t, time.Hour)

	var sub *Subscription
	var calls atomic.Int32
	h := NewHandlers().Set(models.EventGroupsChanged, func(json.RawMessage) {
		calls.Add(1)
		m.Release(sub)
	})
	sub, err := m.Acquire("tok", h)
	require.NoError(t, err)

	stream := f.get(0)
	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{})
	stream.emit(t, models.EventGroupsChanged, models.GroupsChanged{})

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 0, m.Subscribers())
	require.True(t, m.TeardownPending())
}

func TestHub_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	h := NewHub(nil)

	var r recorder
	h.Join(NewHandlers().Set(models.EventGroupsChanged, func(json.RawMessage) {
		panic("boom")
	}))
	h.Join(r.handlers())
	h.Join(NewHandlers())

	raw, err := json.Marshal(models.GroupsChanged{InstanceID: "i1"})
	require.NoError(t, err)
	require.NotPanics(t, func() { h.Dispatch(models.EventGroupsChanged, raw) })
	require.Equal(t, []string{"i1"}, r.events())
}

func TestHub_LeaveAndClear(t *testing.T) {
	h := NewHub(nil)

	a := h.Join(NewHandlers())
	b := h.Join(NewHandlers())
	require.Equal(t, 2, h.Len())

	remaining, ok := h.Leave(a.ID)
	require.True(t, ok)
	require.Equal(t, 1, remaining)
	require.True(t, a.left.Load())

	_, ok = h.Leave(a.ID)
	require.False(t, ok)

	require.Equal(t, 1, h.Clear())
	require.True(t, b.left.Load())
	require.Equal(t, 0, h.Len())
}

func TestDecode_DropsMalformedPayload(t *testing.T) {
	var r recorder
	fn := Decode(r.record)
	fn(json.RawMessage(`{"instanceId": 42}`))
	fn(json.RawMessage(`{"instanceId": "i1"}`))
	require.Equal(t, []string{"i1"}, r.events())
}

// TestManager_OverWebsocket drives the manager against a real stream server
// that drops the first session.
func TestManager_OverWebsocket(t *testing.T) {
	var accepted atomic.Int32
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != "tok" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := accepted.Add(1)

		raw, _ := json.Marshal(models.GroupsChanged{InstanceID: "session"})
		_ = conn.WriteJSON(models.Event{Name: models.EventGroupsChanged, Data: raw})
		if n == 1 {
			return
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	settings := &transport.Settings{
		MaxAttempts:      3,
		MinDelay:         5 * time.Millisecond,
		MaxDelay:         20 * time.Millisecond,
		HandshakeTimeout: time.Second,
	}
	m := NewManager(Config{
		NewStream:     TransportFactory("ws"+strings.TrimPrefix(srv.URL, "http"), settings),
		TeardownDelay: time.Hour,
	})
	defer m.Close()

	var r recorder
	_, err := m.Acquire("tok", r.handlers())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(r.events()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(2), accepted.Load())
	require.Eventually(t, func() bool {
		return m.State() == transport.StateConnected
	}, time.Second, 5*time.Millisecond)
}
