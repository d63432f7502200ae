package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-avatar/pkg/protocol"
)

// testServer is a WebSocket peer that records every text frame it receives.
type testServer struct {
	*httptest.Server
	received chan string
	conns    chan *websocket.Conn
	ended    chan error // read error that ended each connection
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		received: make(chan string, 16),
		conns:    make(chan *websocket.Conn, 4),
		ended:    make(chan error, 4),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ts.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				ts.ended <- err
				return
			}
			ts.received <- string(data)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return Event{}
	}
}

func waitString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server frame")
		return ""
	}
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	tr := NewWebSocketTransport(WithPingInterval(0))
	defer tr.Close()

	events := make(chan Event, 16)
	require.NoError(t, tr.Open(context.Background(), ts.wsURL(), func(ev Event) { events <- ev }))

	assert.Equal(t, EventOpened, waitEvent(t, events).Kind)
	server := <-ts.conns

	require.NoError(t, tr.Send([]byte(`{"type":"event"}`)))
	assert.Equal(t, `{"type":"event"}`, waitString(t, ts.received))

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"arousal","level":0.5}`)))
	ev := waitEvent(t, events)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, `{"type":"arousal","level":0.5}`, string(ev.Data))

	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	ev = waitEvent(t, events)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.NoError(t, ev.Err)
}

func TestWebSocketTransportDialFailure(t *testing.T) {
	ts := newTestServer(t)
	url := ts.wsURL()
	ts.Close()

	tr := NewWebSocketTransport(WithPingInterval(0))
	defer tr.Close()

	events := make(chan Event, 4)
	require.NoError(t, tr.Open(context.Background(), url, func(ev Event) { events <- ev }))

	ev := waitEvent(t, events)
	assert.Equal(t, EventError, ev.Kind)
	assert.True(t, IsTransportError(ev.Err))
}

func TestWebSocketTransportSendWithoutSession(t *testing.T) {
	tr := NewWebSocketTransport()
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrNotConnected)
	assert.NoError(t, tr.Close())
}

func TestWebSocketTransportCloseSilencesEvents(t *testing.T) {
	ts := newTestServer(t)
	tr := NewWebSocketTransport(WithPingInterval(0))

	events := make(chan Event, 16)
	require.NoError(t, tr.Open(context.Background(), ts.wsURL(), func(ev Event) { events <- ev }))
	require.Equal(t, EventOpened, waitEvent(t, events).Kind)
	<-ts.conns

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrNotConnected)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after close: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketTransportSendNeverBlocks(t *testing.T) {
	// The peer accepts the connection but never reads from it.
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-release
		ws.Close()
	}))
	defer srv.Close()

	tr := NewWebSocketTransport(WithPingInterval(0), WithSendBuffer(1))
	events := make(chan Event, 16)
	require.NoError(t, tr.Open(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"),
		func(ev Event) { events <- ev }))
	require.Equal(t, EventOpened, waitEvent(t, events).Kind)

	payload := make([]byte, 1<<20)
	start := time.Now()
	var err error
	for i := 0; i < 256 && err == nil; i++ {
		err = tr.Send(payload)
	}
	assert.ErrorIs(t, err, ErrSendBufferFull)
	assert.True(t, IsTransportError(err))
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	require.NoError(t, tr.Close())
}

func TestWebSocketTransportCloseReturnsImmediately(t *testing.T) {
	ts := newTestServer(t)
	tr := NewWebSocketTransport(WithPingInterval(0))

	events := make(chan Event, 16)
	require.NoError(t, tr.Open(context.Background(), ts.wsURL(), func(ev Event) { events <- ev }))
	require.Equal(t, EventOpened, waitEvent(t, events).Kind)
	<-ts.conns

	require.NoError(t, tr.Send([]byte("last words")))
	assert.Equal(t, "last words", waitString(t, ts.received))

	start := time.Now()
	require.NoError(t, tr.Close())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// The writer still delivers the close frame.
	select {
	case err := <-ts.ended:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never saw the session end")
	}
}

func TestManagerOverWebSocket(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	tr := NewWebSocketTransport(WithPingInterval(0))
	m, err := New(tr,
		WithURL(ts.wsURL()),
		WithRetry(time.Second, 3),
		WithDispatch(func(fn func()) {
			mu.Lock()
			defer mu.Unlock()
			fn()
		}),
	)
	require.NoError(t, err)

	connected := make(chan struct{}, 1)
	m.OnConnected(func() { connected <- struct{}{} })

	mu.Lock()
	m.Connect(context.Background())
	mu.Unlock()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
	}

	msg, err := protocol.Decode([]byte(waitString(t, ts.received)))
	require.NoError(t, err)
	reg, ok := msg.(protocol.Register)
	require.True(t, ok)
	assert.Equal(t, DefaultClientType, reg.ClientType)
	assert.Equal(t, DefaultCapabilities, reg.Capabilities)

	mu.Lock()
	assert.True(t, m.Send(protocol.NewStateChange("talking", "happy")))
	mu.Unlock()

	msg, err = protocol.Decode([]byte(waitString(t, ts.received)))
	require.NoError(t, err)
	assert.Equal(t, protocol.NewStateChange("talking", "happy"), msg)

	mu.Lock()
	m.Disconnect()
	state := m.State()
	mu.Unlock()
	assert.Equal(t, StateDisconnected, state)
}
