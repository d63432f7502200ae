package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocket transport defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultSendBuffer       = 64

	// closeGrace bounds how long a closing session may spend on its close frame.
	closeGrace = time.Second
)

// WebSocketTransport is a Transport over a gorilla WebSocket connection.
// Open dials in the background. Each session has a read goroutine delivering
// inbound text frames through the sink and a write goroutine that owns every
// write, so Send and Close never block the caller.
type WebSocketTransport struct {
	dialer       *websocket.Dialer
	header       http.Header
	pingInterval time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	log          zerolog.Logger

	mu   sync.Mutex
	conn *wsConn
}

// TransportOption configures a WebSocketTransport.
type TransportOption func(*WebSocketTransport)

// WithHeader sets extra handshake headers.
func WithHeader(header http.Header) TransportOption {
	return func(t *WebSocketTransport) {
		t.header = header.Clone()
	}
}

// WithPingInterval sets the keepalive interval. Zero disables pings.
func WithPingInterval(d time.Duration) TransportOption {
	return func(t *WebSocketTransport) {
		t.pingInterval = d
	}
}

// WithHandshakeTimeout sets the dial handshake timeout.
func WithHandshakeTimeout(d time.Duration) TransportOption {
	return func(t *WebSocketTransport) {
		t.dialer.HandshakeTimeout = d
	}
}

// WithSendBuffer sets how many outbound frames may wait for the writer.
// Send fails with ErrSendBufferFull beyond that.
func WithSendBuffer(n int) TransportOption {
	return func(t *WebSocketTransport) {
		if n > 0 {
			t.sendBuffer = n
		}
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger zerolog.Logger) TransportOption {
	return func(t *WebSocketTransport) {
		t.log = logger
	}
}

// NewWebSocketTransport creates a WebSocket transport.
func NewWebSocketTransport(opts ...TransportOption) *WebSocketTransport {
	t := &WebSocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		sendBuffer:   DefaultSendBuffer,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With().Str("component", "websocket").Logger()
	return t
}

// wsConn is one dial attempt and, if it succeeds, its connection.
type wsConn struct {
	sink   EventSink
	done   chan struct{}
	cancel context.CancelFunc
	out    chan []byte

	mu     sync.Mutex // guards ws and closed
	ws     *websocket.Conn
	closed bool
}

// Open closes any current session and dials url in the background.
func (t *WebSocketTransport) Open(ctx context.Context, url string, sink EventSink) error {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		sink:   sink,
		done:   make(chan struct{}),
		cancel: cancel,
		out:    make(chan []byte, t.sendBuffer),
	}

	t.mu.Lock()
	prev := t.conn
	t.conn = c
	t.mu.Unlock()

	if prev != nil {
		prev.close()
	}

	go t.run(ctx, url, c)
	return nil
}

// Send queues one text frame on the current session. It never waits for the
// network; write failures surface as session events.
func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	ready := c.ws != nil && !c.closed
	c.mu.Unlock()
	if !ready {
		return ErrNotConnected
	}

	select {
	case c.out <- data:
		return nil
	default:
		return &TransportError{Op: "write", Err: ErrSendBufferFull}
	}
}

// Close ends the current session. No further events are reported for it.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	c := t.conn
	t.conn = nil
	t.mu.Unlock()

	if c != nil {
		c.close()
	}
	return nil
}

func (t *WebSocketTransport) run(ctx context.Context, url string, c *wsConn) {
	defer c.cancel()

	ws, _, err := t.dialer.DialContext(ctx, url, t.header)
	if err != nil {
		c.emit(Event{Kind: EventError, Err: &TransportError{Op: "dial", Err: err}})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	readDone := make(chan struct{})
	go t.writeLoop(c, ws, readDone)

	t.log.Debug().Str("url", url).Msg("websocket connected")
	c.emit(Event{Kind: EventOpened})

	t.readLoop(c, ws)
	close(readDone)
}

func (t *WebSocketTransport) readLoop(c *wsConn, ws *websocket.Conn) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				c.emit(Event{Kind: EventClosed})
			} else {
				c.emit(Event{Kind: EventClosed, Err: &TransportError{Op: "read", Err: err}})
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.emit(Event{Kind: EventMessage, Data: data})
	}
}

// writeLoop owns every write on ws: queued frames, keepalive pings and the
// close frame. A failed write ends the session.
func (t *WebSocketTransport) writeLoop(c *wsConn, ws *websocket.Conn, readDone <-chan struct{}) {
	defer ws.Close()

	var ping <-chan time.Time
	if t.pingInterval > 0 {
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGrace))
			return
		case <-readDone:
			return
		case data := <-c.out:
			_ = ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				t.log.Debug().Err(err).Msg("write failed")
				c.emit(Event{Kind: EventError, Err: &TransportError{Op: "write", Err: err}})
				return
			}
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout)); err != nil {
				t.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// emit delivers ev unless the session was closed locally.
func (c *wsConn) emit(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	c.sink(ev)
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	close(c.done)
	c.mu.Unlock()
	c.cancel()

	// The writer sends the close frame; a writer stuck on a dead peer is cut
	// off after closeGrace.
	if ws != nil {
		time.AfterFunc(closeGrace, func() { _ = ws.Close() })
	}
}
