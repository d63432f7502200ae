package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/protocol"
)

// Transport opens and carries one text-message session at a time.
//
// Open begins establishing a session and returns without waiting for the
// handshake; its outcome is reported through sink. Open must close any
// session it replaces. Close must not report further events for the closed
// session.
type Transport interface {
	Open(ctx context.Context, url string, sink EventSink) error
	Send(data []byte) error
	Close() error
}

// Manager owns the connection lifecycle.
//
// Manager is not safe for concurrent use. Every method, and every transport
// event delivered through Config.Dispatch, must run on one goroutine.
type Manager struct {
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	transport Transport
	dispatch  func(fn func())

	state           State
	shouldReconnect bool
	exhausted       bool
	attempts        int
	retryTimer      time.Duration

	// session increments on every open, close and failure; events tagged with
	// an older session are stale.
	session       uint64
	registrations int

	ctx    context.Context
	cancel context.CancelFunc

	onConnected    func()
	onDisconnected func(err error)
	onMessage      func(data []byte)
	onStateChange  func(from, to State)
}

// New creates a Manager on top of transport.
func New(transport Transport, opts ...Option) (*Manager, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}

	m := &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "connection").Logger(),
		metrics:   cfg.Metrics,
		transport: transport,
		dispatch:  dispatch,
		state:     StateDisconnected,
	}
	m.metrics.SetConnectionState(m.state.String())
	return m, nil
}

// OnConnected sets the callback fired after each successful register.
func (m *Manager) OnConnected(callback func()) {
	m.onConnected = callback
}

// OnDisconnected sets the callback fired when an established session is lost,
// when Disconnect closes one, and when retries are exhausted
// (err is ErrReconnectExhausted).
func (m *Manager) OnDisconnected(callback func(err error)) {
	m.onDisconnected = callback
}

// OnMessage sets the callback for inbound text frames.
func (m *Manager) OnMessage(callback func(data []byte)) {
	m.onMessage = callback
}

// OnStateChange sets the callback fired on every state transition.
func (m *Manager) OnStateChange(callback func(from, to State)) {
	m.onStateChange = callback
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.state
}

// Attempts returns the reconnect attempts made since the last successful
// connect or Connect call.
func (m *Manager) Attempts() int {
	return m.attempts
}

// Exhausted reports whether retries gave up. Connect clears it.
func (m *Manager) Exhausted() bool {
	return m.exhausted
}

// Registrations returns the total number of register messages sent.
func (m *Manager) Registrations() int {
	return m.registrations
}

// Connect opens a session. It is a no-op when already connected; otherwise it
// resets the retry state and enables reconnection. A Connect while an open is
// already in flight only resets the retry state.
func (m *Manager) Connect(ctx context.Context) {
	if m.state == StateConnected {
		return
	}

	m.shouldReconnect = true
	m.exhausted = false
	m.attempts = 0
	m.retryTimer = 0

	if m.state == StateConnecting {
		return
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.open()
}

// Disconnect cancels any pending reconnect and closes the session.
// The manager stays Disconnected until the next Connect.
func (m *Manager) Disconnect() {
	m.shouldReconnect = false
	m.retryTimer = 0
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	prev := m.state
	m.session++
	if err := m.transport.Close(); err != nil {
		m.log.Debug().Err(err).Msg("transport close")
	}
	m.setState(StateDisconnected)

	if prev == StateConnected {
		m.log.Info().Msg("disconnected")
		if m.onDisconnected != nil {
			m.onDisconnected(nil)
		}
	}
}

// Send encodes and transmits msg. Messages are dropped, without error, unless
// the manager is connected. It reports whether the message was written.
func (m *Manager) Send(msg protocol.Message) bool {
	if m.state != StateConnected {
		return false
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		m.log.Warn().Err(err).Str("type", string(msg.Type())).Msg("encode failed")
		return false
	}
	if err := m.transport.Send(data); err != nil {
		m.log.Warn().Err(err).Str("type", string(msg.Type())).Msg("send failed")
		return false
	}

	m.metrics.MessageSent(string(msg.Type()))
	return true
}

// OnTick advances the reconnect timer by dt. Call it once per frame.
func (m *Manager) OnTick(dt time.Duration) {
	if m.state != StateReconnecting || !m.shouldReconnect {
		return
	}

	m.retryTimer -= dt
	if m.retryTimer > 0 {
		return
	}

	if m.attempts >= m.cfg.MaxAttempts {
		m.giveUp()
		return
	}

	m.attempts++
	m.metrics.ReconnectAttempt()
	m.log.Info().
		Int("attempt", m.attempts).
		Int("max_attempts", m.cfg.MaxAttempts).
		Msg("reconnecting")

	m.open()
	m.retryTimer = m.cfg.ReconnectDelay
}

// open starts a new transport session tagged with a fresh session number.
func (m *Manager) open() {
	m.session++
	id := m.session
	m.setState(StateConnecting)

	sink := func(ev Event) {
		m.dispatch(func() { m.handle(id, ev) })
	}

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.transport.Open(ctx, m.cfg.URL, sink); err != nil {
		m.handle(id, Event{Kind: EventError, Err: err})
	}
}

// handle applies a transport event to the state machine.
func (m *Manager) handle(session uint64, ev Event) {
	if session != m.session {
		m.log.Trace().Str("event", ev.Kind.String()).Msg("stale transport event")
		return
	}

	switch ev.Kind {
	case EventOpened:
		m.opened()
	case EventMessage:
		if m.state == StateConnected && m.onMessage != nil {
			m.onMessage(ev.Data)
		}
	case EventClosed, EventError:
		m.failed(ev)
	}
}

func (m *Manager) opened() {
	if m.state != StateConnecting {
		return
	}

	// Connected is only reported once register is on the wire.
	if err := m.register(); err != nil {
		m.failed(Event{Kind: EventError, Err: err})
		return
	}

	m.attempts = 0
	m.retryTimer = 0
	m.exhausted = false
	m.setState(StateConnected)

	m.log.Info().Str("url", m.cfg.URL).Msg("connected")
	if m.onConnected != nil {
		m.onConnected()
	}
}

func (m *Manager) register() error {
	msg := protocol.NewRegister(m.cfg.ClientType, m.cfg.ClientVersion, m.cfg.Capabilities)
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegisterFailed, err)
	}
	if err := m.transport.Send(data); err != nil {
		return fmt.Errorf("%w: %w", ErrRegisterFailed, err)
	}

	m.registrations++
	m.metrics.MessageSent(string(msg.Type()))
	m.metrics.Registered()
	return nil
}

func (m *Manager) failed(ev Event) {
	prev := m.state

	// Later events from this session are stale.
	m.session++
	if err := m.transport.Close(); err != nil {
		m.log.Debug().Err(err).Msg("transport close")
	}

	if m.shouldReconnect {
		m.setState(StateReconnecting)
		m.retryTimer = m.cfg.ReconnectDelay
		m.log.Warn().
			Err(ev.Err).
			Str("event", ev.Kind.String()).
			Int("attempt", m.attempts).
			Int("max_attempts", m.cfg.MaxAttempts).
			Dur("retry_in", m.cfg.ReconnectDelay).
			Msg("connection lost, retrying")
	} else {
		m.setState(StateDisconnected)
		m.log.Warn().Err(ev.Err).Str("event", ev.Kind.String()).Msg("connection lost")
	}

	if prev == StateConnected && m.onDisconnected != nil {
		m.onDisconnected(ev.Err)
	}
}

func (m *Manager) giveUp() {
	m.shouldReconnect = false
	m.exhausted = true
	m.retryTimer = 0
	m.setState(StateDisconnected)
	m.metrics.ReconnectExhausted()

	m.log.Error().
		Int("attempts", m.attempts).
		Msg("reconnect attempts exhausted")

	if m.onDisconnected != nil {
		m.onDisconnected(ErrReconnectExhausted)
	}
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	prev := m.state
	m.state = s
	m.metrics.SetConnectionState(s.String())
	if m.onStateChange != nil {
		m.onStateChange(prev, s)
	}
}
