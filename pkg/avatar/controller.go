// Package avatar is the composition root of the avatar client. A Controller
// owns one connection manager and one blend engine, routes decoded commands
// into the engine, reports state changes back to the command source, and
// hands each frame's channel weights to the rig.
//
// Threading: Start, Stop, Tick and every control method run on one goroutine,
// the one that drives Tick (Run does this). Other goroutines hand work to it
// with Post; transport events and blink timers already go through Post.
package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/blend"
	"github.com/teslashibe/go-avatar/pkg/connection"
	"github.com/teslashibe/go-avatar/pkg/emotions"
	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/protocol"
)

// Controller drives one avatar.
type Controller struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	conn   *connection.Manager
	engine *blend.Engine
	rig    Rig

	queue  chan func()
	gateMu sync.RWMutex
	done   chan struct{} // closed while stopped

	state   AnimationState
	arousal float64
	gaze    protocol.Vector
	hasGaze bool

	onConnected       []func()
	onDisconnected    []func(err error)
	onConnectionState []func(from, to connection.State)
	onMessage         []func(msg protocol.Message)
	onWeights         []func(weights blend.Weights)
}

// New creates a Controller.
func New(opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "avatar").Logger(),
		metrics: cfg.Metrics,
		rig:     cfg.Rig,
		queue:   make(chan func(), cfg.QueueSize),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	if c.rig == nil {
		c.rig = NopRig{}
	}

	sched := cfg.Scheduler
	if sched == nil {
		sched = timerScheduler{post: c.Post}
	}
	blendOpts := []blend.Option{
		blend.WithBlendDuration(cfg.BlendDuration),
		blend.WithScheduler(sched),
		blend.WithLogger(cfg.Logger),
	}
	if cfg.Mapper != nil {
		blendOpts = append(blendOpts, blend.WithMapper(cfg.Mapper))
	}
	if cfg.Presets != nil {
		blendOpts = append(blendOpts, blend.WithPresets(cfg.Presets))
	}
	engine, err := blend.New(append(blendOpts, cfg.BlendOptions...)...)
	if err != nil {
		return nil, err
	}
	c.engine = engine

	transport := cfg.Transport
	if transport == nil {
		transport = connection.NewWebSocketTransport(connection.WithTransportLogger(cfg.Logger))
	}
	conn, err := connection.New(transport,
		connection.WithURL(cfg.URL),
		connection.WithClient(cfg.ClientType, cfg.ClientVersion, cfg.Capabilities),
		connection.WithRetry(cfg.ReconnectDelay, cfg.MaxAttempts),
		connection.WithDispatch(func(fn func()) { c.Post(fn) }),
		connection.WithLogger(cfg.Logger),
		connection.WithMetrics(cfg.Metrics),
	)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	conn.OnMessage(c.HandleMessage)
	conn.OnConnected(func() {
		for _, fn := range c.onConnected {
			fn()
		}
	})
	conn.OnDisconnected(func(err error) {
		for _, fn := range c.onDisconnected {
			fn(err)
		}
	})
	conn.OnStateChange(func(from, to connection.State) {
		c.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("connection state")
		for _, fn := range c.onConnectionState {
			fn(from, to)
		}
	})

	return c, nil
}

// Connection returns the connection manager.
func (c *Controller) Connection() *connection.Manager {
	return c.conn
}

// Engine returns the blend engine.
func (c *Controller) Engine() *blend.Engine {
	return c.engine
}

// =============================================================================
// Observers
// =============================================================================

// OnConnected registers a callback fired after each successful register.
func (c *Controller) OnConnected(callback func()) {
	c.onConnected = append(c.onConnected, callback)
}

// OnDisconnected registers a callback fired when the session is lost or
// retries are exhausted.
func (c *Controller) OnDisconnected(callback func(err error)) {
	c.onDisconnected = append(c.onDisconnected, callback)
}

// OnConnectionState registers a callback fired on every connection state
// transition.
func (c *Controller) OnConnectionState(callback func(from, to connection.State)) {
	c.onConnectionState = append(c.onConnectionState, callback)
}

// OnMessage registers a callback fired for every decoded inbound message,
// after it has been applied.
func (c *Controller) OnMessage(callback func(msg protocol.Message)) {
	c.onMessage = append(c.onMessage, callback)
}

// OnWeights registers a callback fired with each frame's weights, after the
// rig. The map must not be retained or mutated.
func (c *Controller) OnWeights(callback func(weights blend.Weights)) {
	c.onWeights = append(c.onWeights, callback)
}

// =============================================================================
// Lifecycle and frame loop
// =============================================================================

// Post queues fn to run at the start of the next Tick. It blocks while the
// queue is full and reports false while the controller is stopped.
// Never call Post from the tick goroutine with a full queue.
func (c *Controller) Post(fn func()) bool {
	c.gateMu.RLock()
	done := c.done
	c.gateMu.RUnlock()

	select {
	case <-done:
		return false
	default:
	}
	select {
	case c.queue <- fn:
		return true
	case <-done:
		return false
	}
}

// Start accepts Posts again after a Stop and connects to the command source.
// A stopped controller reconnects only through Start.
func (c *Controller) Start(ctx context.Context) {
	c.gateMu.Lock()
	select {
	case <-c.done:
		c.done = make(chan struct{})
	default:
	}
	c.gateMu.Unlock()

	c.log.Info().Str("url", c.cfg.URL).Msg("starting")
	c.conn.Connect(ctx)
}

// Stop disconnects and rejects Posts until the next Start. Blocked Posts
// return false. It is idempotent.
func (c *Controller) Stop() {
	c.conn.Disconnect()

	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
		c.log.Info().Msg("stopped")
	}
}

// Run starts the controller and ticks it at the configured frame rate until
// ctx is cancelled, then stops it.
func (c *Controller) Run(ctx context.Context) error {
	c.Start(ctx)
	defer c.Stop()

	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.FrameRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.Tick(now.Sub(last))
			last = now
		}
	}
}

// Tick runs queued work, advances the reconnect timer, evaluates the blend
// engine and hands the frame to the rig.
func (c *Controller) Tick(dt time.Duration) {
	start := time.Now()

	for n := len(c.queue); n > 0; n-- {
		fn := <-c.queue
		fn()
	}

	c.conn.OnTick(dt)

	weights := c.engine.Evaluate(dt)
	c.rig.ApplyWeights(weights)
	for _, fn := range c.onWeights {
		fn(weights)
	}

	c.metrics.FrameEvaluated(time.Since(start))
}

// =============================================================================
// Inbound commands
// =============================================================================

// HandleMessage decodes one inbound frame and applies it. Unknown and
// malformed messages are logged and dropped.
func (c *Controller) HandleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		reason := "malformed"
		if protocol.IsUnknownType(err) {
			reason = "unknown_type"
		}
		c.metrics.DecodeError(reason)
		c.log.Debug().Err(err).Msg("discarding message")
		return
	}

	c.metrics.MessageReceived(string(msg.Type()))
	c.Dispatch(msg)

	for _, fn := range c.onMessage {
		fn(msg)
	}
}

// Dispatch applies a decoded command.
func (c *Controller) Dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Emotion:
		tag, ok := emotions.ParseTag(m.Emotion)
		if !ok {
			c.log.Debug().Str("emotion", m.Emotion).Msg("unknown emotion, using neutral")
		}
		c.SetEmotion(tag, m.Intensity)
	case protocol.Morph:
		c.SetMorphs(m.Targets)
	case protocol.Animation:
		c.rig.PlayAnimation(m.Animation)
	case protocol.LipSync:
		c.PlayLipSync(m.Frames)
	case protocol.Arousal:
		c.SetArousal(m.Level)
	case protocol.LookAt:
		c.LookAt(m.Target)
	default:
		c.log.Debug().Str("type", string(msg.Type())).Msg("ignoring outbound message type")
	}
}

// SetEmotion blends to an emotion preset over the configured duration.
func (c *Controller) SetEmotion(tag emotions.Tag, intensity float64) {
	c.engine.SetEmotion(tag, intensity, c.cfg.BlendDuration)
	c.metrics.BlendStarted("emotion")
}

// SetMorphs blends to explicit channel weights over the configured duration.
func (c *Controller) SetMorphs(targets map[string]float64) {
	c.engine.SetMorphs(targets, c.cfg.BlendDuration)
	c.metrics.BlendStarted("morph")
}

// PlayLipSync replaces the lip-sync track. Frame times are milliseconds.
func (c *Controller) PlayLipSync(frames []protocol.LipSyncFrame) {
	track := make([]blend.Frame, 0, len(frames))
	for _, f := range frames {
		track = append(track, blend.Frame{
			Time:      time.Duration(f.Time * float64(time.Millisecond)),
			Viseme:    f.Viseme,
			Intensity: f.Intensity,
		})
	}
	c.engine.PlayLipSync(track)
	if len(track) > 0 {
		c.metrics.LipSyncStarted()
	}
}

// StopLipSync stops lip sync and rests the mouth.
func (c *Controller) StopLipSync() {
	c.engine.StopLipSync()
}

// SetArousal clamps level to [0,1], starts the aroused preset when the level
// is above the threshold, and echoes the level to the command source.
func (c *Controller) SetArousal(level float64) {
	c.arousal = protocol.Clamp01(level)
	if c.arousal > c.cfg.ArousalThreshold {
		c.SetEmotion(emotions.Aroused, c.arousal)
	}
	c.conn.Send(protocol.NewArousalState(c.arousal))
}

// Arousal returns the last clamped arousal level.
func (c *Controller) Arousal() float64 {
	return c.arousal
}

// LookAt points the gaze at target.
func (c *Controller) LookAt(target protocol.Vector) {
	c.gaze = target
	c.hasGaze = true
	c.rig.LookAt(target)
}

// ResetGaze releases the gaze target.
func (c *Controller) ResetGaze() {
	c.hasGaze = false
	c.rig.ResetGaze()
}

// GazeTarget returns the current gaze target, if any.
func (c *Controller) GazeTarget() (protocol.Vector, bool) {
	return c.gaze, c.hasGaze
}

// =============================================================================
// Behavioral state and outbound events
// =============================================================================

// SetAnimationState switches the behavioral state, gates idle behavior and
// reports the change with the current emotion.
func (c *Controller) SetAnimationState(s AnimationState) {
	c.state = s
	c.engine.SetIdleEnabled(s.IdleActive())

	tag, _ := c.engine.Emotion()
	c.conn.Send(protocol.NewStateChange(s.String(), tag.String()))
	c.log.Debug().Str("state", s.String()).Msg("animation state")
}

// AnimationState returns the current behavioral state.
func (c *Controller) AnimationState() AnimationState {
	return c.state
}

// PlayStateAnimation enters the intimate state and plays a named animation.
func (c *Controller) PlayStateAnimation(name string) {
	c.SetAnimationState(StateIntimate)
	c.rig.PlayAnimation(name)
}

// ApplyCharacterConfig sends body parameters to the rig and writes face
// parameters directly into the next frame.
func (c *Controller) ApplyCharacterConfig(body, face map[string]float64) {
	if len(body) > 0 {
		c.rig.ApplyBodyWeights(body)
	}
	c.engine.Apply(face)
	c.log.Info().
		Int("body_params", len(body)).
		Int("face_params", len(face)).
		Msg("character config applied")
}

// SendEvent reports a free-form event. It reports whether the event was sent.
func (c *Controller) SendEvent(eventType, data string) bool {
	return c.conn.Send(protocol.NewEvent(eventType, data))
}

// SendUserGesture reports a user gesture. It reports whether it was sent.
func (c *Controller) SendUserGesture(gesture string) bool {
	return c.conn.Send(protocol.NewUserGesture(gesture))
}
