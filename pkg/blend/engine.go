// Package blend combines emotion presets, lip-sync playback and idle behavior
// into one channel-weight map per frame.
//
// The engine is not safe for concurrent use. Callers serialize every method,
// including Scheduler callbacks, onto the goroutine that calls Evaluate.
package blend

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/emotions"
	"github.com/teslashibe/go-avatar/pkg/namemap"
)

// Engine owns all animation state for one avatar.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	mapper  *namemap.Mapper
	presets *emotions.Registry
	sched   Scheduler
	local   *clockScheduler // non-nil when no external scheduler is configured
	rnd     *rand.Rand

	// Frame clock: sum of every dt passed to Evaluate.
	clock time.Duration

	// Writes made outside Evaluate, emitted first in the next frame.
	pending Weights

	// Current per-channel weights owned by the blend session.
	current Weights

	session   session
	emotion   emotions.Tag
	intensity float64

	lip  lipSync
	idle idleState
}

// New creates a BlendEngine.
func New(opts ...Option) (*Engine, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	presets := cfg.Presets
	if presets == nil {
		var err error
		presets, err = emotions.NewDefaultRegistry()
		if err != nil {
			return nil, err
		}
	}

	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "blend").Logger(),
		mapper:  cfg.Mapper,
		presets: presets,
		sched:   cfg.Scheduler,
		rnd:     rnd,
		pending: Weights{},
		current: Weights{},
		session: session{fraction: 1, target: Weights{}, explicit: Weights{}, from: Weights{}},
		emotion: emotions.Neutral,
		idle:    idleState{enabled: true},
	}
	if e.sched == nil {
		e.local = &clockScheduler{now: func() time.Duration { return e.clock }}
		e.sched = e.local
	}
	e.idle.nextBlink = e.blinkInterval()
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate advances every influence by dt and returns this frame's channel
// writes. Composition order, last writer wins: writes made since the previous
// frame, idle generators, the blend session, then lip sync.
//
// The returned map belongs to the caller; the engine never reads it again.
func (e *Engine) Evaluate(dt time.Duration) Weights {
	if dt < 0 {
		dt = 0
	}
	e.clock += dt
	if e.local != nil {
		e.local.fire()
	}

	frame := e.pending
	e.pending = Weights{}

	if e.idle.enabled {
		e.advanceIdle(dt, frame)
	}
	e.advanceSession(dt, frame)
	e.advanceLipSync(frame)

	return frame
}

// Apply writes weights directly into the next frame without blending.
// Keys pass through the name mapper.
func (e *Engine) Apply(weights map[string]float64) {
	for ch, w := range weights {
		e.pending[e.mapper.Map(ch)] = w
	}
}

// Current returns a copy of the session-owned channel weights.
func (e *Engine) Current() Weights {
	return e.current.Clone()
}

// Emotion returns the tag and intensity of the last emotion request.
func (e *Engine) Emotion() (emotions.Tag, float64) {
	return e.emotion, e.intensity
}

// Progress returns the active session's elapsed fraction in [0,1].
func (e *Engine) Progress() float64 {
	return e.session.fraction
}

// Clock returns the total time evaluated so far.
func (e *Engine) Clock() time.Duration {
	return e.clock
}

// =============================================================================
// Idle behavior
// =============================================================================

type idleState struct {
	enabled   bool
	phase     float64
	timer     time.Duration
	nextBlink time.Duration
	blinking  bool
	token     uint64
}

// SetIdleEnabled turns breathing and blinking on or off.
// A blink already in progress still reopens the eyes.
func (e *Engine) SetIdleEnabled(enabled bool) {
	e.idle.enabled = enabled
}

// IdleEnabled reports whether idle generators run.
func (e *Engine) IdleEnabled() bool {
	return e.idle.enabled
}

// Blinking reports whether the eyes are currently closed by a blink.
func (e *Engine) Blinking() bool {
	return e.idle.blinking
}

// Blink closes the eyes now, superseding any blink in progress.
func (e *Engine) Blink() {
	e.triggerBlink(e.pending)
}

func (e *Engine) advanceIdle(dt time.Duration, frame Weights) {
	e.idle.phase += dt.Seconds() * e.cfg.BreathingRate
	frame[e.cfg.BreathingChannel] = (math.Sin(e.idle.phase) + 1) / 2

	e.idle.timer += dt
	if !e.idle.blinking && e.idle.timer >= e.idle.nextBlink {
		e.triggerBlink(frame)
	}
}

func (e *Engine) triggerBlink(frame Weights) {
	e.idle.blinking = true
	e.idle.timer = 0
	e.idle.nextBlink = e.blinkInterval()
	for _, ch := range e.cfg.BlinkChannels {
		frame[ch] = 1
	}

	e.idle.token++
	token := e.idle.token
	e.sched.AfterFunc(e.cfg.BlinkDuration, func() { e.finishBlink(token) })
}

// finishBlink reopens the eyes unless a newer blink has superseded token.
func (e *Engine) finishBlink(token uint64) {
	if token != e.idle.token || !e.idle.blinking {
		return
	}
	for _, ch := range e.cfg.BlinkChannels {
		e.pending[ch] = 0
	}
	e.idle.blinking = false
}

func (e *Engine) blinkInterval() time.Duration {
	scale := 0.5 + e.rnd.Float64()
	return time.Duration(float64(e.cfg.BlinkInterval) * scale)
}
