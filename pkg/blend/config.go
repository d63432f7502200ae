package blend

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/emotions"
	"github.com/teslashibe/go-avatar/pkg/namemap"
)

// Default tuning values.
const (
	DefaultBlendDuration    = 300 * time.Millisecond
	DefaultBlinkInterval    = 4 * time.Second
	DefaultBlinkDuration    = 150 * time.Millisecond
	DefaultBreathingRate    = 1.0 // radians per second
	DefaultBreathingChannel = "breathing"
	DefaultRestViseme       = "face_viseme_REST"
)

// DefaultBlinkChannels are closed together on every blink.
var DefaultBlinkChannels = []string{"eyeBlink_L", "eyeBlink_R"}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("blend: invalid config")

// Config holds BlendEngine configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// BlendDuration is used by callers that do not pass an explicit duration.
	BlendDuration time.Duration

	// Idle behavior
	BlinkInterval    time.Duration // base interval; each wait is drawn from [0.5x, 1.5x)
	BlinkDuration    time.Duration // how long the eyes stay closed
	BlinkChannels    []string
	BreathingRate    float64 // phase advance in radians per second
	BreathingChannel string

	// RestViseme is applied at full weight when lip sync stops.
	RestViseme string

	// Collaborators
	Mapper    *namemap.Mapper
	Presets   *emotions.Registry
	Scheduler Scheduler
	Rand      *rand.Rand

	// Observability
	Logger zerolog.Logger
}

// Option is a functional option for configuring the engine.
type Option func(*Config)

// DefaultConfig returns a Config with the default MetaHuman tuning.
func DefaultConfig() Config {
	channels := make([]string, len(DefaultBlinkChannels))
	copy(channels, DefaultBlinkChannels)
	return Config{
		BlendDuration:    DefaultBlendDuration,
		BlinkInterval:    DefaultBlinkInterval,
		BlinkDuration:    DefaultBlinkDuration,
		BlinkChannels:    channels,
		BreathingRate:    DefaultBreathingRate,
		BreathingChannel: DefaultBreathingChannel,
		RestViseme:       DefaultRestViseme,
		Mapper:           namemap.Default(),
		Logger:           zerolog.Nop(),
	}
}

// WithBlendDuration sets the default blend duration.
func WithBlendDuration(d time.Duration) Option {
	return func(c *Config) {
		c.BlendDuration = d
	}
}

// WithBlink sets the base blink interval and the closed duration.
func WithBlink(interval, duration time.Duration) Option {
	return func(c *Config) {
		c.BlinkInterval = interval
		c.BlinkDuration = duration
	}
}

// WithBreathingRate sets the breathing phase rate in radians per second.
func WithBreathingRate(rate float64) Option {
	return func(c *Config) {
		c.BreathingRate = rate
	}
}

// WithRestViseme sets the viseme applied when lip sync stops.
func WithRestViseme(id string) Option {
	return func(c *Config) {
		c.RestViseme = id
	}
}

// WithMapper sets the channel name mapper.
func WithMapper(m *namemap.Mapper) Option {
	return func(c *Config) {
		c.Mapper = m
	}
}

// WithPresets sets the emotion preset registry.
func WithPresets(r *emotions.Registry) Option {
	return func(c *Config) {
		c.Presets = r
	}
}

// WithScheduler sets the one-shot callback scheduler used for blink release.
// Without one the engine fires callbacks from its own frame clock.
func WithScheduler(s Scheduler) Option {
	return func(c *Config) {
		c.Scheduler = s
	}
}

// WithRand sets the random source for blink intervals.
func WithRand(r *rand.Rand) Option {
	return func(c *Config) {
		c.Rand = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch {
	case c.BlendDuration < 0:
		return fmt.Errorf("%w: blend duration must be >= 0", ErrInvalidConfig)
	case c.BlinkInterval <= 0:
		return fmt.Errorf("%w: blink interval must be > 0", ErrInvalidConfig)
	case c.BlinkDuration < 0:
		return fmt.Errorf("%w: blink duration must be >= 0", ErrInvalidConfig)
	case c.BreathingRate < 0:
		return fmt.Errorf("%w: breathing rate must be >= 0", ErrInvalidConfig)
	case c.BreathingChannel == "":
		return fmt.Errorf("%w: breathing channel is required", ErrInvalidConfig)
	case c.RestViseme == "":
		return fmt.Errorf("%w: rest viseme is required", ErrInvalidConfig)
	}
	return nil
}
