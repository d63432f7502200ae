package avatar

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/blend"
	"github.com/teslashibe/go-avatar/pkg/connection"
	"github.com/teslashibe/go-avatar/pkg/emotions"
	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/namemap"
)

// Controller defaults.
const (
	DefaultFrameRate        = 60
	DefaultArousalThreshold = 0.3
	DefaultQueueSize        = 256
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("avatar: invalid config")

// Config holds controller configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Connection
	URL            string
	ClientType     string
	ClientVersion  string
	Capabilities   []string
	ReconnectDelay time.Duration
	MaxAttempts    int

	// Frame loop
	FrameRate int
	QueueSize int

	// Animation
	BlendDuration    time.Duration
	ArousalThreshold float64
	BlendOptions     []blend.Option

	// Collaborators. Nil values get defaults.
	Transport connection.Transport
	Rig       Rig
	Scheduler blend.Scheduler
	Mapper    *namemap.Mapper
	Presets   *emotions.Registry

	// Observability
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Option is a functional option for configuring the controller.
type Option func(*Config)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	caps := make([]string, len(connection.DefaultCapabilities))
	copy(caps, connection.DefaultCapabilities)
	return Config{
		ClientType:       connection.DefaultClientType,
		ClientVersion:    connection.DefaultClientVersion,
		Capabilities:     caps,
		ReconnectDelay:   connection.DefaultReconnectDelay,
		MaxAttempts:      connection.DefaultMaxAttempts,
		FrameRate:        DefaultFrameRate,
		QueueSize:        DefaultQueueSize,
		BlendDuration:    blend.DefaultBlendDuration,
		ArousalThreshold: DefaultArousalThreshold,
		Logger:           zerolog.Nop(),
	}
}

// WithURL sets the command source endpoint.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithClient sets the identity announced on register.
func WithClient(clientType, version string, capabilities []string) Option {
	return func(c *Config) {
		c.ClientType = clientType
		c.ClientVersion = version
		c.Capabilities = append([]string(nil), capabilities...)
	}
}

// WithRetry sets the fixed reconnect delay and the attempt bound.
func WithRetry(delay time.Duration, maxAttempts int) Option {
	return func(c *Config) {
		c.ReconnectDelay = delay
		c.MaxAttempts = maxAttempts
	}
}

// WithFrameRate sets the Run loop rate in frames per second.
func WithFrameRate(fps int) Option {
	return func(c *Config) {
		c.FrameRate = fps
	}
}

// WithQueueSize sets the event queue capacity.
func WithQueueSize(n int) Option {
	return func(c *Config) {
		c.QueueSize = n
	}
}

// WithBlendDuration sets the duration of emotion and morph blends.
func WithBlendDuration(d time.Duration) Option {
	return func(c *Config) {
		c.BlendDuration = d
	}
}

// WithArousalThreshold sets the level above which the aroused preset starts.
func WithArousalThreshold(threshold float64) Option {
	return func(c *Config) {
		c.ArousalThreshold = threshold
	}
}

// WithBlendOptions passes extra options to the blend engine.
func WithBlendOptions(opts ...blend.Option) Option {
	return func(c *Config) {
		c.BlendOptions = append(c.BlendOptions, opts...)
	}
}

// WithTransport sets the network transport.
func WithTransport(t connection.Transport) Option {
	return func(c *Config) {
		c.Transport = t
	}
}

// WithRig sets the rig collaborator.
func WithRig(r Rig) Option {
	return func(c *Config) {
		c.Rig = r
	}
}

// WithScheduler sets the one-shot scheduler used for blink release.
func WithScheduler(s blend.Scheduler) Option {
	return func(c *Config) {
		c.Scheduler = s
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

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// Validate checks the controller-level settings. Connection and blend
// settings are validated by their own packages.
func (c *Config) Validate() error {
	if c.FrameRate <= 0 {
		return fmt.Errorf("%w: frame rate must be > 0, got %d", ErrInvalidConfig, c.FrameRate)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be > 0, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.BlendDuration < 0 {
		return fmt.Errorf("%w: blend duration must be >= 0", ErrInvalidConfig)
	}
	return nil
}
