package connection

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/metrics"
)

// Defaults for the retry policy and the register handshake.
const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultMaxAttempts    = 5
	DefaultClientType     = "metahuman"
	DefaultClientVersion  = "1.0"
)

// DefaultCapabilities is the capability set announced on register.
var DefaultCapabilities = []string{"emotion", "morph", "animation", "lipsync", "arousal", "look_at"}

// Config holds connection manager configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// URL is the command source WebSocket endpoint.
	URL string

	// Register handshake
	ClientType    string
	ClientVersion string
	Capabilities  []string

	// Retry policy: fixed delay, bounded attempts.
	ReconnectDelay time.Duration
	MaxAttempts    int

	// Dispatch runs fn on the goroutine that owns the manager. Transports that
	// deliver events from their own goroutines require one. The default runs
	// fn inline.
	Dispatch func(fn func())

	// Observability
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Option is a functional option for configuring the manager.
type Option func(*Config)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	caps := make([]string, len(DefaultCapabilities))
	copy(caps, DefaultCapabilities)
	return Config{
		ClientType:     DefaultClientType,
		ClientVersion:  DefaultClientVersion,
		Capabilities:   caps,
		ReconnectDelay: DefaultReconnectDelay,
		MaxAttempts:    DefaultMaxAttempts,
		Logger:         zerolog.Nop(),
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

// WithDispatch sets the function that serializes transport events.
func WithDispatch(dispatch func(fn func())) Option {
	return func(c *Config) {
		c.Dispatch = dispatch
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

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if c.ClientType == "" {
		return fmt.Errorf("%w: client type is required", ErrInvalidConfig)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("%w: reconnect delay must be > 0, got %s", ErrInvalidConfig, c.ReconnectDelay)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be >= 0, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	return nil
}
