// Package config provides configuration loading for go-avatar commands.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, AVATAR_* environment variables, and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix. Nested keys use underscores,
// e.g. AVATAR_RECONNECT_MAX_ATTEMPTS.
const EnvPrefix = "AVATAR"

// Config holds all application configuration
type Config struct {
	ServerURL     string   `mapstructure:"server_url"`
	ClientType    string   `mapstructure:"client_type"`
	ClientVersion string   `mapstructure:"client_version"`
	Capabilities  []string `mapstructure:"capabilities"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Blend     BlendConfig     `mapstructure:"blend"`

	FrameRate   int    `mapstructure:"frame_rate"`
	NameMapFile string `mapstructure:"name_map_file"`
	PresetFile  string `mapstructure:"preset_file"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Hub     HubConfig     `mapstructure:"hub"`
}

// ReconnectConfig configures the fixed-delay retry policy
type ReconnectConfig struct {
	Delay       time.Duration `mapstructure:"delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// BlendConfig configures the blend engine
type BlendConfig struct {
	Duration         time.Duration `mapstructure:"duration"`
	BlinkInterval    time.Duration `mapstructure:"blink_interval"`
	BlinkDuration    time.Duration `mapstructure:"blink_duration"`
	BreathingRate    float64       `mapstructure:"breathing_rate"` // rad/s
	RestViseme       string        `mapstructure:"rest_viseme"`
	ArousalThreshold float64       `mapstructure:"arousal_threshold"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// HubConfig configures the command-source hub
type HubConfig struct {
	Addr string `mapstructure:"addr"` // listen address for serve
	URL  string `mapstructure:"url"`  // base URL for push
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerURL:     "ws://localhost:8080/ws/avatar",
		ClientType:    "metahuman",
		ClientVersion: "1.0",
		Capabilities:  []string{"emotion", "morph", "animation", "lipsync", "arousal", "look_at"},
		Reconnect: ReconnectConfig{
			Delay:       3 * time.Second,
			MaxAttempts: 5,
		},
		Blend: BlendConfig{
			Duration:         300 * time.Millisecond,
			BlinkInterval:    4 * time.Second,
			BlinkDuration:    150 * time.Millisecond,
			BreathingRate:    1.0,
			RestViseme:       "face_viseme_REST",
			ArousalThreshold: 0.3,
		},
		FrameRate: 60,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Hub: HubConfig{
			Addr: ":8080",
			URL:  "http://localhost:8080",
		},
	}
}

// Error reports an invalid configuration value.
type Error struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.ServerURL == "":
		return &Error{Field: "server_url", Message: "is required"}
	case c.ClientType == "":
		return &Error{Field: "client_type", Message: "is required"}
	case c.Reconnect.Delay <= 0:
		return &Error{Field: "reconnect.delay", Message: "must be > 0"}
	case c.Reconnect.MaxAttempts < 0:
		return &Error{Field: "reconnect.max_attempts", Message: "must be >= 0"}
	case c.Blend.Duration < 0:
		return &Error{Field: "blend.duration", Message: "must be >= 0"}
	case c.Blend.BlinkInterval <= 0:
		return &Error{Field: "blend.blink_interval", Message: "must be > 0"}
	case c.Blend.BlinkDuration < 0:
		return &Error{Field: "blend.blink_duration", Message: "must be >= 0"}
	case c.Blend.BreathingRate < 0:
		return &Error{Field: "blend.breathing_rate", Message: "must be >= 0"}
	case c.Blend.RestViseme == "":
		return &Error{Field: "blend.rest_viseme", Message: "is required"}
	case c.FrameRate <= 0:
		return &Error{Field: "frame_rate", Message: "must be > 0"}
	}
	return nil
}

// New returns a viper instance primed with defaults and environment lookup.
// Bind command flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key of cfg with v so environment variables
// resolve even when no file sets them.
func SetDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("client_type", cfg.ClientType)
	v.SetDefault("client_version", cfg.ClientVersion)
	v.SetDefault("capabilities", cfg.Capabilities)
	v.SetDefault("reconnect.delay", cfg.Reconnect.Delay)
	v.SetDefault("reconnect.max_attempts", cfg.Reconnect.MaxAttempts)
	v.SetDefault("blend.duration", cfg.Blend.Duration)
	v.SetDefault("blend.blink_interval", cfg.Blend.BlinkInterval)
	v.SetDefault("blend.blink_duration", cfg.Blend.BlinkDuration)
	v.SetDefault("blend.breathing_rate", cfg.Blend.BreathingRate)
	v.SetDefault("blend.rest_viseme", cfg.Blend.RestViseme)
	v.SetDefault("blend.arousal_threshold", cfg.Blend.ArousalThreshold)
	v.SetDefault("frame_rate", cfg.FrameRate)
	v.SetDefault("name_map_file", cfg.NameMapFile)
	v.SetDefault("preset_file", cfg.PresetFile)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("hub.addr", cfg.Hub.Addr)
	v.SetDefault("hub.url", cfg.Hub.URL)
}

// Load reads configuration from v. If path is empty, avatar.yaml in the
// working directory is used when present; an explicit path must exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("avatar")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
