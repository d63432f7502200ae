package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avatar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: ws://stage.local:9000/ws/avatar
capabilities: [emotion, lipsync]
reconnect:
  delay: 500ms
  max_attempts: 2
blend:
  duration: 1s
  arousal_threshold: 0.5
frame_rate: 30
log:
  format: json
`), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "ws://stage.local:9000/ws/avatar", cfg.ServerURL)
	assert.Equal(t, []string{"emotion", "lipsync"}, cfg.Capabilities)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.Delay)
	assert.Equal(t, 2, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Blend.Duration)
	assert.Equal(t, 0.5, cfg.Blend.ArousalThreshold)
	assert.Equal(t, 30, cfg.FrameRate)
	assert.Equal(t, "json", cfg.Log.Format)

	// Unset keys keep their defaults.
	assert.Equal(t, "metahuman", cfg.ClientType)
	assert.Equal(t, 4*time.Second, cfg.Blend.BlinkInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AVATAR_SERVER_URL", "ws://env.local/ws/avatar")
	t.Setenv("AVATAR_RECONNECT_MAX_ATTEMPTS", "9")
	t.Setenv("AVATAR_BLEND_DURATION", "250ms")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "ws://env.local/ws/avatar", cfg.ServerURL)
	assert.Equal(t, 9, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Blend.Duration)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avatar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frame_rate: 0\n"), 0o644))

	_, err := Load(New(), path)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "frame_rate", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty url", func(c *Config) { c.ServerURL = "" }, "server_url"},
		{"empty client type", func(c *Config) { c.ClientType = "" }, "client_type"},
		{"zero delay", func(c *Config) { c.Reconnect.Delay = 0 }, "reconnect.delay"},
		{"negative attempts", func(c *Config) { c.Reconnect.MaxAttempts = -1 }, "reconnect.max_attempts"},
		{"negative blend", func(c *Config) { c.Blend.Duration = -time.Second }, "blend.duration"},
		{"zero blink interval", func(c *Config) { c.Blend.BlinkInterval = 0 }, "blend.blink_interval"},
		{"empty rest viseme", func(c *Config) { c.Blend.RestViseme = "" }, "blend.rest_viseme"},
		{"zero frame rate", func(c *Config) { c.FrameRate = 0 }, "frame_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}
