package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFrom_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
engine:
  breaker_threshold: 3
  breaker_timeout: 10s
  agents: [job_discovery, resume_optimizer]
pipeline:
  rate_limit_delay: 500ms
  auto_submit: true
`)
	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, uint32(3), cfg.Engine.BreakerThreshold)
	assert.Equal(t, 10*time.Second, cfg.Engine.BreakerTimeout)
	assert.Equal(t, []string{"job_discovery", "resume_optimizer"}, cfg.Engine.Agents)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RateLimitDelay)
	assert.True(t, cfg.Pipeline.AutoSubmit)

	// дефолты
	assert.Equal(t, ModeDemo, cfg.Engine.Mode)
	assert.Equal(t, uint(3), cfg.Engine.RetryMax)
	assert.Equal(t, "exponential", cfg.Engine.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Engine.HealthCheckTimeout)
	assert.Equal(t, 10, cfg.Pipeline.MaxItemsPerRun)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadConfigFrom_EnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("ENGINE_RETRY_BACKOFF", "linear")

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "linear", cfg.Engine.RetryBackoff)
}

func TestLoadConfigFrom_InlineKeyFromEnv(t *testing.T) {
	path := writeConfig(t, "auth:\n  public_key_path: /nonexistent.pem\n")
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
	assert.Nil(t, cfg.Auth.PrivateKey)
}

func TestLoadConfigFrom_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad mode", "engine:\n  mode: turbo\n"},
		{"bad backoff", "engine:\n  retry_backoff: random\n"},
		{"live without completion", "engine:\n  mode: live\n"},
		{"auth without keys", "auth:\n  enabled: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfigFrom(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestParseSignal(t *testing.T) {
	id, on, ok := ParseSignal("6f1c:on")
	require.True(t, ok)
	assert.Equal(t, "6f1c", id)
	assert.True(t, on)

	_, on, ok = ParseSignal("abc:false")
	require.True(t, ok)
	assert.False(t, on)

	for _, bad := range []string{"", "abc", ":on", "abc:"} {
		_, _, ok := ParseSignal(bad)
		assert.False(t, ok, bad)
	}
}
