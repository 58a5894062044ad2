package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Signaling.Mode)
	assert.Equal(t, 30*time.Second, cfg.Call.NegotiationTimeout)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  address: ":9999"
signaling:
  mode: redis
  redis:
    address: "redis:6379"
    pool_size: 5
call:
  negotiation_timeout: 10s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "redis", cfg.Signaling.Mode)
	assert.Equal(t, "redis:6379", cfg.Signaling.Redis.Address)
	assert.Equal(t, 10*time.Second, cfg.Call.NegotiationTimeout)
	// untouched defaults survive
	assert.Equal(t, 5*time.Second, cfg.Call.EndGrace)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CALLMESH_SERVER_ADDRESS", ":7070")
	t.Setenv("CALLMESH_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"unknown signaling mode", func(c *Config) { c.Signaling.Mode = "carrier-pigeon" }},
		{"redis mode without address", func(c *Config) {
			c.Signaling.Mode = "redis"
			c.Signaling.Redis.Address = ""
		}},
		{"gateway mode without url", func(c *Config) { c.Signaling.Mode = "gateway" }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 6000
			c.WebRTC.PortRange.Max = 5000
		}},
		{"zero negotiation timeout", func(c *Config) { c.Call.NegotiationTimeout = 0 }},
		{"multiplier below one", func(c *Config) { c.Call.ICERestart.Multiplier = 0.5 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"rate limit enabled without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
