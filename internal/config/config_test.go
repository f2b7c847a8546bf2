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
	t.Setenv("AUTOCALL_JWT_SECRET", "s3cret")
	t.Setenv("AUTOCALL_STATE_DIR", t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, cfg.Server.Addr)
	assert.Equal(t, ModeHTTP, cfg.Server.Mode)
	assert.Equal(t, defaultSweep, cfg.Scheduler.Sweep)
	assert.Equal(t, defaultWorkers, cfg.Scheduler.Workers)
	assert.Equal(t, 50, cfg.RateLimit.Max)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, time.Local, cfg.Location())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autocall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "127.0.0.1:9000"
  mode: both
auth:
  jwt_secret: from-file
scheduler:
  sweep: "@every 30s"
  workers: 2
calls:
  spacing: 500ms
runway:
  versions: ["2024-11-06"]
`), 0o644))

	t.Setenv("AUTOCALL_STATE_DIR", dir)
	t.Setenv("AUTOCALL_WORKERS", "6")
	t.Setenv("AUTOCALL_RUNWAY_ENDPOINTS", "/a,/b")

	cfg, err := Load([]string{"-config", path, "-addr", ":8081", "-use-utc"})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, ":8081", cfg.Server.Addr, "flag beats file")
	assert.Equal(t, ModeBoth, cfg.Server.Mode)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "@every 30s", cfg.Scheduler.Sweep)
	assert.Equal(t, 6, cfg.Scheduler.Workers, "env beats file")
	assert.Equal(t, 500*time.Millisecond, cfg.Calls.Spacing)
	assert.Equal(t, []string{"2024-11-06"}, cfg.Runway.Versions)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Runway.Endpoints)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))
	_, err := Load([]string{"-config", path})
	assert.ErrorContains(t, err, "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults with secret", mutate: func(c *Config) {}, ok: true},
		{name: "mcp needs no secret", mutate: func(c *Config) { c.Auth.JWTSecret = ""; c.Server.Mode = ModeMCP }, ok: true},
		{name: "http needs secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }},
		{name: "unknown mode", mutate: func(c *Config) { c.Server.Mode = "grpc" }},
		{name: "bad sweep", mutate: func(c *Config) { c.Scheduler.Sweep = "every minute" }},
		{name: "no workers", mutate: func(c *Config) { c.Scheduler.Workers = 0 }},
		{name: "no queue", mutate: func(c *Config) { c.Scheduler.QueueSize = 0 }},
		{name: "zero rate window", mutate: func(c *Config) { c.RateLimit.Window = 0 }},
		{name: "rate limit off", mutate: func(c *Config) { c.RateLimit.Enabled = false; c.RateLimit.Max = 0 }, ok: true},
		{name: "bark without url", mutate: func(c *Config) { c.Notification.Bark.Enabled = true }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "s"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("AUTOCALL_TEST_LIST", "a, -, b")
	assert.Equal(t, []string{"a", "", "b"}, getEnvList("AUTOCALL_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("AUTOCALL_TEST_UNSET", []string{"x"}))
}
