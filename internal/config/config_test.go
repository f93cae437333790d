package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 49152, cfg.Server.UDPPort)
	assert.Equal(t, 49153, cfg.Server.DefaultClientPort)
	assert.Equal(t, 2*time.Second, cfg.Broadcast.GetIntervalDuration())
	assert.False(t, cfg.HTTP.Enabled)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid server port",
			mutate:   func(c *Config) { c.Server.UDPPort = 70000 },
			errorMsg: "udp_port must be between 1 and 65535",
		},
		{
			name:     "empty bind address",
			mutate:   func(c *Config) { c.Server.BindAddress = "" },
			errorMsg: "bind_address cannot be empty",
		},
		{
			name:     "buffer too small",
			mutate:   func(c *Config) { c.Server.BufferSize = 16 },
			errorMsg: "buffer_size must be at least 64 bytes",
		},
		{
			name:     "invalid default client port",
			mutate:   func(c *Config) { c.Server.DefaultClientPort = 0 },
			errorMsg: "default_client_port must be between 1 and 65535",
		},
		{
			name:     "zero interval",
			mutate:   func(c *Config) { c.Broadcast.Interval = 0 },
			errorMsg: "interval must be positive",
		},
		{
			name:     "no send concurrency",
			mutate:   func(c *Config) { c.Broadcast.MaxConcurrentSends = 0 },
			errorMsg: "max_concurrent_sends must be at least 1",
		},
		{
			name:     "reverse dns without timeout",
			mutate:   func(c *Config) { c.Registry.ResolveTimeout = 0 },
			errorMsg: "resolve_timeout must be positive",
		},
		{
			name: "reverse dns disabled ignores timeout",
			mutate: func(c *Config) {
				c.Registry.ReverseDNS = false
				c.Registry.ResolveTimeout = 0
			},
		},
		{
			name: "http enabled with bad port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Port = 0
			},
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
		{
			name:     "invalid log format",
			mutate:   func(c *Config) { c.Logging.Format = "xml" },
			errorMsg: "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errorMsg)
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		file        string
		content     string
		expectError bool
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "yaml overrides defaults",
			file: "config.yaml",
			content: `
server:
  udp_port: 6000
broadcast:
  interval: 0.5
logging:
  level: debug
  format: json
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 6000, c.Server.UDPPort)
				assert.Equal(t, "0.0.0.0", c.Server.BindAddress)
				assert.Equal(t, 500*time.Millisecond, c.Broadcast.GetIntervalDuration())
				assert.Equal(t, "debug", c.Logging.Level)
				assert.Equal(t, "json", c.Logging.Format)
			},
		},
		{
			name: "toml by extension",
			file: "config.toml",
			content: `
[server]
udp_port = 7000
default_client_port = 7001

[registry]
reverse_dns = false
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 7000, c.Server.UDPPort)
				assert.Equal(t, 7001, c.Server.DefaultClientPort)
				assert.False(t, c.Registry.ReverseDNS)
			},
		},
		{
			name:        "invalid yaml",
			file:        "broken.yaml",
			content:     "server: [udp_port",
			expectError: true,
		},
		{
			name: "fails validation",
			file: "invalid.yaml",
			content: `
server:
  udp_port: 0
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tempDir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			cfg, err := Load(path)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := LoadOrDefault(missing, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadOrDefault(missing, true)
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("TIMESERVER_PORT", "6100")
	t.Setenv("TIMESERVER_HTTP_ENABLED", "true")

	v := NewOverrides()
	v.Set(KeyLogLevel, "warn")

	cfg := Default()
	require.NoError(t, cfg.ApplyOverrides(v))

	assert.Equal(t, 6100, cfg.Server.UDPPort)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0", cfg.Server.BindAddress)
}

func TestApplyOverridesRejectsInvalid(t *testing.T) {
	v := NewOverrides()
	v.Set(KeyPort, 0)

	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyOverrides(v), "udp_port must be between 1 and 65535")
}

func TestDurationHelpers(t *testing.T) {
	b := BroadcastConfig{Interval: 2}
	assert.Equal(t, 2*time.Second, b.GetIntervalDuration())

	r := RegistryConfig{ResolveTimeout: 0.25}
	assert.Equal(t, 250*time.Millisecond, r.GetResolveTimeoutDuration())

	s := ServerConfig{BindAddress: "127.0.0.1", UDPPort: 49152}
	assert.Equal(t, "127.0.0.1:49152", s.ListenAddress())
}
