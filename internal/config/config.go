package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Broadcast BroadcastConfig `yaml:"broadcast" toml:"broadcast"`
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	HTTP      HTTPConfig      `yaml:"http" toml:"http"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort           int    `yaml:"udp_port" toml:"udp_port"`
	BindAddress       string `yaml:"bind_address" toml:"bind_address"`
	BufferSize        int    `yaml:"buffer_size" toml:"buffer_size"`
	DefaultClientPort int    `yaml:"default_client_port" toml:"default_client_port"`
}

// BroadcastConfig contains time broadcast parameters
type BroadcastConfig struct {
	Interval           float64 `yaml:"interval" toml:"interval"` // seconds
	MaxConcurrentSends int     `yaml:"max_concurrent_sends" toml:"max_concurrent_sends"`
}

// RegistryConfig controls client registry behaviour
type RegistryConfig struct {
	ReverseDNS     bool    `yaml:"reverse_dns" toml:"reverse_dns"`
	ResolveTimeout float64 `yaml:"resolve_timeout" toml:"resolve_timeout"` // seconds
}

// HTTPConfig contains HTTP admin API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" toml:"port"`
	Address string `yaml:"address" toml:"address"`
	Enabled bool   `yaml:"enabled" toml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

const (
	DefaultUDPPort    = 49152
	DefaultClientPort = 49153
)

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:           DefaultUDPPort,
			BindAddress:       "0.0.0.0",
			BufferSize:        1024,
			DefaultClientPort: DefaultClientPort,
		},
		Broadcast: BroadcastConfig{
			Interval:           2,
			MaxConcurrentSends: 16,
		},
		Registry: RegistryConfig{
			ReverseDNS:     true,
			ResolveTimeout: 2,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file at path over the defaults.
// The format is chosen by extension: .toml for TOML, anything else is YAML.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist and the caller did not ask for it explicitly.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return Default(), nil
	}
	return Load(path)
}

// Override keys understood by ApplyOverrides. Each maps to the environment
// variable TIMESERVER_<KEY> once the viper instance has an env prefix.
const (
	KeyPort        = "port"
	KeyBindAddress = "bind_address"
	KeyLogLevel    = "log_level"
	KeyLogFormat   = "log_format"
	KeyHTTPEnabled = "http_enabled"
	KeyHTTPPort    = "http_port"
)

// NewOverrides returns a viper instance reading TIMESERVER_* environment variables
func NewOverrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("timeserver")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v (flag or environment) onto the
// configuration and re-validates it.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	if v.IsSet(KeyPort) {
		c.Server.UDPPort = v.GetInt(KeyPort)
	}
	if v.IsSet(KeyBindAddress) {
		c.Server.BindAddress = v.GetString(KeyBindAddress)
	}
	if v.IsSet(KeyLogLevel) {
		c.Logging.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) {
		c.Logging.Format = v.GetString(KeyLogFormat)
	}
	if v.IsSet(KeyHTTPEnabled) {
		c.HTTP.Enabled = v.GetBool(KeyHTTPEnabled)
	}
	if v.IsSet(KeyHTTPPort) {
		c.HTTP.Port = v.GetInt(KeyHTTPPort)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Validate performs validation of every configuration section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Broadcast.Validate(); err != nil {
		return fmt.Errorf("broadcast config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 64 {
		return fmt.Errorf("buffer_size must be at least 64 bytes, got %d", s.BufferSize)
	}

	if s.DefaultClientPort < 1 || s.DefaultClientPort > 65535 {
		return fmt.Errorf("default_client_port must be between 1 and 65535, got %d", s.DefaultClientPort)
	}

	return nil
}

// Validate validates broadcast configuration
func (b *BroadcastConfig) Validate() error {
	if b.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %f", b.Interval)
	}

	if b.MaxConcurrentSends < 1 {
		return fmt.Errorf("max_concurrent_sends must be at least 1, got %d", b.MaxConcurrentSends)
	}

	return nil
}

// Validate validates registry configuration
func (r *RegistryConfig) Validate() error {
	if r.ReverseDNS && r.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve_timeout must be positive when reverse_dns is enabled, got %f", r.ResolveTimeout)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetIntervalDuration returns the broadcast interval as a time.Duration
func (b *BroadcastConfig) GetIntervalDuration() time.Duration {
	return time.Duration(b.Interval * float64(time.Second))
}

// GetResolveTimeoutDuration returns the reverse lookup timeout as a time.Duration
func (r *RegistryConfig) GetResolveTimeoutDuration() time.Duration {
	return time.Duration(r.ResolveTimeout * float64(time.Second))
}

// ListenAddress returns the UDP bind address in host:port form
func (s *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.UDPPort)
}
