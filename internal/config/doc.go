// Package config provides configuration loading and validation for the time server.
// It reads YAML or TOML files over built-in defaults and lets environment variables
// and command flags override individual keys.
package config
