// ABOUTME: Configuration loading for the frpt-admin operator tool
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Client   ClientConfig   `toml:"client"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ClientConfig carries the build identity frpt-admin presents when logging
// in through the real handshake. It must match one of the server's trusted
// client builds.
type ClientConfig struct {
	Version       string `toml:"version"`
	VersionSecret string `toml:"version_secret"`
	ComponentHash string `toml:"component_hash"`
}

// getConfigPath returns the path to the admin config file.
// Priority: FRPT_ADMIN_CONFIG env var > XDG_CONFIG_HOME/frpt/admin.toml > ~/.config/frpt/admin.toml
func getConfigPath() string {
	if envPath := os.Getenv("FRPT_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "frpt", "admin.toml")
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present.
func (c *Config) Validate() error {
	if c.Server.URL == "" && c.Database.Path == "" {
		return fmt.Errorf("at least one of server.url or database.path is required")
	}
	return nil
}
