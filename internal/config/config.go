// ABOUTME: Configuration loading and parsing for frpt-console
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete frpt-console configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Tickets  TicketsConfig  `yaml:"tickets"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TrustedClient is one entry of the build attestation table: the shared
// secret a client build carries, and the version/component hash that build
// is allowed to claim.
type TrustedClient struct {
	Secret        string `yaml:"secret"`
	Version       string `yaml:"version"`
	ComponentHash string `yaml:"component_hash"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	TrustedClients []TrustedClient `yaml:"trusted_clients"`
	MinVersion     int             `yaml:"min_version"`
	LatestVersion  string          `yaml:"latest_version"`

	SessionTTL        time.Duration `yaml:"-"`
	SessionSlideBelow time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SessionTTLRaw        string `yaml:"session_ttl"`
	SessionSlideBelowRaw string `yaml:"session_slide_below"`
}

// TicketsConfig holds config-ticket broker timing configuration
type TicketsConfig struct {
	TTL         time.Duration `yaml:"-"`
	ReuseWindow time.Duration `yaml:"-"`
	MinInterval time.Duration `yaml:"-"`

	TTLRaw         string `yaml:"ttl"`
	ReuseWindowRaw string `yaml:"reuse_window"`
	MinIntervalRaw string `yaml:"min_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME} style environment variable references
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR_NAME} references with their environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// parseDurations converts raw duration strings into time.Duration values,
// applying defaults for fields left empty.
func parseDurations(cfg *Config) error {
	parse := func(raw string, def time.Duration, field string) (time.Duration, error) {
		if raw == "" {
			return def, nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
		}
		return d, nil
	}

	var err error
	if cfg.Auth.SessionTTL, err = parse(cfg.Auth.SessionTTLRaw, 12*time.Hour, "auth.session_ttl"); err != nil {
		return err
	}
	if cfg.Auth.SessionSlideBelow, err = parse(cfg.Auth.SessionSlideBelowRaw, 6*time.Hour, "auth.session_slide_below"); err != nil {
		return err
	}
	if cfg.Tickets.TTL, err = parse(cfg.Tickets.TTLRaw, 10*time.Second, "tickets.ttl"); err != nil {
		return err
	}
	if cfg.Tickets.ReuseWindow, err = parse(cfg.Tickets.ReuseWindowRaw, 2*time.Second, "tickets.reuse_window"); err != nil {
		return err
	}
	if cfg.Tickets.MinInterval, err = parse(cfg.Tickets.MinIntervalRaw, 3*time.Second, "tickets.min_interval"); err != nil {
		return err
	}
	return nil
}

// Validate checks that required configuration fields are present and coherent.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Auth.TrustedClients) == 0 {
		return fmt.Errorf("auth.trusted_clients must list at least one client build")
	}
	seen := make(map[string]bool, len(c.Auth.TrustedClients))
	for i, tc := range c.Auth.TrustedClients {
		if tc.Secret == "" || tc.Version == "" || tc.ComponentHash == "" {
			return fmt.Errorf("auth.trusted_clients[%d]: secret, version and component_hash are all required", i)
		}
		if seen[tc.Secret] {
			return fmt.Errorf("auth.trusted_clients[%d]: duplicate secret", i)
		}
		seen[tc.Secret] = true
	}
	if c.Auth.LatestVersion == "" {
		return fmt.Errorf("auth.latest_version is required")
	}
	if c.Auth.SessionSlideBelow >= c.Auth.SessionTTL {
		return fmt.Errorf("auth.session_slide_below must be shorter than auth.session_ttl")
	}
	if c.Tickets.ReuseWindow >= c.Tickets.TTL {
		return fmt.Errorf("tickets.reuse_window must be shorter than tickets.ttl")
	}
	return nil
}
