package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Scan        ScanConfig    `yaml:"scan"`
	Beacon      BeaconConfig  `yaml:"beacon"`
	Connect     ConnectConfig `yaml:"connect"`
	CatalogPath string        `yaml:"catalog_path"`
	LogLevel    string        `yaml:"log_level"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	NameFilter string `yaml:"name_filter"`
	Enrich     bool   `yaml:"enrich"`
	Buffer     int    `yaml:"buffer"`
}

// BeaconConfig holds advertising settings.
type BeaconConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval returns the advertising interval as a duration.
func (c BeaconConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ConnectConfig holds connection session settings.
type ConnectConfig struct {
	WriteTimeoutMillis int `yaml:"write_timeout_ms"`
	PacketDelayMillis  int `yaml:"packet_delay_ms"`
	LogonRepeats       int `yaml:"logon_repeats"`
}

// WriteTimeout returns the command write timeout as a duration.
func (c ConnectConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMillis) * time.Millisecond
}

// PacketDelay returns the inter-packet delay as a duration.
func (c ConnectConfig) PacketDelay() time.Duration {
	return time.Duration(c.PacketDelayMillis) * time.Millisecond
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "droidlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			NameFilter: "DROID",
			Enrich:     true,
			Buffer:     32,
		},
		Beacon: BeaconConfig{
			IntervalSeconds: 60,
		},
		Connect: ConnectConfig{
			WriteTimeoutMillis: 2000,
			PacketDelayMillis:  100,
			LogonRepeats:       3,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in catalog_path is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.CatalogPath = expandTilde(cfg.CatalogPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Scan.NameFilter == "" {
		return fmt.Errorf("scan.name_filter must not be empty")
	}

	if c.Scan.Buffer <= 0 {
		return fmt.Errorf("scan.buffer must be > 0")
	}

	// Droid firmware ignores re-advertisements inside its 60s cooldown.
	if c.Beacon.IntervalSeconds < 60 {
		return fmt.Errorf("beacon.interval_seconds must be >= 60, got %d", c.Beacon.IntervalSeconds)
	}

	if c.Connect.WriteTimeoutMillis <= 0 {
		return fmt.Errorf("connect.write_timeout_ms must be > 0")
	}

	if c.Connect.PacketDelayMillis <= 0 {
		return fmt.Errorf("connect.packet_delay_ms must be > 0")
	}

	if c.Connect.LogonRepeats <= 0 {
		return fmt.Errorf("connect.logon_repeats must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes a commented default config file to the default
// path if none exists. It returns the path written, or "" if a config
// file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	cfg := Default()
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	content := "# droidlink configuration\n" +
		"# beacon.interval_seconds below 60 is rejected: droid firmware\n" +
		"# ignores beacons re-broadcast inside its reaction cooldown.\n" +
		string(body)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}

	return path, nil
}

// ParseLogLevel maps a config log level string to a slog.Level,
// defaulting to info for unknown values.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
