// CLAUDE:SUMMARY Defines sentinel config structs and parses YAML configuration files with defaults and validation.
// Package config handles sentinel configuration from YAML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

// Config is the top-level sentinel configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"` // debug | info | warn | error
	Browser     BrowserConfig     `yaml:"browser"`
	KeepAlive   KeepAliveConfig   `yaml:"keepalive"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Sinks       []SinkConfig      `yaml:"sinks"`
	Server      ServerConfig      `yaml:"server"`
}

// BrowserConfig controls how the notebook page is reached.
type BrowserConfig struct {
	// Remote is the DevTools WebSocket URL of an already running Chrome.
	Remote string `yaml:"remote"`
	// Bin overrides the Chrome binary used for a local launch.
	Bin string `yaml:"bin"`
	// UserDataDir reuses a Chrome profile (keeps the notebook login).
	UserDataDir string `yaml:"user_data_dir"`
	Stealth     string `yaml:"stealth"` // headless | headful
	XvfbDisplay string `yaml:"xvfb_display"`
	// URL of the notebook to open.
	URL string `yaml:"url"`
	// Attach selects an existing tab whose URL contains this string instead
	// of opening URL.
	Attach string `yaml:"attach"`
}

// KeepAliveConfig controls the idle-prevention loop.
type KeepAliveConfig struct {
	Interval time.Duration `yaml:"interval"`
	Targets  []string      `yaml:"targets"`
	// AutoStart starts one task when the process starts.
	AutoStart *bool `yaml:"auto_start"`
}

// PersistenceConfig controls the checkpoint layout initializer.
type PersistenceConfig struct {
	MountPoint   string   `yaml:"mount_point"`
	Root         string   `yaml:"root"`
	MountCommand []string `yaml:"mount_command"`
	Project      string   `yaml:"project"`
}

// LedgerConfig controls the SQLite journal.
type LedgerConfig struct {
	Path      string        `yaml:"path"` // empty disables the ledger
	Retention time.Duration `yaml:"retention"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type       string `yaml:"type"` // console | stdout | webhook
	URL        string `yaml:"url"`  // for webhook
	ClicksOnly bool   `yaml:"clicks_only"`
}

// ServerConfig controls the HTTP/MCP control surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	User string `yaml:"user"`
	// PasswordHash is a bcrypt hash. Empty disables authentication.
	PasswordHash string `yaml:"password_hash"`
}

// AutoStartEnabled reports whether a task is started at boot. Default: true.
func (k KeepAliveConfig) AutoStartEnabled() bool {
	return k.AutoStart == nil || *k.AutoStart
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// LoadFile reads, defaults and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.KeepAlive.Interval == 0 {
		c.KeepAlive.Interval = keepalive.DefaultInterval
	}
	if len(c.KeepAlive.Targets) == 0 {
		c.KeepAlive.Targets = append([]string(nil), keepalive.DefaultTargets...)
	}
	if c.Persistence.MountPoint == "" {
		c.Persistence.MountPoint = persist.DefaultMountPoint
	}
	if c.Persistence.Root == "" {
		c.Persistence.Root = persist.DefaultRoot
	}
	if c.Ledger.Retention == 0 {
		c.Ledger.Retention = 7 * 24 * time.Hour
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "console"}}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8087"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.KeepAlive.Interval <= 0 {
		return fmt.Errorf("config: keepalive.interval must be positive, got %s", c.KeepAlive.Interval)
	}
	for i, t := range c.KeepAlive.Targets {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("config: keepalive.targets[%d] is empty", i)
		}
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want headless or headful", c.Browser.Stealth)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "console", "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	if c.Server.PasswordHash != "" && c.Server.User == "" {
		return fmt.Errorf("config: server.password_hash set without server.user")
	}
	return nil
}

// ParseLevel maps a log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", s)
}
