// Package config loads and validates the davsync configuration file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Account describes one server account. At least one of CardDAV and CalDAV
// must be set; each may point at the server base, a principal URL or a
// home set.
type Account struct {
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	CardDAV  string `yaml:"carddav,omitempty"`
	CalDAV   string `yaml:"caldav,omitempty"`
}

// Config is the root of the configuration file.
type Config struct {
	Database string    `yaml:"database"`
	LogLevel string    `yaml:"log_level,omitempty"`
	Accounts []Account `yaml:"accounts"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Database == "" {
		cfg.Database = "davsync.db"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, acct := range c.Accounts {
		if acct.Name == "" {
			return fmt.Errorf("account %d has no name", i)
		}
		if seen[acct.Name] {
			return fmt.Errorf("duplicate account name %q", acct.Name)
		}
		seen[acct.Name] = true
		if acct.CardDAV == "" && acct.CalDAV == "" {
			return fmt.Errorf("account %q has neither a carddav nor a caldav URL", acct.Name)
		}
		for _, location := range []string{acct.CardDAV, acct.CalDAV} {
			if location == "" {
				continue
			}
			u, err := url.Parse(location)
			if err != nil {
				return fmt.Errorf("account %q has an invalid URL %s: %w", acct.Name, location, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("account %q URL %s must use http or https", acct.Name, location)
			}
		}
	}
	return nil
}

// Account returns the named account, or nil if it is not configured.
func (c *Config) Account(name string) *Account {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i]
		}
	}
	return nil
}

// SlogLevel maps the configured log level to a slog level. The empty level
// means info.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
