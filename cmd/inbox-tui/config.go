// ABOUTME: Configuration loading for the inbox TUI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Portal  PortalConfig  `toml:"portal"`
	Feed    FeedConfig    `toml:"feed"`
	Logging LoggingConfig `toml:"logging"`
}

type PortalConfig struct {
	URL string `toml:"url"`
}

type FeedConfig struct {
	Transport     string `toml:"transport"` // "ws" or "nats"
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" (colorized) or "json"
}

func defaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{URL: "http://localhost:8484"},
		Feed: FeedConfig{
			Transport:     "ws",
			NATSURL:       "nats://localhost:4222",
			SubjectPrefix: "hireloop",
		},
		Logging: LoggingConfig{Level: "warn", Format: "text"},
	}
}

// defaultConfigPath returns XDG_CONFIG_HOME/hireloop/inbox.toml or the
// ~/.config equivalent.
func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "inbox.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "hireloop", "inbox.toml")
}

// loadConfig reads the TOML config, expanding environment variables.
// A missing file at the default path is fine (flags cover everything);
// a missing file named by INBOX_CONFIG is an error.
func loadConfig() (*Config, error) {
	path := os.Getenv("INBOX_CONFIG")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that config fields are present and valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Portal.URL)
	if err != nil {
		return fmt.Errorf("portal.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("portal.url must use http or https scheme")
	}

	switch c.Feed.Transport {
	case "ws", "nats":
	default:
		return fmt.Errorf("feed.transport must be \"ws\" or \"nats\", got %q", c.Feed.Transport)
	}
	if c.Feed.Transport == "nats" && c.Feed.NATSURL == "" {
		return fmt.Errorf("feed.nats_url is required when feed.transport is \"nats\"")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}
