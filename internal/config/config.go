// Package config layers default, file, and environment configuration
// sources with knadh/koanf, then applies command-line flag overrides on
// top, the same precedence order the hub's sibling services use.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/missionctl/missionctl/internal/logging"
)

const envPrefix = "MISSIONCTL_"

// Config holds mission control's runtime configuration: where it listens,
// where it stores data, and how the delivery worker paces itself.
type Config struct {
	Addr         string
	DataDir      string
	DBPath       string
	PollInterval int // milliseconds
	ClaimLimit   int
	MaxAttempts  int
	RetryDelay   int64 // milliseconds
	LogLevel     string
}

func defaults() map[string]any {
	return map[string]any{
		"addr":          ":4888",
		"data_dir":      "./data",
		"db_path":       "",
		"poll_interval": 2000,
		"claim_limit":   20,
		"max_attempts":  3,
		"retry_delay":   30000,
		"log_level":     "info",
	}
}

// Load builds a Config from, in ascending precedence: built-in defaults,
// an optional YAML file at configPath (skipped silently if it doesn't
// exist), environment variables prefixed MISSIONCTL_, then flags already
// parsed onto fs.
func Load(configPath string, fs *flag.FlagSet, args []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMap), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{
		Addr:         k.String("addr"),
		DataDir:      k.String("data_dir"),
		DBPath:       k.String("db_path"),
		PollInterval: k.Int("poll_interval"),
		ClaimLimit:   k.Int("claim_limit"),
		MaxAttempts:  k.Int("max_attempts"),
		RetryDelay:   k.Int64("retry_delay"),
		LogLevel:     k.String("log_level"),
	}

	if fs != nil {
		applyFlags(cfg, fs, args)
	}

	return cfg, nil
}

// envKeyMap turns MISSIONCTL_DATA_DIR into "data_dir", matching the
// dotted/underscored keys used by defaults() and the YAML schema.
func envKeyMap(s string) string {
	return toLowerUnderscore(s, envPrefix)
}

func toLowerUnderscore(s, prefix string) string {
	trimmed := s
	if len(s) > len(prefix) {
		trimmed = s[len(prefix):]
	}
	out := make([]byte, len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out[i] = c
	}
	return string(out)
}

func applyFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "debug HTTP listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path override")
	fs.IntVar(&cfg.PollInterval, "poll-interval-ms", cfg.PollInterval, "delivery worker poll interval in milliseconds")
	fs.IntVar(&cfg.ClaimLimit, "claim-limit", cfg.ClaimLimit, "max notifications claimed per worker tick")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "delivery attempts before dead-lettering")
	fs.Int64Var(&cfg.RetryDelay, "retry-delay-ms", cfg.RetryDelay, "retry delay in milliseconds")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	_ = fs.Parse(args)
}

// Validate ensures the data directory exists and the tunables are sane,
// mirroring the hub config's own Validate, and applies LogLevel to the
// global log level.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logging.SetLevel(level)
	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if c.ClaimLimit <= 0 {
		return fmt.Errorf("claim limit must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}
