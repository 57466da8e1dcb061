// Package config loads unwindctl's YAML settings file, following delve's
// historical config.yml convention (load-or-default, never fail the whole
// program because the file is missing).
package config

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the full set of user-tunable settings.
type Config struct {
	// LogLevel names a logrus level ("debug", "info", "warn", "error").
	// Empty means the default (info).
	LogLevel string `yaml:"log-level"`

	// LogComponents enables per-component debug logging (unwind, dwarfexpr,
	// memview), independent of LogLevel.
	LogComponents []string `yaml:"log-components"`

	// MaxDepth bounds the number of frames a single backtrace will unwind
	// before stopping, guarding against CFI cycles the oracle doesn't
	// catch. Zero means unbounded.
	MaxDepth int `yaml:"max-depth"`

	// WordSizeDefault is used when the target's ELF class can't be
	// determined (e.g. some core file formats omit it); 4 or 8.
	WordSizeDefault int `yaml:"word-size-default"`

	// CFICacheSize bounds the per-session CFI lookup cache entry count; 0
	// disables caching.
	CFICacheSize int `yaml:"cfi-cache-size"`
}

// Default returns the settings used when no config file is present.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		MaxDepth:        1024,
		WordSizeDefault: 8,
		CFICacheSize:    256,
	}
}

// Dir returns the directory unwindctl's config file lives in, creating it
// if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "unwindctl")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads and parses the config file at path. A missing file is not an
// error: Default() is returned instead, matching delve's "first run has no
// config.yml yet" behavior.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LogrusLevel parses cfg.LogLevel, falling back to logrus.InfoLevel on an
// empty or unrecognized value rather than failing startup.
func (c *Config) LogrusLevel() logrus.Level {
	if c.LogLevel == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
