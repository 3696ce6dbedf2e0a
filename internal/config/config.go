// Package config provides configuration management for usbscope.
//
// Everything runs with sensible defaults when no config file exists; the
// file only overrides timing policy, listen address and storage paths.
//
// Config file locations (priority order):
//  1. $USBSCOPE_CONFIG
//  2. ./usbscope.yaml
//  3. ~/.config/usbscope/config.yaml
//  4. /etc/usbscope/config.yaml
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen            = ":8070"
	DefaultDatabasePath      = "./usbscope.db"
	DefaultDebounceWindow    = 300 * time.Millisecond
	DefaultLearningWindow    = 2 * time.Second
	DefaultClientQueueSize   = 64
	DefaultDmesgPollInterval = 2 * time.Second
	DefaultDmesgHistory      = 200
)

// Load finds and loads the config file, or returns defaults if none found.
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path.
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation.
func DefaultConfig() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Monitor.DebounceWindow == 0 {
		c.Monitor.DebounceWindow = Duration(DefaultDebounceWindow)
	}
	if c.Monitor.LearningWindow == 0 {
		c.Monitor.LearningWindow = Duration(DefaultLearningWindow)
	}
	if c.Monitor.ClientQueueSize == 0 {
		c.Monitor.ClientQueueSize = DefaultClientQueueSize
	}
	if c.Monitor.DmesgPollInterval == 0 {
		c.Monitor.DmesgPollInterval = Duration(DefaultDmesgPollInterval)
	}
	if c.Monitor.DmesgHistory == 0 {
		c.Monitor.DmesgHistory = DefaultDmesgHistory
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
