package config

import (
	"time"

	"usbscope/internal/logger"
)

// Config is the root configuration structure.
type Config struct {
	Version  int            `yaml:"version"`
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Log      logger.Config  `yaml:"log"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MonitorConfig tunes the topology monitor's timing policy.
type MonitorConfig struct {
	// DebounceWindow is how long a removal is withheld waiting for the same
	// address to re-appear before it is broadcast.
	DebounceWindow Duration `yaml:"debounce_window"`

	// LearningWindow is the maximum spread of hub disappearances still
	// counted as one physical unplug during a learning session.
	LearningWindow Duration `yaml:"learning_window"`

	// ClientQueueSize bounds each websocket subscriber's event queue.
	ClientQueueSize int `yaml:"client_queue_size"`

	// DmesgPollInterval is how often the kernel log is polled for USB errors.
	DmesgPollInterval Duration `yaml:"dmesg_poll_interval"`

	// DmesgHistory caps how many recent USB errors are retained per report.
	DmesgHistory int `yaml:"dmesg_history"`
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration converts back to a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
