// Package config loads the --daemon mode configuration file: the
// device, MQTT bridge and GPIO watcher settings that a one-shot CLI
// invocation doesn't need (spec.md §6 "no persisted state" still holds
// for plain one-shot commands; this is opt-in long-running mode only).
// Directly generalized from the sibling NFC tooling's reset/sdmconfig
// config loaders.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the --daemon mode YAML document.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	MQTT   *MQTTConfig  `yaml:"mqtt,omitempty"`
	GPIO   *GPIOConfig  `yaml:"gpio,omitempty"`
}

// DeviceConfig identifies the lock and the paired user.
type DeviceConfig struct {
	MAC         string `yaml:"mac"`
	UserID      int    `yaml:"user_id"`
	UserKeyFile string `yaml:"user_key_file"`
}

// MQTTConfig configures the optional MQTT command bridge.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic,omitempty"`
}

// GPIOConfig configures the optional close-button watcher.
type GPIOConfig struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

// Load reads, strictly decodes, resolves relative paths against path's
// directory, and validates the config at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required fields are present and internally
// consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.MAC) == "" {
		return fmt.Errorf("config.device.mac is required")
	}
	if c.Device.UserID < 0 || c.Device.UserID > 0xFF {
		return fmt.Errorf("config.device.user_id must be 0-255")
	}
	if strings.TrimSpace(c.Device.UserKeyFile) == "" {
		return fmt.Errorf("config.device.user_key_file is required")
	}
	if err := validateReadableFile(c.Device.UserKeyFile, "config.device.user_key_file"); err != nil {
		return err
	}

	if c.MQTT != nil && strings.TrimSpace(c.MQTT.Broker) == "" {
		return fmt.Errorf("config.mqtt.broker is required when config.mqtt is set")
	}
	if c.GPIO != nil && strings.TrimSpace(c.GPIO.Chip) == "" {
		return fmt.Errorf("config.gpio.chip is required when config.gpio is set")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	dir := filepath.Dir(configPath)
	c.Device.UserKeyFile = resolvePath(dir, c.Device.UserKeyFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
