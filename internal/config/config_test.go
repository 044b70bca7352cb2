package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfigAndResolveRelativePaths(t *testing.T) {
	tmp := t.TempDir()
	keyPath := filepath.Join(tmp, "user.hex")
	if err := os.WriteFile(keyPath, []byte("00112233445566778899AABBCCDDEEFF\n"), 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
device:
  mac: "aa:bb:cc:dd:ee:ff"
  user_id: 1
  user_key_file: "user.hex"
mqtt:
  broker: "tcp://localhost:1883"
  topic: "door"
gpio:
  chip: "gpiochip0"
  line: 17
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.UserKeyFile != keyPath {
		t.Fatalf("UserKeyFile = %q, want %q", cfg.Device.UserKeyFile, keyPath)
	}
	if cfg.MQTT == nil || cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Fatalf("MQTT config not loaded correctly: %+v", cfg.MQTT)
	}
	if cfg.GPIO == nil || cfg.GPIO.Line != 17 {
		t.Fatalf("GPIO config not loaded correctly: %+v", cfg.GPIO)
	}
}

func TestLoadMinimalConfigWithoutMQTTOrGPIO(t *testing.T) {
	tmp := t.TempDir()
	keyPath := filepath.Join(tmp, "user.hex")
	if err := os.WriteFile(keyPath, []byte("00112233445566778899AABBCCDDEEFF\n"), 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
device:
  mac: "aa:bb:cc:dd:ee:ff"
  user_id: 1
  user_key_file: "user.hex"
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT != nil || cfg.GPIO != nil {
		t.Fatalf("expected nil MQTT and GPIO, got %+v / %+v", cfg.MQTT, cfg.GPIO)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
device:
  mac: "aa:bb:cc:dd:ee:ff"
  user_id: 1
  user_key_file: "user.hex"
  bogus_field: true
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsMissingUserKeyFile(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
device:
  mac: "aa:bb:cc:dd:ee:ff"
  user_id: 1
  user_key_file: "missing.hex"
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected error for missing user key file")
	}
}
