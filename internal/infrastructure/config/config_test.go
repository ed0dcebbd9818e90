package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "site:\n  id: test-site\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want test-site", cfg.Site.ID)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
	if cfg.Protocols.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT broker port = %d, want default 1883", cfg.Protocols.MQTT.Broker.Port)
	}
	if cfg.Hub.CommandTimeout != 5 {
		t.Errorf("Hub.CommandTimeout = %d, want default 5", cfg.Hub.CommandTimeout)
	}
	if len(cfg.Protocols.Enabled) != 3 {
		t.Errorf("Protocols.Enabled = %v, want default mqtt/wifi/bluetooth", cfg.Protocols.Enabled)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
site:
  id: home
api:
  port: 9090
protocols:
  enabled: [mqtt, zigbee]
  mqtt:
    broker:
      host: broker.local
      port: 8883
      tls: true
hub:
  command_timeout: 10
  discovery_timeout: 45
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Protocols.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT host = %q, want broker.local", cfg.Protocols.MQTT.Broker.Host)
	}
	if !cfg.Protocols.MQTT.Broker.TLS {
		t.Error("expected TLS enabled")
	}
	if got := cfg.Protocols.Enabled; len(got) != 2 || got[0] != "mqtt" || got[1] != "zigbee" {
		t.Errorf("Protocols.Enabled = %v, want [mqtt zigbee]", got)
	}
	if cfg.Hub.DiscoveryTimeout != 45 {
		t.Errorf("Hub.DiscoveryTimeout = %d, want 45", cfg.Hub.DiscoveryTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_MQTT_HOST", "env-broker")
	t.Setenv("HEARTH_API_PORT", "7070")
	t.Setenv("HEARTH_DATABASE_PATH", "/tmp/env.db")

	path := writeConfig(t, `
protocols:
  mqtt:
    broker:
      host: file-broker
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Protocols.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT host = %q, want env-broker", cfg.Protocols.MQTT.Broker.Host)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070", cfg.API.Port)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want /tmp/env.db", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "site: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"empty site id", func(c *Config) { c.Site.ID = "" }, true},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"port too high", func(c *Config) { c.API.Port = 70000 }, true},
		{"port zero", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid qos", func(c *Config) { c.Protocols.MQTT.QoS = 3 }, true},
		{"zero command timeout", func(c *Config) { c.Hub.CommandTimeout = 0 }, true},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProtocolEnabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.Protocols.Enabled = []string{"mqtt", "zigbee"}

	if !cfg.ProtocolEnabled("mqtt") {
		t.Error("expected mqtt enabled")
	}
	if !cfg.ProtocolEnabled("MQTT") {
		t.Error("expected case-insensitive match")
	}
	if cfg.ProtocolEnabled("wifi") {
		t.Error("expected wifi disabled")
	}
}
