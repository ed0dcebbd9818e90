package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Hearth Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Hub       HubConfig       `yaml:"hub"`
	Protocols ProtocolsConfig `yaml:"protocols"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// When enabled, numeric device state changes are mirrored as time-series points.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HubConfig contains communication hub timeout settings (seconds).
type HubConfig struct {
	// CommandTimeout bounds a single SendCommand call at the handler boundary.
	CommandTimeout int `yaml:"command_timeout"`

	// DiscoveryTimeout bounds one handler's discovery pass during fan-out.
	DiscoveryTimeout int `yaml:"discovery_timeout"`
}

// ProtocolsConfig contains protocol handler settings.
// Enabled lists the protocol names the hub should instantiate; names without
// a registered handler are skipped with a warning at startup.
type ProtocolsConfig struct {
	Enabled   []string        `yaml:"enabled"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Zigbee    ZigbeeConfig    `yaml:"zigbee"`
	ZWave     ZWaveConfig     `yaml:"zwave"`
	Matter    MatterConfig    `yaml:"matter"`
	Tuya      TuyaConfig      `yaml:"tuya"`
	Govee     GoveeConfig     `yaml:"govee"`
	Gosung    GosungConfig    `yaml:"gosung"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// WiFiConfig contains WiFi network scan settings.
type WiFiConfig struct {
	// Targets are the nmap scan targets (CIDR ranges or hosts).
	Targets []string `yaml:"targets"`

	// ScanInterval is the delay between discovery passes (seconds).
	ScanInterval int `yaml:"scan_interval"`

	// Ports are the TCP ports probed to classify smart devices.
	Ports string `yaml:"ports"`
}

// BluetoothConfig contains Bluetooth scan settings.
type BluetoothConfig struct {
	Adapter      string `yaml:"adapter"`
	ScanInterval int    `yaml:"scan_interval"`

	// Devices seeds known paired devices (address, name, type).
	Devices []BluetoothDeviceConfig `yaml:"devices"`
}

// BluetoothDeviceConfig describes one paired Bluetooth device.
type BluetoothDeviceConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
}

// ZigbeeConfig contains zigbee2mqtt bridge settings.
// The Zigbee handler rides on the shared MQTT broker connection.
type ZigbeeConfig struct {
	BaseTopic string `yaml:"base_topic"`
}

// ZWaveConfig contains Z-Wave gateway settings.
// The handler speaks the zwave-js-server WebSocket API.
type ZWaveConfig struct {
	ServerURL    string `yaml:"server_url"`
	ScanInterval int    `yaml:"scan_interval"`
}

// MatterConfig contains Matter commissioned-device discovery settings.
type MatterConfig struct {
	// Service is the DNS-SD service to browse. Default "_matter._tcp".
	Service      string `yaml:"service"`
	ScanInterval int    `yaml:"scan_interval"`
}

// TuyaConfig contains Tuya LAN device settings.
type TuyaConfig struct {
	ScanInterval int                `yaml:"scan_interval"`
	Devices      []TuyaDeviceConfig `yaml:"devices"`
}

// TuyaDeviceConfig describes one Tuya device reachable on the LAN.
type TuyaDeviceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	LocalKey string `yaml:"local_key"`
}

// GoveeConfig contains Govee LAN control settings.
// Govee devices announce themselves via UDP multicast on port 4001.
type GoveeConfig struct {
	MulticastAddr string `yaml:"multicast_addr"`
	ControlPort   int    `yaml:"control_port"`
	ScanInterval  int    `yaml:"scan_interval"`
}

// GosungConfig contains Gosung LED strip settings. Gosung strips expose
// a local HTTP API and are probed at known addresses rather than
// discovered by broadcast.
type GosungConfig struct {
	// Hosts are the IPs or hostnames to probe for Gosung strips.
	Hosts []string `yaml:"hosts"`

	// ScanInterval is the delay between probe passes (seconds).
	ScanInterval int `yaml:"scan_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HEARTH_SECTION_KEY
// For example: HEARTH_DATABASE_PATH, HEARTH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Hearth",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/hearth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Hub: HubConfig{
			CommandTimeout:   5,
			DiscoveryTimeout: 30,
		},
		Protocols: ProtocolsConfig{
			Enabled: []string{"mqtt", "wifi", "bluetooth"},
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "hearth-core",
				},
				QoS:         1,
				TopicPrefix: "hearth",
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
			WiFi: WiFiConfig{
				Targets:      []string{"192.168.1.0/24"},
				ScanInterval: 30,
				Ports:        "80,443,8080,8443,9999",
			},
			Bluetooth: BluetoothConfig{
				Adapter:      "hci0",
				ScanInterval: 60,
			},
			Zigbee: ZigbeeConfig{
				BaseTopic: "zigbee2mqtt",
			},
			ZWave: ZWaveConfig{
				ServerURL:    "ws://localhost:3000",
				ScanInterval: 60,
			},
			Matter: MatterConfig{
				Service:      "_matter._tcp",
				ScanInterval: 60,
			},
			Tuya: TuyaConfig{
				ScanInterval: 60,
			},
			Govee: GoveeConfig{
				MulticastAddr: "239.255.255.250:4001",
				ControlPort:   4003,
				ScanInterval:  30,
			},
			Gosung: GosungConfig{
				ScanInterval: 300,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HEARTH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEARTH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HEARTH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HEARTH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("HEARTH_MQTT_HOST"); v != "" {
		cfg.Protocols.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HEARTH_MQTT_USERNAME"); v != "" {
		cfg.Protocols.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HEARTH_MQTT_PASSWORD"); v != "" {
		cfg.Protocols.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HEARTH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("HEARTH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Protocols.MQTT.QoS < 0 || c.Protocols.MQTT.QoS > 2 {
		errs = append(errs, "protocols.mqtt.qos must be 0, 1, or 2")
	}

	if c.Hub.CommandTimeout < 1 {
		errs = append(errs, "hub.command_timeout must be at least 1 second")
	}
	if c.Hub.DiscoveryTimeout < 1 {
		errs = append(errs, "hub.discovery_timeout must be at least 1 second")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ProtocolEnabled reports whether the named protocol appears in the enabled list.
func (c *Config) ProtocolEnabled(name string) bool {
	for _, p := range c.Protocols.Enabled {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// GetCommandTimeout returns the hub command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Hub.CommandTimeout) * time.Second
}

// GetDiscoveryTimeout returns the hub discovery timeout as a Duration.
func (c *Config) GetDiscoveryTimeout() time.Duration {
	return time.Duration(c.Hub.DiscoveryTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
