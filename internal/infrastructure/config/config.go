package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for xcomfortd.
// All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains the xComfort Bridge connection settings.
type BridgeConfig struct {
	// Host is the bridge's address on the local network. Required.
	Host string `yaml:"host"`

	// AuthKey is the shared secret provisioned on the bridge. Required.
	AuthKey string `yaml:"auth_key"`

	// BackoffSeconds is the delay between reconnection attempts.
	BackoffSeconds int `yaml:"backoff_seconds"`

	// TransportTimeoutSeconds bounds handshake phases and frame writes.
	TransportTimeoutSeconds int `yaml:"transport_timeout_seconds"`
}

// MQTTConfig contains MQTT broker connection settings for state export.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry.
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

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern XCOMFORT_SECTION_KEY, for
// example XCOMFORT_BRIDGE_HOST or XCOMFORT_MQTT_ENABLED.
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

// defaultConfig returns the configuration defaults applied before the
// YAML file and environment are consulted.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			BackoffSeconds:          5,
			TransportTimeoutSeconds: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "xcomfortd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "xcomfort",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides overlays XCOMFORT_* environment variables onto the
// loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XCOMFORT_BRIDGE_HOST"); v != "" {
		cfg.Bridge.Host = v
	}
	if v := os.Getenv("XCOMFORT_BRIDGE_AUTH_KEY"); v != "" {
		cfg.Bridge.AuthKey = v
	}
	if v, ok := envInt("XCOMFORT_BRIDGE_BACKOFF_SECONDS"); ok {
		cfg.Bridge.BackoffSeconds = v
	}
	if v, ok := envBool("XCOMFORT_MQTT_ENABLED"); ok {
		cfg.MQTT.Enabled = v
	}
	if v := os.Getenv("XCOMFORT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt("XCOMFORT_MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv("XCOMFORT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("XCOMFORT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v, ok := envBool("XCOMFORT_INFLUXDB_ENABLED"); ok {
		cfg.InfluxDB.Enabled = v
	}
	if v := os.Getenv("XCOMFORT_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("XCOMFORT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("XCOMFORT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Bridge.Host == "" {
		return fmt.Errorf("bridge.host is required")
	}
	if c.Bridge.AuthKey == "" {
		return fmt.Errorf("bridge.auth_key is required")
	}
	if c.Bridge.BackoffSeconds <= 0 {
		return fmt.Errorf("bridge.backoff_seconds must be positive")
	}
	if c.Bridge.TransportTimeoutSeconds <= 0 {
		return fmt.Errorf("bridge.transport_timeout_seconds must be positive")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			return fmt.Errorf("mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			return fmt.Errorf("influxdb.token is required when influxdb is enabled")
		}
	}
	return nil
}

// GetBackoff returns the reconnect backoff as a duration.
func (c *Config) GetBackoff() time.Duration {
	return time.Duration(c.Bridge.BackoffSeconds) * time.Second
}

// GetTransportTimeout returns the transport timeout as a duration.
func (c *Config) GetTransportTimeout() time.Duration {
	return time.Duration(c.Bridge.TransportTimeoutSeconds) * time.Second
}
