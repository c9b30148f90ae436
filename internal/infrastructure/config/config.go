package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the LoRa bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// Radio, cipher, gateway key and API credential values only seed the
// persisted settings on first boot. Once settings have been saved, the stored
// values take precedence.
type Config struct {
	Bridge     BridgeConfig   `yaml:"bridge"`
	Radio      RadioConfig    `yaml:"radio"`
	Cipher     CipherConfig   `yaml:"cipher"`
	GatewayKey string         `yaml:"gateway_key"`
	Database   DatabaseConfig `yaml:"database"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
	API        APIConfig      `yaml:"api"`
	InfluxDB   InfluxDBConfig `yaml:"influxdb"`
	Logging    LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains engine settings.
type BridgeConfig struct {
	// GatewayID namespaces MQTT topics and unique IDs. Empty means derive
	// it from the first hardware address of the host.
	GatewayID string `yaml:"gateway_id"`
	Name      string `yaml:"name"`
	Capacity  int    `yaml:"capacity"`

	// PollInterval is the loop period in milliseconds.
	PollInterval int `yaml:"poll_interval"`

	// FramesPerPass bounds how many radio frames one loop pass handles.
	FramesPerPass int `yaml:"frames_per_pass"`
}

// RadioConfig contains the radio link settings. Modulation parameters are
// handed to the packet forwarder and shown in diagnostics; the bridge itself
// only listens for forwarded frames.
type RadioConfig struct {
	Listen          string  `yaml:"listen"`
	FrequencyMHz    float64 `yaml:"frequency_mhz"`
	SpreadingFactor int     `yaml:"spreading_factor"`
	BandwidthHz     int     `yaml:"bandwidth_hz"`
	CodingRate      int     `yaml:"coding_rate"`
	Preamble        int     `yaml:"preamble"`
	SyncWord        int     `yaml:"sync_word"`
	QueueSize       int     `yaml:"queue_size"`

	Forwarder ForwarderConfig `yaml:"forwarder"`
}

// ForwarderConfig describes a packet forwarder the bridge runs as a child
// process. Args may contain placeholders such as {freq_mhz}, {sf} and
// {server}; see the forwarder package.
type ForwarderConfig struct {
	Managed bool     `yaml:"managed"`
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`

	// RestartDelay is the wait before a restart, in seconds.
	RestartDelay int `yaml:"restart_delay"`

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// SilenceTimeout restarts the forwarder when no frame has arrived for
	// this many seconds. 0 disables the watchdog.
	SilenceTimeout int `yaml:"silence_timeout"`
}

// CipherConfig contains the decryption gate settings.
type CipherConfig struct {
	// Mode is one of "none", "stream" (xor) or "block" (aes).
	Mode string `yaml:"mode"`

	// Key is the hex-encoded key, at most 16 bytes.
	Key string `yaml:"key"`

	// PartialBlock is "reject" or "passthrough".
	PartialBlock string `yaml:"partial_block"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`

	// ReconnectInterval is the minimum time between connection attempts, in seconds.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// DiagnosticsInterval is the minimum time between bridge diagnostics
	// publications, in seconds.
	DiagnosticsInterval int `yaml:"diagnostics_interval"`
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

// APIConfig contains management API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	Auth      APIAuthConfig    `yaml:"auth"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings of the live device event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// APIAuthConfig seeds the UI credential on first boot. PasswordHash must be
// an Argon2id PHC string.
type APIAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`

	// TokenTTL is the lifetime of login tokens in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LORABRIDGE_SECTION_KEY
// For example: LORABRIDGE_DATABASE_PATH, LORABRIDGE_MQTT_HOST
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

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with the factory defaults of the bridge.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Name:          "LoRa Bridge",
			Capacity:      20,
			PollInterval:  20,
			FramesPerPass: 8,
		},
		Radio: RadioConfig{
			Listen:          "0.0.0.0:1700",
			FrequencyMHz:    868.0,
			SpreadingFactor: 8,
			BandwidthHz:     125000,
			CodingRate:      5,
			Preamble:        6,
			SyncWord:        0x12,
			QueueSize:       16,
			Forwarder: ForwarderConfig{
				RestartDelay: 5,
			},
		},
		Cipher: CipherConfig{
			Mode:         "stream",
			Key:          "4ba33f9c",
			PartialBlock: "reject",
		},
		GatewayKey: "xy",
		Database: DatabaseConfig{
			Path:        "./data/lorabridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lorabridge",
			},
			QoS:                 0,
			TopicPrefix:         "homeassistant",
			ReconnectInterval:   5,
			DiagnosticsInterval: 60,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		InfluxDB: InfluxDBConfig{
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

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LORABRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("LORABRIDGE_GATEWAY_ID"); v != "" {
		cfg.Bridge.GatewayID = v
	}
	if v := os.Getenv("LORABRIDGE_GATEWAY_KEY"); v != "" {
		cfg.GatewayKey = v
	}
	if v := os.Getenv("LORABRIDGE_RADIO_LISTEN"); v != "" {
		cfg.Radio.Listen = v
	}
	if v := os.Getenv("LORABRIDGE_CIPHER_KEY"); v != "" {
		cfg.Cipher.Key = v
	}

	// Database
	if v := os.Getenv("LORABRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("LORABRIDGE_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	if v := os.Getenv("LORABRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LORABRIDGE_MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = p
		}
	}
	if v := os.Getenv("LORABRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LORABRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LORABRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("LORABRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("LORABRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Bridge
	if c.Bridge.Capacity < 1 || c.Bridge.Capacity > 255 {
		errs = append(errs, "bridge.capacity must be between 1 and 255")
	}
	if c.Bridge.PollInterval < 1 {
		errs = append(errs, "bridge.poll_interval must be positive")
	}
	if c.Bridge.FramesPerPass < 1 {
		errs = append(errs, "bridge.frames_per_pass must be positive")
	}
	if strings.ContainsAny(c.Bridge.GatewayID, "/+# ") {
		errs = append(errs, "bridge.gateway_id must not contain MQTT wildcards, '/' or spaces")
	}

	// Radio
	if c.Radio.Listen == "" {
		errs = append(errs, "radio.listen is required")
	}
	if c.Radio.SpreadingFactor < 6 || c.Radio.SpreadingFactor > 12 {
		errs = append(errs, "radio.spreading_factor must be between 6 and 12")
	}
	if c.Radio.CodingRate < 5 || c.Radio.CodingRate > 8 {
		errs = append(errs, "radio.coding_rate must be between 5 and 8")
	}
	if c.Radio.QueueSize < 1 {
		errs = append(errs, "radio.queue_size must be positive")
	}
	if c.Radio.Forwarder.Managed && c.Radio.Forwarder.Binary == "" {
		errs = append(errs, "radio.forwarder.binary is required when the forwarder is managed")
	}
	if c.Radio.Forwarder.RestartDelay < 0 || c.Radio.Forwarder.MaxRestartAttempts < 0 || c.Radio.Forwarder.SilenceTimeout < 0 {
		errs = append(errs, "radio.forwarder delays and limits must not be negative")
	}

	// Cipher
	switch strings.ToLower(c.Cipher.Mode) {
	case "none", "stream", "xor", "block", "aes":
	default:
		errs = append(errs, "cipher.mode must be none, stream or block")
	}
	if key, err := c.CipherKey(); err != nil {
		errs = append(errs, "cipher.key must be hex encoded")
	} else if len(key) > 16 {
		errs = append(errs, "cipher.key must be at most 16 bytes")
	}
	switch strings.ToLower(c.Cipher.PartialBlock) {
	case "", "reject", "passthrough":
	default:
		errs = append(errs, "cipher.partial_block must be reject or passthrough")
	}

	if c.GatewayKey == "" {
		errs = append(errs, "gateway_key is required")
	} else if len(c.GatewayKey) > 31 {
		errs = append(errs, "gateway_key must be at most 31 characters")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}
	if c.MQTT.ReconnectInterval < 1 {
		errs = append(errs, "mqtt.reconnect_interval must be positive")
	}
	if c.MQTT.DiagnosticsInterval < 1 {
		errs = append(errs, "mqtt.diagnostics_interval must be positive")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1 {
		errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
	}
	if c.API.WebSocket.MaxMessageSize < 1 {
		errs = append(errs, "api.websocket.max_message_size must be positive")
	}
	if c.API.Auth.Enabled && (c.API.Auth.Username == "" || c.API.Auth.PasswordHash == "") {
		errs = append(errs, "api.auth requires username and password_hash when enabled")
	}
	if c.API.Auth.TokenTTL < 1 {
		errs = append(errs, "api.auth.token_ttl must be positive")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CipherKey decodes the hex cipher key.
func (c *Config) CipherKey() ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(c.Cipher.Key))
}

// GetPollInterval returns the loop period as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollInterval) * time.Millisecond
}

// GetTokenTTL returns the login token lifetime as a Duration.
func (c *APIConfig) GetTokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTL) * time.Minute
}

// GetForwarderRestartDelay returns the forwarder restart delay as a Duration.
func (c *Config) GetForwarderRestartDelay() time.Duration {
	return time.Duration(c.Radio.Forwarder.RestartDelay) * time.Second
}

// GetForwarderSilenceTimeout returns the forwarder watchdog timeout as a Duration.
func (c *Config) GetForwarderSilenceTimeout() time.Duration {
	return time.Duration(c.Radio.Forwarder.SilenceTimeout) * time.Second
}

// GetReconnectInterval returns the MQTT reconnect throttle as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.MQTT.ReconnectInterval) * time.Second
}

// GetDiagnosticsInterval returns the diagnostics rate limit as a Duration.
func (c *Config) GetDiagnosticsInterval() time.Duration {
	return time.Duration(c.MQTT.DiagnosticsInterval) * time.Second
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
