package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  gateway_id: "a1b2c3d4e5f6"
  capacity: 10
cipher:
  mode: block
  key: "000102030405060708090a0b0c0d0e0f"
gateway_key: "s3cret"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.GatewayID != "a1b2c3d4e5f6" {
		t.Errorf("Bridge.GatewayID = %q", cfg.Bridge.GatewayID)
	}
	if cfg.Bridge.Capacity != 10 {
		t.Errorf("Bridge.Capacity = %d, want 10", cfg.Bridge.Capacity)
	}
	if cfg.GatewayKey != "s3cret" {
		t.Errorf("GatewayKey = %q", cfg.GatewayKey)
	}
	key, err := cfg.CipherKey()
	if err != nil || len(key) != 16 || key[15] != 0x0f {
		t.Errorf("CipherKey() = %x, %v", key, err)
	}
	// Defaults survive for keys the file does not set.
	if cfg.MQTT.TopicPrefix != "homeassistant" {
		t.Errorf("MQTT.TopicPrefix = %q, want default", cfg.MQTT.TopicPrefix)
	}
	if cfg.Radio.SyncWord != 0x12 {
		t.Errorf("Radio.SyncWord = %#x, want 0x12", cfg.Radio.SyncWord)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
gateway_key: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty gateway_key, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero capacity", func(c *Config) { c.Bridge.Capacity = 0 }, true},
		{"gateway id with slash", func(c *Config) { c.Bridge.GatewayID = "a/b" }, true},
		{"bad cipher mode", func(c *Config) { c.Cipher.Mode = "rot13" }, true},
		{"cipher key not hex", func(c *Config) { c.Cipher.Key = "zz" }, true},
		{"cipher key too long", func(c *Config) { c.Cipher.Key = string(bytes.Repeat([]byte("ab"), 17)) }, true},
		{"empty cipher key", func(c *Config) { c.Cipher.Key = "" }, false},
		{"bad partial block policy", func(c *Config) { c.Cipher.PartialBlock = "truncate" }, true},
		{"gateway key too long", func(c *Config) { c.GatewayKey = string(bytes.Repeat([]byte("k"), 32)) }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"mqtt enabled without host", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Host = "" }, true},
		{"mqtt disabled without host", func(c *Config) { c.MQTT.Broker.Host = "" }, false},
		{"spreading factor", func(c *Config) { c.Radio.SpreadingFactor = 13 }, true},
		{"invalid api port", func(c *Config) { c.API.Port = 70000 }, true},
		{"zero token ttl", func(c *Config) { c.API.Auth.TokenTTL = 0 }, true},
		{"api auth without hash", func(c *Config) { c.API.Auth.Enabled = true; c.API.Auth.Username = "admin" }, true},
		{"managed forwarder without binary", func(c *Config) { c.Radio.Forwarder.Managed = true }, true},
		{"managed forwarder", func(c *Config) { c.Radio.Forwarder.Managed = true; c.Radio.Forwarder.Binary = "/usr/bin/lora_fwd" }, false},
		{"websocket zero ping", func(c *Config) { c.API.WebSocket.PingInterval = 0 }, true},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := defaultConfig()
	cfg.API.Timeouts = APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetReconnectInterval(); got != 5*time.Second {
		t.Errorf("GetReconnectInterval() = %v, want 5s", got)
	}
	if got := cfg.GetPollInterval(); got != 20*time.Millisecond {
		t.Errorf("GetPollInterval() = %v, want 20ms", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("LORABRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LORABRIDGE_MQTT_ENABLED", "true")
	t.Setenv("LORABRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LORABRIDGE_MQTT_PORT", "8883")
	t.Setenv("LORABRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("LORABRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("LORABRIDGE_GATEWAY_KEY", "k2")
	t.Setenv("LORABRIDGE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.GatewayKey != "k2" {
		t.Errorf("GatewayKey = %q, want k2", cfg.GatewayKey)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Bridge.Capacity != 20 {
		t.Errorf("Bridge.Capacity = %d, want 20", cfg.Bridge.Capacity)
	}
	if cfg.Radio.FrequencyMHz != 868.0 {
		t.Errorf("Radio.FrequencyMHz = %v, want 868", cfg.Radio.FrequencyMHz)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	key, _ := cfg.CipherKey()
	if !bytes.Equal(key, []byte{0x4B, 0xA3, 0x3F, 0x9C}) {
		t.Errorf("CipherKey() = %x", key)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig does not validate: %v", err)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("LORABRIDGE_GATEWAY_ID", "gw01")
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.Bridge.GatewayID != "gw01" {
		t.Errorf("GatewayID = %q, want env override", cfg.Bridge.GatewayID)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	if cfg.Radio.SyncWord != 0x12 || cfg.Bridge.Capacity != 20 {
		t.Errorf("example config = %+v", cfg.Radio)
	}
	if len(cfg.Radio.Forwarder.Args) == 0 || cfg.Radio.Forwarder.Managed {
		t.Errorf("forwarder = %+v, want unmanaged with args", cfg.Radio.Forwarder)
	}
}
