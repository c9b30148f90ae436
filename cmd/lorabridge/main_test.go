package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/lora-bridge/internal/cipher"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lora-bridge/internal/persistence"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		env          string
		wantPath     string
		wantExplicit bool
	}{
		{name: "default", wantPath: defaultConfigPath},
		{name: "env", env: "/etc/lorabridge/env.yaml", wantPath: "/etc/lorabridge/env.yaml", wantExplicit: true},
		{name: "flag", args: []string{"--config", "/tmp/flag.yaml"}, wantPath: "/tmp/flag.yaml", wantExplicit: true},
		{name: "short flag", args: []string{"-c", "/tmp/short.yaml"}, wantPath: "/tmp/short.yaml", wantExplicit: true},
		{name: "flag beats env", args: []string{"--config=/tmp/flag.yaml"}, env: "/tmp/env.yaml", wantPath: "/tmp/flag.yaml", wantExplicit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(configEnv, tt.env)

			opts, err := parseFlags(tt.args)
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			if opts.configPath != tt.wantPath || opts.explicit != tt.wantExplicit {
				t.Errorf("parseFlags() = %+v, want path %q explicit %v", opts, tt.wantPath, tt.wantExplicit)
			}
		})
	}
}

func TestParseFlags_Unknown(t *testing.T) {
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("parseFlags() with unknown flag: error = nil")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(configEnv, "")
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, fromFile, err := loadConfig(options{configPath: missing})
	if err != nil {
		t.Fatalf("loadConfig(implicit missing) error = %v", err)
	}
	if fromFile || cfg.Bridge.Capacity != 20 {
		t.Errorf("implicit missing file: fromFile=%v capacity=%d, want defaults", fromFile, cfg.Bridge.Capacity)
	}

	if _, _, err := loadConfig(options{configPath: missing, explicit: true}); err == nil {
		t.Error("loadConfig(explicit missing) error = nil")
	}
}

func TestSettingsDefaults(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	cfg.Cipher.Mode = "block"
	cfg.Cipher.Key = "00112233"

	st, err := settingsDefaults(cfg)
	if err != nil {
		t.Fatalf("settingsDefaults() error = %v", err)
	}
	if st.CipherMode != cipher.ModeBlock {
		t.Errorf("CipherMode = %v, want block", st.CipherMode)
	}
	if string(st.CipherKey) != "\x00\x11\x22\x33" {
		t.Errorf("CipherKey = %x", st.CipherKey)
	}
	if st.Radio.SpreadingFactor != 8 || st.Radio.SyncWord != 0x12 {
		t.Errorf("Radio = %+v", st.Radio)
	}
	if st.GatewayKey != cfg.GatewayKey {
		t.Errorf("GatewayKey = %q", st.GatewayKey)
	}
	if st.MQTT.Host != "localhost" || st.MQTT.TopicPrefix != "homeassistant" || st.MQTT.Enabled != cfg.MQTT.Enabled {
		t.Errorf("MQTT = %+v", st.MQTT)
	}

	cfg.Cipher.Mode = "rot13"
	if _, err := settingsDefaults(cfg); err == nil {
		t.Error("settingsDefaults() with bad mode: error = nil")
	}
}

func TestApplyMQTTSettings(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	base := cfg.MQTT
	base.Broker.TLS = true
	base.QoS = 2

	got := applyMQTTSettings(base, persistence.MQTTSettings{
		Enabled:     true,
		Host:        "broker.lan",
		Port:        8883,
		Username:    "bridge",
		Password:    "s3cret",
		TopicPrefix: "ha",
	})
	if !got.Enabled || got.Broker.Host != "broker.lan" || got.Broker.Port != 8883 || got.TopicPrefix != "ha" {
		t.Errorf("applyMQTTSettings() = %+v", got)
	}
	if got.Auth.Username != "bridge" || got.Auth.Password != "s3cret" {
		t.Errorf("Auth = %+v", got.Auth)
	}
	if !got.Broker.TLS || got.QoS != 2 || got.Broker.ClientID != base.Broker.ClientID {
		t.Errorf("config-only fields changed: %+v", got)
	}
}

func TestGatewayIDFrom(t *testing.T) {
	mac, _ := net.ParseMAC("A4:CF:12:0B:3C:01") //nolint:errcheck // constant input
	tests := []struct {
		name   string
		ifaces []net.Interface
		want   string
	}{
		{"none", nil, "lorabridge"},
		{"loopback only", []net.Interface{{Name: "lo", Flags: net.FlagLoopback}}, "lorabridge"},
		{"first hardware address", []net.Interface{
			{Name: "lo", Flags: net.FlagLoopback},
			{Name: "wg0"},
			{Name: "eth0", HardwareAddr: mac},
		}, "a4cf120b3c01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gatewayIDFrom(tt.ifaces); got != tt.want {
				t.Errorf("gatewayIDFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	err := run(context.Background(), []string{"--version"})
	if !errors.Is(err, errVersionRequested) {
		t.Errorf("run(--version) error = %v, want errVersionRequested", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("run() should fail with a missing explicit config file")
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a SQLite database and a UDP socket")
	}
	t.Setenv(configEnv, "")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
bridge:
  gateway_id: testgw
radio:
  listen: "127.0.0.1:0"
database:
  path: "` + filepath.Join(dir, "bridge.db") + `"
api:
  enabled: false
logging:
  level: error
  format: text
`
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", configPath}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bridge.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
