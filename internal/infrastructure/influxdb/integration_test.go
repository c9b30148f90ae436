package influxdb_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "lorabridge-dev-token",
		Org:           "lorabridge",
		Bucket:        "sensors",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test if InfluxDB is not running.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	if testing.Short() && os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("skipping InfluxDB integration test in short mode")
	}
	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	return client
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestIntegration_WriteReading(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	temp := 21.5
	rec := device.Record{ID: "int-node", Name: "Integration", Caps: device.Capabilities{Temperature: true}}
	client.WriteReading(rec, device.Message{Temperature: &temp}, -60, time.Now())
	client.Flush()

	if client.Written() != 1 {
		t.Errorf("Written() = %d, want 1", client.Written())
	}
}
