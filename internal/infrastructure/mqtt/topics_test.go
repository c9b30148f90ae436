package mqtt

import (
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: DefaultPrefix, Gateway: "a1b2c3"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", topics.Config(ComponentBinarySensor, "node1", "motion"), "homeassistant/binary_sensor/a1b2c3_node1/motion/config"},
		{"state", topics.State(ComponentSensor, "node1", "temperature"), "homeassistant/sensor/a1b2c3_node1/temperature/state"},
		{"availability", topics.Availability("node1"), "homeassistant/sensor/a1b2c3_node1/availability"},
		{"bridge status", topics.BridgeStatus(), "homeassistant/bridge/a1b2c3/status"},
		{"bridge diagnostics", topics.BridgeDiagnostics(), "homeassistant/bridge/a1b2c3/diagnostics"},
		{"bridge config", topics.BridgeConfig("packets"), "homeassistant/sensor/a1b2c3/packets/config"},
		{"ha status", topics.HomeAssistantStatus(), "homeassistant/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestValidateSegment(t *testing.T) {
	for _, s := range []string{"node1", "Test_temp_1", "a-b.c"} {
		if err := ValidateSegment(s); err != nil {
			t.Errorf("ValidateSegment(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "a/b", "a+", "#", "x\x00"} {
		if err := ValidateSegment(s); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateSegment(%q) error = %v, want ErrInvalidTopic", s, err)
		}
	}
}
