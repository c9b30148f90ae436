package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the discovery prefix Home Assistant listens on.
const DefaultPrefix = "homeassistant"

// Entity components used by the bridge.
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
)

// Topics builds the bridge's MQTT topics under a discovery prefix. Device
// topics are namespaced by the gateway ID so several bridges can share a
// broker:
//
//	topics := mqtt.Topics{Prefix: "homeassistant", Gateway: "a1b2c3"}
//	topics.State(mqtt.ComponentSensor, "node1", "temperature")
//	// Returns: "homeassistant/sensor/a1b2c3_node1/temperature/state"
type Topics struct {
	Prefix  string
	Gateway string
}

// Node returns the per-device topic segment <gateway>_<device>.
func (t Topics) Node(deviceID string) string {
	return t.Gateway + "_" + deviceID
}

// Config returns the discovery topic of one device entity.
//
// Example: homeassistant/binary_sensor/a1b2c3_node1/motion/config
func (t Topics) Config(component, deviceID, capability string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.Prefix, component, t.Node(deviceID), capability)
}

// State returns the state topic of one device entity.
//
// Example: homeassistant/sensor/a1b2c3_node1/humidity/state
func (t Topics) State(component, deviceID, capability string) string {
	return fmt.Sprintf("%s/%s/%s/%s/state", t.Prefix, component, t.Node(deviceID), capability)
}

// Availability returns the availability topic shared by all entities of
// one device.
//
// Example: homeassistant/sensor/a1b2c3_node1/availability
func (t Topics) Availability(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/availability", t.Prefix, ComponentSensor, t.Node(deviceID))
}

// BridgeStatus returns the bridge online/offline topic. It doubles as the
// Last Will topic.
//
// Example: homeassistant/bridge/a1b2c3/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/%s/status", t.Prefix, t.Gateway)
}

// BridgeDiagnostics returns the topic of the bridge diagnostics document.
//
// Example: homeassistant/bridge/a1b2c3/diagnostics
func (t Topics) BridgeDiagnostics() string {
	return fmt.Sprintf("%s/bridge/%s/diagnostics", t.Prefix, t.Gateway)
}

// BridgeConfig returns the discovery topic of one bridge diagnostic entity.
//
// Example: homeassistant/sensor/a1b2c3/packets/config
func (t Topics) BridgeConfig(entity string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.Prefix, ComponentSensor, t.Gateway, entity)
}

// HomeAssistantStatus returns the topic Home Assistant announces its own
// restarts on.
//
// Example: homeassistant/status
func (t Topics) HomeAssistantStatus() string {
	return t.Prefix + "/status"
}

// ValidateSegment rejects topic segments that would change the topic
// structure: empty strings, level separators and wildcards.
func ValidateSegment(s string) error {
	if s == "" || strings.ContainsAny(s, "/+#\x00") {
		return fmt.Errorf("%w: segment %q", ErrInvalidTopic, s)
	}
	return nil
}
