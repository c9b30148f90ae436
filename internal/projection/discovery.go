package projection

import (
	"strconv"

	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/mqtt"
)

// Capability topic segments.
const (
	CapTemperature = "temperature"
	CapHumidity    = "humidity"
	CapBattery     = "battery"
	CapLux         = "lux"
	CapMotion      = "motion"
	CapContact     = "contact"
	CapRSSI        = "rssi"
)

// Binary sensor payloads.
const (
	payloadOn  = "on"
	payloadOff = "off"

	statusOnline  = "online"
	statusOffline = "offline"
)

// Device block constants.
const (
	deviceManufacturer = "LoRa Sensor"
	deviceModel        = "LoRa-v1"
	bridgeManufacturer = "LoRa Bridge"
	bridgeModel        = "LoRa-Bridge"
)

// entity describes one discovery entity of a device.
type entity struct {
	component   string
	capability  string
	suffix      string
	name        string
	deviceClass string
	unit        string
	stateClass  string
	category    string
	binary      bool
}

// availability is one entry of a discovery document's availability list.
type availability struct {
	Topic string `json:"topic"`
}

// deviceBlock groups entities into one device in the consumer's registry.
type deviceBlock struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// discoveryDoc is the retained config document of one entity.
type discoveryDoc struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	StateTopic       string         `json:"state_topic"`
	Availability     []availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`
	DeviceClass      string         `json:"device_class,omitempty"`
	Unit             string         `json:"unit_of_measurement,omitempty"`
	StateClass       string         `json:"state_class,omitempty"`
	EntityCategory   string         `json:"entity_category,omitempty"`
	PayloadOn        string         `json:"payload_on,omitempty"`
	PayloadOff       string         `json:"payload_off,omitempty"`
	ValueTemplate    string         `json:"value_template,omitempty"`
	Device           deviceBlock    `json:"device"`
}

// entitiesFor lists the entities of rec in publication order. RSSI is
// always present.
func entitiesFor(rec device.Record) []entity {
	var out []entity
	if rec.Caps.Temperature {
		out = append(out, entity{
			component: mqtt.ComponentSensor, capability: CapTemperature, suffix: "temp",
			name: "Temperature", deviceClass: "temperature", unit: "°C", stateClass: "measurement",
		})
	}
	if rec.Caps.Humidity {
		out = append(out, entity{
			component: mqtt.ComponentSensor, capability: CapHumidity, suffix: "hum",
			name: "Humidity", deviceClass: "humidity", unit: "%", stateClass: "measurement",
		})
	}
	if rec.Caps.Battery {
		out = append(out, entity{
			component: mqtt.ComponentSensor, capability: CapBattery, suffix: "batt",
			name: "Battery", deviceClass: "battery", unit: "%", stateClass: "measurement",
			category: "diagnostic",
		})
	}
	if rec.Caps.Light {
		out = append(out, entity{
			component: mqtt.ComponentSensor, capability: CapLux, suffix: "lux",
			name: "Illuminance", deviceClass: "illuminance", unit: "lx", stateClass: "measurement",
		})
	}
	if rec.Caps.Motion {
		out = append(out, entity{
			component: mqtt.ComponentBinarySensor, capability: CapMotion, suffix: "motion",
			name: rec.MotionType.String(), deviceClass: motionClass(rec.MotionType), binary: true,
		})
	}
	if rec.Caps.Contact {
		out = append(out, entity{
			component: mqtt.ComponentBinarySensor, capability: CapContact, suffix: "contact",
			name: rec.ContactType.String(), deviceClass: contactClass(rec.ContactType), binary: true,
		})
	}
	return append(out, entity{
		component: mqtt.ComponentSensor, capability: CapRSSI, suffix: "rssi",
		name: "RSSI", deviceClass: "signal_strength", unit: "dBm", stateClass: "measurement",
		category: "diagnostic",
	})
}

func motionClass(t device.MotionType) string {
	switch t {
	case device.MotionOccupancy:
		return "occupancy"
	case device.MotionLeak:
		return "moisture"
	case device.MotionSmoke:
		return "smoke"
	case device.MotionCO:
		return "carbon_monoxide"
	default:
		return "motion"
	}
}

func contactClass(t device.ContactType) string {
	switch t {
	case device.ContactLeak:
		return "moisture"
	case device.ContactSmoke:
		return "smoke"
	case device.ContactCO:
		return "carbon_monoxide"
	case device.ContactOccupancy:
		return "occupancy"
	default:
		return "opening"
	}
}

// stateValues renders the state payloads for the fields present in msg,
// restricted to rec's capabilities, followed by rssi.
func stateValues(rec device.Record, msg device.Message, rssi int) []stateValue {
	var out []stateValue
	if rec.Caps.Temperature && msg.Temperature != nil {
		out = append(out, stateValue{mqtt.ComponentSensor, CapTemperature, strconv.FormatFloat(*msg.Temperature, 'f', 1, 64)})
	}
	if rec.Caps.Humidity && msg.Humidity != nil {
		out = append(out, stateValue{mqtt.ComponentSensor, CapHumidity, strconv.FormatFloat(*msg.Humidity, 'f', 0, 64)})
	}
	if rec.Caps.Battery && msg.Battery != nil {
		out = append(out, stateValue{mqtt.ComponentSensor, CapBattery, strconv.Itoa(*msg.Battery)})
	}
	if rec.Caps.Light && msg.Lux != nil {
		out = append(out, stateValue{mqtt.ComponentSensor, CapLux, strconv.Itoa(*msg.Lux)})
	}
	if rec.Caps.Motion && msg.Motion != nil {
		out = append(out, stateValue{mqtt.ComponentBinarySensor, CapMotion, onOff(*msg.Motion)})
	}
	if rec.Caps.Contact && msg.Contact != nil {
		out = append(out, stateValue{mqtt.ComponentBinarySensor, CapContact, onOff(*msg.Contact)})
	}
	return append(out, stateValue{mqtt.ComponentSensor, CapRSSI, strconv.Itoa(rssi)})
}

type stateValue struct {
	component  string
	capability string
	value      string
}

func onOff(b bool) string {
	if b {
		return payloadOn
	}
	return payloadOff
}
