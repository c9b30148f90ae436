package bridge

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/lora-bridge/internal/device"
)

// Test device types accepted by InjectTestDevice.
const (
	TestTemperature = "temp"
	TestHumidity    = "humidity"
	TestTempHum     = "temp_hum"
	TestMotion      = "motion"
	TestContact     = "contact"
	TestLight       = "light"
	TestFull        = "full"

	// TestUpdate sends fresh readings to every existing test device.
	TestUpdate = "update"
)

// testPrefix marks simulated devices.
const testPrefix = "Test_"

// testRSSI is the signal strength reported for simulated packets.
const testRSSI = -50

// TestDeviceTypes lists the accepted test device types.
var TestDeviceTypes = []string{
	TestTemperature, TestHumidity, TestTempHum, TestMotion,
	TestContact, TestLight, TestFull, TestUpdate,
}

func defaultRandom(n int) int { return rand.IntN(n) } //nolint:gosec // simulated readings

// InjectTestDevice creates a simulated device of the given type, or for
// TestUpdate sends new readings to every active simulated device. The
// packet goes through the same register-then-update path as a radio frame,
// minus decryption and validation. It returns the affected device IDs.
func (e *Engine) InjectTestDevice(kind string) ([]string, error) {
	if kind == TestUpdate {
		return e.updateTestDevices(), nil
	}

	msg, ok := e.testMessage(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTestDevice, kind)
	}

	e.testSeq++
	id := testPrefix + kind + "_" + strconv.Itoa(e.testSeq)
	msg.Raw = rawMessage(id, msg)

	rec := e.RegisterDevice(id, msg)
	if rec == nil {
		e.counters.CapacityRejected++
		return nil, fmt.Errorf("%w: %s", ErrCapacityRejected, id)
	}
	e.updateAt(rec, msg, testRSSI, time.Now())
	e.logger.Info("test device created", "device_id", id, "type", kind)
	return []string{id}, nil
}

func (e *Engine) updateTestDevices() []string {
	var ids []string
	for _, snap := range e.registry.Active() {
		if !strings.HasPrefix(snap.ID, testPrefix) {
			continue
		}
		rec := e.registry.Find(snap.ID)
		msg := device.Message{}
		if rec.Caps.Battery {
			msg.Battery = ptr(rec.Readings.Battery)
		}
		if rec.Caps.Temperature {
			msg.Temperature = ptr(20.0 + float64(e.random(100))/10)
		}
		if rec.Caps.Humidity {
			msg.Humidity = ptr(float64(40 + e.random(40)))
		}
		if rec.Caps.Light {
			msg.Lux = ptr(100 + e.random(900))
		}
		if rec.Caps.Motion {
			msg.Motion = ptr(!rec.Readings.Motion)
		}
		if rec.Caps.Contact {
			msg.Contact = ptr(!rec.Readings.Contact)
		}
		msg.Raw = rawMessage(rec.ID, msg)

		e.updateAt(rec, msg, testRSSI, time.Now())
		ids = append(ids, rec.ID)
	}
	e.logger.Info("test devices updated", "count", len(ids))
	return ids
}

func (e *Engine) testMessage(kind string) (device.Message, bool) {
	var msg device.Message
	switch kind {
	case TestTemperature:
		msg.Temperature = ptr(22.5 + float64(e.random(100))/10)
		msg.Battery = ptr(85)
	case TestHumidity:
		msg.Humidity = ptr(float64(45 + e.random(30)))
		msg.Battery = ptr(90)
	case TestTempHum:
		msg.Temperature = ptr(21.0 + float64(e.random(80))/10)
		msg.Humidity = ptr(float64(40 + e.random(40)))
		msg.Battery = ptr(75)
	case TestMotion:
		msg.Motion = ptr(true)
		msg.Battery = ptr(100)
	case TestContact:
		msg.Contact = ptr(false)
		msg.Battery = ptr(95)
	case TestLight:
		msg.Lux = ptr(100 + e.random(900))
		msg.Battery = ptr(80)
	case TestFull:
		msg.Temperature = ptr(23.5)
		msg.Humidity = ptr(55.0)
		msg.Lux = ptr(500)
		msg.Battery = ptr(70)
	default:
		return device.Message{}, false
	}
	return msg, true
}

// rawMessage renders msg in the packet's field names for the activity log.
func rawMessage(id string, msg device.Message) string {
	fields := map[string]any{"id": id}
	if msg.Temperature != nil {
		fields["t"] = *msg.Temperature
	}
	if msg.Humidity != nil {
		fields["hu"] = *msg.Humidity
	}
	if msg.Battery != nil {
		fields["b"] = *msg.Battery
	}
	if msg.Lux != nil {
		fields["l"] = *msg.Lux
	}
	if msg.Motion != nil {
		fields["m"] = *msg.Motion
	}
	if msg.Contact != nil {
		fields["c"] = *msg.Contact
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}

func ptr[T any](v T) *T { return &v }
