package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/lora-bridge/internal/device"
)

// Measurement names.
const (
	MeasurementReadings = "sensor_readings"
	MeasurementBridge   = "bridge_stats"
)

// ReadingPoint builds the point for one sensor report: the fields present
// in msg that rec has a capability for, plus rssi.
func ReadingPoint(rec device.Record, msg device.Message, rssi int, at time.Time) *write.Point {
	fields := map[string]any{"rssi": rssi}
	if rec.Caps.Temperature && msg.Temperature != nil {
		fields["temperature"] = *msg.Temperature
	}
	if rec.Caps.Humidity && msg.Humidity != nil {
		fields["humidity"] = *msg.Humidity
	}
	if rec.Caps.Battery && msg.Battery != nil {
		fields["battery"] = *msg.Battery
	}
	if rec.Caps.Light && msg.Lux != nil {
		fields["lux"] = *msg.Lux
	}
	if rec.Caps.Motion && msg.Motion != nil {
		fields["motion"] = *msg.Motion
	}
	if rec.Caps.Contact && msg.Contact != nil {
		fields["contact"] = *msg.Contact
	}

	return write.NewPoint(
		MeasurementReadings,
		map[string]string{
			"device_id": rec.ID,
			"name":      rec.Name,
		},
		fields,
		at,
	)
}

// WriteReading records one sensor report.
func (c *Client) WriteReading(rec device.Record, msg device.Message, rssi int, at time.Time) {
	c.writePoint(ReadingPoint(rec, msg, rssi, at))
}

// WriteBridgeStats records one sample of bridge counters.
//
// Example:
//
//	client.WriteBridgeStats("a1b2c3", map[string]any{"packets": 120, "devices": 4}, time.Now())
func (c *Client) WriteBridgeStats(gateway string, fields map[string]any, at time.Time) {
	if len(fields) == 0 {
		return
	}
	c.writePoint(write.NewPoint(MeasurementBridge, map[string]string{"gateway": gateway}, fields, at))
}

// HandleDeviceEvent records the readings carried by created and updated
// events.
func (c *Client) HandleDeviceEvent(ev device.Event) {
	if ev.Message == nil {
		return
	}
	switch ev.Kind {
	case device.EventCreated, device.EventUpdated:
		at := ev.Record.LastSeen
		if at.IsZero() {
			at = time.Now()
		}
		c.WriteReading(ev.Record, *ev.Message, ev.Record.RSSI, at)
	}
}
