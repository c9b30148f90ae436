// Package device provides the device registry of the LoRa bridge.
//
// The registry is the single source of truth for every sensor the bridge has
// heard from. Each record carries the sensor's stable identifier, its display
// name, the capability set fixed by its first message, the last readings and
// a weak reference to its accessory in the accessory runtime.
//
// # Slots
//
// The registry holds a fixed number of slots (DefaultCapacity). Slots are
// handed out in arrival order and removal is a soft delete, so a slot is
// only recovered when the active set is reloaded at startup:
//
//	Register(a) Register(b) Remove(a) Register(c)
//	slots: [a(inactive) b c]        used=3 active=2 leaked=1
//
// # Capabilities
//
// Capabilities are locked at the first message. A later message carrying a
// new field does not add the capability; the field is ignored.
//
// # Events
//
// The registry itself does not notify anyone. The engine turns each
// mutation into an Event and fans it out to Sink implementations
// (persistence, accessory lifecycle, MQTT projection, telemetry history).
//
// # Thread Safety
//
// Registry is not safe for concurrent use. All access goes through the
// engine loop.
package device
