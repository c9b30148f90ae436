// Package bridge runs the device synchronization engine.
//
// The Engine owns the device registry and is its only writer. Every radio
// frame, API request and broker callback reaches the registry through the
// engine loop:
//
//	radio.Receiver ──Poll──▶ Engine.Step ──▶ cipher.Gate ──▶ packet.Parse
//	                                │
//	                                ▼
//	                         device.Registry
//	                                │ device.Event
//	        ┌──────────────┬────────┴───────┬──────────────┐
//	        ▼              ▼                ▼              ▼
//	  persistence    accessory.Manager  projection    influxdb
//
// Sinks run in that order for every event, so a structural change is
// persisted before the accessory runtime is rebound.
//
// # Concurrency
//
// Step and the contract methods (FindDevice, RegisterDevice, UpdateDevice,
// RemoveDevice, RenameDevice, SetSensorType, Save, Load) must only be called
// from the loop goroutine. Other goroutines submit work with Do, which runs
// the function on the next pass and waits for its result.
//
// A contract mutation made while another one is in progress (for example
// from inside a sink) is refused and replayed on the next pass. This keeps
// the four-step accessory rebind free of interleaved registry changes.
package bridge
