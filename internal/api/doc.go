// Package api implements the management HTTP API of the LoRa bridge.
//
// This package provides:
//   - JSON endpoints for listing, renaming, retyping and removing devices
//   - Bridge status, activity log and telemetry history
//   - Simulated test devices and an MQTT connection test
//   - A WebSocket stream of registry events (Hub), fed from the engine loop
//   - An audit trail of changes and the managed packet forwarder's state
//   - Middleware stack (request ID, logging, recovery, body limit, auth)
//
// # Architecture
//
// The API never touches the device registry directly. Every handler that
// reads or changes devices submits a function to the engine loop with
// bridge.Engine.Do and waits for the result, so HTTP requests are
// serialised with radio traffic and the accessory rebind protocol.
//
// # Security
//
// When enabled, requests carry either HTTP Basic credentials, checked
// against the Argon2id hash stored in the bridge settings, or an HS256
// bearer token from POST /auth/login. The signing key is generated at
// startup and replaced whenever the credential changes. The health and
// login endpoints are always open.
package api
