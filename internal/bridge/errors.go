package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrBusy is returned when a mutation arrives while another mutation is
	// in progress. The mutation is replayed on the next loop pass.
	ErrBusy = errors.New("bridge: mutation in progress")

	// ErrStopped is returned by Do once the engine loop has exited.
	ErrStopped = errors.New("bridge: engine stopped")

	// ErrNoStore is returned by Save and Load when no snapshot store is set.
	ErrNoStore = errors.New("bridge: no snapshot store")

	// ErrCapacityRejected is returned by HandleFrame when a packet from an
	// unseen device arrives while the registry is full.
	ErrCapacityRejected = errors.New("bridge: registry full")

	// ErrUnknownTestDevice is returned for an unknown test device type.
	ErrUnknownTestDevice = errors.New("bridge: unknown test device type")
)
