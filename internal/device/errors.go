package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrCapacityExceeded) {
//	    // registry is full
//	}
var (
	// ErrCapacityExceeded is returned when every registry slot is in use,
	// including slots held by removed devices.
	ErrCapacityExceeded = errors.New("device: capacity exceeded")

	// ErrNotFound is returned when no active device has the given ID.
	ErrNotFound = errors.New("device: not found")

	// ErrNoCapability is returned when a device lacks the capability an
	// operation needs.
	ErrNoCapability = errors.New("device: capability not present")

	// ErrInvalidSensorKind is returned for an unknown sensor kind.
	ErrInvalidSensorKind = errors.New("device: invalid sensor kind")

	// ErrInvalidSensorType is returned for a variant outside the enumeration.
	ErrInvalidSensorType = errors.New("device: invalid sensor type")

	// ErrInvalidName is returned when a display name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidID is returned when a device identifier is empty.
	ErrInvalidID = errors.New("device: invalid id")
)
