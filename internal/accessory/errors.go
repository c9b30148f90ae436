package accessory

import "errors"

var (
	// ErrRuntime wraps failures reported by the accessory runtime.
	ErrRuntime = errors.New("accessory: runtime failure")

	// ErrUnknownAccessory is returned for an accessory ID the runtime does not hold.
	ErrUnknownAccessory = errors.New("accessory: unknown accessory")

	// ErrUnknownCharacteristic is returned when an accessory has no such
	// service or characteristic.
	ErrUnknownCharacteristic = errors.New("accessory: unknown characteristic")

	// ErrDatabaseFull is returned when no accessory ID is free.
	ErrDatabaseFull = errors.New("accessory: database full")

	// ErrBusy is returned when a rebind is requested while another is running.
	ErrBusy = errors.New("accessory: rebind in progress")
)
