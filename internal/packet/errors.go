package packet

import "errors"

// Validation errors. Each one is terminal for the packet that produced it.
var (
	// ErrParse is returned when the payload is not a JSON object or a known
	// field has the wrong type.
	ErrParse = errors.New("packet: parse error")

	// ErrAuth is returned when the shared secret is absent or wrong.
	ErrAuth = errors.New("packet: authentication failed")

	// ErrMissingField is returned when the device identifier is absent or empty.
	ErrMissingField = errors.New("packet: missing field")
)
