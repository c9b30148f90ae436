package persistence

import "errors"

var (
	// ErrCorrupt marks a stored entry that could not be decoded. Loads skip
	// such entries instead of failing.
	ErrCorrupt = errors.New("persistence: corrupt entry")

	// ErrInvalidKey is returned for an empty key or one longer than MaxKeyLength.
	ErrInvalidKey = errors.New("persistence: invalid key")

	// ErrInvalidHash is returned when a stored password hash cannot be parsed.
	ErrInvalidHash = errors.New("persistence: invalid password hash")

	// ErrInvalidSetupCode is returned for a setup code that is not 8 digits.
	ErrInvalidSetupCode = errors.New("persistence: invalid setup code")
)
