package cipher

import "errors"

var (
	// ErrInvalidMode is returned when a mode name or number is not recognised.
	ErrInvalidMode = errors.New("cipher: invalid mode")

	// ErrInvalidPolicy is returned for an unknown partial-block policy.
	ErrInvalidPolicy = errors.New("cipher: invalid partial block policy")

	// ErrPartialBlock is returned in block mode when the buffer length is not
	// a multiple of the block size and the policy is PolicyReject.
	ErrPartialBlock = errors.New("cipher: buffer is not a whole number of blocks")

	// ErrKeyTooLong is returned when a key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("cipher: key too long")
)
