package radio

import "errors"

var (
	// ErrShortDatagram is returned for a datagram without the RSSI header.
	ErrShortDatagram = errors.New("radio: datagram shorter than header")

	// ErrFrameTooLarge is returned for a payload above MaxPayload bytes.
	ErrFrameTooLarge = errors.New("radio: frame exceeds maximum payload")

	// ErrListenFailed is returned when the UDP socket cannot be opened.
	ErrListenFailed = errors.New("radio: listen failed")
)
