package radio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MaxPayload is the largest LoRa payload a frame carries.
const MaxPayload = 255

// headerSize is the RSSI prefix of a forwarded datagram.
const headerSize = 2

// Frame is one received radio frame.
type Frame struct {
	Payload    []byte
	RSSI       int
	ReceivedAt time.Time
}

// Receiver yields received frames to the engine loop.
type Receiver interface {
	// Poll returns the next queued frame, if any. It never blocks.
	Poll() (Frame, bool)
}

// DecodeDatagram splits a packet-forwarder datagram into RSSI and payload.
// The layout is a big-endian int16 RSSI in dBm followed by the raw LoRa
// payload. The payload is copied.
func DecodeDatagram(b []byte) (rssi int, payload []byte, err error) {
	if len(b) < headerSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrShortDatagram, len(b))
	}
	if len(b)-headerSize > MaxPayload {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b)-headerSize)
	}
	rssi = int(int16(binary.BigEndian.Uint16(b[:headerSize]))) //nolint:gosec // wire format is int16
	payload = make([]byte, len(b)-headerSize)
	copy(payload, b[headerSize:])
	return rssi, payload, nil
}

// EncodeDatagram builds a datagram in the packet-forwarder layout.
func EncodeDatagram(rssi int, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	b := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(b, uint16(int16(rssi))) //nolint:gosec // RSSI fits int16
	copy(b[headerSize:], payload)
	return b, nil
}
