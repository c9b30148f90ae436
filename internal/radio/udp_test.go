package radio

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestDatagramRoundTrip(t *testing.T) {
	tests := []struct {
		rssi    int
		payload []byte
	}{
		{-87, []byte(`{"id":"n1","k":"xy"}`)},
		{0, nil},
		{-140, bytes.Repeat([]byte{0xAA}, MaxPayload)},
		{12, []byte{0x00}},
	}

	for _, tt := range tests {
		b, err := EncodeDatagram(tt.rssi, tt.payload)
		if err != nil {
			t.Fatalf("EncodeDatagram() error = %v", err)
		}
		rssi, payload, err := DecodeDatagram(b)
		if err != nil {
			t.Fatalf("DecodeDatagram() error = %v", err)
		}
		if rssi != tt.rssi || !bytes.Equal(payload, tt.payload) {
			t.Errorf("round trip = %d %x, want %d %x", rssi, payload, tt.rssi, tt.payload)
		}
	}
}

func TestDecodeDatagramErrors(t *testing.T) {
	if _, _, err := DecodeDatagram([]byte{0x01}); !errors.Is(err, ErrShortDatagram) {
		t.Errorf("short datagram error = %v, want ErrShortDatagram", err)
	}
	if _, _, err := DecodeDatagram(make([]byte, headerSize+MaxPayload+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized datagram error = %v, want ErrFrameTooLarge", err)
	}
	if _, err := EncodeDatagram(0, make([]byte, MaxPayload+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("EncodeDatagram() error = %v, want ErrFrameTooLarge", err)
	}
}

func pollUntil(t *testing.T, r Receiver) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := r.Poll(); ok {
			return f
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no frame received")
	return Frame{}
}

func TestUDPReceiver(t *testing.T) {
	r, err := ListenUDP(context.Background(), "127.0.0.1:0", 4, nil)
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer r.Close()

	if _, ok := r.Poll(); ok {
		t.Fatal("Poll() returned a frame on an idle socket")
	}
	if !r.LastFrame().IsZero() {
		t.Errorf("LastFrame() = %v on an idle socket", r.LastFrame())
	}

	conn, err := net.Dial("udp", r.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	b, _ := EncodeDatagram(-75, []byte(`{"id":"n1"}`))
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f := pollUntil(t, r)
	if f.RSSI != -75 || string(f.Payload) != `{"id":"n1"}` {
		t.Errorf("frame = %d %q", f.RSSI, f.Payload)
	}
	if f.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
	if !r.LastFrame().Equal(f.ReceivedAt) {
		t.Errorf("LastFrame() = %v, want %v", r.LastFrame(), f.ReceivedAt)
	}

	if _, err := conn.Write([]byte{0x01}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Malformed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Stats().Malformed != 1 {
		t.Errorf("malformed = %d, want 1", r.Stats().Malformed)
	}
}

func TestUDPReceiverDropsOnOverflow(t *testing.T) {
	r, err := ListenUDP(context.Background(), "127.0.0.1:0", 1, nil)
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer r.Close()

	r.enqueue(Frame{RSSI: -1})
	r.enqueue(Frame{RSSI: -2})

	stats := r.Stats()
	if stats.Received != 2 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want 2 received, 1 dropped", stats)
	}
	if f, ok := r.Poll(); !ok || f.RSSI != -1 {
		t.Errorf("Poll() = %+v, %v, want first frame", f, ok)
	}
}

func TestUDPReceiverCloseIdempotent(t *testing.T) {
	r, err := ListenUDP(context.Background(), "127.0.0.1:0", 0, nil)
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestChanReceiver(t *testing.T) {
	c := NewChanReceiver(1)
	if !c.Push(Frame{RSSI: -50}) {
		t.Fatal("Push() into empty queue failed")
	}
	if c.Push(Frame{RSSI: -51}) {
		t.Error("Push() into full queue succeeded")
	}
	if c.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", c.Dropped())
	}
	if f, ok := c.Poll(); !ok || f.RSSI != -50 {
		t.Errorf("Poll() = %+v, %v", f, ok)
	}
	if _, ok := c.Poll(); ok {
		t.Error("Poll() on empty queue returned a frame")
	}
}
