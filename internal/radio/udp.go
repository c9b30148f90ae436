package radio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueSize bounds the frames waiting for the engine loop.
	DefaultQueueSize = 16

	// readTimeout lets the reader notice Close without a datagram arriving.
	readTimeout = time.Second

	// readBufferSize leaves room to detect oversized datagrams.
	readBufferSize = headerSize + MaxPayload + 1
)

// Logger defines the logging interface used by the receiver.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Stats are receiver counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Malformed uint64 `json:"malformed"`
}

// UDPReceiver receives frames from a LoRa packet forwarder over UDP.
//
// A reader goroutine feeds a bounded queue; when the queue is full the
// newest frame is dropped and counted, so the engine loop never waits on
// the radio.
type UDPReceiver struct {
	conn   net.PacketConn
	queue  chan Frame
	logger Logger
	now    func() time.Time

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	received  atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
	lastFrame atomic.Int64
}

// ListenUDP opens addr (host:port) and starts the reader goroutine.
func ListenUDP(ctx context.Context, addr string, queueSize int, logger Logger) (*UDPReceiver, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListenFailed, err)
	}
	return newUDPReceiver(conn, queueSize, logger), nil
}

func newUDPReceiver(conn net.PacketConn, queueSize int, logger Logger) *UDPReceiver {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	r := &UDPReceiver{
		conn:   conn,
		queue:  make(chan Frame, queueSize),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.receiveLoop()
	return r
}

// Addr returns the local address the receiver is bound to.
func (r *UDPReceiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Poll returns the next queued frame without blocking.
func (r *UDPReceiver) Poll() (Frame, bool) {
	select {
	case f := <-r.queue:
		return f, true
	default:
		return Frame{}, false
	}
}

// Stats returns the receiver counters.
func (r *UDPReceiver) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Dropped:   r.dropped.Load(),
		Malformed: r.malformed.Load(),
	}
}

// Dropped returns the number of frames dropped on queue overflow.
func (r *UDPReceiver) Dropped() uint64 { return r.dropped.Load() }

// LastFrame returns when the last well-formed datagram arrived, or the zero
// time if none has.
func (r *UDPReceiver) LastFrame() time.Time {
	ns := r.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Close stops the reader and closes the socket. Safe to call more than once.
func (r *UDPReceiver) Close() error {
	var err error
	r.doneOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	r.wg.Wait()
	return err
}

func (r *UDPReceiver) receiveLoop() {
	defer r.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn("radio read failed", "error", err)
			continue
		}

		rssi, payload, err := DecodeDatagram(buf[:n])
		if err != nil {
			r.malformed.Add(1)
			r.logger.Warn("malformed radio datagram", "from", from.String(), "error", err)
			continue
		}
		r.enqueue(Frame{Payload: payload, RSSI: rssi, ReceivedAt: r.now()})
	}
}

func (r *UDPReceiver) enqueue(f Frame) {
	r.received.Add(1)
	if !f.ReceivedAt.IsZero() {
		r.lastFrame.Store(f.ReceivedAt.UnixNano())
	}
	select {
	case r.queue <- f:
	default:
		r.dropped.Add(1)
		r.logger.Warn("radio queue full, dropping frame", "queue_size", cap(r.queue))
	}
}

// ChanReceiver is a Receiver fed in-process. The engine uses it for
// synthetic frames and tests.
type ChanReceiver struct {
	queue   chan Frame
	dropped atomic.Uint64
}

// NewChanReceiver creates a receiver with a queue of the given size.
func NewChanReceiver(size int) *ChanReceiver {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &ChanReceiver{queue: make(chan Frame, size)}
}

// Push queues f and reports false if the queue was full.
func (c *ChanReceiver) Push(f Frame) bool {
	select {
	case c.queue <- f:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Poll returns the next queued frame without blocking.
func (c *ChanReceiver) Poll() (Frame, bool) {
	select {
	case f := <-c.queue:
		return f, true
	default:
		return Frame{}, false
	}
}

// Dropped returns the number of frames rejected by Push.
func (c *ChanReceiver) Dropped() uint64 { return c.dropped.Load() }
