package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/lora-bridge/internal/accessory"
	"github.com/nerrad567/lora-bridge/internal/cipher"
	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/persistence"
	"github.com/nerrad567/lora-bridge/internal/projection"
	"github.com/nerrad567/lora-bridge/internal/radio"
)

const (
	// DefaultPollInterval is the loop period used when Options leaves it unset.
	DefaultPollInterval = 20 * time.Millisecond

	// DefaultFramesPerPass bounds the radio frames handled in one pass.
	DefaultFramesPerPass = 8

	// DefaultHousekeepingInterval is the minimum time between accessory
	// resync checks and bridge telemetry writes.
	DefaultHousekeepingInterval = 30 * time.Second

	// workQueueSize bounds the requests waiting for the loop.
	workQueueSize = 32

	// workPerPass bounds the queued requests run in one pass.
	workPerPass = 8
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SnapshotStore persists the active device set. *persistence.DeviceStore
// implements it.
type SnapshotStore interface {
	Save(ctx context.Context, records []device.Record) error
	Load(ctx context.Context, capacity int) ([]device.Snapshot, persistence.LoadReport, error)
}

// Transport is the broker connection maintained by the loop.
// *mqtt.Client implements it.
type Transport interface {
	// Maintain advances the connection without blocking and reports
	// whether a new connection was established.
	Maintain(now time.Time) bool
	IsConnected() bool
}

// Telemetry receives periodic bridge counters. *influxdb.Client implements it.
type Telemetry interface {
	WriteBridgeStats(gateway string, fields map[string]any, at time.Time)
}

// dropCounter is implemented by receivers that count overflow drops.
type dropCounter interface {
	Dropped() uint64
}

// Deps are the collaborators of an Engine. Registry and Gate are required;
// the rest are optional.
type Deps struct {
	Registry *device.Registry
	Gate     *cipher.Gate
	Receiver radio.Receiver
	Store    SnapshotStore

	// Persist receives every event before the other sinks.
	Persist     device.Sink
	Accessories *accessory.Manager
	Transport   Transport
	Projection  *projection.Projection
	Telemetry   Telemetry

	// Sinks run after the built-in sinks, in order.
	Sinks []device.Sink
}

// Options configures an Engine.
type Options struct {
	GatewayID string
	Version   string

	// Secret is the shared gateway key every packet must carry.
	Secret string

	// Radio is reported in diagnostics.
	Radio persistence.RadioSettings

	PollInterval         time.Duration
	FramesPerPass        int
	HousekeepingInterval time.Duration
}

// Counters are the ingestion counters of the engine.
type Counters struct {
	Frames           int       `json:"frames"`
	Packets          int       `json:"packets"`
	DecryptErrors    int       `json:"decrypt_errors"`
	ParseErrors      int       `json:"parse_errors"`
	AuthErrors       int       `json:"auth_errors"`
	MissingField     int       `json:"missing_field"`
	CapacityRejected int       `json:"capacity_rejected"`
	Deferred         int       `json:"deferred"`
	LastPacket       time.Time `json:"last_packet,omitzero"`
	LastEvent        string    `json:"last_event,omitempty"`
}

type request struct {
	fn   func(e *Engine) error
	done chan error
}

// Engine is the single writer of the device registry.
//
// Thread Safety: only Do, HandleHomeAssistantStatus and Run may be called
// from other goroutines. Everything else runs on the loop goroutine.
type Engine struct {
	registry    *device.Registry
	gate        *cipher.Gate
	receiver    radio.Receiver
	store       SnapshotStore
	accessories *accessory.Manager
	transport   Transport
	projection  *projection.Projection
	telemetry   Telemetry
	sinks       []device.Sink

	opts         Options
	logger       Logger
	housekeeping *rate.Limiter
	startedAt    time.Time

	busy     bool
	deferred []func()
	counters Counters
	testSeq  int
	random   func(n int) int

	work      chan request
	stopped   chan struct{}
	stopOnce  sync.Once
	reconnect atomic.Bool
}

// New creates an engine. The sink order is Persist, Accessories,
// Projection, Telemetry (when it is also a device.Sink), then deps.Sinks.
func New(deps Deps, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.FramesPerPass <= 0 {
		opts.FramesPerPass = DefaultFramesPerPass
	}
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = DefaultHousekeepingInterval
	}

	e := &Engine{
		registry:     deps.Registry,
		gate:         deps.Gate,
		receiver:     deps.Receiver,
		store:        deps.Store,
		accessories:  deps.Accessories,
		transport:    deps.Transport,
		projection:   deps.Projection,
		telemetry:    deps.Telemetry,
		opts:         opts,
		logger:       noopLogger{},
		housekeeping: rate.NewLimiter(rate.Every(opts.HousekeepingInterval), 1),
		startedAt:    time.Now(),
		random:       defaultRandom,
		work:         make(chan request, workQueueSize),
		stopped:      make(chan struct{}),
	}

	if deps.Persist != nil {
		e.sinks = append(e.sinks, deps.Persist)
	}
	if deps.Accessories != nil {
		e.sinks = append(e.sinks, deps.Accessories)
	}
	if deps.Projection != nil {
		e.sinks = append(e.sinks, deps.Projection)
	}
	if s, ok := deps.Telemetry.(device.Sink); ok {
		e.sinks = append(e.sinks, s)
	}
	e.sinks = append(e.sinks, deps.Sinks...)
	return e
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Registry returns the registry owned by the engine. Callers outside the
// loop must go through Do.
func (e *Engine) Registry() *device.Registry { return e.registry }

// Counters returns a copy of the ingestion counters.
func (e *Engine) Counters() Counters { return e.counters }

// Startup loads the persisted snapshot into the registry and brings the
// accessory runtime in line with it. A failed load leaves the registry
// empty; it is logged and not returned.
func (e *Engine) Startup(ctx context.Context) error {
	if e.store != nil {
		if err := e.Load(ctx); err != nil {
			e.logger.Error("loading device snapshot failed", "error", err)
		}
	}
	if e.accessories == nil {
		return nil
	}
	if err := e.accessories.Resync(e.registry.Active()); err != nil {
		return fmt.Errorf("resyncing accessories: %w", err)
	}
	return nil
}

// Run calls Step every poll interval until ctx is cancelled. Requests
// still queued when Run returns fail with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	defer e.stop()

	e.logger.Info("engine loop started",
		"poll_interval", e.opts.PollInterval.String(),
		"frames_per_pass", e.opts.FramesPerPass,
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine loop stopped")
			return nil
		case now := <-ticker.C:
			e.Step(now)
		}
	}
}

func (e *Engine) stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		for {
			select {
			case req := <-e.work:
				req.done <- ErrStopped
			default:
				return
			}
		}
	})
}

// Do runs fn on the loop goroutine during the next pass and returns its
// error. It must not be called from the loop goroutine itself.
func (e *Engine) Do(ctx context.Context, fn func(e *Engine) error) error {
	req := request{fn: fn, done: make(chan error, 1)}

	select {
	case <-e.stopped:
		return ErrStopped
	default:
	}

	select {
	case e.work <- req:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step runs one loop pass: radio frames, transport maintenance, deferred
// and queued work, then diagnostics and housekeeping. Every stage is
// bounded and none of them blocks.
func (e *Engine) Step(now time.Time) {
	e.pollRadio()
	e.maintainTransport(now)
	e.runDeferred()
	e.runQueued()
	e.publishDiagnostics(now)
	e.runHousekeeping(now)
}

func (e *Engine) pollRadio() {
	if e.receiver == nil {
		return
	}
	for range e.opts.FramesPerPass {
		f, ok := e.receiver.Poll()
		if !ok {
			return
		}
		if err := e.HandleFrame(f); err != nil {
			e.logger.Debug("frame rejected", "rssi", f.RSSI, "error", err)
		}
	}
}

func (e *Engine) maintainTransport(now time.Time) {
	if e.transport == nil {
		return
	}
	fresh := e.transport.Maintain(now)
	announce := e.reconnect.Swap(false)
	if !fresh && !announce {
		return
	}
	if e.projection == nil || !e.transport.IsConnected() {
		return
	}
	if err := e.projection.Connect(e.registry.Active()); err != nil {
		e.logger.Warn("mqtt connect sequence failed", "error", err)
	}
}

func (e *Engine) runDeferred() {
	if len(e.deferred) == 0 {
		return
	}
	pending := e.deferred
	e.deferred = nil
	for _, fn := range pending {
		fn()
	}
}

func (e *Engine) runQueued() {
	for range workPerPass {
		select {
		case req := <-e.work:
			req.done <- e.runRequest(req.fn)
		default:
			return
		}
	}
}

func (e *Engine) runRequest(fn func(e *Engine) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine request panic recovered", "panic", r)
			err = fmt.Errorf("bridge: request panicked: %v", r)
		}
	}()
	return fn(e)
}

// HandleHomeAssistantStatus handles Home Assistant's birth message. It runs
// on the broker goroutine, so it only flags the loop to rerun the connect
// sequence.
func (e *Engine) HandleHomeAssistantStatus(_ string, payload []byte) error {
	if string(payload) == "online" {
		e.reconnect.Store(true)
	}
	return nil
}

func (e *Engine) publishDiagnostics(now time.Time) {
	if e.projection == nil {
		return
	}
	e.projection.PublishDiagnostics(now, e.Diagnostics(now))
}

func (e *Engine) runHousekeeping(now time.Time) {
	if !e.housekeeping.AllowN(now, 1) {
		return
	}

	if e.accessories != nil && e.accessories.NeedsResync() {
		if err := e.accessories.Resync(e.registry.Active()); err != nil {
			e.logger.Warn("accessory resync incomplete", "error", err)
		}
	}

	if e.telemetry != nil {
		d := e.Diagnostics(now)
		e.telemetry.WriteBridgeStats(e.opts.GatewayID, map[string]any{
			"packets":           d.Packets,
			"decrypt_errors":    d.DecryptErrors,
			"parse_errors":      d.ParseErrors,
			"auth_errors":       d.AuthErrors,
			"capacity_rejected": d.CapacityRejected,
			"frames_dropped":    d.FramesDropped,
			"devices":           d.Devices,
			"leaked_slots":      d.LeakedSlots,
			"uptime_s":          d.UptimeSeconds,
		}, now)
	}
}
