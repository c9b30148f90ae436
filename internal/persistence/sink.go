package persistence

import (
	"context"
	"time"

	"github.com/nerrad567/lora-bridge/internal/device"
)

// saveTimeout bounds one snapshot write from the engine loop.
const saveTimeout = 2 * time.Second

// Logger defines the logging interface used by the persistence sink.
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

// ActiveSource yields the records to persist.
type ActiveSource interface {
	Active() []device.Record
}

// Sink writes the device snapshot after structural registry changes.
type Sink struct {
	store  *DeviceStore
	source ActiveSource
	logger Logger

	saves    int
	failures int
}

// NewSink creates a sink that saves source's active set into store.
func NewSink(store *DeviceStore, source ActiveSource) *Sink {
	return &Sink{store: store, source: source, logger: noopLogger{}}
}

// SetLogger sets the logger for the sink.
func (s *Sink) SetLogger(logger Logger) {
	s.logger = logger
}

// HandleDeviceEvent saves on create, rename, retype and remove.
func (s *Sink) HandleDeviceEvent(ev device.Event) {
	if ev.Kind == device.EventUpdated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.store.Save(ctx, s.source.Active()); err != nil {
		s.failures++
		s.logger.Error("saving device snapshot failed",
			"event", ev.Kind.String(),
			"device_id", ev.Record.ID,
			"error", err,
		)
		return
	}
	s.saves++
	s.logger.Debug("device snapshot saved", "event", ev.Kind.String(), "device_id", ev.Record.ID)
}

// Counts returns the number of successful and failed saves.
func (s *Sink) Counts() (saves, failures int) {
	return s.saves, s.failures
}
