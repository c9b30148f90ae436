package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/packet"
	"github.com/nerrad567/lora-bridge/internal/radio"
)

// HandleFrame decrypts, validates and applies one radio frame. An unseen
// device is registered before the update is applied. Rejected frames are
// counted and leave the registry untouched.
func (e *Engine) HandleFrame(f radio.Frame) error {
	if e.busy {
		e.counters.Deferred++
		e.deferred = append(e.deferred, func() { _ = e.HandleFrame(f) })
		return ErrBusy
	}
	e.counters.Frames++

	buf := slices.Clone(f.Payload)
	n, err := e.gate.Decrypt(buf)
	if err != nil {
		e.counters.DecryptErrors++
		e.counters.LastEvent = "decrypt error"
		return err
	}

	pkt, err := packet.Parse(buf[:n], e.opts.Secret)
	if err != nil {
		switch {
		case errors.Is(err, packet.ErrAuth):
			e.counters.AuthErrors++
			e.counters.LastEvent = "auth error"
		case errors.Is(err, packet.ErrMissingField):
			e.counters.MissingField++
			e.counters.LastEvent = "missing id"
		default:
			e.counters.ParseErrors++
			e.counters.LastEvent = "parse error"
		}
		return err
	}

	e.counters.Packets++
	e.counters.LastPacket = f.ReceivedAt

	rec := e.FindDevice(pkt.DeviceID)
	if rec == nil {
		rec = e.RegisterDevice(pkt.DeviceID, pkt.Message)
		if rec == nil {
			e.counters.CapacityRejected++
			return fmt.Errorf("%w: %s", ErrCapacityRejected, pkt.DeviceID)
		}
	}
	e.updateAt(rec, pkt.Message, f.RSSI, f.ReceivedAt)
	return nil
}

// FindDevice returns the active record for id, or nil.
func (e *Engine) FindDevice(id string) *device.Record {
	return e.registry.Find(id)
}

// RegisterDevice creates a record for id with the capabilities present in
// first. It returns the existing record when id is already active and nil
// when the registry is full, the id is invalid or another mutation is in
// progress. Readings are not applied; follow up with UpdateDevice.
func (e *Engine) RegisterDevice(id string, first device.Message) *device.Record {
	var rec *device.Record
	e.guard("register", id, func() {
		if existing := e.registry.Find(id); existing != nil {
			rec = existing
			return
		}
		r, err := e.registry.Register(id, first)
		if err != nil {
			e.logger.Warn("device not registered", "device_id", id, "error", err)
			return
		}
		rec = r
		e.emit(device.Event{Kind: device.EventCreated, Record: *r})
	})
	return rec
}

// UpdateDevice applies msg to rec. Fields rec has no capability for are
// ignored.
func (e *Engine) UpdateDevice(rec *device.Record, msg device.Message, rssi int) {
	e.updateAt(rec, msg, rssi, time.Now())
}

func (e *Engine) updateAt(rec *device.Record, msg device.Message, rssi int, at time.Time) {
	if rec == nil {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	id := rec.ID
	e.guard("update", id, func() {
		// A deferred update may run after the record was removed.
		if e.registry.Find(id) != rec {
			return
		}
		e.registry.Update(rec, msg, rssi, at)
		e.emit(device.Event{Kind: device.EventUpdated, Record: *rec, Message: &msg})
	})
}

// RemoveDevice soft-deletes id and tears down its projections. It reports
// false when id is not an active device.
//
// Called from inside another mutation (a sink reacting to an event), the
// removal is queued for the next pass and RemoveDevice reports false even
// though the device will be removed. Counters().Deferred counts such calls.
func (e *Engine) RemoveDevice(id string) bool {
	var ok bool
	e.guard("remove", id, func() {
		var before device.Record
		before, ok = e.registry.Remove(id)
		if ok {
			e.emit(device.Event{Kind: device.EventRemoved, Record: before})
		}
	})
	return ok
}

// RenameDevice sets the display name of id. The stable identifier is never
// changed. It reports false when id is not active or name is invalid, and
// also when the rename was queued behind a mutation in progress, in which
// case it applies on the next pass as RemoveDevice does.
func (e *Engine) RenameDevice(id, name string) bool {
	var ok bool
	e.guard("rename", id, func() {
		prev := e.registry.Find(id)
		if prev == nil {
			return
		}
		previous := prev.Name
		rec, err := e.registry.Rename(id, name)
		if err != nil {
			e.logger.Warn("device not renamed", "device_id", id, "error", err)
			return
		}
		ok = true
		if previous == name {
			return
		}
		e.emit(device.Event{Kind: device.EventRenamed, Record: *rec, PreviousName: previous})
	})
	return ok
}

// SetSensorType changes the contact or motion variant of id. It reports
// false without error when the device lacks the capability or the variant
// is unchanged, and device.ErrNotFound when id is not active.
func (e *Engine) SetSensorType(id string, kind device.SensorKind, t uint8) (bool, error) {
	var changed bool
	var err error
	ran := e.guard("retype", id, func() {
		changed, err = e.registry.SetSensorType(id, kind, t)
		if errors.Is(err, device.ErrNoCapability) {
			changed, err = false, nil
			return
		}
		if err != nil || !changed {
			return
		}
		if rec := e.registry.Find(id); rec != nil {
			e.emit(device.Event{Kind: device.EventRetyped, Record: *rec})
		}
	})
	if !ran {
		return false, ErrBusy
	}
	return changed, err
}

// Save writes the active device set to the snapshot store.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return ErrNoStore
	}
	return e.store.Save(ctx, e.registry.Active())
}

// Load replaces the registry with the stored snapshot. Corrupt entries
// are skipped and logged.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return ErrNoStore
	}
	snapshots, report, err := e.store.Load(ctx, e.registry.Capacity())
	if err != nil {
		return err
	}
	loaded := e.registry.Load(snapshots)
	if report.Corrupt > 0 {
		e.logger.Warn("skipped corrupt snapshot entries", "corrupt", report.Corrupt, "stored", report.Stored)
	}
	e.logger.Info("device snapshot loaded", "devices", loaded, "stored", report.Stored)
	return nil
}

// guard runs fn unless another mutation is in progress, in which case fn
// is queued for the next pass. It reports whether fn ran now.
func (e *Engine) guard(op, id string, fn func()) bool {
	if e.busy {
		e.counters.Deferred++
		e.deferred = append(e.deferred, func() { e.guard(op, id, fn) })
		e.logger.Warn("mutation deferred", "op", op, "device_id", id)
		return false
	}
	e.busy = true
	defer func() { e.busy = false }()
	fn()
	return true
}

func (e *Engine) emit(ev device.Event) {
	e.counters.LastEvent = ev.Kind.String() + " " + ev.Record.Name
	for _, s := range e.sinks {
		s.HandleDeviceEvent(ev)
	}
}
