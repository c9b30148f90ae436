package accessory

import (
	"errors"
	"fmt"

	"github.com/nerrad567/lora-bridge/internal/device"
)

// State is the binding state of one device record.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateRebinding
	StateRemoved
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateRebinding:
		return "rebinding"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// HandleStore records the accessory ID bound to a device record. The device
// registry implements it.
type HandleStore interface {
	SetAccessoryID(id string, aid uint32) bool
}

// Logger defines the logging interface used by the manager.
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

// Stats summarises the manager's view of the runtime.
type Stats struct {
	Bound        int `json:"bound"`
	Unbound      int `json:"unbound"`
	Placeholders int `json:"placeholders"`
	Failures     int `json:"failures"`
}

// Manager keeps the accessory runtime in step with the device registry.
// It runs on the engine loop and is not safe for concurrent use.
type Manager struct {
	rt      Runtime
	handles HandleStore
	logger  Logger

	states       map[string]State
	placeholders map[uint32]struct{}
	rebinding    bool
	failures     int
}

// NewManager creates a manager driving rt and recording handles in handles.
func NewManager(rt Runtime, handles HandleStore) *Manager {
	return &Manager{
		rt:           rt,
		handles:      handles,
		logger:       noopLogger{},
		states:       make(map[string]State),
		placeholders: make(map[uint32]struct{}),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// State returns the binding state of the record with the given ID.
func (m *Manager) State(id string) State {
	return m.states[id]
}

// Stats returns binding counts.
func (m *Manager) Stats() Stats {
	s := Stats{Placeholders: len(m.placeholders), Failures: m.failures}
	for _, st := range m.states {
		switch st {
		case StateBound:
			s.Bound++
		case StateUnbound, StateRebinding:
			s.Unbound++
		}
	}
	return s
}

// Bind creates the accessory for rec and stores its ID in the handle store.
// A record that already holds an accessory ID is left as is.
func (m *Manager) Bind(rec device.Record) (uint32, error) {
	if rec.AccessoryID != 0 {
		m.states[rec.ID] = StateBound
		return rec.AccessoryID, nil
	}

	aid, err := m.rt.AddAccessory(Build(rec))
	if err != nil {
		m.fail(rec.ID)
		return 0, fmt.Errorf("%w: adding accessory for %s: %w", ErrRuntime, rec.ID, err)
	}
	m.handles.SetAccessoryID(rec.ID, aid)
	m.states[rec.ID] = StateBound

	if err := m.rt.UpdateDatabase(); err != nil {
		m.logger.Warn("accessory database update failed", "device_id", rec.ID, "error", err)
	}
	m.logger.Info("accessory bound", "device_id", rec.ID, "name", rec.Name, "aid", aid)
	return aid, nil
}

// Rebind replaces the accessory of rec so paired controllers pick up its
// new name or services. The freed ID is held by a placeholder while the new
// accessory is added, so the new accessory never inherits the old ID:
//
//  1. clear the handle and delete the old accessory
//  2. add a placeholder and publish the database
//  3. add the new accessory and store its handle
//  4. delete the placeholder and publish the database
//
// If a step fails the record is left unbound and any placeholder is
// remembered for Resync.
func (m *Manager) Rebind(rec device.Record) (uint32, error) {
	if m.rebinding {
		return 0, ErrBusy
	}
	m.rebinding = true
	defer func() { m.rebinding = false }()

	m.states[rec.ID] = StateRebinding

	m.handles.SetAccessoryID(rec.ID, 0)
	if rec.AccessoryID != 0 {
		if err := m.rt.DeleteAccessory(rec.AccessoryID); err != nil && !errors.Is(err, ErrUnknownAccessory) {
			m.fail(rec.ID)
			return 0, fmt.Errorf("%w: deleting accessory %d: %w", ErrRuntime, rec.AccessoryID, err)
		}
	}

	spacer, err := m.rt.AddAccessory(Placeholder())
	if err != nil {
		m.fail(rec.ID)
		return 0, fmt.Errorf("%w: adding placeholder: %w", ErrRuntime, err)
	}
	m.placeholders[spacer] = struct{}{}
	if err := m.rt.UpdateDatabase(); err != nil {
		m.fail(rec.ID)
		return 0, fmt.Errorf("%w: publishing placeholder: %w", ErrRuntime, err)
	}

	aid, err := m.rt.AddAccessory(Build(rec))
	if err != nil {
		m.fail(rec.ID)
		return 0, fmt.Errorf("%w: adding accessory for %s: %w", ErrRuntime, rec.ID, err)
	}
	m.handles.SetAccessoryID(rec.ID, aid)
	m.states[rec.ID] = StateBound

	if err := m.rt.DeleteAccessory(spacer); err != nil {
		return aid, fmt.Errorf("%w: deleting placeholder %d: %w", ErrRuntime, spacer, err)
	}
	delete(m.placeholders, spacer)
	if err := m.rt.UpdateDatabase(); err != nil {
		return aid, fmt.Errorf("%w: publishing database: %w", ErrRuntime, err)
	}

	m.logger.Info("accessory rebound",
		"device_id", rec.ID,
		"name", rec.Name,
		"old_aid", rec.AccessoryID,
		"aid", aid,
	)
	return aid, nil
}

// Unbind deletes the accessory of a removed record.
func (m *Manager) Unbind(rec device.Record) error {
	m.states[rec.ID] = StateRemoved
	if rec.AccessoryID == 0 {
		return nil
	}

	if err := m.rt.DeleteAccessory(rec.AccessoryID); err != nil && !errors.Is(err, ErrUnknownAccessory) {
		m.failures++
		return fmt.Errorf("%w: deleting accessory %d: %w", ErrRuntime, rec.AccessoryID, err)
	}
	if err := m.rt.UpdateDatabase(); err != nil {
		return fmt.Errorf("%w: publishing database: %w", ErrRuntime, err)
	}
	m.logger.Info("accessory removed", "device_id", rec.ID, "aid", rec.AccessoryID)
	return nil
}

// Resync converges the runtime on records, the active set of the registry.
// Accessories that no record references are deleted (placeholders left by an
// interrupted rebind included) and every unbound record is bound. Calling it
// again without intervening changes does nothing.
func (m *Manager) Resync(records []device.Record) error {
	live := make(map[uint32]bool)
	for _, aid := range m.rt.AccessoryIDs() {
		live[aid] = true
	}

	referenced := make(map[uint32]bool)
	unbound := make([]device.Record, 0, len(records))
	for _, rec := range records {
		_, isPlaceholder := m.placeholders[rec.AccessoryID]
		if rec.AccessoryID != 0 && live[rec.AccessoryID] && !referenced[rec.AccessoryID] && !isPlaceholder {
			referenced[rec.AccessoryID] = true
			m.states[rec.ID] = StateBound
			continue
		}
		if rec.AccessoryID != 0 {
			m.handles.SetAccessoryID(rec.ID, 0)
			rec.AccessoryID = 0
		}
		m.states[rec.ID] = StateUnbound
		unbound = append(unbound, rec)
	}

	var errs []error
	changed := false

	// Bind before deleting orphans so no new accessory lands on an ID a
	// controller still associates with the orphan.
	for _, rec := range unbound {
		aid, err := m.rt.AddAccessory(Build(rec))
		if err != nil {
			m.fail(rec.ID)
			errs = append(errs, fmt.Errorf("%w: adding accessory for %s: %w", ErrRuntime, rec.ID, err))
			continue
		}
		m.handles.SetAccessoryID(rec.ID, aid)
		m.states[rec.ID] = StateBound
		changed = true
	}

	for aid := range live {
		if referenced[aid] {
			continue
		}
		if err := m.rt.DeleteAccessory(aid); err != nil && !errors.Is(err, ErrUnknownAccessory) {
			errs = append(errs, fmt.Errorf("%w: deleting orphan %d: %w", ErrRuntime, aid, err))
			continue
		}
		delete(m.placeholders, aid)
		changed = true
		m.logger.Info("orphan accessory deleted", "aid", aid)
	}
	for aid := range m.placeholders {
		if !live[aid] {
			delete(m.placeholders, aid)
		}
	}

	if changed {
		if err := m.rt.UpdateDatabase(); err != nil {
			errs = append(errs, fmt.Errorf("%w: publishing database: %w", ErrRuntime, err))
		}
		m.logger.Info("accessories resynced", "records", len(records), "bound", len(unbound))
	}
	return errors.Join(errs...)
}

// HandleDeviceEvent applies one registry change to the runtime.
func (m *Manager) HandleDeviceEvent(ev device.Event) {
	var err error
	switch ev.Kind {
	case device.EventCreated:
		_, err = m.Bind(ev.Record)
	case device.EventUpdated:
		err = m.push(ev.Record, ev.Message)
	case device.EventRenamed, device.EventRetyped:
		_, err = m.Rebind(ev.Record)
	case device.EventRemoved:
		err = m.Unbind(ev.Record)
	}
	if err != nil {
		m.logger.Error("accessory update failed",
			"event", ev.Kind.String(),
			"device_id", ev.Record.ID,
			"error", err,
		)
	}
}

// push writes the values present in msg to the record's accessory. An
// unbound record is bound first; a handle the runtime no longer knows is
// cleared and the record rebound.
func (m *Manager) push(rec device.Record, msg *device.Message) error {
	if msg == nil {
		return nil
	}
	if rec.AccessoryID == 0 {
		_, err := m.Bind(rec)
		return err
	}

	for _, u := range updatesFor(rec, *msg) {
		err := m.rt.SetValue(rec.AccessoryID, u.svc, u.ch, u.value)
		if errors.Is(err, ErrUnknownAccessory) {
			m.logger.Warn("stale accessory handle", "device_id", rec.ID, "aid", rec.AccessoryID)
			m.handles.SetAccessoryID(rec.ID, 0)
			m.states[rec.ID] = StateUnbound
			rec.AccessoryID = 0
			_, err = m.Bind(rec)
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: setting %s/%s: %w", ErrRuntime, u.svc, u.ch, err)
		}
	}
	return nil
}

func (m *Manager) fail(id string) {
	m.failures++
	m.states[id] = StateUnbound
}

// NeedsResync reports whether an interrupted rebind left a placeholder or
// an unbound record behind.
func (m *Manager) NeedsResync() bool {
	if len(m.placeholders) > 0 {
		return true
	}
	for _, st := range m.states {
		if st == StateUnbound || st == StateRebinding {
			return true
		}
	}
	return false
}
