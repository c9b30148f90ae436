package device

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// DefaultCapacity is the number of registry slots on a standard bridge.
	DefaultCapacity = 20

	// MaxIDLength and MaxNameLength bound identifiers and display names in bytes.
	MaxIDLength   = 31
	MaxNameLength = 31
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the fixed-capacity table of known devices.
//
// Slots are allocated in arrival order and never reclaimed while the process
// runs: Remove only clears the Active flag. A bridge that keeps pairing and
// removing devices therefore runs out of slots until it restarts and the
// active set is compacted by Load. Stats exposes the leaked slot count.
//
// Pointers returned by Find and Register stay valid for the lifetime of the
// registry because the slot array is allocated once.
//
// Registry is not safe for concurrent use. It is owned by the engine loop.
type Registry struct {
	slots    []Record
	used     int
	activity ActivityLog
	logger   Logger
}

// NewRegistry creates a registry with the given number of slots.
// A non-positive capacity selects DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		slots:  make([]Record, capacity),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Capacity returns the total number of slots.
func (r *Registry) Capacity() int { return len(r.slots) }

// NormalizeID cuts id to MaxIDLength bytes, backing off to a rune boundary.
// Radios send ids of any length; the bridge keys devices by the prefix.
func NormalizeID(id string) string {
	if len(id) <= MaxIDLength {
		return id
	}
	n := MaxIDLength
	for n > 0 && !utf8.RuneStart(id[n]) {
		n--
	}
	return id[:n]
}

// Find returns the active record for id, or nil. Ids longer than
// MaxIDLength match on their truncated form.
func (r *Registry) Find(id string) *Record {
	id = NormalizeID(id)
	for i := 0; i < r.used; i++ {
		if r.slots[i].Active && r.slots[i].ID == id {
			return &r.slots[i]
		}
	}
	return nil
}

// Get returns a copy of the active record for id.
func (r *Registry) Get(id string) (Record, bool) {
	rec := r.Find(id)
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Register allocates a new slot for id with capabilities taken from the
// first message. Readings are not applied; callers follow up with Update.
//
// Ids longer than MaxIDLength are truncated. Returns ErrInvalidID for an
// empty id and ErrCapacityExceeded when every slot has been used, counting
// slots of removed devices.
func (r *Registry) Register(id string, first Message) (*Record, error) {
	id = NormalizeID(id)
	if id == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if existing := r.Find(id); existing != nil {
		return existing, nil
	}
	if r.used >= len(r.slots) {
		stats := r.Stats()
		r.logger.Warn("device registry full",
			"capacity", stats.Capacity,
			"active", stats.Active,
			"leaked_slots", stats.Leaked,
			"device_id", id,
		)
		return nil, ErrCapacityExceeded
	}

	rec := &r.slots[r.used]
	*rec = Record{
		ID:          id,
		Name:        id,
		Active:      true,
		Caps:        first.Capabilities(),
		ContactType: ContactSensor,
		MotionType:  MotionSensor,
	}
	r.used++

	r.logger.Info("device registered",
		"device_id", id,
		"slot", r.used-1,
		"capabilities", fmt.Sprintf("%+v", rec.Caps),
	)
	return rec, nil
}

// Update applies the readings of msg that rec has a capability for, sets
// RSSI and LastSeen, and appends the message to the activity log.
func (r *Registry) Update(rec *Record, msg Message, rssi int, now time.Time) {
	if rec == nil {
		return
	}
	if rec.Caps.Temperature && msg.Temperature != nil {
		rec.Readings.Temperature = *msg.Temperature
	}
	if rec.Caps.Humidity && msg.Humidity != nil {
		rec.Readings.Humidity = *msg.Humidity
	}
	if rec.Caps.Battery && msg.Battery != nil {
		rec.Readings.Battery = *msg.Battery
	}
	if rec.Caps.Light && msg.Lux != nil {
		rec.Readings.Lux = *msg.Lux
	}
	if rec.Caps.Motion && msg.Motion != nil {
		rec.Readings.Motion = *msg.Motion
	}
	if rec.Caps.Contact && msg.Contact != nil {
		rec.Readings.Contact = *msg.Contact
	}
	rec.RSSI = rssi
	rec.LastSeen = now

	r.activity.Append(now, rec.Name, msg.Raw)
}

// Remove soft-deletes the active record for id and clears its accessory
// reference. The returned copy holds the state before removal so callers can
// tear down projections that still reference the old accessory.
func (r *Registry) Remove(id string) (Record, bool) {
	rec := r.Find(id)
	if rec == nil {
		return Record{}, false
	}
	before := *rec
	rec.Active = false
	rec.AccessoryID = 0

	r.logger.Info("device removed", "device_id", id)
	return before, true
}

// Rename sets the display name of the active record for id.
func (r *Registry) Rename(id, name string) (*Record, error) {
	if name == "" || len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	rec := r.Find(id)
	if rec == nil {
		return nil, ErrNotFound
	}
	rec.Name = name
	return rec, nil
}

// SetSensorType changes the contact or motion variant of the active record
// for id. It reports false without error when the variant is unchanged and
// ErrNoCapability when the record lacks the capability.
func (r *Registry) SetSensorType(id string, kind SensorKind, value uint8) (bool, error) {
	rec := r.Find(id)
	if rec == nil {
		return false, ErrNotFound
	}

	switch kind {
	case KindContact:
		t := ContactType(value)
		if !t.Valid() {
			return false, fmt.Errorf("%w: contact %d", ErrInvalidSensorType, value)
		}
		if !rec.Caps.Contact {
			return false, ErrNoCapability
		}
		if rec.ContactType == t {
			return false, nil
		}
		rec.ContactType = t
	case KindMotion:
		t := MotionType(value)
		if !t.Valid() {
			return false, fmt.Errorf("%w: motion %d", ErrInvalidSensorType, value)
		}
		if !rec.Caps.Motion {
			return false, ErrNoCapability
		}
		if rec.MotionType == t {
			return false, nil
		}
		rec.MotionType = t
	default:
		return false, ErrInvalidSensorKind
	}
	return true, nil
}

// SetAccessoryID stores the accessory reference of the active record for id.
func (r *Registry) SetAccessoryID(id string, aid uint32) bool {
	rec := r.Find(id)
	if rec == nil {
		return false
	}
	rec.AccessoryID = aid
	return true
}

// Active returns copies of all active records in slot order.
func (r *Registry) Active() []Record {
	out := make([]Record, 0, r.used)
	for i := 0; i < r.used; i++ {
		if r.slots[i].Active {
			out = append(out, r.slots[i])
		}
	}
	return out
}

// Load replaces the registry contents with the given snapshots. Entries
// beyond capacity, with an empty ID or duplicating an earlier ID are
// skipped. It returns the number of records loaded.
func (r *Registry) Load(snapshots []Snapshot) int {
	for i := range r.slots {
		r.slots[i] = Record{}
	}
	r.used = 0

	for _, s := range snapshots {
		if r.used >= len(r.slots) {
			r.logger.Warn("snapshot exceeds registry capacity", "capacity", len(r.slots), "entries", len(snapshots))
			break
		}
		if s.ID == "" || r.Find(s.ID) != nil {
			continue
		}
		name := s.Name
		if name == "" {
			name = s.ID
		}
		r.slots[r.used] = Record{
			ID:          s.ID,
			Name:        name,
			Active:      true,
			Caps:        s.Caps,
			ContactType: ContactTypeFromByte(uint8(s.ContactType)),
			MotionType:  MotionTypeFromByte(uint8(s.MotionType)),
		}
		r.used++
	}
	return r.used
}

// Stats reports slot usage.
func (r *Registry) Stats() RegistryStats {
	stats := RegistryStats{Capacity: len(r.slots), Used: r.used}
	for i := 0; i < r.used; i++ {
		if r.slots[i].Active {
			stats.Active++
		}
	}
	stats.Leaked = stats.Used - stats.Active
	return stats
}

// Activity returns the activity log, most recent first.
func (r *Registry) Activity() []ActivityEntry {
	return r.activity.Entries()
}
