package device

import (
	"strings"
	"time"
)

// ContactType selects how a contact-capable sensor is presented to consumers.
type ContactType uint8

// Contact variants. Values are persisted, so they must never be renumbered.
const (
	ContactSensor    ContactType = 0
	ContactLeak      ContactType = 1
	ContactSmoke     ContactType = 2
	ContactCO        ContactType = 3
	ContactOccupancy ContactType = 4
)

// MotionType selects how a motion-capable sensor is presented to consumers.
type MotionType uint8

// Motion variants. Values are persisted, so they must never be renumbered.
const (
	MotionSensor    MotionType = 0
	MotionOccupancy MotionType = 1
	MotionLeak      MotionType = 2
	MotionSmoke     MotionType = 3
	MotionCO        MotionType = 4
)

// Valid reports whether t is one of the defined contact variants.
func (t ContactType) Valid() bool { return t <= ContactOccupancy }

// Valid reports whether t is one of the defined motion variants.
func (t MotionType) Valid() bool { return t <= MotionCO }

// String returns the display name of the contact variant.
func (t ContactType) String() string {
	switch t {
	case ContactSensor:
		return "Contact"
	case ContactLeak:
		return "Leak"
	case ContactSmoke:
		return "Smoke"
	case ContactCO:
		return "CO"
	case ContactOccupancy:
		return "Occupancy"
	default:
		return "Unknown"
	}
}

// String returns the display name of the motion variant.
func (t MotionType) String() string {
	switch t {
	case MotionSensor:
		return "Motion"
	case MotionOccupancy:
		return "Occupancy"
	case MotionLeak:
		return "Leak"
	case MotionSmoke:
		return "Smoke"
	case MotionCO:
		return "CO"
	default:
		return "Unknown"
	}
}

// ContactTypeFromByte decodes a stored contact variant, falling back to
// ContactSensor for values outside the enumeration.
func ContactTypeFromByte(b uint8) ContactType {
	t := ContactType(b)
	if !t.Valid() {
		return ContactSensor
	}
	return t
}

// MotionTypeFromByte decodes a stored motion variant, falling back to
// MotionSensor for values outside the enumeration.
func MotionTypeFromByte(b uint8) MotionType {
	t := MotionType(b)
	if !t.Valid() {
		return MotionSensor
	}
	return t
}

// SensorKind names the binary capability whose variant can be changed.
type SensorKind string

const (
	KindContact SensorKind = "contact"
	KindMotion  SensorKind = "motion"
)

// ParseSensorKind converts a user-supplied string into a SensorKind.
func ParseSensorKind(s string) (SensorKind, error) {
	switch SensorKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindContact:
		return KindContact, nil
	case KindMotion:
		return KindMotion, nil
	default:
		return "", ErrInvalidSensorKind
	}
}

// Capabilities is the set of readings a device reports. It is fixed by the
// first accepted message and never widened afterwards.
type Capabilities struct {
	Temperature bool `json:"temperature"`
	Humidity    bool `json:"humidity"`
	Battery     bool `json:"battery"`
	Light       bool `json:"light"`
	Motion      bool `json:"motion"`
	Contact     bool `json:"contact"`
}

// Any reports whether at least one capability is enabled.
func (c Capabilities) Any() bool {
	return c.Temperature || c.Humidity || c.Battery || c.Light || c.Motion || c.Contact
}

// Readings holds the last known value of every capability.
type Readings struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Battery     int     `json:"battery"`
	Lux         int     `json:"lux"`
	Motion      bool    `json:"motion"`
	Contact     bool    `json:"contact"`
}

// Message is one validated sensor report. Nil fields were absent from the
// packet.
type Message struct {
	Temperature *float64
	Humidity    *float64
	Battery     *int
	Lux         *int
	Motion      *bool
	Contact     *bool

	// Raw is the compact JSON text of the packet, kept for the activity log.
	Raw string
}

// Capabilities derives the capability set from the fields present in m.
func (m Message) Capabilities() Capabilities {
	return Capabilities{
		Temperature: m.Temperature != nil,
		Humidity:    m.Humidity != nil,
		Battery:     m.Battery != nil,
		Light:       m.Lux != nil,
		Motion:      m.Motion != nil,
		Contact:     m.Contact != nil,
	}
}

// Record is one entry of the device registry.
type Record struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Active      bool         `json:"active"`
	Caps        Capabilities `json:"capabilities"`
	ContactType ContactType  `json:"contact_type"`
	MotionType  MotionType   `json:"motion_type"`
	Readings    Readings     `json:"readings"`
	RSSI        int          `json:"rssi"`
	LastSeen    time.Time    `json:"last_seen"`

	// AccessoryID is a weak reference into the accessory runtime. Zero means
	// the record has no accessory bound.
	AccessoryID uint32 `json:"accessory_id"`
}

// Snapshot is the persisted subset of a Record.
type Snapshot struct {
	ID          string
	Name        string
	Caps        Capabilities
	ContactType ContactType
	MotionType  MotionType
}

// Snapshot returns the persisted subset of r.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		ID:          r.ID,
		Name:        r.Name,
		Caps:        r.Caps,
		ContactType: r.ContactType,
		MotionType:  r.MotionType,
	}
}

// ActivityEntry is one line of the recent-activity log.
type ActivityEntry struct {
	Time       time.Time `json:"time"`
	DeviceName string    `json:"device_name"`
	Message    string    `json:"message"`
}

// RegistryStats describes slot usage. Leaked counts soft-deleted slots that
// stay allocated until the next restart.
type RegistryStats struct {
	Capacity int `json:"capacity"`
	Used     int `json:"used"`
	Active   int `json:"active"`
	Leaked   int `json:"leaked"`
}
