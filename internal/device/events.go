package device

// EventKind identifies the registry change that produced an Event.
type EventKind int

const (
	EventCreated EventKind = iota
	EventUpdated
	EventRenamed
	EventRetyped
	EventRemoved
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventRenamed:
		return "renamed"
	case EventRetyped:
		return "retyped"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes one registry change. Record is a copy taken after the
// change; for EventRemoved it is the state just before removal so sinks can
// still reach the old accessory and topics.
type Event struct {
	Kind   EventKind
	Record Record

	// Message is set for EventCreated and EventUpdated.
	Message *Message

	// PreviousName is set for EventRenamed.
	PreviousName string
}

// Sink consumes registry events. Sinks run on the engine loop and must not
// call back into the engine's mutating operations.
type Sink interface {
	HandleDeviceEvent(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// HandleDeviceEvent calls f(ev).
func (f SinkFunc) HandleDeviceEvent(ev Event) { f(ev) }
