package device

import "time"

// ActivityCapacity is the number of entries kept by the activity log.
const ActivityCapacity = 20

// ActivityLog is a fixed-size circular log of accepted messages. The oldest
// entry is overwritten once the log is full.
type ActivityLog struct {
	entries [ActivityCapacity]ActivityEntry
	next    int
	size    int
}

// Append records one message.
func (l *ActivityLog) Append(at time.Time, deviceName, message string) {
	l.entries[l.next] = ActivityEntry{Time: at, DeviceName: deviceName, Message: message}
	l.next = (l.next + 1) % ActivityCapacity
	if l.size < ActivityCapacity {
		l.size++
	}
}

// Len returns the number of stored entries.
func (l *ActivityLog) Len() int { return l.size }

// Entries returns the stored entries, most recent first.
func (l *ActivityLog) Entries() []ActivityEntry {
	out := make([]ActivityEntry, 0, l.size)
	for i := 0; i < l.size; i++ {
		idx := (l.next - 1 - i + ActivityCapacity) % ActivityCapacity
		out = append(out, l.entries[idx])
	}
	return out
}
