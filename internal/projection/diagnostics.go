package projection

import "time"

// Diagnostics is the bridge health document published on the diagnostics
// topic.
type Diagnostics struct {
	Gateway          string    `json:"gateway"`
	Version          string    `json:"version,omitempty"`
	UptimeSeconds    int64     `json:"uptime_s"`
	Packets          int       `json:"packets"`
	DecryptErrors    int       `json:"decrypt_errors"`
	ParseErrors      int       `json:"parse_errors"`
	AuthErrors       int       `json:"auth_errors"`
	MissingField     int       `json:"missing_field"`
	CapacityRejected int       `json:"capacity_rejected"`
	FramesDropped    int       `json:"frames_dropped"`
	Devices          int       `json:"devices"`
	Capacity         int       `json:"capacity"`
	LeakedSlots      int       `json:"leaked_slots"`
	LastPacket       time.Time `json:"last_packet,omitzero"`
	LastEvent        string    `json:"last_event,omitempty"`
	FrequencyMHz     float64   `json:"frequency_mhz"`
	SpreadingFactor  uint8     `json:"spreading_factor"`
	BandwidthHz      int       `json:"bandwidth_hz"`
}

// bridgeEntity describes one diagnostic entity of the bridge device, read
// from the diagnostics document with a value template.
type bridgeEntity struct {
	key         string
	name        string
	unit        string
	stateClass  string
	deviceClass string
}

var bridgeEntities = []bridgeEntity{
	{key: "packets", name: "Packets received", stateClass: "total_increasing"},
	{key: "devices", name: "Active devices", stateClass: "measurement"},
	{key: "capacity_rejected", name: "Capacity rejections", stateClass: "total_increasing"},
	{key: "uptime_s", name: "Uptime", unit: "s", stateClass: "total_increasing", deviceClass: "duration"},
}
