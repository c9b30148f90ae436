package bridge

import (
	"time"

	"github.com/nerrad567/lora-bridge/internal/accessory"
	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/projection"
)

// Status is the bridge overview served to the management API.
type Status struct {
	GatewayID     string               `json:"gateway_id"`
	Version       string               `json:"version,omitempty"`
	UptimeSeconds int64                `json:"uptime_s"`
	Counters      Counters             `json:"counters"`
	FramesDropped uint64               `json:"frames_dropped"`
	Registry      device.RegistryStats `json:"registry"`
	Accessories   *accessory.Stats     `json:"accessories,omitempty"`
	MQTTConnected bool                 `json:"mqtt_connected"`
	CipherMode    string               `json:"cipher_mode"`
}

// Status returns the current bridge overview. Call it on the loop.
func (e *Engine) Status(now time.Time) Status {
	st := Status{
		GatewayID:     e.opts.GatewayID,
		Version:       e.opts.Version,
		UptimeSeconds: int64(now.Sub(e.startedAt).Seconds()),
		Counters:      e.counters,
		FramesDropped: e.framesDropped(),
		Registry:      e.registry.Stats(),
		CipherMode:    e.gate.Mode().String(),
	}
	if e.accessories != nil {
		stats := e.accessories.Stats()
		st.Accessories = &stats
	}
	if e.transport != nil {
		st.MQTTConnected = e.transport.IsConnected()
	}
	return st
}

// Diagnostics returns the bridge health document published to the broker.
func (e *Engine) Diagnostics(now time.Time) projection.Diagnostics {
	reg := e.registry.Stats()
	return projection.Diagnostics{
		Gateway:          e.opts.GatewayID,
		Version:          e.opts.Version,
		UptimeSeconds:    int64(now.Sub(e.startedAt).Seconds()),
		Packets:          e.counters.Packets,
		DecryptErrors:    e.counters.DecryptErrors,
		ParseErrors:      e.counters.ParseErrors,
		AuthErrors:       e.counters.AuthErrors,
		MissingField:     e.counters.MissingField,
		CapacityRejected: e.counters.CapacityRejected,
		FramesDropped:    int(e.framesDropped()), //nolint:gosec // counter fits int
		Devices:          reg.Active,
		Capacity:         reg.Capacity,
		LeakedSlots:      reg.Leaked,
		LastPacket:       e.counters.LastPacket,
		LastEvent:        e.counters.LastEvent,
		FrequencyMHz:     e.opts.Radio.FrequencyMHz,
		SpreadingFactor:  e.opts.Radio.SpreadingFactor,
		BandwidthHz:      e.opts.Radio.BandwidthHz,
	}
}

func (e *Engine) framesDropped() uint64 {
	if dc, ok := e.receiver.(dropCounter); ok {
		return dc.Dropped()
	}
	return 0
}
