package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/mqtt"
)

// DefaultDiagnosticsInterval is the minimum time between diagnostics
// publications.
const DefaultDiagnosticsInterval = 60 * time.Second

// Publisher is the transport the projection publishes through.
// *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger defines the logging interface used by the projection.
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

// Options configures a Projection.
type Options struct {
	Topics     mqtt.Topics
	QoS        byte
	BridgeName string
	Version    string

	// DiagnosticsInterval rate-limits PublishDiagnostics. Zero means
	// DefaultDiagnosticsInterval.
	DiagnosticsInterval time.Duration
}

// Projection mirrors the device registry onto retained MQTT discovery and
// state documents. It runs on the engine loop and is not safe for
// concurrent use.
type Projection struct {
	pub     Publisher
	opts    Options
	limiter *rate.Limiter
	logger  Logger

	failures int
}

// New creates a projection publishing through pub.
func New(pub Publisher, opts Options) *Projection {
	if opts.DiagnosticsInterval <= 0 {
		opts.DiagnosticsInterval = DefaultDiagnosticsInterval
	}
	if opts.BridgeName == "" {
		opts.BridgeName = "LoRa Bridge " + opts.Topics.Gateway
	}
	return &Projection{
		pub:     pub,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.DiagnosticsInterval), 1),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the projection.
func (p *Projection) SetLogger(logger Logger) {
	p.logger = logger
}

// Failures returns the number of rejected publishes.
func (p *Projection) Failures() int { return p.failures }

// Connect runs the connection sequence: bridge status "online", bridge
// discovery, then discovery and availability of every record in order.
// Call it on every fresh broker connection; retained documents lost by the
// broker are restored this way.
func (p *Projection) Connect(records []device.Record) error {
	if !p.pub.IsConnected() {
		return mqtt.ErrNotConnected
	}

	errs := []error{
		p.publish(p.opts.Topics.BridgeStatus(), []byte(statusOnline), true),
		p.discoverBridge(),
	}
	for _, rec := range records {
		errs = append(errs, p.Discover(rec))
	}

	err := errors.Join(errs...)
	if err != nil {
		p.logger.Warn("mqtt connect sequence incomplete", "error", err)
	} else {
		p.logger.Info("mqtt discovery published", "devices", len(records))
	}
	return err
}

// Discover publishes the discovery document of every entity of rec and
// marks the device available.
func (p *Projection) Discover(rec device.Record) error {
	if err := mqtt.ValidateSegment(rec.ID); err != nil {
		return err
	}

	topics := p.opts.Topics
	node := topics.Node(rec.ID)
	block := deviceBlock{
		Identifiers:  []string{node},
		Name:         rec.Name,
		Manufacturer: deviceManufacturer,
		Model:        deviceModel,
		ViaDevice:    topics.Gateway,
	}

	var errs []error
	for _, e := range entitiesFor(rec) {
		doc := discoveryDoc{
			Name:       e.name,
			UniqueID:   node + "_" + e.suffix,
			StateTopic: topics.State(e.component, rec.ID, e.capability),
			Availability: []availability{
				{Topic: topics.Availability(rec.ID)},
				{Topic: topics.BridgeStatus()},
			},
			AvailabilityMode: "all",
			DeviceClass:      e.deviceClass,
			Unit:             e.unit,
			StateClass:       e.stateClass,
			EntityCategory:   e.category,
			Device:           block,
		}
		if e.binary {
			doc.PayloadOn = payloadOn
			doc.PayloadOff = payloadOff
		}
		errs = append(errs, p.publishJSON(topics.Config(e.component, rec.ID, e.capability), doc))
	}
	errs = append(errs, p.publish(topics.Availability(rec.ID), []byte(statusOnline), true))
	return errors.Join(errs...)
}

// State publishes the values present in msg plus rssi.
func (p *Projection) State(rec device.Record, msg device.Message, rssi int) error {
	if err := mqtt.ValidateSegment(rec.ID); err != nil {
		return err
	}

	var errs []error
	for _, v := range stateValues(rec, msg, rssi) {
		errs = append(errs, p.publish(p.opts.Topics.State(v.component, rec.ID, v.capability), []byte(v.value), true))
	}
	return errors.Join(errs...)
}

// Remove clears every retained discovery document of rec, rssi included,
// and marks the device offline.
func (p *Projection) Remove(rec device.Record) error {
	if err := mqtt.ValidateSegment(rec.ID); err != nil {
		return err
	}

	topics := p.opts.Topics
	var errs []error
	for _, e := range entitiesFor(rec) {
		errs = append(errs, p.publish(topics.Config(e.component, rec.ID, e.capability), nil, true))
	}
	errs = append(errs, p.publish(topics.Availability(rec.ID), []byte(statusOffline), true))
	return errors.Join(errs...)
}

// PublishDiagnostics publishes d unless a diagnostics document was published
// less than the configured interval before now. It reports whether d was
// published.
func (p *Projection) PublishDiagnostics(now time.Time, d Diagnostics) bool {
	if !p.pub.IsConnected() {
		return false
	}
	if !p.limiter.AllowN(now, 1) {
		return false
	}
	if err := p.publishJSON(p.opts.Topics.BridgeDiagnostics(), d); err != nil {
		p.logger.Warn("publishing diagnostics failed", "error", err)
		return false
	}
	return true
}

// HandleDeviceEvent publishes the documents affected by one registry
// change. Discovery is republished only for structural changes; readings
// only produce state documents. Nothing is published while disconnected.
func (p *Projection) HandleDeviceEvent(ev device.Event) {
	if !p.pub.IsConnected() {
		return
	}

	var err error
	switch ev.Kind {
	case device.EventCreated:
		err = p.Discover(ev.Record)
		if err == nil && ev.Message != nil {
			err = p.State(ev.Record, *ev.Message, ev.Record.RSSI)
		}
	case device.EventUpdated:
		if ev.Message != nil {
			err = p.State(ev.Record, *ev.Message, ev.Record.RSSI)
		}
	case device.EventRenamed, device.EventRetyped:
		err = p.Discover(ev.Record)
	case device.EventRemoved:
		err = p.Remove(ev.Record)
	}
	if err != nil {
		p.logger.Warn("mqtt projection failed",
			"event", ev.Kind.String(),
			"device_id", ev.Record.ID,
			"error", err,
		)
	}
}

func (p *Projection) discoverBridge() error {
	topics := p.opts.Topics
	block := deviceBlock{
		Identifiers:  []string{topics.Gateway},
		Name:         p.opts.BridgeName,
		Manufacturer: bridgeManufacturer,
		Model:        bridgeModel,
		SWVersion:    p.opts.Version,
	}

	var errs []error
	for _, e := range bridgeEntities {
		doc := discoveryDoc{
			Name:             e.name,
			UniqueID:         topics.Gateway + "_bridge_" + e.key,
			StateTopic:       topics.BridgeDiagnostics(),
			Availability:     []availability{{Topic: topics.BridgeStatus()}},
			AvailabilityMode: "all",
			DeviceClass:      e.deviceClass,
			Unit:             e.unit,
			StateClass:       e.stateClass,
			EntityCategory:   "diagnostic",
			ValueTemplate:    fmt.Sprintf("{{ value_json.%s }}", e.key),
			Device:           block,
		}
		errs = append(errs, p.publishJSON(topics.BridgeConfig(e.key), doc))
	}
	return errors.Join(errs...)
}

func (p *Projection) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	return p.publish(topic, payload, true)
}

func (p *Projection) publish(topic string, payload []byte, retained bool) error {
	if err := p.pub.Publish(topic, payload, p.opts.QoS, retained); err != nil {
		p.failures++
		return err
	}
	return nil
}
