package accessory

import (
	"math"

	"github.com/nerrad567/lora-bridge/internal/device"
)

// Device accessory information constants.
const (
	DeviceManufacturer = "LoRa Sensor"
	DeviceModel        = "LoRa-v1"
	DeviceFirmware     = "1.0"

	// PlaceholderName names the temporary accessory used during a rebind.
	PlaceholderName = "spacer"
)

// Characteristic limits.
const (
	minTemperature = -40.0
	maxTemperature = 125.0
	minLux         = 0.0001
	lowBattery     = 20
)

func infoValues(info Info) map[Characteristic]any {
	return map[Characteristic]any{
		CharIdentify:         false,
		CharName:             info.Name,
		CharManufacturer:     info.Manufacturer,
		CharModel:            info.Model,
		CharSerialNumber:     info.SerialNumber,
		CharFirmwareRevision: info.FirmwareRevision,
	}
}

// deviceInfo returns the information block for rec.
func deviceInfo(rec device.Record) Info {
	return Info{
		Name:             rec.Name,
		Manufacturer:     DeviceManufacturer,
		Model:            DeviceModel,
		SerialNumber:     rec.Name,
		FirmwareRevision: DeviceFirmware,
	}
}

// Build describes the accessory for rec: the information block plus one
// service per capability, seeded with the record's last readings. The first
// sensor service carries the display name as ConfiguredName.
func Build(rec device.Record) Accessory {
	info := deviceInfo(rec)
	a := Accessory{
		Info: info,
		Services: []Service{{
			Type:   ServiceAccessoryInformation,
			Values: infoValues(info),
		}},
	}

	add := func(t ServiceType, values map[Characteristic]any) {
		if len(a.Services) == 1 {
			values[CharConfiguredName] = rec.Name
		}
		a.Services = append(a.Services, Service{Type: t, Values: values})
	}

	r := rec.Readings
	if rec.Caps.Temperature {
		add(ServiceTemperature, map[Characteristic]any{CharTemperature: temperatureValue(r.Temperature)})
	}
	if rec.Caps.Humidity {
		add(ServiceHumidity, map[Characteristic]any{CharHumidity: humidityValue(r.Humidity)})
	}
	if rec.Caps.Battery {
		add(ServiceBattery, map[Characteristic]any{
			CharBatteryLevel:     batteryValue(r.Battery),
			CharStatusLowBattery: lowBatteryValue(r.Battery),
		})
	}
	if rec.Caps.Light {
		add(ServiceLight, map[Characteristic]any{CharAmbientLight: luxValue(r.Lux)})
	}
	if rec.Caps.Motion {
		t, ch := motionService(rec.MotionType)
		add(t, map[Characteristic]any{ch: motionValue(rec.MotionType, r.Motion)})
	}
	if rec.Caps.Contact {
		t, ch := contactService(rec.ContactType)
		add(t, map[Characteristic]any{ch: contactValue(rec.ContactType, r.Contact)})
	}
	return a
}

// Placeholder describes the spacer accessory that holds a freed accessory ID
// while a rebind is in progress.
func Placeholder() Accessory {
	info := Info{
		Name:             PlaceholderName,
		Manufacturer:     DeviceManufacturer,
		Model:            PlaceholderName,
		SerialNumber:     PlaceholderName,
		FirmwareRevision: DeviceFirmware,
	}
	return Accessory{
		Info:        info,
		Placeholder: true,
		Services: []Service{{
			Type:   ServiceAccessoryInformation,
			Values: infoValues(info),
		}},
	}
}

// update is one characteristic write.
type update struct {
	svc   ServiceType
	ch    Characteristic
	value any
}

// updatesFor returns the characteristic writes for the fields present in
// msg, restricted to rec's capabilities.
func updatesFor(rec device.Record, msg device.Message) []update {
	var out []update
	if rec.Caps.Temperature && msg.Temperature != nil {
		out = append(out, update{ServiceTemperature, CharTemperature, temperatureValue(*msg.Temperature)})
	}
	if rec.Caps.Humidity && msg.Humidity != nil {
		out = append(out, update{ServiceHumidity, CharHumidity, humidityValue(*msg.Humidity)})
	}
	if rec.Caps.Battery && msg.Battery != nil {
		out = append(out,
			update{ServiceBattery, CharBatteryLevel, batteryValue(*msg.Battery)},
			update{ServiceBattery, CharStatusLowBattery, lowBatteryValue(*msg.Battery)},
		)
	}
	if rec.Caps.Light && msg.Lux != nil {
		out = append(out, update{ServiceLight, CharAmbientLight, luxValue(*msg.Lux)})
	}
	if rec.Caps.Motion && msg.Motion != nil {
		t, ch := motionService(rec.MotionType)
		out = append(out, update{t, ch, motionValue(rec.MotionType, *msg.Motion)})
	}
	if rec.Caps.Contact && msg.Contact != nil {
		t, ch := contactService(rec.ContactType)
		out = append(out, update{t, ch, contactValue(rec.ContactType, *msg.Contact)})
	}
	return out
}

func motionService(t device.MotionType) (ServiceType, Characteristic) {
	switch t {
	case device.MotionOccupancy:
		return ServiceOccupancy, CharOccupancyDetected
	case device.MotionLeak:
		return ServiceLeak, CharLeakDetected
	case device.MotionSmoke:
		return ServiceSmoke, CharSmokeDetected
	case device.MotionCO:
		return ServiceCarbonMonoxide, CharCODetected
	default:
		return ServiceMotion, CharMotionDetected
	}
}

func motionValue(t device.MotionType, detected bool) any {
	if t == device.MotionSensor || !t.Valid() {
		return detected
	}
	return boolByte(detected)
}

func contactService(t device.ContactType) (ServiceType, Characteristic) {
	switch t {
	case device.ContactLeak:
		return ServiceLeak, CharLeakDetected
	case device.ContactSmoke:
		return ServiceSmoke, CharSmokeDetected
	case device.ContactCO:
		return ServiceCarbonMonoxide, CharCODetected
	case device.ContactOccupancy:
		return ServiceOccupancy, CharOccupancyDetected
	default:
		return ServiceContact, CharContactState
	}
}

// contactValue maps the contact reading to the service value. A contact
// sensor reports 0 (detected) when the contact is closed.
func contactValue(t device.ContactType, contact bool) any {
	if t == device.ContactSensor || !t.Valid() {
		return boolByte(!contact)
	}
	return boolByte(contact)
}

func temperatureValue(v float64) float64 {
	return math.Max(minTemperature, math.Min(maxTemperature, v))
}

func humidityValue(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func batteryValue(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return uint8(v) //nolint:gosec // clamped to 0..100
	}
}

func lowBatteryValue(v int) uint8 {
	return boolByte(v < lowBattery)
}

func luxValue(v int) float64 {
	return math.Max(minLux, float64(v))
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
