package accessory

// ServiceType names an accessory-protocol service.
type ServiceType string

const (
	ServiceAccessoryInformation ServiceType = "AccessoryInformation"
	ServiceTemperature          ServiceType = "TemperatureSensor"
	ServiceHumidity             ServiceType = "HumiditySensor"
	ServiceBattery              ServiceType = "BatteryService"
	ServiceLight                ServiceType = "LightSensor"
	ServiceMotion               ServiceType = "MotionSensor"
	ServiceOccupancy            ServiceType = "OccupancySensor"
	ServiceLeak                 ServiceType = "LeakSensor"
	ServiceSmoke                ServiceType = "SmokeSensor"
	ServiceCarbonMonoxide       ServiceType = "CarbonMonoxideSensor"
	ServiceContact              ServiceType = "ContactSensor"
)

// Characteristic names a value within a service.
type Characteristic string

const (
	CharIdentify          Characteristic = "Identify"
	CharName              Characteristic = "Name"
	CharConfiguredName    Characteristic = "ConfiguredName"
	CharManufacturer      Characteristic = "Manufacturer"
	CharModel             Characteristic = "Model"
	CharSerialNumber      Characteristic = "SerialNumber"
	CharFirmwareRevision  Characteristic = "FirmwareRevision"
	CharTemperature       Characteristic = "CurrentTemperature"
	CharHumidity          Characteristic = "CurrentRelativeHumidity"
	CharBatteryLevel      Characteristic = "BatteryLevel"
	CharStatusLowBattery  Characteristic = "StatusLowBattery"
	CharAmbientLight      Characteristic = "CurrentAmbientLightLevel"
	CharMotionDetected    Characteristic = "MotionDetected"
	CharOccupancyDetected Characteristic = "OccupancyDetected"
	CharLeakDetected      Characteristic = "LeakDetected"
	CharSmokeDetected     Characteristic = "SmokeDetected"
	CharCODetected        Characteristic = "CarbonMonoxideDetected"
	CharContactState      Characteristic = "ContactSensorState"
)

// Info is the accessory information block.
type Info struct {
	Name             string
	Manufacturer     string
	Model            string
	SerialNumber     string
	FirmwareRevision string
}

// Service is one service of an accessory with its current values.
type Service struct {
	Type   ServiceType
	Values map[Characteristic]any
}

// Accessory describes an accessory to add to the runtime. AID is assigned
// by the runtime.
type Accessory struct {
	AID         uint32
	Info        Info
	Services    []Service
	Placeholder bool
}

// Service returns the first service of type t.
func (a *Accessory) Service(t ServiceType) (*Service, bool) {
	for i := range a.Services {
		if a.Services[i].Type == t {
			return &a.Services[i], true
		}
	}
	return nil, false
}

// clone returns a deep copy of a.
func (a Accessory) clone() Accessory {
	out := a
	out.Services = make([]Service, len(a.Services))
	for i, s := range a.Services {
		values := make(map[Characteristic]any, len(s.Values))
		for k, v := range s.Values {
			values[k] = v
		}
		out.Services[i] = Service{Type: s.Type, Values: values}
	}
	return out
}

// Runtime is the accessory-protocol runtime the manager drives. Handles
// (accessory IDs) may be reused by the runtime after deletion.
type Runtime interface {
	// AddAccessory registers a and returns its assigned ID.
	AddAccessory(a Accessory) (uint32, error)

	// DeleteAccessory removes the accessory with the given ID.
	DeleteAccessory(aid uint32) error

	// UpdateDatabase announces a structural change to paired controllers.
	UpdateDatabase() error

	// SetValue updates one characteristic of a live accessory.
	SetValue(aid uint32, svc ServiceType, ch Characteristic, value any) error

	// AccessoryIDs lists the IDs of all device accessories (the bridge
	// accessory itself is excluded).
	AccessoryIDs() []uint32
}
