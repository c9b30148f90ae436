package accessory

import (
	"fmt"
	"sort"
	"sync"
)

// BridgeAID is the accessory ID of the bridge accessory itself.
const BridgeAID uint32 = 1

// maxAID bounds the accessory IDs the database hands out. Controllers cap a
// bridge at 150 accessories.
const maxAID uint32 = 150

// BridgeInfo is the information block of the bridge accessory.
var BridgeInfo = Info{
	Name:             "LoRa Bridge",
	Manufacturer:     "LoRa Bridge",
	Model:            "LoRa-Bridge",
	SerialNumber:     "LORA-001",
	FirmwareRevision: "2.0",
}

// Database is an in-process accessory database implementing Runtime. It
// hands out the lowest free accessory ID, so an ID released by a delete is
// reused by the next add.
type Database struct {
	mu          sync.RWMutex
	accessories map[uint32]Accessory
	config      uint16
}

// NewDatabase creates a database holding only the bridge accessory.
func NewDatabase(bridge Info) *Database {
	db := &Database{
		accessories: make(map[uint32]Accessory),
		config:      1,
	}
	db.accessories[BridgeAID] = Accessory{
		AID:  BridgeAID,
		Info: bridge,
		Services: []Service{{
			Type:   ServiceAccessoryInformation,
			Values: infoValues(bridge),
		}},
	}
	return db
}

// AddAccessory stores a copy of a under the lowest free ID.
func (d *Database) AddAccessory(a Accessory) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for aid := BridgeAID + 1; aid <= maxAID; aid++ {
		if _, used := d.accessories[aid]; used {
			continue
		}
		stored := a.clone()
		stored.AID = aid
		d.accessories[aid] = stored
		return aid, nil
	}
	return 0, ErrDatabaseFull
}

// DeleteAccessory removes the accessory with ID aid.
func (d *Database) DeleteAccessory(aid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if aid == BridgeAID {
		return fmt.Errorf("%w: bridge accessory cannot be deleted", ErrRuntime)
	}
	if _, ok := d.accessories[aid]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAccessory, aid)
	}
	delete(d.accessories, aid)
	return nil
}

// UpdateDatabase bumps the configuration number. It wraps from 65535 to 1.
func (d *Database) UpdateDatabase() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config == 65535 {
		d.config = 1
	} else {
		d.config++
	}
	return nil
}

// SetValue updates one characteristic of a stored accessory.
func (d *Database) SetValue(aid uint32, svc ServiceType, ch Characteristic, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.accessories[aid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAccessory, aid)
	}
	s, ok := a.Service(svc)
	if !ok {
		return fmt.Errorf("%w: %d/%s", ErrUnknownCharacteristic, aid, svc)
	}
	if _, ok := s.Values[ch]; !ok {
		return fmt.Errorf("%w: %d/%s/%s", ErrUnknownCharacteristic, aid, svc, ch)
	}
	s.Values[ch] = value
	return nil
}

// AccessoryIDs returns the IDs of all device accessories in ascending order.
func (d *Database) AccessoryIDs() []uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]uint32, 0, len(d.accessories))
	for aid := range d.accessories {
		if aid != BridgeAID {
			ids = append(ids, aid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Accessory returns a copy of the accessory with ID aid.
func (d *Database) Accessory(aid uint32) (Accessory, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accessories[aid]
	if !ok {
		return Accessory{}, false
	}
	return a.clone(), true
}

// Value returns the current value of one characteristic.
func (d *Database) Value(aid uint32, svc ServiceType, ch Characteristic) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accessories[aid]
	if !ok {
		return nil, false
	}
	s, ok := a.Service(svc)
	if !ok {
		return nil, false
	}
	v, ok := s.Values[ch]
	return v, ok
}

// ConfigNumber returns the current configuration number.
func (d *Database) ConfigNumber() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
