package persistence

import (
	"context"
	"fmt"

	"github.com/nerrad567/lora-bridge/internal/device"
)

// Namespace is the preference namespace holding the device snapshot and
// bridge settings.
const Namespace = "lora_hk"

// SchemaVersion is written alongside every snapshot.
const SchemaVersion = 1

const (
	keyDeviceCount   = "dev_count"
	keySchemaVersion = "schema_version"
)

// deviceKey returns the key of one field of the device stored at index i,
// e.g. dev3_name.
func deviceKey(i int, field string) string {
	return fmt.Sprintf("dev%d_%s", i, field)
}

var deviceFields = []string{"id", "name", "temp", "hum", "batt", "light", "motion", "contact", "ctype", "mtype"}

// LoadReport describes what a snapshot load skipped.
type LoadReport struct {
	Stored  int
	Loaded  int
	Corrupt int
}

// DeviceStore saves and restores the active device set.
type DeviceStore struct {
	prefs *Preferences
}

// NewDeviceStore creates a store on prefs.
func NewDeviceStore(prefs *Preferences) *DeviceStore {
	return &DeviceStore{prefs: prefs}
}

// Save replaces the stored snapshot with the active records, re-indexed
// from zero. Inactive records are not written. Keys of the previous snapshot
// are removed first so no stale index survives a shrink.
func (s *DeviceStore) Save(ctx context.Context, records []device.Record) error {
	current, err := s.prefs.Load(ctx)
	if err != nil {
		return fmt.Errorf("reading previous snapshot: %w", err)
	}
	oldCount := current.Int(keyDeviceCount, 0)

	return s.prefs.Update(ctx, func(w *Writer) error {
		for i := 0; i < oldCount; i++ {
			for _, f := range deviceFields {
				if err := w.Remove(deviceKey(i, f)); err != nil {
					return err
				}
			}
		}

		n := 0
		for i := range records {
			rec := &records[i]
			if !rec.Active {
				continue
			}
			if err := writeDevice(w, n, rec.Snapshot()); err != nil {
				return err
			}
			n++
		}

		if err := w.PutInt(keyDeviceCount, n); err != nil {
			return err
		}
		return w.PutInt(keySchemaVersion, SchemaVersion)
	})
}

func writeDevice(w *Writer, i int, s device.Snapshot) error {
	puts := []error{
		w.PutString(deviceKey(i, "id"), s.ID),
		w.PutString(deviceKey(i, "name"), s.Name),
		w.PutBool(deviceKey(i, "temp"), s.Caps.Temperature),
		w.PutBool(deviceKey(i, "hum"), s.Caps.Humidity),
		w.PutBool(deviceKey(i, "batt"), s.Caps.Battery),
		w.PutBool(deviceKey(i, "light"), s.Caps.Light),
		w.PutBool(deviceKey(i, "motion"), s.Caps.Motion),
		w.PutBool(deviceKey(i, "contact"), s.Caps.Contact),
		w.PutUint8(deviceKey(i, "ctype"), uint8(s.ContactType)),
		w.PutUint8(deviceKey(i, "mtype"), uint8(s.MotionType)),
	}
	for _, err := range puts {
		if err != nil {
			return err
		}
	}
	return nil
}

// Load reads the stored snapshot. At most capacity indices are read; entries
// with an empty identifier are skipped and counted as corrupt. Unknown
// sensor variants fall back to the default variant.
func (s *DeviceStore) Load(ctx context.Context, capacity int) ([]device.Snapshot, LoadReport, error) {
	values, err := s.prefs.Load(ctx)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("reading snapshot: %w", err)
	}

	report := LoadReport{Stored: values.Int(keyDeviceCount, 0)}
	out := make([]device.Snapshot, 0, min(report.Stored, capacity))

	for i := 0; i < report.Stored && i < capacity; i++ {
		id := values.String(deviceKey(i, "id"), "")
		if id == "" {
			report.Corrupt++
			continue
		}
		out = append(out, device.Snapshot{
			ID:   id,
			Name: values.String(deviceKey(i, "name"), id),
			Caps: device.Capabilities{
				Temperature: values.Bool(deviceKey(i, "temp"), false),
				Humidity:    values.Bool(deviceKey(i, "hum"), false),
				Battery:     values.Bool(deviceKey(i, "batt"), false),
				Light:       values.Bool(deviceKey(i, "light"), false),
				Motion:      values.Bool(deviceKey(i, "motion"), false),
				Contact:     values.Bool(deviceKey(i, "contact"), false),
			},
			ContactType: device.ContactTypeFromByte(values.Uint8(deviceKey(i, "ctype"), 0)),
			MotionType:  device.MotionTypeFromByte(values.Uint8(deviceKey(i, "mtype"), 0)),
		})
	}
	report.Loaded = len(out)
	return out, report, nil
}
