package bridge

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/nerrad567/lora-bridge/internal/cipher"
	"github.com/nerrad567/lora-bridge/internal/device"
)

func TestInjectTestDevice(t *testing.T) {
	tests := []struct {
		kind     string
		wantCaps device.Capabilities
	}{
		{kind: TestTemperature, wantCaps: device.Capabilities{Temperature: true, Battery: true}},
		{kind: TestHumidity, wantCaps: device.Capabilities{Humidity: true, Battery: true}},
		{kind: TestTempHum, wantCaps: device.Capabilities{Temperature: true, Humidity: true, Battery: true}},
		{kind: TestMotion, wantCaps: device.Capabilities{Motion: true, Battery: true}},
		{kind: TestContact, wantCaps: device.Capabilities{Contact: true, Battery: true}},
		{kind: TestLight, wantCaps: device.Capabilities{Light: true, Battery: true}},
		{kind: TestFull, wantCaps: device.Capabilities{Temperature: true, Humidity: true, Light: true, Battery: true}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			h := newHarness(t, 4, cipher.ModeNone)
			h.engine.random = func(int) int { return 0 }

			ids, err := h.engine.InjectTestDevice(tt.kind)
			if err != nil {
				t.Fatalf("InjectTestDevice() error = %v", err)
			}
			want := "Test_" + tt.kind + "_1"
			if !slices.Equal(ids, []string{want}) {
				t.Fatalf("ids = %v, want [%s]", ids, want)
			}

			rec := h.engine.FindDevice(want)
			if rec == nil {
				t.Fatalf("FindDevice(%s) = nil", want)
			}
			if rec.Caps != tt.wantCaps {
				t.Errorf("Caps = %+v, want %+v", rec.Caps, tt.wantCaps)
			}
			if rec.RSSI != testRSSI {
				t.Errorf("RSSI = %d, want %d", rec.RSSI, testRSSI)
			}
			if rec.AccessoryID == 0 {
				t.Error("test device not bound to an accessory")
			}

			activity := h.registry.Activity()
			if len(activity) != 1 || !strings.Contains(activity[0].Message, `"id":"`+want+`"`) {
				t.Errorf("activity = %+v", activity)
			}
		})
	}
}

func TestInjectTestDeviceUpdate(t *testing.T) {
	h := newHarness(t, 4, cipher.ModeNone)
	e := h.engine
	e.random = func(int) int { return 0 }

	if _, err := e.InjectTestDevice(TestMotion); err != nil {
		t.Fatalf("InjectTestDevice(motion) error = %v", err)
	}
	if _, err := e.InjectTestDevice(TestTemperature); err != nil {
		t.Fatalf("InjectTestDevice(temp) error = %v", err)
	}
	e.RegisterDevice("real", device.Message{Temperature: ptr(18.0)})

	ids, err := e.InjectTestDevice(TestUpdate)
	if err != nil {
		t.Fatalf("InjectTestDevice(update) error = %v", err)
	}
	want := []string{"Test_motion_1", "Test_temp_2"}
	if !slices.Equal(ids, want) {
		t.Errorf("updated = %v, want %v", ids, want)
	}

	if e.FindDevice("Test_motion_1").Readings.Motion {
		t.Error("motion not toggled by update")
	}
	if got := e.FindDevice("Test_temp_2").Readings.Temperature; got != 20.0 {
		t.Errorf("Temperature = %v, want 20", got)
	}
	if got := e.FindDevice("Test_temp_2").Readings.Battery; got != 85 {
		t.Errorf("Battery = %d, want 85 kept", got)
	}
}

func TestInjectUnknownTestDevice(t *testing.T) {
	h := newHarness(t, 4, cipher.ModeNone)

	_, err := h.engine.InjectTestDevice("toaster")
	if !errors.Is(err, ErrUnknownTestDevice) {
		t.Errorf("error = %v, want ErrUnknownTestDevice", err)
	}
	if n := h.registry.Stats().Used; n != 0 {
		t.Errorf("registry used = %d, want 0", n)
	}
}

func TestInjectTestDeviceRegistryFull(t *testing.T) {
	h := newHarness(t, 1, cipher.ModeNone)

	if _, err := h.engine.InjectTestDevice(TestLight); err != nil {
		t.Fatalf("first inject error = %v", err)
	}
	_, err := h.engine.InjectTestDevice(TestLight)
	if !errors.Is(err, ErrCapacityRejected) {
		t.Errorf("error = %v, want ErrCapacityRejected", err)
	}
}
