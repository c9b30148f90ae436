package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/nerrad567/lora-bridge/internal/device"
)

// Payload keys.
const (
	KeySecret      = "k"
	KeyID          = "id"
	KeyTemperature = "t"
	KeyHumidity    = "hu"
	KeyBattery     = "b"
	KeyLight       = "l"
	KeyLux         = "lux"
	KeyMotion      = "m"
	KeyContact     = "c"
)

// Packet is a validated payload.
type Packet struct {
	DeviceID string
	Message  device.Message
}

// Parse validates buf against secret and decodes it.
//
// Trailing NUL bytes and whitespace (block cipher padding) are ignored.
// Returns an error wrapping ErrParse, ErrAuth or ErrMissingField.
func Parse(buf []byte, secret string) (Packet, error) {
	text := bytes.TrimRight(buf, "\x00 \t\r\n")

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if fields == nil {
		return Packet{}, fmt.Errorf("%w: payload is not an object", ErrParse)
	}
	if dec.More() {
		return Packet{}, fmt.Errorf("%w: trailing data after object", ErrParse)
	}

	msg, err := decodeMessage(fields)
	if err != nil {
		return Packet{}, err
	}

	key, ok := stringField(fields, KeySecret)
	if !ok || key != secret {
		return Packet{}, ErrAuth
	}

	id, ok := stringField(fields, KeyID)
	if !ok || id == "" {
		return Packet{}, fmt.Errorf("%w: %s", ErrMissingField, KeyID)
	}

	delete(fields, KeySecret)
	raw, err := json.Marshal(fields)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	msg.Raw = string(raw)

	return Packet{DeviceID: id, Message: msg}, nil
}

func decodeMessage(fields map[string]json.RawMessage) (device.Message, error) {
	var msg device.Message
	var err error

	if msg.Temperature, err = floatField(fields, KeyTemperature); err != nil {
		return msg, err
	}
	if msg.Humidity, err = floatField(fields, KeyHumidity); err != nil {
		return msg, err
	}
	if msg.Battery, err = intField(fields, KeyBattery); err != nil {
		return msg, err
	}
	if msg.Lux, err = intField(fields, KeyLight); err != nil {
		return msg, err
	}
	if msg.Lux == nil {
		if msg.Lux, err = intField(fields, KeyLux); err != nil {
			return msg, err
		}
	}
	if msg.Motion, err = switchField(fields, KeyMotion); err != nil {
		return msg, err
	}
	if msg.Contact, err = switchField(fields, KeyContact); err != nil {
		return msg, err
	}
	return msg, nil
}

// present returns the raw value of key, treating JSON null as absent.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := present(fields, key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func numberField(fields map[string]json.RawMessage, key string) (float64, bool, error) {
	raw, ok := present(fields, key)
	if !ok {
		return 0, false, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false, fmt.Errorf("%w: field %q is not a number", ErrParse, key)
	}
	v, err := n.Float64()
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false, fmt.Errorf("%w: field %q out of range", ErrParse, key)
	}
	return v, true, nil
}

func floatField(fields map[string]json.RawMessage, key string) (*float64, error) {
	v, ok, err := numberField(fields, key)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// intField truncates fractional values toward zero.
func intField(fields map[string]json.RawMessage, key string) (*int, error) {
	v, ok, err := numberField(fields, key)
	if err != nil || !ok {
		return nil, err
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return nil, fmt.Errorf("%w: field %q out of range", ErrParse, key)
	}
	i := int(v)
	return &i, nil
}

// switchField accepts a boolean, the strings "on", "1" and "true", or the
// number 1. Any other string or number is off.
func switchField(fields map[string]json.RawMessage, key string) (*bool, error) {
	raw, ok := present(fields, key)
	if !ok {
		return nil, nil
	}

	var on bool
	switch raw[0] {
	case 't', 'f':
		if err := json.Unmarshal(raw, &on); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrParse, key, err)
		}
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrParse, key, err)
		}
		on = s == "on" || s == "1" || s == "true"
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: field %q has unsupported type", ErrParse, key)
		}
		v, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrParse, key, err)
		}
		on = v == 1
	}
	return &on, nil
}
