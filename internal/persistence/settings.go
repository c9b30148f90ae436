package persistence

import (
	"context"
	"fmt"

	"github.com/nerrad567/lora-bridge/internal/cipher"
)

// Settings are the bridge parameters editable from the UI. Stored values
// override the configuration file once written.
type Settings struct {
	Radio      RadioSettings
	CipherMode cipher.Mode
	CipherKey  []byte
	GatewayKey string
	Auth       AuthSettings
	MQTT       MQTTSettings

	// SetupCode is the 8-digit accessory pairing code.
	SetupCode string
}

// RadioSettings are forwarded to the packet forwarder and shown in diagnostics.
type RadioSettings struct {
	FrequencyMHz    float64
	SpreadingFactor uint8
	BandwidthHz     int
	CodingRate      uint8
	Preamble        int
	SyncWord        uint8
}

// AuthSettings protect the management API.
type AuthSettings struct {
	Enabled      bool
	Username     string
	PasswordHash string
}

// MQTTSettings are the message-bus connection parameters.
type MQTTSettings struct {
	Enabled     bool
	Host        string
	Port        int
	Username    string
	Password    string
	TopicPrefix string
}

// SetupDisplay returns the setup code as XXXX-XXXX.
func (s Settings) SetupDisplay() string { return FormatSetupCode(s.SetupCode) }

const (
	keyFrequency  = "lora_freq"
	keySF         = "lora_sf"
	keyBandwidth  = "lora_bw"
	keyCodingRate = "lora_cr"
	keyPreamble   = "lora_pre"
	keySyncWord   = "lora_sync"
	keyGatewayKey = "gw_key"
	keyCipherMode = "enc_mode"
	keyCipherLen  = "enc_len"
	keyCipherKey  = "enc_key"
	keyAuthEnable = "auth_en"
	keyAuthUser   = "auth_user"
	keyAuthHash   = "auth_hash"
	keySetupCode  = "hk_code"
	keyMQTTEnable = "mqtt_en"
	keyMQTTHost   = "mqtt_host"
	keyMQTTPort   = "mqtt_port"
	keyMQTTUser   = "mqtt_user"
	keyMQTTPass   = "mqtt_pass"
	keyMQTTPrefix = "mqtt_prefix"
)

// SettingsStore reads and writes Settings.
type SettingsStore struct {
	prefs *Preferences

	// generate produces a new setup code. Replaced in tests.
	generate func() (string, error)
}

// NewSettingsStore creates a store on prefs.
func NewSettingsStore(prefs *Preferences) *SettingsStore {
	return &SettingsStore{prefs: prefs, generate: GenerateSetupCode}
}

// Load returns the stored settings, taking any absent value from defaults.
// When no valid setup code is stored, a new one is generated and persisted
// before Load returns, so the code shown to the user never changes across
// restarts.
func (s *SettingsStore) Load(ctx context.Context, defaults Settings) (Settings, error) {
	v, err := s.prefs.Load(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}

	out := Settings{
		Radio: RadioSettings{
			FrequencyMHz:    v.Float(keyFrequency, defaults.Radio.FrequencyMHz),
			SpreadingFactor: v.Uint8(keySF, defaults.Radio.SpreadingFactor),
			BandwidthHz:     v.Int(keyBandwidth, defaults.Radio.BandwidthHz),
			CodingRate:      v.Uint8(keyCodingRate, defaults.Radio.CodingRate),
			Preamble:        v.Int(keyPreamble, defaults.Radio.Preamble),
			SyncWord:        v.Uint8(keySyncWord, defaults.Radio.SyncWord),
		},
		CipherMode: cipher.ModeFromByte(v.Uint8(keyCipherMode, uint8(defaults.CipherMode))),
		CipherKey:  defaults.CipherKey,
		GatewayKey: v.String(keyGatewayKey, defaults.GatewayKey),
		Auth: AuthSettings{
			Enabled:      v.Bool(keyAuthEnable, defaults.Auth.Enabled),
			Username:     v.String(keyAuthUser, defaults.Auth.Username),
			PasswordHash: v.String(keyAuthHash, defaults.Auth.PasswordHash),
		},
		MQTT: MQTTSettings{
			Enabled:     v.Bool(keyMQTTEnable, defaults.MQTT.Enabled),
			Host:        v.String(keyMQTTHost, defaults.MQTT.Host),
			Port:        v.Int(keyMQTTPort, defaults.MQTT.Port),
			Username:    v.String(keyMQTTUser, defaults.MQTT.Username),
			Password:    v.String(keyMQTTPass, defaults.MQTT.Password),
			TopicPrefix: v.String(keyMQTTPrefix, defaults.MQTT.TopicPrefix),
		},
		SetupCode: v.String(keySetupCode, ""),
	}

	// enc_len is authoritative for the stored key length.
	if v.Has(keyCipherKey) {
		key := v.Bytes(keyCipherKey, nil)
		n := v.Int(keyCipherLen, len(key))
		if n >= 0 && n <= len(key) && n <= cipher.MaxKeyLength {
			out.CipherKey = key[:n]
		}
	}

	if !ValidSetupCode(out.SetupCode) {
		code, err := s.generate()
		if err != nil {
			return Settings{}, err
		}
		if err := s.prefs.Update(ctx, func(w *Writer) error {
			return w.PutString(keySetupCode, code)
		}); err != nil {
			return Settings{}, fmt.Errorf("storing setup code: %w", err)
		}
		out.SetupCode = code
	}

	return out, nil
}

// Save writes every setting.
func (s *SettingsStore) Save(ctx context.Context, st Settings) error {
	if len(st.CipherKey) > cipher.MaxKeyLength {
		return fmt.Errorf("%w: %d bytes", cipher.ErrKeyTooLong, len(st.CipherKey))
	}
	if !ValidSetupCode(st.SetupCode) {
		return fmt.Errorf("%w: %q", ErrInvalidSetupCode, st.SetupCode)
	}

	return s.prefs.Update(ctx, func(w *Writer) error {
		puts := []error{
			w.PutFloat(keyFrequency, st.Radio.FrequencyMHz),
			w.PutUint8(keySF, st.Radio.SpreadingFactor),
			w.PutInt(keyBandwidth, st.Radio.BandwidthHz),
			w.PutUint8(keyCodingRate, st.Radio.CodingRate),
			w.PutInt(keyPreamble, st.Radio.Preamble),
			w.PutUint8(keySyncWord, st.Radio.SyncWord),
			w.PutString(keyGatewayKey, st.GatewayKey),
			w.PutUint8(keyCipherMode, uint8(st.CipherMode)),
			w.PutInt(keyCipherLen, len(st.CipherKey)),
			w.PutBytes(keyCipherKey, st.CipherKey),
			w.PutBool(keyAuthEnable, st.Auth.Enabled),
			w.PutString(keyAuthUser, st.Auth.Username),
			w.PutString(keyAuthHash, st.Auth.PasswordHash),
			w.PutBool(keyMQTTEnable, st.MQTT.Enabled),
			w.PutString(keyMQTTHost, st.MQTT.Host),
			w.PutInt(keyMQTTPort, st.MQTT.Port),
			w.PutString(keyMQTTUser, st.MQTT.Username),
			w.PutString(keyMQTTPass, st.MQTT.Password),
			w.PutString(keyMQTTPrefix, st.MQTT.TopicPrefix),
			w.PutString(keySetupCode, st.SetupCode),
		}
		for _, err := range puts {
			if err != nil {
				return err
			}
		}
		return nil
	})
}
