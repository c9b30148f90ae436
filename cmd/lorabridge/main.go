// LoRa Bridge - radio sensor gateway
//
// This is the main entry point for the LoRa bridge. It receives encrypted
// sensor packets from a LoRa packet forwarder, keeps a bounded registry of
// sensor devices and mirrors them into:
//   - an accessory database for a home-automation controller
//   - Home Assistant MQTT discovery and state topics
//   - InfluxDB telemetry (optional)
//
// A small management API serves the device list, renames, sensor type
// changes, bridge status and an audit trail of those changes. The bridge
// can also run the packet forwarder itself and restart it when the radio
// goes quiet.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/lora-bridge/migrations"

	"github.com/nerrad567/lora-bridge/internal/accessory"
	"github.com/nerrad567/lora-bridge/internal/api"
	"github.com/nerrad567/lora-bridge/internal/audit"
	"github.com/nerrad567/lora-bridge/internal/bridge"
	"github.com/nerrad567/lora-bridge/internal/cipher"
	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/forwarder"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/database"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/lora-bridge/internal/persistence"
	"github.com/nerrad567/lora-bridge/internal/projection"
	"github.com/nerrad567/lora-bridge/internal/radio"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable holding the config file path.
const configEnv = "LORABRIDGE_CONFIG"

// Status payloads of the bridge status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// auditRetention is how long audit entries are kept.
const auditRetention = 90 * 24 * time.Hour

// errVersionRequested stops run after printing the version.
var errVersionRequested = errors.New("version requested")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errVersionRequested) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line options.
type options struct {
	configPath string
	explicit   bool
}

// parseFlags reads the command line. The config path comes from --config,
// then LORABRIDGE_CONFIG, then the default path.
func parseFlags(args []string) (options, error) {
	flags := pflag.NewFlagSet("lorabridge", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML configuration file (env "+configEnv+")")
	showVersion := flags.Bool("version", false, "print version information and exit")

	if err := flags.Parse(args); err != nil {
		return options{}, fmt.Errorf("parsing flags: %w", err)
	}
	if *showVersion {
		fmt.Printf("lorabridge %s (commit %s, built %s)\n", version, commit, date)
		return options{}, errVersionRequested
	}

	switch {
	case *configPath != "":
		return options{configPath: *configPath, explicit: true}, nil
	case os.Getenv(configEnv) != "":
		return options{configPath: os.Getenv(configEnv), explicit: true}, nil
	default:
		return options{configPath: defaultConfigPath}, nil
	}
}

// loadConfig reads the config file. A missing file at the default path
// falls back to the built-in defaults; an explicitly named file must exist.
func loadConfig(opts options) (*config.Config, bool, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, true, nil
	}
	if !opts.explicit && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default()
		if err != nil {
			return nil, false, err
		}
		return cfg, false, nil
	}
	return nil, false, err
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, args []string) error { //nolint:gocognit,gocyclo // linear startup wiring
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	log := logging.Default()
	log.Info("starting LoRa bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, fromFile, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if fromFile {
		log.Info("configuration loaded", "path", opts.configPath)
	} else {
		log.Warn("config file not found, using defaults", "path", opts.configPath)
	}

	log = logging.New(cfg.Logging, version)

	gatewayID := cfg.Bridge.GatewayID
	if gatewayID == "" {
		gatewayID = hardwareGatewayID()
	}
	log.Info("gateway identified", "gateway_id", gatewayID)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Settings: stored values override the config file.
	prefs := persistence.NewPreferences(db, persistence.Namespace)
	settingsStore := persistence.NewSettingsStore(prefs)
	defaults, err := settingsDefaults(cfg)
	if err != nil {
		return err
	}
	settings, err := settingsStore.Load(ctx, defaults)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	setupURI, _ := persistence.SetupURI(settings.SetupCode) //nolint:errcheck // Load guarantees a valid code
	log.Info("accessory pairing",
		"setup_code", settings.SetupDisplay(),
		"setup_uri", setupURI,
	)

	auditLog := audit.NewSQLiteRepository(db.DB)
	if pruned, pruneErr := auditLog.Prune(ctx, time.Now().Add(-auditRetention)); pruneErr != nil {
		log.Warn("pruning audit log failed", "error", pruneErr)
	} else if pruned > 0 {
		log.Info("audit log pruned", "removed", pruned)
	}

	policy, err := cipher.ParsePolicy(cfg.Cipher.PartialBlock)
	if err != nil {
		return fmt.Errorf("cipher policy: %w", err)
	}
	gate, err := cipher.NewGate(settings.CipherMode, settings.CipherKey, policy)
	if err != nil {
		return fmt.Errorf("creating cipher gate: %w", err)
	}
	log.Info("cipher gate ready", "mode", gate.Mode().String(), "partial_block", string(policy))

	// Device registry and its sinks
	registry := device.NewRegistry(cfg.Bridge.Capacity)
	registry.SetLogger(log.Component("registry"))

	deviceStore := persistence.NewDeviceStore(prefs)
	persistSink := persistence.NewSink(deviceStore, registry)
	persistSink.SetLogger(log.Component("persistence"))

	accessoryDB := accessory.NewDatabase(accessory.Info{
		Name:             cfg.Bridge.Name,
		Manufacturer:     accessory.BridgeInfo.Manufacturer,
		Model:            accessory.BridgeInfo.Model,
		SerialNumber:     gatewayID,
		FirmwareRevision: version,
	})
	accessories := accessory.NewManager(accessoryDB, registry)
	accessories.SetLogger(log.Component("accessory"))

	hub := api.NewHub(cfg.API.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	deps := bridge.Deps{
		Registry:    registry,
		Gate:        gate,
		Store:       deviceStore,
		Persist:     persistSink,
		Accessories: accessories,
		Sinks:       []device.Sink{hub},
	}

	// Radio frame source
	receiver, err := radio.ListenUDP(ctx, cfg.Radio.Listen, cfg.Radio.QueueSize, log.Component("radio"))
	if err != nil {
		return fmt.Errorf("starting radio listener: %w", err)
	}
	defer func() {
		if closeErr := receiver.Close(); closeErr != nil {
			log.Error("error closing radio listener", "error", closeErr)
		}
	}()
	deps.Receiver = receiver
	log.Info("radio listener started", "address", receiver.Addr().String())

	// Packet forwarder (optional child process)
	var supervisor *forwarder.Supervisor
	if fwd := cfg.Radio.Forwarder; fwd.Managed {
		supervisor, err = forwarder.New(forwarder.Config{
			Binary:             fwd.Binary,
			Args:               fwd.Args,
			Listen:             receiver.Addr().String(),
			Radio:              settings.Radio,
			RestartDelay:       cfg.GetForwarderRestartDelay(),
			MaxRestartAttempts: fwd.MaxRestartAttempts,
			SilenceTimeout:     cfg.GetForwarderSilenceTimeout(),
		}, receiver)
		if err != nil {
			return fmt.Errorf("configuring packet forwarder: %w", err)
		}
		supervisor.SetLogger(log.Component("forwarder"))
		if startErr := supervisor.Start(ctx); startErr != nil {
			return fmt.Errorf("starting packet forwarder: %w", startErr)
		}
		defer func() {
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping packet forwarder", "error", stopErr)
			}
		}()
	}

	// MQTT (optional). Connection attempts are made by the engine loop.
	mqttCfg := applyMQTTSettings(cfg.MQTT, settings.MQTT)
	topics := mqtt.Topics{Prefix: mqttCfg.TopicPrefix, Gateway: gatewayID}
	var mqttClient *mqtt.Client
	if mqttCfg.Enabled {
		mqttCfg.Broker.ClientID = cfg.MQTT.Broker.ClientID + "-" + gatewayID
		qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated 0..2

		mqttClient = mqtt.New(mqttCfg, &mqtt.Will{
			Topic:    topics.BridgeStatus(),
			Payload:  statusOffline,
			QoS:      qos,
			Retained: true,
		}, statusOffline, cfg.GetReconnectInterval())
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		proj := projection.New(mqttClient, projection.Options{
			Topics:              topics,
			QoS:                 qos,
			BridgeName:          cfg.Bridge.Name,
			Version:             version,
			DiagnosticsInterval: cfg.GetDiagnosticsInterval(),
		})
		proj.SetLogger(log.Component("projection"))

		deps.Transport = mqttClient
		deps.Projection = proj
		log.Info("MQTT enabled",
			"broker", fmt.Sprintf("%s:%d", mqttCfg.Broker.Host, mqttCfg.Broker.Port),
			"client_id", mqttCfg.Broker.ClientID,
			"prefix", topics.Prefix,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		deps.Telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	engine := bridge.New(deps, bridge.Options{
		GatewayID:     gatewayID,
		Version:       version,
		Secret:        settings.GatewayKey,
		Radio:         settings.Radio,
		PollInterval:  cfg.GetPollInterval(),
		FramesPerPass: cfg.Bridge.FramesPerPass,
	})
	engine.SetLogger(log.Component("engine"))

	if mqttClient != nil {
		if subErr := mqttClient.Subscribe(topics.HomeAssistantStatus(), mqttClient.QoS(), engine.HandleHomeAssistantStatus); subErr != nil {
			return fmt.Errorf("subscribing to Home Assistant status: %w", subErr)
		}
	}

	if err := engine.Startup(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	log.Info("device registry restored", "devices", registry.Stats().Active)

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Management API
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:        cfg.API,
			Logger:        log.Component("api"),
			Engine:        engine,
			Version:       version,
			Settings:      settings,
			SettingsStore: settingsStore,
			Hub:           hub,
			Audit:         auditLog,
		}
		if supervisor != nil {
			apiDeps.Forwarder = supervisor
		}
		if influxClient != nil {
			apiDeps.History = influxClient
		}
		if mqttCfg.Enabled {
			probeCfg := mqttCfg
			probeCfg.Broker.ClientID = cfg.MQTT.Broker.ClientID
			apiDeps.ProbeMQTT = func(ctx context.Context) error {
				return mqtt.Probe(ctx, probeCfg)
			}
		}

		server, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("management API disabled")
	}

	log.Info("initialisation complete, running engine loop")

	// Run blocks until the shutdown signal. Deferred Close calls then run
	// in reverse order: API, InfluxDB, MQTT (publishing offline), the
	// packet forwarder, radio, database.
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("engine loop: %w", err)
	}

	log.Info("LoRa bridge stopped")
	return nil
}

// settingsDefaults builds first-boot settings from the configuration.
func settingsDefaults(cfg *config.Config) (persistence.Settings, error) {
	mode, err := cipher.ParseMode(cfg.Cipher.Mode)
	if err != nil {
		return persistence.Settings{}, fmt.Errorf("cipher mode: %w", err)
	}
	key, err := cfg.CipherKey()
	if err != nil {
		return persistence.Settings{}, fmt.Errorf("cipher key: %w", err)
	}
	return persistence.Settings{
		Radio: persistence.RadioSettings{
			FrequencyMHz:    cfg.Radio.FrequencyMHz,
			SpreadingFactor: uint8(cfg.Radio.SpreadingFactor), //nolint:gosec // validated 6..12
			BandwidthHz:     cfg.Radio.BandwidthHz,
			CodingRate:      uint8(cfg.Radio.CodingRate), //nolint:gosec // validated 5..8
			Preamble:        cfg.Radio.Preamble,
			SyncWord:        uint8(cfg.Radio.SyncWord), //nolint:gosec // single byte
		},
		CipherMode: mode,
		CipherKey:  key,
		GatewayKey: cfg.GatewayKey,
		Auth: persistence.AuthSettings{
			Enabled:      cfg.API.Auth.Enabled,
			Username:     cfg.API.Auth.Username,
			PasswordHash: cfg.API.Auth.PasswordHash,
		},
		MQTT: persistence.MQTTSettings{
			Enabled:     cfg.MQTT.Enabled,
			Host:        cfg.MQTT.Broker.Host,
			Port:        cfg.MQTT.Broker.Port,
			Username:    cfg.MQTT.Auth.Username,
			Password:    cfg.MQTT.Auth.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		},
	}, nil
}

// applyMQTTSettings overlays the stored broker parameters on the configured
// ones. TLS, client id, QoS and intervals come from the config file only.
func applyMQTTSettings(base config.MQTTConfig, st persistence.MQTTSettings) config.MQTTConfig {
	base.Enabled = st.Enabled
	base.Broker.Host = st.Host
	base.Broker.Port = st.Port
	base.Auth.Username = st.Username
	base.Auth.Password = st.Password
	base.TopicPrefix = st.TopicPrefix
	return base
}

// hardwareGatewayID returns the first non-loopback hardware address as
// lower-case hex without separators, or "lorabridge" when none exists.
func hardwareGatewayID() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return logging.ServiceName
	}
	return gatewayIDFrom(ifaces)
}

func gatewayIDFrom(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")
	}
	return logging.ServiceName
}

// healthCheck verifies the infrastructure connections.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
