package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/lora-bridge/internal/bridge"
	"github.com/nerrad567/lora-bridge/internal/forwarder"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/lora-bridge/internal/persistence"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// loopTimeout bounds how long a handler waits for the engine loop.
const loopTimeout = 5 * time.Second

// HistoryReader returns stored readings of one device.
// *influxdb.Client implements it.
type HistoryReader interface {
	History(ctx context.Context, deviceID string, since time.Time) ([]influxdb.Sample, error)
}

// SettingsWriter persists bridge settings. *persistence.SettingsStore
// implements it.
type SettingsWriter interface {
	Save(ctx context.Context, st persistence.Settings) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Engine  *bridge.Engine
	Version string

	// Settings are the settings loaded at startup; SettingsStore persists
	// credential changes made through the API.
	Settings      persistence.Settings
	SettingsStore SettingsWriter

	// History is optional; history requests fail with 503 without it.
	History HistoryReader

	// ProbeMQTT is optional; it performs one blocking broker connection test.
	ProbeMQTT func(ctx context.Context) error

	// Hub is optional; it serves the live device event stream.
	Hub *Hub

	// Forwarder is optional; its state is reported by GET /bridge.
	Forwarder ForwarderStatus

	// Audit is optional; without it changes are not recorded.
	Audit AuditLog
}

// ForwarderStatus reports the managed packet forwarder.
// *forwarder.Supervisor implements it.
type ForwarderStatus interface {
	Stats() forwarder.Stats
}

// Server is the management HTTP server of the bridge.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	engine    *bridge.Engine
	version   string
	store     SettingsWriter
	history   HistoryReader
	probeMQTT func(ctx context.Context) error
	hub       *Hub
	forwarder ForwarderStatus
	audit     AuditLog

	tokenTTL time.Duration

	mu          sync.RWMutex
	settings    persistence.Settings
	tokenSecret []byte

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	secret, err := newTokenSecret()
	if err != nil {
		return nil, err
	}
	ttl := deps.Config.GetTokenTTL()
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		engine:    deps.Engine,
		version:   deps.Version,
		store:     deps.SettingsStore,
		history:   deps.History,
		probeMQTT: deps.ProbeMQTT,
		hub:       deps.Hub,
		forwarder: deps.Forwarder,
		audit:     deps.Audit,
		settings:  deps.Settings,
		tokenTTL:  ttl,

		tokenSecret: secret,
	}, nil
}

// Handler returns the router. It is used by Start and by tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the listening address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// do runs fn on the engine loop with a bounded wait.
func (s *Server) do(ctx context.Context, fn func(e *bridge.Engine) error) error {
	ctx, cancel := context.WithTimeout(ctx, loopTimeout)
	defer cancel()
	return s.engine.Do(ctx, fn)
}

// writeLoopError maps an error returned by the engine loop itself.
func (s *Server) writeLoopError(w http.ResponseWriter, err error) {
	if errors.Is(err, bridge.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
		writeUnavailable(w, "bridge engine not available")
		return
	}
	s.logger.Error("engine request failed", "error", err)
	writeInternalError(w, "engine request failed")
}

func (s *Server) authSettings() persistence.AuthSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Auth
}
