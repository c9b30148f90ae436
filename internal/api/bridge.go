package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/lora-bridge/internal/audit"
	"github.com/nerrad567/lora-bridge/internal/bridge"
	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/forwarder"
	"github.com/nerrad567/lora-bridge/internal/persistence"
)

// probeTimeout bounds one broker connection test.
const probeTimeout = 10 * time.Second

// minPasswordLength is the shortest accepted UI password.
const minPasswordLength = 8

// handleActivity returns the recent activity log, most recent first.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var entries []device.ActivityEntry
	err := s.do(r.Context(), func(e *bridge.Engine) error {
		entries = e.Registry().Activity()
		return nil
	})
	if err != nil {
		s.writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// bridgeResponse is the body of GET /bridge.
type bridgeResponse struct {
	bridge.Status
	SetupCode string `json:"setup_code"`
	SetupURI  string `json:"setup_uri,omitempty"`

	Forwarder *forwarder.Stats `json:"forwarder,omitempty"`
}

// handleBridge returns counters, registry usage and the pairing code.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	var st bridge.Status
	err := s.do(r.Context(), func(e *bridge.Engine) error {
		st = e.Status(time.Now())
		return nil
	})
	if err != nil {
		s.writeLoopError(w, err)
		return
	}

	s.mu.RLock()
	settings := s.settings
	s.mu.RUnlock()

	resp := bridgeResponse{Status: st, SetupCode: settings.SetupDisplay()}
	if uri, err := persistence.SetupURI(settings.SetupCode); err == nil {
		resp.SetupURI = uri
	}
	if s.forwarder != nil {
		fs := s.forwarder.Stats()
		resp.Forwarder = &fs
	}
	writeJSON(w, http.StatusOK, resp)
}

// testDeviceRequest is the body of POST /test-devices.
type testDeviceRequest struct {
	Type string `json:"type"`
}

// handleTestDevice creates a simulated device, or refreshes all simulated
// devices for type "update".
func (s *Server) handleTestDevice(w http.ResponseWriter, r *http.Request) {
	var req testDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var ids []string
	err := s.do(r.Context(), func(e *bridge.Engine) error {
		var opErr error
		ids, opErr = e.InjectTestDevice(strings.ToLower(strings.TrimSpace(req.Type)))
		return opErr
	})
	switch {
	case errors.Is(err, bridge.ErrUnknownTestDevice):
		writeBadRequest(w, "type must be one of "+strings.Join(bridge.TestDeviceTypes, ", "))
	case errors.Is(err, bridge.ErrCapacityRejected):
		writeConflict(w, "device registry is full")
	case err != nil:
		s.writeLoopError(w, err)
	default:
		if ids == nil {
			ids = []string{}
		}
		s.recordAudit(r, audit.ActionTestDevice, "", map[string]any{"type": req.Type, "devices": ids})
		writeJSON(w, http.StatusCreated, map[string]any{"devices": ids, "count": len(ids)})
	}
}

// handleMQTTTest performs one blocking connection attempt against the
// configured broker. It does not touch the bridge's own connection.
func (s *Server) handleMQTTTest(w http.ResponseWriter, r *http.Request) {
	if s.probeMQTT == nil {
		writeUnavailable(w, "mqtt is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if err := s.probeMQTT(ctx); err != nil {
		s.logger.Info("mqtt connection test failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// credentialsRequest is the body of PUT /auth.
type credentialsRequest struct {
	Enabled  bool   `json:"enabled"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleSetCredentials replaces the UI credential. The password is stored
// only as an Argon2id hash. Tokens issued for the old credential stop
// working.
func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeUnavailable(w, "settings storage is not configured")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	auth := persistence.AuthSettings{Enabled: req.Enabled}
	if req.Enabled {
		if req.Username == "" {
			writeBadRequest(w, "username is required")
			return
		}
		if len(req.Password) < minPasswordLength {
			writeBadRequest(w, "password must be at least 8 characters")
			return
		}
		hash, err := persistence.HashPassword(req.Password)
		if err != nil {
			s.logger.Error("hashing password failed", "error", err)
			writeInternalError(w, "failed to store credentials")
			return
		}
		auth.Username = req.Username
		auth.PasswordHash = hash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	next.Auth = auth
	if err := s.store.Save(r.Context(), next); err != nil {
		s.logger.Error("saving settings failed", "error", err)
		writeInternalError(w, "failed to store credentials")
		return
	}
	s.settings = next
	if secret, err := newTokenSecret(); err == nil {
		s.tokenSecret = secret
	} else {
		s.logger.Error("rotating token secret failed", "error", err)
	}
	s.recordAudit(r, audit.ActionCredentials, "", map[string]any{"enabled": auth.Enabled, "username": auth.Username})

	s.logger.Info("UI credentials updated", "enabled", auth.Enabled, "username", auth.Username)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": auth.Enabled, "username": auth.Username})
}
