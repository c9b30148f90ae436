package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lora-bridge/internal/audit"
	"github.com/nerrad567/lora-bridge/internal/bridge"
	"github.com/nerrad567/lora-bridge/internal/device"
)

// defaultHistoryWindow is used when a history request has no since parameter.
const defaultHistoryWindow = 24 * time.Hour

// maxHistoryWindow caps the since parameter of history requests.
const maxHistoryWindow = 30 * 24 * time.Hour

// handleListDevices returns all active devices in registry order.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []device.Record
	err := s.do(r.Context(), func(e *bridge.Engine) error {
		devices = e.Registry().Active()
		return nil
	})
	if err != nil {
		s.writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rec device.Record
	var found bool
	err := s.do(r.Context(), func(e *bridge.Engine) error {
		if p := e.FindDevice(id); p != nil {
			rec, found = *p, true
		}
		return nil
	})
	if err != nil {
		s.writeLoopError(w, err)
		return
	}
	if !found {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// renameRequest is the body of PATCH /devices/{id}.
type renameRequest struct {
	Name string `json:"name"`
}

// handleRenameDevice changes the display name of a device. The device's
// accessory is recreated so paired controllers show the new name.
func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" || len(req.Name) > device.MaxNameLength {
		writeBadRequest(w, "name must be 1 to 31 bytes")
		return
	}

	var rec device.Record
	err := s.do(r.Context(), func(e *bridge.Engine) error {
		if e.FindDevice(id) == nil {
			return device.ErrNotFound
		}
		if !e.RenameDevice(id, req.Name) {
			return bridge.ErrBusy
		}
		rec = *e.FindDevice(id)
		return nil
	})
	switch {
	case errors.Is(err, device.ErrNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, bridge.ErrBusy):
		writeConflict(w, "device is being updated, retry")
	case err != nil:
		s.writeLoopError(w, err)
	default:
		s.recordAudit(r, audit.ActionRename, id, map[string]any{"name": req.Name})
		writeJSON(w, http.StatusOK, rec)
	}
}

// sensorTypeRequest is the body of PUT /devices/{id}/type.
type sensorTypeRequest struct {
	Sensor string `json:"sensor"`
	Type   *uint8 `json:"type"`
}

// handleSetSensorType selects the contact or motion variant of a device.
func (s *Server) handleSetSensorType(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sensorTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	kind, err := device.ParseSensorKind(req.Sensor)
	if err != nil {
		writeBadRequest(w, "sensor must be contact or motion")
		return
	}
	if req.Type == nil {
		writeBadRequest(w, "type is required")
		return
	}

	var changed bool
	var rec device.Record
	err = s.do(r.Context(), func(e *bridge.Engine) error {
		var opErr error
		changed, opErr = e.SetSensorType(id, kind, *req.Type)
		if opErr != nil {
			return opErr
		}
		if p := e.FindDevice(id); p != nil {
			rec = *p
		}
		return nil
	})
	switch {
	case errors.Is(err, device.ErrNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrInvalidSensorType):
		writeBadRequest(w, "type is outside the variant range")
	case errors.Is(err, bridge.ErrBusy):
		writeConflict(w, "device is being updated, retry")
	case err != nil:
		s.writeLoopError(w, err)
	default:
		if changed {
			s.recordAudit(r, audit.ActionSensorType, id, map[string]any{"sensor": string(kind), "type": *req.Type})
		}
		writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "device": rec})
	}
}

// handleDeleteDevice removes a device. Its registry slot stays allocated
// until the next restart.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var removed bool
	err := s.do(r.Context(), func(e *bridge.Engine) error {
		removed = e.RemoveDevice(id)
		return nil
	})
	if err != nil {
		s.writeLoopError(w, err)
		return
	}
	if !removed {
		writeNotFound(w, "device not found")
		return
	}
	s.recordAudit(r, audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceHistory returns stored readings of a device.
//
// Query parameters:
//   - since: look-back window as a Go duration (default 24h, max 720h)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "telemetry history is not configured")
		return
	}
	id := chi.URLParam(r, "id")

	window := defaultHistoryWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeBadRequest(w, "since must be a positive duration such as 6h")
			return
		}
		window = min(d, maxHistoryWindow)
	}

	samples, err := s.history.History(r.Context(), id, time.Now().Add(-window))
	if err != nil {
		s.logger.Warn("history query failed", "device_id", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "samples": samples, "count": len(samples)})
}
