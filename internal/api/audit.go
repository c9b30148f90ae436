package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/lora-bridge/internal/audit"
)

// AuditLog stores the trail of configuration changes.
// *audit.SQLiteRepository implements it.
type AuditLog interface {
	Record(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, f audit.Filter) (*audit.Page, error)
}

// recordAudit stores one change. Failures are logged; the change itself
// has already happened.
func (s *Server) recordAudit(r *http.Request, action, deviceID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audit.Entry{Action: action, DeviceID: deviceID, Source: audit.SourceAPI, Details: details}
	if user, ok := r.Context().Value(ctxKeyUser).(string); ok {
		e.Actor = user
	} else if user, _, ok := r.BasicAuth(); ok {
		e.Actor = user
	}
	if err := s.audit.Record(r.Context(), e); err != nil {
		s.logger.Warn("recording audit entry failed", "action", action, "device_id", deviceID, "error", err)
	}
}

// handleListAudit returns recorded changes, most recent first.
//
// Query parameters:
//   - action: only entries with this action
//   - device: only entries for this device
//   - limit, offset: paging (limit default 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log is not configured")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{Action: q.Get("action"), DeviceID: q.Get("device")}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
