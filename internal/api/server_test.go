package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lora-bridge/internal/accessory"
	"github.com/nerrad567/lora-bridge/internal/audit"
	"github.com/nerrad567/lora-bridge/internal/bridge"
	"github.com/nerrad567/lora-bridge/internal/cipher"
	"github.com/nerrad567/lora-bridge/internal/device"
	"github.com/nerrad567/lora-bridge/internal/forwarder"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lora-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/lora-bridge/internal/persistence"
)

// fakeHistory returns canned samples and records the requested device.
type fakeHistory struct {
	samples []influxdb.Sample
	err     error
	gotID   string
	gotFrom time.Time
}

func (f *fakeHistory) History(_ context.Context, deviceID string, since time.Time) ([]influxdb.Sample, error) {
	f.gotID = deviceID
	f.gotFrom = since
	return f.samples, f.err
}

// fakeSettings keeps the last saved settings.
type fakeSettings struct {
	saved *persistence.Settings
	err   error
}

func (f *fakeSettings) Save(_ context.Context, st persistence.Settings) error {
	if f.err != nil {
		return f.err
	}
	f.saved = &st
	return nil
}

// fakeAudit keeps entries in memory.
type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) Record(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &audit.Page{Entries: []audit.Entry{}, Limit: filter.Limit, Offset: filter.Offset}
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if (filter.Action == "" || e.Action == filter.Action) && (filter.DeviceID == "" || e.DeviceID == filter.DeviceID) {
			page.Entries = append(page.Entries, e)
		}
	}
	page.Total = len(page.Entries)
	return page, nil
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	engine   *bridge.Engine
	history  *fakeHistory
	settings *fakeSettings
	audit    *fakeAudit
}

// testServer creates a Server backed by a running engine with an in-memory
// accessory runtime.
func testServer(t *testing.T, capacity int, auth persistence.AuthSettings) *testEnv {
	t.Helper()

	gate, err := cipher.NewGate(cipher.ModeNone, nil, cipher.PolicyReject)
	if err != nil {
		t.Fatalf("NewGate() error: %v", err)
	}
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10}, log)

	reg := device.NewRegistry(capacity)
	db := accessory.NewDatabase(accessory.BridgeInfo)
	eng := bridge.New(bridge.Deps{
		Registry:    reg,
		Gate:        gate,
		Accessories: accessory.NewManager(db, reg),
		Sinks:       []device.Sink{hub},
	}, bridge.Options{GatewayID: "gw1", Secret: "xy", PollInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		_ = eng.Run(ctx)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	history := &fakeHistory{}
	store := &fakeSettings{}
	auditLog := &fakeAudit{}

	srv, err := New(Deps{
		Config:        config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:        log,
		Engine:        eng,
		Version:       "test",
		Settings:      persistence.Settings{SetupCode: "12345678", Auth: auth},
		SettingsStore: store,
		History:       history,
		Hub:           hub,
		Audit:         auditLog,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{server: srv, handler: srv.Handler(), engine: eng, history: history, settings: store, audit: auditLog}
}

func (e *testEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func (e *testEnv) addTestDevice(t *testing.T, kind string) string {
	t.Helper()
	rec := e.request(t, http.MethodPost, "/api/v1/test-devices", `{"type":"`+kind+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST test-devices status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Devices []string `json:"devices"`
	}
	decode(t, rec, &resp)
	if len(resp.Devices) != 1 {
		t.Fatalf("created devices = %v", resp.Devices)
	}
	return resp.Devices[0]
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger: error = nil")
	}
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without engine: error = nil")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})

	rec := env.request(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestDeviceLifecycle(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	id := env.addTestDevice(t, bridge.TestMotion)

	// List
	rec := env.request(t, http.MethodGet, "/api/v1/devices", "")
	var list struct {
		Devices []device.Record `json:"devices"`
		Count   int             `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 1 || list.Devices[0].ID != id {
		t.Fatalf("list = %+v", list)
	}

	// Get
	rec = env.request(t, http.MethodGet, "/api/v1/devices/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET device status = %d", rec.Code)
	}
	var got device.Record
	decode(t, rec, &got)
	if !got.Caps.Motion || got.AccessoryID == 0 {
		t.Errorf("device = %+v, want motion capability and a bound accessory", got)
	}

	// Rename
	rec = env.request(t, http.MethodPatch, "/api/v1/devices/"+id, `{"name":"Hallway"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var renamed device.Record
	decode(t, rec, &renamed)
	if renamed.Name != "Hallway" || renamed.ID != id {
		t.Errorf("renamed = %q/%q", renamed.ID, renamed.Name)
	}
	if renamed.AccessoryID == got.AccessoryID {
		t.Errorf("AccessoryID unchanged after rename: %d", renamed.AccessoryID)
	}

	// Retype
	rec = env.request(t, http.MethodPut, "/api/v1/devices/"+id+"/type", `{"sensor":"motion","type":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT type status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var retyped struct {
		Changed bool          `json:"changed"`
		Device  device.Record `json:"device"`
	}
	decode(t, rec, &retyped)
	if !retyped.Changed || retyped.Device.MotionType != device.MotionOccupancy {
		t.Errorf("retype = %+v", retyped)
	}

	// Delete
	rec = env.request(t, http.MethodDelete, "/api/v1/devices/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	rec = env.request(t, http.MethodGet, "/api/v1/devices/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", rec.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	id := env.addTestDevice(t, bridge.TestMotion)

	env.request(t, http.MethodPatch, "/api/v1/devices/"+id, `{"name":"Hallway"}`)
	env.request(t, http.MethodPut, "/api/v1/devices/"+id+"/type", `{"sensor":"motion","type":1}`)
	env.request(t, http.MethodPut, "/api/v1/devices/"+id+"/type", `{"sensor":"motion","type":1}`) // unchanged, not recorded
	env.request(t, http.MethodDelete, "/api/v1/devices/"+id, "")
	env.request(t, http.MethodDelete, "/api/v1/devices/"+id, "") // 404, not recorded

	rec := env.request(t, http.MethodGet, "/api/v1/audit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET audit status = %d", rec.Code)
	}
	var page audit.Page
	decode(t, rec, &page)
	want := []string{audit.ActionDelete, audit.ActionSensorType, audit.ActionRename, audit.ActionTestDevice}
	if len(page.Entries) != len(want) {
		t.Fatalf("audit entries = %+v, want %v", page.Entries, want)
	}
	for i, e := range page.Entries {
		if e.Action != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Action, want[i])
		}
	}
	if page.Entries[2].DeviceID != id || page.Entries[2].Details["name"] != "Hallway" {
		t.Errorf("rename entry = %+v", page.Entries[2])
	}

	rec = env.request(t, http.MethodGet, "/api/v1/audit?action=rename", "")
	decode(t, rec, &page)
	if page.Total != 1 {
		t.Errorf("filtered total = %d, want 1", page.Total)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/audit?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestAuditActorAndFailure(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.SetBasicAuth("admin", "secret")
	env.server.recordAudit(req, audit.ActionDelete, "node1", nil)
	if len(env.audit.entries) != 1 || env.audit.entries[0].Actor != "admin" || env.audit.entries[0].Source != audit.SourceAPI {
		t.Errorf("entries = %+v", env.audit.entries)
	}

	// A failing audit store does not fail the change.
	env.audit.err = errors.New("disk full")
	id := env.addTestDevice(t, bridge.TestContact)
	rec := env.request(t, http.MethodDelete, "/api/v1/devices/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", rec.Code)
	}
}

func TestAuditUnavailable(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	env.server.audit = nil
	rec := env.request(t, http.MethodGet, "/api/v1/audit", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDeviceErrors(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	id := env.addTestDevice(t, bridge.TestTemperature)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"get unknown", http.MethodGet, "/api/v1/devices/nope", "", http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/v1/devices/nope", "", http.StatusNotFound},
		{"rename unknown", http.MethodPatch, "/api/v1/devices/nope", `{"name":"x"}`, http.StatusNotFound},
		{"rename bad json", http.MethodPatch, "/api/v1/devices/" + id, `{`, http.StatusBadRequest},
		{"rename empty", http.MethodPatch, "/api/v1/devices/" + id, `{"name":""}`, http.StatusBadRequest},
		{"rename too long", http.MethodPatch, "/api/v1/devices/" + id, `{"name":"` + strings.Repeat("x", 32) + `"}`, http.StatusBadRequest},
		{"type bad sensor", http.MethodPut, "/api/v1/devices/" + id + "/type", `{"sensor":"lamp","type":1}`, http.StatusBadRequest},
		{"type missing value", http.MethodPut, "/api/v1/devices/" + id + "/type", `{"sensor":"contact"}`, http.StatusBadRequest},
		{"type out of range", http.MethodPut, "/api/v1/devices/" + id + "/type", `{"sensor":"contact","type":9}`, http.StatusBadRequest},
		{"type unknown device", http.MethodPut, "/api/v1/devices/nope/type", `{"sensor":"contact","type":1}`, http.StatusNotFound},
		{"test device unknown type", http.MethodPost, "/api/v1/test-devices", `{"type":"toaster"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.request(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRetypeWithoutCapabilityReportsNoChange(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	id := env.addTestDevice(t, bridge.TestTemperature)

	rec := env.request(t, http.MethodPut, "/api/v1/devices/"+id+"/type", `{"sensor":"contact","type":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Changed bool `json:"changed"`
	}
	decode(t, rec, &resp)
	if resp.Changed {
		t.Error("changed = true for a device without contact capability")
	}
}

func TestRegistryFull(t *testing.T) {
	env := testServer(t, 1, persistence.AuthSettings{})
	env.addTestDevice(t, bridge.TestLight)

	rec := env.request(t, http.MethodPost, "/api/v1/test-devices", `{"type":"light"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestActivityAndBridge(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	id := env.addTestDevice(t, bridge.TestContact)

	rec := env.request(t, http.MethodGet, "/api/v1/activity", "")
	var activity struct {
		Entries []device.ActivityEntry `json:"entries"`
		Count   int                    `json:"count"`
	}
	decode(t, rec, &activity)
	if activity.Count != 1 || activity.Entries[0].DeviceName != id {
		t.Errorf("activity = %+v", activity)
	}

	env.request(t, http.MethodDelete, "/api/v1/devices/"+id, "")

	rec = env.request(t, http.MethodGet, "/api/v1/bridge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET bridge status = %d", rec.Code)
	}
	var st struct {
		GatewayID string               `json:"gateway_id"`
		Registry  device.RegistryStats `json:"registry"`
		SetupCode string               `json:"setup_code"`
		SetupURI  string               `json:"setup_uri"`
	}
	decode(t, rec, &st)
	if st.GatewayID != "gw1" {
		t.Errorf("gateway_id = %q", st.GatewayID)
	}
	if st.Registry.Leaked != 1 || st.Registry.Capacity != 4 {
		t.Errorf("registry = %+v, want one leaked slot of 4", st.Registry)
	}
	if st.SetupCode != "1234-5678" {
		t.Errorf("setup_code = %q, want 1234-5678", st.SetupCode)
	}
	if !strings.HasPrefix(st.SetupURI, "X-HM://") {
		t.Errorf("setup_uri = %q", st.SetupURI)
	}
}

type fakeForwarder struct{ stats forwarder.Stats }

func (f fakeForwarder) Stats() forwarder.Stats { return f.stats }

func TestBridgeReportsForwarder(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})

	rec := env.request(t, http.MethodGet, "/api/v1/bridge", "")
	if strings.Contains(rec.Body.String(), `"forwarder"`) {
		t.Errorf("unmanaged forwarder reported: %s", rec.Body.String())
	}

	env.server.forwarder = fakeForwarder{stats: forwarder.Stats{State: forwarder.StateRunning, PID: 42, Restarts: 2}}
	rec = env.request(t, http.MethodGet, "/api/v1/bridge", "")
	var st struct {
		Forwarder *forwarder.Stats `json:"forwarder"`
	}
	decode(t, rec, &st)
	if st.Forwarder == nil || st.Forwarder.State != forwarder.StateRunning || st.Forwarder.PID != 42 || st.Forwarder.Restarts != 2 {
		t.Errorf("forwarder = %+v", st.Forwarder)
	}
}

func TestDeviceHistory(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	env.history.samples = []influxdb.Sample{{Field: "temperature", Value: 21.5}}

	rec := env.request(t, http.MethodGet, "/api/v1/devices/node1/history?since=6h", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if env.history.gotID != "node1" {
		t.Errorf("queried device = %q", env.history.gotID)
	}
	if age := time.Since(env.history.gotFrom); age < 6*time.Hour || age > 6*time.Hour+time.Minute {
		t.Errorf("since = %v ago, want about 6h", age)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/devices/node1/history?since=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}

	env.history.err = errors.New("influx down")
	rec = env.request(t, http.MethodGet, "/api/v1/devices/node1/history", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d, want 502", rec.Code)
	}

	env.server.history = nil
	rec = env.request(t, http.MethodGet, "/api/v1/devices/node1/history", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", rec.Code)
	}
}

func TestMQTTTest(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})

	rec := env.request(t, http.MethodPost, "/api/v1/mqtt/test", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", rec.Code)
	}

	env.server.probeMQTT = func(context.Context) error { return nil }
	rec = env.request(t, http.MethodPost, "/api/v1/mqtt/test", "")
	if rec.Code != http.StatusOK {
		t.Errorf("success status = %d, want 200", rec.Code)
	}

	env.server.probeMQTT = func(context.Context) error { return errors.New("connection refused") }
	rec = env.request(t, http.MethodPost, "/api/v1/mqtt/test", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("failure status = %d, want 502", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["ok"] != false || body["error"] != "connection refused" {
		t.Errorf("body = %v", body)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := persistence.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	env := testServer(t, 4, persistence.AuthSettings{Enabled: true, Username: "admin", PasswordHash: hash})

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{name: "no credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "wrong user", user: "root", pass: "correct horse", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "valid", user: "admin", pass: "correct horse", setAuth: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header missing")
			}
		})
	}

	// Health stays open.
	rec := env.request(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestSetCredentials(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})

	rec := env.request(t, http.MethodPut, "/api/v1/auth", `{"enabled":true,"username":"admin","password":"short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short password status = %d, want 400", rec.Code)
	}

	rec = env.request(t, http.MethodPut, "/api/v1/auth", `{"enabled":true,"username":"admin","password":"long enough"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	saved := env.settings.saved
	if saved == nil {
		t.Fatal("settings not saved")
	}
	if saved.SetupCode != "12345678" {
		t.Errorf("saved setup code = %q, want the existing code kept", saved.SetupCode)
	}
	ok, err := persistence.VerifyPassword("long enough", saved.Auth.PasswordHash)
	if err != nil || !ok {
		t.Errorf("VerifyPassword() = %v, %v", ok, err)
	}

	// The new credential is enforced immediately.
	rec = env.request(t, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
}

func (e *testEnv) authed(t *testing.T, method, path, body, header string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestLoginAndBearerToken(t *testing.T) {
	hash, err := persistence.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	env := testServer(t, 4, persistence.AuthSettings{Enabled: true, Username: "admin", PasswordHash: hash})

	rec := env.request(t, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password login status = %d, want 401", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"correct horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var login loginResponse
	decode(t, rec, &login)
	if login.TokenType != "Bearer" || login.ExpiresIn != int(defaultTokenTTL.Seconds()) || login.AccessToken == "" {
		t.Fatalf("login = %+v", login)
	}
	bearer := "Bearer " + login.AccessToken

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", bearer, http.StatusOK},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.authed(t, http.MethodGet, "/api/v1/devices", "", tt.header); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	expired, err := env.server.issueToken("admin", time.Now().Add(-2*defaultTokenTTL))
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}
	if rec := env.authed(t, http.MethodGet, "/api/v1/devices", "", "Bearer "+expired); rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token status = %d, want 401", rec.Code)
	}

	// Changing the credential is audited under the token's user and
	// invalidates every issued token.
	rec = env.authed(t, http.MethodPut, "/api/v1/auth", `{"enabled":true,"username":"admin","password":"battery staple"}`, bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT auth status = %d, body = %s", rec.Code, rec.Body.String())
	}
	last := env.audit.entries[len(env.audit.entries)-1]
	if last.Action != audit.ActionCredentials || last.Actor != "admin" {
		t.Errorf("audit entry = %+v", last)
	}
	if rec := env.authed(t, http.MethodGet, "/api/v1/devices", "", bearer); rec.Code != http.StatusUnauthorized {
		t.Errorf("old token after credential change status = %d, want 401", rec.Code)
	}
}

func TestLoginWithAuthDisabled(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	rec := env.request(t, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"x"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestEngineStopped(t *testing.T) {
	gate, _ := cipher.NewGate(cipher.ModeNone, nil, "")
	eng := bridge.New(bridge.Deps{Registry: device.NewRegistry(2), Gate: gate}, bridge.Options{PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = eng.Run(ctx)

	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	srv, err := New(Deps{Logger: log, Engine: eng})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestWebSocketStreamsDeviceEvents(t *testing.T) {
	env := testServer(t, 4, persistence.AuthSettings{})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}

	type event struct {
		Type      string `json:"type"`
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Payload   struct {
			Device device.Record `json:"device"`
			Raw    string        `json:"raw"`
		} `json:"payload"`
	}

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"device.*"}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ack event
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	id := env.addTestDevice(t, bridge.TestContact)

	var kinds []string
	for len(kinds) < 2 {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading event: %v", err)
		}
		if ev.Type != WSTypeEvent {
			t.Fatalf("message type = %q, want event", ev.Type)
		}
		if ev.Payload.Device.ID != id {
			t.Errorf("event device = %q, want %q", ev.Payload.Device.ID, id)
		}
		if ev.EventType == "device.updated" && ev.Payload.Raw == "" {
			t.Error("updated event has no raw message")
		}
		kinds = append(kinds, ev.EventType)
	}
	if kinds[0] != "device.created" || kinds[1] != "device.updated" {
		t.Errorf("event order = %v, want created then updated", kinds)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("WriteJSON(ping) error = %v", err)
	}
	var pong event
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestSubscriptionMatching(t *testing.T) {
	c := &WSClient{subscriptions: map[string]struct{}{"device.removed": {}, "bridge.*": {}}}

	tests := []struct {
		channel string
		want    bool
	}{
		{"device.removed", true},
		{"device.updated", false},
		{"bridge.stats", true},
		{"bridgeX", false},
	}
	for _, tt := range tests {
		if got := c.isSubscribed(tt.channel); got != tt.want {
			t.Errorf("isSubscribed(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}
}
