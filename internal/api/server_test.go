package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/telemetry-core/internal/audit"
	"github.com/nerrad567/telemetry-core/internal/auth"
	"github.com/nerrad567/telemetry-core/internal/device"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/database"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/logging"
	"github.com/nerrad567/telemetry-core/internal/telemetry"
	"github.com/nerrad567/telemetry-core/migrations"
)

const testAdminSecret = "test-admin-secret-0123456789"

type testEnv struct {
	srv      *Server
	handler  http.Handler
	recorder *audit.Recorder
}

type envOption func(*device.Options)

func withUniqueNames() envOption {
	return func(o *device.Options) { o.UniqueNames = true }
}

// newTestEnv wires a Server over a fresh migrated SQLite database.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	require.NoError(t, db.Migrate(ctx, migrations.FS))

	var devOpts device.Options
	for _, o := range opts {
		o(&devOpts)
	}

	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test", "test")

	hasher := auth.NewHasher("api-test-salt")
	keyRepo := auth.NewKeyRepository(db.DB)
	gate := auth.NewGate(testAdminSecret, hasher, keyRepo)
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB), devOpts)
	ingestor := telemetry.NewIngestor(gate, keyRepo, registry, telemetry.NewSQLiteRepository(db.DB))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, 64)
	recorder.Start(ctx)
	t.Cleanup(recorder.Stop)

	srv, err := New(Deps{
		Config:    config.APIConfig{Host: "127.0.0.1", MaxBodyBytes: 4096},
		WS:        config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:    log,
		DB:        db,
		Devices:   registry,
		Keys:      auth.NewManager(hasher, keyRepo, gate),
		Gate:      gate,
		Ingestor:  ingestor,
		Audit:     recorder,
		AuditRepo: auditRepo,
		Version:   "test",
	})
	require.NoError(t, err)

	return &testEnv{srv: srv, handler: srv.Handler(), recorder: recorder}
}

type reqOpt func(*http.Request)

func asAdmin() reqOpt {
	return func(r *http.Request) { r.Header.Set(HeaderAdminSecret, testAdminSecret) }
}

func asDevice(deviceID, rawKey string) reqOpt {
	return func(r *http.Request) {
		r.Header.Set(HeaderDeviceID, deviceID)
		r.Header.Set(HeaderAPIKey, rawKey)
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func (e *testEnv) createDevice(t *testing.T, name string) device.Device {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/devices", `{"name":"`+name+`"}`, asAdmin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[device.Device](t, rec)
}

func (e *testEnv) issueKey(t *testing.T, deviceID string) auth.IssuedKey {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/keys/"+deviceID, "", asAdmin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[auth.IssuedKey](t, rec)
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[Error](t, rec)
	assert.Equal(t, status, body.Status)
	assert.Equal(t, code, body.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	components, ok := body["components"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", components["database"])
	assert.Equal(t, "disabled", components["mqtt"])
	assert.Equal(t, "disabled", components["influxdb"])
}

func TestRootRedirectsToHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/api/v1/health", rec.Header().Get("Location"))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	rec = env.do(t, http.MethodGet, "/api/v1/health", "", func(r *http.Request) {
		r.Header.Set(HeaderRequestID, "req-123")
	})
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodOptions, "/api/v1/devices", "", func(r *http.Request) {
		r.Header.Set("Origin", "http://dashboard.local")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		r.Header.Set("Access-Control-Request-Headers", HeaderAdminSecret)
	})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	assertError(t, env.do(t, http.MethodGet, "/api/v1/nothing", ""), http.StatusNotFound, ErrCodeNotFound)
	assertError(t, env.do(t, http.MethodPatch, "/api/v1/devices/x", ""), http.StatusMethodNotAllowed, ErrCodeMethodNotAllow)
}

func TestCreateDevice_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	assertError(t, env.do(t, http.MethodPost, "/api/v1/devices", `{"name":"x"}`), http.StatusForbidden, ErrCodeForbidden)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/devices", `{"name":"x"}`, func(r *http.Request) {
		r.Header.Set(HeaderAdminSecret, "wrong")
	}), http.StatusForbidden, ErrCodeForbidden)

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String(), "registry must be untouched")
}

func TestCreateDevice_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"missing name", `{"description":"d"}`},
		{"blank name", `{"name":"   "}`},
		{"name too long", `{"name":"` + strings.Repeat("n", 256) + `"}`},
		{"description too long", `{"name":"ok","description":"` + strings.Repeat("d", 1025) + `"}`},
		{"wrong type", `{"name":42}`},
		{"trailing data", `{"name":"a"}{"name":"b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/devices", tt.body, asAdmin())
			assertError(t, rec, http.StatusUnprocessableEntity, ErrCodeValidation)
			assert.Equal(t, invalidRequestMessage, decode[Error](t, rec).Message)
		})
	}
}

func TestCreateDevice_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"big","notes":{"blob":"` + strings.Repeat("x", 5000) + `"}}`
	assertError(t, env.do(t, http.MethodPost, "/api/v1/devices", body, asAdmin()), http.StatusUnprocessableEntity, ErrCodeValidation)
}

func TestDeviceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/devices",
		`{"name":"Boiler","description":"basement","notes":{"floor":-1}}`, asAdmin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "Boiler", created["name"])
	assert.Equal(t, "basement", created["description"])
	assert.Equal(t, []any{}, created["api_keys"])
	assert.NotEmpty(t, created["created_date"])
	assert.NotEmpty(t, created["updated_date"])

	rec = env.do(t, http.MethodGet, "/api/v1/devices/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Boiler", decode[device.Device](t, rec).Name)

	rec = env.do(t, http.MethodPut, "/api/v1/devices/"+id, `{"name":"Boiler 2"}`, asAdmin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[device.Device](t, rec)
	assert.Equal(t, "Boiler 2", updated.Name)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "basement", *updated.Description, "absent fields are kept")

	assertError(t, env.do(t, http.MethodPut, "/api/v1/devices/"+id, `{"name":"x"}`), http.StatusForbidden, ErrCodeForbidden)
	assertError(t, env.do(t, http.MethodPut, "/api/v1/devices/missing", `{"name":"x"}`, asAdmin()), http.StatusNotFound, ErrCodeNotFound)

	assertError(t, env.do(t, http.MethodDelete, "/api/v1/devices/"+id, ""), http.StatusForbidden, ErrCodeForbidden)
	rec = env.do(t, http.MethodDelete, "/api/v1/devices/"+id, "", asAdmin())
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	assertError(t, env.do(t, http.MethodGet, "/api/v1/devices/"+id, ""), http.StatusNotFound, ErrCodeNotFound)
	assertError(t, env.do(t, http.MethodDelete, "/api/v1/devices/"+id, "", asAdmin()), http.StatusNotFound, ErrCodeNotFound)
}

func TestDeviceShowsKeyInfo(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "sensor")
	issued := env.issueKey(t, dev.ID)

	rec := env.do(t, http.MethodGet, "/api/v1/devices/"+dev.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), issued.RawKey)
	assert.NotContains(t, rec.Body.String(), "key_hash")

	got := decode[device.Device](t, rec)
	require.Len(t, got.APIKeys, 1)
	assert.Equal(t, issued.ID, got.APIKeys[0].ID)
	assert.False(t, got.APIKeys[0].Revoked)
}

func TestListDevices_Paging(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		env.createDevice(t, name)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]device.Device](t, rec), 10, "default limit")

	rec = env.do(t, http.MethodGet, "/api/v1/devices?offset=10&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[[]device.Device](t, rec)
	require.Len(t, page, 2)
	assert.Equal(t, "k", page[0].Name)
	assert.Equal(t, "l", page[1].Name)

	for _, q := range []string{"limit=-1", "limit=0", "offset=-1", "limit=abc"} {
		assertError(t, env.do(t, http.MethodGet, "/api/v1/devices?"+q, ""), http.StatusUnprocessableEntity, ErrCodeValidation)
	}
}

func TestCreateDevice_UniqueNames(t *testing.T) {
	env := newTestEnv(t, withUniqueNames())
	env.createDevice(t, "twin")

	assertError(t, env.do(t, http.MethodPost, "/api/v1/devices", `{"name":"twin"}`, asAdmin()), http.StatusConflict, ErrCodeConflict)

	lenient := newTestEnv(t)
	lenient.createDevice(t, "twin")
	lenient.createDevice(t, "twin")
}

func TestIssueKey(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "sensor")

	assertError(t, env.do(t, http.MethodPost, "/api/v1/keys/"+dev.ID, ""), http.StatusForbidden, ErrCodeForbidden)

	issued := env.issueKey(t, dev.ID)
	assert.NotEmpty(t, issued.ID)
	assert.NotEmpty(t, issued.RawKey)

	assertError(t, env.do(t, http.MethodPost, "/api/v1/keys/"+dev.ID, "", asAdmin()), http.StatusConflict, ErrCodeConflict)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/keys/missing", "", asAdmin()), http.StatusNotFound, ErrCodeNotFound)
}

func TestTelemetryScenario(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "Test Device 1")
	issued := env.issueKey(t, dev.ID)

	rec := env.do(t, http.MethodPost, "/api/v1/data", `{"data": {"temperature": 25.5}}`, asDevice(dev.ID, issued.RawKey))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ack := decode[ingestResponse](t, rec)
	assert.Equal(t, "ok", ack.Status)
	require.NotEmpty(t, ack.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/data/"+ack.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, map[string]any{"temperature": 25.5}, got["data"])
	assert.Equal(t, dev.ID, got["device_id"])
	assert.NotEmpty(t, got["created_date"])

	rec = env.do(t, http.MethodGet, "/api/v1/devices/"+dev.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIngest_Rejections(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "sensor")
	issued := env.issueKey(t, dev.ID)
	other := env.createDevice(t, "other")
	unknownID := uuid.NewString()

	tests := []struct {
		name   string
		body   string
		opts   []reqOpt
		status int
		code   string
	}{
		{"no headers", `{"data":{}}`, nil, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"wrong key", `{"data":{}}`, []reqOpt{asDevice(dev.ID, "nope")}, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"key of another device", `{"data":{}}`, []reqOpt{asDevice(other.ID, issued.RawKey)}, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"bad credentials beat bad body", `{"data":`, []reqOpt{asDevice(dev.ID, "nope")}, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"unknown device with valid key", `{"data":{}}`, []reqOpt{asDevice(unknownID, issued.RawKey)}, http.StatusNotFound, ErrCodeNotFound},
		{"unknown device with bad key", `{"data":{}}`, []reqOpt{asDevice(unknownID, "nope")}, http.StatusNotFound, ErrCodeNotFound},
		{"unknown device beats bad body", `{"data":`, []reqOpt{asDevice(unknownID, issued.RawKey)}, http.StatusNotFound, ErrCodeNotFound},
		{"missing data", `{}`, []reqOpt{asDevice(dev.ID, issued.RawKey)}, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"array data", `{"data":[1,2]}`, []reqOpt{asDevice(dev.ID, issued.RawKey)}, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"malformed body", `{"data":`, []reqOpt{asDevice(dev.ID, issued.RawKey)}, http.StatusUnprocessableEntity, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, env.do(t, http.MethodPost, "/api/v1/data", tt.body, tt.opts...), tt.status, tt.code)
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/data/device/"+dev.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRevokeAndRefresh(t *testing.T) {
	env := newTestEnv(t)
	a := env.createDevice(t, "A")
	b := env.createDevice(t, "B")
	keyA := env.issueKey(t, a.ID)
	env.issueKey(t, b.ID)

	// A device holding its own key still needs the admin secret.
	assertError(t, env.do(t, http.MethodPut, "/api/v1/keys", "", asDevice(a.ID, keyA.RawKey)), http.StatusForbidden, ErrCodeForbidden)
	assertError(t, env.do(t, http.MethodPut, "/api/v1/keys", ""), http.StatusForbidden, ErrCodeForbidden)

	assertError(t, env.do(t, http.MethodPut, "/api/v1/keys", "", asAdmin(), asDevice(b.ID, keyA.RawKey)), http.StatusUnauthorized, ErrCodeUnauthorized)
	assertError(t, env.do(t, http.MethodPut, "/api/v1/keys", "", asAdmin()), http.StatusUnauthorized, ErrCodeUnauthorized)

	rec := env.do(t, http.MethodPut, "/api/v1/keys", "", asAdmin(), asDevice(a.ID, keyA.RawKey))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"API key revoked successfully"}`, rec.Body.String())

	assertError(t, env.do(t, http.MethodPost, "/api/v1/data", `{"data":{"v":1}}`, asDevice(a.ID, keyA.RawKey)),
		http.StatusUnauthorized, ErrCodeUnauthorized)

	rec = env.do(t, http.MethodGet, "/api/v1/devices/"+a.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[device.Device](t, rec)
	require.Len(t, got.APIKeys, 1)
	assert.True(t, got.APIKeys[0].Revoked)

	assertError(t, env.do(t, http.MethodPut, "/api/v1/keys/refresh/"+a.ID, ""), http.StatusForbidden, ErrCodeForbidden)

	rec = env.do(t, http.MethodPut, "/api/v1/keys/refresh/"+a.ID, "", asAdmin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decode[auth.IssuedKey](t, rec)
	assert.Equal(t, keyA.ID, refreshed.ID, "refresh keeps the key row")
	assert.NotEqual(t, keyA.RawKey, refreshed.RawKey)

	rec = env.do(t, http.MethodPost, "/api/v1/data", `{"data":{"v":2}}`, asDevice(a.ID, refreshed.RawKey))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assertError(t, env.do(t, http.MethodPost, "/api/v1/data", `{"data":{"v":3}}`, asDevice(a.ID, keyA.RawKey)),
		http.StatusUnauthorized, ErrCodeUnauthorized)

	fresh := env.createDevice(t, "no key")
	assertError(t, env.do(t, http.MethodPut, "/api/v1/keys/refresh/"+fresh.ID, "", asAdmin()), http.StatusNotFound, ErrCodeNotFound)
}

func TestDeleteDevice_WithTelemetry(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "busy")
	issued := env.issueKey(t, dev.ID)

	rec := env.do(t, http.MethodPost, "/api/v1/data", `{"data":{"n":1}}`, asDevice(dev.ID, issued.RawKey))
	require.Equal(t, http.StatusCreated, rec.Code)

	assertError(t, env.do(t, http.MethodDelete, "/api/v1/devices/"+dev.ID, "", asAdmin()), http.StatusConflict, ErrCodeConflict)

	idle := env.createDevice(t, "idle")
	env.issueKey(t, idle.ID)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/devices/"+idle.ID, "", asAdmin()).Code)
	assertError(t, env.do(t, http.MethodPut, "/api/v1/keys/refresh/"+idle.ID, "", asAdmin()), http.StatusNotFound, ErrCodeNotFound)
}

func TestListRecords(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "logger")
	issued := env.issueKey(t, dev.ID)

	rec := env.do(t, http.MethodGet, "/api/v1/data/device/"+dev.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for i := range 4 {
		body := `{"data":{"seq":` + string(rune('0'+i)) + `}}`
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/data", body, asDevice(dev.ID, issued.RawKey)).Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/data/device/"+dev.ID+"?skip=1&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[[]telemetry.Record](t, rec)
	require.Len(t, page, 2)
	assert.JSONEq(t, `{"seq":1}`, string(page[0].Data))
	assert.JSONEq(t, `{"seq":2}`, string(page[1].Data))

	assertError(t, env.do(t, http.MethodGet, "/api/v1/data/device/missing", ""), http.StatusNotFound, ErrCodeNotFound)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/data/device/"+dev.ID+"?skip=-2", ""), http.StatusUnprocessableEntity, ErrCodeValidation)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/data/device/"+dev.ID+"?limit=0", ""), http.StatusUnprocessableEntity, ErrCodeValidation)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/data/missing", ""), http.StatusNotFound, ErrCodeNotFound)
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "audited")
	issued := env.issueKey(t, dev.ID)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/v1/keys", "", asAdmin(), asDevice(dev.ID, issued.RawKey)).Code)

	env.recorder.Stop()

	assertError(t, env.do(t, http.MethodGet, "/api/v1/audit", ""), http.StatusForbidden, ErrCodeForbidden)

	rec := env.do(t, http.MethodGet, "/api/v1/audit?entity_type=api_key", "", asAdmin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[audit.ListResult](t, rec)
	require.Equal(t, 2, result.Total)
	assert.Equal(t, audit.ActionRevoke, result.Logs[0].Action)
	assert.Equal(t, actorAdmin, result.Logs[0].Actor)
	assert.Equal(t, audit.ActionIssue, result.Logs[1].Action)
	assert.Equal(t, actorAdmin, result.Logs[1].Actor)

	rec = env.do(t, http.MethodGet, "/api/v1/audit?action=create", "", asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[audit.ListResult](t, rec).Total)

	assertError(t, env.do(t, http.MethodGet, "/api/v1/audit?limit=x", "", asAdmin()), http.StatusUnprocessableEntity, ErrCodeValidation)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "counted")
	issued := env.issueKey(t, dev.ID)
	env.do(t, http.MethodPost, "/api/v1/data", `{"data":{"x":1}}`, asDevice(dev.ID, issued.RawKey))
	env.do(t, http.MethodPost, "/api/v1/data", `{"data":{"x":1}}`)

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `telemetry_ingest_total{result="ok"} 1`)
	assert.Contains(t, body, `telemetry_ingest_total{result="unauthorised"} 1`)
	assert.Contains(t, body, `api_key_operations_total{operation="issue",result="ok"} 1`)
	assert.Contains(t, body, `http_requests_total{method="POST",route="/api/v1/data`)
	assert.Contains(t, body, "websocket_clients 0")
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestWebSocket_StreamsStoredTelemetry(t *testing.T) {
	env := newTestEnv(t)
	dev := env.createDevice(t, "streamer")
	issued := env.issueKey(t, dev.ID)
	other := env.createDevice(t, "quiet")
	otherKey := env.issueKey(t, other.ID)

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?device_id=" + dev.ID
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.Eventually(t, func() bool { return env.srv.Hub().ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	postJSON(t, ts.URL+"/api/v1/data", `{"data":{"ignored":true}}`, other.ID, otherKey.RawKey)
	postJSON(t, ts.URL+"/api/v1/data", `{"data":{"temp":20.5}}`, dev.ID, issued.RawKey)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type      string           `json:"type"`
		EventType string           `json:"event_type"`
		Payload   telemetry.Record `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, WSTypeEvent, msg.Type)
	assert.Equal(t, EventTelemetryStored, msg.EventType)
	assert.Equal(t, dev.ID, msg.Payload.DeviceID)
	assert.JSONEq(t, `{"temp":20.5}`, string(msg.Payload.Data))
}

func TestWebSocket_UnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?device_id=missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHub_SubscriptionMessages(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}))
	var pong WSMessage
	require.NoError(t, ws.ReadJSON(&pong))
	assert.Equal(t, WSTypePong, pong.Type)
	assert.Equal(t, "p1", pong.ID)

	require.NoError(t, ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "u1",
		Payload: WSSubscribePayload{Channels: []string{ChannelAllTelemetry}},
	}))
	var resp WSMessage
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, WSTypeResponse, resp.Type)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: "bogus", ID: "b1"}))
	var errMsg WSMessage
	require.NoError(t, ws.ReadJSON(&errMsg))
	assert.Equal(t, WSTypeError, errMsg.Type)
}

func postJSON(t *testing.T, url, body, deviceID, rawKey string) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set(HeaderDeviceID, deviceID)
	req.Header.Set(HeaderAPIKey, rawKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}
