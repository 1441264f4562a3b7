package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/telemetry-core/internal/auth"
	"github.com/nerrad567/telemetry-core/internal/device"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/mqtt"
)

// recordingSink captures published records and optionally fails.
type recordingSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

type fixture struct {
	db       *sql.DB
	registry *device.Registry
	ingestor *Ingestor
	keys     *auth.SQLiteKeyRepository
	manager  *auth.Manager
	deviceID string
	rawKey   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testDB(t)
	hasher := auth.NewHasher("ingest-salt")
	keys := auth.NewKeyRepository(db)
	gate := auth.NewGate("admin", hasher, keys)
	manager := auth.NewManager(hasher, keys, gate)
	registry := device.NewRegistry(device.NewSQLiteRepository(db), device.Options{})

	deviceID := seedDevice(t, db, "thermo")
	issued, err := manager.Issue(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	return &fixture{
		db:       db,
		registry: registry,
		ingestor: NewIngestor(gate, keys, registry, NewSQLiteRepository(db)),
		keys:     keys,
		manager:  manager,
		deviceID: deviceID,
		rawKey:   issued.RawKey,
	}
}

func TestIngestor_Ingest(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	f.ingestor.AddSink(sink)
	ctx := context.Background()

	rec, err := f.ingestor.Ingest(ctx, f.deviceID, f.rawKey, json.RawMessage(`{"temp": 20}`))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if rec.ID == "" || rec.DeviceID != f.deviceID {
		t.Errorf("Ingest() = %+v", rec)
	}

	got, err := f.ingestor.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if string(got.Data) != `{"temp": 20}` {
		t.Errorf("stored data = %s", got.Data)
	}

	if len(sink.records) != 1 || sink.records[0].ID != rec.ID {
		t.Errorf("sink records = %v, want the ingested record", sink.records)
	}

	key, err := f.keys.FindByDevice(ctx, f.deviceID)
	if err != nil {
		t.Fatalf("FindByDevice() error = %v", err)
	}
	if key.LastUsedAt == nil {
		t.Error("LastUsedAt not stamped after ingest")
	}
}

func TestIngestor_IngestRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		deviceID string
		rawKey   string
		data     string
		wantErr  error
	}{
		{"missing key", f.deviceID, "", `{}`, auth.ErrUnauthorized},
		{"wrong key", f.deviceID, "not-the-key", `{}`, auth.ErrUnauthorized},
		{"no device id", "", f.rawKey, `{}`, auth.ErrUnauthorized},
		{"unknown device with valid key", "ghost", f.rawKey, `{}`, device.ErrDeviceNotFound},
		{"unknown device without key", "ghost", "", `{}`, device.ErrDeviceNotFound},
		{"unknown device beats bad payload", "ghost", f.rawKey, `[1]`, device.ErrDeviceNotFound},
		{"array payload", f.deviceID, f.rawKey, `[1,2]`, ErrInvalidPayload},
		{"scalar payload", f.deviceID, f.rawKey, `42`, ErrInvalidPayload},
		{"malformed payload", f.deviceID, f.rawKey, `{"a":`, ErrInvalidPayload},
		{"empty payload", f.deviceID, f.rawKey, ``, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ingestor.Ingest(ctx, tt.deviceID, tt.rawKey, json.RawMessage(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Ingest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	recs, err := f.ingestor.ListRecords(ctx, f.deviceID, 0, 100)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("rejected submissions stored %d records", len(recs))
	}
}

func TestIngestor_IngestAfterRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.manager.Revoke(ctx, f.rawKey, f.deviceID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := f.ingestor.Ingest(ctx, f.deviceID, f.rawKey, json.RawMessage(`{}`)); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("Ingest() after revoke error = %v, want %v", err, auth.ErrUnauthorized)
	}

	issued, err := f.manager.Refresh(ctx, f.deviceID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := f.ingestor.Ingest(ctx, f.deviceID, issued.RawKey, json.RawMessage(`{}`)); err != nil {
		t.Errorf("Ingest() with refreshed key error = %v", err)
	}
}

func TestIngestor_SinkFailureDoesNotFailIngest(t *testing.T) {
	f := newFixture(t)
	failing := &recordingSink{err: errors.New("broker down")}
	healthy := &recordingSink{}
	f.ingestor.AddSink(failing)
	f.ingestor.AddSink(healthy)

	if _, err := f.ingestor.Ingest(context.Background(), f.deviceID, f.rawKey, json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(failing.records) != 1 || len(healthy.records) != 1 {
		t.Errorf("sinks saw %d and %d records, want 1 and 1", len(failing.records), len(healthy.records))
	}
}

func TestIngestor_ListRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		if _, err := f.ingestor.Ingest(ctx, f.deviceID, f.rawKey, json.RawMessage(`{"ok":true}`)); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}

	recs, err := f.ingestor.ListRecords(ctx, f.deviceID, 1, 10)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("len = %d, want 2", len(recs))
	}

	if _, err := f.ingestor.ListRecords(ctx, "ghost", 0, 10); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("ListRecords(unknown) error = %v, want %v", err, device.ErrDeviceNotFound)
	}
	if _, err := f.ingestor.ListRecords(ctx, f.deviceID, -1, 10); !errors.Is(err, ErrInvalidPagination) {
		t.Errorf("ListRecords(-1) error = %v, want %v", err, ErrInvalidPagination)
	}
}

func TestIngestor_GetRecordNotFound(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ingestor.GetRecord(context.Background(), "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("GetRecord() error = %v, want %v", err, ErrRecordNotFound)
	}
}

func TestIngestor_MQTTHandler(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	f.ingestor.AddSink(sink)
	topics := mqtt.NewTopics("")
	handler := f.ingestor.MQTTHandler(topics)

	payload, err := json.Marshal(map[string]any{
		"api_key": f.rawKey,
		"data":    map[string]any{"humidity": 40},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := handler(topics.DeviceIngest(f.deviceID), payload); err != nil {
		t.Fatalf("handler() error = %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("sink saw %d records, want 1", len(sink.records))
	}

	if err := handler(topics.DeviceIngest(f.deviceID), []byte(`{"api_key":"bad","data":{}}`)); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("handler(bad key) error = %v, want %v", err, auth.ErrUnauthorized)
	}
	if err := handler(topics.SystemStatus(), payload); err == nil {
		t.Error("handler(wrong topic) error = nil, want error")
	}
	if err := handler(topics.DeviceIngest(f.deviceID), []byte("not json")); err == nil {
		t.Error("handler(bad json) error = nil, want error")
	}
}

type stubPublisher struct {
	deviceID string
	payload  []byte
}

func (p *stubPublisher) PublishTelemetry(deviceID string, payload []byte) error {
	p.deviceID = deviceID
	p.payload = payload
	return nil
}

type stubPointWriter struct {
	fields map[string]any
	at     time.Time
}

func (w *stubPointWriter) WriteTelemetry(_, _ string, data map[string]any, at time.Time) int {
	w.fields = data
	w.at = at
	return len(data)
}

func TestSinks(t *testing.T) {
	rec := &Record{
		ID:        "r1",
		DeviceID:  "d1",
		Data:      json.RawMessage(`{"temp":19.5,"ok":true}`),
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	pub := &stubPublisher{}
	if err := NewMQTTSink(pub).Publish(context.Background(), rec); err != nil {
		t.Fatalf("MQTTSink.Publish() error = %v", err)
	}
	var decoded Record
	if err := json.Unmarshal(pub.payload, &decoded); err != nil {
		t.Fatalf("published payload is not a record: %v", err)
	}
	if pub.deviceID != "d1" || decoded.ID != "r1" {
		t.Errorf("published %s for %s", pub.payload, pub.deviceID)
	}

	w := &stubPointWriter{}
	if err := NewInfluxSink(w).Publish(context.Background(), rec); err != nil {
		t.Fatalf("InfluxSink.Publish() error = %v", err)
	}
	if w.fields["temp"] != 19.5 || !w.at.Equal(rec.CreatedAt) {
		t.Errorf("point fields = %v at %v", w.fields, w.at)
	}

	bad := &Record{ID: "r2", DeviceID: "d1", Data: json.RawMessage(`[]`)}
	if err := NewInfluxSink(w).Publish(context.Background(), bad); err == nil {
		t.Error("InfluxSink.Publish(non-object) error = nil, want error")
	}
}

func TestIsJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{}`, true},
		{`  {"a":{"b":[1,2]}} `, true},
		{`[]`, false},
		{`"str"`, false},
		{`null`, false},
		{`{"a":1}{"b":2}`, false},
		{``, false},
	}
	for _, tt := range tests {
		if got := IsJSONObject(json.RawMessage(tt.in)); got != tt.want {
			t.Errorf("IsJSONObject(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIngestor_DeletedDeviceIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	retiredID := seedDevice(t, f.db, "retired")
	issued, err := f.manager.Issue(ctx, retiredID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := f.ingestor.Ingest(ctx, retiredID, issued.RawKey, json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("Ingest() before delete error = %v", err)
	}
	if err := f.registry.DeleteDevice(ctx, retiredID); !errors.Is(err, device.ErrDeviceHasTelemetry) {
		t.Fatalf("DeleteDevice() with telemetry error = %v, want %v", err, device.ErrDeviceHasTelemetry)
	}

	unusedID := seedDevice(t, f.db, "unused")
	unusedKey, err := f.manager.Issue(ctx, unusedID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := f.registry.DeleteDevice(ctx, unusedID); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	for _, rawKey := range []string{unusedKey.RawKey, f.rawKey, "garbage"} {
		_, err := f.ingestor.Ingest(ctx, unusedID, rawKey, json.RawMessage(`{"a":1}`))
		if !errors.Is(err, device.ErrDeviceNotFound) {
			t.Errorf("Ingest(deleted device) error = %v, want %v", err, device.ErrDeviceNotFound)
		}
	}
}

func TestIngestor_AddSinkWhileIngesting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := &recordingSink{}
	f.ingestor.AddSink(early)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range n {
			f.ingestor.AddSink(&recordingSink{})
		}
	}()
	go func() {
		defer wg.Done()
		for range n {
			if _, err := f.ingestor.Ingest(ctx, f.deviceID, f.rawKey, json.RawMessage(`{"t":1}`)); err != nil {
				t.Errorf("Ingest() error = %v", err)
			}
		}
	}()
	wg.Wait()

	early.mu.Lock()
	defer early.mu.Unlock()
	if len(early.records) != n {
		t.Errorf("sink registered before ingest got %d records, want %d", len(early.records), n)
	}
}
