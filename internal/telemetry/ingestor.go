package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/telemetry-core/internal/auth"
	"github.com/nerrad567/telemetry-core/internal/device"
)

// Logger defines the logging interface used by the Ingestor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Authenticator verifies a device credential. *auth.Gate satisfies it.
type Authenticator interface {
	AuthenticateDevice(ctx context.Context, rawKey, deviceID string) (*auth.APIKey, error)
}

// KeyToucher records key usage. auth.KeyRepository satisfies it.
type KeyToucher interface {
	TouchLastUsed(ctx context.Context, keyID string, at time.Time) error
}

// DeviceLookup reports whether a device exists. *device.Registry satisfies it.
type DeviceLookup interface {
	DeviceExists(ctx context.Context, id string) (bool, error)
}

// Sink receives every record after it has been stored.
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec *Record) error
}

// Ingestor authenticates, stores and fans out telemetry.
type Ingestor struct {
	gate    Authenticator
	keys    KeyToucher
	devices DeviceLookup
	repo    Repository
	logger  Logger
	now     func() time.Time

	sinks   []Sink
	sinksMu sync.RWMutex
}

// NewIngestor creates an Ingestor with no sinks.
func NewIngestor(gate Authenticator, keys KeyToucher, devices DeviceLookup, repo Repository) *Ingestor {
	return &Ingestor{
		gate:    gate,
		keys:    keys,
		devices: devices,
		repo:    repo,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the ingestor.
func (i *Ingestor) SetLogger(logger Logger) {
	i.logger = logger
}

// AddSink registers a sink. Records stored before the call do not reach it,
// so register every sink before ingest traffic is accepted.
func (i *Ingestor) AddSink(s Sink) {
	i.sinksMu.Lock()
	i.sinks = append(i.sinks, s)
	i.sinksMu.Unlock()
}

func (i *Ingestor) currentSinks() []Sink {
	i.sinksMu.RLock()
	defer i.sinksMu.RUnlock()
	return i.sinks[:len(i.sinks):len(i.sinks)]
}

// Ingest stores data for deviceID after checking rawKey.
//
// Checks run in this order: claimed device row (device.ErrDeviceNotFound,
// whatever the key), credential (auth.ErrUnauthorized), payload shape
// (ErrInvalidPayload). A request naming no device at all carries no
// credential and is auth.ErrUnauthorized. The key's last-used stamp and the
// sinks are best effort.
func (i *Ingestor) Ingest(ctx context.Context, deviceID, rawKey string, data json.RawMessage) (*Record, error) {
	if deviceID == "" {
		return nil, auth.ErrUnauthorized
	}

	exists, err := i.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, device.ErrDeviceNotFound
	}

	key, err := i.gate.AuthenticateDevice(ctx, rawKey, deviceID)
	if err != nil {
		return nil, err
	}

	if !IsJSONObject(data) {
		return nil, ErrInvalidPayload
	}

	rec := &Record{
		DeviceID: deviceID,
		Data:     bytes.Clone(data),
	}
	if err := i.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	if err := i.keys.TouchLastUsed(ctx, key.ID, i.now()); err != nil {
		i.logger.Warn("updating key last used failed", "key_id", key.ID, "error", err)
	}

	i.fanOut(ctx, rec)

	i.logger.Debug("telemetry stored", "device_id", deviceID, "record_id", rec.ID)
	return rec, nil
}

func (i *Ingestor) fanOut(ctx context.Context, rec *Record) {
	for _, s := range i.currentSinks() {
		if err := s.Publish(ctx, rec); err != nil {
			i.logger.Warn("telemetry sink failed", "sink", s.Name(), "record_id", rec.ID, "error", err)
		}
	}
}

// GetRecord returns a record by ID, or ErrRecordNotFound.
func (i *Ingestor) GetRecord(ctx context.Context, id string) (*Record, error) {
	return i.repo.GetByID(ctx, id)
}

// ListRecords pages through a device's records, oldest first.
// An unknown device is device.ErrDeviceNotFound; a device with no records
// yields an empty slice.
func (i *Ingestor) ListRecords(ctx context.Context, deviceID string, skip, limit int) ([]Record, error) {
	if skip < 0 || limit < 0 {
		return nil, ErrInvalidPagination
	}

	exists, err := i.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, device.ErrDeviceNotFound
	}

	return i.repo.ListByDevice(ctx, deviceID, skip, limit)
}

// IsJSONObject reports whether data is a single well-formed JSON object.
func IsJSONObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
