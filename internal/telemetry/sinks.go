package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TelemetryPublisher publishes an encoded record for a device.
// *mqtt.Client satisfies it.
type TelemetryPublisher interface {
	PublishTelemetry(deviceID string, payload []byte) error
}

// MQTTSink publishes each record as JSON on the device's telemetry topic.
type MQTTSink struct {
	pub TelemetryPublisher
}

// NewMQTTSink wraps pub as a Sink.
func NewMQTTSink(pub TelemetryPublisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// Name identifies the sink in logs.
func (s *MQTTSink) Name() string { return "mqtt" }

// Publish encodes rec and hands it to the broker client.
func (s *MQTTSink) Publish(_ context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return s.pub.PublishTelemetry(rec.DeviceID, payload)
}

// PointWriter stores the scalar fields of a record as a time-series point.
// *influxdb.Client satisfies it.
type PointWriter interface {
	WriteTelemetry(deviceID, recordID string, data map[string]any, at time.Time) int
}

// InfluxSink mirrors records into a time-series database.
type InfluxSink struct {
	w PointWriter
}

// NewInfluxSink wraps w as a Sink.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Name identifies the sink in logs.
func (s *InfluxSink) Name() string { return "influxdb" }

// Publish decodes the record data and queues a point. Writes are batched, so
// delivery errors arrive later through the client's error callback.
func (s *InfluxSink) Publish(_ context.Context, rec *Record) error {
	fields, err := rec.Fields()
	if err != nil {
		return fmt.Errorf("decoding record data: %w", err)
	}
	s.w.WriteTelemetry(rec.DeviceID, rec.ID, fields, rec.CreatedAt)
	return nil
}
