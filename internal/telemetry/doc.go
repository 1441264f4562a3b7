// Package telemetry stores JSON readings reported by devices.
//
// Ingestion is authenticated with the device's API key before anything is
// read or written. A stored record is immutable; its data is kept exactly as
// submitted. After a record commits it is fanned out to the configured sinks
// (MQTT, InfluxDB, WebSocket subscribers). Sink failures are logged and never
// fail the ingest.
package telemetry
