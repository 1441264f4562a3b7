// Package api implements the HTTP REST API and WebSocket server for telemetry-core.
//
// This package provides:
//   - Device registry CRUD under /api/v1/devices
//   - API key issue, revoke and refresh under /api/v1/keys
//   - Telemetry ingest and reads under /api/v1/data
//   - A WebSocket hub streaming stored telemetry to subscribers
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, metrics)
//
// # Security
//
// Two header schemes guard mutating routes. Admin routes require X-Admin-Secret,
// compared in constant time against the configured secret; failure is 403.
// Device routes require X-API-Key and X-Device-Id; failure is 401 with no hint
// about which part was wrong.
//
// # Errors
//
// Every error body is {"status", "code", "message"}. Malformed bodies and
// query parameters all produce the same 422 "Invalid request data" message.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. The health endpoint reports their state
// but only the database decides the overall status.
package api
