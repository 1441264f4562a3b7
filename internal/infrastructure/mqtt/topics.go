package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "telemetry-core"

// Topics builds the MQTT topics used by the service under one prefix.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("acme")
//	topics.DeviceTelemetry("3f2c...")
//	// Returns: "acme/telemetry/3f2c..."
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// DeviceTelemetry returns the topic a stored telemetry record is published on.
//
// Example: telemetry-core/telemetry/3f2c9a1e-...
func (t Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s", t.Prefix(), deviceID)
}

// DeviceIngest returns the topic a device publishes raw readings to.
//
// Example: telemetry-core/telemetry/ingest/3f2c9a1e-...
func (t Topics) DeviceIngest(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/ingest/%s", t.Prefix(), deviceID)
}

// KeyEvent returns the topic for API key lifecycle events.
//
// Example: telemetry-core/keys/revoked
func (t Topics) KeyEvent(event string) string {
	return fmt.Sprintf("%s/keys/%s", t.Prefix(), event)
}

// SystemStatus returns the retained service status topic (also the LWT topic).
//
// Example: telemetry-core/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix())
}

// AllDeviceIngest returns a pattern matching every device ingest topic.
//
// Pattern: telemetry-core/telemetry/ingest/+
func (t Topics) AllDeviceIngest() string {
	return fmt.Sprintf("%s/telemetry/ingest/+", t.Prefix())
}

// AllDeviceTelemetry returns a pattern matching every published record.
//
// Pattern: telemetry-core/telemetry/+
func (t Topics) AllDeviceTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+", t.Prefix())
}

// ParseDeviceIngest extracts the device ID from an ingest topic.
// ok is false when topic is not a single-level ingest topic under this prefix.
func (t Topics) ParseDeviceIngest(topic string) (deviceID string, ok bool) {
	deviceID, found := strings.CutPrefix(topic, t.Prefix()+"/telemetry/ingest/")
	if !found || deviceID == "" || strings.Contains(deviceID, "/") {
		return "", false
	}
	return deviceID, true
}
