package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "telemetry-core/telemetry/{device_id}")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishTelemetry publishes an encoded record on the device's telemetry
// topic at the configured QoS. Records are events, so they are not retained.
func (c *Client) PublishTelemetry(deviceID string, payload []byte) error {
	return c.Publish(c.topics.DeviceTelemetry(deviceID), payload, byte(c.cfg.QoS), false)
}

// keyEvent is the payload of a key lifecycle message. It never carries key material.
type keyEvent struct {
	Event     string `json:"event"`
	DeviceID  string `json:"device_id"`
	KeyID     string `json:"key_id"`
	Timestamp string `json:"timestamp"`
}

// PublishKeyEvent announces an API key lifecycle change. Failures are logged
// and otherwise ignored; the change has already been committed.
func (c *Client) PublishKeyEvent(event, deviceID, keyID string) {
	payload, err := json.Marshal(keyEvent{
		Event:     event,
		DeviceID:  deviceID,
		KeyID:     keyID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		err = c.Publish(c.topics.KeyEvent(event), payload, byte(c.cfg.QoS), false)
	}
	if err != nil {
		c.logWarn("publishing key event failed", "event", event, "device_id", deviceID, "error", err)
	}
}
