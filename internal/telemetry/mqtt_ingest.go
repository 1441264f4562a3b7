package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/telemetry-core/internal/infrastructure/mqtt"
)

// mqttIngestTimeout bounds one broker-delivered ingest.
const mqttIngestTimeout = 10 * time.Second

// mqttIngestMessage is the payload devices publish on their ingest topic.
// The key travels in the body because MQTT has no per-message headers.
type mqttIngestMessage struct {
	APIKey string          `json:"api_key"`
	Data   json.RawMessage `json:"data"`
}

// MQTTHandler returns a handler for the {prefix}/telemetry/ingest/+ subscription.
// Each message goes through Ingest exactly like an HTTP submission, gate included.
// Rejections are returned so the MQTT client logs them.
func (i *Ingestor) MQTTHandler(topics mqtt.Topics) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		deviceID, ok := topics.ParseDeviceIngest(topic)
		if !ok {
			return fmt.Errorf("unexpected ingest topic %q", topic)
		}

		var msg mqttIngestMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding ingest message: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), mqttIngestTimeout)
		defer cancel()

		if _, err := i.Ingest(ctx, deviceID, msg.APIKey, msg.Data); err != nil {
			return fmt.Errorf("ingesting for device %s: %w", deviceID, err)
		}
		return nil
	}
}
