package influxdb

import (
	"sort"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Telemetry point layout.
const (
	// MeasurementTelemetry is the measurement every record is written to.
	MeasurementTelemetry = "telemetry"

	// maxFieldDepth bounds how deep nested objects are flattened.
	maxFieldDepth = 4

	// maxStringField drops string values longer than this.
	maxStringField = 256
)

// WriteTelemetry queues one point for a stored record. Numeric, boolean and
// short string values become fields; nested objects are flattened with dotted
// keys ("power.watts"). Arrays and nulls are skipped.
//
// Returns the number of fields written; zero means the record had nothing
// InfluxDB could store and no point was queued.
func (c *Client) WriteTelemetry(deviceID, recordID string, data map[string]any, at time.Time) int {
	if !c.IsConnected() {
		return 0
	}

	point := buildTelemetryPoint(deviceID, recordID, data, at)
	if point == nil {
		return 0
	}

	c.writeAPI.WritePoint(point)
	return len(point.FieldList())
}

// buildTelemetryPoint converts a record into a point, or nil if no field survives.
func buildTelemetryPoint(deviceID, recordID string, data map[string]any, at time.Time) *write.Point {
	fields := make(map[string]any)
	flattenFields(fields, "", data, 0)
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"device_id": deviceID}
	fields["record_id"] = recordID

	return write.NewPoint(MeasurementTelemetry, tags, fields, at)
}

func flattenFields(dst map[string]any, prefix string, src map[string]any, depth int) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}

		switch v := src[k].(type) {
		case float64, int, int64, bool:
			dst[name] = v
		case string:
			if len(v) <= maxStringField && strings.TrimSpace(v) != "" {
				dst[name] = v
			}
		case map[string]any:
			if depth < maxFieldDepth {
				flattenFields(dst, name, v, depth+1)
			}
		}
	}
}
