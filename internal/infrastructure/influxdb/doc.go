// Package influxdb mirrors ingested telemetry into InfluxDB v2.
//
// SQLite remains the system of record; this package is an optional
// analytics sink. Each stored record becomes one point in the "telemetry"
// measurement, tagged with device_id, whose fields are the record's scalar
// values.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the mirror
//	}
//	defer client.Close()
//
//	client.WriteTelemetry(deviceID, recordID, map[string]any{"temperature": 25.5}, time.Now())
//
// Writes are batched according to batch_size and flush_interval.
package influxdb
