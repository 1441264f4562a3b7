// Package mqtt connects the telemetry service to an MQTT broker.
//
// The broker is an optional side channel. When enabled the service:
//   - publishes every stored telemetry record on {prefix}/telemetry/{device_id}
//   - publishes API key lifecycle events on {prefix}/keys/{event}
//   - accepts readings on {prefix}/telemetry/ingest/{device_id} when ingest is on
//   - keeps a retained status on {prefix}/system/status, with an LWT for crashes
//
// The HTTP API never depends on the broker being reachable: publish failures
// are logged by callers and the request still succeeds.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllDeviceIngest(), 1, ingestor.HandleMQTT)
package mqtt
