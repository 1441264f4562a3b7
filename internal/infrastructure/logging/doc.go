// Package logging provides structured logging for the telemetry service.
//
// It wraps log/slog so every package logs the same way:
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - stdout, stderr, or an append-only log file
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file: "./logs/telemetry.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, cfg.Service.Name, version)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Info("starting service", "port", 8080)
//
// # Security
//
// Never log raw API keys, the admin secret, or the hash salt. Key ids and
// device ids are safe to log.
package logging
