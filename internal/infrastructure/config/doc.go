// Package config handles loading and validating the telemetry service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with TELEMETRY_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The admin secret and hash salt have no defaults and must be supplied,
//     preferably via TELEMETRY_ADMIN_SECRET and TELEMETRY_HASH_SALT
//   - Rotating the hash salt invalidates every issued API key
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name)
package config
