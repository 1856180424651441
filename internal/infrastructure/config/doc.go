// Package config handles loading and validating Kost RFID core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (KOSTRFID_*)
//   - Validation of required fields
//   - Placeholder detection for broker credentials
//
// Security Considerations:
//   - Broker passwords and the JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.MQTT.Validate(); err != nil {
//	    // broker not configured yet; the API still starts
//	}
package config
