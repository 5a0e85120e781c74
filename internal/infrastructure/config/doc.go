// Package config handles loading and validating the Yanzi bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Yanzi and MQTT passwords should be set via environment variables
//     (YANZI_PASSWORD, GRAYLOGIC_MQTT_PASSWORD)
//   - The config file should have restricted permissions (0600)
//   - Client certificate keys referenced by yanzi.tls must not be world-readable
//
// Usage:
//
//	cfg, err := config.Load("configs/yanzi.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Yanzi.LocationID)
package config
