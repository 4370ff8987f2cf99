// Package config handles loading and validating Gray Logic Identity configuration.
//
// The same file configures both binaries: the identity service (cmd/identity)
// reads the database, MQTT, InfluxDB and API sections; the edge gateway
// (cmd/gateway) reads the gateway section. Both read security and redis,
// because token verification and revocation must agree across them.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a sibling .env file for local development secrets
//   - Overriding with environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (JWT secret, Redis and MQTT passwords) should be set via environment variables
//   - The JWT secret must be identical for the gateway and the identity service
//   - security.revocation.failure_policy has no default and must be chosen explicitly
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name)
package config
