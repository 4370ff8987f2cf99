// Package logging provides structured logging for the Gray Logic identity
// service and edge gateway.
//
// This package wraps log/slog so both binaries emit records with the same
// shape: JSON in production, text for development, and default service and
// version fields on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, logging.ServiceIdentity, version)
//	logger.Info("starting service", "port", cfg.API.Port)
//
// # Security
//
// Attributes named password, token, access_token, refresh_token,
// authorization or secret are replaced with "[REDACTED]" before output.
// Prefer logging user IDs over emails where either would do.
package logging
