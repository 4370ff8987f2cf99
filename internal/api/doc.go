// Package api implements the HTTP REST API of the identity service.
//
// This package provides:
//   - Authentication endpoints: login, registration, refresh, logout and
//     password change under /api/v1/auth
//   - Administration of users, roles, permissions and their grants
//   - A paginated audit log endpoint
//   - Health and Prometheus metrics endpoints
//
// # Security
//
// Every protected route runs the edge authenticator (access token signature,
// expiry and revocation check) and then a per-route permission requirement
// resolved against the live catalog. Some user routes also admit the owner
// of the addressed account.
//
// Login and registration are rate limited per client IP when enabled.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. When they are unavailable the health
// endpoint reports "degraded" and auth events are dropped; requests are
// unaffected. The revocation cache follows the configured failure policy.
package api
