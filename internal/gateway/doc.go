// Package gateway implements the edge gateway in front of the platform's
// backend services.
//
// Each configured route maps a path prefix to an upstream URL. The longest
// matching prefix wins. Public routes are forwarded as-is; every other route
// first runs the access token authenticator and, when the route lists roles,
// a coarse role check. Fine-grained permission checks are left to the
// services themselves.
//
// Upstreams receive the caller's identity in X-User-ID, X-User-Email and
// X-User-Roles. Copies of these headers sent by the client are always
// removed, so a service can trust them.
package gateway
