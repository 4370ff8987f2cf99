// Package access holds the HTTP middlewares that put the identity core in
// front of requests.
//
// Authenticator runs at the edge: it checks the bearer token's signature,
// expiry and revocation, then stores the claims in the request context.
// Authorizer runs inside services: it asks the permission resolver whether
// the authenticated caller may perform (resource, action), optionally
// allowing the owner of the addressed record.
//
// The package also carries the plumbing both binaries share: Chain, request
// ids, logging, recovery, CORS, body limits, per-client rate limiting and
// Prometheus instrumentation.
package access
