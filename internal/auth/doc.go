// Package auth is the identity core of Gray Logic: accounts, the role and
// permission catalog, token issuance, sessions and permission resolution.
//
// The pieces are:
//   - TokenService signs and verifies HS256 access and refresh tokens
//   - SessionStore keeps the live refresh tokens of each user, with
//     rotation and family-based reuse detection
//   - RevocationCache remembers revoked access tokens in Redis until they
//     would have expired anyway
//   - Resolver answers "may this user do this action on this resource"
//     from the store on every call, so grants and deactivations apply to
//     the next request
//   - Service ties them together into login, refresh, logout, logout-all,
//     change-password and registration
//
// Permissions are (resource, action) pairs. The manage action implies every
// other action on the same resource and nothing else. Users get permissions
// through roles and through custom per-user grants; only active roles and
// active permissions count.
//
// Passwords are hashed with Argon2id. Tokens are persisted only as SHA-256
// digests.
package auth
