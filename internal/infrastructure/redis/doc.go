// Package redis provides the Redis connection used by the access token
// revocation cache.
//
// The client is shared by the identity service (which writes revocations on
// logout) and the edge gateway (which checks them on every request). Keys
// are namespaced with redis.key_prefix so several deployments can share one
// instance.
//
// Every command issued through Client.Context is bounded by redis.timeout;
// a slow cache surfaces as an error the caller's failure policy handles.
package redis
