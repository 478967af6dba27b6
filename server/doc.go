// Package server provides the companion's optional HTTP status surface
// using Gin, with h2c so probes may speak HTTP/2 without TLS.
//
// # Endpoints
//
//   - /health: component health aggregation
//   - /live: liveness probe
//   - /ready: readiness probe, ready after the first completed tick
//   - /version: build information
//   - /status: reconciler state and the last tick report
//   - /records: entries currently published under the key prefix
//
// Built-in middleware (server/middleware) recovers panics, propagates a
// request id and logs requests.
package server
