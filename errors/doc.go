// Package errors provides the structured error type shared by the companion's
// inspectors, publishers and reconciler. Every error carries a machine-readable
// code and a retryable flag that drives the in-tick publish retry.
package errors
