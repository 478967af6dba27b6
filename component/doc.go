// Package component defines the lifecycle contract shared by the companion's
// backend clients and servers.
//
// A Registry starts components in registration order, stops them in reverse
// and aggregates their health for the status server.
package component
