// Package version exposes build information set through -ldflags or read
// from the binary's embedded VCS settings.
package version
