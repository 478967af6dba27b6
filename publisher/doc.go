// Package publisher defines where records are published to.
//
// A record is a parsed domain spec bound to the container serving it. Each
// of its port mappings is stored under its own key,
//
//	<prefix>:<domain>:<scheme>
//
// with a JSON payload. Keys are deterministic, so publishing again
// overwrites the previous value and restarts its expiry. Nothing is ever
// deleted explicitly: an entry whose container went away simply lapses.
//
// Backends register with RegisterFactory from an init function:
//
//	import _ "github.com/kbukum/beachhead/publisher/redis"
package publisher
