// Package reconciler drives the poll loop: list declarations, parse them,
// publish the resulting records with a TTL, sleep, repeat.
//
// The loop keeps no record of what it published. An entry whose container
// has gone is not deleted; it is simply not refreshed and lapses when its
// TTL runs out. The interval must therefore stay below the TTL, and the
// default of 45% of the TTL leaves room for one missed tick.
//
// Ticks never overlap. Within a tick, declarations are published by at most
// Config.Workers goroutines; the records of a single declaration are
// published in order.
package reconciler
