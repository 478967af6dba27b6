// Package companion assembles the beachhead companion process: it loads
// one configuration, builds the inspector and publisher backends it
// names, and runs the reconciler under the bootstrap lifecycle, with the
// optional status server alongside.
package companion
