// Package inspector defines where declarations are read from.
//
// An Inspector lists the running containers together with the raw value of
// the declaration environment variable. Backends live in subpackages and
// register themselves with RegisterFactory from an init function, so a
// binary only needs a blank import to make a backend available:
//
//	import _ "github.com/kbukum/beachhead/inspector/docker"
//
//	insp, err := inspector.New(cfg, &dockerCfg, log)
package inspector
