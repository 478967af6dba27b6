// Package logger provides structured logging for the companion using zerolog.
//
// It supports JSON and console output, level configuration driven by the
// --verbose and --quiet switches, and component-scoped loggers that carry the
// reconciliation tick id.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.GetGlobalLogger().WithComponent("reconciler")
//	log.Info("tick complete", logger.Fields(logger.FieldTickID, id))
package logger
