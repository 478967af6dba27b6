// Package config loads service configuration from a YAML file, a .env file,
// the process environment and command-line overrides, in that order of
// precedence, using Viper.
//
// # Usage
//
//	var cfg companion.Config
//	err := config.LoadConfig("beachhead-companion", &cfg,
//	    config.WithEnvPrefix("BEACHHEAD"),
//	    config.WithOverrides(map[string]any{"publish.ttl": "90s"}),
//	)
//
// With the BEACHHEAD prefix, BEACHHEAD_REDIS_ADDR sets redis.addr.
package config
