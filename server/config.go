package server

import (
	"github.com/kbukum/beachhead/validation"
)

// DefaultPort is the status server's listen port.
const DefaultPort = 9180

// Config holds status server configuration.
type Config struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	Host         string `yaml:"host" mapstructure:"host"`
	Port         int    `yaml:"port" mapstructure:"port"`
	ReadTimeout  int    `yaml:"read_timeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" mapstructure:"write_timeout"` // seconds
	IdleTimeout  int    `yaml:"idle_timeout" mapstructure:"idle_timeout"`   // seconds
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	v := validation.New()
	v.Custom(c.Port >= 0 && c.Port <= 65535, "server.port", "must be between 0 and 65535")
	v.Custom(c.ReadTimeout >= 0, "server.read_timeout", "must not be negative")
	v.Custom(c.WriteTimeout >= 0, "server.write_timeout", "must not be negative")
	v.Custom(c.IdleTimeout >= 0, "server.idle_timeout", "must not be negative")
	return v.Validate()
}
