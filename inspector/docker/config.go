package docker

import (
	"errors"
	"fmt"
)

const (
	// HostModeIP publishes the container's IP address as the backend host.
	HostModeIP = "ip"
	// HostModeName publishes the container name. Use it when the proxy shares
	// a user-defined network with the containers and resolves them by name.
	HostModeName = "name"
)

// Config holds Docker-specific inspector configuration.
type Config struct {
	Host       string     `mapstructure:"host" json:"host"`
	APIVersion string     `mapstructure:"api_version" json:"api_version"`
	TLS        *TLSConfig `mapstructure:"tls" json:"tls"`
	// HostMode selects how the backend host is derived: "ip" or "name".
	HostMode string `mapstructure:"host_mode" json:"host_mode"`
	// Network picks the IP from this network when HostMode is "ip".
	Network string `mapstructure:"network" json:"network"`
}

// TLSConfig holds Docker TLS settings.
type TLSConfig struct {
	CACert string `mapstructure:"ca_cert" json:"ca_cert"`
	Cert   string `mapstructure:"cert" json:"cert"`
	Key    string `mapstructure:"key" json:"key"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "unix:///var/run/docker.sock"
	}
	if c.HostMode == "" {
		c.HostMode = HostModeIP
	}
}

// Validate checks the Docker configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("docker: host is required")
	}
	switch c.HostMode {
	case HostModeIP, HostModeName:
	default:
		return fmt.Errorf("docker: unsupported host_mode %q (use %q or %q)", c.HostMode, HostModeIP, HostModeName)
	}
	if c.TLS != nil {
		if c.TLS.Cert == "" || c.TLS.Key == "" {
			return fmt.Errorf("docker: tls cert and key are both required when tls is enabled")
		}
	}
	return nil
}
