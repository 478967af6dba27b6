package inspector

import (
	"context"
	"fmt"
	"strings"
)

// DefaultEnvVar is the environment variable that carries the declaration.
const DefaultEnvVar = "BEACHHEAD_DOMAINS"

const (
	ProviderDocker     = "docker"
	ProviderKubernetes = "kubernetes"
	ProviderStatic     = "static"

	DefaultProvider = ProviderDocker
)

// Declaration is the raw input read from one running container.
type Declaration struct {
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	// Host is the address the proxy should dial for this container.
	Host string `json:"host"`
	// Raw is the value of the declaration variable.
	Raw string `json:"raw"`
	// Present is false when the container does not set the variable at all.
	Present bool `json:"present"`
}

// Inspector returns the current set of running containers and their
// declarations. A failed List is recoverable: the caller skips the tick.
type Inspector interface {
	List(ctx context.Context) ([]Declaration, error)
}

// HealthChecker is implemented by inspectors that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds provider-agnostic inspector configuration.
type Config struct {
	Provider string `mapstructure:"provider" json:"provider"`
	// EnvVar names the declaration variable. Defaults to BEACHHEAD_DOMAINS.
	EnvVar string `mapstructure:"env_var" json:"env_var"`
	// Containers restricts inspection to these names or ID prefixes.
	Containers []string `mapstructure:"containers" json:"containers"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.EnvVar == "" {
		c.EnvVar = DefaultEnvVar
	}
}

// Validate checks that the core configuration is valid.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("inspector: provider is required")
	}
	if strings.ContainsAny(c.EnvVar, "= \t") {
		return fmt.Errorf("inspector: env_var %q must not contain '=' or whitespace", c.EnvVar)
	}
	return nil
}

// Matches reports whether a container passes the Containers filter. An empty
// filter matches everything. Names are compared without the leading slash
// the Docker API puts on them.
func (c *Config) Matches(id string, names ...string) bool {
	if len(c.Containers) == 0 {
		return true
	}
	for _, want := range c.Containers {
		want = strings.TrimPrefix(want, "/")
		if want == "" {
			continue
		}
		if strings.HasPrefix(id, want) {
			return true
		}
		for _, n := range names {
			if strings.TrimPrefix(n, "/") == want {
				return true
			}
		}
	}
	return false
}

// LookupEnv extracts key from a list of KEY=VALUE lines. Lines without '='
// are ignored. When the key appears more than once the values are joined
// with a single space. A key with an empty value still counts as present.
func LookupEnv(env []string, key string) (string, bool) {
	var (
		values  []string
		present bool
	)
	for _, line := range env {
		k, v, ok := strings.Cut(line, "=")
		if !ok || k != key {
			continue
		}
		present = true
		values = append(values, v)
	}
	return strings.Join(values, " "), present
}
