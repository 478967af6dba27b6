package kubernetes

import (
	"fmt"
)

const (
	HostModeIP   = "ip"
	HostModeName = "name"
)

// Config holds Kubernetes-specific inspector configuration.
type Config struct {
	// Kubeconfig is the path to the kubeconfig file. Empty uses in-cluster config.
	Kubeconfig string `mapstructure:"kubeconfig" json:"kubeconfig"`

	// Context is the kubeconfig context to use. Empty uses the current context.
	Context string `mapstructure:"context" json:"context"`

	// Namespace limits inspection to one namespace. Defaults to "default";
	// "*" inspects every namespace.
	Namespace string `mapstructure:"namespace" json:"namespace"`

	// LabelSelector narrows the pods considered, e.g. "app.kubernetes.io/part-of=web".
	LabelSelector string `mapstructure:"label_selector" json:"label_selector"`

	// HostMode selects the backend host: the pod IP ("ip") or the pod name ("name").
	HostMode string `mapstructure:"host_mode" json:"host_mode"`
}

// AllNamespaces is the Namespace value that inspects the whole cluster.
const AllNamespaces = "*"

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.HostMode == "" {
		c.HostMode = HostModeIP
	}
}

// Validate checks the Kubernetes configuration.
func (c *Config) Validate() error {
	switch c.HostMode {
	case HostModeIP, HostModeName:
	default:
		return fmt.Errorf("kubernetes: unsupported host_mode %q (use %q or %q)", c.HostMode, HostModeIP, HostModeName)
	}
	return nil
}
