package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component represents a lifecycle-managed backend client or server.
// The Redis and Consul publishers, the inspectors and the status server
// implement this interface.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start connects the component. A failure here is fatal at startup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component and releases resources.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Description holds summary information for the startup log.
type Description struct {
	// Name is the human-readable display name. Defaults to Name().
	Name string
	// Type categorizes the component: "inspector", "publisher", "server".
	Type string
	// Details is a one-liner such as "unix:///var/run/docker.sock".
	Details string
}

// Describable is optionally implemented by Components to self-report what
// they are and how they're configured.
type Describable interface {
	Describe() Description
}
