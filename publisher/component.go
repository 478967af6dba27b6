package publisher

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kbukum/beachhead/component"
	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/logger"
)

// Component wraps a Publisher and implements component.Component. Start
// probes the backend, so an unreachable store fails startup.
type Component struct {
	mu          sync.RWMutex
	publisher   Publisher
	cfg         Config
	providerCfg any
	log         *logger.Logger
}

// NewComponent creates a publisher component for use with the component registry.
func NewComponent(cfg Config, providerCfg any, log *logger.Logger) *Component {
	if log == nil {
		log = logger.Nop()
	}
	cfg.ApplyDefaults()
	return &Component{cfg: cfg, providerCfg: providerCfg, log: log}
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
	_ Publisher             = (*Component)(nil)
)

// Publisher returns the underlying Publisher, or nil if not started.
func (c *Component) Publisher() Publisher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publisher
}

// KeyPrefix reports the prefix keys are written under.
func (c *Component) KeyPrefix() string { return c.cfg.KeyPrefix }

func (c *Component) Name() string { return "publisher" }

func (c *Component) Start(ctx context.Context) error {
	p, err := New(c.cfg, c.providerCfg, c.log)
	if err != nil {
		return fmt.Errorf("publisher start: %w", err)
	}
	if hc, ok := p.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			_ = closePublisher(p)
			return fmt.Errorf("publisher start: %w", err)
		}
	}
	c.mu.Lock()
	c.publisher = p
	c.mu.Unlock()
	return nil
}

func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	p := c.publisher
	c.publisher = nil
	c.mu.Unlock()
	return closePublisher(p)
}

// Publish delegates to the started publisher.
func (c *Component) Publish(ctx context.Context, rec Record, ttl time.Duration) error {
	p := c.Publisher()
	if p == nil {
		return apperrors.PublishFailed(c.cfg.Provider, rec.Spec.Domain, fmt.Errorf("publisher not started"))
	}
	return p.Publish(ctx, rec, ttl)
}

// Query delegates to the started publisher.
func (c *Component) Query(ctx context.Context, prefix string) ([]Entry, error) {
	p := c.Publisher()
	if p == nil {
		return nil, apperrors.QueryFailed(c.cfg.Provider, prefix, fmt.Errorf("publisher not started"))
	}
	return p.Query(ctx, prefix)
}

func (c *Component) Health(ctx context.Context) component.Health {
	p := c.Publisher()
	if p == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "publisher not initialized",
		}
	}
	if hc, ok := p.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return component.Health{
				Name:    c.Name(),
				Status:  component.StatusUnhealthy,
				Message: fmt.Sprintf("health check failed: %v", err),
			}
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Publisher",
		Type:    "publisher",
		Details: fmt.Sprintf("provider=%s prefix=%s", c.cfg.Provider, c.cfg.KeyPrefix),
	}
}

func closePublisher(p Publisher) error {
	if s, ok := p.(*serialized); ok {
		p = s.inner
	}
	if cl, ok := p.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
