package inspector

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kbukum/beachhead/component"
	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/logger"
)

// Component wraps an Inspector and implements component.Component. It is
// itself an Inspector, so the reconciler can be handed the component before
// it has been started.
type Component struct {
	mu          sync.RWMutex
	inspector   Inspector
	cfg         Config
	providerCfg any
	log         *logger.Logger
}

// NewComponent creates an inspector component for use with the component registry.
func NewComponent(cfg Config, providerCfg any, log *logger.Logger) *Component {
	if log == nil {
		log = logger.Nop()
	}
	cfg.ApplyDefaults()
	return &Component{
		cfg:         cfg,
		providerCfg: providerCfg,
		log:         log,
	}
}

// Inspector returns the underlying Inspector, or nil if not started.
func (c *Component) Inspector() Inspector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inspector
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
	_ Inspector             = (*Component)(nil)
)

func (c *Component) Name() string { return "inspector" }

func (c *Component) Start(ctx context.Context) error {
	insp, err := New(c.cfg, c.providerCfg, c.log)
	if err != nil {
		return fmt.Errorf("inspector start: %w", err)
	}
	if hc, ok := insp.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			_ = closeInspector(insp)
			return fmt.Errorf("inspector start: %w", err)
		}
	}
	c.mu.Lock()
	c.inspector = insp
	c.mu.Unlock()
	return nil
}

func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	insp := c.inspector
	c.inspector = nil
	c.mu.Unlock()
	return closeInspector(insp)
}

// List delegates to the started inspector.
func (c *Component) List(ctx context.Context) ([]Declaration, error) {
	insp := c.Inspector()
	if insp == nil {
		return nil, apperrors.InspectionFailed(c.cfg.Provider, fmt.Errorf("inspector not started"))
	}
	return insp.List(ctx)
}

func (c *Component) Health(ctx context.Context) component.Health {
	insp := c.Inspector()
	if insp == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "inspector not initialized",
		}
	}
	if hc, ok := insp.(HealthChecker); ok {
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
		Name:    "Inspector",
		Type:    "inspector",
		Details: fmt.Sprintf("provider=%s env_var=%s", c.cfg.Provider, c.cfg.EnvVar),
	}
}

func closeInspector(insp Inspector) error {
	if cl, ok := insp.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
