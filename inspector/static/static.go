// Package static serves declarations from configuration instead of a
// container runtime. It suits hosts where services run without a container
// engine, and it backs tests.
package static

import (
	"context"
	"fmt"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/validation"
)

func init() {
	inspector.RegisterFactory(inspector.ProviderStatic, func(cfg inspector.Config, providerCfg any, log *logger.Logger) (inspector.Inspector, error) {
		c := &Config{}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("static: expected *static.Config, got %T", providerCfg)
			}
			c = pc
		}
		if err := c.Validate(); err != nil {
			return nil, apperrors.InvalidConfig("static", err.Error())
		}
		return New(cfg, c), nil
	})
}

// Entry is one configured service.
type Entry struct {
	Name    string `mapstructure:"name" json:"name"`
	Host    string `mapstructure:"host" json:"host"`
	Domains string `mapstructure:"domains" json:"domains"`
}

// Config lists the services to publish.
type Config struct {
	Entries []Entry `mapstructure:"entries" json:"entries"`
}

// Validate checks that every entry is addressable.
func (c *Config) Validate() error {
	v := validation.New()
	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		field := fmt.Sprintf("static.entries[%d]", i)
		v.Required(field+".name", e.Name)
		v.Required(field+".host", e.Host)
		if e.Name != "" {
			v.Custom(!seen[e.Name], field+".name", fmt.Sprintf("duplicates %q", e.Name))
			seen[e.Name] = true
		}
	}
	return v.Validate()
}

// Inspector returns the configured entries on every List.
type Inspector struct {
	decls []inspector.Declaration
}

// New builds a static inspector. Entries that fail the container filter are
// dropped once, here.
func New(core inspector.Config, cfg *Config) *Inspector {
	decls := make([]inspector.Declaration, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		if !core.Matches(e.Name, e.Name) {
			continue
		}
		decls = append(decls, inspector.Declaration{
			ContainerID:   e.Name,
			ContainerName: e.Name,
			Host:          e.Host,
			Raw:           e.Domains,
			Present:       true,
		})
	}
	return &Inspector{decls: decls}
}

var _ inspector.Inspector = (*Inspector)(nil)

func (i *Inspector) List(ctx context.Context) ([]inspector.Declaration, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.InspectionFailed(inspector.ProviderStatic, err)
	}
	out := make([]inspector.Declaration, len(i.decls))
	copy(out, i.decls)
	return out, nil
}
