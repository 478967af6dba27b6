// Package docker reads declarations from the environment of running Docker
// containers through the Engine API.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/logger"
)

func init() {
	inspector.RegisterFactory(inspector.ProviderDocker, func(cfg inspector.Config, providerCfg any, log *logger.Logger) (inspector.Inspector, error) {
		c := &Config{}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("docker: expected *docker.Config, got %T", providerCfg)
			}
			c = pc
		}
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			return nil, apperrors.InvalidConfig("docker", err.Error())
		}
		return NewInspector(cfg, c, log)
	})
}

// containerAPI is the part of the Engine client the inspector uses.
type containerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Inspector implements inspector.Inspector using the Docker Engine SDK.
type Inspector struct {
	api  containerAPI
	core inspector.Config
	cfg  *Config
	log  *logger.Logger
}

// NewInspector creates a Docker inspector. The client connects lazily, so
// an unreachable daemon surfaces on the first List or HealthCheck.
func NewInspector(core inspector.Config, cfg *Config, log *logger.Logger) (*Inspector, error) {
	opts := []client.Opt{
		client.WithHost(cfg.Host),
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	if cfg.TLS != nil && cfg.TLS.Cert != "" {
		opts = append(opts, client.WithTLSClientConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}
	return newInspector(cli, core, cfg, log), nil
}

func newInspector(api containerAPI, core inspector.Config, cfg *Config, log *logger.Logger) *Inspector {
	core.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Inspector{api: api, core: core, cfg: cfg, log: log.WithComponent("inspector.docker")}
}

var _ inspector.Inspector = (*Inspector)(nil)

// List returns one declaration per running container that passes the
// container filter. A container that disappears between the list and the
// inspect call is skipped. Any other failure fails the whole listing.
func (i *Inspector) List(ctx context.Context) ([]inspector.Declaration, error) {
	summaries, err := i.api.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("status", "running")),
	})
	if err != nil {
		return nil, apperrors.InspectionFailed(inspector.ProviderDocker, err)
	}
	i.log.Debug("listed running containers", map[string]interface{}{"count": len(summaries)})

	decls := make([]inspector.Declaration, 0, len(summaries))
	for _, s := range summaries {
		if !i.core.Matches(s.ID, s.Names...) {
			continue
		}
		info, err := i.api.ContainerInspect(ctx, s.ID)
		if err != nil {
			if cerrdefs.IsNotFound(err) {
				i.log.Debug("container vanished before inspection", map[string]interface{}{
					logger.FieldContainerID: s.ID,
				})
				continue
			}
			return nil, apperrors.InspectionFailed(inspector.ProviderDocker, err).
				WithDetail(logger.FieldContainerID, s.ID)
		}
		decls = append(decls, i.declaration(s, info))
	}
	return decls, nil
}

func (i *Inspector) declaration(s container.Summary, info container.InspectResponse) inspector.Declaration {
	name := containerName(s, info)
	d := inspector.Declaration{
		ContainerID:   s.ID,
		ContainerName: name,
		Host:          i.host(name, info),
	}
	if info.Config != nil {
		d.Raw, d.Present = inspector.LookupEnv(info.Config.Env, i.core.EnvVar)
	}
	return d
}

// host picks the backend address. In ip mode the configured network wins,
// then the network named by the container's network mode, then the first
// network with an address. A container without any address falls back to
// its name.
func (i *Inspector) host(name string, info container.InspectResponse) string {
	if i.cfg.HostMode == HostModeName {
		return name
	}
	if info.NetworkSettings == nil || len(info.NetworkSettings.Networks) == 0 {
		return name
	}
	nets := info.NetworkSettings.Networks

	candidates := make([]string, 0, len(nets)+2)
	if i.cfg.Network != "" {
		candidates = append(candidates, i.cfg.Network)
	}
	if info.ContainerJSONBase != nil && info.HostConfig != nil {
		candidates = append(candidates, string(info.HostConfig.NetworkMode))
	}
	rest := make([]string, 0, len(nets))
	for n := range nets {
		rest = append(rest, n)
	}
	sort.Strings(rest)
	candidates = append(candidates, rest...)

	for _, n := range candidates {
		if ep, ok := nets[n]; ok && ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return name
}

func containerName(s container.Summary, info container.InspectResponse) string {
	if info.ContainerJSONBase != nil && info.Name != "" {
		return strings.TrimPrefix(info.Name, "/")
	}
	if len(s.Names) > 0 {
		return strings.TrimPrefix(s.Names[0], "/")
	}
	return s.ID
}

// HealthCheck pings the Docker daemon.
func (i *Inspector) HealthCheck(ctx context.Context) error {
	if _, err := i.api.Ping(ctx); err != nil {
		return apperrors.ConnectionFailed("docker").WithCause(err)
	}
	return nil
}

// Close releases the client's transport.
func (i *Inspector) Close() error {
	return i.api.Close()
}
