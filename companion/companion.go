package companion

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/beachhead/bootstrap"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/observability"
	"github.com/kbukum/beachhead/publisher"
	"github.com/kbukum/beachhead/reconciler"
	"github.com/kbukum/beachhead/server"

	// Backends register their factories on import.
	_ "github.com/kbukum/beachhead/inspector/docker"
	_ "github.com/kbukum/beachhead/inspector/kubernetes"
	_ "github.com/kbukum/beachhead/inspector/static"
	_ "github.com/kbukum/beachhead/publisher/consul"
	_ "github.com/kbukum/beachhead/publisher/dryrun"
	_ "github.com/kbukum/beachhead/publisher/redis"
)

// Companion is the assembled process.
type Companion struct {
	App        *bootstrap.App[*Config]
	Inspector  *inspector.Component
	Publisher  *publisher.Component
	Reconciler *reconciler.Reconciler
	// Server is nil unless server.enabled is set.
	Server *server.Server
}

// New validates cfg and builds every component. Nothing connects until Run.
func New(cfg *Config, opts ...bootstrap.Option) (*Companion, error) {
	app, err := bootstrap.NewApp(cfg, opts...)
	if err != nil {
		return nil, err
	}
	log := app.Logger

	c := &Companion{
		App:       app,
		Inspector: inspector.NewComponent(cfg.Inspector, cfg.inspectorProviderConfig(), log),
		Publisher: publisher.NewComponent(cfg.Publisher, cfg.publisherProviderConfig(), log),
	}

	metrics, err := observability.NewGlobalMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	c.Reconciler, err = reconciler.New(c.Inspector, c.Publisher, cfg.Reconcile,
		reconciler.WithLogger(log),
		reconciler.WithMetrics(metrics),
		reconciler.WithBackend(cfg.Publisher.Provider),
	)
	if err != nil {
		return nil, err
	}

	if err := app.RegisterComponent(c.Inspector); err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(c.Publisher); err != nil {
		return nil, err
	}

	if cfg.Server.Enabled {
		c.Server = server.New(cfg.Server, log)
		c.Server.RegisterEndpoints(server.Endpoints{
			ServiceName:  cfg.Name,
			Health:       app.Components.HealthAll,
			Status:       c.Reconciler,
			Records:      c.Publisher,
			RecordPrefix: cfg.Publisher.QueryPrefix(),
			StallAfter:   stallAfter(&cfg.Reconcile),
		})
		if err := app.RegisterComponent(server.NewComponent(c.Server)); err != nil {
			return nil, err
		}
	}

	c.setupTelemetry(cfg, log)
	app.OnConfigure(func(ctx context.Context, app *bootstrap.App[*Config]) error {
		c.reportExisting(ctx, app, cfg.Publisher.QueryPrefix())
		return nil
	})
	for _, note := range cfg.describe() {
		app.Summary.AddNote("%s", note)
	}
	return c, nil
}

// setupTelemetry installs the OTLP providers once the components are up
// and flushes them on shutdown. Instruments created earlier delegate to
// the installed providers.
func (c *Companion) setupTelemetry(cfg *Config, log *logger.Logger) {
	if !cfg.Telemetry.Enabled {
		return
	}
	var shutdown observability.ShutdownFunc
	c.App.OnStart(func(ctx context.Context) error {
		var err error
		shutdown, err = observability.Setup(ctx, cfg.Telemetry, observability.ServiceInfo{
			Name:        cfg.Name,
			Version:     cfg.Version,
			Environment: cfg.Environment,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		log.Info("Telemetry enabled", map[string]interface{}{"endpoint": cfg.Telemetry.Endpoint})
		return nil
	})
	c.App.OnStop(func(ctx context.Context) error {
		if shutdown == nil {
			return nil
		}
		return shutdown(ctx)
	})
}

// reportExisting notes how many records the store already holds, such as
// those left by a previous run. A store that cannot list them does not
// block startup.
func (c *Companion) reportExisting(ctx context.Context, app *bootstrap.App[*Config], prefix string) {
	entries, err := c.Publisher.Query(ctx, prefix)
	if err != nil {
		app.Logger.Warn("Listing existing records failed", map[string]interface{}{
			logger.FieldError: err,
		})
		return
	}
	app.Summary.AddNote("%d records already under %s", len(entries), prefix)
}

// Run starts the components and runs the reconciler until ctx is
// cancelled, a signal arrives, or the single tick of once mode is done.
func (c *Companion) Run(ctx context.Context) error {
	return c.App.RunTask(ctx, c.Reconciler.Run)
}

// stallAfter allows three missed refreshes before /live reports a stall.
func stallAfter(cfg *reconciler.Config) time.Duration {
	if cfg.Once {
		return 0
	}
	return 3*cfg.Interval + cfg.ShutdownGrace
}
