package observability

import (
	"context"
	"errors"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(ctx context.Context) error

// Setup installs the meter and tracer providers when telemetry is enabled.
// When it is disabled the returned shutdown is a no-op.
func Setup(ctx context.Context, cfg Config, svc ServiceInfo) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	cfg.ApplyDefaults()

	mp, err := InitMeter(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}
	tp, err := InitTracer(ctx, cfg, svc)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
