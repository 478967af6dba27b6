// Package bootstrap orchestrates the lifecycle of a companion process.
//
// An App owns a typed configuration, a component registry and startup and
// shutdown hooks. RunTask starts the components, runs the task until it
// returns or SIGINT/SIGTERM arrives, then stops the components in reverse
// order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	_ = app.RegisterComponent(publisherComponent)
//	err = app.RunTask(ctx, reconciler.Run)
package bootstrap
