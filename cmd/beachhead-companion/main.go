// Command beachhead-companion publishes the routing declarations of running
// containers to a shared key-value store for a reverse proxy to pick up.
//
// Usage:
//
//	beachhead-companion [flags] [container...]
//
// Each container declares its routes in BEACHHEAD_DOMAINS as a
// space-separated list of DOMAIN[:http[=PORT]][:https[=PORT]] specs.
// Naming containers on the command line limits inspection to them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/kbukum/beachhead/bootstrap"
	"github.com/kbukum/beachhead/companion"
	"github.com/kbukum/beachhead/config"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/reconciler"
	"github.com/kbukum/beachhead/version"
)

// Exit codes.
const (
	exitOK         = 0
	exitTickFailed = 1
	exitFatal      = 100
)

// envPrefix scopes environment configuration: BEACHHEAD_REDIS_ADDR sets redis.addr.
const envPrefix = "BEACHHEAD"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// options holds what the command line asked for beyond plain overrides.
type options struct {
	configFile  string
	envFile     string
	verbose     int
	quiet       int
	showVersion bool
	overrides   map[string]any
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := pflag.NewFlagSet(companion.ServiceName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags] [--] [container...]\n\nFlags:\n", companion.ServiceName)
		fs.PrintDefaults()
	}

	opts := &options{}
	fs.StringVar(&opts.configFile, "config", "", "path to a config.yml")
	fs.StringVar(&opts.envFile, "env-file", "", "path to a .env file")
	fs.CountVarP(&opts.verbose, "verbose", "v", "more diagnostic output (repeatable)")
	fs.CountVarP(&opts.quiet, "quiet", "q", "only warnings and errors (repeatable)")
	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")

	dryRun := fs.BoolP("dry-run", "n", false, "inspect and log, but write nothing; ignores --quiet")
	once := fs.Bool("once", false, "publish once and exit")
	expire := fs.Duration("expire", reconciler.DefaultTTL, "key expiry; 0 writes keys that never expire")
	refresh := fs.Duration("refresh", 0, "time between refreshes; defaults to 45% of --expire, 0 means --once")
	inspectorName := fs.String("inspector", "", "declaration source: docker, kubernetes or static")
	publisherName := fs.String("publisher", "", "store: redis, consul or dryrun")
	redisHost := fs.String("redis-host", "localhost", "Redis host")
	redisPort := fs.Int("redis-port", 6379, "Redis port")
	dockerURL := fs.String("docker-url", "", "Docker daemon URL (default unix:///var/run/docker.sock)")
	envVar := fs.String("envvar", "", "declaration variable to read from containers (default BEACHHEAD_DOMAINS)")
	keyPrefix := fs.String("key-prefix", "", "first segment of published keys (default beachhead)")
	httpAddr := fs.String("http", "", "serve health and status on this address, e.g. :9180")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o := make(map[string]any)
	set := func(flag, key string, value any) {
		if fs.Changed(flag) {
			o[key] = value
		}
	}
	set("dry-run", "dry_run", *dryRun)
	set("once", "reconcile.once", *once)
	set("inspector", "inspector.provider", *inspectorName)
	set("publisher", "publisher.provider", *publisherName)
	set("docker-url", "docker.host", *dockerURL)
	set("envvar", "inspector.env_var", *envVar)
	set("key-prefix", "publisher.key_prefix", *keyPrefix)

	if fs.Changed("expire") {
		if *expire < 0 {
			return nil, fmt.Errorf("--expire must not be negative")
		}
		if *expire == 0 {
			o["publish.expire"] = false
		} else {
			o["publish.expire"] = true
			o["publish.ttl"] = *expire
		}
	}
	if fs.Changed("refresh") {
		switch {
		case *refresh < 0:
			return nil, fmt.Errorf("--refresh must not be negative")
		case *refresh == 0:
			o["reconcile.once"] = true
		default:
			o["reconcile.interval"] = *refresh
		}
	}
	if fs.Changed("redis-host") || fs.Changed("redis-port") {
		o["redis.addr"] = net.JoinHostPort(*redisHost, strconv.Itoa(*redisPort))
	}
	if fs.Changed("http") {
		host, port, err := net.SplitHostPort(*httpAddr)
		if err != nil {
			return nil, fmt.Errorf("--http: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("--http: invalid port %q", port)
		}
		o["server.enabled"] = true
		o["server.host"] = host
		o["server.port"] = p
	}
	if fs.NArg() > 0 {
		o["inspector.containers"] = fs.Args()
	}

	opts.overrides = o
	return opts, nil
}

// loadConfig reads files, environment and flags, in that order of precedence.
func loadConfig(opts *options) (*companion.Config, error) {
	cfg := &companion.Config{}
	loaderOpts := []config.LoaderOption{
		config.WithEnvPrefix(envPrefix),
		config.WithOverrides(opts.overrides),
	}
	if opts.configFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(opts.configFile))
	}
	if opts.envFile != "" {
		loaderOpts = append(loaderOpts, config.WithEnvFile(opts.envFile))
	}
	if err := config.LoadConfig(companion.ServiceName, cfg, loaderOpts...); err != nil {
		return nil, err
	}
	cfg.Verbose = opts.verbose
	cfg.Quiet = opts.quiet
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Fatal error: %v\n", err)
		return exitFatal
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version.Get().String())
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal error: %v\n", err)
		return exitFatal
	}

	start := time.Now()
	c, err := companion.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal error: %v\n", err)
		return exitFatal
	}

	err = c.Run(ctx)
	if err == nil {
		return exitOK
	}
	log := c.App.Logger
	if errors.Is(err, bootstrap.ErrStartup) {
		log.Error("fatal error", map[string]interface{}{logger.FieldError: err})
		return exitFatal
	}
	log.Error("publishing failed", map[string]interface{}{
		logger.FieldError:    err,
		logger.FieldDuration: time.Since(start).Milliseconds(),
	})
	return exitTickFailed
}
