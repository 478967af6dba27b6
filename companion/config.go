package companion

import (
	"errors"
	"fmt"
	"time"

	"github.com/kbukum/beachhead/config"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/inspector/docker"
	"github.com/kbukum/beachhead/inspector/kubernetes"
	"github.com/kbukum/beachhead/inspector/static"
	"github.com/kbukum/beachhead/observability"
	"github.com/kbukum/beachhead/publisher"
	"github.com/kbukum/beachhead/publisher/consul"
	"github.com/kbukum/beachhead/publisher/redis"
	"github.com/kbukum/beachhead/reconciler"
	"github.com/kbukum/beachhead/server"
	"github.com/kbukum/beachhead/validation"
	"github.com/kbukum/beachhead/version"
)

// ServiceName names the process in logs, telemetry and config search paths.
const ServiceName = "beachhead-companion"

// PublishConfig controls key expiry.
type PublishConfig struct {
	// TTL is the key expiry. Defaults to 60s.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
	// Expire enables key expiry. Defaults to true; false writes keys that
	// never expire.
	Expire *bool `mapstructure:"expire"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *PublishConfig) ApplyDefaults() {
	if c.TTL <= 0 {
		c.TTL = reconciler.DefaultTTL
	}
	if c.Expire == nil {
		expire := true
		c.Expire = &expire
	}
}

// Expires reports whether keys are written with a TTL.
func (c *PublishConfig) Expires() bool {
	return c.Expire == nil || *c.Expire
}

// EffectiveTTL is the TTL handed to publishers: zero when expiry is off.
func (c *PublishConfig) EffectiveTTL() time.Duration {
	if !c.Expires() {
		return 0
	}
	return c.TTL
}

// Config is the complete companion configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Inspector  inspector.Config  `mapstructure:"inspector"`
	Docker     docker.Config     `mapstructure:"docker"`
	Kubernetes kubernetes.Config `mapstructure:"kubernetes"`
	Static     static.Config     `mapstructure:"static"`

	Publisher publisher.Config `mapstructure:"publisher"`
	Redis     redis.Config     `mapstructure:"redis"`
	Consul    consul.Config    `mapstructure:"consul"`

	Publish   PublishConfig        `mapstructure:"publish"`
	Reconcile reconciler.Config    `mapstructure:"reconcile"`
	Server    server.Config        `mapstructure:"server"`
	Telemetry observability.Config `mapstructure:"telemetry"`

	// DryRun swaps the publisher for one that only logs.
	DryRun bool `mapstructure:"dry_run"`

	// Verbose and Quiet are the -v and -q counts from the command line.
	Verbose int `mapstructure:"-"`
	Quiet   int `mapstructure:"-"`
}

// ApplyDefaults fills every section. The reconcile interval is derived
// from the publish TTL unless set explicitly.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = ServiceName
	}
	if c.Version == "" {
		c.Version = version.Get().Version
	}
	c.ServiceConfig.ApplyDefaults()
	c.Logging.ApplyVerbosity(c.Verbose, c.Quiet)
	c.Verbose, c.Quiet = 0, 0

	c.Inspector.ApplyDefaults()
	c.Docker.ApplyDefaults()
	c.Kubernetes.ApplyDefaults()

	if c.DryRun {
		c.Publisher.Provider = publisher.ProviderDryRun
		if c.Logging.Level == "warn" || c.Logging.Level == "error" {
			c.Logging.Level = "info"
		}
	}
	c.Publisher.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Consul.ApplyDefaults()

	c.Publish.ApplyDefaults()
	c.Reconcile.TTL = c.Publish.EffectiveTTL()
	c.Reconcile.ApplyDefaults()

	c.Server.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate checks struct tags, each active section and the relations
// between them.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := validation.Validate(c); err != nil {
		return err
	}

	v := validation.New()
	v.OneOf("inspector.provider", c.Inspector.Provider, inspector.Providers())
	v.OneOf("publisher.provider", c.Publisher.Provider, publisher.Providers())
	addErr(v, "inspector", c.Inspector.Validate())
	addErr(v, "publisher", c.Publisher.Validate())

	switch c.Inspector.Provider {
	case inspector.ProviderDocker:
		addErr(v, "docker", c.Docker.Validate())
	case inspector.ProviderKubernetes:
		addErr(v, "kubernetes", c.Kubernetes.Validate())
	case inspector.ProviderStatic:
		addErr(v, "static", c.Static.Validate())
		v.Custom(len(c.Static.Entries) > 0, "static.entries", "at least one entry is required")
	}

	switch c.Publisher.Provider {
	case publisher.ProviderRedis:
		addErr(v, "redis", c.Redis.Validate())
	case publisher.ProviderConsul:
		addErr(v, "consul", c.Consul.Validate())
	}

	if c.Server.Enabled {
		addErr(v, "server", c.Server.Validate())
	}
	if c.Telemetry.Enabled {
		v.Custom(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1, "telemetry.sample_rate", "must be between 0 and 1")
	}

	return errors.Join(v.Validate(), c.Reconcile.Validate())
}

func addErr(v *validation.Validator, field string, err error) {
	if err != nil {
		v.AddError(field, err.Error())
	}
}

// inspectorProviderConfig returns the section for the selected inspector.
func (c *Config) inspectorProviderConfig() any {
	switch c.Inspector.Provider {
	case inspector.ProviderDocker:
		return &c.Docker
	case inspector.ProviderKubernetes:
		return &c.Kubernetes
	case inspector.ProviderStatic:
		return &c.Static
	}
	return nil
}

// publisherProviderConfig returns the section for the selected publisher.
func (c *Config) publisherProviderConfig() any {
	switch c.Publisher.Provider {
	case publisher.ProviderRedis:
		return &c.Redis
	case publisher.ProviderConsul:
		return &c.Consul
	}
	return nil
}

// describe lists the effective loop settings for the startup summary.
func (c *Config) describe() []string {
	ttl := "never"
	if c.Reconcile.TTL > 0 {
		ttl = c.Reconcile.TTL.String()
	}
	mode := fmt.Sprintf("every %s", c.Reconcile.Interval)
	if c.Reconcile.Once {
		mode = "once"
	}
	return []string{
		fmt.Sprintf("refresh %s, keys expire after %s", mode, ttl),
		fmt.Sprintf("declarations from $%s, keys under %s", c.Inspector.EnvVar, c.Publisher.QueryPrefix()),
		fmt.Sprintf("parse policy %s, missing declarations %s", c.Reconcile.ParsePolicy, c.Reconcile.Missing),
	}
}
