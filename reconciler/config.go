package reconciler

import (
	"time"

	"github.com/kbukum/beachhead/domainspec"
	"github.com/kbukum/beachhead/resilience"
	"github.com/kbukum/beachhead/validation"
)

// Missing-declaration policies.
const (
	MissingIgnore = "ignore"
	MissingReport = "report"
)

const (
	// DefaultTTL is the expiry of published keys.
	DefaultTTL = 60 * time.Second
	// DefaultWorkers bounds the in-tick publish fan-out.
	DefaultWorkers = 4
	// DefaultShutdownGrace is how long an in-flight tick may run after stop.
	DefaultShutdownGrace = 5 * time.Second
	// MinInterval is the floor for the derived interval.
	MinInterval = time.Second
)

// DefaultInterval derives the poll interval from the TTL: 45% of it, so a
// key survives one missed refresh. Without expiry the interval is 45% of
// DefaultTTL.
func DefaultInterval(ttl time.Duration, expire bool) time.Duration {
	if !expire || ttl <= 0 {
		ttl = DefaultTTL
	}
	d := ttl * 45 / 100
	if d < MinInterval {
		d = MinInterval
	}
	return d
}

// Config controls the poll loop.
type Config struct {
	// Interval is the pause between ticks.
	Interval time.Duration `mapstructure:"interval"`
	// TTL is the expiry written with every key. Zero writes keys that never expire.
	TTL time.Duration `mapstructure:"-"`
	// Once runs a single tick and returns.
	Once bool `mapstructure:"once"`
	// Workers bounds how many declarations are published concurrently.
	Workers int `mapstructure:"workers"`
	// ParsePolicy is "per_token" or "atomic".
	ParsePolicy string `mapstructure:"parse_policy"`
	// Missing is "ignore" or "report" for containers without a declaration.
	Missing string `mapstructure:"missing"`
	// ShutdownGrace bounds how long an in-flight tick may continue after stop.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	// Retry is the in-tick publish retry.
	Retry resilience.RetryConfig `mapstructure:"retry"`
	// Breaker guards the publisher across ticks.
	Breaker resilience.CircuitBreakerConfig `mapstructure:"breaker"`
}

// ApplyDefaults fills in zero-valued fields. TTL must be set first, since
// the interval is derived from it. A negative Breaker.MaxFailures disables
// the breaker.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval(c.TTL, c.TTL > 0)
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ParsePolicy == "" {
		c.ParsePolicy = domainspec.PerToken.String()
	}
	if c.Missing == "" {
		c.Missing = MissingIgnore
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	c.Retry.ApplyDefaults()
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = c.Interval
	}
}

// Validate checks the loop settings.
func (c *Config) Validate() error {
	v := validation.New()
	v.MinDuration("reconcile.interval", c.Interval, MinInterval)
	if c.TTL > 0 {
		v.Custom(c.Interval < c.TTL, "reconcile.interval", "must be shorter than publish.ttl, or keys expire between refreshes")
	}
	v.Custom(c.TTL >= 0, "publish.ttl", "must not be negative")
	v.Custom(c.Workers >= 1, "reconcile.workers", "must be at least 1")
	if _, err := domainspec.ParsePolicy(c.ParsePolicy); err != nil {
		v.AddError("reconcile.parse_policy", err.Error())
	}
	v.OneOf("reconcile.missing", c.Missing, []string{MissingIgnore, MissingReport})
	return v.Validate()
}
