package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/beachhead/bootstrap"
	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/inspector/static"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/publisher"
	"github.com/kbukum/beachhead/publisher/redis"
	"github.com/kbukum/beachhead/reconciler"
)

func staticConfig(redisAddr string) *Config {
	return &Config{
		Inspector: inspector.Config{Provider: inspector.ProviderStatic},
		Static: static.Config{Entries: []static.Entry{
			{Name: "web", Host: "10.0.0.2", Domains: "example.org:http=8080 admin.example.org:https"},
		}},
		Redis: redis.Config{Addr: redisAddr},
	}
}

func testOptions() []bootstrap.Option {
	return []bootstrap.Option{
		bootstrap.WithLogger(logger.Nop()),
		bootstrap.WithSummaryWriter(io.Discard),
		bootstrap.WithSignals(),
	}
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Name != ServiceName {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Inspector.Provider != inspector.ProviderDocker || cfg.Inspector.EnvVar != inspector.DefaultEnvVar {
		t.Errorf("inspector = %+v", cfg.Inspector)
	}
	if cfg.Publisher.Provider != publisher.ProviderRedis || cfg.Publisher.KeyPrefix != publisher.DefaultKeyPrefix {
		t.Errorf("publisher = %+v", cfg.Publisher)
	}
	if cfg.Publish.TTL != 60*time.Second || !cfg.Publish.Expires() {
		t.Errorf("publish = %+v", cfg.Publish)
	}
	if cfg.Reconcile.TTL != 60*time.Second || cfg.Reconcile.Interval != 27*time.Second {
		t.Errorf("reconcile ttl = %v, interval = %v", cfg.Reconcile.TTL, cfg.Reconcile.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfig_DerivedInterval(t *testing.T) {
	noExpire := false
	tests := []struct {
		name         string
		publish      PublishConfig
		wantTTL      time.Duration
		wantInterval time.Duration
	}{
		{"default ttl", PublishConfig{}, 60 * time.Second, 27 * time.Second},
		{"custom ttl", PublishConfig{TTL: 10 * time.Second}, 10 * time.Second, 4500 * time.Millisecond},
		{"short ttl hits the floor", PublishConfig{TTL: 2 * time.Second}, 2 * time.Second, time.Second},
		{"expiry disabled", PublishConfig{TTL: 10 * time.Second, Expire: &noExpire}, 0, 27 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Publish: tt.publish}
			cfg.ApplyDefaults()
			if cfg.Reconcile.TTL != tt.wantTTL || cfg.Reconcile.Interval != tt.wantInterval {
				t.Errorf("ttl = %v, interval = %v, want %v, %v", cfg.Reconcile.TTL, cfg.Reconcile.Interval, tt.wantTTL, tt.wantInterval)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"interval not shorter than ttl", func(c *Config) {
			c.Publish.TTL = 30 * time.Second
			c.Reconcile.Interval = 30 * time.Second
		}},
		{"unknown inspector", func(c *Config) { c.Inspector.Provider = "podman" }},
		{"unknown publisher", func(c *Config) { c.Publisher.Provider = "etcd" }},
		{"static without entries", func(c *Config) {
			c.Inspector.Provider = inspector.ProviderStatic
			c.Static.Entries = nil
		}},
		{"bad env var", func(c *Config) { c.Inspector.EnvVar = "A=B" }},
		{"bad key prefix", func(c *Config) { c.Publisher.KeyPrefix = "beach*head" }},
		{"bad docker host mode", func(c *Config) { c.Docker.HostMode = "mac" }},
		{"bad redis timeout", func(c *Config) { c.Redis.DialTimeout = "soon" }},
		{"bad parse policy", func(c *Config) { c.Reconcile.ParsePolicy = "lenient" }},
		{"bad missing policy", func(c *Config) { c.Reconcile.Missing = "fail" }},
		{"negative ttl", func(c *Config) { c.Publish.TTL = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			tt.mutate(&cfg)
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig) {
				t.Errorf("Validate() = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestConfig_Verbosity(t *testing.T) {
	tests := []struct {
		name           string
		verbose, quiet int
		dryRun         bool
		wantLevel      string
	}{
		{"default", 0, 0, false, "info"},
		{"verbose", 1, 0, false, "debug"},
		{"quiet", 0, 1, false, "warn"},
		{"verbose and quiet cancel", 1, 1, false, "info"},
		{"dry run keeps info", 0, 2, true, "info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Verbose: tt.verbose, Quiet: tt.quiet, DryRun: tt.dryRun}
			cfg.ApplyDefaults()
			cfg.ApplyDefaults()
			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("level = %q, want %q", cfg.Logging.Level, tt.wantLevel)
			}
			if tt.dryRun && cfg.Publisher.Provider != publisher.ProviderDryRun {
				t.Errorf("dry run publisher = %q", cfg.Publisher.Provider)
			}
		})
	}
}

func TestRun_OncePublishesToRedis(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := staticConfig(mini.Addr())
	cfg.Reconcile.Once = true

	c, err := New(cfg, testOptions()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	raw, err := mini.Get("beachhead:example.org:http")
	if err != nil {
		t.Fatalf("key missing: %v (keys %v)", err, mini.Keys())
	}
	payload, err := publisher.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload.Host != "10.0.0.2" || payload.Port != 8080 || payload.Container != "web" {
		t.Errorf("payload = %+v", payload)
	}
	if !mini.Exists("beachhead:admin.example.org:https") || mini.Exists("beachhead:admin.example.org:http") {
		t.Errorf("keys = %v", mini.Keys())
	}
	if ttl := mini.TTL("beachhead:example.org:http"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
}

func TestRun_SummaryCountsExistingRecords(t *testing.T) {
	mini := miniredis.RunT(t)
	mini.Set("beachhead:old.example.org:http", `{"host":"10.0.0.9","port":80}`)
	mini.Set("other:example.org:http", "x")
	cfg := staticConfig(mini.Addr())
	cfg.Reconcile.Once = true

	var summary bytes.Buffer
	c, err := New(cfg, append(testOptions(), bootstrap.WithSummaryWriter(&summary))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(summary.String(), "1 records already under beachhead:") {
		t.Errorf("summary = %q", summary.String())
	}
}

func TestRun_NoExpireWritesPersistentKeys(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := staticConfig(mini.Addr())
	cfg.Reconcile.Once = true
	noExpire := false
	cfg.Publish.Expire = &noExpire

	c, err := New(cfg, testOptions()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ttl := mini.TTL("beachhead:example.org:http"); ttl != 0 {
		t.Errorf("TTL = %v, want none", ttl)
	}
}

func TestRun_UnreachableRedisIsStartupError(t *testing.T) {
	mini := miniredis.RunT(t)
	addr := mini.Addr()
	mini.Close()

	cfg := staticConfig(addr)
	cfg.Reconcile.Once = true
	cfg.Redis.DialTimeout = "200ms"

	c, err := New(cfg, testOptions()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Run(context.Background()); !errors.Is(err, bootstrap.ErrStartup) {
		t.Errorf("Run() error = %v, want ErrStartup", err)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := staticConfig(mini.Addr())
	cfg.Reconcile.Once = true
	cfg.DryRun = true

	c, err := New(cfg, testOptions()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if keys := mini.Keys(); len(keys) != 0 {
		t.Errorf("dry run wrote %v", keys)
	}
	entries, err := c.Publisher.Query(context.Background(), "beachhead:")
	if err == nil {
		t.Errorf("Query() after stop = %v, want an error from the stopped publisher", entries)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_ServesStatusWhileLooping(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := staticConfig(mini.Addr())
	cfg.Server.Enabled = true
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)

	c, err := New(cfg, testOptions()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for c.Reconciler.Ticks() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("no tick completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	resp, err := http.Get(base + "/records")
	if err != nil {
		cancel()
		t.Fatalf("GET /records: %v", err)
	}
	var body struct {
		Data []publisher.Entry `json:"data"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	_ = resp.Body.Close()
	if err != nil || len(body.Data) != 2 {
		t.Errorf("records = %+v, err = %v", body.Data, err)
	}

	resp, err = http.Get(base + "/ready")
	if err != nil {
		cancel()
		t.Fatalf("GET /ready: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /ready = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if c.Reconciler.State() != reconciler.StateStopped {
		t.Errorf("state = %v", c.Reconciler.State())
	}
}
