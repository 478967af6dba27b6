package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/inspector/static"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/observability"
	"github.com/kbukum/beachhead/publisher"
	"github.com/kbukum/beachhead/publisher/redis"
	"github.com/kbukum/beachhead/resilience"
)

type fakeInspector struct {
	mu     sync.Mutex
	decls  []inspector.Declaration
	err    error
	calls  int
	listed chan struct{}
}

func (f *fakeInspector) List(ctx context.Context) ([]inspector.Declaration, error) {
	f.mu.Lock()
	f.calls++
	decls, err := f.decls, f.err
	f.mu.Unlock()
	if f.listed != nil {
		select {
		case f.listed <- struct{}{}:
		default:
		}
	}
	return decls, err
}

func (f *fakeInspector) set(decls []inspector.Declaration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decls, f.err = decls, err
}

type fakePublisher struct {
	mu        sync.Mutex
	calls     int
	published []publisher.Record
	ttls      []time.Duration
	// failures is how many more times a domain fails; -1 fails forever.
	failures map[string]int
	// errs overrides the error a failing domain returns.
	errs     map[string]error
	delay    time.Duration
	started  chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakePublisher) Publish(ctx context.Context, rec publisher.Record, ttl time.Duration) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	left := f.failures[rec.Spec.Domain]
	if left > 0 {
		f.failures[rec.Spec.Domain] = left - 1
	}
	failErr := f.errs[rec.Spec.Domain]
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if left != 0 {
		if failErr != nil {
			return failErr
		}
		return apperrors.PublishFailed("fake", rec.Spec.Domain, errors.New("injected"))
	}

	f.mu.Lock()
	f.published = append(f.published, rec)
	f.ttls = append(f.ttls, ttl)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Query(context.Context, string) ([]publisher.Entry, error) {
	return nil, nil
}

func (f *fakePublisher) domains() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, r := range f.published {
		out[r.Spec.Domain]++
	}
	return out
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func decl(name, raw string) inspector.Declaration {
	return inspector.Declaration{ContainerID: name + "-id", ContainerName: name, Host: name, Raw: raw, Present: true}
}

func testConfig() Config {
	return Config{
		TTL:           time.Minute,
		Interval:      time.Second,
		ShutdownGrace: time.Second,
		Retry:         resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Breaker:       resilience.CircuitBreakerConfig{MaxFailures: -1},
	}
}

func newTestReconciler(t *testing.T, insp inspector.Inspector, pub publisher.Publisher, cfg Config, opts ...Option) *Reconciler {
	t.Helper()
	r, err := New(insp, pub, cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, &fakePublisher{}, testConfig()); err == nil {
		t.Error("expected error for nil inspector")
	}
	if _, err := New(&fakeInspector{}, nil, testConfig()); err == nil {
		t.Error("expected error for nil publisher")
	}

	cfg := testConfig()
	cfg.Interval = 2 * time.Minute
	_, err := New(&fakeInspector{}, &fakePublisher{}, cfg)
	if !apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig) {
		t.Errorf("New() error = %v, want INVALID_CONFIG", err)
	}
}

func TestTick_InspectFailureSkipsPublishing(t *testing.T) {
	insp := &fakeInspector{err: apperrors.InspectionFailed("fake", errors.New("daemon down"))}
	pub := &fakePublisher{}
	r := newTestReconciler(t, insp, pub, testConfig())

	report := r.Tick(context.Background())
	if report.Status != TickFailed {
		t.Errorf("Status = %q, want %q", report.Status, TickFailed)
	}
	if report.Error == "" {
		t.Error("expected report to carry the inspector error")
	}
	if pub.callCount() != 0 {
		t.Errorf("publish calls = %d, want 0", pub.callCount())
	}

	insp.set([]inspector.Declaration{decl("web", "example.org")}, nil)
	report = r.Tick(context.Background())
	if report.Status != TickOK || report.Published != 1 {
		t.Errorf("second tick = %+v, want ok with 1 published", report)
	}
	if r.Ticks() != 2 {
		t.Errorf("Ticks() = %d, want 2", r.Ticks())
	}
}

func TestTick_ParsePolicies(t *testing.T) {
	decls := []inspector.Declaration{
		decl("web", "a.example.org:https"),
		decl("api", "b.example.org:http=8080 c.example.org:ftp"),
		decl("docs", "d.example.org"),
	}

	tests := []struct {
		name         string
		policy       string
		wantDomains  []string
		wantInvalid  int
		wantRejected int
		wantRecords  int
		wantStatus   string
	}{
		{
			name:        "per token keeps valid siblings",
			policy:      "per_token",
			wantDomains: []string{"a.example.org", "b.example.org", "d.example.org"},
			wantInvalid: 1,
			wantRecords: 3,
			wantStatus:  TickPartial,
		},
		{
			name:         "atomic drops the whole declaration",
			policy:       "atomic",
			wantDomains:  []string{"a.example.org", "d.example.org"},
			wantInvalid:  1,
			wantRejected: 1,
			wantRecords:  2,
			wantStatus:   TickPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			cfg := testConfig()
			cfg.ParsePolicy = tt.policy
			r := newTestReconciler(t, &fakeInspector{decls: decls}, pub, cfg)

			report := r.Tick(context.Background())
			if report.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", report.Status, tt.wantStatus)
			}
			if report.InvalidTokens != tt.wantInvalid || report.Rejected != tt.wantRejected || report.Records != tt.wantRecords {
				t.Errorf("report = %+v", report)
			}
			got := pub.domains()
			if len(got) != len(tt.wantDomains) {
				t.Fatalf("published %v, want %v", got, tt.wantDomains)
			}
			for _, d := range tt.wantDomains {
				if got[d] != 1 {
					t.Errorf("domain %s published %d times, want 1", d, got[d])
				}
			}
		})
	}
}

func TestTick_RecordCarriesContainerAndTTL(t *testing.T) {
	pub := &fakePublisher{}
	insp := &fakeInspector{decls: []inspector.Declaration{
		{ContainerID: "3f2a", Host: "172.17.0.3", Raw: "Example.ORG:http=8080", Present: true},
	}}
	r := newTestReconciler(t, insp, pub, testConfig())

	r.Tick(context.Background())

	if len(pub.published) != 1 {
		t.Fatalf("published = %d records, want 1", len(pub.published))
	}
	rec := pub.published[0]
	if rec.Container != "3f2a" {
		t.Errorf("Container = %q, want container id when the name is empty", rec.Container)
	}
	if rec.Host != "172.17.0.3" || rec.Spec.Domain != "example.org" {
		t.Errorf("record = %+v", rec)
	}
	if pub.ttls[0] != time.Minute {
		t.Errorf("ttl = %v, want 1m", pub.ttls[0])
	}
}

func TestTick_MissingDeclarations(t *testing.T) {
	for _, policy := range []string{MissingIgnore, MissingReport} {
		t.Run(policy, func(t *testing.T) {
			pub := &fakePublisher{}
			cfg := testConfig()
			cfg.Missing = policy
			insp := &fakeInspector{decls: []inspector.Declaration{
				{ContainerID: "a", ContainerName: "plain"},
				decl("web", "example.org"),
			}}
			r := newTestReconciler(t, insp, pub, cfg)

			report := r.Tick(context.Background())
			if report.Missing != 1 || report.Published != 1 || report.Status != TickOK {
				t.Errorf("report = %+v", report)
			}
		})
	}
}

func TestTick_EmptyDeclarationPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "   ")}}, pub, testConfig())

	report := r.Tick(context.Background())
	if report.Status != TickOK || report.Records != 0 || pub.callCount() != 0 {
		t.Errorf("report = %+v, calls = %d", report, pub.callCount())
	}
}

func TestTick_RepublishIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "example.org")}}, pub, testConfig())

	for i := 0; i < 3; i++ {
		if report := r.Tick(context.Background()); report.Status != TickOK {
			t.Fatalf("tick %d status = %q", i, report.Status)
		}
	}
	if got := pub.domains()["example.org"]; got != 3 {
		t.Errorf("example.org published %d times, want 3", got)
	}
}

func TestTick_RetriesTransientPublishFailure(t *testing.T) {
	pub := &fakePublisher{failures: map[string]int{"example.org": 1}}
	r := newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "example.org")}}, pub, testConfig())

	report := r.Tick(context.Background())
	if report.Status != TickOK || report.Published != 1 || report.PublishErrors != 0 {
		t.Errorf("report = %+v", report)
	}
	if pub.callCount() != 2 {
		t.Errorf("publish calls = %d, want 2", pub.callCount())
	}
}

func TestTick_FailedRecordDoesNotBlockOthers(t *testing.T) {
	pub := &fakePublisher{failures: map[string]int{"bad.example.org": -1}}
	insp := &fakeInspector{decls: []inspector.Declaration{
		decl("web", "bad.example.org good.example.org"),
		decl("api", "api.example.org"),
	}}
	r := newTestReconciler(t, insp, pub, testConfig())

	report := r.Tick(context.Background())
	if report.Status != TickPartial || report.Published != 2 || report.PublishErrors != 1 {
		t.Errorf("report = %+v", report)
	}
	if !report.Failed() {
		t.Error("Failed() = false, want true when a record was lost")
	}
}

func TestTick_BreakerOpensWhenStoreIsUnreachable(t *testing.T) {
	down := apperrors.ConnectionFailed("fake")
	pub := &fakePublisher{
		failures: map[string]int{"a.org": -1, "b.org": -1, "c.org": -1},
		errs:     map[string]error{"a.org": down, "b.org": down, "c.org": down},
	}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Breaker = resilience.CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Hour}
	r := newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "a.org b.org c.org")}}, pub, cfg)

	report := r.Tick(context.Background())
	if report.PublishErrors != 3 {
		t.Errorf("PublishErrors = %d, want 3", report.PublishErrors)
	}
	// two records exhaust their retries, the third is rejected by the open circuit
	if pub.callCount() != 4 {
		t.Errorf("publish calls = %d, want 4", pub.callCount())
	}
	if r.breaker.State() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", r.breaker.State())
	}
}

func TestTick_RefusedRecordsDoNotBlockOthersWithDefaultBreaker(t *testing.T) {
	conflict := apperrors.KeyConflict("fake", "held", errors.New("held by another session"))
	pub := &fakePublisher{
		failures: map[string]int{"a.org": -1, "b.org": -1, "c.org": -1, "d.org": -1, "e.org": -1, "f.org": -1},
		errs:     map[string]error{"d.org": conflict, "e.org": conflict, "f.org": conflict},
	}
	insp := &fakeInspector{decls: []inspector.Declaration{
		decl("broken", "a.org b.org c.org d.org e.org f.org"),
		decl("web", "good.example.org"),
	}}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Breaker = resilience.CircuitBreakerConfig{}
	r := newTestReconciler(t, insp, pub, cfg)

	for tick := 1; tick <= 3; tick++ {
		report := r.Tick(context.Background())
		if report.Published != 1 || report.PublishErrors != 6 {
			t.Errorf("tick %d: report = %+v", tick, report)
		}
		if got := pub.domains()["good.example.org"]; got != tick {
			t.Fatalf("tick %d: good.example.org published %d times, want %d", tick, got, tick)
		}
	}
	if r.breaker.State() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", r.breaker.State())
	}
}

func TestTick_BoundsConcurrency(t *testing.T) {
	var decls []inspector.Declaration
	for i := 0; i < 8; i++ {
		decls = append(decls, decl(fmt.Sprintf("c%d", i), fmt.Sprintf("s%d.example.org", i)))
	}
	pub := &fakePublisher{delay: 5 * time.Millisecond}
	cfg := testConfig()
	cfg.Workers = 2
	r := newTestReconciler(t, &fakeInspector{decls: decls}, pub, cfg)

	report := r.Tick(context.Background())
	if report.Published != 8 {
		t.Errorf("Published = %d, want 8", report.Published)
	}
	if got := pub.maxInFlight.Load(); got > 2 {
		t.Errorf("max concurrent publishes = %d, want <= 2", got)
	}
}

func TestTick_ReportAndState(t *testing.T) {
	r := newTestReconciler(t, &fakeInspector{}, &fakePublisher{}, testConfig(),
		WithIDGenerator(func() string { return "tick-1" }),
		WithLogger(logger.Nop()),
	)

	if _, ok := r.Status(); ok {
		t.Error("Status() ok before the first tick")
	}
	if r.State() != StateIdle {
		t.Errorf("State() = %v, want idle", r.State())
	}

	r.Tick(context.Background())
	report, ok := r.Status()
	if !ok || report.ID != "tick-1" || report.Status != TickOK {
		t.Errorf("Status() = %+v, %v", report, ok)
	}
	if r.State() != StatePublishing {
		t.Errorf("State() = %v, want publishing after a bare tick", r.State())
	}
}

func TestTick_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observability.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	insp := &fakeInspector{decls: []inspector.Declaration{decl("web", "a.org b.org")}}
	r := newTestReconciler(t, insp, &fakePublisher{}, testConfig(), WithMetrics(m), WithBackend("fake"))
	r.Tick(context.Background())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[metric.Name] += dp.Value
				}
			}
		}
	}
	if got["beachhead.ticks"] != 1 || got["beachhead.publishes"] != 2 || got["beachhead.records"] != 2 {
		t.Errorf("metrics = %v", got)
	}
}

func TestRun_OnceMode(t *testing.T) {
	cfg := testConfig()
	cfg.Once = true

	pub := &fakePublisher{}
	r := newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "example.org")}}, pub, cfg)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Ticks() != 1 || r.State() != StateStopped {
		t.Errorf("ticks = %d, state = %v", r.Ticks(), r.State())
	}

	failing := &fakePublisher{failures: map[string]int{"example.org": -1}}
	r = newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "example.org")}}, failing, cfg)
	if err := r.Run(context.Background()); !errors.Is(err, ErrTickFailed) {
		t.Errorf("Run() error = %v, want ErrTickFailed", err)
	}

	r = newTestReconciler(t, &fakeInspector{err: errors.New("down")}, &fakePublisher{}, cfg)
	if err := r.Run(context.Background()); !errors.Is(err, ErrTickFailed) {
		t.Errorf("Run() error = %v, want ErrTickFailed on inspector failure", err)
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	insp := &fakeInspector{listed: make(chan struct{}, 1)}
	r := newTestReconciler(t, insp, &fakePublisher{}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-insp.listed:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not start")
	}
	select {
	case <-insp.listed:
	case <-time.After(3 * time.Second):
		t.Fatal("second tick did not start")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if r.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", r.State())
	}
}

func TestRun_InFlightTickFinishesWithinGrace(t *testing.T) {
	pub := &fakePublisher{delay: 100 * time.Millisecond, started: make(chan struct{}, 1)}
	r := newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "example.org")}}, pub, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-pub.started
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	report, _ := r.Status()
	if report.Status != TickOK || report.Published != 1 {
		t.Errorf("report = %+v, want the in-flight publish to complete", report)
	}
}

func TestRun_InFlightTickAbandonedAfterGrace(t *testing.T) {
	pub := &fakePublisher{delay: time.Minute, started: make(chan struct{}, 1)}
	cfg := testConfig()
	cfg.ShutdownGrace = 20 * time.Millisecond
	r := newTestReconciler(t, &fakeInspector{decls: []inspector.Declaration{decl("web", "example.org")}}, pub, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-pub.started
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the grace period")
	}
	report, _ := r.Status()
	if report.Status != TickCancelled {
		t.Errorf("Status = %q, want %q", report.Status, TickCancelled)
	}
}

func TestReconciler_KeepsRedisKeysAliveAcrossTicks(t *testing.T) {
	mini := miniredis.RunT(t)
	pub, err := redis.New(publisher.Config{}, redis.Config{Addr: mini.Addr()}, logger.Nop())
	if err != nil {
		t.Fatalf("redis.New() error = %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })

	insp := static.New(inspector.Config{}, &static.Config{Entries: []static.Entry{
		{Name: "web", Host: "10.0.0.2", Domains: "example.org:http=8080"},
	}})

	cfg := Config{TTL: 60 * time.Second}
	r := newTestReconciler(t, insp, pub, cfg, WithBackend("redis"))
	if got := r.Config().Interval; got != 27*time.Second {
		t.Fatalf("derived interval = %v, want 27s", got)
	}

	const key = "beachhead:example.org:http"
	for i := 0; i < 5; i++ {
		if report := r.Tick(context.Background()); report.Status != TickOK {
			t.Fatalf("tick %d = %+v", i, report)
		}
		mini.FastForward(r.Config().Interval)
		if !mini.Exists(key) {
			t.Fatalf("key expired after tick %d", i)
		}
	}

	mini.FastForward(r.Config().TTL)
	if mini.Exists(key) {
		t.Error("key should lapse once ticks stop")
	}
}
