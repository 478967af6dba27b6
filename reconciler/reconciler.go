package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/beachhead/domainspec"
	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/observability"
	"github.com/kbukum/beachhead/publisher"
	"github.com/kbukum/beachhead/resilience"
)

// ErrTickFailed is returned by Run in once mode when the single tick lost work.
var ErrTickFailed = errors.New("reconciliation tick failed")

// Reconciler republishes the declarations of running containers on a fixed
// interval.
type Reconciler struct {
	inspector inspector.Inspector
	publisher publisher.Publisher
	cfg       Config
	policy    domainspec.Policy
	backend   string
	log       *logger.Logger
	metrics   *observability.Metrics
	breaker   *resilience.CircuitBreaker
	newID     func() string

	state atomic.Int32
	ticks atomic.Uint64

	mu   sync.RWMutex
	last TickReport
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logger.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics sets the instruments ticks are recorded on.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithBackend names the publisher backend in metrics and logs.
func WithBackend(name string) Option {
	return func(r *Reconciler) { r.backend = name }
}

// WithIDGenerator overrides how tick ids are made.
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) { r.newID = fn }
}

// New creates a Reconciler. cfg is defaulted and validated.
func New(insp inspector.Inspector, pub publisher.Publisher, cfg Config, opts ...Option) (*Reconciler, error) {
	if insp == nil || pub == nil {
		return nil, apperrors.InvalidConfig("reconciler", "inspector and publisher are required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := domainspec.ParsePolicy(cfg.ParsePolicy)

	r := &Reconciler{
		inspector: insp,
		publisher: pub,
		cfg:       cfg,
		policy:    policy,
		backend:   "publisher",
		log:       logger.Nop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("reconciler")

	if r.metrics == nil {
		m, err := observability.NewGlobalMetrics()
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		r.metrics = m
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.MaxFailures < 0 {
		breakerCfg.MaxFailures = 0
	}
	breakerCfg.Name = r.backend
	// Only an unreachable store opens the circuit. A record the store
	// refuses says nothing about the records after it.
	breakerCfg.IsFailure = apperrors.IsUnavailable
	if breakerCfg.HalfOpenMaxCalls <= 0 {
		breakerCfg.HalfOpenMaxCalls = cfg.Workers
	}
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		r.log.Warn("publisher circuit changed state", map[string]interface{}{
			logger.FieldBackend: name,
			"from":              from.String(),
			"to":                to.String(),
		})
	}
	r.breaker = resilience.NewCircuitBreaker(breakerCfg)
	return r, nil
}

// Config returns the effective configuration.
func (r *Reconciler) Config() Config { return r.cfg }

// State reports the current phase of the loop.
func (r *Reconciler) State() State { return State(r.state.Load()) }

// Status returns the report of the most recent tick, and false before the
// first tick has completed.
func (r *Reconciler) Status() (TickReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.ticks.Load() > 0
}

// Ticks returns the number of completed ticks.
func (r *Reconciler) Ticks() uint64 { return r.ticks.Load() }

func (r *Reconciler) setState(s State) { r.state.Store(int32(s)) }

// Run ticks until ctx is cancelled, or once in once mode. A stop signal
// does not interrupt the tick in flight; it gets ShutdownGrace to finish.
// Run returns nil on cancellation. In once mode it returns ErrTickFailed
// when the tick lost work.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.setState(StateStopped)

	r.log.Info("reconciler started", map[string]interface{}{
		"interval":          r.cfg.Interval.String(),
		logger.FieldTTL:     r.cfg.TTL.String(),
		"workers":           r.cfg.Workers,
		"parse_policy":      r.policy.String(),
		"once":              r.cfg.Once,
		logger.FieldBackend: r.backend,
	})

	for {
		if ctx.Err() != nil {
			r.log.Info("reconciler stopped")
			return nil
		}

		report := r.tickWithGrace(ctx)
		if r.cfg.Once {
			if report.Failed() {
				return fmt.Errorf("%w: %s", ErrTickFailed, report.Status)
			}
			return nil
		}

		r.setState(StateSleeping)
		timer := time.NewTimer(r.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("reconciler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// tickWithGrace runs one tick detached from ctx. Once ctx is cancelled the
// tick keeps running for at most ShutdownGrace.
func (r *Reconciler) tickWithGrace(ctx context.Context) TickReport {
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		r.log.Info("stop requested, finishing in-flight tick", map[string]interface{}{
			"grace": r.cfg.ShutdownGrace.String(),
		})
		timer := time.NewTimer(r.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			r.log.Warn("abandoning in-flight tick after grace period")
			cancel()
		}
	}()

	report := r.Tick(tickCtx)
	close(done)
	return report
}

type counters struct {
	missing, invalidTokens, rejected, records atomic.Int64
	published, publishErrors                  atomic.Int64
}

type job struct {
	decl    inspector.Declaration
	records []publisher.Record
}

// Tick runs exactly one list, parse and publish pass.
func (r *Reconciler) Tick(ctx context.Context) TickReport {
	start := time.Now()
	report := TickReport{ID: r.newID(), Started: start}

	ctx = logger.ContextWithTickID(ctx, report.ID)
	log := r.log.WithContext(ctx)
	ctx, span := observability.StartSpan(ctx, observability.SpanTick,
		attribute.String("tick.id", report.ID),
		attribute.String("backend", r.backend),
	)

	var tickErr error
	defer func() {
		report.Duration = time.Since(start)
		r.metrics.RecordTick(ctx, report.Status, report.Duration)
		span.SetAttributes(
			attribute.String("tick.status", report.Status),
			attribute.Int("tick.records", report.Records),
			attribute.Int("tick.published", report.Published),
		)
		observability.EndSpan(span, tickErr)

		r.mu.Lock()
		r.last = report
		r.mu.Unlock()
		r.ticks.Add(1)

		fields := map[string]interface{}{
			logger.FieldStatus:   report.Status,
			logger.FieldDuration: report.Duration.Milliseconds(),
			"declarations":       report.Declarations,
			"records":            report.Records,
			"published":          report.Published,
		}
		if report.Failed() {
			log.Warn("tick finished with errors", fields)
		} else {
			log.Debug("tick finished", fields)
		}
	}()

	// Polling
	r.setState(StatePolling)
	decls, err := r.list(ctx)
	if err != nil {
		tickErr = err
		report.Status = TickFailed
		report.Error = err.Error()
		if ctx.Err() != nil {
			report.Status = TickCancelled
		}
		r.metrics.RecordError(ctx, "inspect")
		log.Error("listing containers failed, skipping tick", map[string]interface{}{
			logger.FieldError: err,
		})
		return report
	}
	report.Declarations = len(decls)

	// Parsing
	r.setState(StateParsing)
	var c counters
	jobs := make([]job, 0, len(decls))
	for _, d := range decls {
		recs := r.parse(ctx, log, d, &c)
		if len(recs) > 0 {
			jobs = append(jobs, job{decl: d, records: recs})
		}
	}
	r.metrics.RecordRecords(ctx, int(c.records.Load()))

	// Publishing
	r.setState(StatePublishing)
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, j := range jobs {
		g.Go(func() error {
			r.publishAll(ctx, log, j, &c)
			return nil
		})
	}
	_ = g.Wait()

	report.Missing = int(c.missing.Load())
	report.InvalidTokens = int(c.invalidTokens.Load())
	report.Rejected = int(c.rejected.Load())
	report.Records = int(c.records.Load())
	report.Published = int(c.published.Load())
	report.PublishErrors = int(c.publishErrors.Load())

	switch {
	case ctx.Err() != nil && report.Published < report.Records:
		report.Status = TickCancelled
		tickErr = ctx.Err()
	case report.PublishErrors > 0 || report.InvalidTokens > 0:
		report.Status = TickPartial
	default:
		report.Status = TickOK
	}
	return report
}

func (r *Reconciler) list(ctx context.Context) ([]inspector.Declaration, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanInspect)
	decls, err := r.inspector.List(ctx)
	span.SetAttributes(attribute.Int("declarations", len(decls)))
	observability.EndSpan(span, err)
	return decls, err
}

// parse turns one declaration into records, logging every rejected token.
func (r *Reconciler) parse(ctx context.Context, log *logger.Logger, d inspector.Declaration, c *counters) []publisher.Record {
	name := d.ContainerName
	if name == "" {
		name = d.ContainerID
	}

	if !d.Present {
		c.missing.Add(1)
		r.metrics.RecordDeclaration(ctx, "missing")
		fields := map[string]interface{}{
			logger.FieldContainer:   name,
			logger.FieldContainerID: d.ContainerID,
		}
		if r.cfg.Missing == MissingReport {
			log.Warn("container has no domain declaration", fields)
		} else {
			log.Debug("container has no domain declaration", fields)
		}
		return nil
	}

	specs, err := domainspec.Parse(d.Raw, domainspec.WithPolicy(r.policy))
	if err != nil {
		var pe *domainspec.ParseError
		if errors.As(err, &pe) {
			c.invalidTokens.Add(int64(len(pe.Tokens)))
			for _, te := range pe.Tokens {
				log.Warn("ignoring invalid token", map[string]interface{}{
					logger.FieldContainer: name,
					logger.FieldToken:     te.Token,
					"index":               te.Index,
					"reason":              te.Reason,
					logger.FieldError:     te.Err,
				})
			}
		}
		r.metrics.RecordError(ctx, "parse")
		if len(specs) == 0 {
			c.rejected.Add(1)
			r.metrics.RecordDeclaration(ctx, "invalid")
			log.Warn("declaration rejected", map[string]interface{}{
				logger.FieldContainer: name,
				logger.FieldError:     apperrors.InvalidDeclaration(name, err),
				"policy":              r.policy.String(),
			})
			return nil
		}
		r.metrics.RecordDeclaration(ctx, "partial")
	} else {
		r.metrics.RecordDeclaration(ctx, "parsed")
	}

	recs := make([]publisher.Record, len(specs))
	for i, s := range specs {
		recs[i] = publisher.Record{Spec: s, Container: name, Host: d.Host}
	}
	c.records.Add(int64(len(recs)))
	return recs
}

// publishAll publishes the records of one declaration in order. A failed
// record is logged and skipped; the next tick retries it.
func (r *Reconciler) publishAll(ctx context.Context, log *logger.Logger, j job, c *counters) {
	for _, rec := range j.records {
		if ctx.Err() != nil {
			return
		}
		err := r.publish(ctx, rec)
		if err == nil {
			c.published.Add(1)
			r.metrics.RecordPublish(ctx, r.backend, "ok")
			continue
		}

		c.publishErrors.Add(1)
		status := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = "rejected"
		}
		r.metrics.RecordPublish(ctx, r.backend, status)
		r.metrics.RecordError(ctx, "publish")
		log.Error("publishing record failed", map[string]interface{}{
			logger.FieldContainer: rec.Container,
			logger.FieldDomain:    rec.Spec.Domain,
			logger.FieldError:     err,
		})
	}
}

func (r *Reconciler) publish(ctx context.Context, rec publisher.Record) error {
	ctx, span := observability.StartSpan(ctx, observability.SpanPublish,
		attribute.String("domain", rec.Spec.Domain),
		attribute.String("container", rec.Container),
	)
	err := r.breaker.Execute(func() error {
		return resilience.RetryFunc(ctx, r.cfg.Retry, func() error {
			return r.publisher.Publish(ctx, rec, r.cfg.TTL)
		})
	})
	observability.EndSpan(span, err)
	return err
}
