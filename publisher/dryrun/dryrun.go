// Package dryrun provides a publisher that logs what it would write and
// keeps the result in memory, so the status surface can still show it.
package dryrun

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/publisher"
)

func init() {
	publisher.RegisterFactory(publisher.ProviderDryRun, func(cfg publisher.Config, _ any, log *logger.Logger) (publisher.Publisher, error) {
		// One record's "would publish" lines stay together in the log.
		return publisher.Serialized(New(cfg, log)), nil
	})
}

type stored struct {
	payload publisher.Payload
	expires time.Time
}

// Publisher records publications without touching any store.
type Publisher struct {
	prefix string
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]stored
}

var _ publisher.Publisher = (*Publisher)(nil)

// New creates a dry-run publisher.
func New(cfg publisher.Config, log *logger.Logger) *Publisher {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		prefix:  cfg.KeyPrefix,
		log:     log.WithComponent("publisher.dryrun"),
		now:     time.Now,
		entries: make(map[string]stored),
	}
}

func (p *Publisher) Publish(ctx context.Context, rec publisher.Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.now()
	for _, it := range rec.Payloads(p.prefix, now) {
		p.log.Info("would publish", map[string]interface{}{
			logger.FieldKey:       it.Key,
			logger.FieldContainer: rec.Container,
			"host":                it.Payload.Host,
			logger.FieldPort:      it.Payload.Port,
			logger.FieldTTL:       ttl.String(),
		})
		s := stored{payload: it.Payload}
		if ttl > 0 {
			s.expires = now.Add(ttl)
		}
		p.mu.Lock()
		p.entries[it.Key] = s
		p.mu.Unlock()
	}
	return nil
}

// Query returns the entries that would currently be live in the store.
func (p *Publisher) Query(_ context.Context, prefix string) ([]publisher.Entry, error) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]publisher.Entry, 0, len(p.entries))
	for k, s := range p.entries {
		if !s.expires.IsZero() && !now.Before(s.expires) {
			delete(p.entries, k)
			continue
		}
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		e := publisher.Entry{Key: k, Payload: s.payload}
		if !s.expires.IsZero() {
			e.TTL = s.expires.Sub(now)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
