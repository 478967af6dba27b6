// Package consul publishes records to the Consul KV store.
//
// Every key with a TTL is acquired by its own session created with
// Behavior=delete. Publishing renews that session, so a key whose
// container disappears is deleted by Consul once its session lapses.
// Consul may take up to twice the TTL to invalidate a session.
package consul

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/publisher"
)

// ErrLockHeld is returned when a key is held by a session this companion
// does not own.
var ErrLockHeld = errors.New("key is held by another session")

func init() {
	publisher.RegisterFactory(publisher.ProviderConsul, func(cfg publisher.Config, providerCfg any, log *logger.Logger) (publisher.Publisher, error) {
		c := &Config{}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("consul: expected *consul.Config, got %T", providerCfg)
			}
			c = pc
		}
		return New(cfg, *c, log)
	})
}

type session struct {
	id  string
	ttl time.Duration
}

// Publisher writes records to Consul KV.
type Publisher struct {
	client *api.Client
	prefix string
	cfg    Config
	log    *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]session
}

var _ publisher.Publisher = (*Publisher)(nil)

// New creates a Consul publisher.
func New(core publisher.Config, cfg Config, log *logger.Logger) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.InvalidConfig("consul", err.Error())
	}
	core.ApplyDefaults()

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Scheme = cfg.Scheme
	apiCfg.Token = cfg.Token
	if cfg.Datacenter != "" {
		apiCfg.Datacenter = cfg.Datacenter
	}
	apiCfg.HttpClient = &http.Client{Timeout: cfg.Timeout}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		client:   client,
		prefix:   core.KeyPrefix,
		cfg:      cfg,
		log:      log.WithComponent("publisher.consul"),
		now:      time.Now,
		sessions: make(map[string]session),
	}, nil
}

// Publish writes every mapping of rec. With a TTL each key is bound to a
// renewed session; a zero ttl writes plain keys.
func (p *Publisher) Publish(ctx context.Context, rec publisher.Record, ttl time.Duration) error {
	if ttl > 0 && ttl < MinSessionTTL {
		p.log.Warn("raising ttl to the consul session minimum", map[string]interface{}{
			logger.FieldTTL: ttl.String(),
			"min":           MinSessionTTL.String(),
		})
		ttl = MinSessionTTL
	}

	for _, it := range rec.Payloads(p.prefix, p.now()) {
		data, err := publisher.Encode(it.Payload)
		if err != nil {
			return apperrors.Internal(err).WithDetail(logger.FieldKey, it.Key)
		}
		if err := p.write(ctx, it.Key, data, ttl); err != nil {
			return publishError(it.Key, err)
		}
	}

	p.log.Debug("published record", map[string]interface{}{
		logger.FieldDomain:    rec.Spec.Domain,
		logger.FieldContainer: rec.Container,
		logger.FieldTTL:       ttl.String(),
	})
	return nil
}

// publishError tells a key held by someone else and an agent that cannot
// be reached apart from an ordinary refused write.
func publishError(key string, err error) error {
	if errors.Is(err, ErrLockHeld) {
		return apperrors.KeyConflict(publisher.ProviderConsul, key, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.PublishFailed(publisher.ProviderConsul, key, err)
	}
	var status api.StatusError
	if errors.As(err, &status) {
		if status.Code >= http.StatusInternalServerError {
			return apperrors.New(apperrors.ErrCodeServiceUnavailable, "consul cannot take writes", http.StatusServiceUnavailable).
				WithCause(err).WithDetail(logger.FieldKey, key)
		}
		return apperrors.PublishFailed(publisher.ProviderConsul, key, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.ConnectionFailed(publisher.ProviderConsul).WithCause(err).WithDetail(logger.FieldKey, key)
	}
	return apperrors.PublishFailed(publisher.ProviderConsul, key, err)
}

func (p *Publisher) write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	wopts := (&api.WriteOptions{}).WithContext(ctx)
	if ttl == 0 {
		// A session left over from publishing with a TTL would still delete
		// the key when it lapses.
		p.forget(key)
		if err := p.takeOver(ctx, key); err != nil {
			return err
		}
		_, err := p.client.KV().Put(&api.KVPair{Key: key, Value: value}, wopts)
		return err
	}

	sid, err := p.session(ctx, key, ttl)
	if err != nil {
		return err
	}
	ok, _, err := p.client.KV().Acquire(&api.KVPair{Key: key, Value: value, Session: sid}, wopts)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Acquire returns false only when another session holds the key. That
	// may be a previous run of the companion.
	if err := p.takeOver(ctx, key); err != nil {
		return err
	}
	ok, _, err = p.client.KV().Acquire(&api.KVPair{Key: key, Value: value, Session: sid}, wopts)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// session renews the session owning key, creating one when none exists,
// the TTL changed, or Consul no longer knows it.
func (p *Publisher) session(ctx context.Context, key string, ttl time.Duration) (string, error) {
	wopts := (&api.WriteOptions{}).WithContext(ctx)

	p.mu.Lock()
	s, ok := p.sessions[key]
	p.mu.Unlock()

	if ok && s.ttl == ttl {
		entry, _, err := p.client.Session().Renew(s.id, wopts)
		if err != nil {
			return "", fmt.Errorf("renewing session: %w", err)
		}
		if entry != nil {
			return s.id, nil
		}
		p.log.Debug("session expired, creating a new one", map[string]interface{}{logger.FieldKey: key})
	} else if ok {
		if _, err := p.client.Session().Destroy(s.id, wopts); err != nil {
			p.log.Warn("destroying session after ttl change", map[string]interface{}{
				logger.FieldKey: key, logger.FieldError: err,
			})
		}
	}

	id, _, err := p.client.Session().CreateNoChecks(&api.SessionEntry{
		Name:      p.cfg.SessionName,
		TTL:       ttl.String(),
		Behavior:  api.SessionBehaviorDelete,
		LockDelay: time.Millisecond,
	}, wopts)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	p.mu.Lock()
	p.sessions[key] = session{id: id, ttl: ttl}
	p.mu.Unlock()
	return id, nil
}

// takeOver destroys the session holding key when it carries our session
// name. Keys held by anyone else are left alone.
func (p *Publisher) takeOver(ctx context.Context, key string) error {
	pair, _, err := p.client.KV().Get(key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return err
	}
	if pair == nil || pair.Session == "" {
		return nil
	}
	info, _, err := p.client.Session().Info(pair.Session, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if info.Name != p.cfg.SessionName {
		return ErrLockHeld
	}
	p.log.Info("taking over key from a stale session", map[string]interface{}{
		logger.FieldKey: key,
		"session":       pair.Session,
	})
	_, err = p.client.Session().Destroy(pair.Session, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

func (p *Publisher) forget(key string) {
	p.mu.Lock()
	delete(p.sessions, key)
	p.mu.Unlock()
}

// Query lists every key under prefix. Consul does not report remaining
// session lifetime per key, so Entry.TTL is zero.
func (p *Publisher) Query(ctx context.Context, prefix string) ([]publisher.Entry, error) {
	pairs, _, err := p.client.KV().List(prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, apperrors.QueryFailed(publisher.ProviderConsul, prefix, err)
	}
	entries := make([]publisher.Entry, 0, len(pairs))
	for _, pair := range pairs {
		payload, err := publisher.Decode(pair.Value)
		if err != nil {
			p.log.Warn("skipping undecodable value", map[string]interface{}{
				logger.FieldKey:   pair.Key,
				logger.FieldError: err,
			})
			continue
		}
		entries = append(entries, publisher.Entry{Key: pair.Key, Payload: payload})
	}
	return entries, nil
}

// HealthCheck asks the agent for the raft leader.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	leader, err := p.client.Status().LeaderWithQueryOptions((&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return apperrors.ConnectionFailed("consul").WithCause(err)
	}
	if leader == "" {
		return apperrors.New(apperrors.ErrCodeServiceUnavailable, "consul cluster has no leader", http.StatusServiceUnavailable)
	}
	return nil
}

// Close drops the local session table. Sessions are left to expire so the
// published keys outlive a restart of the companion.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.sessions = make(map[string]session)
	p.mu.Unlock()
	return nil
}
