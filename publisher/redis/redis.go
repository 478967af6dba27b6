// Package redis publishes records to Redis with SET PX and reads them back
// with SCAN.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/publisher"
)

func init() {
	publisher.RegisterFactory(publisher.ProviderRedis, func(cfg publisher.Config, providerCfg any, log *logger.Logger) (publisher.Publisher, error) {
		c := &Config{}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("redis: expected *redis.Config, got %T", providerCfg)
			}
			c = pc
		}
		return New(cfg, *c, log)
	})
}

// Publisher writes records to Redis. The go-redis client is safe for
// concurrent use.
type Publisher struct {
	rdb    goredis.UniversalClient
	prefix string
	cfg    Config
	log    *logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ publisher.Publisher = (*Publisher)(nil)

// New creates a Redis publisher. The connection is established lazily;
// HealthCheck pings it.
func New(core publisher.Config, cfg Config, log *logger.Logger) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.InvalidConfig("redis", err.Error())
	}
	core.ApplyDefaults()

	dialTimeout, _ := time.ParseDuration(cfg.DialTimeout)
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("publisher.redis")
	log.Info("redis client created", map[string]interface{}{
		"addr":      cfg.Addr,
		"db":        cfg.DB,
		"pool_size": cfg.PoolSize,
	})
	return NewWithClient(rdb, core, cfg, log), nil
}

// NewWithClient creates a publisher over an existing go-redis client.
func NewWithClient(rdb goredis.UniversalClient, core publisher.Config, cfg Config, log *logger.Logger) *Publisher {
	core.ApplyDefaults()
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{rdb: rdb, prefix: core.KeyPrefix, cfg: cfg, log: log, now: time.Now}
}

// Publish writes every mapping of rec in one MULTI/EXEC, each with SET and
// the given expiry. A zero ttl writes keys without expiry, clearing any
// expiry left by an earlier publish.
func (p *Publisher) Publish(ctx context.Context, rec publisher.Record, ttl time.Duration) error {
	items := rec.Payloads(p.prefix, p.now())
	if len(items) == 0 {
		return nil
	}

	keys := make([]string, len(items))
	values := make([][]byte, len(items))
	for i, it := range items {
		data, err := publisher.Encode(it.Payload)
		if err != nil {
			return apperrors.Internal(err).WithDetail(logger.FieldKey, it.Key)
		}
		keys[i] = it.Key
		values[i] = data
	}

	_, err := p.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i := range keys {
			pipe.Set(ctx, keys[i], values[i], ttl)
		}
		return nil
	})
	if err != nil {
		return publishError(strings.Join(keys, ","), err)
	}

	p.log.Debug("published record", map[string]interface{}{
		logger.FieldDomain:    rec.Spec.Domain,
		logger.FieldContainer: rec.Container,
		"keys":                keys,
		logger.FieldTTL:       ttl.String(),
	})
	return nil
}

// unavailableReplies are server replies that mean the whole instance cannot
// take writes right now.
var unavailableReplies = []string{"LOADING", "READONLY", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN"}

// publishError separates a reply refusing these keys from a store that
// cannot be reached. Only the latter is a ConnectionFailed.
func publishError(keys string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.PublishFailed(publisher.ProviderRedis, keys, err)
	}
	var reply goredis.Error
	if errors.As(err, &reply) {
		for _, prefix := range unavailableReplies {
			if strings.HasPrefix(reply.Error(), prefix) {
				return apperrors.ConnectionFailed(publisher.ProviderRedis).WithCause(err).WithDetail(logger.FieldKey, keys)
			}
		}
		return apperrors.PublishFailed(publisher.ProviderRedis, keys, err)
	}
	return apperrors.ConnectionFailed(publisher.ProviderRedis).WithCause(err).WithDetail(logger.FieldKey, keys)
}

// Query scans for keys starting with prefix and reads them with MGET.
// Keys that expire between the scan and the read are skipped, as are
// values that are not payloads.
func (p *Publisher) Query(ctx context.Context, prefix string) ([]publisher.Entry, error) {
	var keys []string
	iter := p.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", p.cfg.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.QueryFailed(publisher.ProviderRedis, prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var (
		values *goredis.SliceCmd
		ttls   = make([]*goredis.DurationCmd, len(keys))
	)
	_, err := p.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		values = pipe.MGet(ctx, keys...)
		for i, k := range keys {
			ttls[i] = pipe.PTTL(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.QueryFailed(publisher.ProviderRedis, prefix, err)
	}

	entries := make([]publisher.Entry, 0, len(keys))
	for i, v := range values.Val() {
		s, ok := v.(string)
		if !ok {
			continue
		}
		payload, err := publisher.Decode([]byte(s))
		if err != nil {
			p.log.Warn("skipping undecodable value", map[string]interface{}{
				logger.FieldKey:   keys[i],
				logger.FieldError: err,
			})
			continue
		}
		ttl := ttls[i].Val()
		if ttl < 0 {
			ttl = 0
		}
		entries = append(entries, publisher.Entry{Key: keys[i], Payload: payload, TTL: ttl})
	}
	return entries, nil
}

// HealthCheck verifies the Redis connection is alive.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	pong, err := p.rdb.Ping(ctx).Result()
	if err != nil {
		return apperrors.ConnectionFailed("redis").WithCause(err)
	}
	if pong != "PONG" {
		return apperrors.ConnectionFailed("redis").WithCause(fmt.Errorf("unexpected ping response: %s", pong))
	}
	return nil
}

// Close closes the Redis connection. Safe to call multiple times.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.log.Info("closing redis connection")
	return p.rdb.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
