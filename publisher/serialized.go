package publisher

import (
	"context"
	"io"
	"sync"
	"time"
)

type serialized struct {
	mu    sync.Mutex
	inner Publisher
}

// Serialized wraps p so that at most one call runs at a time. Use it for
// backends whose client is not safe for concurrent use, or whose output
// must not interleave between records.
func Serialized(p Publisher) Publisher {
	if s, ok := p.(*serialized); ok {
		return s
	}
	return &serialized{inner: p}
}

func (s *serialized) Publish(ctx context.Context, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Publish(ctx, rec, ttl)
}

func (s *serialized) Query(ctx context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Query(ctx, prefix)
}

func (s *serialized) HealthCheck(ctx context.Context) error {
	if hc, ok := s.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (s *serialized) Close() error {
	if cl, ok := s.inner.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
