// Package resilience provides the retry and circuit breaker used around
// publisher calls.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "redis", MaxFailures: 5})
//	err := cb.Execute(func() error {
//	    return resilience.RetryFunc(ctx, resilience.DefaultRetryConfig(), func() error {
//	        return pub.Publish(ctx, rec, ttl)
//	    })
//	})
package resilience
