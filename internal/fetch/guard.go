package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pulsemkt/themescore/internal/ratelimit"
)

// Guard wraps every outbound provider call with per-host rate limiting and a
// per-provider circuit breaker. A tripped breaker surfaces as a transient
// failure so the chain advances to the next tier instead of hammering a
// struggling upstream.
type Guard struct {
	limiter *ratelimit.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewGuard builds a guard sharing one rate limiter across all providers.
func NewGuard(limiter *ratelimit.Limiter) *Guard {
	return &Guard{
		limiter:  limiter,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *Guard) breaker(provider string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[provider]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    provider,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	g.breakers[provider] = cb
	return cb
}

// Do runs fn behind the rate limiter and breaker for (provider, host).
func (g *Guard) Do(ctx context.Context, provider, host string, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, host); err != nil {
			return Transient("rate limit wait: "+host, err)
		}
	}
	_, err := g.breaker(provider).Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Transient("circuit open: "+provider, err)
	}
	return err
}
