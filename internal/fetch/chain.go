package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Observer receives chain lifecycle events, one call per fetcher invocation
// outcome. Implementations must be safe for concurrent use; the metrics
// registry is the production implementation.
type Observer interface {
	FetchAttempt(signal, provider string)
	FetchFailure(signal, provider, kind string)
	ChainExhaustion(signal string)
}

// ChainConfig bounds the per-tier retry behaviour.
type ChainConfig struct {
	// Retries is the per-tier retry budget for retryable failures.
	Retries int
	// Backoff is the first retry delay; it doubles per retry within a tier.
	Backoff time.Duration
	// Observer, when set, is notified of every attempt, failure and
	// exhaustion.
	Observer Observer
}

// DefaultChainConfig matches the upstream quota reality: one retry, short
// backoff, then move on to the next tier.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{Retries: 1, Backoff: 500 * time.Millisecond}
}

// Chain tries an ordered list of interchangeable fetchers for one logical
// signal. Tier order is strict: tier n+1 is never tried before tier n has
// failed or exhausted its retries.
type Chain[T any] struct {
	Signal string
	tiers  []Fetcher[T]
	cfg    ChainConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewChain builds a chain over tiers in priority order.
func NewChain[T any](signal string, cfg ChainConfig, tiers ...Fetcher[T]) *Chain[T] {
	return &Chain[T]{Signal: signal, tiers: tiers, cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the chain. On success it returns the value, the serving tier
// index and the attempt trail. If every tier fails it returns an
// ExhaustedError carrying all recorded reasons; the caller is expected to
// substitute a last-good or simulated value rather than leave the signal
// empty.
func (c *Chain[T]) Run(ctx context.Context) (Result[T], error) {
	var attempts []Attempt

	for tier, fetcher := range c.tiers {
		backoff := c.cfg.Backoff
		for retry := 0; ; retry++ {
			if err := ctx.Err(); err != nil {
				attempts = append(attempts, Attempt{
					Fetcher: fetcher.Name(), Tier: tier, Retry: retry > 0, Reason: "deadline exceeded",
				})
				return Result[T]{}, c.exhausted(attempts)
			}

			if c.cfg.Observer != nil {
				c.cfg.Observer.FetchAttempt(c.Signal, fetcher.Name())
			}
			value, err := fetcher.Fetch(ctx)
			if err == nil {
				return Result[T]{Value: value, Tier: tier, Source: fetcher.Name(), Attempts: attempts}, nil
			}

			failure := AsFailure(err)
			attempts = append(attempts, Attempt{
				Fetcher: fetcher.Name(), Tier: tier, Retry: retry > 0, Reason: failure.Reason,
			})
			if c.cfg.Observer != nil {
				c.cfg.Observer.FetchFailure(c.Signal, fetcher.Name(), failure.Kind())
			}
			log.Debug().Str("signal", c.Signal).Str("fetcher", fetcher.Name()).
				Int("tier", tier).Bool("retryable", failure.Retryable).
				Str("reason", failure.Reason).Msg("fetch attempt failed")

			if !failure.Retryable || retry >= c.cfg.Retries {
				break
			}
			if err := c.sleep(ctx, backoff); err != nil {
				return Result[T]{}, c.exhausted(attempts)
			}
			backoff *= 2
		}
	}
	return Result[T]{}, c.exhausted(attempts)
}

func (c *Chain[T]) exhausted(attempts []Attempt) error {
	if c.cfg.Observer != nil {
		c.cfg.Observer.ChainExhaustion(c.Signal)
	}
	return &ExhaustedError{Signal: c.Signal, Attempts: attempts}
}
