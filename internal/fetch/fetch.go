// Package fetch defines the provider fetcher contract and the fallback chain
// that turns an ordered list of interchangeable fetchers into one resilient
// signal source. Failures are typed: transient ones are retried within a
// tier, permanent ones advance the chain immediately.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failure is the typed error a fetcher reports. It never escapes the fetch
// layer as a panic; every provider problem becomes one of these.
type Failure struct {
	Reason    string
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

// Kind is the failure class label used by logs and metrics.
func (f *Failure) Kind() string {
	if f.Retryable {
		return "transient"
	}
	return "permanent"
}

// Transient wraps timeouts, rate limits and 5xx responses: worth retrying
// within the same tier.
func Transient(reason string, err error) *Failure {
	return &Failure{Reason: reason, Retryable: true, Err: err}
}

// Permanent wraps auth failures, schema mismatches and unsupported symbols:
// retrying the same tier cannot help.
func Permanent(reason string, err error) *Failure {
	return &Failure{Reason: reason, Retryable: false, Err: err}
}

// MissingCredential is the permanent failure a keyed fetcher reports when its
// credential is absent. The chain advances; this is not an error condition.
func MissingCredential(provider string) *Failure {
	return &Failure{Reason: "missing credential: " + provider, Retryable: false}
}

// AsFailure extracts the Failure from err, classifying unknown errors as
// permanent so an unexpected error never burns the retry budget.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Reason: "deadline exceeded", Retryable: true, Err: err}
	}
	return &Failure{Reason: err.Error(), Retryable: false, Err: err}
}

// Fetcher produces one value for one logical signal from one upstream.
type Fetcher[T any] interface {
	Name() string
	Fetch(ctx context.Context) (T, error)
}

// Func adapts a closure to the Fetcher interface.
type Func[T any] struct {
	Provider string
	Call     func(ctx context.Context) (T, error)
}

func (f Func[T]) Name() string                         { return f.Provider }
func (f Func[T]) Fetch(ctx context.Context) (T, error) { return f.Call(ctx) }

// Attempt records one fetcher invocation inside a chain run.
type Attempt struct {
	Fetcher string `json:"fetcher"`
	Tier    int    `json:"tier"`
	Retry   bool   `json:"retry"`
	Reason  string `json:"reason"`
}

// Result is a successful chain outcome: the value plus which tier served it
// and the trail of failed attempts that preceded it.
type Result[T any] struct {
	Value    T
	Tier     int
	Source   string
	Attempts []Attempt
}

// ExhaustedError reports that every tier of a chain failed. It carries the
// union of per-tier reasons so the status ledger can surface them verbatim.
type ExhaustedError struct {
	Signal   string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, a.Fetcher+": "+a.Reason)
	}
	return fmt.Sprintf("chain %s exhausted: %s", e.Signal, strings.Join(reasons, "; "))
}
