// Package metrics holds the Prometheus instruments exported by the monitor
// server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every instrument for one process.
type Registry struct {
	FetchAttempts  *prometheus.CounterVec
	FetchFailures  *prometheus.CounterVec
	ChainExhausted *prometheus.CounterVec
	Substitutions  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	RunsTotal      *prometheus.CounterVec
	ThemeTotal     *prometheus.GaugeVec
}

// NewRegistry builds and registers the instruments on reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated; production uses the default
// registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		FetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themescore_fetch_attempts_total",
				Help: "Provider fetch attempts by signal and provider",
			},
			[]string{"signal", "provider"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themescore_fetch_failures_total",
				Help: "Provider fetch failures by signal, provider and kind",
			},
			[]string{"signal", "provider", "kind"},
		),
		ChainExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themescore_chain_exhausted_total",
				Help: "Chains that failed every tier, by signal",
			},
			[]string{"signal"},
		),
		Substitutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themescore_substitutions_total",
				Help: "Signals served from a substitute, by signal and source (last_good or simulated)",
			},
			[]string{"signal", "source"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "themescore_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage", "status"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themescore_runs_total",
				Help: "Completed runs by outcome",
			},
			[]string{"outcome"},
		),
		ThemeTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "themescore_theme_total",
				Help: "Latest composite total per theme",
			},
			[]string{"theme"},
		),
	}
	reg.MustRegister(
		r.FetchAttempts,
		r.FetchFailures,
		r.ChainExhausted,
		r.Substitutions,
		r.StageDuration,
		r.RunsTotal,
		r.ThemeTotal,
	)
	return r
}

// Default registers on the global Prometheus registerer.
func Default() *Registry {
	return NewRegistry(prometheus.DefaultRegisterer)
}

// FetchAttempt counts one fetcher invocation. Together with FetchFailure and
// ChainExhaustion this satisfies the fetch chain's observer contract.
func (r *Registry) FetchAttempt(signal, provider string) {
	r.FetchAttempts.WithLabelValues(signal, provider).Inc()
}

// FetchFailure counts one failed fetcher invocation; kind is "transient" or
// "permanent".
func (r *Registry) FetchFailure(signal, provider, kind string) {
	r.FetchFailures.WithLabelValues(signal, provider, kind).Inc()
}

// ChainExhaustion counts a chain that failed every tier.
func (r *Registry) ChainExhaustion(signal string) {
	r.ChainExhausted.WithLabelValues(signal).Inc()
}

// Substitution counts a signal served from a substitute; source is
// "last_good" or "simulated".
func (r *Registry) Substitution(signal, source string) {
	r.Substitutions.WithLabelValues(signal, source).Inc()
}

// ObserveStage records one completed stage.
func (r *Registry) ObserveStage(stage, status string, elapsed time.Duration) {
	r.StageDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

// RecordRun records a run outcome: "ok", "degraded" or "failed".
func (r *Registry) RecordRun(outcome string) {
	r.RunsTotal.WithLabelValues(outcome).Inc()
}
