// Package pipeline runs the daily sequence: assemble the snapshot, score the
// themes, derive actions, and persist the run ledger. Stages run strictly in
// order; a failed stage stops the run but the ledger is always written.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsemkt/themescore/internal/action"
	"github.com/pulsemkt/themescore/internal/atomicio"
	"github.com/pulsemkt/themescore/internal/config"
	"github.com/pulsemkt/themescore/internal/ledger"
	"github.com/pulsemkt/themescore/internal/metrics"
	"github.com/pulsemkt/themescore/internal/score"
	"github.com/pulsemkt/themescore/internal/snapshot"
)

// ErrStrictDegraded is returned in strict mode when the snapshot carries any
// degraded signal: no score or action document is written.
var ErrStrictDegraded = errors.New("strict mode: snapshot degraded")

// Options control one run.
type Options struct {
	ForceFetch bool
	ForceScore bool
	Strict     bool
}

// Pipeline owns the stage sequence for dated runs.
type Pipeline struct {
	assembler *snapshot.Assembler
	scorer    *score.Scorer
	cfg       *config.Config
	outDir    string
	stateDir  string
	metrics   *metrics.Registry
}

func New(assembler *snapshot.Assembler, scorer *score.Scorer, cfg *config.Config, outDir, stateDir string) *Pipeline {
	return &Pipeline{assembler: assembler, scorer: scorer, cfg: cfg, outDir: outDir, stateDir: stateDir}
}

// WithMetrics attaches a metrics registry. Without one the pipeline runs
// unmetered.
func (p *Pipeline) WithMetrics(reg *metrics.Registry) *Pipeline {
	p.metrics = reg
	return p
}

// FetchStatus is the persisted etl_status document: the per-signal ledger of
// one assembly, separate from the snapshot so monitors can poll it cheaply.
type FetchStatus struct {
	Date     string                 `json:"date"`
	OK       bool                   `json:"ok"`
	Degraded int                    `json:"degraded_signals"`
	Sources  []snapshot.StatusEntry `json:"sources"`
}

// ActionsDocument is the persisted actions output.
type ActionsDocument struct {
	Date       string            `json:"date"`
	Thresholds config.Thresholds `json:"thresholds"`
	Items      []action.Item     `json:"items"`
}

func (p *Pipeline) scoresPath(date string) string {
	return filepath.Join(p.outDir, "scores_"+date+".json")
}

func (p *Pipeline) actionsPath(date string) string {
	return filepath.Join(p.outDir, "etl_actions_"+date+".json")
}

func (p *Pipeline) statusPath(date string) string {
	return filepath.Join(p.outDir, "etl_status_"+date+".json")
}

func (p *Pipeline) doneMarker(date string) string {
	return filepath.Join(p.stateDir, "done_"+date)
}

// scored returns the persisted score document for date when the done marker
// and document both exist and agree on the date.
func (p *Pipeline) scored(date string) (*score.Result, bool) {
	if _, err := os.Stat(p.doneMarker(date)); err != nil {
		return nil, false
	}
	var result score.Result
	if err := atomicio.ReadJSON(p.scoresPath(date), &result); err != nil || result.Date != date {
		return nil, false
	}
	return &result, true
}

// Run executes the full sequence for date and returns the aggregate status.
// The ledger document is persisted even when a stage fails.
func (p *Pipeline) Run(ctx context.Context, date string, opts Options) (ledger.RunStatus, error) {
	led := ledger.New(date)
	status, err := p.run(ctx, date, opts, led)
	if persistErr := led.Persist(p.outDir); persistErr != nil {
		log.Error().Err(persistErr).Str("date", date).Msg("run ledger persist failed")
		if err == nil {
			err = fmt.Errorf("persist run ledger: %w", persistErr)
		}
	}
	if p.metrics != nil {
		outcome := "ok"
		switch {
		case !status.OK:
			outcome = "failed"
		case status.Degraded:
			outcome = "degraded"
		}
		p.metrics.RecordRun(outcome)
	}
	return status, err
}

func (p *Pipeline) run(ctx context.Context, date string, opts Options, led *ledger.Ledger) (ledger.RunStatus, error) {
	snap, err := p.fetchStage(ctx, date, opts.ForceFetch, led)
	if err != nil {
		return led.Aggregate(), err
	}

	if opts.Strict && !snap.OK() {
		led.Record("score", ledger.StatusFailed, time.Now(), ErrStrictDegraded.Error())
		return led.Aggregate(), ErrStrictDegraded
	}

	result, err := p.scoreStage(ctx, snap, opts.ForceScore, led)
	if err != nil {
		return led.Aggregate(), err
	}

	if err := p.actionStage(result, led); err != nil {
		return led.Aggregate(), err
	}
	return led.Aggregate(), nil
}

func (p *Pipeline) fetchStage(ctx context.Context, date string, force bool, led *ledger.Ledger) (*snapshot.Snapshot, error) {
	started := time.Now()
	snap, err := p.assembler.Assemble(ctx, date, force)
	if err != nil {
		p.record(led, "fetch", ledger.StatusFailed, started, err.Error())
		return nil, fmt.Errorf("fetch stage: %w", err)
	}

	degraded := 0
	for _, entry := range snap.Sources {
		if !entry.OK {
			degraded++
		}
	}
	fetchStatus := FetchStatus{Date: date, OK: degraded == 0, Degraded: degraded, Sources: snap.Sources}
	if err := atomicio.WriteJSON(p.statusPath(date), fetchStatus); err != nil {
		p.record(led, "fetch", ledger.StatusFailed, started, "persist fetch status: "+err.Error())
		return nil, fmt.Errorf("persist fetch status: %w", err)
	}

	if degraded > 0 {
		p.record(led, "fetch", ledger.StatusDegraded, started,
			fmt.Sprintf("%d of %d signals degraded", degraded, len(snap.Sources)))
	} else {
		p.record(led, "fetch", ledger.StatusOK, started, "")
	}
	return snap, nil
}

func (p *Pipeline) scoreStage(ctx context.Context, snap *snapshot.Snapshot, force bool, led *ledger.Ledger) (*score.Result, error) {
	started := time.Now()

	if !force {
		if result, ok := p.scored(snap.Date); ok {
			log.Info().Str("date", snap.Date).Msg("scores already computed, using persisted document")
			status := ledger.StatusOK
			if result.Degraded {
				status = ledger.StatusDegraded
			}
			p.record(led, "score", status, started, "reused persisted scores")
			return result, nil
		}
	}

	result, err := p.scorer.Score(ctx, snap)
	if err != nil {
		p.record(led, "score", ledger.StatusFailed, started, err.Error())
		return nil, fmt.Errorf("score stage: %w", err)
	}
	if err := atomicio.WriteJSON(p.scoresPath(snap.Date), result); err != nil {
		p.record(led, "score", ledger.StatusFailed, started, "persist scores: "+err.Error())
		return nil, fmt.Errorf("persist scores: %w", err)
	}
	if err := p.touchDone(snap.Date); err != nil {
		p.record(led, "score", ledger.StatusFailed, started, "write score marker: "+err.Error())
		return nil, fmt.Errorf("write score marker: %w", err)
	}

	if p.metrics != nil {
		for _, theme := range result.Themes {
			p.metrics.ThemeTotal.WithLabelValues(theme.Name).Set(theme.Total)
		}
	}

	if result.Degraded {
		p.record(led, "score", ledger.StatusDegraded, started, "one or more themes scored on fallback data")
	} else {
		p.record(led, "score", ledger.StatusOK, started, "")
	}
	return result, nil
}

func (p *Pipeline) actionStage(result *score.Result, led *ledger.Ledger) error {
	started := time.Now()
	doc := ActionsDocument{
		Date:       result.Date,
		Thresholds: p.cfg.Thresholds,
		Items:      action.Generate(result.Themes, p.cfg.Thresholds),
	}
	if err := atomicio.WriteJSON(p.actionsPath(result.Date), doc); err != nil {
		p.record(led, "actions", ledger.StatusFailed, started, "persist actions: "+err.Error())
		return fmt.Errorf("persist actions: %w", err)
	}
	p.record(led, "actions", ledger.StatusOK, started, fmt.Sprintf("%d recommendations", len(doc.Items)))
	return nil
}

func (p *Pipeline) touchDone(date string) error {
	if err := os.MkdirAll(p.stateDir, 0o755); err != nil {
		return err
	}
	return atomicio.WriteFile(p.doneMarker(date), []byte(date+"\n"))
}

func (p *Pipeline) record(led *ledger.Ledger, stage string, status ledger.Status, started time.Time, reason string) {
	led.Record(stage, status, started, reason)
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, string(status), time.Since(started))
	}
}
