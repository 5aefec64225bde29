// Package ledger records per-stage outcomes for one run. Downstream
// rendering and notification read it as the single source of truth for
// banner decisions: degraded output is mandatory to surface, not optional.
package ledger

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsemkt/themescore/internal/atomicio"
)

// Status is a stage outcome.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Stage is one recorded pipeline stage.
type Stage struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Reason    string `json:"reason,omitempty"`
	StartedAt string `json:"started_at"`
}

// RunStatus is the aggregate view: ok=false whenever any stage failed to
// produce output at all; degraded=true whenever every stage produced output
// but at least one did so degraded.
type RunStatus struct {
	Date     string `json:"date"`
	OK       bool   `json:"ok"`
	Degraded bool   `json:"degraded"`
}

// Ledger accumulates stages for one dated run.
type Ledger struct {
	RunID  string  `json:"run_id"`
	Date   string  `json:"date"`
	Stages []Stage `json:"stages"`
}

func New(date string) *Ledger {
	return &Ledger{RunID: uuid.NewString(), Date: date}
}

// Record appends a completed stage.
func (l *Ledger) Record(name string, status Status, startedAt time.Time, reason string) {
	elapsed := time.Since(startedAt)
	l.Stages = append(l.Stages, Stage{
		Name:      name,
		Status:    status,
		ElapsedMS: elapsed.Milliseconds(),
		Reason:    reason,
		StartedAt: startedAt.UTC().Format(time.RFC3339),
	})
	evt := log.Info()
	if status != StatusOK {
		evt = log.Warn()
	}
	evt.Str("stage", name).Str("status", string(status)).
		Dur("elapsed", elapsed).Str("reason", reason).Msg("stage recorded")
}

// Aggregate derives the run status from the recorded stages. A failed stage
// makes the run not-ok; degraded is only reported for runs where every stage
// produced output.
func (l *Ledger) Aggregate() RunStatus {
	status := RunStatus{Date: l.Date, OK: true}
	for _, stage := range l.Stages {
		switch stage.Status {
		case StatusFailed:
			status.OK = false
		case StatusDegraded:
			status.Degraded = true
		}
	}
	if !status.OK {
		status.Degraded = false
	}
	return status
}

type document struct {
	Ledger
	RunStatus RunStatus `json:"status"`
}

// Persist writes the ledger document to out/run_ledger_<date>.json.
func (l *Ledger) Persist(outDir string) error {
	doc := document{Ledger: *l, RunStatus: l.Aggregate()}
	return atomicio.WriteJSON(filepath.Join(outDir, "run_ledger_"+l.Date+".json"), doc)
}

// Load reads a persisted ledger document for date.
func Load(outDir, date string) (*Ledger, RunStatus, error) {
	var doc document
	if err := atomicio.ReadJSON(filepath.Join(outDir, "run_ledger_"+date+".json"), &doc); err != nil {
		return nil, RunStatus{}, err
	}
	return &doc.Ledger, doc.RunStatus, nil
}
