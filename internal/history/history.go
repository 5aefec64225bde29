// Package history keeps the rolling windows that turn raw readings into
// distribution-relative values: sentiment metric series and per-theme score
// totals. One writer per run; series survive restarts.
package history

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/pulsemkt/themescore/internal/atomicio"
)

// Rolling window sizes per series kind.
const (
	PutCallWindow = 252
	AAIIWindow    = 104
	ScoreWindow   = 30
)

// Metric names for the sentiment series.
const (
	MetricPutCallEquity = "put_call_equity"
	MetricAAIISpread    = "aaii_bull_bear_spread"
)

// SentimentStore holds per-metric bounded value series.
type SentimentStore interface {
	// Series returns the stored values for metric, oldest first.
	Series(ctx context.Context, metric string) ([]float64, error)
	// Append adds value and trims the series to window.
	Append(ctx context.Context, metric string, value float64, window int) error
}

// ScoreEntry is one dated theme total.
type ScoreEntry struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
}

// ScoreStore holds per-theme bounded total series, keyed by date so a re-run
// replaces its own entry instead of appending a duplicate.
type ScoreStore interface {
	// PreviousTotal returns the most recent total recorded for a date other
	// than date, for delta computation.
	PreviousTotal(ctx context.Context, theme, date string) (float64, bool, error)
	// RecordTotal upserts the entry for (theme, date) and trims to
	// ScoreWindow entries.
	RecordTotal(ctx context.Context, theme, date string, total float64) error
}

// ZScore computes the z-score of the last element of series against the
// whole series (population standard deviation). Fewer than two samples or a
// flat series yield zero rather than a division error.
func ZScore(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(len(series)))
	if sigma == 0 {
		return 0
	}
	return (series[len(series)-1] - mean) / sigma
}

// FileSentimentStore persists metric series as one JSON document, written
// atomically on every append.
type FileSentimentStore struct {
	path   string
	series map[string][]float64
	loaded bool
}

func NewFileSentimentStore(path string) *FileSentimentStore {
	return &FileSentimentStore{path: path}
}

func (s *FileSentimentStore) load() error {
	if s.loaded {
		return nil
	}
	s.series = map[string][]float64{}
	err := atomicio.ReadJSON(s.path, &s.series)
	if err != nil && !os.IsNotExist(err) {
		// A corrupt history file is rebuilt from scratch: history is lost,
		// correctness is not.
		s.series = map[string][]float64{}
	}
	s.loaded = true
	return nil
}

func (s *FileSentimentStore) Series(_ context.Context, metric string) ([]float64, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return append([]float64(nil), s.series[metric]...), nil
}

func (s *FileSentimentStore) Append(_ context.Context, metric string, value float64, window int) error {
	if err := s.load(); err != nil {
		return err
	}
	series := append(s.series[metric], value)
	if window > 0 && len(series) > window {
		series = series[len(series)-window:]
	}
	s.series[metric] = series
	return atomicio.WriteJSON(s.path, s.series)
}

type scoreDocument struct {
	Themes map[string][]ScoreEntry `json:"themes"`
}

// FileScoreStore persists per-theme score entries as one JSON document.
type FileScoreStore struct {
	path   string
	doc    scoreDocument
	loaded bool
}

func NewFileScoreStore(path string) *FileScoreStore {
	return &FileScoreStore{path: path}
}

func (s *FileScoreStore) load() {
	if s.loaded {
		return
	}
	s.doc = scoreDocument{Themes: map[string][]ScoreEntry{}}
	var doc scoreDocument
	if err := atomicio.ReadJSON(s.path, &doc); err == nil && doc.Themes != nil {
		s.doc = doc
	}
	s.loaded = true
}

func (s *FileScoreStore) PreviousTotal(_ context.Context, theme, date string) (float64, bool, error) {
	s.load()
	entries := s.doc.Themes[theme]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Date != date {
			return entries[i].Total, true, nil
		}
	}
	return 0, false, nil
}

func (s *FileScoreStore) RecordTotal(_ context.Context, theme, date string, total float64) error {
	s.load()
	entries := s.doc.Themes[theme][:0:0]
	for _, entry := range s.doc.Themes[theme] {
		if entry.Date != date {
			entries = append(entries, entry)
		}
	}
	entries = append(entries, ScoreEntry{Date: date, Total: total})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	if len(entries) > ScoreWindow {
		entries = entries[len(entries)-ScoreWindow:]
	}
	s.doc.Themes[theme] = entries
	return atomicio.WriteJSON(s.path, s.doc)
}
