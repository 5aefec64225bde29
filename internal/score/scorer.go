// Package score turns a raw snapshot plus history into per-theme 0-100
// composite scores with dimension-level attribution and honest degradation
// flags.
package score

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pulsemkt/themescore/internal/config"
	"github.com/pulsemkt/themescore/internal/history"
	"github.com/pulsemkt/themescore/internal/snapshot"
)

// Detail attributes one dimension's value: where it came from and whether a
// fallback stood in for real data.
type Detail struct {
	Value    float64  `json:"value"`
	Fallback bool     `json:"fallback"`
	Source   string   `json:"source,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Raw      *float64 `json:"raw,omitempty"`
}

// Meta carries run-over-run context for a theme.
type Meta struct {
	PreviousTotal *float64 `json:"previous_total"`
	Delta         *float64 `json:"delta"`
	// DistanceToAdd is how many points the total is below the add
	// threshold; DistanceToTrim how many points above the trim threshold.
	DistanceToAdd  float64 `json:"distance_to_add"`
	DistanceToTrim float64 `json:"distance_to_trim"`
}

// ThemeScore is one theme's composite for one run. Immutable once built;
// the next run supersedes it.
type ThemeScore struct {
	Name            string             `json:"name"`
	Label           string             `json:"label"`
	Total           float64            `json:"total"`
	Breakdown       map[string]float64 `json:"breakdown"`
	BreakdownDetail map[string]Detail  `json:"breakdown_detail"`
	Weights         map[string]float64 `json:"weights"`
	Meta            Meta               `json:"meta"`
	Degraded        bool               `json:"degraded"`
}

// dimension is an indicator before weighting. unavailable means no data
// backed it at all, so its weight is redistributed; fallback with data
// (substituted or proxied) keeps its weight.
type dimension struct {
	detail      Detail
	unavailable bool
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// scale maps a raw value onto 0-100 around a midpoint.
func scale(value, midpoint, sensitivity float64) float64 {
	return clamp(50 + (value-midpoint)*sensitivity)
}

// inverseRatioScore scores a valuation multiple against a baseline: cheaper
// than baseline scores above 50. Missing or non-positive input is neutral.
func inverseRatioScore(value *float64, baseline, sensitivity float64) float64 {
	if value == nil || *value <= 0 {
		return neutralScore
	}
	return scale(baseline / *value, 1.0, sensitivity)
}

func marketCapScore(value *float64, baselineTrillions float64) float64 {
	if value == nil || *value <= 0 {
		return neutralScore
	}
	return scale(*value/1e12, baselineTrillions, 6.0)
}

// Scorer computes theme scores for one date.
type Scorer struct {
	cfg       *config.Config
	sentiment history.SentimentStore
	scores    history.ScoreStore
}

func NewScorer(cfg *config.Config, sentiment history.SentimentStore, scores history.ScoreStore) *Scorer {
	return &Scorer{cfg: cfg, sentiment: sentiment, scores: scores}
}

// Result is the full output of one scoring run.
type Result struct {
	Date      string             `json:"date"`
	Themes    []ThemeScore       `json:"themes"`
	Sentiment *SentimentSummary  `json:"sentiment,omitempty"`
	Degraded  bool               `json:"degraded"`
	Config    config.ConfigStamp `json:"config"`
}

// Score appends the snapshot's sentiment readings to history, aggregates
// sentiment, and scores every configured theme in config order.
func (s *Scorer) Score(ctx context.Context, snap *snapshot.Snapshot) (*Result, error) {
	date := snap.Date

	if snap.Sentiment.PutCall != nil {
		if err := s.sentiment.Append(ctx, history.MetricPutCallEquity, snap.Sentiment.PutCall.Equity, history.PutCallWindow); err != nil {
			return nil, fmt.Errorf("append put/call history: %w", err)
		}
	}
	if snap.Sentiment.AAII != nil {
		if err := s.sentiment.Append(ctx, history.MetricAAIISpread, snap.Sentiment.AAII.BullBearSpread, history.AAIIWindow); err != nil {
			return nil, fmt.Errorf("append aaii history: %w", err)
		}
	}

	putCallSeries, err := s.sentiment.Series(ctx, history.MetricPutCallEquity)
	if err != nil {
		return nil, fmt.Errorf("load put/call history: %w", err)
	}
	aaiiSeries, err := s.sentiment.Series(ctx, history.MetricAAIISpread)
	if err != nil {
		return nil, fmt.Errorf("load aaii history: %w", err)
	}

	summary, sentimentOK := aggregateSentiment(
		snap.Sentiment.PutCall != nil, snap.Sentiment.AAII != nil,
		putCallSeries, aaiiSeries)
	sentimentScore := neutralScore
	if sentimentOK {
		sentimentScore = summary.Score
	}

	result := &Result{Date: date, Config: s.cfg.Stamp()}
	if sentimentOK {
		result.Sentiment = &summary
	}

	for _, theme := range s.cfg.Themes {
		dims := s.dimensions(theme.Name, snap, sentimentScore, sentimentOK)
		themeScore := s.compose(theme, dims)

		if prev, found, err := s.scores.PreviousTotal(ctx, theme.Name, date); err != nil {
			return nil, fmt.Errorf("previous total %s: %w", theme.Name, err)
		} else if found {
			delta := themeScore.Total - prev
			prevCopy := prev
			themeScore.Meta.PreviousTotal = &prevCopy
			themeScore.Meta.Delta = &delta
		}
		themeScore.Meta.DistanceToAdd = s.cfg.Thresholds.ActionAdd - themeScore.Total
		themeScore.Meta.DistanceToTrim = themeScore.Total - s.cfg.Thresholds.ActionTrim

		if err := s.scores.RecordTotal(ctx, theme.Name, date, themeScore.Total); err != nil {
			return nil, fmt.Errorf("record total %s: %w", theme.Name, err)
		}

		if themeScore.Degraded {
			result.Degraded = true
		}
		result.Themes = append(result.Themes, themeScore)

		log.Info().Str("theme", theme.Name).Float64("total", themeScore.Total).
			Bool("degraded", themeScore.Degraded).Msg("theme scored")
	}
	return result, nil
}

// compose weights the dimensions into a total, redistributing the weight of
// unavailable dimensions across the rest.
func (s *Scorer) compose(theme config.Theme, dims map[string]dimension) ThemeScore {
	weights := make(map[string]float64, len(theme.Weights))
	availableWeight := 0.0
	hasUnavailable := false
	for name, w := range theme.Weights {
		if dim, ok := dims[name]; ok && !dim.unavailable {
			availableWeight += w
		} else {
			hasUnavailable = true
		}
		weights[name] = w
	}
	if hasUnavailable && availableWeight > 0 {
		for name := range weights {
			if dim, ok := dims[name]; !ok || dim.unavailable {
				weights[name] = 0
			} else {
				weights[name] /= availableWeight
			}
		}
	}

	out := ThemeScore{
		Name:            theme.Name,
		Label:           theme.Label,
		Breakdown:       make(map[string]float64, len(dims)),
		BreakdownDetail: make(map[string]Detail, len(dims)),
		Weights:         weights,
	}
	for name, dim := range dims {
		out.Breakdown[name] = dim.detail.Value
		out.BreakdownDetail[name] = dim.detail
		if dim.detail.Fallback {
			out.Degraded = true
		}
		out.Total += weights[name] * dim.detail.Value
	}
	out.Total = clamp(out.Total)
	return out
}

func (s *Scorer) dimensions(theme string, snap *snapshot.Snapshot, sentimentScore float64, sentimentOK bool) map[string]dimension {
	switch theme {
	case "btc":
		return s.btcDimensions(snap)
	case "magnificent7":
		return s.capWeightedDimensions(snap, "magnificent7", capWeightedParams{
			capBaselineTrillions: 11.5,
			peBaseline:           32.0, peSensitivity: 85.0,
			psBaseline: 7.0, psSensitivity: 65.0,
			eventValue: 68.0,
		}, sentimentScore, sentimentOK)
	default:
		return s.performanceDimensions(snap, theme, sentimentScore, sentimentOK)
	}
}

// performanceDimensions covers performance-led themes (ai and any future
// equity theme): fundamental from theme performance with index proxying.
func (s *Scorer) performanceDimensions(snap *snapshot.Snapshot, theme string, sentimentScore float64, sentimentOK bool) map[string]dimension {
	entry, _ := snap.Theme(theme)
	metricsOK := snap.SignalOK("theme_metrics")

	perf := 1.0
	perfSource := "default"
	perfFallback := true
	perfUnavailable := true
	if entry.Performance != nil {
		perf = *entry.Performance
		perfSource = "theme performance"
		perfFallback = !snap.SignalOK("sector_AI")
		perfUnavailable = false
	} else if entry.ChangePct != nil {
		perf = *entry.ChangePct
		perfSource = "theme change pct"
		perfFallback = !metricsOK
		perfUnavailable = false
	}

	dims := map[string]dimension{
		"fundamental": {
			detail: Detail{
				Value:    scale(perf, 1.0, 40),
				Fallback: perfFallback,
				Source:   perfSource,
				Raw:      &perf,
			},
			unavailable: perfUnavailable,
		},
		"valuation": valuationDimension(entry.AvgPE, metricsOK, 35.0, 90.0, "missing average PE"),
		"liquidity": valuationDimension(entry.AvgPS, metricsOK, 8.0, 70.0, "missing average PS"),
		"sentiment": sentimentDimension(sentimentScore, sentimentOK),
		"event":     {detail: Detail{Value: 70.0, Source: "configured"}},
	}
	if dims["fundamental"].unavailable {
		d := dims["fundamental"]
		d.detail.Reason = "missing theme performance, using default estimate"
		dims["fundamental"] = d
	}
	return dims
}

type capWeightedParams struct {
	capBaselineTrillions float64
	peBaseline           float64
	peSensitivity        float64
	psBaseline           float64
	psSensitivity        float64
	eventValue           float64
}

// capWeightedDimensions covers market-cap-led themes: fundamental from
// aggregate market cap.
func (s *Scorer) capWeightedDimensions(snap *snapshot.Snapshot, theme string, p capWeightedParams, sentimentScore float64, sentimentOK bool) map[string]dimension {
	entry, _ := snap.Theme(theme)
	metricsOK := snap.SignalOK("theme_metrics")

	capMissing := entry.MarketCap == nil || *entry.MarketCap <= 0
	capDetail := Detail{
		Value:    marketCapScore(entry.MarketCap, p.capBaselineTrillions),
		Fallback: capMissing || !metricsOK,
		Raw:      entry.MarketCap,
	}
	if capMissing {
		capDetail.Reason = "missing aggregate market cap, using neutral value"
	}

	return map[string]dimension{
		"fundamental": {detail: capDetail, unavailable: capMissing},
		"valuation":   valuationDimension(entry.AvgPE, metricsOK, p.peBaseline, p.peSensitivity, "missing average PE"),
		"liquidity":   valuationDimension(entry.AvgPS, metricsOK, p.psBaseline, p.psSensitivity, "missing average PS"),
		"sentiment":   sentimentDimension(sentimentScore, sentimentOK),
		"event":       {detail: Detail{Value: p.eventValue, Source: "configured"}},
	}
}

func (s *Scorer) btcDimensions(snap *snapshot.Snapshot) map[string]dimension {
	btc := snap.BTC

	basis := btc.FuturesBasis
	basisFallback := !snap.SignalOK("btc_perp")
	funding := btc.FundingRate
	fundingFallback := !snap.SignalOK("btc_funding")
	inflow := btc.ETFNetInflowMUSD
	inflowFallback := !snap.SignalOK("etf_flow")

	dims := map[string]dimension{
		"fundamental": {detail: Detail{Value: neutralScore, Source: "configured"}},
		"valuation": {detail: Detail{
			Value:    scale(-absFloat(basis), -0.01, 250),
			Fallback: basisFallback,
			Raw:      &basis,
		}},
		"sentiment": {detail: Detail{
			Value:    scale(funding, 0.005, 600),
			Fallback: fundingFallback,
			Raw:      &funding,
		}},
		"liquidity": {detail: Detail{
			Value:    scale(inflow, 0.0, 1.5),
			Fallback: inflowFallback,
			Raw:      &inflow,
		}},
		"event": {detail: Detail{Value: 65.0, Source: "configured"}},
	}
	if basisFallback {
		d := dims["valuation"]
		d.detail.Reason = "futures basis degraded"
		dims["valuation"] = d
	}
	if fundingFallback {
		d := dims["sentiment"]
		d.detail.Reason = "funding rate degraded"
		dims["sentiment"] = d
	}
	if inflowFallback {
		d := dims["liquidity"]
		d.detail.Reason = "etf net inflow degraded"
		dims["liquidity"] = d
	}
	return dims
}

func valuationDimension(value *float64, signalOK bool, baseline, sensitivity float64, missingReason string) dimension {
	missing := value == nil || *value <= 0
	d := dimension{
		detail: Detail{
			Value:    inverseRatioScore(value, baseline, sensitivity),
			Fallback: missing || !signalOK,
			Raw:      value,
		},
		unavailable: missing,
	}
	if missing {
		d.detail.Reason = missingReason + ", using neutral value"
	}
	return d
}

func sentimentDimension(score float64, ok bool) dimension {
	d := dimension{detail: Detail{Value: score, Fallback: !ok}}
	if !ok {
		d.detail.Reason = "sentiment data gap, using neutral value"
		d.unavailable = true
	}
	return d
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
