package score

import (
	"math"

	"github.com/pulsemkt/themescore/internal/history"
)

const neutralScore = 50.0

// compress bounds a z-score to (-1, 1) so one extreme reading cannot
// dominate the sentiment dimension.
func compress(z float64) float64 {
	return math.Tanh(z / 2)
}

// scorePutCall converts a put/call equity ratio series into a signed
// contribution. High put/call is panic, which is contrarian bullish.
func scorePutCall(series []float64) float64 {
	var logSeries []float64
	for _, v := range series {
		if v > 0 {
			logSeries = append(logSeries, math.Log(v))
		}
	}
	if len(logSeries) == 0 {
		return 0
	}
	return -compress(history.ZScore(logSeries))
}

// scoreAAII converts a bull-bear spread series into a signed contribution.
// Extreme optimism is bearish, pessimism is bullish.
func scoreAAII(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return -compress(history.ZScore(series))
}

// SentimentSummary is the aggregated survey sentiment shared by the equity
// themes, with per-component 0-100 values for the score document.
type SentimentSummary struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// aggregateSentiment combines the available survey series into a 0-100
// score. Returns ok=false when no component has both a current reading and
// history, in which case the themes fall back to neutral.
func aggregateSentiment(hasPutCall, hasAAII bool, putCallSeries, aaiiSeries []float64) (SentimentSummary, bool) {
	components := map[string]float64{}
	if hasPutCall && len(putCallSeries) > 0 {
		components["put_call"] = scorePutCall(putCallSeries)
	}
	if hasAAII && len(aaiiSeries) > 0 {
		components["aaii"] = scoreAAII(aaiiSeries)
	}
	if len(components) == 0 {
		return SentimentSummary{}, false
	}

	combined := 0.0
	for _, v := range components {
		combined += v
	}
	combined /= float64(len(components))

	scaled := map[string]float64{}
	for k, v := range components {
		scaled[k] = neutralScore + 50*v
	}
	return SentimentSummary{
		Score:      clamp(neutralScore + 50*combined),
		Components: scaled,
	}, true
}
