package providers

import (
	"math"
	"time"
)

// Simulated data is deterministic per trading day so repeated runs on the
// same date produce identical documents. It is the final tier of every
// chain: a signal only reaches it after every live provider and the
// last-good cache have failed.

func dateSeed(day string) int {
	seed := 0
	for _, ch := range day {
		seed += int(ch)
	}
	return seed
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// SimIndexQuote synthesizes an index quote for SPX or NDX.
func SimIndexQuote(day, symbol string) Quote {
	seed := dateSeed(day)
	level := float64(4800 + seed%50)
	quote := Quote{Day: day, Source: "simulated"}
	switch symbol {
	case "NDX":
		quote.Close = round2(level * 1.2)
		quote.ChangePct = round2(float64(seed%3-1) * 0.4)
	default:
		quote.Close = round2(level)
		quote.ChangePct = round2(float64(seed%5-2) * 0.3)
	}
	return quote
}

// SimSectorPerf synthesizes a sector performance figure.
func SimSectorPerf(day, name string) float64 {
	seed := dateSeed(day)
	if name == "Defensive" {
		return round2(0.8 + float64(seed%5)*0.05)
	}
	return round2(1.2 + float64(seed%7)*0.1)
}

// SimHKIndex synthesizes the Hang Seng quote.
func SimHKIndex(day string) Quote {
	seed := dateSeed(day)
	return Quote{
		Day:       day,
		Close:     float64(18000 + seed%200),
		ChangePct: round2(float64(seed%9-4) * 0.2),
		Source:    "simulated",
	}
}

// SimThemeMetrics synthesizes per-theme valuation aggregates.
func SimThemeMetrics(day string) map[string]ThemeMetrics {
	seed := dateSeed(day)
	aiChange := round2(float64(seed%5-2) * 0.5)
	aiPE, aiPS := 32.5, 7.5
	mag7Change := round2(float64(seed%11-5) * 0.3)
	mag7PE, mag7PS := 30.0, 6.2
	mag7Cap := 12_000_000_000_000.0
	return map[string]ThemeMetrics{
		"ai":           {ChangePct: &aiChange, AvgPE: &aiPE, AvgPS: &aiPS},
		"magnificent7": {ChangePct: &mag7Change, AvgPE: &mag7PE, AvgPS: &mag7PS, MarketCap: &mag7Cap},
	}
}

// SimBTC synthesizes the BTC theme inputs: ETF net inflow in millions,
// funding rate, and futures basis.
func SimBTC(day string) (inflow, funding, basis float64) {
	seed := (len(day) * 37) % 11
	inflow = round2(float64(seed-5) * 12.5)
	funding = round4(0.01 + float64(seed)*0.001)
	basis = round4(0.02 - float64(seed)*0.0015)
	return inflow, funding, basis
}

// SimEvents synthesizes a two-entry calendar anchored on the trading day.
func SimEvents(day string) []Event {
	later := day
	if parsed, err := time.Parse("2006-01-02", day); err == nil {
		later = parsed.AddDate(0, 0, 2).Format("2006-01-02")
	}
	return []Event{
		{Title: "FOMC minutes release", Date: day, Impact: "high", Source: "simulated"},
		{Title: "Large-cap tech earnings", Date: later, Impact: "medium", Source: "simulated"},
	}
}
