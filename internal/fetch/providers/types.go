// Package providers implements one fetcher per upstream data source and
// assembles them into the fallback chains the snapshot layer consumes.
package providers

// Quote is a normalized daily close for one symbol from one source.
type Quote struct {
	Day       string  `json:"day"`
	Close     float64 `json:"close"`
	ChangePct float64 `json:"change_pct"`
	Source    string  `json:"source"`
}

// ThemeMetrics aggregates valuation metrics across a theme's constituents.
// Pointers distinguish "absent upstream" from zero.
type ThemeMetrics struct {
	ChangePct *float64 `json:"change_pct"`
	AvgPE     *float64 `json:"avg_pe"`
	AvgPS     *float64 `json:"avg_ps"`
	MarketCap *float64 `json:"market_cap"`
}

// PutCall carries the Cboe daily put/call ratios.
type PutCall struct {
	Day    string  `json:"day"`
	Equity float64 `json:"equity"`
	Index  float64 `json:"index"`
}

// AAII carries the weekly AAII sentiment survey readings, in percent.
type AAII struct {
	Week           string  `json:"week"`
	Bullish        float64 `json:"bullish"`
	Bearish        float64 `json:"bearish"`
	BullBearSpread float64 `json:"bull_bear_spread"`
}

// Event is one calendar entry (macro release, earnings, news).
type Event struct {
	Title   string `json:"title"`
	Date    string `json:"date"`
	Impact  string `json:"impact"`
	Country string `json:"country,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Theme constituent symbols used for valuation aggregation.
var ThemeSymbols = map[string][]string{
	"ai":           {"NVDA", "MSFT", "GOOGL", "AMD"},
	"magnificent7": {"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA"},
}

// Index labels and their ETF proxies.
var IndexProxies = map[string]string{
	"SPX": "SPY",
	"NDX": "QQQ",
}

// Sector names and their ETF proxies.
var SectorProxies = map[string]string{
	"AI":        "BOTZ",
	"Defensive": "XLP",
}
