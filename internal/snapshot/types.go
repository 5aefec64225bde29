// Package snapshot assembles the dated raw snapshot: every signal chain is
// run once, failures substitute last-good or simulated values, and the fetch
// status ledger records what happened per signal.
package snapshot

import (
	"github.com/pulsemkt/themescore/internal/fetch/providers"
)

// StatusEntry is one fetch status ledger line: what served a signal, or why
// it degraded. TierUsed is nil when the signal never resolved live.
type StatusEntry struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	TierUsed *int   `json:"tier_used,omitempty"`
}

// IndexRow is one index or HK index line in the market block.
type IndexRow struct {
	Symbol    string  `json:"symbol"`
	Close     float64 `json:"close"`
	ChangePct float64 `json:"change_pct"`
}

// SectorRow is one sector performance line.
type SectorRow struct {
	Name        string  `json:"name"`
	Performance float64 `json:"performance"`
}

// ThemeEntry is the per-theme market data the scorer reads. Pointers mark
// fields that may be absent when a source degraded.
type ThemeEntry struct {
	Performance *float64 `json:"performance,omitempty"`
	ChangePct   *float64 `json:"change_pct,omitempty"`
	AvgPE       *float64 `json:"avg_pe,omitempty"`
	AvgPS       *float64 `json:"avg_ps,omitempty"`
	MarketCap   *float64 `json:"market_cap,omitempty"`
}

// Market is the equities portion of the snapshot.
type Market struct {
	Date      string                `json:"date"`
	Indices   []IndexRow            `json:"indices"`
	Sectors   []SectorRow           `json:"sectors"`
	HKIndices []IndexRow            `json:"hk_indices"`
	Themes    map[string]ThemeEntry `json:"themes"`
}

// BTC is the crypto theme portion. Spot and perpetual prices may be absent
// when the whole block fell back to simulated values.
type BTC struct {
	Date              string   `json:"date"`
	SpotPriceUSD      *float64 `json:"spot_price_usd,omitempty"`
	PerpetualPriceUSD *float64 `json:"perpetual_price_usd,omitempty"`
	ETFNetInflowMUSD  float64  `json:"etf_net_inflow_musd"`
	FundingRate       float64  `json:"funding_rate"`
	FuturesBasis      float64  `json:"futures_basis"`
}

// Sentiment carries the raw survey readings; nil when a source degraded with
// nothing to substitute.
type Sentiment struct {
	PutCall *providers.PutCall `json:"put_call,omitempty"`
	AAII    *providers.AAII    `json:"aaii,omitempty"`
}

// Snapshot is the immutable per-date bag of everything fetched, plus the
// status ledger. Created once per run; read-only afterward.
type Snapshot struct {
	Date      string            `json:"date"`
	Market    Market            `json:"market"`
	BTC       BTC               `json:"btc"`
	Sentiment Sentiment         `json:"sentiment"`
	Events    []providers.Event `json:"events"`
	Sources   []StatusEntry     `json:"sources"`
}

// OK reports whether every ledger entry succeeded.
func (s *Snapshot) OK() bool {
	for _, entry := range s.Sources {
		if !entry.OK {
			return false
		}
	}
	return true
}

// SignalOK reports whether the named signal resolved live. Absent signals
// count as degraded.
func (s *Snapshot) SignalOK(name string) bool {
	for _, entry := range s.Sources {
		if entry.Name == name {
			return entry.OK
		}
	}
	return false
}

// Theme returns the market theme entry for name, if present.
func (s *Snapshot) Theme(name string) (ThemeEntry, bool) {
	entry, ok := s.Market.Themes[name]
	return entry, ok
}
