package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemkt/themescore/internal/fetch"
	"github.com/pulsemkt/themescore/internal/fetch/providers"
	"github.com/pulsemkt/themescore/internal/lastgood"
)

// fakeSources scripts every signal. Unset signals fail as exhausted chains.
type fakeSources struct {
	calls   map[string]int
	quotes  map[string]providers.Quote
	metrics map[string]providers.ThemeMetrics
	spot    *float64
	funding *float64
	perp    *float64
	flow    *float64
	putCall *providers.PutCall
	aaii    *providers.AAII
	events  []providers.Event
}

func newFakeSources() *fakeSources {
	spot, funding, perp, flow := 65000.0, 0.0001, 65650.0, 120.5
	return &fakeSources{
		calls: map[string]int{},
		quotes: map[string]providers.Quote{
			"index_SPX":        {Day: "2026-08-28", Close: 4820, ChangePct: 0.4, Source: "stooq:^spx"},
			"index_NDX":        {Day: "2026-08-28", Close: 5784, ChangePct: 0.8, Source: "stooq:^ndx"},
			"sector_AI":        {Day: "2026-08-28", Close: 32.5, ChangePct: 1.5, Source: "stooq:botz.us"},
			"sector_Defensive": {Day: "2026-08-28", Close: 80.1, ChangePct: -0.2, Source: "stooq:xlp.us"},
			"hk_HSI":           {Day: "2026-08-28", Close: 18100, ChangePct: -0.6, Source: "stooq:^hsi"},
		},
		metrics: map[string]providers.ThemeMetrics{
			"ai":           {ChangePct: f(1.2), AvgPE: f(35.0), AvgPS: f(12.0)},
			"magnificent7": {ChangePct: f(0.9), AvgPE: f(30.0), AvgPS: f(6.5), MarketCap: f(1.2e13)},
		},
		spot: &spot, funding: &funding, perp: &perp, flow: &flow,
		putCall: &providers.PutCall{Day: "2026-08-28", Equity: 0.62, Index: 1.1},
		aaii:    &providers.AAII{Week: "2026-08-27", Bullish: 31.5, Bearish: 40.3, BullBearSpread: -8.8},
		events:  []providers.Event{{Title: "Core PCE Price Index", Date: "2026-08-29", Impact: "high"}},
	}
}

func f(v float64) *float64 { return &v }

func exhausted(signal string) error {
	return &fetch.ExhaustedError{Signal: signal, Attempts: []fetch.Attempt{
		{Fetcher: "primary", Tier: 0, Reason: "upstream error (HTTP 500)"},
	}}
}

func (s *fakeSources) quote(signal string) (fetch.Result[providers.Quote], error) {
	s.calls[signal]++
	quote, ok := s.quotes[signal]
	if !ok {
		return fetch.Result[providers.Quote]{}, exhausted(signal)
	}
	return fetch.Result[providers.Quote]{Value: quote, Source: quote.Source}, nil
}

func (s *fakeSources) scalar(signal string, v *float64) (fetch.Result[float64], error) {
	s.calls[signal]++
	if v == nil {
		return fetch.Result[float64]{}, exhausted(signal)
	}
	return fetch.Result[float64]{Value: *v, Source: signal}, nil
}

func (s *fakeSources) IndexQuote(_ context.Context, symbol string) (fetch.Result[providers.Quote], error) {
	return s.quote("index_" + symbol)
}

func (s *fakeSources) SectorQuote(_ context.Context, name string) (fetch.Result[providers.Quote], error) {
	return s.quote("sector_" + name)
}

func (s *fakeSources) HKIndexQuote(_ context.Context, symbol string) (fetch.Result[providers.Quote], error) {
	return s.quote("hk_" + symbol)
}

func (s *fakeSources) ThemeMetrics(_ context.Context) (fetch.Result[map[string]providers.ThemeMetrics], error) {
	s.calls["theme_metrics"]++
	if s.metrics == nil {
		return fetch.Result[map[string]providers.ThemeMetrics]{}, exhausted("theme_metrics")
	}
	return fetch.Result[map[string]providers.ThemeMetrics]{Value: s.metrics, Source: "fmp"}, nil
}

func (s *fakeSources) BTCSpot(_ context.Context) (fetch.Result[float64], error) {
	return s.scalar("btc_spot", s.spot)
}

func (s *fakeSources) Funding(_ context.Context) (fetch.Result[float64], error) {
	return s.scalar("btc_funding", s.funding)
}

func (s *fakeSources) PerpLast(_ context.Context) (fetch.Result[float64], error) {
	return s.scalar("btc_perp", s.perp)
}

func (s *fakeSources) ETFFlow(_ context.Context) (fetch.Result[float64], error) {
	return s.scalar("etf_flow", s.flow)
}

func (s *fakeSources) PutCall(_ context.Context) (fetch.Result[providers.PutCall], error) {
	s.calls["put_call"]++
	if s.putCall == nil {
		return fetch.Result[providers.PutCall]{}, exhausted("put_call")
	}
	return fetch.Result[providers.PutCall]{Value: *s.putCall, Source: "cboe"}, nil
}

func (s *fakeSources) AAIISentiment(_ context.Context) (fetch.Result[providers.AAII], error) {
	s.calls["aaii"]++
	if s.aaii == nil {
		return fetch.Result[providers.AAII]{}, exhausted("aaii")
	}
	return fetch.Result[providers.AAII]{Value: *s.aaii, Source: "aaii"}, nil
}

func (s *fakeSources) Calendar(_ context.Context, _ string) (fetch.Result[[]providers.Event], error) {
	s.calls["events"]++
	if s.events == nil {
		return fetch.Result[[]providers.Event]{}, exhausted("events")
	}
	return fetch.Result[[]providers.Event]{Value: s.events, Source: "trading_economics"}, nil
}

func (s *fakeSources) Earnings(_ context.Context, _ string) (fetch.Result[[]providers.Event], error) {
	s.calls["finnhub_earnings"]++
	return fetch.Result[[]providers.Event]{Value: []providers.Event{
		{Title: "NVDA earnings (after close)", Date: "2026-09-01", Impact: "high", Source: "finnhub"},
	}, Source: "finnhub"}, nil
}

func newTestAssembler(t *testing.T, sources Sources) (*Assembler, string) {
	t.Helper()
	dir := t.TempDir()
	a := NewAssembler(sources, lastgood.NewMemory(), filepath.Join(dir, "out"), filepath.Join(dir, "state"))
	return a, dir
}

func TestAssembleHappyPath(t *testing.T) {
	sources := newFakeSources()
	a, dir := newTestAssembler(t, sources)

	snap, err := a.Assemble(context.Background(), "2026-08-28", false)
	require.NoError(t, err)

	assert.Equal(t, "2026-08-28", snap.Date)
	assert.True(t, snap.OK())

	require.Len(t, snap.Market.Indices, 2)
	assert.Equal(t, "SPX", snap.Market.Indices[0].Symbol)
	assert.Equal(t, 4820.0, snap.Market.Indices[0].Close)

	ai, ok := snap.Theme("ai")
	require.True(t, ok)
	require.NotNil(t, ai.Performance)
	assert.Equal(t, 1.5, *ai.Performance)
	assert.Equal(t, 35.0, *ai.AvgPE)

	require.NotNil(t, snap.BTC.SpotPriceUSD)
	assert.InDelta(t, 0.01, snap.BTC.FuturesBasis, 1e-9)
	assert.InDelta(t, 65650.0, *snap.BTC.PerpetualPriceUSD, 1e-6)
	assert.Equal(t, 120.5, snap.BTC.ETFNetInflowMUSD)

	require.NotNil(t, snap.Sentiment.PutCall)
	assert.Equal(t, 0.62, snap.Sentiment.PutCall.Equity)

	// Earnings appended after the macro calendar, sorted by date.
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "2026-08-29", snap.Events[0].Date)
	assert.Equal(t, "2026-09-01", snap.Events[1].Date)

	_, err = os.Stat(filepath.Join(dir, "state", "fetch_2026-08-28"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "out", "raw_snapshot_2026-08-28.json"))
	assert.NoError(t, err)
}

func TestAssembleIdempotent(t *testing.T) {
	sources := newFakeSources()
	a, dir := newTestAssembler(t, sources)

	first, err := a.Assemble(context.Background(), "2026-08-28", false)
	require.NoError(t, err)
	raw1, err := os.ReadFile(filepath.Join(dir, "out", "raw_snapshot_2026-08-28.json"))
	require.NoError(t, err)
	firstCalls := sources.calls["index_SPX"]

	second, err := a.Assemble(context.Background(), "2026-08-28", false)
	require.NoError(t, err)
	raw2, err := os.ReadFile(filepath.Join(dir, "out", "raw_snapshot_2026-08-28.json"))
	require.NoError(t, err)

	assert.Equal(t, raw1, raw2)
	assert.Equal(t, first.Date, second.Date)
	assert.Equal(t, first.Sources, second.Sources)
	// No chain was re-run for the cached date.
	assert.Equal(t, firstCalls, sources.calls["index_SPX"])
}

func TestAssembleForceRefetches(t *testing.T) {
	sources := newFakeSources()
	a, _ := newTestAssembler(t, sources)

	_, err := a.Assemble(context.Background(), "2026-08-28", false)
	require.NoError(t, err)
	_, err = a.Assemble(context.Background(), "2026-08-28", true)
	require.NoError(t, err)
	assert.Equal(t, 2, sources.calls["index_SPX"])
}

func TestAssembleSimulatedSubstitution(t *testing.T) {
	sources := newFakeSources()
	sources.metrics = nil
	a, _ := newTestAssembler(t, sources)

	snap, err := a.Assemble(context.Background(), "2026-08-28", false)
	require.NoError(t, err)
	assert.False(t, snap.OK())

	var entry StatusEntry
	for _, e := range snap.Sources {
		if e.Name == "theme_metrics" {
			entry = e
		}
	}
	assert.False(t, entry.OK)
	assert.Contains(t, entry.Message, "substituted simulated value")
	assert.Nil(t, entry.TierUsed)

	// Simulated metrics still populate both themes.
	_, ok := snap.Theme("ai")
	assert.True(t, ok)
	_, ok = snap.Theme("magnificent7")
	assert.True(t, ok)
}

func TestAssembleLastGoodSubstitution(t *testing.T) {
	sources := newFakeSources()
	a, _ := newTestAssembler(t, sources)
	ctx := context.Background()

	// First run caches the live put/call reading.
	_, err := a.Assemble(ctx, "2026-08-27", false)
	require.NoError(t, err)

	sources.putCall = nil
	snap, err := a.Assemble(ctx, "2026-08-28", false)
	require.NoError(t, err)

	require.NotNil(t, snap.Sentiment.PutCall)
	assert.Equal(t, 0.62, snap.Sentiment.PutCall.Equity)
	for _, e := range snap.Sources {
		if e.Name == "put_call" {
			assert.False(t, e.OK)
			assert.Contains(t, e.Message, "substituted last-good value")
		}
	}
	assert.False(t, snap.OK())
}

type recordingObserver struct {
	substitutions []string
}

func (o *recordingObserver) Substitution(signal, source string) {
	o.substitutions = append(o.substitutions, signal+"/"+source)
}

func TestAssembleReportsSubstitutionsToObserver(t *testing.T) {
	sources := newFakeSources()
	a, _ := newTestAssembler(t, sources)
	obs := &recordingObserver{}
	a.WithObserver(obs)
	ctx := context.Background()

	// Seed last-good with a live put/call reading, then lose the upstream.
	_, err := a.Assemble(ctx, "2026-08-27", false)
	require.NoError(t, err)
	assert.Empty(t, obs.substitutions, "fully live run substitutes nothing")

	// put_call has a last-good entry from the first run; theme_metrics never
	// succeeded against a fresh assembler, so it falls through to simulated.
	sources.putCall = nil
	sources.metrics = nil
	fresh, _ := newTestAssembler(t, sources)
	fresh.WithObserver(obs)
	_, err = fresh.Assemble(ctx, "2026-08-28", false)
	require.NoError(t, err)
	assert.Contains(t, obs.substitutions, "theme_metrics/simulated")

	sources.metrics = newFakeSources().metrics
	_, err = a.Assemble(ctx, "2026-08-28", false)
	require.NoError(t, err)
	assert.Contains(t, obs.substitutions, "put_call/last_good")
}

func TestAssembleMissingSpotUsesSimulatedBasis(t *testing.T) {
	sources := newFakeSources()
	sources.spot = nil
	a, _ := newTestAssembler(t, sources)

	snap, err := a.Assemble(context.Background(), "2026-08-28", false)
	require.NoError(t, err)

	assert.Nil(t, snap.BTC.SpotPriceUSD)
	assert.Nil(t, snap.BTC.PerpetualPriceUSD)
	_, _, simBasis := providers.SimBTC("2026-08-28")
	assert.Equal(t, simBasis, snap.BTC.FuturesBasis)
	assert.False(t, snap.OK())
}
