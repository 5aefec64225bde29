package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/pulsemkt/themescore/internal/atomicio"
	"github.com/pulsemkt/themescore/internal/fetch"
	"github.com/pulsemkt/themescore/internal/fetch/providers"
	"github.com/pulsemkt/themescore/internal/lastgood"
)

const maxEvents = 12

// Sources is the signal surface the assembler consumes. providers.Sources
// implements it; tests substitute fakes.
type Sources interface {
	IndexQuote(ctx context.Context, symbol string) (fetch.Result[providers.Quote], error)
	SectorQuote(ctx context.Context, name string) (fetch.Result[providers.Quote], error)
	HKIndexQuote(ctx context.Context, symbol string) (fetch.Result[providers.Quote], error)
	ThemeMetrics(ctx context.Context) (fetch.Result[map[string]providers.ThemeMetrics], error)
	BTCSpot(ctx context.Context) (fetch.Result[float64], error)
	Funding(ctx context.Context) (fetch.Result[float64], error)
	PerpLast(ctx context.Context) (fetch.Result[float64], error)
	ETFFlow(ctx context.Context) (fetch.Result[float64], error)
	PutCall(ctx context.Context) (fetch.Result[providers.PutCall], error)
	AAIISentiment(ctx context.Context) (fetch.Result[providers.AAII], error)
	Calendar(ctx context.Context, day string) (fetch.Result[[]providers.Event], error)
	Earnings(ctx context.Context, day string) (fetch.Result[[]providers.Event], error)
}

// SubstitutionObserver is notified whenever a signal is served from a
// substitute instead of a live value; source is "last_good" or "simulated".
// The metrics registry is the production implementation.
type SubstitutionObserver interface {
	Substitution(signal, source string)
}

// Assembler runs every chain for a trading date and merges the results into
// one snapshot plus its status ledger.
type Assembler struct {
	sources  Sources
	lastGood lastgood.Store
	outDir   string
	stateDir string
	observer SubstitutionObserver
}

func NewAssembler(sources Sources, lastGood lastgood.Store, outDir, stateDir string) *Assembler {
	return &Assembler{sources: sources, lastGood: lastGood, outDir: outDir, stateDir: stateDir}
}

// WithObserver attaches a substitution observer and returns the assembler.
func (a *Assembler) WithObserver(obs SubstitutionObserver) *Assembler {
	a.observer = obs
	return a
}

func (a *Assembler) substituted(signal, source string) {
	if a.observer != nil {
		a.observer.Substitution(signal, source)
	}
}

func (a *Assembler) snapshotPath(date string) string {
	return filepath.Join(a.outDir, "raw_snapshot_"+date+".json")
}

func (a *Assembler) markerPath(date string) string {
	return filepath.Join(a.stateDir, "fetch_"+date)
}

// Cached returns the persisted snapshot for date if the idempotency marker
// and the document both exist and agree on the date.
func (a *Assembler) Cached(date string) (*Snapshot, bool) {
	if _, err := os.Stat(a.markerPath(date)); err != nil {
		return nil, false
	}
	var snap Snapshot
	if err := atomicio.ReadJSON(a.snapshotPath(date), &snap); err != nil || snap.Date != date {
		return nil, false
	}
	return &snap, true
}

// Assemble produces the snapshot for date. With the marker present and
// force=false it returns the persisted document without touching the
// network. Individual signal failures degrade; only persistence failure is
// an error.
func (a *Assembler) Assemble(ctx context.Context, date string, force bool) (*Snapshot, error) {
	if !force {
		if snap, ok := a.Cached(date); ok {
			log.Info().Str("date", date).Msg("snapshot already assembled, using cached document")
			return snap, nil
		}
	}

	snap := &Snapshot{Date: date}
	snap.Market = a.assembleMarket(ctx, date, &snap.Sources)
	snap.BTC = a.assembleBTC(ctx, date, &snap.Sources)
	snap.Sentiment = a.assembleSentiment(ctx, &snap.Sources)
	snap.Events = a.assembleEvents(ctx, date, &snap.Sources)

	for _, entry := range snap.Sources {
		evt := log.Info()
		if !entry.OK {
			evt = log.Warn()
		}
		evt.Str("signal", entry.Name).Bool("ok", entry.OK).Str("detail", entry.Message).Msg("signal status")
	}

	if err := atomicio.WriteJSON(a.snapshotPath(date), snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}
	if err := a.touchMarker(date); err != nil {
		return nil, fmt.Errorf("write fetch marker: %w", err)
	}
	return snap, nil
}

func (a *Assembler) touchMarker(date string) error {
	if err := os.MkdirAll(a.stateDir, 0o755); err != nil {
		return err
	}
	return atomicio.WriteFile(a.markerPath(date), []byte(date+"\n"))
}

// resolve runs one chain and applies the substitution ladder: live value,
// then last-good, then simulated. Substitution always marks the signal
// ok=false.
func resolve[T any](ctx context.Context, a *Assembler, name string,
	run func(ctx context.Context) (fetch.Result[T], error),
	sim func() (T, bool),
) (T, bool, StatusEntry) {
	result, err := run(ctx)
	if err == nil {
		tier := result.Tier
		entry := StatusEntry{
			Name:     name,
			OK:       true,
			Message:  "served by " + result.Source,
			TierUsed: &tier,
		}
		if putErr := lastgood.PutJSON(ctx, a.lastGood, name, result.Value); putErr != nil {
			log.Warn().Err(putErr).Str("signal", name).Msg("last-good store write failed")
		}
		return result.Value, true, entry
	}

	reason := err.Error()
	var cached T
	if ok, getErr := lastgood.GetJSON(ctx, a.lastGood, name, &cached); getErr == nil && ok {
		a.substituted(name, "last_good")
		return cached, true, StatusEntry{Name: name, OK: false, Message: reason + "; substituted last-good value"}
	}
	if sim != nil {
		if value, ok := sim(); ok {
			a.substituted(name, "simulated")
			return value, true, StatusEntry{Name: name, OK: false, Message: reason + "; substituted simulated value"}
		}
	}
	var zero T
	return zero, false, StatusEntry{Name: name, OK: false, Message: reason}
}

func (a *Assembler) assembleMarket(ctx context.Context, date string, entries *[]StatusEntry) Market {
	market := Market{Date: date, Themes: map[string]ThemeEntry{}}

	for _, symbol := range []string{"SPX", "NDX"} {
		symbol := symbol
		quote, _, entry := resolve(ctx, a, "index_"+symbol,
			func(ctx context.Context) (fetch.Result[providers.Quote], error) {
				return a.sources.IndexQuote(ctx, symbol)
			},
			func() (providers.Quote, bool) { return providers.SimIndexQuote(date, symbol), true },
		)
		*entries = append(*entries, entry)
		market.Indices = append(market.Indices, IndexRow{Symbol: symbol, Close: quote.Close, ChangePct: quote.ChangePct})
	}

	for _, name := range []string{"AI", "Defensive"} {
		name := name
		quote, found, entry := resolve(ctx, a, "sector_"+name,
			func(ctx context.Context) (fetch.Result[providers.Quote], error) {
				return a.sources.SectorQuote(ctx, name)
			},
			nil,
		)
		*entries = append(*entries, entry)
		perf := quote.ChangePct
		if !found {
			perf = providers.SimSectorPerf(date, name)
		}
		market.Sectors = append(market.Sectors, SectorRow{Name: name, Performance: perf})
	}

	hsi, _, entry := resolve(ctx, a, "hk_HSI",
		func(ctx context.Context) (fetch.Result[providers.Quote], error) {
			return a.sources.HKIndexQuote(ctx, "HSI")
		},
		func() (providers.Quote, bool) { return providers.SimHKIndex(date), true },
	)
	*entries = append(*entries, entry)
	market.HKIndices = append(market.HKIndices, IndexRow{Symbol: "HSI", Close: hsi.Close, ChangePct: hsi.ChangePct})

	metrics, _, entry := resolve(ctx, a, "theme_metrics",
		func(ctx context.Context) (fetch.Result[map[string]providers.ThemeMetrics], error) {
			return a.sources.ThemeMetrics(ctx)
		},
		func() (map[string]providers.ThemeMetrics, bool) { return providers.SimThemeMetrics(date), true },
	)
	*entries = append(*entries, entry)
	for theme, m := range metrics {
		market.Themes[theme] = ThemeEntry{
			ChangePct: m.ChangePct,
			AvgPE:     m.AvgPE,
			AvgPS:     m.AvgPS,
			MarketCap: m.MarketCap,
		}
	}

	// The AI sector proxy performance doubles as the ai theme performance.
	for _, sector := range market.Sectors {
		if sector.Name == "AI" {
			perf := sector.Performance
			ai := market.Themes["ai"]
			ai.Performance = &perf
			market.Themes["ai"] = ai
		}
	}
	return market
}

func (a *Assembler) assembleBTC(ctx context.Context, date string, entries *[]StatusEntry) BTC {
	simInflow, simFunding, simBasis := providers.SimBTC(date)

	spot, spotFound, entry := resolve(ctx, a, "btc_spot",
		func(ctx context.Context) (fetch.Result[float64], error) { return a.sources.BTCSpot(ctx) },
		nil,
	)
	*entries = append(*entries, entry)

	funding, _, entry := resolve(ctx, a, "btc_funding",
		func(ctx context.Context) (fetch.Result[float64], error) { return a.sources.Funding(ctx) },
		func() (float64, bool) { return simFunding, true },
	)
	*entries = append(*entries, entry)

	btc := BTC{Date: date, FundingRate: funding}

	perp, perpFound, entry := resolve(ctx, a, "btc_perp",
		func(ctx context.Context) (fetch.Result[float64], error) { return a.sources.PerpLast(ctx) },
		nil,
	)
	if spotFound && perpFound && spot != 0 {
		btc.FuturesBasis = (perp - spot) / spot
	} else {
		btc.FuturesBasis = simBasis
		a.substituted("btc_perp", "simulated")
		if entry.OK {
			entry = StatusEntry{Name: "btc_perp", OK: false, Message: "spot price unavailable; substituted simulated basis"}
		} else {
			entry.Message += "; substituted simulated basis"
		}
	}
	*entries = append(*entries, entry)

	if spotFound {
		btc.SpotPriceUSD = &spot
		perpPrice := spot * (1 + btc.FuturesBasis)
		btc.PerpetualPriceUSD = &perpPrice
	}

	flow, _, entry := resolve(ctx, a, "etf_flow",
		func(ctx context.Context) (fetch.Result[float64], error) { return a.sources.ETFFlow(ctx) },
		func() (float64, bool) { return simInflow, true },
	)
	*entries = append(*entries, entry)
	btc.ETFNetInflowMUSD = flow

	return btc
}

func (a *Assembler) assembleSentiment(ctx context.Context, entries *[]StatusEntry) Sentiment {
	var sentiment Sentiment

	putCall, found, entry := resolve(ctx, a, "put_call",
		func(ctx context.Context) (fetch.Result[providers.PutCall], error) { return a.sources.PutCall(ctx) },
		nil,
	)
	*entries = append(*entries, entry)
	if found {
		sentiment.PutCall = &putCall
	}

	aaii, found, entry := resolve(ctx, a, "aaii",
		func(ctx context.Context) (fetch.Result[providers.AAII], error) { return a.sources.AAIISentiment(ctx) },
		nil,
	)
	*entries = append(*entries, entry)
	if found {
		sentiment.AAII = &aaii
	}
	return sentiment
}

func (a *Assembler) assembleEvents(ctx context.Context, date string, entries *[]StatusEntry) []providers.Event {
	events, _, entry := resolve(ctx, a, "events",
		func(ctx context.Context) (fetch.Result[[]providers.Event], error) {
			return a.sources.Calendar(ctx, date)
		},
		func() ([]providers.Event, bool) { return providers.SimEvents(date), true },
	)
	*entries = append(*entries, entry)

	earnings, found, entry := resolve(ctx, a, "finnhub_earnings",
		func(ctx context.Context) (fetch.Result[[]providers.Event], error) {
			return a.sources.Earnings(ctx, date)
		},
		nil,
	)
	*entries = append(*entries, entry)
	if found {
		events = append(events, earnings...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].Impact < events[j].Impact
	})
	if len(events) > maxEvents {
		events = events[:maxEvents]
	}
	return events
}
