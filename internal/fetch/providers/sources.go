package providers

import (
	"context"
	"strings"

	"github.com/pulsemkt/themescore/internal/config"
	"github.com/pulsemkt/themescore/internal/fetch"
	"github.com/pulsemkt/themescore/internal/httpx"
)

// Endpoints holds every upstream URL. Tests point them at httptest servers.
type Endpoints struct {
	Stooq           string
	YahooChart      string
	FMPHistory      string
	FMPQuote        string
	TwelveData      string
	AlphaVantage    string
	CoinbaseSpot    string
	OKXFunding      string
	OKXTicker       string
	SosoValueFlow   string
	CoinglassFlow   string
	FarsidePage     string
	FarsideAPI      string
	CboeEquityPC    string
	CboeIndexPC     string
	AAIIFeed        string
	TECalendar      string
	FinnhubEarnings string
}

// DefaultEndpoints returns the production URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Stooq:           "https://stooq.com/q/d/l/",
		YahooChart:      "https://query1.finance.yahoo.com/v8/finance/chart",
		FMPHistory:      "https://financialmodelingprep.com/api/v3/historical-price-full",
		FMPQuote:        "https://financialmodelingprep.com/api/v3/quote",
		TwelveData:      "https://api.twelvedata.com/time_series",
		AlphaVantage:    "https://www.alphavantage.co/query",
		CoinbaseSpot:    "https://api.coinbase.com/v2/prices/BTC-USD/spot",
		OKXFunding:      "https://www.okx.com/api/v5/public/funding-rate",
		OKXTicker:       "https://www.okx.com/api/v5/market/ticker",
		SosoValueFlow:   "https://api.sosovalue.xyz/openapi/v2/etf/historicalInflowChart",
		CoinglassFlow:   "https://open-api.coinglass.com/public/v2/etf/flows",
		FarsidePage:     "https://farside.co.uk/bitcoin-etf-flow-all-data/",
		FarsideAPI:      "https://farside.co.uk/wp-json/wp/v2/pages",
		CboeEquityPC:    "https://cdn.cboe.com/resources/options/volume_and_call_put_ratios/equitypc.csv",
		CboeIndexPC:     "https://cdn.cboe.com/resources/options/volume_and_call_put_ratios/indexpc.csv",
		AAIIFeed:        "https://insights.aaii.com/feed",
		TECalendar:      "https://api.tradingeconomics.com/calendar",
		FinnhubEarnings: "https://finnhub.io/api/v1/calendar/earnings",
	}
}

// Stooq index symbols differ from the display symbols.
var stooqIndexSymbols = map[string]string{
	"SPX": "^spx",
	"NDX": "^ndx",
	"HSI": "^hsi",
}

// Sources owns the provider fetchers and composes them into fallback chains,
// one per logical signal.
type Sources struct {
	client    *httpx.Client
	guard     *fetch.Guard
	creds     config.Credentials
	endpoints Endpoints
	chainCfg  fetch.ChainConfig
}

// Option adjusts a Sources at construction time.
type Option func(*Sources)

// WithEndpoints overrides the upstream URLs.
func WithEndpoints(e Endpoints) Option {
	return func(s *Sources) { s.endpoints = e }
}

// WithChainConfig overrides the retry policy of every chain.
func WithChainConfig(cfg fetch.ChainConfig) Option {
	return func(s *Sources) { s.chainCfg = cfg }
}

// WithObserver attaches a chain observer to every chain.
func WithObserver(obs fetch.Observer) Option {
	return func(s *Sources) { s.chainCfg.Observer = obs }
}

func New(client *httpx.Client, guard *fetch.Guard, creds config.Credentials, opts ...Option) *Sources {
	s := &Sources{
		client:    client,
		guard:     guard,
		creds:     creds,
		endpoints: DefaultEndpoints(),
		chainCfg:  fetch.DefaultChainConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sources) quoteChain(signal, stooqSym, proxySym string) *fetch.Chain[Quote] {
	return fetch.NewChain[Quote](signal, s.chainCfg,
		fetch.Func[Quote]{Provider: "stooq", Call: func(ctx context.Context) (Quote, error) {
			return s.stooqQuote(ctx, stooqSym)
		}},
		fetch.Func[Quote]{Provider: "yahoo", Call: func(ctx context.Context) (Quote, error) {
			return s.yahooQuote(ctx, proxySym)
		}},
		fetch.Func[Quote]{Provider: "fmp", Call: func(ctx context.Context) (Quote, error) {
			return s.fmpQuote(ctx, proxySym)
		}},
		fetch.Func[Quote]{Provider: "twelve_data", Call: func(ctx context.Context) (Quote, error) {
			return s.twelveDataQuote(ctx, proxySym)
		}},
		fetch.Func[Quote]{Provider: "alpha_vantage", Call: func(ctx context.Context) (Quote, error) {
			return s.alphaVantageQuote(ctx, proxySym)
		}},
	)
}

// IndexQuote resolves one US index quote through the full quote chain; the
// keyed providers quote the index via its ETF proxy.
func (s *Sources) IndexQuote(ctx context.Context, symbol string) (fetch.Result[Quote], error) {
	stooqSym, ok := stooqIndexSymbols[symbol]
	if !ok {
		stooqSym = strings.ToLower(symbol)
	}
	proxy, ok := IndexProxies[symbol]
	if !ok {
		proxy = symbol
	}
	return s.quoteChain("index_"+symbol, stooqSym, proxy).Run(ctx)
}

// SectorQuote resolves a sector's ETF proxy quote. The proxy's daily change
// stands in for sector performance.
func (s *Sources) SectorQuote(ctx context.Context, name string) (fetch.Result[Quote], error) {
	proxy, ok := SectorProxies[name]
	if !ok {
		proxy = name
	}
	return s.quoteChain("sector_"+name, strings.ToLower(proxy), proxy).Run(ctx)
}

// HKIndexQuote resolves the Hang Seng quote. Stooq carries it natively;
// Yahoo uses the ^HSI chart symbol.
func (s *Sources) HKIndexQuote(ctx context.Context, symbol string) (fetch.Result[Quote], error) {
	stooqSym, ok := stooqIndexSymbols[symbol]
	if !ok {
		stooqSym = strings.ToLower(symbol)
	}
	return fetch.NewChain[Quote]("hk_"+symbol, s.chainCfg,
		fetch.Func[Quote]{Provider: "stooq", Call: func(ctx context.Context) (Quote, error) {
			return s.stooqQuote(ctx, stooqSym)
		}},
		fetch.Func[Quote]{Provider: "yahoo", Call: func(ctx context.Context) (Quote, error) {
			return s.yahooQuote(ctx, "^"+symbol)
		}},
	).Run(ctx)
}

// ThemeMetrics resolves per-theme valuation aggregates. FMP is the only
// provider that serves batch fundamentals, so this chain has one live tier.
func (s *Sources) ThemeMetrics(ctx context.Context) (fetch.Result[map[string]ThemeMetrics], error) {
	return fetch.NewChain[map[string]ThemeMetrics]("theme_metrics", s.chainCfg,
		fetch.Func[map[string]ThemeMetrics]{Provider: "fmp", Call: s.fmpThemeMetrics},
	).Run(ctx)
}

// BTCSpot resolves the BTC-USD spot price.
func (s *Sources) BTCSpot(ctx context.Context) (fetch.Result[float64], error) {
	return fetch.NewChain[float64]("btc_spot", s.chainCfg,
		fetch.Func[float64]{Provider: "coinbase", Call: s.coinbaseSpot},
	).Run(ctx)
}

// Funding resolves the BTC perpetual funding rate.
func (s *Sources) Funding(ctx context.Context) (fetch.Result[float64], error) {
	return fetch.NewChain[float64]("btc_funding", s.chainCfg,
		fetch.Func[float64]{Provider: "okx", Call: s.okxFunding},
	).Run(ctx)
}

// PerpLast resolves the BTC perpetual last price, used for the basis.
func (s *Sources) PerpLast(ctx context.Context) (fetch.Result[float64], error) {
	return fetch.NewChain[float64]("btc_perp", s.chainCfg,
		fetch.Func[float64]{Provider: "okx", Call: s.okxPerpLast},
	).Run(ctx)
}

// ETFFlow resolves the latest US spot BTC ETF net inflow in millions:
// SosoValue first, CoinGlass next, the keyless Farside page last.
func (s *Sources) ETFFlow(ctx context.Context) (fetch.Result[float64], error) {
	return fetch.NewChain[float64]("etf_flow", s.chainCfg,
		fetch.Func[float64]{Provider: "sosovalue", Call: s.sosovalueFlow},
		fetch.Func[float64]{Provider: "coinglass", Call: s.coinglassFlow},
		fetch.Func[float64]{Provider: "farside", Call: s.farsideFlow},
	).Run(ctx)
}

// PutCall resolves the Cboe daily put/call ratios.
func (s *Sources) PutCall(ctx context.Context) (fetch.Result[PutCall], error) {
	return fetch.NewChain[PutCall]("put_call", s.chainCfg,
		fetch.Func[PutCall]{Provider: "cboe", Call: s.cboePutCall},
	).Run(ctx)
}

// AAIISentiment resolves the weekly AAII survey readings.
func (s *Sources) AAIISentiment(ctx context.Context) (fetch.Result[AAII], error) {
	return fetch.NewChain[AAII]("aaii", s.chainCfg,
		fetch.Func[AAII]{Provider: "aaii", Call: s.aaiiSentiment},
	).Run(ctx)
}

// Calendar resolves macro calendar events for the five days from day.
func (s *Sources) Calendar(ctx context.Context, day string) (fetch.Result[[]Event], error) {
	return fetch.NewChain[[]Event]("events", s.chainCfg,
		fetch.Func[[]Event]{Provider: "trading_economics", Call: func(ctx context.Context) ([]Event, error) {
			return s.tradingEconomicsCalendar(ctx, day)
		}},
	).Run(ctx)
}

// Earnings resolves the upcoming earnings calendar. Supplementary: callers
// append these to the macro events when the chain succeeds.
func (s *Sources) Earnings(ctx context.Context, day string) (fetch.Result[[]Event], error) {
	return fetch.NewChain[[]Event]("finnhub_earnings", s.chainCfg,
		fetch.Func[[]Event]{Provider: "finnhub", Call: func(ctx context.Context) ([]Event, error) {
			return s.finnhubEarnings(ctx, day)
		}},
	).Run(ctx)
}
