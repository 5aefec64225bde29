package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemkt/themescore/internal/config"
	"github.com/pulsemkt/themescore/internal/fetch"
	"github.com/pulsemkt/themescore/internal/httpx"
)

func testSources(t *testing.T, creds config.Credentials, endpoints Endpoints) *Sources {
	t.Helper()
	return New(
		httpx.New(2*time.Second),
		fetch.NewGuard(nil),
		creds,
		WithEndpoints(endpoints),
		WithChainConfig(fetch.ChainConfig{Retries: 0, Backoff: time.Millisecond}),
	)
}

func TestParseStooqCSV(t *testing.T) {
	body := "Date,Open,High,Low,Close,Volume\n" +
		"2026-08-26,100,101,99,100.0,1000\n" +
		"2026-08-27,100,103,100,102.0,1200\n" +
		"2026-08-28,102,105,101,104.04,1100\n"

	quote, err := parseStooqCSV(body, "spy.us")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", quote.Day)
	assert.Equal(t, 104.04, quote.Close)
	assert.InDelta(t, 2.0, quote.ChangePct, 1e-9)
	assert.Equal(t, "stooq:spy.us", quote.Source)
}

func TestParseStooqCSVTooShort(t *testing.T) {
	_, err := parseStooqCSV("Date,Close\n2026-08-28,104\n", "spy")
	require.Error(t, err)
	assert.False(t, fetch.AsFailure(err).Retryable)
}

func TestCoinbaseSpot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"base":"BTC","currency":"USD","amount":"65123.45"}}`))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.CoinbaseSpot = srv.URL
	s := testSources(t, config.Credentials{}, endpoints)

	price, err := s.coinbaseSpot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 65123.45, price)
}

func TestOKXFundingAndErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/funding":
			w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USD-SWAP","fundingRate":"0.0001"}]}`))
		default:
			w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
		}
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.OKXFunding = srv.URL + "/funding"
	endpoints.OKXTicker = srv.URL + "/ticker"
	s := testSources(t, config.Credentials{}, endpoints)

	rate, err := s.okxFunding(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0001, rate)

	_, err = s.okxPerpLast(context.Background())
	require.Error(t, err)
	failure := fetch.AsFailure(err)
	assert.False(t, failure.Retryable)
	assert.Contains(t, failure.Reason, "okx error")
}

func TestETFFlowFallsBackToCoinglass(t *testing.T) {
	coinglass := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("coinglassSecret"))
		w.Write([]byte(`{"code":"0","data":[
			{"date":"2026-08-27","netFlow":125000000},
			{"date":"2026-08-28","netFlow":-52500000}
		]}`))
	}))
	defer coinglass.Close()

	endpoints := DefaultEndpoints()
	endpoints.SosoValueFlow = "http://127.0.0.1:0/unreachable"
	endpoints.CoinglassFlow = coinglass.URL
	s := testSources(t, config.Credentials{"coinglass": "secret"}, endpoints)

	result, err := s.ETFFlow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Tier)
	assert.Equal(t, "coinglass", result.Source)
	assert.InDelta(t, -52.5, result.Value, 1e-9)
	// Tier 0 failed for lack of a credential before any request went out.
	require.Len(t, result.Attempts, 1)
	assert.Contains(t, result.Attempts[0].Reason, "missing credential")
}

func TestETFFlowFallsBackToFarside(t *testing.T) {
	farside := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		w.Write([]byte(`<html><body><table>
			<tr><th>Date</th><th>IBIT</th><th>Total</th></tr>
			<tr><td>27 Aug 2026</td><td>80.0</td><td>125.0</td></tr>
			<tr><td>28 Aug 2026</td><td>(12.1)</td><td>(52.5)</td></tr>
			<tr><td>Average</td><td>33.9</td><td>36.2</td></tr>
		</table></body></html>`))
	}))
	defer farside.Close()

	endpoints := DefaultEndpoints()
	endpoints.FarsidePage = farside.URL
	s := testSources(t, config.Credentials{"farside_cookies": "session=abc"}, endpoints)

	result, err := s.ETFFlow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Tier)
	assert.Equal(t, "farside", result.Source)
	assert.InDelta(t, -52.5, result.Value, 1e-9)
	// The keyed tiers failed for lack of credentials before any request.
	require.Len(t, result.Attempts, 2)
	assert.Contains(t, result.Attempts[0].Reason, "missing credential: sosovalue")
	assert.Contains(t, result.Attempts[1].Reason, "missing credential: coinglass")
}

func TestFarsideFlowFallsBackToPagesAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			http.Error(w, "checking your browser", http.StatusForbidden)
		case "/wp":
			assert.Equal(t, "bitcoin-etf-flow-all-data", r.URL.Query().Get("slug"))
			w.Write([]byte(`[{"content":{"rendered":"<table><tr><td>28 Aug 2026</td><td>10.0</td><td>41.3</td></tr></table>"}}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.FarsidePage = srv.URL + "/page"
	endpoints.FarsideAPI = srv.URL + "/wp"
	s := testSources(t, config.Credentials{}, endpoints)

	flow, err := s.farsideFlow(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 41.3, flow, 1e-9)
}

func TestLatestFarsideTotal(t *testing.T) {
	html := `<table>
		<tr><th>Date</th><th>IBIT</th><th>Total</th></tr>
		<tr><td>26 Aug 2026</td><td>-</td><td>1,204.6</td></tr>
		<tr><td>28 Aug 2026</td><td>5.0</td><td>(52.5)</td></tr>
		<tr><td>27 Aug 2026</td><td>4.0</td><td>125.0</td></tr>
		<tr><td>Total</td><td>100.0</td><td>999.0</td></tr>
	</table>`

	total, ok := latestFarsideTotal(html)
	require.True(t, ok)
	assert.InDelta(t, -52.5, total, 1e-9)

	_, ok = latestFarsideTotal("<table><tr><td>Average</td><td>1.0</td></tr></table>")
	assert.False(t, ok)
}

func TestParseFlowNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1,204.6", 1204.6, true},
		{"(52.5)", -52.5, true},
		{"−18.4", -18.4, true},
		{"0.0", 0, true},
		{"-", 0, false},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseFlowNumber(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-9, tc.in)
		}
	}
}

func TestLatestFlowFieldVariants(t *testing.T) {
	record, ok := latestFlow([]map[string]any{
		{"date": "2026-08-26", "totalNetInflow": 10.0},
		{"date": "2026-08-28", "netInflow": "42.5"},
		{"date": "bogus", "netInflow": 99.0},
		{"date": "2026-08-27"},
	})
	require.True(t, ok)
	assert.Equal(t, "2026-08-28", record.day)
	assert.Equal(t, 42.5, record.amount)

	_, ok = latestFlow(nil)
	assert.False(t, ok)
}

func TestLatestCboeRow(t *testing.T) {
	content := "Volume and Put/Call Ratio Archive\n" +
		"\n" +
		"DATE,CALL,PUT,TOTAL,P/C Ratio\n" +
		"8/27/2026,1500000,900000,2400000,0.60\n" +
		"8/28/2026,1600000,1040000,2640000,0.65\n"

	day, ratio, ok := latestCboeRow(content)
	require.True(t, ok)
	assert.Equal(t, "2026-08-28", day)
	assert.Equal(t, 0.65, ratio)

	_, _, ok = latestCboeRow("no,data,here\n")
	assert.False(t, ok)
}

func TestCboePutCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/equity" {
			w.Write([]byte("DATE,CALL,PUT,RATIO\n8/28/2026,1,1,0.62\n"))
			return
		}
		w.Write([]byte("DATE,CALL,PUT,RATIO\n8/28/2026,1,1,1.10\n"))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.CboeEquityPC = srv.URL + "/equity"
	endpoints.CboeIndexPC = srv.URL + "/index"
	s := testSources(t, config.Credentials{}, endpoints)

	pc, err := s.cboePutCall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PutCall{Day: "2026-08-28", Equity: 0.62, Index: 1.10}, pc)
}

func TestParseAAIIArticle(t *testing.T) {
	html := `<h1>AAII Sentiment Survey: Optimism Falls</h1>
	<p>Survey results for the week ending August 27, 2026.</p>
	<ul><li>Bullish: 31.5%</li><li>Neutral: 28.2%</li><li>Bearish: 40.3%</li></ul>`

	out, ok := parseAAIIArticle(html)
	require.True(t, ok)
	assert.Equal(t, "2026-08-27", out.Week)
	assert.Equal(t, 31.5, out.Bullish)
	assert.Equal(t, 40.3, out.Bearish)
	assert.InDelta(t, -8.8, out.BullBearSpread, 1e-9)

	_, ok = parseAAIIArticle("<p>no percentages here</p>")
	assert.False(t, ok)
}

func TestAAIISentimentViaFeed(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			w.Write([]byte(`<?xml version="1.0"?><rss><channel>
				<item><title>Unrelated Post</title><link>` + srv.URL + `/other</link></item>
				<item><title>AAII Sentiment Survey: Optimism Falls</title><link>` + srv.URL + `/article</link></item>
			</channel></rss>`))
		case "/article":
			w.Write([]byte(`Week ending August 27, 2026. Bullish: 31.5% Neutral: 28.2% Bearish: 40.3%`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.AAIIFeed = srv.URL + "/feed"
	s := testSources(t, config.Credentials{}, endpoints)

	out, err := s.aaiiSentiment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-08-27", out.Week)
	assert.InDelta(t, -8.8, out.BullBearSpread, 1e-9)
}

func TestTradingEconomicsCalendar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "guest:guest", r.URL.Query().Get("c"))
		w.Write([]byte(`[
			{"Date":"2026-08-29T12:30:00","Event":"Core PCE Price Index","Country":"United States","Importance":3},
			{"Date":"2026-09-10T12:30:00","Event":"Outside window","Country":"United States","Importance":3},
			{"Date":"2026-08-30T08:00:00","Event":"Ifo Business Climate","Country":"Germany","Importance":"medium"}
		]`))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.TECalendar = srv.URL
	s := testSources(t, config.Credentials{}, endpoints)

	events, err := s.tradingEconomicsCalendar(context.Background(), "2026-08-29")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Core PCE Price Index", events[0].Title)
	assert.Equal(t, "high", events[0].Impact)
	assert.Equal(t, "medium", events[1].Impact)
}

func TestFinnhubEarnings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fh-key", r.URL.Query().Get("token"))
		w.Write([]byte(`{"earningsCalendar":[
			{"date":"2026-09-01","symbol":"NVDA","time":"amc","epsEstimate":0.95,"epsActual":1.05,"marketCapitalization":3200000},
			{"date":"2026-08-31","symbol":"ZS","time":"bmo","marketCapitalization":30000}
		]}`))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.FinnhubEarnings = srv.URL
	s := testSources(t, config.Credentials{"finnhub": "fh-key"}, endpoints)

	events, err := s.finnhubEarnings(context.Background(), "2026-08-29")
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Sorted by date.
	assert.Equal(t, "2026-08-31", events[0].Date)
	assert.Equal(t, "medium", events[0].Impact)
	assert.Contains(t, events[1].Title, "NVDA earnings (after close)")
	assert.Contains(t, events[1].Title, "EPS 1.05/0.95 (+0.10)")
	assert.Equal(t, "high", events[1].Impact)
}

func TestFinnhubEarningsMissingCredential(t *testing.T) {
	s := testSources(t, config.Credentials{}, DefaultEndpoints())
	_, err := s.finnhubEarnings(context.Background(), "2026-08-29")
	require.Error(t, err)
	assert.Contains(t, fetch.AsFailure(err).Reason, "missing credential: finnhub")
}

func TestSimulatedDataDeterministic(t *testing.T) {
	day := "2026-08-29"

	first := SimIndexQuote(day, "SPX")
	second := SimIndexQuote(day, "SPX")
	assert.Equal(t, first, second)
	assert.Equal(t, "simulated", first.Source)

	ndx := SimIndexQuote(day, "NDX")
	assert.InDelta(t, first.Close*1.2, ndx.Close, 0.01)

	inflow1, funding1, basis1 := SimBTC(day)
	inflow2, funding2, basis2 := SimBTC(day)
	assert.Equal(t, inflow1, inflow2)
	assert.Equal(t, funding1, funding2)
	assert.Equal(t, basis1, basis2)

	metrics := SimThemeMetrics(day)
	require.Contains(t, metrics, "ai")
	require.Contains(t, metrics, "magnificent7")
	assert.Equal(t, 32.5, *metrics["ai"].AvgPE)
	require.NotNil(t, metrics["magnificent7"].MarketCap)

	events := SimEvents(day)
	require.Len(t, events, 2)
	assert.Equal(t, day, events[0].Date)
	assert.Equal(t, "2026-08-31", events[1].Date)
}

func TestFMPThemeMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"NVDA","changesPercentage":2.0,"pe":40.0,"priceToSalesRatioTTM":20.0,"marketCap":3000000000000},
			{"symbol":"MSFT","changesPercentage":1.0,"pe":30.0,"priceToSalesRatioTTM":10.0,"marketCap":3100000000000},
			{"symbol":"GOOGL","changesPercentage":0.0,"pe":-5.0,"marketCap":2000000000000},
			{"symbol":"AMD","changesPercentage":-1.0,"pe":50.0,"priceToSalesRatioTTM":9.0,"marketCap":250000000000}
		]`))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.FMPQuote = srv.URL
	s := testSources(t, config.Credentials{"financial_modeling_prep": "fmp-key"}, endpoints)

	metrics, err := s.fmpThemeMetrics(context.Background())
	require.NoError(t, err)
	ai, ok := metrics["ai"]
	require.True(t, ok)
	assert.InDelta(t, 0.5, *ai.ChangePct, 1e-9)
	// Negative PE excluded from the mean.
	assert.InDelta(t, 40.0, *ai.AvgPE, 1e-9)
	assert.InDelta(t, 13.0, *ai.AvgPS, 1e-9)
	require.NotNil(t, ai.MarketCap)
	assert.InDelta(t, 8.35e12, *ai.MarketCap, 1e6)
}

func TestAlphaVantageQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		assert.Equal(t, "av-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(`{"Meta Data":{"2. Symbol":"SPY"},"Time Series (Daily)":{
			"2026-08-28":{"1. open":"102.0","4. close":"104.04"},
			"2026-08-27":{"1. open":"100.0","4. close":"102.00"},
			"2026-08-26":{"1. open":"99.0","4. close":"100.00"}
		}}`))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.AlphaVantage = srv.URL
	s := testSources(t, config.Credentials{"alpha_vantage": "av-key"}, endpoints)

	quote, err := s.alphaVantageQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", quote.Day)
	assert.Equal(t, 104.04, quote.Close)
	assert.InDelta(t, 2.0, quote.ChangePct, 1e-9)
	assert.Equal(t, "alpha_vantage", quote.Source)
}

func TestAlphaVantageThrottleIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.AlphaVantage = srv.URL
	s := testSources(t, config.Credentials{"alpha_vantage": "av-key"}, endpoints)

	_, err := s.alphaVantageQuote(context.Background(), "SPY")
	require.Error(t, err)
	failure := fetch.AsFailure(err)
	assert.True(t, failure.Retryable)
	assert.Contains(t, failure.Reason, "throttled")
}

func TestQuoteChainEndsAtAlphaVantage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/av":
			w.Write([]byte(`{"Time Series (Daily)":{
				"2026-08-28":{"4. close":"104.04"},
				"2026-08-27":{"4. close":"102.00"}
			}}`))
		default:
			http.Error(w, "unavailable", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.Stooq = srv.URL + "/stooq"
	endpoints.YahooChart = srv.URL + "/chart"
	endpoints.AlphaVantage = srv.URL + "/av"
	s := testSources(t, config.Credentials{"alpha_vantage": "av-key"}, endpoints)

	result, err := s.IndexQuote(context.Background(), "SPX")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Tier)
	assert.Equal(t, "alpha_vantage", result.Source)
	assert.InDelta(t, 2.0, result.Value.ChangePct, 1e-9)
	// The two keyed middle tiers recorded missing-credential attempts.
	assert.Contains(t, result.Attempts[2].Reason, "missing credential: financial_modeling_prep")
	assert.Contains(t, result.Attempts[3].Reason, "missing credential: twelve_data")
}

func TestIndexQuoteFallsBackToYahoo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/stooq":
			http.Error(w, "not found", http.StatusNotFound)
		default:
			w.Write([]byte(`{"chart":{"result":[{"timestamp":[1756339200,1756425600],
				"indicators":{"quote":[{"close":[100.0,103.0]}]}}]}}`))
		}
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.Stooq = srv.URL + "/stooq"
	endpoints.YahooChart = srv.URL + "/chart"
	s := testSources(t, config.Credentials{}, endpoints)

	result, err := s.IndexQuote(context.Background(), "SPX")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Tier)
	assert.Equal(t, "yahoo", result.Source)
	assert.InDelta(t, 3.0, result.Value.ChangePct, 1e-9)
}
