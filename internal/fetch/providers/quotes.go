package providers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pulsemkt/themescore/internal/fetch"
)

// stooqQuote fetches a daily series CSV from Stooq and derives the latest
// close and day-over-day change. Stooq needs no credential, which makes it
// the preferred first tier for index quotes.
func (s *Sources) stooqQuote(ctx context.Context, symbol string) (Quote, error) {
	var quote Quote
	err := s.guard.Do(ctx, "stooq", hostOf(s.endpoints.Stooq), func(ctx context.Context) error {
		var lastErr error
		for _, candidate := range stooqCandidates(symbol) {
			body, err := s.client.GetText(ctx, s.endpoints.Stooq,
				url.Values{"s": {candidate}, "i": {"d"}}, nil)
			if err != nil {
				lastErr = err
				continue
			}
			q, err := parseStooqCSV(body, candidate)
			if err != nil {
				lastErr = err
				continue
			}
			quote = q
			return nil
		}
		return lastErr
	})
	return quote, err
}

func stooqCandidates(symbol string) []string {
	base := strings.ToLower(symbol)
	if strings.HasPrefix(base, "^") || strings.Contains(base, ".") {
		return []string{base}
	}
	return []string{base, base + ".us"}
}

func parseStooqCSV(body, symbol string) (Quote, error) {
	reader := csv.NewReader(strings.NewReader(body))
	records, err := reader.ReadAll()
	if err != nil || len(records) < 3 {
		return Quote{}, fetch.Permanent("schema mismatch: stooq series too short for "+symbol, err)
	}
	header := records[0]
	dateIdx, closeIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "date":
			dateIdx = i
		case "close":
			closeIdx = i
		}
	}
	if dateIdx < 0 || closeIdx < 0 {
		return Quote{}, fetch.Permanent("schema mismatch: stooq header for "+symbol, nil)
	}
	rows := records[1:]
	sort.Slice(rows, func(i, j int) bool { return rows[i][dateIdx] < rows[j][dateIdx] })
	latest, prev := rows[len(rows)-1], rows[len(rows)-2]
	latestClose, err1 := strconv.ParseFloat(latest[closeIdx], 64)
	prevClose, err2 := strconv.ParseFloat(prev[closeIdx], 64)
	if err1 != nil || err2 != nil || prevClose == 0 {
		return Quote{}, fetch.Permanent("schema mismatch: stooq closes for "+symbol, nil)
	}
	return Quote{
		Day:       latest[dateIdx],
		Close:     latestClose,
		ChangePct: (latestClose - prevClose) / prevClose * 100,
		Source:    "stooq:" + symbol,
	}, nil
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// yahooQuote derives the latest close and change from the Yahoo chart API.
func (s *Sources) yahooQuote(ctx context.Context, symbol string) (Quote, error) {
	var quote Quote
	err := s.guard.Do(ctx, "yahoo", hostOf(s.endpoints.YahooChart), func(ctx context.Context) error {
		var payload yahooChart
		chartURL := strings.TrimSuffix(s.endpoints.YahooChart, "/") + "/" + url.PathEscape(symbol)
		if err := s.client.GetJSON(ctx, chartURL,
			url.Values{"interval": {"1d"}, "range": {"5d"}}, nil, &payload); err != nil {
			return err
		}
		if len(payload.Chart.Result) == 0 {
			return fetch.Permanent("schema mismatch: yahoo chart empty for "+symbol, nil)
		}
		result := payload.Chart.Result[0]
		if len(result.Indicators.Quote) == 0 {
			return fetch.Permanent("schema mismatch: yahoo quote missing for "+symbol, nil)
		}
		type point struct {
			ts    int64
			close float64
		}
		var points []point
		for i, ts := range result.Timestamp {
			closes := result.Indicators.Quote[0].Close
			if i < len(closes) && closes[i] != nil {
				points = append(points, point{ts, *closes[i]})
			}
		}
		if len(points) < 2 {
			return fetch.Permanent("schema mismatch: yahoo closes too short for "+symbol, nil)
		}
		sort.Slice(points, func(i, j int) bool { return points[i].ts < points[j].ts })
		prev, latest := points[len(points)-2], points[len(points)-1]
		if prev.close == 0 {
			return fetch.Permanent("schema mismatch: yahoo previous close zero for "+symbol, nil)
		}
		quote = Quote{
			Day:       time.Unix(latest.ts, 0).UTC().Format("2006-01-02"),
			Close:     latest.close,
			ChangePct: (latest.close - prev.close) / prev.close * 100,
			Source:    "yahoo:" + symbol,
		}
		return nil
	})
	return quote, err
}

// fmpQuote fetches two days of history from Financial Modeling Prep.
func (s *Sources) fmpQuote(ctx context.Context, symbol string) (Quote, error) {
	key, ok := s.creds.Get("financial_modeling_prep")
	if !ok {
		return Quote{}, fetch.MissingCredential("financial_modeling_prep")
	}
	var quote Quote
	err := s.guard.Do(ctx, "fmp", hostOf(s.endpoints.FMPHistory), func(ctx context.Context) error {
		var payload struct {
			Historical []struct {
				Date  string  `json:"date"`
				Close float64 `json:"close"`
			} `json:"historical"`
		}
		histURL := strings.TrimSuffix(s.endpoints.FMPHistory, "/") + "/" + url.PathEscape(symbol)
		if err := s.client.GetJSON(ctx, histURL,
			url.Values{"timeseries": {"2"}, "apikey": {key}}, nil, &payload); err != nil {
			return err
		}
		if len(payload.Historical) < 2 {
			return fetch.Permanent("schema mismatch: fmp history too short for "+symbol, nil)
		}
		latest, prev := payload.Historical[0], payload.Historical[1]
		if prev.Close == 0 {
			return fetch.Permanent("schema mismatch: fmp previous close zero for "+symbol, nil)
		}
		quote = Quote{
			Day:       latest.Date,
			Close:     latest.Close,
			ChangePct: (latest.Close - prev.Close) / prev.Close * 100,
			Source:    "fmp",
		}
		return nil
	})
	return quote, err
}

// twelveDataQuote fetches a two-point daily series from Twelve Data.
func (s *Sources) twelveDataQuote(ctx context.Context, symbol string) (Quote, error) {
	key, ok := s.creds.Get("twelve_data")
	if !ok {
		return Quote{}, fetch.MissingCredential("twelve_data")
	}
	var quote Quote
	err := s.guard.Do(ctx, "twelve_data", hostOf(s.endpoints.TwelveData), func(ctx context.Context) error {
		var payload struct {
			Status  string `json:"status"`
			Message string `json:"message"`
			Values  []struct {
				Datetime string `json:"datetime"`
				Close    string `json:"close"`
			} `json:"values"`
		}
		if err := s.client.GetJSON(ctx, s.endpoints.TwelveData, url.Values{
			"symbol": {symbol}, "interval": {"1day"}, "outputsize": {"2"}, "apikey": {key},
		}, nil, &payload); err != nil {
			return err
		}
		if payload.Status == "error" {
			return fetch.Permanent("twelve data error: "+payload.Message, nil)
		}
		if len(payload.Values) < 2 {
			return fetch.Permanent("schema mismatch: twelve data series too short for "+symbol, nil)
		}
		latest, prev := payload.Values[0], payload.Values[1]
		latestClose, err1 := strconv.ParseFloat(latest.Close, 64)
		prevClose, err2 := strconv.ParseFloat(prev.Close, 64)
		if err1 != nil || err2 != nil || prevClose == 0 {
			return fetch.Permanent("schema mismatch: twelve data closes for "+symbol, nil)
		}
		quote = Quote{
			Day:       strings.SplitN(latest.Datetime, " ", 2)[0],
			Close:     latestClose,
			ChangePct: (latestClose - prevClose) / prevClose * 100,
			Source:    "twelve_data",
		}
		return nil
	})
	return quote, err
}

// alphaVantageQuote fetches the daily series from Alpha Vantage, the last
// quote tier. The payload key for the series varies by function, so it is
// located by substring.
func (s *Sources) alphaVantageQuote(ctx context.Context, symbol string) (Quote, error) {
	key, ok := s.creds.Get("alpha_vantage")
	if !ok {
		return Quote{}, fetch.MissingCredential("alpha_vantage")
	}
	var quote Quote
	err := s.guard.Do(ctx, "alpha_vantage", hostOf(s.endpoints.AlphaVantage), func(ctx context.Context) error {
		var payload map[string]json.RawMessage
		if err := s.client.GetJSON(ctx, s.endpoints.AlphaVantage, url.Values{
			"function": {"TIME_SERIES_DAILY"}, "symbol": {symbol}, "apikey": {key},
		}, nil, &payload); err != nil {
			return err
		}
		// Throttle notices come back 200 with a Note/Information body.
		for _, field := range []string{"Note", "Information"} {
			if raw, ok := payload[field]; ok {
				var msg string
				_ = json.Unmarshal(raw, &msg)
				return fetch.Transient("alpha vantage throttled: "+msg, nil)
			}
		}
		var series map[string]struct {
			Close string `json:"4. close"`
		}
		for name, raw := range payload {
			if strings.Contains(name, "Time Series") {
				if err := json.Unmarshal(raw, &series); err != nil {
					return fetch.Permanent("schema mismatch: alpha vantage series for "+symbol, err)
				}
				break
			}
		}
		if len(series) < 2 {
			return fetch.Permanent("schema mismatch: alpha vantage series too short for "+symbol, nil)
		}
		days := make([]string, 0, len(series))
		for day := range series {
			days = append(days, day)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(days)))
		latestClose, err1 := strconv.ParseFloat(series[days[0]].Close, 64)
		prevClose, err2 := strconv.ParseFloat(series[days[1]].Close, 64)
		if err1 != nil || err2 != nil || prevClose == 0 {
			return fetch.Permanent("schema mismatch: alpha vantage closes for "+symbol, nil)
		}
		quote = Quote{
			Day:       days[0],
			Close:     latestClose,
			ChangePct: (latestClose - prevClose) / prevClose * 100,
			Source:    "alpha_vantage",
		}
		return nil
	})
	return quote, err
}

// fmpThemeMetrics fetches batch quotes for all theme constituents and
// averages PE/PS/change per theme; market caps are summed.
func (s *Sources) fmpThemeMetrics(ctx context.Context) (map[string]ThemeMetrics, error) {
	key, ok := s.creds.Get("financial_modeling_prep")
	if !ok {
		return nil, fetch.MissingCredential("financial_modeling_prep")
	}

	symbols := make([]string, 0, 16)
	seen := map[string]bool{}
	for _, list := range ThemeSymbols {
		for _, sym := range list {
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}
	sort.Strings(symbols)

	type fmpRow struct {
		Symbol            string   `json:"symbol"`
		ChangesPercentage *float64 `json:"changesPercentage"`
		PE                *float64 `json:"pe"`
		PriceToSalesTTM   *float64 `json:"priceToSalesRatioTTM"`
		MarketCap         *float64 `json:"marketCap"`
	}

	var rows []fmpRow
	err := s.guard.Do(ctx, "fmp", hostOf(s.endpoints.FMPQuote), func(ctx context.Context) error {
		return s.client.GetJSON(ctx, s.endpoints.FMPQuote, url.Values{
			"symbol": {strings.Join(symbols, ",")}, "apikey": {key},
		}, nil, &rows)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fetch.Permanent("schema mismatch: fmp quote batch empty", nil)
	}

	bySymbol := make(map[string]fmpRow, len(rows))
	for _, row := range rows {
		bySymbol[row.Symbol] = row
	}

	metrics := make(map[string]ThemeMetrics, len(ThemeSymbols))
	for theme, list := range ThemeSymbols {
		var changes, pes, pss []float64
		capTotal := 0.0
		capSeen := false
		for _, sym := range list {
			row, ok := bySymbol[sym]
			if !ok {
				continue
			}
			if row.ChangesPercentage != nil {
				changes = append(changes, *row.ChangesPercentage)
			}
			if row.PE != nil && *row.PE > 0 {
				pes = append(pes, *row.PE)
			}
			if row.PriceToSalesTTM != nil && *row.PriceToSalesTTM > 0 {
				pss = append(pss, *row.PriceToSalesTTM)
			}
			if row.MarketCap != nil {
				capTotal += *row.MarketCap
				capSeen = true
			}
		}
		m := ThemeMetrics{
			ChangePct: meanOf(changes),
			AvgPE:     meanOf(pes),
			AvgPS:     meanOf(pss),
		}
		if capSeen {
			m.MarketCap = &capTotal
		}
		metrics[theme] = m
	}
	if len(metrics) == 0 {
		return nil, fetch.Permanent("fmp theme metrics empty", nil)
	}
	return metrics, nil
}

func meanOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
