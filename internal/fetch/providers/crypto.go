package providers

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pulsemkt/themescore/internal/fetch"
)

// coinbaseSpot fetches the BTC-USD spot price.
func (s *Sources) coinbaseSpot(ctx context.Context) (float64, error) {
	var price float64
	err := s.guard.Do(ctx, "coinbase", hostOf(s.endpoints.CoinbaseSpot), func(ctx context.Context) error {
		var payload struct {
			Data struct {
				Amount string `json:"amount"`
			} `json:"data"`
		}
		if err := s.client.GetJSON(ctx, s.endpoints.CoinbaseSpot, nil, nil, &payload); err != nil {
			return err
		}
		amount, err := strconv.ParseFloat(payload.Data.Amount, 64)
		if err != nil {
			return fetch.Permanent("schema mismatch: coinbase amount", err)
		}
		price = amount
		return nil
	})
	return price, err
}

type okxEnvelope struct {
	Code string           `json:"code"`
	Msg  string           `json:"msg"`
	Data []map[string]any `json:"data"`
}

func (s *Sources) okxCall(ctx context.Context, rawURL string, params url.Values, field string) (float64, error) {
	var value float64
	err := s.guard.Do(ctx, "okx", hostOf(rawURL), func(ctx context.Context) error {
		var payload okxEnvelope
		if err := s.client.GetJSON(ctx, rawURL, params, nil, &payload); err != nil {
			return err
		}
		if payload.Code != "0" {
			return fetch.Permanent("okx error: "+payload.Msg, nil)
		}
		if len(payload.Data) == 0 {
			return fetch.Permanent("okx returned no data", nil)
		}
		raw, ok := payload.Data[0][field].(string)
		if !ok {
			return fetch.Permanent("schema mismatch: okx field "+field, nil)
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fetch.Permanent("schema mismatch: okx field "+field, err)
		}
		value = parsed
		return nil
	})
	return value, err
}

// okxFunding fetches the current BTC perpetual funding rate.
func (s *Sources) okxFunding(ctx context.Context) (float64, error) {
	return s.okxCall(ctx, s.endpoints.OKXFunding,
		url.Values{"instId": {"BTC-USD-SWAP"}}, "fundingRate")
}

// okxPerpLast fetches the last traded price of the BTC perpetual; the
// assembler divides it against spot to derive the futures basis.
func (s *Sources) okxPerpLast(ctx context.Context) (float64, error) {
	return s.okxCall(ctx, s.endpoints.OKXTicker,
		url.Values{"instId": {"BTC-USD-SWAP"}}, "last")
}

type flowRecord struct {
	day    string
	amount float64
}

// latestFlow picks the newest dated record out of a loosely-shaped ETF flow
// list; the commercial flow APIs disagree on field names.
func latestFlow(records []map[string]any) (flowRecord, bool) {
	amountKeys := []string{"totalNetInflow", "netInflow", "netflow", "netFlow", "net_inflow", "totalNetFlow"}
	var rows []flowRecord
	for _, item := range records {
		day, _ := item["date"].(string)
		if day == "" {
			day, _ = item["day"].(string)
		}
		if len(day) < 10 {
			continue
		}
		var amount *float64
		for _, key := range amountKeys {
			if raw, ok := item[key]; ok {
				if v, ok := toFloat(raw); ok {
					amount = &v
					break
				}
			}
		}
		if amount == nil {
			continue
		}
		rows = append(rows, flowRecord{day: day[:10], amount: *amount})
	}
	if len(rows) == 0 {
		return flowRecord{}, false
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].day < rows[j].day })
	return rows[len(rows)-1], true
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// sosovalueFlow fetches the latest US spot BTC ETF net inflow, in millions
// of dollars.
func (s *Sources) sosovalueFlow(ctx context.Context) (float64, error) {
	key, ok := s.creds.Get("sosovalue")
	if !ok {
		return 0, fetch.MissingCredential("sosovalue")
	}
	var flow float64
	err := s.guard.Do(ctx, "sosovalue", hostOf(s.endpoints.SosoValueFlow), func(ctx context.Context) error {
		var payload struct {
			Code any              `json:"code"`
			Msg  string           `json:"msg"`
			Data []map[string]any `json:"data"`
		}
		headers := map[string]string{"x-soso-api-key": key}
		if err := s.client.PostJSON(ctx, s.endpoints.SosoValueFlow,
			map[string]string{"type": "us-btc-spot"}, headers, &payload); err != nil {
			return err
		}
		record, ok := latestFlow(payload.Data)
		if !ok {
			return fetch.Permanent("schema mismatch: sosovalue flow records", nil)
		}
		flow = record.amount / 1e6
		return nil
	})
	return flow, err
}

// coinglassFlow fetches the latest BTC ETF flow from CoinGlass.
func (s *Sources) coinglassFlow(ctx context.Context) (float64, error) {
	key, ok := s.creds.Get("coinglass")
	if !ok {
		return 0, fetch.MissingCredential("coinglass")
	}
	var flow float64
	err := s.guard.Do(ctx, "coinglass", hostOf(s.endpoints.CoinglassFlow), func(ctx context.Context) error {
		var payload struct {
			Code any              `json:"code"`
			Msg  string           `json:"msg"`
			Data []map[string]any `json:"data"`
		}
		headers := map[string]string{"coinglassSecret": key}
		if err := s.client.GetJSON(ctx, s.endpoints.CoinglassFlow,
			url.Values{"page": {"1"}, "size": {"10"}}, headers, &payload); err != nil {
			return err
		}
		record, ok := latestFlow(payload.Data)
		if !ok {
			return fetch.Permanent("schema mismatch: coinglass flow records", nil)
		}
		// CoinGlass reports raw dollars for large figures.
		if record.amount > 100000 || record.amount < -100000 {
			record.amount /= 1e6
		}
		flow = record.amount
		return nil
	})
	return flow, err
}

// farsideFlow scrapes the Farside bitcoin ETF flow table, the keyless last
// tier.
func (s *Sources) farsideFlow(ctx context.Context) (float64, error) {
	var flow float64
	err := s.guard.Do(ctx, "farside", hostOf(s.endpoints.FarsidePage), func(ctx context.Context) error {
		html, err := s.farsideHTML(ctx)
		if err != nil {
			return err
		}
		value, ok := latestFarsideTotal(html)
		if !ok {
			return fetch.Permanent("schema mismatch: farside flow table", nil)
		}
		flow = value
		return nil
	})
	return flow, err
}

// Farside fronts the page with bot protection; requests need browser headers
// and, when the protection tightens, a session cookie supplied via the
// farside_cookies credential.
func (s *Sources) farsideHeaders() map[string]string {
	headers := map[string]string{
		"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		"Accept":     "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Referer":    "https://farside.co.uk/",
	}
	if cookies, ok := s.creds.Get("farside_cookies"); ok {
		headers["Cookie"] = cookies
	}
	return headers
}

// farsideHTML fetches the flow page, falling back to the WordPress pages API
// which serves the same table as rendered content.
func (s *Sources) farsideHTML(ctx context.Context) (string, error) {
	page, pageErr := s.client.GetText(ctx, s.endpoints.FarsidePage, nil, s.farsideHeaders())
	if pageErr == nil {
		return page, nil
	}
	var pages []struct {
		Content struct {
			Rendered string `json:"rendered"`
		} `json:"content"`
	}
	if err := s.client.GetJSON(ctx, s.endpoints.FarsideAPI,
		url.Values{"slug": {"bitcoin-etf-flow-all-data"}}, s.farsideHeaders(), &pages); err != nil {
		return "", pageErr
	}
	if len(pages) == 0 || pages[0].Content.Rendered == "" {
		return "", pageErr
	}
	return pages[0].Content.Rendered, nil
}

// latestFarsideTotal picks the newest dated row of the flow table. The first
// cell of a data row is the date, the last cell the day's total in millions.
func latestFarsideTotal(html string) (float64, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false
	}
	var newest time.Time
	var total float64
	found := false
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		day, err := time.Parse("2 Jan 2006", strings.TrimSpace(cells.First().Text()))
		if err != nil {
			return
		}
		value, ok := parseFlowNumber(cells.Last().Text())
		if !ok {
			return
		}
		if !found || day.After(newest) {
			newest, total, found = day, value, true
		}
	})
	return total, found
}

// parseFlowNumber handles the table's accounting format: parenthesised
// negatives, thousands separators, U+2212 minus, bare "-" for no data.
func parseFlowNumber(raw string) (float64, bool) {
	text := strings.ReplaceAll(strings.TrimSpace(raw), "−", "-")
	if text == "" || text == "-" {
		return 0, false
	}
	negative := false
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		negative = true
		text = text[1 : len(text)-1]
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if negative {
		value = -value
	}
	return value, true
}
