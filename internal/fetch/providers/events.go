package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pulsemkt/themescore/internal/fetch"
)

// teGuestCredential gives delayed access to the public calendar when no
// paid credential is configured.
const teGuestCredential = "guest:guest"

const eventWindowDays = 5

// tradingEconomicsCalendar fetches macro calendar entries in the next five
// days, capped at eight events.
func (s *Sources) tradingEconomicsCalendar(ctx context.Context, day string) ([]Event, error) {
	credential, ok := s.creds.Get("trading_economics")
	if !ok {
		credential = teGuestCredential
	}

	base, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fetch.Permanent("invalid trading day "+day, err)
	}
	windowEnd := base.AddDate(0, 0, eventWindowDays)

	var events []Event
	err = s.guard.Do(ctx, "trading_economics", hostOf(s.endpoints.TECalendar), func(ctx context.Context) error {
		var payload []struct {
			Date       string `json:"Date"`
			Event      string `json:"Event"`
			Country    string `json:"Country"`
			Importance any    `json:"Importance"`
		}
		if err := s.client.GetJSON(ctx, s.endpoints.TECalendar,
			url.Values{"c": {credential}, "format": {"json"}}, nil, &payload); err != nil {
			return err
		}
		events = events[:0]
		for _, entry := range payload {
			if entry.Date == "" || entry.Event == "" {
				continue
			}
			eventDate, err := time.Parse(time.RFC3339, strings.Replace(entry.Date, "Z", "+00:00", 1))
			if err != nil {
				if eventDate, err = time.Parse("2006-01-02T15:04:05", entry.Date); err != nil {
					continue
				}
			}
			dateStr := eventDate.Format("2006-01-02")
			if dateStr < day || dateStr > windowEnd.Format("2006-01-02") {
				continue
			}
			events = append(events, Event{
				Title:   entry.Event,
				Date:    dateStr,
				Impact:  normalizeImpact(entry.Importance),
				Country: entry.Country,
				Source:  "trading_economics",
			})
			if len(events) >= 8 {
				break
			}
		}
		if len(events) == 0 {
			return fetch.Permanent("trading economics returned no usable events", nil)
		}
		return nil
	})
	return events, err
}

func normalizeImpact(raw any) string {
	switch v := raw.(type) {
	case string:
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "low" || lower == "medium" || lower == "high" {
			return lower
		}
	case float64:
		switch int(v) {
		case 1:
			return "low"
		case 3:
			return "high"
		}
	}
	return "medium"
}

// finnhubEarnings fetches the upcoming earnings calendar and formats each
// release as an event, flagging mega caps as high impact.
func (s *Sources) finnhubEarnings(ctx context.Context, day string) ([]Event, error) {
	key, ok := s.creds.Get("finnhub")
	if !ok {
		return nil, fetch.MissingCredential("finnhub")
	}
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fetch.Permanent("invalid trading day "+day, err)
	}
	end := start.AddDate(0, 0, eventWindowDays)

	var events []Event
	err = s.guard.Do(ctx, "finnhub", hostOf(s.endpoints.FinnhubEarnings), func(ctx context.Context) error {
		var payload struct {
			EarningsCalendar []struct {
				Date      string   `json:"date"`
				Symbol    string   `json:"symbol"`
				Time      string   `json:"time"`
				EPSEst    *float64 `json:"epsEstimate"`
				EPSActual *float64 `json:"epsActual"`
				MarketCap *float64 `json:"marketCapitalization"`
			} `json:"earningsCalendar"`
		}
		if err := s.client.GetJSON(ctx, s.endpoints.FinnhubEarnings, url.Values{
			"from": {day}, "to": {end.Format("2006-01-02")}, "token": {key},
		}, nil, &payload); err != nil {
			return err
		}
		events = events[:0]
		for _, item := range payload.EarningsCalendar {
			if item.Date == "" || item.Symbol == "" {
				continue
			}
			eventDate, err := time.Parse("2006-01-02", item.Date)
			if err != nil || eventDate.Before(start) || eventDate.After(end) {
				continue
			}
			title := item.Symbol + " earnings"
			switch strings.ToUpper(item.Time) {
			case "AMC", "POSTMARKET":
				title += " (after close)"
			case "BMO", "PREMARKET":
				title += " (before open)"
			}
			if item.EPSActual != nil && item.EPSEst != nil {
				title += fmt.Sprintf(" EPS %.2f/%.2f (%+.2f)",
					*item.EPSActual, *item.EPSEst, *item.EPSActual-*item.EPSEst)
			}
			impact := "medium"
			if item.MarketCap != nil && *item.MarketCap >= 200_000 {
				impact = "high"
			}
			events = append(events, Event{
				Title:   title,
				Date:    eventDate.Format("2006-01-02"),
				Impact:  impact,
				Country: "US",
				Source:  "finnhub",
			})
		}
		if len(events) == 0 {
			return fetch.Permanent("finnhub returned no earnings events", nil)
		}
		sort.SliceStable(events, func(i, j int) bool { return events[i].Date < events[j].Date })
		return nil
	})
	return events, err
}
