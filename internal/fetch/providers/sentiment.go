package providers

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pulsemkt/themescore/internal/fetch"
)

// cboePutCall fetches the daily equity and index put/call ratios from the
// Cboe published CSV archives. The CSVs carry a preamble before the header
// row, so rows are matched by date shape rather than position.
func (s *Sources) cboePutCall(ctx context.Context) (PutCall, error) {
	var pc PutCall
	err := s.guard.Do(ctx, "cboe", hostOf(s.endpoints.CboeEquityPC), func(ctx context.Context) error {
		equityDay, equity, err := s.cboeRatio(ctx, s.endpoints.CboeEquityPC)
		if err != nil {
			return err
		}
		indexDay, index, err := s.cboeRatio(ctx, s.endpoints.CboeIndexPC)
		if err != nil {
			return err
		}
		day := equityDay
		if indexDay > day {
			day = indexDay
		}
		pc = PutCall{Day: day, Equity: equity, Index: index}
		return nil
	})
	return pc, err
}

func (s *Sources) cboeRatio(ctx context.Context, rawURL string) (string, float64, error) {
	body, err := s.client.GetText(ctx, rawURL, nil, nil)
	if err != nil {
		return "", 0, err
	}
	day, ratio, ok := latestCboeRow(body)
	if !ok {
		return "", 0, fetch.Permanent("schema mismatch: cboe csv has no dated rows", nil)
	}
	return day, ratio, nil
}

// latestCboeRow scans every row, keeping the newest one whose first column
// parses as a M/D/YYYY date and whose last column parses as a ratio.
func latestCboeRow(content string) (string, float64, bool) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1

	var bestDay string
	var bestRatio float64
	found := false
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(row) == 0 {
			continue
		}
		day, err := time.Parse("1/2/2006", strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		ratio, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(row[len(row)-1], "%")), 64)
		if err != nil {
			continue
		}
		iso := day.Format("2006-01-02")
		if !found || iso > bestDay {
			bestDay, bestRatio, found = iso, ratio, true
		}
	}
	return bestDay, bestRatio, found
}

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
			Link  string `xml:"link"`
		} `xml:"item"`
	} `xml:"channel"`
}

var (
	aaiiPercentPattern = regexp.MustCompile(`(?is)Bullish[^0-9]*([0-9]+(?:\.[0-9]+)?)%.*?Neutral[^0-9]*([0-9]+(?:\.[0-9]+)?)%.*?Bearish[^0-9]*([0-9]+(?:\.[0-9]+)?)%`)
	aaiiWeekPattern    = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}`)
)

// aaiiSentiment resolves the latest weekly survey article from the AAII RSS
// feed and scrapes the bullish/neutral/bearish percentages out of its body.
func (s *Sources) aaiiSentiment(ctx context.Context) (AAII, error) {
	var out AAII
	err := s.guard.Do(ctx, "aaii", hostOf(s.endpoints.AAIIFeed), func(ctx context.Context) error {
		feedBody, err := s.client.GetText(ctx, s.endpoints.AAIIFeed, nil, nil)
		if err != nil {
			return err
		}
		var feed rssFeed
		if err := xml.Unmarshal([]byte(feedBody), &feed); err != nil {
			return fetch.Permanent("schema mismatch: aaii feed xml", err)
		}
		var link string
		for _, item := range feed.Channel.Items {
			if strings.Contains(item.Title, "Sentiment Survey") && item.Link != "" {
				link = strings.TrimSpace(item.Link)
				break
			}
		}
		if link == "" {
			return fetch.Permanent("aaii feed has no sentiment survey article", nil)
		}

		article, err := s.client.GetText(ctx, link, nil, nil)
		if err != nil {
			return err
		}
		parsed, ok := parseAAIIArticle(article)
		if !ok {
			return fetch.Permanent("schema mismatch: aaii article percentages", nil)
		}
		out = parsed
		return nil
	})
	return out, err
}

func parseAAIIArticle(html string) (AAII, bool) {
	match := aaiiPercentPattern.FindStringSubmatch(html)
	if match == nil {
		return AAII{}, false
	}
	bull, err1 := strconv.ParseFloat(match[1], 64)
	bear, err2 := strconv.ParseFloat(match[3], 64)
	if err1 != nil || err2 != nil {
		return AAII{}, false
	}
	week := ""
	if raw := aaiiWeekPattern.FindString(html); raw != "" {
		if day, err := time.Parse("January 2, 2006", raw); err == nil {
			week = day.Format("2006-01-02")
		}
	}
	if week == "" {
		week = time.Now().UTC().Format("2006-01-02")
	}
	return AAII{
		Week:           week,
		Bullish:        bull,
		Bearish:        bear,
		BullBearSpread: bull - bear,
	}, true
}
