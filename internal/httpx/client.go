// Package httpx is the shared outbound HTTP client for provider fetchers:
// one pooled transport, bounded per-call timeouts, and response status
// classification into the fetch failure taxonomy.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pulsemkt/themescore/internal/fetch"
)

const defaultUserAgent = "themescore/1.0 (+https://github.com/pulsemkt/themescore)"

// Client wraps http.Client with JSON/text helpers used by every provider.
type Client struct {
	hc        *http.Client
	userAgent string
}

// New builds a client with a pooled transport. timeout bounds each call.
func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		hc:        &http.Client{Transport: transport, Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// GetJSON fetches url with query params and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string, v any) error {
	body, err := c.do(ctx, http.MethodGet, rawURL, params, headers, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fetch.Permanent("schema mismatch: "+rawURL, err)
	}
	return nil
}

// PostJSON sends payload as a JSON body and decodes the JSON response into v.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any, headers map[string]string, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fetch.Permanent("encode request body", err)
	}
	body, err := c.do(ctx, http.MethodPost, rawURL, nil, headers, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fetch.Permanent("schema mismatch: "+rawURL, err)
	}
	return nil
}

// GetText fetches url and returns the raw body. Used by the HTML scrapers.
func (c *Client) GetText(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, rawURL, params, headers, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, params url.Values, headers map[string]string, payload []byte) ([]byte, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fetch.Permanent("build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fetch.Transient("read response body", err)
	}
	if err := classifyStatus(resp.StatusCode, req.URL.Host); err != nil {
		return nil, err
	}
	return body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetch.Transient("timeout", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fetch.Transient("deadline exceeded", err)
	}
	return fetch.Transient("request failed", err)
}

func classifyStatus(code int, host string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fetch.Transient(fmt.Sprintf("rate limited by %s (HTTP 429)", host), nil)
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusPaymentRequired:
		return fetch.Permanent(fmt.Sprintf("auth failure at %s (HTTP %d)", host, code), nil)
	case code >= 500:
		return fetch.Transient(fmt.Sprintf("upstream error at %s (HTTP %d)", host, code), nil)
	default:
		return fetch.Permanent(fmt.Sprintf("unexpected status from %s (HTTP %d)", host, code), nil)
	}
}
