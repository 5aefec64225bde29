// Package stream watches the Binance 1-minute kline stream for a symbol and
// raises RSI threshold alerts. It is a long-running sidecar, independent of
// the daily pipeline.
package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultWSBase  = "wss://stream.binance.com:9443/ws"
	bufferSize     = 500
	minSamples     = 20
	rsiPeriod      = 14
	pingInterval   = 20 * time.Second
	reconnectDelay = 3 * time.Second
)

// AlertKind distinguishes the two threshold crossings.
type AlertKind string

const (
	Overbought AlertKind = "overbought"
	Oversold   AlertKind = "oversold"
)

// Alert is one threshold crossing.
type Alert struct {
	Symbol string
	Kind   AlertKind
	RSI    float64
	Price  float64
}

// Config holds the watcher settings. Zero values take the defaults the
// stream command exposes as flags.
type Config struct {
	BaseURL string
	Symbol  string
	RSIHigh float64
	RSILow  float64
	MinGap  time.Duration
}

func (c *Config) fill() {
	if c.BaseURL == "" {
		c.BaseURL = defaultWSBase
	}
	if c.Symbol == "" {
		c.Symbol = "btcusdt"
	}
	if c.RSIHigh == 0 {
		c.RSIHigh = 70
	}
	if c.RSILow == 0 {
		c.RSILow = 30
	}
	if c.MinGap == 0 {
		c.MinGap = 15 * time.Minute
	}
}

// Watcher consumes kline messages and emits alerts through the handler.
type Watcher struct {
	cfg       Config
	handler   func(Alert)
	now       func() time.Time
	closes    []float64
	lastAlert time.Time
}

// NewWatcher builds a watcher. handler may be nil; alerts are always logged.
func NewWatcher(cfg Config, handler func(Alert)) *Watcher {
	cfg.fill()
	return &Watcher{cfg: cfg, handler: handler, now: time.Now}
}

type klineMessage struct {
	Kline struct {
		Close string `json:"c"`
	} `json:"k"`
}

// Process consumes one raw stream message and returns the alert it
// triggered, if any. Malformed or non-kline messages are ignored.
func (w *Watcher) Process(raw []byte) *Alert {
	var msg klineMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Kline.Close == "" {
		return nil
	}
	price, err := strconv.ParseFloat(msg.Kline.Close, 64)
	if err != nil {
		return nil
	}

	w.closes = append(w.closes, price)
	if len(w.closes) > bufferSize {
		w.closes = w.closes[len(w.closes)-bufferSize:]
	}
	if len(w.closes) < minSamples {
		return nil
	}

	value, ok := RSI(w.closes, rsiPeriod)
	if !ok {
		return nil
	}

	var kind AlertKind
	switch {
	case value >= w.cfg.RSIHigh:
		kind = Overbought
	case value <= w.cfg.RSILow:
		kind = Oversold
	default:
		return nil
	}
	now := w.now()
	if !w.lastAlert.IsZero() && now.Sub(w.lastAlert) <= w.cfg.MinGap {
		return nil
	}
	w.lastAlert = now

	alert := &Alert{Symbol: w.cfg.Symbol, Kind: kind, RSI: value, Price: price}
	log.Warn().Str("symbol", alert.Symbol).Str("kind", string(kind)).
		Float64("rsi", value).Float64("price", price).Msg("rsi alert")
	if w.handler != nil {
		w.handler(*alert)
	}
	return alert
}

func (w *Watcher) streamURL() string {
	return w.cfg.BaseURL + "/" + w.cfg.Symbol + "@kline_1m"
}

// Run connects and consumes the stream until ctx is done, reconnecting after
// a short delay on any read or dial error.
func (w *Watcher) Run(ctx context.Context) error {
	url := w.streamURL()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info().Str("url", url).Msg("connecting kline stream")
		if err := w.consume(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("stream interrupted, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (w *Watcher) consume(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the connection when ctx ends so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.Process(raw)
	}
}
