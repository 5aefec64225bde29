package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/pulsemkt/themescore/internal/config"
	"github.com/pulsemkt/themescore/internal/fetch"
	"github.com/pulsemkt/themescore/internal/fetch/providers"
	"github.com/pulsemkt/themescore/internal/history"
	"github.com/pulsemkt/themescore/internal/httpx"
	"github.com/pulsemkt/themescore/internal/lastgood"
	"github.com/pulsemkt/themescore/internal/metrics"
	"github.com/pulsemkt/themescore/internal/pipeline"
	"github.com/pulsemkt/themescore/internal/ratelimit"
	"github.com/pulsemkt/themescore/internal/score"
	"github.com/pulsemkt/themescore/internal/server"
	"github.com/pulsemkt/themescore/internal/snapshot"
)

const (
	httpTimeout = 12 * time.Second
	lastGoodTTL = 7 * 24 * time.Hour
)

// app holds the wired components one command invocation needs.
type app struct {
	cfg       *config.Config
	assembler *snapshot.Assembler
	pipeline  *pipeline.Pipeline
}

// buildApp wires the full stack from flags. The returned cleanup closes any
// external connections and is safe to call once.
func buildApp(ctx context.Context, flags *rootFlags) (*app, func(), error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}

	var cleanups []func()
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	lastGood, err := buildLastGood(ctx, flags.redisAddr, &cleanups)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sentiment, scores, err := buildHistory(ctx, flags, &cleanups)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	registry := metrics.Default()
	client := httpx.New(httpTimeout)
	guard := fetch.NewGuard(ratelimit.New(4, 8))
	sources := providers.New(client, guard, config.LoadCredentials(), providers.WithObserver(registry))
	assembler := snapshot.NewAssembler(sources, lastGood, flags.outDir, flags.stateDir).
		WithObserver(registry)
	scorer := score.NewScorer(cfg, sentiment, scores)
	pipe := pipeline.New(assembler, scorer, cfg, flags.outDir, flags.stateDir).
		WithMetrics(registry)

	return &app{cfg: cfg, assembler: assembler, pipeline: pipe}, cleanup, nil
}

func buildLastGood(ctx context.Context, redisAddr string, cleanups *[]func()) (lastgood.Store, error) {
	if redisAddr == "" {
		log.Debug().Msg("no redis address, last-good store is in-memory")
		return lastgood.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", redisAddr, err)
	}
	*cleanups = append(*cleanups, func() { client.Close() })
	log.Info().Str("addr", redisAddr).Msg("last-good store on redis")
	return lastgood.NewRedis(client, lastGoodTTL), nil
}

func buildHistory(ctx context.Context, flags *rootFlags, cleanups *[]func()) (history.SentimentStore, history.ScoreStore, error) {
	if flags.postgresDSN == "" {
		return history.NewFileSentimentStore(filepath.Join(flags.stateDir, "sentiment_history.json")),
			history.NewFileScoreStore(filepath.Join(flags.stateDir, "score_history.json")),
			nil
	}
	db, err := history.Open(ctx, flags.postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	*cleanups = append(*cleanups, func() { db.Close() })
	log.Info().Msg("history stores on postgres")
	return history.NewPGSentimentStore(db), history.NewPGScoreStore(db), nil
}

// buildMonitor only needs the output directory, never the fetch stack.
func buildMonitor(flags *rootFlags, addr string) *server.Server {
	cfg := server.DefaultConfig()
	if addr != "" {
		cfg.Addr = addr
	}
	return server.New(cfg, flags.outDir, nil)
}
