package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsemkt/themescore/internal/stream"
)

func newStreamCmd() *cobra.Command {
	var (
		symbol  string
		rsiHigh float64
		rsiLow  float64
		minGap  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Watch the Binance 1m kline stream and alert on RSI extremes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			watcher := stream.NewWatcher(stream.Config{
				Symbol:  symbol,
				RSIHigh: rsiHigh,
				RSILow:  rsiLow,
				MinGap:  minGap,
			}, nil)
			err := watcher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "btcusdt", "Binance symbol")
	cmd.Flags().Float64Var(&rsiHigh, "rsi-high", 70, "Overbought threshold")
	cmd.Flags().Float64Var(&rsiLow, "rsi-low", 30, "Oversold threshold")
	cmd.Flags().DurationVar(&minGap, "min-gap", 15*time.Minute, "Minimum interval between alerts")
	return cmd
}
