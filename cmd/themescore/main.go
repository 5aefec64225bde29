package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "themescore"
	version = "v1.4.0"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath  string
	outDir      string
	stateDir    string
	redisAddr   string
	postgresDSN string
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily multi-theme market scoring engine",
		Version: version,
		Long: `themescore fetches market, crypto, sentiment and event signals through
multi-provider fallback chains, scores the configured themes, derives
add/trim actions and records a per-run ledger. Degraded inputs degrade
the outputs honestly instead of silently.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "config/weights.yaml", "Weights config file")
	rootCmd.PersistentFlags().StringVar(&flags.outDir, "out", "out", "Output document directory")
	rootCmd.PersistentFlags().StringVar(&flags.stateDir, "state", "state", "State and marker directory")
	rootCmd.PersistentFlags().StringVar(&flags.redisAddr, "redis-addr", "", "Redis address for the last-good store (empty: in-memory)")
	rootCmd.PersistentFlags().StringVar(&flags.postgresDSN, "postgres-dsn", "", "Postgres DSN for history stores (empty: file-backed)")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newFetchCmd(flags),
		newScoreCmd(flags),
		newStatusCmd(flags),
		newMonitorCmd(flags),
		newStreamCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func defaultDate() string {
	return time.Now().Format("2006-01-02")
}
