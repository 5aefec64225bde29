package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsemkt/themescore/internal/pipeline"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		date       string
		forceFetch bool
		forceScore bool
		strict     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full daily sequence: fetch, score, actions, ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = defaultDate()
			}
			app, cleanup, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := app.pipeline.Run(cmd.Context(), date, pipeline.Options{
				ForceFetch: forceFetch,
				ForceScore: forceScore,
				Strict:     strict,
			})
			if err != nil {
				return err
			}
			log.Info().Str("date", date).Bool("ok", status.OK).
				Bool("degraded", status.Degraded).Msg("run complete")
			if !status.OK {
				return fmt.Errorf("run for %s failed, see run ledger", date)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Trading date YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&forceFetch, "force-fetch", false, "Refetch even when the snapshot marker exists")
	cmd.Flags().BoolVar(&forceScore, "force-score", false, "Rescore even when the score marker exists")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail the run instead of scoring a degraded snapshot")
	return cmd
}
