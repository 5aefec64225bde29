package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsemkt/themescore/internal/pipeline"
)

func newScoreCmd(flags *rootFlags) *cobra.Command {
	var (
		date   string
		force  bool
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score the themes for a date and derive actions",
		Long: `Scores the configured themes from the assembled snapshot. A snapshot
already on disk is reused; otherwise it is assembled first.`,
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
				ForceScore: force,
				Strict:     strict,
			})
			if err != nil {
				return err
			}
			log.Info().Str("date", date).Bool("degraded", status.Degraded).Msg("scores written")
			if !status.OK {
				return fmt.Errorf("scoring %s failed, see run ledger", date)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Trading date YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&force, "force-score", false, "Rescore even when the score marker exists")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail instead of scoring a degraded snapshot")
	return cmd
}
