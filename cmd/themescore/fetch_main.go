package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newFetchCmd(flags *rootFlags) *cobra.Command {
	var (
		date  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Assemble the raw snapshot for a date without scoring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = defaultDate()
			}
			app, cleanup, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := app.assembler.Assemble(cmd.Context(), date, force)
			if err != nil {
				return err
			}
			degraded := 0
			for _, entry := range snap.Sources {
				if !entry.OK {
					degraded++
				}
			}
			log.Info().Str("date", date).Int("signals", len(snap.Sources)).
				Int("degraded", degraded).Msg("snapshot assembled")
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Trading date YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&force, "force-fetch", false, "Refetch even when the snapshot marker exists")
	return cmd
}
