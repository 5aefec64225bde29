package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pulsemkt/themescore/internal/atomicio"
	"github.com/pulsemkt/themescore/internal/ledger"
	"github.com/pulsemkt/themescore/internal/pipeline"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the run ledger and fetch status for a date as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = defaultDate()
			}
			led, runStatus, err := ledger.Load(flags.outDir, date)
			if err != nil {
				return err
			}
			out := map[string]any{
				"run":    led,
				"status": runStatus,
			}
			var fetchStatus pipeline.FetchStatus
			if err := atomicio.ReadJSON(filepath.Join(flags.outDir, "etl_status_"+date+".json"), &fetchStatus); err == nil {
				out["fetch"] = fetchStatus
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Trading date YYYY-MM-DD (default: today)")
	return cmd
}
