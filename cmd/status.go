package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/crowdeval/mapseval/internal/monitoring"
)

var statusWindow int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a metrics snapshot over recent sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, statusWindow)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)

		out := struct {
			*monitoring.MetricsSnapshot
			Alerts []monitoring.Alert `json:"alerts,omitempty"`
		}{snap, alerts}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusWindow, "window", 24, "lookback window in hours")
	rootCmd.AddCommand(statusCmd)
}
