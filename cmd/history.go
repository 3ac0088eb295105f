package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vin-resolver/internal/model"
	"github.com/sells-group/vin-resolver/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history VIN",
	Short: "Show stored resolutions for a VIN, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vin := model.CanonicalVIN(args[0])
		if problem := model.VINProblem(vin); problem != "" {
			return eris.Errorf("history: %s", problem)
		}

		if err := cfg.Validate("history"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return printHistory(cmd, st, vin, historyLimit)
	},
}

func printHistory(cmd *cobra.Command, st store.Store, vin string, limit int) error {
	items, err := st.ListResolutions(cmd.Context(), vin, limit)
	if err != nil {
		return eris.Wrap(err, "history: list")
	}
	if items == nil {
		items = []model.Resolution{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(items), "history: write output")
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", store.DefaultHistoryLimit, "maximum entries to show")
	rootCmd.AddCommand(historyCmd)
}
