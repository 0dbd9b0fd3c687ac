package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedPath string

func init() {
	seedCmd.Flags().StringVarP(&seedPath, "file", "f", "", "seed YAML (defaults to seed_file in the config)")
	rootCmd.AddCommand(seedCmd, backfillCmd, updateCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed [-f authors.yaml]",
	Short: "Adds the authors in the seed file to the scrape queue.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		added, err := a.Seed(cmd.Context(), seedPath)
		if err != nil {
			return err
		}
		log.Info("seed complete", zap.Int("added", added))
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fills entry prices for the next author whose backfill is incomplete.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		res, err := a.RunBackfill(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refreshes current prices, then recomputes author metrics and stats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		priceRes, err := a.UpdatePrices(cmd.Context())
		if err != nil {
			return err
		}
		metricRes, err := a.UpdateMetrics(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"prices": priceRes, "metrics": metricRes})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
