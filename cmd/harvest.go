package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/harvest"
	"github.com/sells-group/connectivity-cli/internal/opencellid"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest cell towers for the region from OpenCelliD",
	Long:  "Walks the configured region in small tiles, counts towers per tile and pages through the area API into a single CSV.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if v, _ := cmd.Flags().GetString("output"); v != "" {
			cfg.Harvest.Output = v
		}
		if cmd.Flags().Changed("radio") {
			cfg.Harvest.Radio, _ = cmd.Flags().GetString("radio")
		}
		if err := cfg.Validate("harvest"); err != nil {
			return err
		}

		client, err := opencellid.New(opencellid.Options{
			Token:        cfg.Harvest.Token,
			BaseURL:      cfg.Harvest.BaseURL,
			Radio:        cfg.Harvest.Radio,
			Delay:        cfg.Harvest.Delay(),
			CountTimeout: time.Duration(cfg.Harvest.CountTimeoutSecs) * time.Second,
			PageTimeout:  time.Duration(cfg.Harvest.PageTimeoutSecs) * time.Second,
			MaxAttempts:  cfg.Harvest.MaxAttempts,
			Backoff:      cfg.Harvest.Backoff(),
		})
		if err != nil {
			return err
		}

		h, err := harvest.New(client, harvest.Options{
			Region:   cfg.Region.BBox(),
			StepLat:  cfg.Harvest.StepLat,
			StepLon:  cfg.Harvest.StepLon,
			PageSize: cfg.Harvest.PageSize,
		})
		if err != nil {
			return err
		}

		stats, err := h.RunToFile(ctx, cfg.Harvest.Output)
		if err != nil {
			return eris.Wrap(err, "harvest")
		}

		zap.L().Info("harvest complete",
			zap.String("output", cfg.Harvest.Output),
			zap.Int("tiles", stats.Tiles),
			zap.Int("tiles_with_hits", stats.TilesWithHits),
			zap.Int("rows", stats.Rows),
		)
		fmt.Printf("Wrote %d rows from %d of %d tiles to %s\n", stats.Rows, stats.TilesWithHits, stats.Tiles, cfg.Harvest.Output)
		if stats.CountFailures > 0 || stats.PageFailures > 0 {
			fmt.Printf("Skipped %d tile counts and %d pages after retries\n", stats.CountFailures, stats.PageFailures)
		}
		return nil
	},
}

func init() {
	harvestCmd.Flags().String("output", "", "CSV output path (default harvest.output)")
	harvestCmd.Flags().String("radio", "", "only harvest this radio type, e.g. LTE")
	rootCmd.AddCommand(harvestCmd)
}
