package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/fetcher"
	"github.com/sells-group/connectivity-cli/internal/geo"
	"github.com/sells-group/connectivity-cli/internal/ookla"
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Speed tile utilities",
}

var tilesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load an Ookla performance parquet file into the speed-tile table",
	Long:  "Drops and recreates the speed-tile base table and bulk-loads the parquet rows with COPY. With --region-only, tiles outside the configured region are dropped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("db"); err != nil {
			return err
		}

		src, _ := cmd.Flags().GetString("parquet")
		if src == "" {
			if err := cfg.Validate("tiles"); err != nil {
				return err
			}
			u, err := ookla.TileURL(cfg.Tiles.BaseURL, cfg.Tiles.Type, cfg.Tiles.Year, cfg.Tiles.Quarter)
			if err != nil {
				return err
			}
			src = u
		}
		path, err := localParquet(ctx, src)
		if err != nil {
			return err
		}
		regionOnly, _ := cmd.Flags().GetBool("region-only")
		batch, _ := cmd.Flags().GetInt("batch-size")

		var region *geo.BBox
		if regionOnly {
			b := cfg.Region.BBox()
			region = &b
		}

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		table := cfg.Tables.Tiles()
		stats, err := ookla.Load(ctx, pool, ookla.Options{
			Path:      path,
			Table:     table,
			IDColumn:  cfg.Tables.TileIDColumn,
			Region:    region,
			BatchSize: batch,
		})
		if err != nil {
			return eris.Wrap(err, "tiles load")
		}

		zap.L().Info("tiles loaded",
			zap.String("table", table.String()),
			zap.Int64("expected", stats.Expected),
			zap.Int64("read", stats.Read),
			zap.Int64("loaded", stats.Loaded),
			zap.Int64("filtered", stats.Filtered),
			zap.Int64("bad_wkt", stats.BadWKT),
		)
		formatLoadStats(os.Stdout, table.String(), stats)
		return nil
	},
}

var tilesFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the configured quarter of Ookla performance tiles",
	Long:  "Downloads the parquet file for tiles.type, tiles.year and tiles.quarter into tiles.cache_dir. An unchanged file (same ETag) is not downloaded again.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("year") {
			cfg.Tiles.Year, _ = cmd.Flags().GetInt("year")
		}
		if cmd.Flags().Changed("quarter") {
			cfg.Tiles.Quarter, _ = cmd.Flags().GetInt("quarter")
		}
		if cmd.Flags().Changed("type") {
			cfg.Tiles.Type, _ = cmd.Flags().GetString("type")
		}
		if err := cfg.Validate("tiles"); err != nil {
			return err
		}

		u, err := ookla.TileURL(cfg.Tiles.BaseURL, cfg.Tiles.Type, cfg.Tiles.Year, cfg.Tiles.Quarter)
		if err != nil {
			return err
		}
		path, err := localParquet(ctx, u)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

// localParquet returns a local path for src, mirroring it into the tile
// cache first when src is a URL.
func localParquet(ctx context.Context, src string) (string, error) {
	if !ookla.IsRemote(src) {
		return src, nil
	}
	path := filepath.Join(cfg.Tiles.CacheDir, ookla.CacheName(src))
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	if _, err := f.Mirror(ctx, src, path); err != nil {
		return "", eris.Wrapf(err, "fetch %s", src)
	}
	return path, nil
}

func init() {
	tilesFetchCmd.Flags().Int("year", 0, "tile year (default tiles.year)")
	tilesFetchCmd.Flags().Int("quarter", 0, "tile quarter 1-4 (default tiles.quarter)")
	tilesFetchCmd.Flags().String("type", "", "mobile or fixed (default tiles.type)")

	tilesLoadCmd.Flags().String("parquet", "", "parquet file or URL (default: the configured quarter)")
	tilesLoadCmd.Flags().Bool("region-only", false, "keep only tiles intersecting the configured region")
	tilesLoadCmd.Flags().Int("batch-size", 10000, "parquet rows read per batch")

	tilesCmd.AddCommand(tilesFetchCmd)
	tilesCmd.AddCommand(tilesLoadCmd)
	rootCmd.AddCommand(tilesCmd)
}

func formatLoadStats(out io.Writer, table string, s ookla.Stats) {
	fmt.Fprintf(out, "Loaded %d of %d tiles into %s\n", s.Loaded, s.Read, table)
	if s.Filtered > 0 || s.BadWKT > 0 {
		fmt.Fprintf(out, "  outside region: %d, unparsable geometry: %d\n", s.Filtered, s.BadWKT)
	}
	if s.Read != s.Expected {
		fmt.Fprintf(out, "  warning: file footer lists %d rows\n", s.Expected)
	}
}
