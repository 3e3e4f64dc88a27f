package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/connectivity-cli/internal/export"
)

var qaCmd = &cobra.Command{
	Use:   "qa FILE...",
	Short: "Inspect exported GeoJSON documents",
	Long:  "Checks each document is a FeatureCollection of polygons and prints its feature count and the first few features' key and throughput properties.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		sample, _ := cmd.Flags().GetInt("sample")

		var failed int
		for _, path := range args {
			rep, err := export.Inspect(path, key, sample)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				continue
			}
			formatReport(os.Stdout, key, rep)
		}
		if failed > 0 {
			return eris.Errorf("qa: %d of %d documents failed inspection", failed, len(args))
		}
		return nil
	},
}

func formatReport(out io.Writer, key string, rep *export.Report) {
	fmt.Fprintf(out, "%s: %d features\n", rep.Path, rep.Features)
	if len(rep.Samples) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  %s\tavg_download_kbps\tavg_upload_kbps\tgeometry\tproperties\n", key)
	for _, s := range rep.Samples {
		fmt.Fprintf(w, "  %v\t%v\t%v\t%s\t%d\n", s.Key, s.AvgDownload, s.AvgUpload, s.GeometryType, s.PropertyCount)
	}
	_ = w.Flush()
}

func init() {
	qaCmd.Flags().String("key", "towers_all", "property shown as the feature key")
	qaCmd.Flags().Int("sample", 3, "number of features to print")
	rootCmd.AddCommand(qaCmd)
}
