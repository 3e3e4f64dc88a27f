package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/config"
	"github.com/sells-group/connectivity-cli/internal/ogr"
	"github.com/sells-group/connectivity-cli/internal/pipeline"
	"github.com/sells-group/connectivity-cli/internal/radio"
	"github.com/sells-group/connectivity-cli/internal/runlog"
)

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Tower and speed-tile aggregation pipeline",
}

var etlRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Load towers, aggregate per speed tile and export GeoJSON",
	Long:  "Runs every pipeline stage in order. Stages whose input is missing are skipped; a missing towers CSV stops the run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if v, _ := cmd.Flags().GetStringSlice("categories"); len(v) > 0 {
			cfg.Pipeline.Categories = v
		}
		if v, _ := cmd.Flags().GetString("import-mode"); v != "" {
			cfg.Import.Mode = v
		}
		if err := cfg.Validate("etl"); err != nil {
			return err
		}

		classifier := radio.Default()
		if cfg.Pipeline.RulesFile != "" {
			c, err := radio.Load(cfg.Pipeline.RulesFile)
			if err != nil {
				return err
			}
			classifier = c
		}

		cfg.Pipeline.Categories = canonicalCategories(classifier, cfg.Pipeline.Categories)

		towersCSV, _ := cmd.Flags().GetString("towers-csv")
		opts := pipelineOptions(cfg, towersCSV)

		store, pool, release, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		var observers []pipeline.Observer
		if cfg.Pipeline.RunLog && pool != nil {
			if err := runlog.Migrate(ctx, pool); err != nil {
				return err
			}
			observers = append(observers, runlog.New(pool))
		}

		runner, err := pipeline.NewRunner(pipeline.DefaultStages(), observers...)
		if err != nil {
			return err
		}

		env := &pipeline.Env{
			Store:     store,
			Converter: ogr.New(cfg.Import.Ogr2OgrPath, cfg.Database.ConnInfo()),
			Radio:     classifier,
			Opts:      opts,
		}

		summary, runErr := runner.Run(ctx, env)
		if summary != nil {
			formatRunSummary(os.Stdout, summary)
		}
		if runErr != nil {
			if errors.Is(runErr, pipeline.ErrPrecondition) {
				fmt.Fprintf(os.Stderr, "\nHint: %s\n", preconditionHint(runErr))
			}
			return eris.Wrap(runErr, "etl run")
		}
		return nil
	},
}

var etlPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "List pipeline stages and their dependencies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, err := pipeline.NewRunner(pipeline.DefaultStages())
		if err != nil {
			return err
		}
		formatPlan(os.Stdout, runner.Plan())
		return nil
	},
}

// pipelineOptions builds the run configuration from cfg.
// canonicalCategories rewrites each category to the classifier's spelling so
// the aggregate comparison against radio_class matches. Unknown categories
// are kept as given and logged.
func canonicalCategories(classifier *radio.Classifier, cats []string) []string {
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		canon, ok := classifier.Canonical(c)
		if !ok {
			zap.L().Warn("category has no radio rule and will match no towers", zap.String("category", c))
		}
		out = append(out, canon)
	}
	return out
}

func pipelineOptions(c *config.Config, towersCSV string) pipeline.Options {
	return pipeline.Options{
		Towers:         c.Tables.Towers(),
		Tiles:          c.Tables.Tiles(),
		TilesSubset:    c.Tables.TilesSubset(),
		TileIDColumn:   c.Tables.TileIDColumn,
		AnalysisSchema: c.Tables.AnalysisSchema,
		Region:         c.Region.BBox(),
		Categories:     c.Pipeline.Categories,
		TowersCSV:      towersCSV,
		ImportMode:     c.Import.Mode,
		OutputDir:      c.Output.Dir,
		AllFile:        c.Output.AllFile,
		CategoryFile:   c.Output.CategoryFile,
		ExportAll:      c.Pipeline.ExportAll,
	}
}

// preconditionHint returns the operator-facing part of a precondition
// failure, without the stage prefix or the sentinel suffix.
func preconditionHint(err error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+pipeline.ErrPrecondition.Error())
	const prefix = "pipeline: stage "
	if i := strings.Index(msg, prefix); i >= 0 {
		rest := msg[i+len(prefix):]
		if j := strings.Index(rest, ": "); j >= 0 {
			msg = rest[j+2:]
		}
	}
	return msg
}

func formatRunSummary(out io.Writer, s *pipeline.Summary) {
	fmt.Fprintf(out, "Run %s\n\n", s.RunID)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tOUTCOME\tROWS\tDURATION\tDETAIL")
	for _, r := range s.Results {
		detail := r.Reason
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Stage, r.Outcome, r.Rows, r.Duration().Round(time.Millisecond), detail)
	}
	_ = w.Flush()

	if files := s.Artifacts(); len(files) > 0 {
		fmt.Fprintln(out, "\nWrote:")
		for _, f := range files {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
}

func formatPlan(out io.Writer, plan []pipeline.PlanEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTAGE\tDEPENDS ON")
	for i, p := range plan {
		deps := strings.Join(p.DependsOn, ", ")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, p.Name, deps)
	}
	_ = w.Flush()
}

func init() {
	etlRunCmd.Flags().String("towers-csv", "opencellid_barbados_towers.csv", "tower CSV to load")
	etlRunCmd.Flags().StringSlice("categories", nil, "radio categories to aggregate (default pipeline.categories)")
	etlRunCmd.Flags().String("import-mode", "", "tower import mode: copy or gdal (default import.mode)")

	etlCmd.AddCommand(etlRunCmd)
	etlCmd.AddCommand(etlPlanCmd)
	rootCmd.AddCommand(etlCmd)
}
