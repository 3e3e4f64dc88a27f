package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/runlog"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline table statistics and recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("db"); err != nil {
			return err
		}

		store, pool, release, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		opts := pipelineOptions(cfg, "")
		stats, err := spatialdb.GetTableStats(ctx, store, opts.Tables())
		if err != nil {
			return eris.Wrap(err, "status: table stats")
		}
		formatTableStats(os.Stdout, stats)

		if pool == nil || !cfg.Pipeline.RunLog {
			return nil
		}
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := runlog.New(pool).Recent(ctx, limit)
		if err != nil {
			// Run log table may not exist before the first migrate.
			zap.L().Warn("could not read run log", zap.Error(err))
			return nil
		}
		fmt.Println()
		formatRunLog(os.Stdout, entries)
		return nil
	},
}

func formatTableStats(out io.Writer, stats []spatialdb.TableStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tEXISTS\tROWS\tSIZE\tSPATIAL INDEX")
	for _, s := range stats {
		if !s.Exists {
			fmt.Fprintf(w, "%s\tno\t-\t-\t-\n", s.TableName)
			continue
		}
		fmt.Fprintf(w, "%s\tyes\t%d\t%s\t%s\n", s.TableName, s.RowCount, s.TotalSize, yesNo(s.HasSpatial))
	}
	_ = w.Flush()
}

func formatRunLog(out io.Writer, entries []runlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No recorded runs.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tSTAGE\tOUTCOME\tROWS\tDETAIL")
	for _, e := range entries {
		run := e.RunID.String()
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.StartedAt.Format(time.DateTime), run, e.Stage, e.Outcome, e.Rows, e.Detail)
	}
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of run log entries to show")
	rootCmd.AddCommand(statusCmd)
}
