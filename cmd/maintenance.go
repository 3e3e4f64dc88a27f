package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/spatialdb"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Database maintenance tasks",
}

var maintenanceVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "VACUUM ANALYZE every pipeline table that exists",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("db"); err != nil {
			return err
		}

		store, _, release, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		zap.L().Info("running VACUUM ANALYZE on pipeline tables")
		n, err := spatialdb.VacuumAnalyze(ctx, store, pipelineOptions(cfg, "").Tables())
		if err != nil {
			return eris.Wrap(err, "maintenance vacuum")
		}
		fmt.Printf("Vacuumed %d tables\n", n)
		return nil
	},
}

func init() {
	maintenanceCmd.AddCommand(maintenanceVacuumCmd)
	rootCmd.AddCommand(maintenanceCmd)
}
