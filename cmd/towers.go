package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/towers"
)

var towersCmd = &cobra.Command{
	Use:   "towers",
	Short: "Tower CSV utilities",
}

var towersFilterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Keep only towers with the given mobile country code",
	RunE: func(cmd *cobra.Command, _ []string) error {
		in, _ := cmd.Flags().GetString("in")
		out, _ := cmd.Flags().GetString("out")
		mcc, _ := cmd.Flags().GetString("mcc")

		stats, err := towers.FilterFile(in, out, mcc)
		if err != nil {
			return err
		}

		zap.L().Info("towers filtered",
			zap.String("mcc", mcc),
			zap.Int("read", stats.Read),
			zap.Int("kept", stats.Kept),
		)
		fmt.Printf("Kept %d of %d rows with mcc %s in %s\n", stats.Kept, stats.Read, mcc, out)
		return nil
	},
}

func init() {
	towersFilterCmd.Flags().String("in", "", "input tower CSV")
	towersFilterCmd.Flags().String("out", "", "filtered output CSV")
	towersFilterCmd.Flags().String("mcc", towers.DefaultMCC, "mobile country code to keep")
	_ = towersFilterCmd.MarkFlagRequired("in")
	_ = towersFilterCmd.MarkFlagRequired("out")

	towersCmd.AddCommand(towersFilterCmd)
	rootCmd.AddCommand(towersCmd)
}
