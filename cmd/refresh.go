package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var refreshOrgID string

var refreshCmd = &cobra.Command{
	Use:   "refresh <company-id>",
	Short: "Recompute a company's signal rollup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		agg, err := env.Aggregates.Refresh(ctx, args[0], refreshOrgID)
		if err != nil {
			return eris.Wrap(err, "refresh aggregate")
		}
		if agg == nil {
			zap.L().Info("no signals recorded for company", zap.String("company_id", args[0]))
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(agg)
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshOrgID, "org", "", "org ID owning the company (required)")
	_ = refreshCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(refreshCmd)
}
