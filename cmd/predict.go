package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var predictOrgID string

var predictCmd = &cobra.Command{
	Use:   "predict <company-id>",
	Short: "Score one company's buying intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Predictor.Predict(ctx, args[0], predictOrgID)
		if err != nil {
			return eris.Wrap(err, "predict")
		}

		if out.Prediction == nil {
			zap.L().Info("no prediction", zap.String("company_id", args[0]), zap.String("reason", out.Message))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictOrgID, "org", "", "org ID owning the company (required)")
	_ = predictCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(predictCmd)
}
