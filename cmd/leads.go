package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leadsignal/intent-cli/internal/store"
)

var (
	leadsOrgID string
	leadsLimit int
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List stored predictions ranked by priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Store.ListPredictions(ctx, store.ListFilter{OrgID: leadsOrgID, Limit: leadsLimit})
		if err != nil {
			return eris.Wrap(err, "list predictions")
		}
		if len(list) == 0 {
			fmt.Println("no predictions stored for org")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tPROBABILITY\tCONFIDENCE\tTIMELINE\tCOMPANY\tEXPIRES")
		for _, p := range list {
			fmt.Fprintf(w, "%d\t%.2f%%\t%s\t%dd\t%s\t%s\n",
				p.PriorityScore, p.BuyingProbability, p.ConfidenceLevel,
				p.PredictedTimelineDays, p.CompanyID,
				p.ExpiresAt.Format("2006-01-02"),
			)
		}
		return w.Flush()
	},
}

func init() {
	leadsCmd.Flags().StringVar(&leadsOrgID, "org", "", "org ID to list (required)")
	leadsCmd.Flags().IntVar(&leadsLimit, "limit", 25, "max predictions to list")
	_ = leadsCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(leadsCmd)
}
