package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/app"
	"github.com/Veraticus/the-books-must-balance/internal/cli"
)

func analyticsCmd(rt *runtime) *cobra.Command {
	var req app.AnalyticsRequest

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Report reconciliation trends and rule effectiveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			report, err := unwrap(svc.GetReconciliationAnalytics(cmd.Context(), rt.principal(), req))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), report, func() string {
				return cli.RenderAnalytics(report)
			})
		},
	}

	cmd.Flags().StringVar(&req.AccountID, "account", "", "only this account")
	cmd.Flags().StringVar(&req.Period, "period", "", "reporting period (week, month, quarter, year)")
	return cmd
}
