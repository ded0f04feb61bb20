package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/app"
	"github.com/Veraticus/the-books-must-balance/internal/cli"
)

func cacheCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the query cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			s, err := unwrap(svc.GetCacheStats(cmd.Context(), rt.principal()))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), s, func() string {
				return cli.RenderCacheStats(s)
			})
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached results for your organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			n, err := unwrap(svc.ClearCaches(cmd.Context(), rt.principal(), all))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), map[string]int{"removed": n}, func() string {
				return cli.FormatSuccess(fmt.Sprintf("Removed %d cache entries", n))
			})
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "drop every organization's entries (admin)")

	cmd.AddCommand(stats, clearCmd)
	return cmd
}

func metricsCmd(rt *runtime) *cobra.Command {
	var operation string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show operation timings for this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			m, err := unwrap(svc.GetPerformanceMetrics(cmd.Context(), rt.principal(), operation))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), m, func() string {
				return cli.RenderMetrics(m.Overall, m.Operations)
			})
		},
	}
	cmd.Flags().StringVar(&operation, "operation", "", "only this operation")
	return cmd
}

func healthCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the database and cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			resp := svc.HealthCheck(cmd.Context())
			if err := rt.print(cmd.OutOrStdout(), resp.Data, func() string {
				return renderHealth(resp.Data)
			}); err != nil {
				return err
			}
			return resp.Err()
		},
	}
}

func renderHealth(h *app.Health) string {
	if h == nil {
		return cli.FormatError("health check failed")
	}
	rows := [][]string{{"status", h.Status}, {"database", h.Database}}
	tables := make([]string, 0, len(h.Tables))
	for table := range h.Tables {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		rows = append(rows, []string{table, fmt.Sprintf("%d rows", h.Tables[table])})
	}
	return cli.Table([]string{"Check", "Result"}, rows)
}
