package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/ledgercsv"
)

func ledgerCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Mirror ledger entries from the general ledger",
	}
	cmd.AddCommand(ledgerLoadCmd(rt))
	return cmd
}

func ledgerLoadCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "load LEDGER_ACCOUNT_ID FILE",
		Short: "Load ledger entries from a CSV export",
		Long: `Load ledger entries exported from the general ledger. The CSV needs a
header row with entry_date and total columns; id, entry_number,
description and reference are optional. Rows with an id replace the
stored entry with the same id.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open ledger export: %w", err)
			}
			defer f.Close()

			if _, err := rt.service(cmd.Context()); err != nil {
				return err
			}
			n, err := ledgercsv.NewLoader(rt.store).Load(cmd.Context(), f, args[0], rt.cfg.User.OrganizationID)
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), map[string]int{"loaded": n}, func() string {
				return cli.FormatSuccess(fmt.Sprintf("Loaded %d ledger entries into %s", n, args[0]))
			})
		},
	}
}
