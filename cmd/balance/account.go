package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func accountCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage bank accounts",
	}
	cmd.AddCommand(accountCreateCmd(rt), accountListCmd(rt), accountShowCmd(rt))
	return cmd
}

func accountCreateCmd(rt *runtime) *cobra.Command {
	var account model.BankAccount

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a bank account",
		Long: `Register a bank account and link it to the ledger account its
statements reconcile against.

Examples:
  balance account create --name Operating --currency USD --ledger-account 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			account.IsActive = true
			created, err := unwrap(svc.CreateBankAccount(cmd.Context(), rt.principal(), account))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), created, func() string {
				return cli.FormatSuccess("Created account " + created.ID)
			})
		},
	}

	cmd.Flags().StringVar(&account.Name, "name", "", "account name")
	cmd.Flags().StringVar(&account.Currency, "currency", "USD", "ISO currency code")
	cmd.Flags().StringVar(&account.LedgerAccountID, "ledger-account", "", "ledger account to reconcile against")
	cmd.Flags().StringVar(&account.BankName, "bank", "", "bank name")
	cmd.Flags().StringVar(&account.AccountNumber, "number", "", "account number")
	cmd.Flags().Float64Var(&account.OpeningBalance, "opening-balance", 0, "opening balance")
	cmd.Flags().BoolVar(&account.AutoReconcile, "auto-reconcile", false, "reconcile statements as they are imported")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("ledger-account")
	return cmd
}

func accountListCmd(rt *runtime) *cobra.Command {
	var filter model.AccountFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bank accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := unwrap(svc.ListBankAccounts(cmd.Context(), rt.principal(), filter))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), accounts, func() string {
				return cli.RenderAccounts(accounts)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Currency, "currency", "", "only accounts in this currency")
	cmd.Flags().BoolVar(&filter.ActiveOnly, "active", false, "only active accounts")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum accounts to list")
	return cmd
}

func accountShowCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show ACCOUNT_ID",
		Short: "Show one bank account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			account, err := unwrap(svc.GetBankAccount(cmd.Context(), rt.principal(), args[0]))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), account, func() string {
				return cli.RenderAccounts([]model.BankAccount{*account})
			})
		},
	}
}
