package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/app"
	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/importer"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/ofx"
	"github.com/Veraticus/the-books-must-balance/internal/plaid"
)

// newStatementFetcher builds the Plaid source. Tests replace it.
var newStatementFetcher = func(cfg *config.Config) (plaid.StatementFetcher, error) {
	plaidCfg, err := cfg.PlaidClientConfig()
	if err != nil {
		return nil, err
	}
	client, err := plaid.NewClient(plaidCfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type importFlags struct {
	skipDuplicates bool
	noCategorize   bool
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.skipDuplicates, "skip-duplicates", false, "treat an already imported statement as success")
	cmd.Flags().BoolVar(&f.noCategorize, "no-categorize", false, "keep transaction categories as given")
}

func importCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import bank statements",
		Long: `Import a bank statement into an account. Statements come from a JSON
file, an OFX/QFX download or Plaid.`,
	}
	cmd.AddCommand(importFileCmd(rt), importOFXCmd(rt), importPlaidCmd(rt))
	return cmd
}

func importFileCmd(rt *runtime) *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "file ACCOUNT_ID FILE",
		Short: "Import a statement from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open statement: %w", err)
			}
			defer f.Close()

			var data model.StatementData
			if err := json.NewDecoder(f).Decode(&data); err != nil {
				return fmt.Errorf("failed to decode statement %s: %w", filepath.Base(args[1]), err)
			}
			if data.Source == "" {
				data.Source = model.SourceManual
			}
			return rt.importStatement(cmd, args[0], &data, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func importOFXCmd(rt *runtime) *cobra.Command {
	var (
		flags      importFlags
		ofxAccount string
	)

	cmd := &cobra.Command{
		Use:   "ofx ACCOUNT_ID FILE...",
		Short: "Import statements from OFX/QFX files",
		Long: `Import statements from OFX or QFX files downloaded from your bank.

Examples:
  # Import one download
  balance import ofx 3f9c... ~/Downloads/checking_jan_2024.qfx

  # Import every download for the account
  balance import ofx 3f9c... ~/Downloads/checking_*.qfx

  # Pick one account out of a multi-account file
  balance import ofx 3f9c... ~/Downloads/all.ofx --ofx-account 1234567890`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandFiles(args[1:])
			if err != nil {
				return err
			}

			parser := ofx.NewParser()
			failed := 0
			for _, path := range files {
				data, err := readOFX(cmd.Context(), parser, path, ofxAccount)
				if err == nil {
					err = rt.importStatement(cmd, args[0], data, flags)
				}
				if err != nil {
					slog.Error("Failed to import file", "file", filepath.Base(path), "error", err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed to import", failed, len(files))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&ofxAccount, "ofx-account", "", "account ID inside the file when it holds several")
	return cmd
}

func importPlaidCmd(rt *runtime) *cobra.Command {
	var (
		flags        importFlags
		plaidAccount string
		from, to     string
	)

	cmd := &cobra.Command{
		Use:   "plaid ACCOUNT_ID",
		Short: "Pull a statement period from Plaid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := period(from, to)
			if err != nil {
				return err
			}
			fetcher, err := newStatementFetcher(rt.cfg)
			if err != nil {
				return err
			}
			data, err := fetcher.FetchStatement(cmd.Context(), plaidAccount, start, end)
			if err != nil {
				return fmt.Errorf("failed to fetch statement from Plaid: %w", err)
			}
			return rt.importStatement(cmd, args[0], data, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&plaidAccount, "plaid-account", "", "Plaid account ID")
	cmd.Flags().StringVar(&from, "from", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "period end (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("plaid-account")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// importStatement imports data, then reconciles it when the account asks
// for that.
func (rt *runtime) importStatement(cmd *cobra.Command, accountID string, data *model.StatementData, flags importFlags) error {
	ctx := cmd.Context()
	svc, err := rt.service(ctx)
	if err != nil {
		return err
	}

	progress := cli.NewProgress(cmd.ErrOrStderr(), "Importing "+data.StatementNumber)
	categorize := !flags.noCategorize
	req := app.ImportRequest{
		Data:           data,
		AccountID:      accountID,
		Source:         data.Source,
		Progress:       progress.Update,
		AutoCategorize: &categorize,
	}
	if flags.skipDuplicates {
		req.SkipDuplicates = &flags.skipDuplicates
	}

	result, err := unwrap(svc.ImportBankStatement(ctx, rt.principal(), req))
	if err != nil {
		return err
	}
	if err := rt.print(cmd.OutOrStdout(), result, func() string {
		return cli.RenderImport(result.Statement, result.Duplicate, result.ValidationErrors, result.Warnings)
	}); err != nil {
		return err
	}

	if result.Duplicate {
		return nil
	}
	return rt.autoReconcile(cmd, svc, accountID, result)
}

func (rt *runtime) autoReconcile(cmd *cobra.Command, svc *app.Service, accountID string, result *importer.Result) error {
	account, err := unwrap(svc.GetBankAccount(cmd.Context(), rt.principal(), accountID))
	if err != nil || !account.AutoReconcile {
		return err
	}
	return rt.reconcile(cmd, app.ReconcileRequest{AccountID: accountID, StatementID: result.Statement.ID})
}

func readOFX(ctx context.Context, parser *ofx.Parser, path, selected string) (*model.StatementData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	statements, err := parser.Parse(ctx, f)
	if err != nil {
		return nil, err
	}
	return pickStatement(statements, selected)
}

func pickStatement(statements []ofx.Statement, selected string) (*model.StatementData, error) {
	accounts := make([]string, 0, len(statements))
	for _, s := range statements {
		if s.AccountID == selected || (selected == "" && len(statements) == 1) {
			return s.Data, nil
		}
		accounts = append(accounts, s.AccountID)
	}
	return nil, fmt.Errorf("file holds accounts %s; choose one with --ofx-account", strings.Join(accounts, ", "))
}

func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err != nil {
				slog.Warn("No files found matching pattern", "pattern", pattern)
				continue
			}
			matches = []string{pattern}
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// period parses a from/to pair. An empty to means today.
func period(from, to string) (time.Time, time.Time, error) {
	start, err := parseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if to != "" {
		if end, err = parseDate(to); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("period end %s is before start %s", to, from)
	}
	return start, end, nil
}
