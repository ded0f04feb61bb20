package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/sheets"
)

// newReportWriter builds the Sheets exporter. Tests replace it.
var newReportWriter = func(ctx context.Context, v *viper.Viper) (sheets.ReportWriter, error) {
	cfg, err := config.LoadSheetsConfig(v)
	if err != nil {
		return nil, err
	}
	writer, err := sheets.NewWriter(ctx, *cfg)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

func exportCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "export SESSION_ID",
		Short: "Export a reconciliation report to Google Sheets",
		Long: `Write a session's summary, exceptions, outstanding items and matches to
a Google Sheets spreadsheet. Configure sheets.spreadsheet_id to update an
existing spreadsheet; otherwise a new one is created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := rt.service(ctx)
			if err != nil {
				return err
			}

			result, err := unwrap(svc.GetReconciliationSession(ctx, rt.principal(), args[0]))
			if err != nil {
				return err
			}
			if result.Summary == nil {
				return fmt.Errorf("session %s has no summary to export", args[0])
			}
			matches, err := unwrap(svc.GetReconciliationMatches(ctx, rt.principal(), model.MatchFilter{SessionID: args[0]}))
			if err != nil {
				return err
			}

			writer, err := newReportWriter(ctx, rt.v)
			if err != nil {
				return err
			}
			id, err := writer.Write(ctx, &sheets.Report{Session: result.Session, Summary: result.Summary, Matches: matches})
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), map[string]string{"spreadsheet_id": id}, func() string {
				return cli.FormatSuccess("Exported to https://docs.google.com/spreadsheets/d/" + id)
			})
		},
	}
}

func sheetsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Google Sheets integration",
	}
	cmd.AddCommand(sheetsAuthCmd(rt))
	return cmd
}

func sheetsAuthCmd(rt *runtime) *cobra.Command {
	var (
		tokenFile string
		addr      string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Sheets access with OAuth2",
		Long: `Run the OAuth2 browser flow with sheets.client_id and
sheets.client_secret and save the token. Put the printed refresh token in
sheets.refresh_token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clientID := rt.v.GetString("sheets.client_id")
			secret := rt.v.GetString("sheets.client_secret")
			if clientID == "" || secret == "" {
				return fmt.Errorf("sheets.client_id and sheets.client_secret must be configured")
			}
			if tokenFile == "" {
				tokenFile = filepath.Join(filepath.Dir(rt.cfg.Database.Path), "sheets_token.json")
			}

			token, err := sheets.Authenticate(cmd.Context(), sheets.OAuth2Config{
				ClientID:     clientID,
				ClientSecret: secret,
				TokenFile:    tokenFile,
				CallbackAddr: addr,
				Timeout:      timeout,
			})
			if err != nil {
				return err
			}
			if err := sheets.SaveToken(tokenFile, token); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess("Token saved to "+tokenFile))
			fmt.Fprintln(out, "refresh_token: "+token.RefreshToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenFile, "token-file", "", "where to keep the OAuth2 token")
	cmd.Flags().StringVar(&addr, "callback-addr", "localhost:8080", "address for the OAuth2 callback")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the browser flow")
	return cmd
}
