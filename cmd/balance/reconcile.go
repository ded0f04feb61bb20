package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/app"
	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func reconcileCmd(rt *runtime) *cobra.Command {
	var opts model.ReconciliationOptions

	cmd := &cobra.Command{
		Use:   "reconcile ACCOUNT_ID STATEMENT_ID",
		Short: "Match a statement against the ledger",
		Long: `Run a reconciliation session for one imported statement. Flags override
the configured reconciliation defaults for this run only.

Press Ctrl+C to stop early; matches already written are kept and the
session is marked cancelled.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.ReconcileRequest{AccountID: args[0], StatementID: args[1]}

			merged := rt.cfg.ReconciliationOptions()
			flags := cmd.Flags()
			if flags.Changed("threshold") {
				merged.ConfidenceThreshold = opts.ConfidenceThreshold
			}
			if flags.Changed("amount-tolerance") {
				merged.AmountTolerance = opts.AmountTolerance
			}
			if flags.Changed("date-tolerance") {
				merged.DateTolerance = opts.DateTolerance
			}
			if flags.Changed("batch-size") {
				merged.BatchSize = opts.BatchSize
			}
			if flags.Changed("manual-review") {
				merged.RequireManualReview = opts.RequireManualReview
			}
			if merged != rt.cfg.ReconciliationOptions() {
				req.Options = &merged
			}
			return rt.reconcile(cmd, req)
		},
	}

	cmd.Flags().Float64Var(&opts.ConfidenceThreshold, "threshold", 0, "minimum confidence for a match")
	cmd.Flags().Float64Var(&opts.AmountTolerance, "amount-tolerance", 0, "upper limit on each rule's amount tolerance")
	cmd.Flags().IntVar(&opts.DateTolerance, "date-tolerance", 0, "upper limit on each rule's date tolerance in days")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "transactions per batch")
	cmd.Flags().BoolVar(&opts.RequireManualReview, "manual-review", false, "leave every match for manual review")
	return cmd
}

// reconcile runs req and renders the outcome. An interrupted run reports
// the cancelled session instead of failing.
func (rt *runtime) reconcile(cmd *cobra.Command, req app.ReconcileRequest) error {
	svc, err := rt.service(cmd.Context())
	if err != nil {
		return err
	}

	guard := cli.NewGuard(cmd.ErrOrStderr(), "Reconciliation")
	ctx, stop := guard.Watch(cmd.Context())
	defer stop()

	resp := svc.PerformReconciliation(ctx, rt.principal(), req)
	result, err := unwrap(resp)
	if err != nil && !(guard.Fired() && result != nil) {
		return err
	}

	return rt.print(cmd.OutOrStdout(), result, func() string {
		return cli.RenderSession(result.Session, result.Summary)
	})
}

func historyCmd(rt *runtime) *cobra.Command {
	var (
		filter     model.SessionFilter
		status     string
		since, til string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List reconciliation sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = model.SessionStatus(status)
			if since != "" {
				t, err := parseDate(since)
				if err != nil {
					return err
				}
				filter.Since = &t
			}
			if til != "" {
				t, err := parseDate(til)
				if err != nil {
					return err
				}
				filter.Until = &t
			}

			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := unwrap(svc.GetReconciliationHistory(cmd.Context(), rt.principal(), filter))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), sessions, func() string {
				return cli.RenderSessions(sessions)
			})
		},
	}

	cmd.Flags().StringVar(&filter.AccountID, "account", "", "only sessions for this account")
	cmd.Flags().StringVar(&status, "status", "", "only sessions in this status")
	cmd.Flags().StringVar(&since, "since", "", "sessions started on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&til, "until", "", "sessions started on or before (YYYY-MM-DD)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum sessions to list")
	return cmd
}

func sessionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "session SESSION_ID",
		Short: "Show a reconciliation session and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			result, err := unwrap(svc.GetReconciliationSession(cmd.Context(), rt.principal(), args[0]))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), result, func() string {
				return cli.RenderSession(result.Session, result.Summary)
			})
		},
	}
}

func matchesCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "List and review matches",
	}
	cmd.AddCommand(matchesListCmd(rt), matchesReviewCmd(rt), matchesExplainCmd(rt))
	return cmd
}

func matchFlags(cmd *cobra.Command, filter *model.MatchFilter, status *string) {
	cmd.Flags().StringVar(&filter.SessionID, "session", "", "only matches from this session")
	cmd.Flags().StringVar(&filter.RuleID, "rule", "", "only matches made by this rule")
	cmd.Flags().StringVar(status, "status", "", "only matches in this status")
	cmd.Flags().Float64Var(&filter.MinConfidence, "min-confidence", 0, "minimum confidence")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum matches")
}

func matchesListCmd(rt *runtime) *cobra.Command {
	var (
		filter model.MatchFilter
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = model.MatchStatus(status)
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			matches, err := unwrap(svc.GetReconciliationMatches(cmd.Context(), rt.principal(), filter))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), matches, func() string {
				return cli.RenderMatches(matches)
			})
		},
	}
	matchFlags(cmd, &filter, &status)
	return cmd
}

func matchesReviewCmd(rt *runtime) *cobra.Command {
	var (
		filter model.MatchFilter
		status string
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Approve or reject matches interactively",
		Long: `Walk through pending and review_required matches one at a time.
Approving or rejecting is recorded immediately; quitting keeps what was
decided so far.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = model.MatchStatus(status)
			ctx := cmd.Context()
			svc, err := rt.service(ctx)
			if err != nil {
				return err
			}
			matches, err := unwrap(svc.GetReconciliationMatches(ctx, rt.principal(), filter))
			if err != nil {
				return err
			}

			reviewer := cli.NewReviewer(cmd.InOrStdin(), cmd.OutOrStdout())
			stats, err := reviewer.Review(ctx, matches, func(ctx context.Context, d cli.Decision) error {
				_, err := unwrap(svc.UpdateMatchStatus(ctx, rt.principal(), app.UpdateMatchRequest{
					MatchID: d.MatchID,
					Status:  d.Status,
					Notes:   d.Notes,
				}))
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf(
				"Approved %d, rejected %d, skipped %d, failed %d",
				stats.Approved, stats.Rejected, stats.Skipped, stats.Failed)))
			return nil
		},
	}
	matchFlags(cmd, &filter, &status)
	return cmd
}

func matchesExplainCmd(rt *runtime) *cobra.Command {
	var req app.ExplainRequest

	cmd := &cobra.Command{
		Use:   "explain STATEMENT_ID",
		Short: "Show how each rule scores a statement's unreconciled lines",
		Long: `Score every active rule against every ledger candidate for the
statement's unreconciled lines without recording anything. The first
accepted pair is the one a reconciliation run would choose.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.StatementID = args[0]
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			explanations, err := unwrap(svc.ExplainMatches(cmd.Context(), rt.principal(), req))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), explanations, func() string {
				if len(explanations) == 0 {
					return cli.FormatInfo("Every line on the statement is reconciled")
				}
				parts := make([]string, 0, len(explanations))
				for _, ex := range explanations {
					parts = append(parts, cli.RenderEvaluations(ex.Transaction, ex.Evaluations))
				}
				return strings.Join(parts, "\n\n")
			})
		},
	}
	cmd.Flags().StringVar(&req.TransactionID, "transaction", "", "explain only this bank transaction, reconciled or not")
	return cmd
}
