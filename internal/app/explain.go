package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/matching"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// ExplainRequest selects the statement lines to explain. An empty
// TransactionID explains every unreconciled line.
type ExplainRequest struct {
	StatementID   string `json:"statement_id"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Explanation shows how each active rule scored one bank transaction against
// each ledger candidate. Chosen is the evaluation a reconciliation run would
// pick; ClearsThreshold reports whether it would survive the default
// confidence threshold.
type Explanation struct {
	Transaction     model.BankTransaction `json:"transaction"`
	Evaluations     []matching.Evaluation `json:"evaluations"`
	Chosen          *matching.Evaluation  `json:"chosen,omitempty"`
	ClearsThreshold bool                  `json:"clears_threshold"`
}

// ExplainMatches scores statement lines against the ledger without writing
// anything.
func (s *Service) ExplainMatches(ctx context.Context, rc RequestContext, req ExplainRequest) Response[[]Explanation] {
	return execute(ctx, s, rc, OpExplainMatches, func(ctx context.Context, resp *Response[[]Explanation]) error {
		if err := s.authorize(rc, OpExplainMatches, ""); err != nil {
			return err
		}
		if strings.TrimSpace(req.StatementID) == "" {
			return common.NewFieldError("statement_id", "is required")
		}

		statement, err := s.repo.GetStatement(ctx, req.StatementID)
		if err != nil {
			return fmt.Errorf("failed to get statement: %w", err)
		}
		account, err := s.repo.GetAccount(ctx, statement.AccountID)
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}
		if err := s.authorize(rc, OpExplainMatches, account.OrganizationID); err != nil {
			return err
		}

		lines, err := s.repo.ListTransactionsByStatement(ctx, statement.ID)
		if err != nil {
			return fmt.Errorf("failed to load bank transactions: %w", err)
		}
		ledger, err := s.repo.ListLedgerEntriesForAccount(ctx, account.LedgerAccountID)
		if err != nil {
			return fmt.Errorf("failed to load ledger entries: %w", err)
		}
		rules, err := s.repo.ListActiveRules(ctx, account.OrganizationID)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		if len(rules) == 0 {
			resp.Warnings = append(resp.Warnings, "organization has no active rules")
		}
		rules = matching.CapTolerances(rules, s.defaults.AmountTolerance, s.defaults.DateTolerance)

		explanations := []Explanation{}
		for _, txn := range lines {
			if req.TransactionID != "" && txn.ID != req.TransactionID {
				continue
			}
			if req.TransactionID == "" && txn.IsReconciled {
				continue
			}

			ex := Explanation{Transaction: txn, Evaluations: s.matcher.EvaluateAll(txn, ledger, rules)}
			for i := range ex.Evaluations {
				if ex.Evaluations[i].Accepted {
					ex.Chosen = &ex.Evaluations[i]
					ex.ClearsThreshold = ex.Chosen.Score >= s.defaults.ConfidenceThreshold
					break
				}
			}
			explanations = append(explanations, ex)
		}
		if req.TransactionID != "" && len(explanations) == 0 {
			return common.NewError(common.CodeNotFound,
				fmt.Sprintf("transaction %s is not on statement %s", req.TransactionID, statement.ID), common.ErrNotFound)
		}

		resp.Metadata.Total = len(explanations)
		resp.Data = explanations
		return nil
	})
}
