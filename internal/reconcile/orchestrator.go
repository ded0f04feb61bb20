// Package reconcile runs reconciliation sessions: it matches a statement's
// unreconciled bank transactions against the linked ledger account, persists
// the matches and records the session outcome.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/matching"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Request describes one reconciliation run.
type Request struct {
	AccountID   string
	StatementID string
	CreatedBy   string
	Options     model.ReconciliationOptions
}

// Orchestrator owns the session state machine and is the only writer of bank
// transaction reconciliation state.
type Orchestrator struct {
	repo    service.Repository
	matcher matching.Matcher
	cache   *cache.Cache
	now     func() time.Time
	logger  *slog.Logger
	workers int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMatcher replaces the default rule engine.
func WithMatcher(m matching.Matcher) Option {
	return func(o *Orchestrator) { o.matcher = m }
}

// WithCache sets the cache invalidated after each run.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithWorkers bounds matching parallelism. Values below 1 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator over repo.
func NewOrchestrator(repo service.Repository, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:    repo,
		matcher: matching.NewEngine(),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default().With("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// Reconcile runs a session for one statement. Invalid options and unknown
// accounts or statements fail before a session exists. Once the session is
// in progress any failure cancels it, records the error in its notes and is
// returned to the caller.
func (o *Orchestrator) Reconcile(ctx context.Context, req Request) (*model.ReconciliationSession, error) {
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}

	account, err := o.repo.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	statement, err := o.repo.GetStatement(ctx, req.StatementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load statement: %w", err)
	}
	if statement.AccountID != account.ID {
		return nil, common.NewFieldError("statement_id",
			fmt.Sprintf("statement %s does not belong to account %s", statement.ID, account.ID))
	}

	session := &model.ReconciliationSession{
		StartedAt:      o.now(),
		OrganizationID: account.OrganizationID,
		AccountID:      account.ID,
		StatementID:    statement.ID,
		Status:         model.SessionDraft,
		CreatedBy:      req.CreatedBy,
		Options:        req.Options,
	}
	if err := o.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	session.Status = model.SessionInProgress
	if err := o.repo.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	o.logger.Info("Started reconciliation session",
		"session_id", session.ID,
		"account_id", account.ID,
		"statement_id", statement.ID)

	if err := o.run(ctx, account, session); err != nil {
		o.cancel(session, err)
		o.invalidate(account.ID, statement.ID)
		return session, fmt.Errorf("failed to reconcile statement %s: %w", statement.ID, err)
	}

	o.invalidate(account.ID, statement.ID)
	return session, nil
}

// run covers loading, matching, persistence and the summary.
func (o *Orchestrator) run(ctx context.Context, account *model.BankAccount, session *model.ReconciliationSession) error {
	all, err := o.repo.ListTransactionsByStatement(ctx, session.StatementID)
	if err != nil {
		return fmt.Errorf("failed to load bank transactions: %w", err)
	}
	bank := make([]model.BankTransaction, 0, len(all))
	for _, txn := range all {
		if !txn.IsReconciled {
			bank = append(bank, txn)
		}
	}

	ledger, err := o.repo.ListLedgerEntriesForAccount(ctx, account.LedgerAccountID)
	if err != nil {
		return fmt.Errorf("failed to load ledger entries: %w", err)
	}

	rules, err := o.repo.ListActiveRules(ctx, account.OrganizationID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	rules = matching.CapTolerances(matching.OrderRules(rules),
		session.Options.AmountTolerance, session.Options.DateTolerance)

	matches, err := o.matchAll(ctx, bank, ledger, rules, session.Options)
	if err != nil {
		return err
	}

	for _, match := range matches {
		match.SessionID = session.ID
		if session.Options.RequireManualReview && match.Status == model.MatchAutoApproved {
			match.Status = model.MatchReviewRequired
		}
		if err := o.repo.InsertMatch(ctx, match); err != nil {
			return fmt.Errorf("failed to persist match: %w", err)
		}
		if match.Status == model.MatchAutoApproved {
			if err := o.repo.UpdateTransactionReconciled(ctx, match.BankTransactionID,
				match.LedgerTransactionID, match.ConfidenceScore); err != nil {
				return fmt.Errorf("failed to reconcile transaction %s: %w", match.BankTransactionID, err)
			}
		}
	}

	summary := Summarize(session.ID, bank, ledger, matches, o.now())
	if err := o.repo.InsertSummary(ctx, summary); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}

	completed := o.now()
	session.TotalTransactions = summary.TotalBankTransactions
	session.MatchedTransactions = summary.MatchedBankTransactions
	session.UnmatchedTransactions = summary.TotalBankTransactions - summary.MatchedBankTransactions
	session.VarianceAmount = summary.VarianceAmount
	session.CompletedAt = &completed
	session.Status = model.SessionCompleted
	if session.Options.RequireManualReview {
		session.Status = model.SessionReviewRequired
	}
	if err := o.repo.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}

	o.logger.Info("Completed reconciliation session",
		"session_id", session.ID,
		"status", session.Status,
		"matched", session.MatchedTransactions,
		"unmatched", session.UnmatchedTransactions,
		"rate", summary.ReconciliationRate)
	return nil
}

// matchAll evaluates bank transactions in chunks of the configured batch
// size. Within a chunk the matcher runs on a bounded worker pool; each result
// lands in its own slot so the outcome does not depend on scheduling. The
// context is checked between transactions, never during one.
func (o *Orchestrator) matchAll(ctx context.Context, bank []model.BankTransaction, ledger []model.LedgerEntry,
	rules []model.ReconciliationRule, opts model.ReconciliationOptions,
) ([]*model.ReconciliationMatch, error) {
	results := make([]*model.ReconciliationMatch, len(bank))

	for start := 0; start < len(bank); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(bank))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.workers)
		for i := start; i < end; i++ {
			g.Go(func() (err error) {
				if err := gctx.Err(); err != nil {
					return err
				}
				defer func() {
					if r := recover(); r != nil {
						err = common.NewError(common.CodeMatching,
							fmt.Sprintf("matching transaction %s", bank[i].ID), fmt.Errorf("%w: %v", common.ErrMatching, r))
					}
				}()

				match, ok := o.matcher.Match(bank[i], ledger, rules)
				if ok && match.ConfidenceScore >= opts.ConfidenceThreshold {
					results[i] = match
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	matches := make([]*model.ReconciliationMatch, 0, len(results))
	for _, m := range results {
		if m != nil {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// cancel records a failed run. The caller's context may be done, so the
// update runs on its own deadline.
func (o *Orchestrator) cancel(session *model.ReconciliationSession, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session.Status = model.SessionCancelled
	session.Notes = cause.Error()
	if err := o.repo.UpdateSession(ctx, session); err != nil {
		common.LogError(err, "Failed to cancel reconciliation session", common.Fields{
			"session_id": session.ID,
			"cause":      cause.Error(),
		})
		return
	}

	o.logger.Warn("Cancelled reconciliation session",
		"session_id", session.ID,
		"error", cause)
}

func (o *Orchestrator) invalidate(scopes ...string) {
	if o.cache == nil {
		return
	}
	for _, scope := range scopes {
		o.cache.Invalidate(cache.ScopePattern(scope))
	}
}

// Reviewable target statuses for ReviewMatch.
var reviewTargets = map[model.MatchStatus]bool{
	model.MatchApproved:       true,
	model.MatchRejected:       true,
	model.MatchReviewRequired: true,
}

// ErrAlreadyReviewed is returned when a match has a final decision.
var ErrAlreadyReviewed = errors.New("match already has a final decision")

// ReviewMatch records a human decision on a match. Approval reconciles the
// bank transaction. Approved, auto-approved and rejected matches are final.
func (o *Orchestrator) ReviewMatch(ctx context.Context, matchID string, status model.MatchStatus, reviewer, notes string) (*model.ReconciliationMatch, error) {
	if !reviewTargets[status] {
		return nil, common.NewFieldError("status", fmt.Sprintf("cannot set match status to %q", status))
	}

	match, err := o.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load match: %w", err)
	}
	if match.Status.IsAccepted() || match.Status == model.MatchRejected {
		return nil, common.NewError(common.CodeValidation,
			fmt.Sprintf("match %s is %s", match.ID, match.Status), ErrAlreadyReviewed)
	}

	// The bank transaction is claimed before the match is updated, so an
	// approval that loses to an earlier one leaves the match reviewable.
	if status == model.MatchApproved {
		err := o.repo.UpdateTransactionReconciled(ctx, match.BankTransactionID,
			match.LedgerTransactionID, match.ConfidenceScore)
		if errors.Is(err, common.ErrAlreadyReconciled) {
			return nil, common.NewError(common.CodeValidation,
				fmt.Sprintf("bank transaction %s is already reconciled", match.BankTransactionID), err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile transaction %s: %w", match.BankTransactionID, err)
		}
	}

	reviewed := o.now()
	match.Status = status
	match.ReviewedBy = reviewer
	match.ReviewedAt = &reviewed
	match.ReviewNotes = notes
	if err := o.repo.UpdateMatchStatus(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	if session, err := o.repo.GetSession(ctx, match.SessionID); err == nil {
		o.invalidate(session.AccountID, session.StatementID, session.ID)
	} else {
		common.LogWarn("Could not resolve session for cache invalidation", common.Fields{
			"match_id":   match.ID,
			"session_id": match.SessionID,
			"error":      err.Error(),
		})
	}

	o.logger.Info("Reviewed match",
		"match_id", match.ID,
		"status", status,
		"reviewer", reviewer)
	return match, nil
}
