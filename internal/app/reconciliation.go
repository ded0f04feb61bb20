package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
)

// ReconcileRequest asks for a reconciliation run. Nil options take the
// service defaults.
type ReconcileRequest struct {
	Options     *model.ReconciliationOptions `json:"options,omitempty"`
	AccountID   string                       `json:"account_id"`
	StatementID string                       `json:"statement_id"`
}

// ReconcileResult is the outcome of a run.
type ReconcileResult struct {
	Session *model.ReconciliationSession `json:"session"`
	Summary *model.ReconciliationSummary `json:"summary,omitempty"`
}

// PerformReconciliation runs a session. A failed run still returns the
// cancelled session alongside the error.
func (s *Service) PerformReconciliation(ctx context.Context, rc RequestContext, req ReconcileRequest) Response[*ReconcileResult] {
	return execute(ctx, s, rc, OpPerformReconciliation, func(ctx context.Context, resp *Response[*ReconcileResult]) error {
		if err := s.authorize(rc, OpPerformReconciliation, ""); err != nil {
			return err
		}
		if req.AccountID == "" {
			return common.NewFieldError("account_id", "is required")
		}
		if req.StatementID == "" {
			return common.NewFieldError("statement_id", "is required")
		}

		account, err := s.repo.GetAccount(ctx, req.AccountID)
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}
		if err := s.authorize(rc, OpPerformReconciliation, account.OrganizationID); err != nil {
			return err
		}

		opts := s.defaults
		if req.Options != nil {
			opts = *req.Options
		}

		session, err := s.orchestrator.Reconcile(ctx, reconcile.Request{
			AccountID:   account.ID,
			StatementID: req.StatementID,
			CreatedBy:   rc.User.ID,
			Options:     opts,
		})
		s.invalidateEntities(account.OrganizationID, cache.EntitySessions, cache.EntityMatches, cache.EntityAnalytics)
		if session != nil {
			resp.Data = &ReconcileResult{Session: session}
		}
		if err != nil {
			return err
		}

		summary, err := s.repo.GetSummary(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to load summary: %w", err)
		}
		resp.Data.Summary = summary
		if n := len(summary.Exceptions); n > 0 {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%d exception(s) detected", n))
		}
		return nil
	})
}

// GetReconciliationHistory lists sessions, newest first.
func (s *Service) GetReconciliationHistory(ctx context.Context, rc RequestContext, filter model.SessionFilter) Response[[]model.ReconciliationSession] {
	return execute(ctx, s, rc, OpGetReconciliationHistory, func(ctx context.Context, resp *Response[[]model.ReconciliationSession]) error {
		filter.OrganizationID = orgOf(rc, filter.OrganizationID)
		if err := s.authorize(rc, OpGetReconciliationHistory, filter.OrganizationID); err != nil {
			return err
		}
		limit, err := pageSize(filter.Limit, filter.Offset)
		if err != nil {
			return err
		}
		filter.Limit = limit
		if filter.Since != nil && filter.Until != nil && filter.Until.Before(*filter.Since) {
			return common.NewFieldError("until", "must not be before since")
		}

		sessions, hit, err := cached(s, cache.Key(cache.EntitySessions, filter.OrganizationID, scopeOr(filter.AccountID), filter), cache.EntitySessions,
			func() ([]model.ReconciliationSession, error) {
				sessions, err := s.repo.ListSessions(ctx, filter)
				if err != nil {
					return nil, fmt.Errorf("failed to list sessions: %w", err)
				}
				if sessions == nil {
					sessions = []model.ReconciliationSession{}
				}
				return sessions, nil
			})
		if err != nil {
			return err
		}

		resp.Metadata.CacheHit = hit
		resp.Metadata.Total = len(sessions)
		resp.Data = sessions
		return nil
	})
}

// GetReconciliationSession returns one session with its summary. Sessions
// that never completed have no summary.
func (s *Service) GetReconciliationSession(ctx context.Context, rc RequestContext, id string) Response[*ReconcileResult] {
	return execute(ctx, s, rc, OpGetReconciliationSession, func(ctx context.Context, resp *Response[*ReconcileResult]) error {
		if err := s.authorize(rc, OpGetReconciliationSession, ""); err != nil {
			return err
		}
		if strings.TrimSpace(id) == "" {
			return common.NewFieldError("id", "is required")
		}

		session, err := s.repo.GetSession(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		if err := s.authorize(rc, OpGetReconciliationSession, session.OrganizationID); err != nil {
			return err
		}

		result := &ReconcileResult{Session: session}
		summary, err := s.repo.GetSummary(ctx, id)
		switch {
		case err == nil:
			result.Summary = summary
		case errors.Is(err, common.ErrNotFound):
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("session %s has no summary", id))
		default:
			return fmt.Errorf("failed to load summary: %w", err)
		}

		resp.Data = result
		return nil
	})
}

// GetReconciliationMatches lists matches of the caller's organization.
func (s *Service) GetReconciliationMatches(ctx context.Context, rc RequestContext, filter model.MatchFilter) Response[[]model.ReconciliationMatch] {
	return execute(ctx, s, rc, OpGetReconciliationMatches, func(ctx context.Context, resp *Response[[]model.ReconciliationMatch]) error {
		filter.OrganizationID = orgOf(rc, filter.OrganizationID)
		if err := s.authorize(rc, OpGetReconciliationMatches, filter.OrganizationID); err != nil {
			return err
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return common.NewFieldError("status", fmt.Sprintf("unknown match status %q", filter.Status))
		}
		if filter.MinConfidence < 0 || filter.MinConfidence > 1 {
			return common.NewFieldError("min_confidence", "must be between 0 and 1")
		}
		limit, err := pageSize(filter.Limit, filter.Offset)
		if err != nil {
			return err
		}
		filter.Limit = limit

		matches, hit, err := cached(s, cache.Key(cache.EntityMatches, filter.OrganizationID, scopeOr(filter.SessionID), filter), cache.EntityMatches,
			func() ([]model.ReconciliationMatch, error) {
				matches, err := s.repo.ListMatches(ctx, filter)
				if err != nil {
					return nil, fmt.Errorf("failed to list matches: %w", err)
				}
				if matches == nil {
					matches = []model.ReconciliationMatch{}
				}
				return matches, nil
			})
		if err != nil {
			return err
		}

		resp.Metadata.CacheHit = hit
		resp.Metadata.Total = len(matches)
		resp.Data = matches
		return nil
	})
}

// UpdateMatchRequest records a review decision.
type UpdateMatchRequest struct {
	MatchID string            `json:"match_id"`
	Status  model.MatchStatus `json:"status"`
	Notes   string            `json:"notes,omitempty"`
}

// UpdateMatchStatus approves, rejects or flags a match for review.
func (s *Service) UpdateMatchStatus(ctx context.Context, rc RequestContext, req UpdateMatchRequest) Response[*model.ReconciliationMatch] {
	return execute(ctx, s, rc, OpUpdateMatchStatus, func(ctx context.Context, resp *Response[*model.ReconciliationMatch]) error {
		if err := s.authorize(rc, OpUpdateMatchStatus, ""); err != nil {
			return err
		}
		if req.MatchID == "" {
			return common.NewFieldError("match_id", "is required")
		}

		match, err := s.repo.GetMatch(ctx, req.MatchID)
		if err != nil {
			return fmt.Errorf("failed to get match: %w", err)
		}
		session, err := s.repo.GetSession(ctx, match.SessionID)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		if err := s.authorize(rc, OpUpdateMatchStatus, session.OrganizationID); err != nil {
			return err
		}

		updated, err := s.orchestrator.ReviewMatch(ctx, match.ID, req.Status, rc.User.ID, req.Notes)
		if err != nil {
			return err
		}
		s.invalidateEntities(session.OrganizationID, cache.EntityMatches, cache.EntityAnalytics)

		resp.Data = updated
		return nil
	})
}

// AnalyticsRequest selects the sessions an analytics report covers.
type AnalyticsRequest struct {
	OrganizationID string `json:"organization_id,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
	Period         string `json:"period,omitempty"`
}

// GetReconciliationAnalytics reports on recent sessions.
func (s *Service) GetReconciliationAnalytics(ctx context.Context, rc RequestContext, req AnalyticsRequest) Response[*model.ReconciliationAnalytics] {
	return execute(ctx, s, rc, OpGetReconciliationAnalytics, func(ctx context.Context, resp *Response[*model.ReconciliationAnalytics]) error {
		org := orgOf(rc, req.OrganizationID)
		if err := s.authorize(rc, OpGetReconciliationAnalytics, org); err != nil {
			return err
		}
		if req.AccountID != "" {
			account, err := s.repo.GetAccount(ctx, req.AccountID)
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}
			if account.OrganizationID != org {
				return common.NewError(common.CodePermission,
					fmt.Sprintf("account %s is not in organization %s", account.ID, org), common.ErrPermissionDenied)
			}
		}

		report, err := s.analytics.Generate(ctx, org, req.AccountID, req.Period)
		if err != nil {
			return err
		}
		resp.Data = report
		resp.Metadata.Total = report.TotalSessions
		return nil
	})
}

// CreateReconciliationRule stores a rule for the caller's organization.
func (s *Service) CreateReconciliationRule(ctx context.Context, rc RequestContext, rule model.ReconciliationRule) Response[*model.ReconciliationRule] {
	return execute(ctx, s, rc, OpCreateReconciliationRule, func(ctx context.Context, resp *Response[*model.ReconciliationRule]) error {
		rule.OrganizationID = orgOf(rc, rule.OrganizationID)
		if err := s.authorize(rc, OpCreateReconciliationRule, rule.OrganizationID); err != nil {
			return err
		}
		if err := validateRule(&rule); err != nil {
			return err
		}

		rule.CreatedBy = rc.User.ID
		if err := s.repo.CreateRule(ctx, &rule); err != nil {
			return fmt.Errorf("failed to create rule: %w", err)
		}
		s.invalidateEntities(rule.OrganizationID, cache.EntityRules)

		if rule.Criteria.ApplicableCount() == 0 {
			resp.Warnings = append(resp.Warnings, "rule enables no criteria and will never match")
		}
		if !rule.IsActive {
			resp.Warnings = append(resp.Warnings, "rule is inactive")
		}
		resp.Data = &rule
		return nil
	})
}

func validateRule(rule *model.ReconciliationRule) error {
	unit := func(field string, v float64) error {
		if v < 0 || v > 1 {
			return common.NewFieldError(field, "must be between 0 and 1")
		}
		return nil
	}

	if strings.TrimSpace(rule.Name) == "" {
		return common.NewFieldError("name", "is required")
	}
	if rule.Priority < 0 {
		return common.NewFieldError("priority", "must not be negative")
	}
	if err := unit("confidence_threshold", rule.ConfidenceThreshold); err != nil {
		return err
	}
	if err := unit("min_confidence", rule.MinConfidence); err != nil {
		return err
	}
	if err := unit("description_similarity", rule.DescriptionSimilarity); err != nil {
		return err
	}
	if rule.AmountTolerance < 0 || rule.AmountTolerance > model.MaxAmountTolerance {
		return common.NewFieldError("amount_tolerance", "must be between 0 and 1000000")
	}
	if rule.DateTolerance < 0 || rule.DateTolerance > model.MaxDateTolerance {
		return common.NewFieldError("date_tolerance", "must be between 0 and 365 days")
	}
	return nil
}

func scopeOr(scope string) string {
	if scope == "" {
		return "all"
	}
	return scope
}
