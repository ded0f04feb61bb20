package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// CreateRule creates a new reconciliation rule.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.ReconciliationRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	criteriaJSON, err := marshalJSON(rule.Criteria)
	if err != nil {
		return err
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = s.now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_rules (
			id, organization_id, name, description, priority, is_active, auto_approve,
			confidence_threshold, min_confidence, criteria, amount_tolerance, date_tolerance,
			description_similarity, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.OrganizationID, rule.Name, nullString(rule.Description), rule.Priority,
		rule.IsActive, rule.AutoApprove, rule.ConfidenceThreshold, rule.MinConfidence,
		criteriaJSON, rule.AmountTolerance, rule.DateTolerance, rule.DescriptionSimilarity,
		nullString(rule.CreatedBy), rule.CreatedAt,
	)
	if err != nil {
		return wrapDB("create rule", err)
	}

	return nil
}

// ListActiveRules retrieves an organization's active rules ordered by priority.
func (s *SQLiteStorage) ListActiveRules(ctx context.Context, organizationID string) ([]model.ReconciliationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, description, priority, is_active, auto_approve,
			confidence_threshold, min_confidence, criteria, amount_tolerance, date_tolerance,
			description_similarity, created_by, created_at
		FROM reconciliation_rules
		WHERE organization_id = ? AND is_active = 1
		ORDER BY priority DESC, created_at ASC, id ASC`, organizationID)
	if err != nil {
		return nil, wrapDB("list active rules", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.ReconciliationRule
	for rows.Next() {
		var rule model.ReconciliationRule
		var description, createdBy, criteriaJSON sql.NullString
		if err := rows.Scan(
			&rule.ID, &rule.OrganizationID, &rule.Name, &description, &rule.Priority,
			&rule.IsActive, &rule.AutoApprove, &rule.ConfidenceThreshold, &rule.MinConfidence,
			&criteriaJSON, &rule.AmountTolerance, &rule.DateTolerance, &rule.DescriptionSimilarity,
			&createdBy, &rule.CreatedAt,
		); err != nil {
			return nil, wrapDB("scan rule", err)
		}
		rule.Description = description.String
		rule.CreatedBy = createdBy.String
		if err := unmarshalJSON(criteriaJSON, &rule.Criteria); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate rules", err)
	}

	return rules, nil
}
