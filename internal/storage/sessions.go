package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const sessionColumns = `id, organization_id, account_id, statement_id, status, options,
	total_transactions, matched_transactions, unmatched_transactions, variance_amount,
	notes, created_by, started_at, completed_at`

// CreateSession inserts a new session in draft state.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *model.ReconciliationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}
	if session.AccountID == "" || session.StatementID == "" {
		return fmt.Errorf("%w: session missing account or statement", ErrInvalidEntity)
	}
	if session.Status == "" {
		session.Status = model.SessionDraft
	}
	if session.Status != model.SessionDraft {
		return fmt.Errorf("%w: sessions start as draft, got %s", ErrInvalidStatus, session.Status)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = s.now()
	}

	optionsJSON, err := marshalJSON(session.Options)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.OrganizationID, session.AccountID, session.StatementID,
		string(session.Status), optionsJSON, session.TotalTransactions, session.MatchedTransactions,
		session.UnmatchedTransactions, session.VarianceAmount, nullString(session.Notes),
		nullString(session.CreatedBy), session.StartedAt, nullTime(session.CompletedAt),
	)
	if err != nil {
		return wrapDB("create session", err)
	}

	return nil
}

// UpdateSession writes counters, notes and status. A status change must be a
// legal transition from the stored status.
func (s *SQLiteStorage) UpdateSession(ctx context.Context, session *model.ReconciliationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM reconciliation_sessions WHERE id = ?`, session.ID).Scan(&current)
	if err != nil {
		return notFound("session", session.ID, err)
	}

	from := model.SessionStatus(current)
	if from != session.Status && !from.CanTransition(session.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, from, session.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reconciliation_sessions
		SET status = ?, total_transactions = ?, matched_transactions = ?, unmatched_transactions = ?,
			variance_amount = ?, notes = ?, completed_at = ?
		WHERE id = ?`,
		string(session.Status), session.TotalTransactions, session.MatchedTransactions,
		session.UnmatchedTransactions, session.VarianceAmount, nullString(session.Notes),
		nullTime(session.CompletedAt), session.ID,
	)
	if err != nil {
		return wrapDB("update session", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapDB("commit session update", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*model.ReconciliationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM reconciliation_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		return nil, notFound("session", id, err)
	}
	return session, nil
}

// ListSessions returns sessions newest first.
func (s *SQLiteStorage) ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.ReconciliationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var conditions []string
	var args []any

	if filter.OrganizationID != "" {
		conditions = append(conditions, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, *filter.Until)
	}

	query := `SELECT ` + sessionColumns + ` FROM reconciliation_sessions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, id ASC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []model.ReconciliationSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, wrapDB("scan session", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate sessions", err)
	}

	return sessions, nil
}

func scanSession(row rowScanner) (*model.ReconciliationSession, error) {
	var session model.ReconciliationSession
	var status string
	var optionsJSON, notes, createdBy sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&session.ID, &session.OrganizationID, &session.AccountID, &session.StatementID,
		&status, &optionsJSON, &session.TotalTransactions, &session.MatchedTransactions,
		&session.UnmatchedTransactions, &session.VarianceAmount, &notes, &createdBy,
		&session.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = model.SessionStatus(status)
	session.Notes = notes.String
	session.CreatedBy = createdBy.String
	session.CompletedAt = timePtr(completedAt)
	if err := unmarshalJSON(optionsJSON, &session.Options); err != nil {
		return nil, err
	}

	return &session, nil
}

const matchColumns = `m.id, m.session_id, m.rule_id, m.bank_transaction_id, m.ledger_transaction_id,
	m.confidence_score, m.matched_criteria, m.status, m.amount_difference, m.date_difference_days,
	m.reviewed_by, m.reviewed_at, m.review_notes, m.created_at`

// InsertMatch stores a match produced by a session.
func (s *SQLiteStorage) InsertMatch(ctx context.Context, match *model.ReconciliationMatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatch(match); err != nil {
		return err
	}

	criteriaJSON, err := marshalJSON(match.MatchedCriteria)
	if err != nil {
		return err
	}

	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_matches (
			id, session_id, rule_id, bank_transaction_id, ledger_transaction_id,
			confidence_score, matched_criteria, status, amount_difference, date_difference_days,
			reviewed_by, reviewed_at, review_notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		match.ID, match.SessionID, nullString(match.RuleID), match.BankTransactionID,
		match.LedgerTransactionID, match.ConfidenceScore, criteriaJSON, string(match.Status),
		match.AmountDifference, match.DateDifferenceDays, nullString(match.ReviewedBy),
		nullTime(match.ReviewedAt), nullString(match.ReviewNotes), match.CreatedAt,
	)
	if err != nil {
		return wrapDB("insert match", err)
	}

	return nil
}

// GetMatch retrieves a match by ID.
func (s *SQLiteStorage) GetMatch(ctx context.Context, id string) (*model.ReconciliationMatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM reconciliation_matches m WHERE m.id = ?`, id)
	match, err := scanMatch(row)
	if err != nil {
		return nil, notFound("match", id, err)
	}
	return match, nil
}

// ListMatches returns matches in creation order.
func (s *SQLiteStorage) ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.ReconciliationMatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + matchColumns + ` FROM reconciliation_matches m`
	var conditions []string
	var args []any

	if filter.OrganizationID != "" {
		query += ` JOIN reconciliation_sessions s ON s.id = m.session_id`
		conditions = append(conditions, "s.organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "m.session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.RuleID != "" {
		conditions = append(conditions, "m.rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "m.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.MinConfidence > 0 {
		conditions = append(conditions, "m.confidence_score >= ?")
		args = append(args, filter.MinConfidence)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY m.created_at ASC, m.rowid ASC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB("list matches", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.ReconciliationMatch
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, wrapDB("scan match", err)
		}
		matches = append(matches, *match)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate matches", err)
	}

	return matches, nil
}

// UpdateMatchStatus records a review decision on a match.
func (s *SQLiteStorage) UpdateMatchStatus(ctx context.Context, match *model.ReconciliationMatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatch(match); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_matches
		SET status = ?, reviewed_by = ?, reviewed_at = ?, review_notes = ?
		WHERE id = ?`,
		string(match.Status), nullString(match.ReviewedBy), nullTime(match.ReviewedAt),
		nullString(match.ReviewNotes), match.ID,
	)
	if err != nil {
		return wrapDB("update match", err)
	}

	return requireAffected(result, "match", match.ID)
}

func scanMatch(row rowScanner) (*model.ReconciliationMatch, error) {
	var match model.ReconciliationMatch
	var ruleID, criteriaJSON, reviewedBy, reviewNotes sql.NullString
	var status string
	var reviewedAt sql.NullTime

	err := row.Scan(
		&match.ID, &match.SessionID, &ruleID, &match.BankTransactionID, &match.LedgerTransactionID,
		&match.ConfidenceScore, &criteriaJSON, &status, &match.AmountDifference,
		&match.DateDifferenceDays, &reviewedBy, &reviewedAt, &reviewNotes, &match.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	match.RuleID = ruleID.String
	match.Status = model.MatchStatus(status)
	match.ReviewedBy = reviewedBy.String
	match.ReviewedAt = timePtr(reviewedAt)
	match.ReviewNotes = reviewNotes.String
	if err := unmarshalJSON(criteriaJSON, &match.MatchedCriteria); err != nil {
		return nil, err
	}

	return &match, nil
}

// InsertSummary stores a session summary, replacing any previous one.
func (s *SQLiteStorage) InsertSummary(ctx context.Context, summary *model.ReconciliationSummary) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("%w: summary", ErrNilParameter)
	}
	if err := validateString(summary.SessionID, "sessionID"); err != nil {
		return err
	}

	payload, err := marshalJSON(summary)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reconciliation_summaries (
			session_id, payload, reconciliation_rate, variance_amount, generated_at
		) VALUES (?, ?, ?, ?, ?)`,
		summary.SessionID, payload, summary.ReconciliationRate, summary.VarianceAmount, summary.GeneratedAt,
	)
	if err != nil {
		return wrapDB("insert summary", err)
	}
	return nil
}

// GetSummary retrieves the summary for a session.
func (s *SQLiteStorage) GetSummary(ctx context.Context, sessionID string) (*model.ReconciliationSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "sessionID"); err != nil {
		return nil, err
	}

	var payload sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM reconciliation_summaries WHERE session_id = ?`, sessionID).Scan(&payload)
	if err != nil {
		return nil, notFound("summary", sessionID, err)
	}

	var summary model.ReconciliationSummary
	if err := unmarshalJSON(payload, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// InsertInsights persists an analytics snapshot.
func (s *SQLiteStorage) InsertInsights(ctx context.Context, insights *model.Insights) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if insights == nil {
		return fmt.Errorf("%w: insights", ErrNilParameter)
	}
	if err := validateString(insights.OrganizationID, "organizationID"); err != nil {
		return err
	}
	if insights.ID == "" {
		insights.ID = uuid.NewString()
	}
	if insights.GeneratedAt.IsZero() {
		insights.GeneratedAt = s.now()
	}

	payload, err := marshalJSON(insights.Analytics)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_insights (id, organization_id, account_id, period, payload, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		insights.ID, insights.OrganizationID, nullString(insights.AccountID), insights.Period,
		payload, insights.GeneratedAt,
	)
	if err != nil {
		return wrapDB("insert insights", err)
	}
	return nil
}

// CountInsights returns how many analytics snapshots an organization has.
func (s *SQLiteStorage) CountInsights(ctx context.Context, organizationID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return countQuery(ctx, s.db, "reconciliation_insights", "organization_id = ?", organizationID)
}

// TableCounts reports row counts for the main tables.
func (s *SQLiteStorage) TableCounts(ctx context.Context) (map[string]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, table := range []string{
		"bank_accounts", "bank_statements", "bank_transactions", "ledger_entries",
		"reconciliation_rules", "reconciliation_sessions", "reconciliation_matches",
	} {
		n, err := countQuery(ctx, s.db, table, "")
		if err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}
