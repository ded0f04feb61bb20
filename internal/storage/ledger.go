package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// InsertLedgerEntry stores a ledger entry mirrored from the external ledger.
func (s *SQLiteStorage) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return ErrNilParameter
	}
	if err := validateString(entry.LedgerAccountID, "ledgerAccountID"); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ledger_entries (
			id, ledger_account_id, organization_id, entry_number, entry_date, description, reference, total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.LedgerAccountID, entry.OrganizationID, entry.EntryNumber,
		entry.EntryDate, entry.Description, nullString(entry.Reference), entry.Total,
	)
	if err != nil {
		return wrapDB("insert ledger entry", err)
	}
	return nil
}

// ListLedgerEntriesForAccount returns a ledger account's entries ordered by
// date then entry number, giving the matcher a deterministic candidate order.
func (s *SQLiteStorage) ListLedgerEntriesForAccount(ctx context.Context, ledgerAccountID string) ([]model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if ledgerAccountID == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ledger_account_id, organization_id, entry_number, entry_date, description, reference, total
		FROM ledger_entries
		WHERE ledger_account_id = ?
		ORDER BY entry_date ASC, entry_number ASC, id ASC`, ledgerAccountID)
	if err != nil {
		return nil, wrapDB("list ledger entries", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		var entry model.LedgerEntry
		var description, reference sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.LedgerAccountID, &entry.OrganizationID, &entry.EntryNumber,
			&entry.EntryDate, &description, &reference, &entry.Total,
		); err != nil {
			return nil, wrapDB("scan ledger entry", err)
		}
		entry.Description = description.String
		entry.Reference = reference.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate ledger entries", err)
	}

	return entries, nil
}
