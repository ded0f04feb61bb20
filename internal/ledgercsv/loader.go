// Package ledgercsv loads ledger entries exported from the general ledger as
// CSV into the reference store.
package ledgercsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Column names. entry_date and total are required, the rest optional.
const (
	ColID          = "id"
	ColEntryDate   = "entry_date"
	ColEntryNumber = "entry_number"
	ColDescription = "description"
	ColReference   = "reference"
	ColTotal       = "total"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006"}

// Loader reads ledger CSV files.
type Loader struct {
	store  service.LedgerStore
	logger *slog.Logger
}

// NewLoader creates a loader writing into store.
func NewLoader(store service.LedgerStore) *Loader {
	return &Loader{
		store:  store,
		logger: slog.Default().With("component", "ledgercsv"),
	}
}

// Parse reads entries for one ledger account. The first row is the header;
// column order is free.
func Parse(r io.Reader, ledgerAccountID, organizationID string) ([]model.LedgerEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, invalidFormat("file is empty", nil)
	}
	if err != nil {
		return nil, invalidFormat("failed to read header", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{ColEntryDate, ColTotal} {
		if _, ok := cols[required]; !ok {
			return nil, invalidFormat(fmt.Sprintf("missing %s column", required), nil)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var entries []model.LedgerEntry
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalidFormat(fmt.Sprintf("line %d", line), err)
		}

		date, err := parseDate(field(row, ColEntryDate))
		if err != nil {
			return nil, invalidFormat(fmt.Sprintf("line %d entry_date", line), err)
		}
		total, err := decimal.NewFromString(strings.ReplaceAll(field(row, ColTotal), ",", ""))
		if err != nil {
			return nil, invalidFormat(fmt.Sprintf("line %d total", line), err)
		}

		entries = append(entries, model.LedgerEntry{
			EntryDate:       date,
			ID:              field(row, ColID),
			LedgerAccountID: ledgerAccountID,
			OrganizationID:  organizationID,
			EntryNumber:     field(row, ColEntryNumber),
			Description:     field(row, ColDescription),
			Reference:       field(row, ColReference),
			Total:           total.Round(2).InexactFloat64(),
		})
	}

	return entries, nil
}

// Load parses r and stores every entry. Entries with an id replace the stored
// entry with the same id. It returns the number stored.
func (l *Loader) Load(ctx context.Context, r io.Reader, ledgerAccountID, organizationID string) (int, error) {
	if strings.TrimSpace(ledgerAccountID) == "" {
		return 0, common.NewFieldError("ledger_account_id", "is required")
	}

	entries, err := Parse(r, ledgerAccountID, organizationID)
	if err != nil {
		return 0, err
	}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := l.store.InsertLedgerEntry(ctx, &entries[i]); err != nil {
			return i, fmt.Errorf("failed to store ledger entry %d: %w", i+1, err)
		}
	}

	l.logger.Info("Loaded ledger entries",
		"ledger_account_id", ledgerAccountID,
		"entries", len(entries))
	return len(entries), nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func invalidFormat(msg string, err error) error {
	if err != nil {
		err = fmt.Errorf("%w: %w", common.ErrInvalidFormat, err)
	} else {
		err = common.ErrInvalidFormat
	}
	return common.NewError(common.CodeInvalidFormat, "ledger CSV: "+msg, err)
}
