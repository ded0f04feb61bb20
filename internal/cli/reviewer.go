package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Decision is one review outcome for a match.
type Decision struct {
	MatchID string
	Status  model.MatchStatus
	Notes   string
}

// ReviewStats counts what a review session did.
type ReviewStats struct {
	Approved int
	Rejected int
	Skipped  int
	Failed   int
}

// Reviewer walks a user through pending matches one at a time.
type Reviewer struct {
	reader *answerReader
	writer io.Writer
}

// NewReviewer creates a reviewer reading choices from r.
func NewReviewer(r io.Reader, w io.Writer) *Reviewer {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &Reviewer{reader: newAnswerReader(r), writer: w}
}

var errQuit = errors.New("review quit")

// Review prompts for each match and hands approve/reject decisions to apply.
// A failed apply is reported and the review continues.
func (rv *Reviewer) Review(ctx context.Context, matches []model.ReconciliationMatch, apply func(context.Context, Decision) error) (ReviewStats, error) {
	var stats ReviewStats

	for i, m := range matches {
		if m.Status != model.MatchPending && m.Status != model.MatchReviewRequired {
			continue
		}

		rv.println(box(fmt.Sprintf("Match %d of %d", i+1, len(matches)), describeMatch(m)))
		rv.println("  [a] Approve  [r] Reject  [s] Skip  [q] Quit")

		choice, err := rv.promptChoice(ctx, "Choice", []string{"a", "r", "s", "q"})
		if err != nil {
			return stats, err
		}

		var status model.MatchStatus
		switch choice {
		case "a":
			status = model.MatchApproved
		case "r":
			status = model.MatchRejected
		case "s":
			stats.Skipped++
			continue
		case "q":
			return stats, nil
		}

		notes, err := rv.promptLine(ctx, "Notes (optional)")
		if errors.Is(err, errQuit) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		if err := apply(ctx, Decision{MatchID: m.ID, Status: status, Notes: notes}); err != nil {
			stats.Failed++
			rv.println(FormatError(err.Error()))
			continue
		}

		if status == model.MatchApproved {
			stats.Approved++
			rv.println(FormatSuccess("Approved"))
		} else {
			stats.Rejected++
			rv.println(FormatSuccess("Rejected"))
		}
	}

	return stats, nil
}

func describeMatch(m model.ReconciliationMatch) string {
	return fmt.Sprintf("Bank:       %s\nLedger:     %s\nRule:       %s\nConfidence: %.2f\nCriteria:   %s\nDifference: %s, %d days",
		m.BankTransactionID,
		m.LedgerTransactionID,
		m.RuleID,
		m.ConfidenceScore,
		strings.Join(m.MatchedCriteria, ", "),
		amount(m.AmountDifference),
		m.DateDifferenceDays)
}

func (rv *Reviewer) println(s string) {
	if _, err := fmt.Fprintln(rv.writer, s); err != nil {
		slog.Warn("Failed to write review output", "error", err)
	}
}

func (rv *Reviewer) promptLine(ctx context.Context, label string) (string, error) {
	if _, err := fmt.Fprint(rv.writer, prompt(label)); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	line, err := rv.reader.ReadLine(ctx)
	if errors.Is(err, io.EOF) {
		return "", errQuit
	}
	return line, err
}

func (rv *Reviewer) promptChoice(ctx context.Context, label string, valid []string) (string, error) {
	for {
		input, err := rv.promptLine(ctx, label)
		if errors.Is(err, errQuit) {
			return "q", nil
		}
		if err != nil {
			return "", err
		}

		choice := strings.ToLower(input)
		for _, v := range valid {
			if choice == v {
				return choice, nil
			}
		}
		rv.println(FormatError("Invalid choice. Please try again."))
	}
}
