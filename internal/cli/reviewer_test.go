package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func reviewMatches() []model.ReconciliationMatch {
	return []model.ReconciliationMatch{
		{ID: "m1", Status: model.MatchPending, ConfidenceScore: 0.7},
		{ID: "m2", Status: model.MatchAutoApproved},
		{ID: "m3", Status: model.MatchReviewRequired},
		{ID: "m4", Status: model.MatchPending},
	}
}

func TestReviewer_Review(t *testing.T) {
	var out bytes.Buffer
	input := strings.NewReader("x\na\nlooks right\nr\n\ns\n")
	rv := NewReviewer(input, &out)

	var decisions []Decision
	stats, err := rv.Review(context.Background(), reviewMatches(), func(_ context.Context, d Decision) error {
		decisions = append(decisions, d)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, ReviewStats{Approved: 1, Rejected: 1, Skipped: 1}, stats)
	assert.Equal(t, []Decision{
		{MatchID: "m1", Status: model.MatchApproved, Notes: "looks right"},
		{MatchID: "m3", Status: model.MatchRejected},
	}, decisions)
	assert.Contains(t, out.String(), "Invalid choice")
	assert.NotContains(t, out.String(), "Match 2 of 4")
}

func TestReviewer_QuitAndEOF(t *testing.T) {
	rv := NewReviewer(strings.NewReader("q\n"), &bytes.Buffer{})
	stats, err := rv.Review(context.Background(), reviewMatches(), func(context.Context, Decision) error {
		t.Fatal("no decision expected")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ReviewStats{}, stats)

	rv = NewReviewer(strings.NewReader(""), &bytes.Buffer{})
	_, err = rv.Review(context.Background(), reviewMatches(), func(context.Context, Decision) error { return nil })
	assert.NoError(t, err)
}

func TestReviewer_ApplyFailureContinues(t *testing.T) {
	var out bytes.Buffer
	rv := NewReviewer(strings.NewReader("a\n\na\n\na\n\n"), &out)

	calls := 0
	stats, err := rv.Review(context.Background(), reviewMatches(), func(context.Context, Decision) error {
		calls++
		if calls == 1 {
			return errors.New("match already reviewed")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ReviewStats{Approved: 2, Failed: 1}, stats)
	assert.Contains(t, out.String(), "match already reviewed")
}

func TestReviewer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rv := NewReviewer(strings.NewReader("a\n"), &bytes.Buffer{})
	_, err := rv.Review(ctx, reviewMatches(), func(context.Context, Decision) error { return nil })
	assert.ErrorIs(t, err, ErrInputCancelled)
}
