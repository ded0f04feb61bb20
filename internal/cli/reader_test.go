package cli

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *answerReader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadLine(context.Background())
		if err == io.EOF {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestAnswerReader_Lines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "choices", input: "a\nr\ns\n", want: []string{"a", "r", "s"}},
		{name: "padded note", input: "  looks right  \n", want: []string{"looks right"}},
		{name: "blank note", input: "\n", want: []string{""}},
		{name: "windows line endings", input: "a\r\nq\r\n", want: []string{"a", "q"}},
		{name: "unterminated last line", input: "a\nq", want: []string{"a", "q"}},
		{name: "no input", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(t, newAnswerReader(strings.NewReader(tt.input))))
		})
	}
}

func TestAnswerReader_StaysAtEOF(t *testing.T) {
	r := newAnswerReader(strings.NewReader("a"))
	ctx := context.Background()

	_, err := r.ReadLine(ctx)
	require.NoError(t, err)

	for range 2 {
		_, err = r.ReadLine(ctx)
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestAnswerReader_Cancelled(t *testing.T) {
	t.Run("before reading", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newAnswerReader(strings.NewReader("a\n")).ReadLine(ctx)
		assert.ErrorIs(t, err, ErrInputCancelled)
	})

	t.Run("while waiting", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer func() { _ = pw.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := newAnswerReader(pr).ReadLine(ctx)
		assert.ErrorIs(t, err, ErrInputCancelled)
	})
}

func TestAnswerReader_KeepsLineAfterCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	r := newAnswerReader(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ReadLine(ctx)
	require.ErrorIs(t, err, ErrInputCancelled)

	go func() { _, _ = pw.Write([]byte("approve later\n")) }()

	line, err := r.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "approve later", line)
}
