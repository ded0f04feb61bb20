package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when a pending answer is abandoned because
// the context ended.
var ErrInputCancelled = errors.New("input canceled")

type answer struct {
	line string
	err  error
}

// answerReader reads review answers line by line. A single goroutine owns the
// source, so a line that arrives after a cancelled read is handed to the next
// ReadLine call rather than dropped.
type answerReader struct {
	src     io.Reader
	start   sync.Once
	answers chan answer
}

func newAnswerReader(src io.Reader) *answerReader {
	return &answerReader{src: src, answers: make(chan answer)}
}

func (a *answerReader) scan() {
	defer close(a.answers)

	sc := bufio.NewScanner(a.src)
	for sc.Scan() {
		a.answers <- answer{line: strings.TrimSpace(sc.Text())}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	a.answers <- answer{err: err}
}

// ReadLine returns the next trimmed line. It returns io.EOF once input is
// exhausted and ErrInputCancelled when ctx ends first.
func (a *answerReader) ReadLine(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrInputCancelled
	}
	a.start.Do(func() { go a.scan() })

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case ans, ok := <-a.answers:
		if !ok {
			return "", io.EOF
		}
		return ans.line, ans.err
	}
}
