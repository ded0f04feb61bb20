package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrRateLimit indicates an upstream service asked us to slow down.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that every attempt failed.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// Backoff is an exponential retry policy for calls to external services
// such as Plaid and Google Sheets. Zero fields take the package defaults.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
}

// permanentError stops a retry loop immediately.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func (b Backoff) normalized() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Initial <= 0 {
		b.Initial = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = 2
	}
	return b
}

// wait is the pause after the given failed attempt, counting from 1. A rate
// limited call waits the full Max.
func (b Backoff) wait(attempt int, err error) time.Duration {
	if errors.Is(err, ErrRateLimit) {
		return b.Max
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Retry runs op until it succeeds, returns a Permanent error, ctx ends, or
// the attempts run out. The final error wraps ErrMaxRetries and the last cause.
func (b Backoff) Retry(ctx context.Context, name string, op func(context.Context) error) error {
	b = b.normalized()

	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == b.Attempts {
			return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrMaxRetries, b.Attempts, err)
		}

		d := b.wait(attempt, err)
		slog.Warn("Call failed, retrying",
			"call", name,
			"attempt", attempt,
			"of", b.Attempts,
			"wait", d,
			"error", err)

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
