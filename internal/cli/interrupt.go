package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Guard cancels a long-running command on SIGINT or SIGTERM. The run stops
// at its next batch boundary and keeps the matches it already wrote.
type Guard struct {
	out       io.Writer
	operation string
	signals   chan os.Signal
	fired     atomic.Bool
	once      sync.Once
}

// NewGuard creates a guard that reports to out.
func NewGuard(out io.Writer, operation string) *Guard {
	if out == nil {
		out = os.Stderr
	}
	return &Guard{out: out, operation: operation, signals: make(chan os.Signal, 1)}
}

// Watch returns a context cancelled by the first signal. Call stop when the
// command finishes to release the signal handler.
func (g *Guard) Watch(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	signal.Notify(g.signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-g.signals:
			g.fire(cancel)
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(g.signals)
		cancel()
	}
}

func (g *Guard) fire(cancel context.CancelFunc) {
	g.once.Do(func() {
		g.fired.Store(true)
		msg := "\n" + FormatWarning(g.operation+" interrupted") +
			"\n" + FormatInfo("Stopping after the current batch; matches already written are kept.") + "\n"
		if _, err := fmt.Fprint(g.out, msg); err != nil {
			slog.Warn("Failed to write interrupt notice", "error", err)
		}
		cancel()
	})
}

// Fired reports whether a signal cancelled the run.
func (g *Guard) Fired() bool {
	return g.fired.Load()
}
