// Package monitor records operation timings in a bounded ring buffer.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of samples retained.
const DefaultCapacity = 1000

// Sample is one recorded operation.
type Sample struct {
	StartedAt time.Time     `json:"started_at"`
	Operation string        `json:"operation"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
}

// Stats summarizes samples for one operation or all of them.
type Stats struct {
	Operation       string        `json:"operation,omitempty"`
	Count           int           `json:"count"`
	SuccessCount    int           `json:"success_count"`
	ErrorCount      int           `json:"error_count"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	ErrorRate       float64       `json:"error_rate"`
}

// Monitor is safe for concurrent use.
type Monitor struct {
	now     func() time.Time
	logger  *slog.Logger
	samples []Sample
	next    int
	full    bool
	mu      sync.Mutex
}

// New creates a monitor retaining capacity samples.
func New(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Monitor{
		samples: make([]Sample, capacity),
		now:     time.Now,
		logger:  slog.Default().With("component", "monitor"),
	}
}

// Track runs fn and records its duration and outcome. The error from fn is
// returned unchanged.
func (m *Monitor) Track(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := m.now()
	err := fn(ctx)
	m.Record(Sample{
		StartedAt: start,
		Operation: operation,
		Duration:  m.now().Sub(start),
		Success:   err == nil,
		Error:     errorText(err),
	})
	return err
}

// Record stores a sample, dropping the oldest one once the buffer is full.
// It never panics.
func (m *Monitor) Record(s Sample) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Failed to record sample", "operation", s.Operation, "panic", fmt.Sprint(r))
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
}

// Samples returns retained samples oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Monitor) snapshot() []Sample {
	if !m.full {
		return append([]Sample(nil), m.samples[:m.next]...)
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

// Stats summarizes samples. An empty operation covers every sample.
func (m *Monitor) Stats(operation string) Stats {
	m.mu.Lock()
	samples := m.snapshot()
	m.mu.Unlock()

	stats := Stats{Operation: operation}
	var total time.Duration
	for _, s := range samples {
		if operation != "" && s.Operation != operation {
			continue
		}
		stats.Count++
		total += s.Duration
		if s.Duration > stats.MaxDuration {
			stats.MaxDuration = s.Duration
		}
		if s.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
	}

	if stats.Count > 0 {
		stats.AverageDuration = total / time.Duration(stats.Count)
		stats.ErrorRate = float64(stats.ErrorCount) / float64(stats.Count) * 100
	}
	return stats
}

// Operations returns per-operation stats sorted by name.
func (m *Monitor) Operations() []Stats {
	m.mu.Lock()
	samples := m.snapshot()
	m.mu.Unlock()

	seen := make(map[string]bool)
	var names []string
	for _, s := range samples {
		if !seen[s.Operation] {
			seen[s.Operation] = true
			names = append(names, s.Operation)
		}
	}
	sort.Strings(names)

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		out = append(out, m.Stats(name))
	}
	return out
}

// Reset drops every sample.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = make([]Sample, len(m.samples))
	m.next = 0
	m.full = false
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
