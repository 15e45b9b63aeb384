package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects counters for conversation turn processing.
type Metrics struct {
	mu sync.Mutex

	turnTotal      atomic.Int64
	turnFailed     atomic.Int64
	synthSkipped   atomic.Int64
	conflictRetry  atomic.Int64
	sessionsOpened atomic.Int64

	durations    []time.Duration
	maxDurations int
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

var globalMetrics = NewMetrics(1000)

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// RecordSessionOpened records a session initialization.
func (m *Metrics) RecordSessionOpened() {
	m.sessionsOpened.Add(1)
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn() {
	m.turnTotal.Add(1)
}

// RecordTurnFailure records a failed turn.
func (m *Metrics) RecordTurnFailure() {
	m.turnFailed.Add(1)
}

// RecordSynthesisSkipped records a turn that committed without audio.
func (m *Metrics) RecordSynthesisSkipped() {
	m.synthSkipped.Add(1)
}

// RecordConflictRetry records an internal store-conflict retry.
func (m *Metrics) RecordConflictRetry() {
	m.conflictRetry.Add(1)
}

// RecordTurnDuration records a turn duration.
func (m *Metrics) RecordTurnDuration(duration time.Duration) {
	m.mu.Lock()
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
	m.mu.Unlock()
}

// Snapshot is a point-in-time view of the collected metrics.
type Snapshot struct {
	SessionsOpened   int64 `json:"sessions_opened"`
	TurnTotal        int64 `json:"turn_total"`
	TurnFailed       int64 `json:"turn_failed"`
	SynthesisSkipped int64 `json:"synthesis_skipped"`
	ConflictRetries  int64 `json:"conflict_retries"`
	AvgTurnMs        int64 `json:"avg_turn_ms"`
}

// GetSnapshot returns the current metric values.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.Lock()
	var total time.Duration
	for _, d := range m.durations {
		total += d
	}
	var avg int64
	if len(m.durations) > 0 {
		avg = (total / time.Duration(len(m.durations))).Milliseconds()
	}
	m.mu.Unlock()

	return Snapshot{
		SessionsOpened:   m.sessionsOpened.Load(),
		TurnTotal:        m.turnTotal.Load(),
		TurnFailed:       m.turnFailed.Load(),
		SynthesisSkipped: m.synthSkipped.Load(),
		ConflictRetries:  m.conflictRetry.Load(),
		AvgTurnMs:        avg,
	}
}
