// Package metrics keeps lightweight process counters for the /metrics
// endpoint. Counters are monotonic and safe for concurrent use.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates scan-pipeline counters.
type Metrics struct {
	startedAt time.Time

	ScansTotal    atomic.Int64
	ScansRejected atomic.Int64
	ScanErrors    atomic.Int64

	VerdictThreat     atomic.Int64
	VerdictSuspicious atomic.Int64
	VerdictSafe       atomic.Int64

	CacheHits   atomic.Int64
	CacheMisses atomic.Int64

	Stage2Runs          atomic.Int64
	Stage3Runs          atomic.Int64
	ClassifierFallbacks atomic.Int64
	PersistFailures     atomic.Int64
}

// New creates a metrics registry stamped with the process start time.
func New() *Metrics {
	return &Metrics{startedAt: time.Now().UTC()}
}

// RecordVerdict bumps the counter for a final verdict string.
func (m *Metrics) RecordVerdict(verdict string) {
	switch verdict {
	case "threat":
		m.VerdictThreat.Add(1)
	case "suspicious":
		m.VerdictSuspicious.Add(1)
	case "safe", "clean":
		m.VerdictSafe.Add(1)
	default:
		m.ScanErrors.Add(1)
	}
}

// Snapshot returns the current counter values for serialization.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"uptime_seconds":       time.Since(m.startedAt).Seconds(),
		"scans_total":          m.ScansTotal.Load(),
		"scans_rejected":       m.ScansRejected.Load(),
		"scan_errors":          m.ScanErrors.Load(),
		"verdict_threat":       m.VerdictThreat.Load(),
		"verdict_suspicious":   m.VerdictSuspicious.Load(),
		"verdict_safe":         m.VerdictSafe.Load(),
		"cache_hits":           m.CacheHits.Load(),
		"cache_misses":         m.CacheMisses.Load(),
		"stage2_runs":          m.Stage2Runs.Load(),
		"stage3_runs":          m.Stage3Runs.Load(),
		"classifier_fallbacks": m.ClassifierFallbacks.Load(),
		"persist_failures":     m.PersistFailures.Load(),
	}
}
