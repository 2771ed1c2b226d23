// Package metrics exposes Prometheus instruments for decode runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// commits counts committed facts.
	// Labels: relation, mode
	commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uberts",
		Subsystem: "decode",
		Name:      "commits_total",
		Help:      "Facts committed by decode runs",
	}, []string{"relation", "mode"})

	// vetoes counts candidates rejected at commit time.
	// Labels: reason (constraint, threshold, oracle)
	vetoes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uberts",
		Subsystem: "decode",
		Name:      "vetoes_total",
		Help:      "Candidates rejected at commit time",
	}, []string{"reason"})

	// matches counts complete rule matches emitted by the matcher.
	matches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "uberts",
		Subsystem: "match",
		Name:      "matches_total",
		Help:      "Complete rule matches emitted",
	})

	// factsScanned counts facts examined while joining.
	factsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "uberts",
		Subsystem: "match",
		Name:      "facts_scanned_total",
		Help:      "Facts examined by the matcher",
	})

	// outcomes counts finished decode runs.
	// Labels: mode, outcome (done, budget_exceeded, error)
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uberts",
		Subsystem: "decode",
		Name:      "runs_total",
		Help:      "Decode runs by outcome",
	}, []string{"mode", "outcome"})

	// steps measures commits per decode run.
	// Labels: mode
	steps = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uberts",
		Subsystem: "decode",
		Name:      "steps",
		Help:      "Commits per decode run",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"mode"})

	// duration measures decode wall time.
	// Labels: mode
	duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uberts",
		Subsystem: "decode",
		Name:      "duration_seconds",
		Help:      "Decode run latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"mode"})

	// documents counts documents processed by the pipeline.
	// Labels: status (ok, error)
	documents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uberts",
		Subsystem: "pipeline",
		Name:      "documents_total",
		Help:      "Documents processed by the pipeline",
	}, []string{"status"})
)

// RecordCommit records one committed fact.
func RecordCommit(relation, mode string) {
	commits.WithLabelValues(relation, mode).Inc()
}

// RecordVeto records a rejected candidate.
//
// Inputs:
//
//	reason - "constraint", "threshold" or "oracle".
func RecordVeto(reason string) {
	vetoes.WithLabelValues(reason).Inc()
}

// RecordMatchWork adds matcher counters from one commit.
func RecordMatchWork(nMatches, nScanned int) {
	matches.Add(float64(nMatches))
	factsScanned.Add(float64(nScanned))
}

// RecordDecode records a finished decode run.
//
// Inputs:
//
//	mode - The decode mode name.
//	outcome - "done", "budget_exceeded" or "error".
//	nSteps - Commits made by the run.
//	durationSec - Wall time in seconds.
func RecordDecode(mode, outcome string, nSteps int, durationSec float64) {
	outcomes.WithLabelValues(mode, outcome).Inc()
	steps.WithLabelValues(mode).Observe(float64(nSteps))
	duration.WithLabelValues(mode).Observe(durationSec)
}

// RecordDocument records one pipeline document.
func RecordDocument(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	documents.WithLabelValues(status).Inc()
}
