// Package metrics exposes the Prometheus counters and histograms the
// Session Runtime emits as operational telemetry (§6: "no per-session
// logs beyond operational telemetry").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Kind discriminates the two session flavors for labeling.
type Kind string

const (
	KindEnrollment   Kind = "enrollment"
	KindVerification Kind = "verification"
)

// Outcome is the terminal result a session ends with.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Stage names the pipeline phases timed by PipelineLatency.
type Stage string

const (
	StageDecode  Stage = "decode"
	StageVAD     Stage = "vad"
	StageASR     Stage = "asr"
	StageSegment Stage = "segment"
	StageEmbed   Stage = "embed"
)

var (
	sessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voiceauth",
		Subsystem: "session",
		Name:      "started_total",
		Help:      "Sessions started, by kind.",
	}, []string{"kind"})

	sessionsTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voiceauth",
		Subsystem: "session",
		Name:      "terminal_total",
		Help:      "Sessions ended, by kind and terminal outcome.",
	}, []string{"kind", "outcome"})

	pipelineLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voiceauth",
		Subsystem: "pipeline",
		Name:      "stage_seconds",
		Help:      "Pipeline stage latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{sessionsStarted, sessionsTerminal, pipelineLatency} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// SessionStarted records the start of a session of kind k.
func SessionStarted(k Kind) {
	sessionsStarted.WithLabelValues(string(k)).Inc()
}

// SessionEnded records a session of kind k ending with outcome o.
func SessionEnded(k Kind, o Outcome) {
	sessionsTerminal.WithLabelValues(string(k), string(o)).Inc()
}

// ObserveStage records the duration in seconds a pipeline stage took.
func ObserveStage(s Stage, seconds float64) {
	pipelineLatency.WithLabelValues(string(s)).Observe(seconds)
}
