package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/vignette"
)

const namespace = "semdilemma"

// Metrics exports pipeline counters to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	runs              *prometheus.CounterVec
	cycles            prometheus.Histogram
	transitions       *prometheus.CounterVec
	verdicts          *prometheus.CounterVec
	noveltyRejections prometheus.Counter
	llmCalls          *prometheus.CounterVec
	llmDuration       *prometheus.HistogramVec
	llmTokens         *prometheus.CounterVec
}

// NewMetrics creates the pipeline metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		cycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_cycles",
			Help:      "Revisions performed per finished run.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State machine transitions.",
		}, []string{"from", "to"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviewer_verdicts_total",
			Help:      "Per-criterion reviewer verdicts by outcome.",
		}, []string{"reviewer", "outcome"}),
		noveltyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "novelty_rejections_total",
			Help:      "Candidates rejected as near-duplicates of the corpus.",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Completion calls by capability and outcome.",
		}, []string{"capability", "outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Completion call latency including retries and fallbacks.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"capability"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by completion calls.",
		}, []string{"capability", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.cycles, m.transitions, m.verdicts,
			m.noveltyRejections, m.llmCalls, m.llmDuration, m.llmTokens)
	}
	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status Status, cycles int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.cycles.Observe(float64(cycles))
}

// ObserveTransition records one state change.
func (m *Metrics) ObserveTransition(from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveVerdict records one reviewer verdict. Its signature matches
// review.WithVerdictHook.
func (m *Metrics) ObserveVerdict(reviewer string, r vignette.CriterionResult) {
	if m == nil {
		return
	}
	outcome := "fail"
	switch {
	case r.Indeterminate:
		outcome = "indeterminate"
	case r.Pass:
		outcome = "pass"
	}
	m.verdicts.WithLabelValues(reviewer, outcome).Inc()
}

// ObserveNoveltyRejection records a near-duplicate candidate.
func (m *Metrics) ObserveNoveltyRejection() {
	if m == nil {
		return
	}
	m.noveltyRejections.Inc()
}

// ObserveCall records a completion call. Its signature matches llm.CallObserver.
func (m *Metrics) ObserveCall(rec llm.CallRecord) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case rec.Err == nil:
	case llm.IsTransient(rec.Err):
		outcome = "transient"
	case llm.IsFatal(rec.Err):
		outcome = "fatal"
	default:
		outcome = "error"
	}
	m.llmCalls.WithLabelValues(rec.Capability, outcome).Inc()
	m.llmDuration.WithLabelValues(rec.Capability).Observe(rec.Duration.Seconds())
	m.llmTokens.WithLabelValues(rec.Capability, "prompt").Add(float64(rec.Usage.PromptTokens))
	m.llmTokens.WithLabelValues(rec.Capability, "completion").Add(float64(rec.Usage.CompletionTokens))
}
