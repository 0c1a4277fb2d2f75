package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized Prometheus instrumentation surface for the
// trace analyzer and governance engine.
type Metrics struct {
	PipelineRuns          *prometheus.CounterVec
	PipelineDuration      *prometheus.HistogramVec
	EventsProcessed       prometheus.Counter
	ChainsBuilt           prometheus.Counter
	FindingsEmitted       *prometheus.CounterVec
	ClassifierDuration    *prometheus.HistogramVec
	ClassifierFallbacks   prometheus.Counter
	PolicyEvalDuration    prometheus.Histogram
	PolicyEvalOverBudget  prometheus.Counter
	VerdictCounter        *prometheus.CounterVec
	VaultSize             prometheus.Gauge
	VaultEvictions        prometheus.Counter
	AuditBufferDepth      prometheus.Gauge
	TrustScoreGauge       *prometheus.GaugeVec
}

// NewMetrics registers and returns a fresh Metrics instance against reg.
// Pass prometheus.NewRegistry() in tests to avoid global-registry
// collisions across cases.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_pipeline_runs_total",
			Help: "Number of trace-analyzer pipeline runs, labeled by outcome.",
		}, []string{"outcome"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_pipeline_duration_seconds",
			Help:    "Wall-clock duration of a full pipeline run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"mode"}),
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "governor_events_processed_total",
			Help: "Total normalized events consumed by the pipeline.",
		}),
		ChainsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Name: "governor_chains_built_total",
			Help: "Total conversation chains reconstructed.",
		}),
		FindingsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_findings_emitted_total",
			Help: "Total findings emitted, labeled by signal kind and severity.",
		}, []string{"kind", "severity"}),
		ClassifierDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_classifier_duration_seconds",
			Help:    "Classifier call latency, labeled by stage (triage|deep).",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		ClassifierFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "governor_classifier_fallbacks_total",
			Help: "Findings preserved with a null classification after a classifier failure or timeout.",
		}),
		PolicyEvalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "governor_policy_eval_duration_seconds",
			Help:    "Duration of a single policy evaluation call.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		PolicyEvalOverBudget: factory.NewCounter(prometheus.CounterOpts{
			Name: "governor_policy_eval_over_budget_total",
			Help: "Policy evaluations that exceeded maxEvalUs.",
		}),
		VerdictCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_verdicts_total",
			Help: "Governance verdicts, labeled by action.",
		}, []string{"action"}),
		VaultSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "governor_vault_entries",
			Help: "Current number of live entries in the redaction resolver vault.",
		}),
		VaultEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "governor_vault_evictions_total",
			Help: "Vault entries removed by TTL eviction.",
		}),
		AuditBufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "governor_audit_buffer_depth",
			Help: "Number of audit records currently buffered before flush.",
		}),
		TrustScoreGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_agent_trust_score",
			Help: "Current trust score per agent.",
		}, []string{"agent"}),
	}
}
