package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_runs_started_total",
			Help: "Total number of research runs started",
		},
		[]string{"mode"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"mode", "decision"},
	)

	RunIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prospector_run_iterations",
			Help:    "Planning iterations consumed per run",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
	)

	// Phase metrics
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prospector_phase_duration_seconds",
			Help:    "Phase execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	PhaseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_phase_failures_total",
			Help: "Total number of phase-level fallback decisions",
		},
		[]string{"phase", "class"},
	)

	// Extraction pipeline metrics
	ExtractionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_extraction_attempts_total",
			Help: "Structured extraction attempts by stage",
		},
		[]string{"stage"},
	)

	ExtractionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_extraction_failures_total",
			Help: "Structured extractions exhausted into typed errors",
		},
		[]string{"stage"},
	)

	ExtractionFormatFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prospector_extraction_format_fallbacks_total",
			Help: "Strict schema mode rejections that fell back to JSON object mode",
		},
	)

	// Scope gate metrics
	GateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_gate_outcomes_total",
			Help: "Scope gate outcomes by reason",
		},
		[]string{"reason"},
	)

	// Deep-dive budget metrics
	BudgetCoercions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prospector_dive_budget_coercions_total",
			Help: "Deep-dive actions coerced to terminate for a missing target",
		},
	)

	BudgetTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prospector_dive_budget_truncations_total",
			Help: "Deep-dive actions dropped to honor the per-cycle ceiling",
		},
	)

	BudgetCrawlCaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prospector_dive_budget_crawl_caps_total",
			Help: "Crawl page counts capped at the safety ceiling",
		},
	)

	BudgetForcedTerminations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prospector_dive_budget_forced_terminations_total",
			Help: "Deep-dive cycles forced to terminate on an exhausted budget",
		},
	)

	// Research fan-out metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_search_requests_total",
			Help: "Search queries issued",
		},
		[]string{"status"},
	)

	ScrapeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_scrape_requests_total",
			Help: "Scrape and crawl requests issued",
		},
		[]string{"kind", "status"},
	)

	RelevanceChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_relevance_checks_total",
			Help: "Per-URL relevance check outcomes",
		},
		[]string{"outcome"},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prospector_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers",
		},
		[]string{"name", "outcome"},
	)
)

// RecordPhase records a completed phase invocation.
func RecordPhase(phase string, seconds float64) {
	PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordRunCompleted records a finished run with its terminal decision.
func RecordRunCompleted(mode, decision string, iterations int) {
	RunsCompleted.WithLabelValues(mode, decision).Inc()
	if iterations > 0 {
		RunIterations.Observe(float64(iterations))
	}
}
