package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/council-ai/backend/pkg/circuitbreaker"
)

var (
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "council_evaluation_duration_seconds",
			Help:    "Council evaluation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"decision"},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_evaluations_total",
			Help: "Total number of council evaluations",
		},
		[]string{"status"},
	)

	EvaluatorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "council_evaluator_duration_seconds",
			Help:    "Per-category evaluator duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"category"},
	)

	EvaluatorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_evaluator_failures_total",
			Help: "Evaluator invocations replaced by a fallback vote",
		},
		[]string{"category", "reason"},
	)

	VerdictConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "council_verdict_confidence",
			Help:    "Overall verdict confidence",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LedgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_ledger_entries_total",
			Help: "Sealed ledger entries by payload kind",
		},
		[]string{"kind"},
	)

	MiningDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "council_ledger_mining_duration_seconds",
			Help:    "Proof-of-work mining duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		},
		[]string{"kind"},
	)

	MiningAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "council_ledger_mining_aborted_total",
			Help: "Seal attempts aborted by deadline",
		},
	)

	PendingSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "council_ledger_pending_records",
			Help: "Verdict summaries waiting to be sealed",
		},
	)

	ChainValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "council_ledger_chain_valid",
			Help: "1 if the last integrity check passed",
		},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_feedback_total",
			Help: "Human feedback records by kind",
		},
		[]string{"category", "kind"},
	)

	CategoryAccuracy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "council_category_accuracy",
			Help: "Running accuracy per category from human feedback",
		},
		[]string{"category"},
	)

	RetrainingSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_retraining_signals_total",
			Help: "Retraining signals emitted per category",
		},
		[]string{"category"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_llm_tokens_used",
			Help: "Total model tokens used by model-backed judges",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	PDCAEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_pdca_events_total",
			Help: "PDCA cycle events by kind",
		},
		[]string{"event"},
	)

	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_retries_total",
			Help: "Retried attempts per operation",
		},
		[]string{"operation"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "council_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)
)

func Init() {
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(EvaluatorDuration)
	prometheus.MustRegister(EvaluatorFailures)
	prometheus.MustRegister(VerdictConfidence)
	prometheus.MustRegister(LedgerEntries)
	prometheus.MustRegister(MiningDuration)
	prometheus.MustRegister(MiningAborts)
	prometheus.MustRegister(PendingSize)
	prometheus.MustRegister(ChainValid)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(CategoryAccuracy)
	prometheus.MustRegister(RetrainingSignals)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(PDCAEvents)
	prometheus.MustRegister(Retries)
	prometheus.MustRegister(BreakerState)
}

// RetryObserver returns a retry.Config.OnRetry hook counting attempts for operation.
func RetryObserver(operation string) func(int, error) {
	counter := Retries.WithLabelValues(operation)
	return func(int, error) { counter.Inc() }
}

// BreakerTransition is a circuitbreaker.Config.OnStateChange hook.
func BreakerTransition(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
