package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AnalyzeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "credit_analyze_latency_seconds",
		Help:    "Latency of full analysis requests",
		Buckets: prometheus.DefBuckets,
	})

	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_analyses_total",
		Help: "Analysis requests by outcome",
	}, []string{"outcome"})

	ExplanationRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credit_explanation_retries_total",
		Help: "Extra attempts against the explanation service",
	})

	FallbackFields = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credit_fallback_fields_total",
		Help: "Explanation fields filled from templates",
	})

	BackpressureRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credit_backpressure_rejections_total",
		Help: "Analyses rejected because the queue was full",
	})

	DedupHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credit_dedup_hits_total",
		Help: "Analyses that shared an in-flight explanation call",
	})

	TrainingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credit_training_active",
		Help: "Whether a training job is currently running",
	})
)

func Init() {
	prometheus.MustRegister(
		AnalyzeDuration,
		AnalysesTotal,
		ExplanationRetries,
		FallbackFields,
		BackpressureRejections,
		DedupHits,
		TrainingActive,
	)
}
