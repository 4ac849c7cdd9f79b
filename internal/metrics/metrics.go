package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speculator_rounds_total",
		Help: "Total number of draft/verify rounds completed",
	})

	TokensCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speculator_tokens_committed_total",
		Help: "Total number of tokens committed to generated output",
	})

	DraftedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speculator_drafted_total",
		Help: "Total number of draft tokens proposed",
	})

	AcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speculator_accepted_total",
		Help: "Total number of draft tokens accepted by the rejection sampler",
	})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speculator_generations_total",
		Help: "Total number of generations started, partitioned by terminal outcome",
	}, []string{"outcome"}) // done | error | canceled

	DraftLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speculator_draft_latency_ms",
		Help:    "Latency of a draft-model call across K positions",
		Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
	})

	VerifyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speculator_verify_latency_ms",
		Help:    "Latency of a target-model verification call",
		Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3200, 6400},
	})

	VerifyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speculator_verify_retries_total",
		Help: "Total number of target-model verification retries",
	})

	TargetErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speculator_target_errors_total",
		Help: "Total number of target-model errors by classification",
	}, []string{"class"}) // transient_remote | invalid_remote

	AcceptanceRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speculator_acceptance_rate",
		Help: "Rolling-window acceptance rate (accepted / drafted)",
	})

	EffectiveTPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speculator_effective_tokens_per_second",
		Help: "Rolling-window effective tokens/sec of the speculative pipeline",
	})

	BaselineTPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speculator_baseline_tokens_per_second",
		Help: "Rolling-window estimated tokens/sec of plain autoregressive decoding",
	})

	Speedup = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speculator_speedup",
		Help: "Rolling-window speedup (effective_tps / baseline_tps)",
	})

	ActiveGenerations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speculator_active_generations",
		Help: "Number of generations currently in flight",
	})

	SinkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speculator_sink_queue_depth",
		Help: "Number of buffered, not-yet-delivered events in the event sink",
	})
)

// ObserveRoundStats updates the counters that accumulate monotonically across a
// generation's lifetime. Gauge-valued rolling metrics are set separately from the
// MetricsTracker snapshot (see internal/speculator), since they require the full
// window, not a single round.
func ObserveRoundStats(kDrafted, acceptedCount, tokensCommitted int, draftLatencyMs, verifyLatencyMs float64) {
	RoundsTotal.Inc()
	DraftedTotal.Add(float64(kDrafted))
	AcceptedTotal.Add(float64(acceptedCount))
	TokensCommittedTotal.Add(float64(tokensCommitted))
	DraftLatency.Observe(draftLatencyMs)
	VerifyLatency.Observe(verifyLatencyMs)
}
