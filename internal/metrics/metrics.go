// Package metrics exposes the prometheus collectors ScalpGuard's components
// update directly: queue depth, signal outcomes, open positions and
// market-drop alerts. Everything is registered against a private Registry
// rather than the global default, so /metrics serves exactly this process's
// series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for ScalpGuard metrics.
var Registry = prometheus.NewRegistry()

var (
	// SignalsTotal counts signals by terminal (or pending) SignalLog status.
	SignalsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scalpguard",
			Subsystem: "signal",
			Name:      "total",
			Help:      "Total number of signals by SignalLog status",
		},
		[]string{"status"},
	)

	// QueueDepth tracks the PriorityQueue's current pending length.
	QueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scalpguard",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of validated signals currently queued",
		},
	)

	// ExecutorDrainDuration tracks how long one Executor drain cycle takes.
	ExecutorDrainDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scalpguard",
			Subsystem: "executor",
			Name:      "drain_duration_seconds",
			Help:      "Executor drain cycle duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	// PositionsOpen tracks open position count per broker.
	PositionsOpen = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scalpguard",
			Subsystem: "position",
			Name:      "open",
			Help:      "Number of open positions",
		},
		[]string{"broker", "side"},
	)

	// PositionsClosedTotal counts closes by reason.
	PositionsClosedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scalpguard",
			Subsystem: "position",
			Name:      "closed_total",
			Help:      "Total number of closed positions by close reason",
		},
		[]string{"reason"},
	)

	// DailyPnL tracks the running total P&L for the current UTC date.
	DailyPnL = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scalpguard",
			Subsystem: "risk",
			Name:      "daily_pnl_usd",
			Help:      "Running P&L for the current UTC trading date",
		},
	)

	// RiskPaused reports whether RiskAuthority has paused new trades (1) or not (0).
	RiskPaused = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scalpguard",
			Subsystem: "risk",
			Name:      "paused",
			Help:      "1 if RiskAuthority is currently paused, 0 otherwise",
		},
	)

	// DropAlertsTotal counts MarketDropDetector alerts by severity.
	DropAlertsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scalpguard",
			Subsystem: "marketdrop",
			Name:      "alerts_total",
			Help:      "Total number of drop alerts by severity",
		},
		[]string{"level"},
	)

	// AIVoteDuration tracks llmVotes ingestion latency per provider.
	AIVoteDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scalpguard",
			Subsystem: "ai",
			Name:      "vote_duration_seconds",
			Help:      "AI vote request duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 20},
		},
		[]string{"provider"},
	)

	// AIVoteErrorsTotal counts AI vote request failures per provider.
	AIVoteErrorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scalpguard",
			Subsystem: "ai",
			Name:      "vote_errors_total",
			Help:      "Total number of AI vote request errors",
		},
		[]string{"provider"},
	)
)

// RecordSignal increments the signal counter for a SignalLog status.
func RecordSignal(status string) {
	SignalsTotal.WithLabelValues(status).Inc()
}

// SetPositionsOpen sets the open-position gauge for a broker/side pair.
func SetPositionsOpen(broker, side string, count int) {
	PositionsOpen.WithLabelValues(broker, side).Set(float64(count))
}

// RecordPositionClosed increments the close-reason counter.
func RecordPositionClosed(reason string) {
	PositionsClosedTotal.WithLabelValues(reason).Inc()
}

// RecordDropAlert increments the drop-alert counter for a severity level.
func RecordDropAlert(level string) {
	DropAlertsTotal.WithLabelValues(level).Inc()
}

// RecordAIVote records an AI vote call's duration and whether it failed.
func RecordAIVote(provider string, seconds float64, failed bool) {
	AIVoteDuration.WithLabelValues(provider).Observe(seconds)
	if failed {
		AIVoteErrorsTotal.WithLabelValues(provider).Inc()
	}
}

// SetRiskPaused reflects RiskAuthority's pause state.
func SetRiskPaused(paused bool) {
	val := 0.0
	if paused {
		val = 1.0
	}
	RiskPaused.Set(val)
}

// Init registers the standard Go process collectors alongside the
// application-specific ones above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
