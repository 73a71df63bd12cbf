package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics

	lifecycleMetricsOnce sync.Once
	lifecycleRegistry    *LifecycleMetrics

	walletMetricsOnce sync.Once
	walletRegistry    *WalletMetrics

	chainMetricsOnce sync.Once
	chainRegistry    *ChainMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Gateway returns the lazily-initialised metrics used by the HTTP gateway.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "defihub",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelOr(route, "unknown")
	method = labelOr(method, "unknown")
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *gatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(route, "unknown"), labelOr(reason, "unspecified")).Inc()
}

// LifecycleMetrics tracks contract calls from simulation to final outcome.
type LifecycleMetrics struct {
	outcomes    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	steps       *prometheus.HistogramVec
	polls       prometheus.Histogram
}

// Lifecycle returns the lifecycle metrics registry.
func Lifecycle() *LifecycleMetrics {
	lifecycleMetricsOnce.Do(func() {
		lifecycleRegistry = &LifecycleMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "lifecycle",
				Name:      "outcomes_total",
				Help:      "Final lifecycle outcomes segmented by operation kind and status.",
			}, []string{"kind", "status"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Lifecycle state transitions segmented by target state.",
			}, []string{"state"}),
			steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "defihub",
				Subsystem: "lifecycle",
				Name:      "step_duration_seconds",
				Help:      "Latency of individual lifecycle steps.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"step"}),
			polls: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "defihub",
				Subsystem: "lifecycle",
				Name:      "poll_attempts",
				Help:      "Number of status polls issued before a lifecycle settled.",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
			}),
		}
		prometheus.MustRegister(
			lifecycleRegistry.outcomes,
			lifecycleRegistry.transitions,
			lifecycleRegistry.steps,
			lifecycleRegistry.polls,
		)
	})
	return lifecycleRegistry
}

// RecordOutcome counts a finished lifecycle.
func (m *LifecycleMetrics) RecordOutcome(kind, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(labelOr(kind, "unknown"), labelOr(status, "unknown")).Inc()
}

// RecordTransition counts entry into state.
func (m *LifecycleMetrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(labelOr(state, "unknown")).Inc()
}

// ObserveStep records how long a named step took.
func (m *LifecycleMetrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(labelOr(step, "unknown")).Observe(d.Seconds())
}

// ObservePolls records how many polls a confirmation loop issued.
func (m *LifecycleMetrics) ObservePolls(attempts int) {
	if m == nil || attempts <= 0 {
		return
	}
	m.polls.Observe(float64(attempts))
}

// WalletMetrics tracks wallet session activity.
type WalletMetrics struct {
	events     *prometheus.CounterVec
	signatures *prometheus.CounterVec
	connected  prometheus.Gauge
}

// Wallet returns the wallet metrics registry.
func Wallet() *WalletMetrics {
	walletMetricsOnce.Do(func() {
		walletRegistry = &WalletMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "wallet",
				Name:      "events_total",
				Help:      "Wallet session events segmented by type.",
			}, []string{"event"}),
			signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "wallet",
				Name:      "signatures_total",
				Help:      "Signature requests segmented by outcome.",
			}, []string{"outcome"}),
			connected: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "defihub",
				Subsystem: "wallet",
				Name:      "sessions_connected",
				Help:      "Number of wallet sessions currently connected.",
			}),
		}
		prometheus.MustRegister(walletRegistry.events, walletRegistry.signatures, walletRegistry.connected)
	})
	return walletRegistry
}

// RecordEvent counts a session event such as "account_changed".
func (m *WalletMetrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(labelOr(event, "unknown")).Inc()
}

// RecordSignature counts a signing request by outcome ("signed", "rejected", "network_mismatch").
func (m *WalletMetrics) RecordSignature(outcome string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(labelOr(outcome, "unknown")).Inc()
}

// SessionOpened increments the connected sessions gauge.
func (m *WalletMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.connected.Inc()
}

// SessionClosed decrements the connected sessions gauge.
func (m *WalletMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.connected.Dec()
}

// ChainMetrics tracks outbound RPC traffic.
type ChainMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Chain returns the chain RPC metrics registry.
func Chain() *ChainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &ChainMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "chain",
				Name:      "requests_total",
				Help:      "Outbound RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "defihub",
				Subsystem: "chain",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for outbound RPC requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(chainRegistry.requests, chainRegistry.latency)
	})
	return chainRegistry
}

// Observe records the outcome of one RPC request.
func (m *ChainMetrics) Observe(method string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	method = labelOr(method, "unknown")
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// OracleMetrics tracks price freshness.
type OracleMetrics struct {
	freshness *prometheus.GaugeVec
	errors    *prometheus.CounterVec
}

// Oracle returns the oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "defihub",
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age of the most recent cached price per asset.",
			}, []string{"asset"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defihub",
				Subsystem: "oracle",
				Name:      "refresh_errors_total",
				Help:      "Failed price refreshes segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(oracleRegistry.freshness, oracleRegistry.errors)
	})
	return oracleRegistry
}

// RecordFreshness records the age of the cached price for asset.
func (m *OracleMetrics) RecordFreshness(asset string, age time.Duration) {
	if m == nil {
		return
	}
	m.freshness.WithLabelValues(labelAsset(asset)).Set(age.Seconds())
}

// RecordError counts a failed refresh for asset.
func (m *OracleMetrics) RecordError(asset string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(labelAsset(asset)).Inc()
}

func labelAsset(asset string) string {
	return labelOr(strings.ToUpper(asset), "UNKNOWN")
}

func labelOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
