package observability

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	werrors "walletkit/core/errors"
	"walletkit/core/ids"
	"walletkit/core/quote"
	"walletkit/core/submit"
	"walletkit/resilience"
)

// WalletMetrics bundles every collector the wallet daemon exports. It
// implements the observer interfaces of the resilience, quote, ids and
// submit packages.
type WalletMetrics struct {
	calls        *prometheus.CounterVec
	callAttempts *prometheus.HistogramVec
	callLatency  *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
	queueWait    *prometheus.HistogramVec

	quotes *prometheus.CounterVec

	allocations *prometheus.CounterVec

	submissions       *prometheus.CounterVec
	submissionLatency *prometheus.HistogramVec
	transfers         *prometheus.CounterVec
	balances          *prometheus.GaugeVec

	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	_ resilience.Observer = (*WalletMetrics)(nil)
	_ quote.Observer      = (*WalletMetrics)(nil)
	_ ids.Observer        = (*WalletMetrics)(nil)
	_ submit.Observer     = (*WalletMetrics)(nil)
)

// NewWalletMetrics constructs the collectors and registers them with reg.
func NewWalletMetrics(reg prometheus.Registerer) (*WalletMetrics, error) {
	if reg == nil {
		return nil, fmt.Errorf("metrics: registerer required")
	}
	m := &WalletMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "resilience",
			Name:      "calls_total",
			Help:      "Outbound calls segmented by channel and outcome category.",
		}, []string{"channel", "outcome"}),
		callAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletkit",
			Subsystem: "resilience",
			Name:      "call_attempts",
			Help:      "Attempts made per outbound call.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"channel"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletkit",
			Subsystem: "resilience",
			Name:      "call_duration_seconds",
			Help:      "End to end latency of outbound calls including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "walletkit",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit state per channel (0 closed, 1 open, 2 half-open).",
		}, []string{"channel"}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletkit",
			Subsystem: "resilience",
			Name:      "queue_wait_seconds",
			Help:      "Time calls spend waiting for a rate limit permit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "quote",
			Name:      "results_total",
			Help:      "Quote attempts segmented by provider, pricing path and outcome.",
		}, []string{"provider", "source", "outcome"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "ids",
			Name:      "allocations_total",
			Help:      "Composite id allocations segmented by outcome.",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "submit",
			Name:      "submissions_total",
			Help:      "Submissions segmented by account variant and final state.",
		}, []string{"variant", "state"}),
		submissionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletkit",
			Subsystem: "submit",
			Name:      "submission_duration_seconds",
			Help:      "Time from building to the final state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"variant"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "submit",
			Name:      "transfers_total",
			Help:      "Accepted transfers segmented by asset.",
		}, []string{"asset"}),
		balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "walletkit",
			Subsystem: "account",
			Name:      "balance_nano",
			Help:      "Last observed native balance per managed account.",
		}, []string{"account"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP API requests segmented by route, method and outcome.",
		}, []string{"route", "method", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "HTTP API errors segmented by route, method and status code.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletkit",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP API handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "api",
			Name:      "throttles_total",
			Help:      "HTTP API requests rejected by throttling.",
		}, []string{"route", "reason"}),
	}
	for _, c := range []prometheus.Collector{
		m.calls, m.callAttempts, m.callLatency, m.breakerState, m.queueWait,
		m.quotes, m.allocations,
		m.submissions, m.submissionLatency, m.transfers, m.balances,
		m.requests, m.errors, m.latency, m.throttles,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return m, nil
}

// ObserveCall records a finished outbound call.
func (m *WalletMetrics) ObserveCall(channel, outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	channel = label(channel, "unknown")
	m.calls.WithLabelValues(channel, label(outcome, "unknown")).Inc()
	m.callAttempts.WithLabelValues(channel).Observe(float64(attempts))
	m.callLatency.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// ObserveBreakerState records a breaker transition.
func (m *WalletMetrics) ObserveBreakerState(channel string, state resilience.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(label(channel, "unknown")).Set(float64(state))
}

// ObserveQueueWait records how long a call waited for its permit.
func (m *WalletMetrics) ObserveQueueWait(channel string, wait time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.WithLabelValues(label(channel, "unknown")).Observe(wait.Seconds())
}

// ObserveQuote records one provider attempt.
func (m *WalletMetrics) ObserveQuote(provider string, source quote.Source, err error) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(label(provider, "unknown"), label(string(source), "unknown"), outcome(err)).Inc()
}

// RecordAllocation records a composite id allocation.
func (m *WalletMetrics) RecordAllocation(_ string, _ ids.CompositeID, err error) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome(err)).Inc()
}

// ObserveSubmission records the final state of a submission.
func (m *WalletMetrics) ObserveSubmission(variant string, state submit.State, elapsed time.Duration) {
	if m == nil {
		return
	}
	variant = label(variant, "unknown")
	m.submissions.WithLabelValues(variant, string(state)).Inc()
	m.submissionLatency.WithLabelValues(variant).Observe(elapsed.Seconds())
}

// RecordTransfer counts an accepted transfer of asset.
func (m *WalletMetrics) RecordTransfer(asset string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(labelAsset(asset)).Inc()
}

// RecordBalance updates the balance gauge for account.
func (m *WalletMetrics) RecordBalance(account string, balance *big.Int) {
	if m == nil {
		return
	}
	m.balances.WithLabelValues(label(account, "unknown")).Set(bigToFloat(balance))
}

// ObserveRequest records an API request. The status should be the one
// ultimately written to the client.
func (m *WalletMetrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = label(route, "unknown")
	method = label(method, "unknown")
	result := "success"
	if status >= 400 {
		result = "error"
		m.errors.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, result).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a throttled request. Reasons should be stable
// strings such as "rate_limit".
func (m *WalletMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(route, "unknown"), label(reason, "unspecified")).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return label(string(werrors.CategoryOf(err)), "unknown")
}

func label(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
