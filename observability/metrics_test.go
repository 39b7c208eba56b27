package observability

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	werrors "walletkit/core/errors"
	"walletkit/core/ids"
	"walletkit/core/quote"
	"walletkit/core/submit"
	"walletkit/resilience"
)

func TestWalletMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewWalletMetrics(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.ObserveCall("node@a", "success", 2, 30*time.Millisecond)
	m.ObserveBreakerState("node@a", resilience.StateOpen)
	m.ObserveQuote("ston", quote.SourceLive, nil)
	m.ObserveQuote("dedust", quote.SourceAMM, werrors.RateLimited(time.Second, nil))
	m.RecordAllocation("0:aa", ids.CompositeID{}, nil)
	m.ObserveSubmission("highload", submit.StateConfirmed, time.Second)
	m.RecordTransfer("ton")
	m.RecordBalance("0:aa", big.NewInt(1_500_000_000))
	m.ObserveRequest("/v1/quotes", http.MethodGet, http.StatusBadGateway, time.Millisecond)
	m.RecordThrottle("/v1/transfers", "")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"calls", testutil.ToFloat64(m.calls.WithLabelValues("node@a", "success")), 1},
		{"breaker", testutil.ToFloat64(m.breakerState.WithLabelValues("node@a")), 1},
		{"live quote", testutil.ToFloat64(m.quotes.WithLabelValues("ston", "live", "success")), 1},
		{"limited quote", testutil.ToFloat64(m.quotes.WithLabelValues("dedust", "amm", "rate_limit")), 1},
		{"allocations", testutil.ToFloat64(m.allocations.WithLabelValues("success")), 1},
		{"submissions", testutil.ToFloat64(m.submissions.WithLabelValues("highload", "confirmed")), 1},
		{"transfers", testutil.ToFloat64(m.transfers.WithLabelValues("TON")), 1},
		{"balance", testutil.ToFloat64(m.balances.WithLabelValues("0:aa")), 1.5e9},
		{"api errors", testutil.ToFloat64(m.errors.WithLabelValues("/v1/quotes", "GET", "502")), 1},
		{"throttles", testutil.ToFloat64(m.throttles.WithLabelValues("/v1/transfers", "unspecified")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, c.got, c.want)
		}
	}

	if _, err := NewWalletMetrics(reg); err == nil {
		t.Fatalf("registering twice should fail")
	}
	var nilMetrics *WalletMetrics
	nilMetrics.ObserveCall("x", "y", 1, 0)
}
