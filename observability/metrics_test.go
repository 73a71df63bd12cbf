package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLifecycleMetricsRecordOutcome(t *testing.T) {
	m := Lifecycle()
	before := testutil.ToFloat64(m.outcomes.WithLabelValues("swap", "confirmed"))
	m.RecordOutcome("swap", "confirmed")
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("swap", "confirmed")); got != before+1 {
		t.Fatalf("expected outcome counter to increase by one, got %v -> %v", before, got)
	}

	m.RecordTransition("")
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected empty state to be labelled unknown, got %v", got)
	}
}

func TestNilRecordersAreSafe(t *testing.T) {
	var (
		lifecycle *LifecycleMetrics
		wallet    *WalletMetrics
		chain     *ChainMetrics
		oracle    *OracleMetrics
		gateway   *gatewayMetrics
	)
	lifecycle.RecordOutcome("swap", "failed")
	lifecycle.ObservePolls(3)
	wallet.RecordEvent("disconnected")
	wallet.SessionOpened()
	chain.Observe("getTransaction", time.Second, nil)
	oracle.RecordFreshness("xlm", time.Minute)
	gateway.Observe("/v1/quote", "POST", 200, time.Millisecond)
}

func TestChainMetricsSplitOutcome(t *testing.T) {
	m := Chain()
	m.Observe("simulateTransaction", 10*time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(m.requests.WithLabelValues("simulateTransaction", "error")); got < 1 {
		t.Fatalf("expected error outcome to be recorded, got %v", got)
	}
}

func TestOracleMetricsNormaliseAsset(t *testing.T) {
	m := Oracle()
	m.RecordFreshness(" xlm ", 90*time.Second)
	if got := testutil.ToFloat64(m.freshness.WithLabelValues("XLM")); got != 90 {
		t.Fatalf("expected freshness 90s, got %v", got)
	}
}
