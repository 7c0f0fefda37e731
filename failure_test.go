package eigenkeeper

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type capturingSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *capturingSink) Emit(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *capturingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = a.Kind
	}
	return out
}

func TestFailureTrackerBlocksAfterThreshold(t *testing.T) {
	sink := &capturingSink{}
	ft := NewFailureTracker(sink, 0)

	assert.False(t, ft.IsBlocked("eigen-1"))
	ft.RecordSellFailure("eigen-1", "rpc timeout")
	assert.False(t, ft.IsBlocked("eigen-1"))
	ft.RecordSellFailure("eigen-1", "rpc timeout")
	assert.False(t, ft.IsBlocked("eigen-1"))
	ft.RecordSellFailure("eigen-1", "rpc timeout")
	assert.True(t, ft.IsBlocked("eigen-1"))

	assert.Contains(t, sink.kinds(), "consecutive_sell_failures")
	assert.Contains(t, sink.kinds(), "sell_block_engaged")
}

func TestFailureTrackerSuccessResetsCounter(t *testing.T) {
	sink := &capturingSink{}
	ft := NewFailureTracker(sink, 0)

	ft.RecordSellFailure("eigen-1", "e1")
	ft.RecordSellFailure("eigen-1", "e2")
	ft.RecordSellSuccess("eigen-1")
	ft.RecordSellFailure("eigen-1", "e3")
	assert.False(t, ft.IsBlocked("eigen-1"))
}

func TestFailureTrackerSellBlockAlertFiresOnceOnly(t *testing.T) {
	sink := &capturingSink{}
	ft := NewFailureTracker(sink, 0)

	ft.RecordSellFailure("eigen-1", "e1")
	ft.RecordSellFailure("eigen-1", "e2")
	ft.RecordSellFailure("eigen-1", "e3")
	ft.RecordSellFailure("eigen-1", "e4")

	blockEngaged := 0
	for _, k := range sink.kinds() {
		if k == "sell_block_engaged" {
			blockEngaged++
		}
	}
	assert.Equal(t, 1, blockEngaged)
}

func TestFailureTrackerIndependentPerEigen(t *testing.T) {
	sink := &capturingSink{}
	ft := NewFailureTracker(sink, 0)

	ft.RecordSellFailure("eigen-1", "e1")
	ft.RecordSellFailure("eigen-1", "e2")
	ft.RecordSellFailure("eigen-1", "e3")
	assert.True(t, ft.IsBlocked("eigen-1"))
	assert.False(t, ft.IsBlocked("eigen-2"))
}

func TestFailureTrackerRecordSpendAlertsAtThreshold(t *testing.T) {
	sink := &capturingSink{}
	ft := NewFailureTracker(sink, 30.0)

	ft.RecordSpend("eigen-1", big.NewFloat(10), big.NewFloat(100))
	assert.NotContains(t, sink.kinds(), "high_spend_rate")

	ft.RecordSpend("eigen-1", big.NewFloat(25), big.NewFloat(100))
	assert.Contains(t, sink.kinds(), "high_spend_rate")
}

func TestFailureTrackerRecordSpendAlertsOnce(t *testing.T) {
	sink := &capturingSink{}
	ft := NewFailureTracker(sink, 30.0)

	ft.RecordSpend("eigen-1", big.NewFloat(40), big.NewFloat(100))
	ft.RecordSpend("eigen-1", big.NewFloat(40), big.NewFloat(100))

	count := 0
	for _, k := range sink.kinds() {
		if k == "high_spend_rate" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFailureTrackerRecordSpendTracksMaxVaultSeen(t *testing.T) {
	sink := &capturingSink{}
	ft := NewFailureTracker(sink, 30.0)

	// vault balance drops after a withdrawal; spend% should still be
	// measured against the highest balance observed in the window.
	ft.RecordSpend("eigen-1", big.NewFloat(5), big.NewFloat(100))
	ft.RecordSpend("eigen-1", big.NewFloat(5), big.NewFloat(10))
	assert.NotContains(t, sink.kinds(), "high_spend_rate")
}

func TestGasBudgetCanAffordWithinLimit(t *testing.T) {
	gb := NewGasBudget(big.NewFloat(0.05))
	assert.True(t, gb.CanAfford(big.NewFloat(0.03)))
	gb.RecordSpend(big.NewFloat(0.03))
	assert.True(t, gb.CanAfford(big.NewFloat(0.02)))
	assert.False(t, gb.CanAfford(big.NewFloat(0.021)))
}

func TestGasBudgetSpentTracksCommittedAmount(t *testing.T) {
	gb := NewGasBudget(big.NewFloat(1.0))
	gb.RecordSpend(big.NewFloat(0.25))
	gb.RecordSpend(big.NewFloat(0.25))
	spent, _ := gb.Spent().Float64()
	assert.InDelta(t, 0.5, spent, 1e-9)
}

func TestCircuitBreakerTripsOverThreshold(t *testing.T) {
	sink := &capturingSink{}
	cb := NewCircuitBreaker(time.Minute, 2, sink)

	cb.RecordFailure()
	assert.False(t, cb.Tripped())
	cb.RecordFailure()
	assert.False(t, cb.Tripped())
	cb.RecordFailure()
	assert.True(t, cb.Tripped())
	assert.Contains(t, sink.kinds(), "circuit_breaker_tripped")
}

func TestCircuitBreakerClearsOnceWindowRolls(t *testing.T) {
	sink := &capturingSink{}
	cb := NewCircuitBreaker(20*time.Millisecond, 1, sink)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Tripped())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, cb.Tripped())
}
