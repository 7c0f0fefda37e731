package eigenkeeper

import (
	"math/big"
	"sync"
	"time"
)

// sellBlockThreshold is the number of consecutive sell failures that
// trips the cooldown.
const sellBlockThreshold = 3

// sellBlockCooldown is how long a tripped sell-block lasts since the last
// failure.
const sellBlockCooldown = 5 * time.Minute

// spendRateDefaultThresholdPct is the default hourly spend-rate alert
// threshold (spec §6 SPEND_RATE_THRESHOLD_PCT default 30).
const spendRateDefaultThresholdPct = 30.0

// FailureTracker owns the in-memory per-eigen sell-block and spend-tracker
// state the scheduler consults every cycle. Mutations happen only on the
// single cooperative loop or behind this mutex when per-eigen worker
// goroutines update them concurrently (design note §9).
type FailureTracker struct {
	mu            sync.Mutex
	sellFailures  map[string]*SellFailureState
	spend         map[string]*SpendTracker
	spendThresholdPct float64
	alerts        AlertSink
}

// NewFailureTracker builds a FailureTracker that emits alerts through
// sink and applies thresholdPct (use spendRateDefaultThresholdPct for the
// spec default) to the spend tracker.
func NewFailureTracker(sink AlertSink, thresholdPct float64) *FailureTracker {
	if thresholdPct <= 0 {
		thresholdPct = spendRateDefaultThresholdPct
	}
	return &FailureTracker{
		sellFailures:      make(map[string]*SellFailureState),
		spend:             make(map[string]*SpendTracker),
		spendThresholdPct: thresholdPct,
		alerts:            sink,
	}
}

// RecordSellFailure increments the consecutive-failure counter for eigenID
// and emits the structured alerts the state machine promises: a
// consecutive-failure alert exactly on the 3rd consecutive failure, and a
// sell-block alert exactly once per cooldown crossing.
func (ft *FailureTracker) RecordSellFailure(eigenID string, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	st, ok := ft.sellFailures[eigenID]
	if !ok {
		st = &SellFailureState{}
		ft.sellFailures[eigenID] = st
	}

	wasBlocked := ft.isBlockedLocked(st)
	st.ConsecutiveFailures++
	st.LastFailureAt = time.Now()
	st.LastError = truncate(errMsg, 200)

	if st.ConsecutiveFailures == sellBlockThreshold {
		ft.alerts.Emit(Alert{
			Level:   AlertCritical,
			EigenID: eigenID,
			Kind:    "consecutive_sell_failures",
			Message: st.LastError,
		})
	}

	if !wasBlocked && ft.isBlockedLocked(st) {
		ft.alerts.Emit(Alert{
			Level:   AlertCritical,
			EigenID: eigenID,
			Kind:    "sell_block_engaged",
			Message: st.LastError,
		})
	}
}

// RecordSellSuccess resets the consecutive-failure counter for eigenID.
func (ft *FailureTracker) RecordSellSuccess(eigenID string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if st, ok := ft.sellFailures[eigenID]; ok {
		st.ConsecutiveFailures = 0
		st.LastError = ""
	}
}

// IsBlocked reports whether eigenID is currently under a sell-block
// cooldown, clearing the counter on read once the cooldown has expired.
func (ft *FailureTracker) IsBlocked(eigenID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	st, ok := ft.sellFailures[eigenID]
	if !ok {
		return false
	}
	blocked := ft.isBlockedLocked(st)
	if !blocked && st.ConsecutiveFailures >= sellBlockThreshold {
		// cooldown just expired; reset the counter on read
		st.ConsecutiveFailures = 0
	}
	return blocked
}

func (ft *FailureTracker) isBlockedLocked(st *SellFailureState) bool {
	if st.ConsecutiveFailures < sellBlockThreshold {
		return false
	}
	return time.Now().Before(st.LastFailureAt.Add(sellBlockCooldown))
}

// RecordSpend adds amountSpent to eigenID's rolling-hour window, tracks
// the maximum vault balance observed in that window, and emits a
// high_spend_rate critical alert the first time spent/maxVault crosses
// the configured threshold within the window.
func (ft *FailureTracker) RecordSpend(eigenID string, amountSpent, currentVaultBalance *big.Float) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	st, ok := ft.spend[eigenID]
	now := time.Now()
	if !ok || now.Sub(st.WindowStart) > time.Hour {
		st = &SpendTracker{TotalSpent: new(big.Float), MaxVaultSeen: new(big.Float), WindowStart: now}
		ft.spend[eigenID] = st
	}

	st.TotalSpent = new(big.Float).Add(st.TotalSpent, amountSpent)
	if currentVaultBalance != nil && currentVaultBalance.Cmp(st.MaxVaultSeen) > 0 {
		st.MaxVaultSeen = currentVaultBalance
	}

	if st.MaxVaultSeen.Sign() <= 0 || st.Alerted {
		return
	}

	spentPct := new(big.Float).Quo(st.TotalSpent, st.MaxVaultSeen)
	spentPct.Mul(spentPct, big.NewFloat(100))
	pctF, _ := spentPct.Float64()
	if pctF >= ft.spendThresholdPct {
		st.Alerted = true
		ft.alerts.Emit(Alert{
			Level:   AlertCritical,
			EigenID: eigenID,
			Kind:    "high_spend_rate",
			Message: "hourly spend rate exceeded threshold",
		})
	}
}

// GasBudget is the per-cycle native-asset spend cap (spec §4.10).
type GasBudget struct {
	mu     sync.Mutex
	budget *big.Float
	spent  *big.Float
}

// NewGasBudget builds a GasBudget capped at budget native units.
func NewGasBudget(budget *big.Float) *GasBudget {
	return &GasBudget{budget: budget, spent: new(big.Float)}
}

// CanAfford reports whether spending an additional estimate would stay
// within the budget.
func (b *GasBudget) CanAfford(estimate *big.Float) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	projected := new(big.Float).Add(b.spent, estimate)
	return projected.Cmp(b.budget) <= 0
}

// RecordSpend commits used native units against the budget.
func (b *GasBudget) RecordSpend(used *big.Float) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent = new(big.Float).Add(b.spent, used)
}

// Spent returns the amount spent so far this cycle.
func (b *GasBudget) Spent() *big.Float {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Float).Copy(b.spent)
}

// CircuitBreaker is the cycle-level safety supplement described in
// SPEC_FULL.md: a rolling error-count window that, once it exceeds a
// threshold, stops new cycles from starting new eigen processing until
// the window rolls clear. Grounded on the teacher's own
// specs/001-liquidity-repositioning StrategyConfig.CircuitBreakerWindow /
// CircuitBreakerThreshold.
type CircuitBreaker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	failures  []time.Time
	tripped   bool
	alerts    AlertSink
}

// NewCircuitBreaker builds a breaker that trips once more than threshold
// failures occur within window.
func NewCircuitBreaker(window time.Duration, threshold int, sink AlertSink) *CircuitBreaker {
	return &CircuitBreaker{window: window, threshold: threshold, alerts: sink}
}

// RecordFailure registers one per-eigen processing error.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	cb.failures = append(cb.failures, now)
	cb.failures = pruneOlderThan(cb.failures, now.Add(-cb.window))

	if len(cb.failures) > cb.threshold && !cb.tripped {
		cb.tripped = true
		cb.alerts.Emit(Alert{
			Level:   AlertCritical,
			Kind:    "circuit_breaker_tripped",
			Message: "per-eigen error rate exceeded threshold within window",
		})
	}
}

// Tripped reports whether the breaker is currently open, clearing it once
// the failure window has rolled clear of the threshold.
func (cb *CircuitBreaker) Tripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = pruneOlderThan(cb.failures, time.Now().Add(-cb.window))
	if len(cb.failures) <= cb.threshold {
		cb.tripped = false
	}
	return cb.tripped
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
