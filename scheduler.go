package eigenkeeper

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// interTradeDelay is the fixed pause between sequential deployment-burst
// buys (spec §4.9 step 3: "≈ 5s").
const interTradeDelay = 5 * time.Second

// SchedulerConfig carries the process-level knobs spec §6 names.
type SchedulerConfig struct {
	PollInterval      time.Duration
	TradeConcurrency  int
	CycleGasBudget    *big.Float
	MinKeeperGas      *big.Int
	LowKeeperGas      *big.Int
	VaultRefillCap    *big.Int
	CircuitBreakerWindow    time.Duration
	CircuitBreakerThreshold int
}

// Scheduler is the Trade Scheduler core loop (spec §4.8). One Scheduler
// drives one vault-mediated chain; a second instance with VaultlessMode
// set drives the Monad sub-cycle, sharing the same per-eigen processing.
type Scheduler struct {
	cfg       SchedulerConfig
	store     Store
	gateway   Gateway
	wm        *WalletManager
	nonces    *NonceManager
	failures  *FailureTracker
	breaker   *CircuitBreaker
	alerts    AlertSink
	processor *EigenProcessor

	keeperAddr common.Address
	vaultAddr  common.Address

	VaultlessMode bool
}

// NewScheduler builds a Scheduler. processor does the actual per-eigen
// work (§4.9); the scheduler only orders and bounds it.
func NewScheduler(
	cfg SchedulerConfig,
	store Store,
	gateway Gateway,
	wm *WalletManager,
	nonces *NonceManager,
	alerts AlertSink,
	processor *EigenProcessor,
	keeperAddr, vaultAddr common.Address,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		gateway:   gateway,
		wm:        wm,
		nonces:    nonces,
		failures:  NewFailureTracker(alerts, spendRateDefaultThresholdPct),
		breaker:   NewCircuitBreaker(cfg.CircuitBreakerWindow, cfg.CircuitBreakerThreshold, alerts),
		alerts:    alerts,
		processor: processor,
		keeperAddr: keeperAddr,
		vaultAddr:  vaultAddr,
	}
}

// Run drives the scheduler's poll loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.RunCycle(ctx); err != nil {
			s.alerts.Emit(Alert{Level: AlertCritical, Kind: "cycle_error", Message: err.Error()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes exactly one scheduler cycle (spec §4.8 steps 1-8).
func (s *Scheduler) RunCycle(ctx context.Context) error {
	cycleStart := time.Now()

	if s.breaker.Tripped() {
		s.alerts.Emit(Alert{Level: AlertWarn, Kind: "circuit_breaker_open", Message: "skipping cycle start"})
		return nil
	}

	// 1. Snapshot active configs and assemble EigenState.
	configs, err := s.store.ListActiveEigenConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active eigens: %w", err)
	}
	states := make([]*EigenState, 0, len(configs))
	for _, cfg := range configs {
		state, err := s.processor.BuildState(ctx, cfg)
		if err != nil {
			s.alerts.Emit(Alert{Level: AlertWarn, EigenID: cfg.ID, Kind: "state_build_failed", Message: err.Error()})
			continue
		}
		states = append(states, state)
	}

	// 2. Self-healing first.
	for _, state := range states {
		s.processor.SelfHeal(ctx, state, s.keeperAddr, s.vaultAddr)
	}

	// 3. Keeper gas gate.
	keeperBalance, err := s.gateway.Balance(ctx, s.keeperAddr)
	if err != nil {
		return fmt.Errorf("failed to read keeper balance: %w", err)
	}
	if s.cfg.MinKeeperGas != nil && keeperBalance.Cmp(s.cfg.MinKeeperGas) < 0 {
		s.alerts.Emit(Alert{Level: AlertCritical, Kind: "keeper_gas_critical", Message: "keeper balance below minimum"})
		return nil
	}
	if s.cfg.LowKeeperGas != nil && keeperBalance.Cmp(s.cfg.LowKeeperGas) < 0 {
		s.alerts.Emit(Alert{Level: AlertWarn, Kind: "keeper_gas_low", Message: "keeper balance below warning threshold"})
	}

	// 4. Vault refill, sequential.
	if !s.VaultlessMode {
		for _, state := range states {
			s.refillVaultIfNeeded(ctx, state, keeperBalance)
		}
	}

	// 5. Sort by priority.
	sortByPriority(states)

	// 6. Reset nonce cache.
	s.nonces.ResetAll()

	// 7. Parallel per-eigen processing, bounded concurrency, settle-all.
	concurrency := s.cfg.TradeConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	gasBudget := NewGasBudget(s.cfg.CycleGasBudget)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	failureCount := 0
	var failureMu sync.Mutex

	for _, state := range states {
		state := state
		g.Go(func() error {
			if !gasBudget.CanAfford(cycleEstimate) {
				return nil // skip: cycle gas budget exhausted
			}
			err := s.processor.ProcessEigen(gctx, state, gasBudget, s.failures, s.keeperAddr, s.vaultAddr, s.VaultlessMode)
			if err != nil {
				failureMu.Lock()
				failureCount++
				failureMu.Unlock()
				s.breaker.RecordFailure()
				s.alerts.Emit(Alert{Level: AlertWarn, EigenID: state.Config.ID, Kind: "eigen_processing_error", Message: err.Error()})
			}
			return nil // per-eigen errors never abort the cycle (settle-all)
		})
	}
	_ = g.Wait()

	// 8. Cycle-summary alert.
	s.alerts.Emit(Alert{
		Level:   AlertInfo,
		Kind:    "cycle_summary",
		Message: fmt.Sprintf("processed %d eigens, %d failures, gas spent %s, duration %s", len(states), failureCount, gasBudget.Spent().Text('f', 6), time.Since(cycleStart)),
	})
	return nil
}

// cycleEstimate is the per-eigen gas estimate used by the cycle budget's
// can_afford check before processing starts; the actual spend is recorded
// afterward via gasBudget.RecordSpend inside ProcessEigen.
var cycleEstimate = big.NewFloat(0.002)

func (s *Scheduler) refillVaultIfNeeded(ctx context.Context, state *EigenState, keeperBalance *big.Int) {
	if s.cfg.VaultRefillCap == nil {
		return
	}
	vaultLow := state.NativeBalance != nil && state.NativeBalance.Sign() <= 0
	if !vaultLow {
		return
	}
	surplus := new(big.Int).Sub(keeperBalance, s.cfg.MinKeeperGas)
	if surplus.Sign() <= 0 {
		return
	}
	amount := new(big.Int).Set(s.cfg.VaultRefillCap)
	if amount.Cmp(surplus) > 0 {
		amount = surplus
	}
	if _, err := s.gateway.Transfer(ctx, s.wm.MasterAddress(), s.wm.MasterPrivateKey(), s.vaultAddr, amount); err != nil {
		s.alerts.Emit(Alert{Level: AlertWarn, EigenID: state.Config.ID, Kind: "vault_refill_failed", Message: err.Error()})
	}
}

// sortByPriority orders eigens deploying > actively-trading > idle;
// within a tier, larger native balance first (spec §4.8 step 5).
func sortByPriority(states []*EigenState) {
	tier := func(s *EigenState) int {
		agg := AggregatePositions(s.Positions)
		holding := agg.AmountRaw != nil && agg.AmountRaw.Sign() > 0
		if !holding {
			return 0 // deploying
		}
		if s.LastTradeAt != nil && time.Since(*s.LastTradeAt) < time.Hour {
			return 1 // actively trading
		}
		return 2 // idle
	}

	for i := 1; i < len(states); i++ {
		j := i
		for j > 0 {
			a, b := states[j-1], states[j]
			ta, tb := tier(a), tier(b)
			swap := false
			if ta > tb {
				swap = true
			} else if ta == tb {
				af, _ := a.NativeBalance.Float64()
				bf, _ := b.NativeBalance.Float64()
				if bf > af {
					swap = true
				}
			}
			if !swap {
				break
			}
			states[j-1], states[j] = states[j], states[j-1]
			j--
		}
	}
}
