package eigenkeeper

import (
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RandSource is the subset of *rand.Rand the decision engine needs, so
// tests can inject a deterministic sequence for scenario 4 of the spec
// (rng -> 10.0).
type RandSource interface {
	Float64() float64
}

// DefaultRand is a process-wide source seeded once at startup; decision
// tests should construct their own fixed RandSource instead of relying on
// this.
var DefaultRand RandSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// minNativeFloor is the balance, in native units, below which the engine
// treats a wallet as unable to afford a buy.
const minNativeFloor = 0.01

// deploymentMinThreshold is the native balance that must remain for the
// eigen to still be considered "deploying" once some wallets already hold
// tokens.
const deploymentMinThreshold = 0.05

// Decide runs the priority ladder (spec §4.5) against one eigen's current
// state and returns the action to take. The reactive-sell branch reads the
// detector's result from state.ExternalBuy; it is skipped when that is nil.
func Decide(state *EigenState, rng RandSource) Action {
	cfg := state.Config
	if cfg.Status != StatusActive {
		return NoAction("eigen_not_active")
	}

	agg := AggregatePositions(state.Positions)
	price := state.CurrentPrice
	if price == nil || price.Sign() <= 0 {
		return NoAction("no_price")
	}

	holding := agg.AmountRaw != nil && agg.AmountRaw.Sign() > 0

	// 1. Stop-loss.
	if holding {
		pnlPct := UnrealizedPnLPct(&agg, price)
		if pnlPct <= -cfg.StopLossPct {
			return Action{
				Sell: &SellAction{BaseAmount: new(big.Int).Set(agg.AmountRaw), Variant: SellStopLoss},
				Reason: fmt.Sprintf("stop_loss_triggered: %.1f%% <= -%.0f%%", pnlPct, cfg.StopLossPct),
			}
		}

		// 2. Profit-take.
		if pnlPct >= cfg.ProfitTargetPct {
			profitValue := new(big.Float).SetPrec(200).Sub(price, agg.EntryPrice)
			profitValue.Mul(profitValue, new(big.Float).SetPrec(200).SetInt(agg.AmountRaw))
			tokensF := new(big.Float).SetPrec(200).Quo(profitValue, price)
			tokens := new(big.Int)
			tokensF.Int(tokens)
			if tokens.Cmp(agg.AmountRaw) > 0 {
				tokens = new(big.Int).Set(agg.AmountRaw)
			}
			return Action{
				Sell: &SellAction{BaseAmount: tokens, Variant: SellProfitTake},
				Reason: fmt.Sprintf("profit_take_triggered: %.1f%% >= %.0f%%", pnlPct, cfg.ProfitTargetPct),
			}
		}
	}

	// 3. Reactive-sell.
	if cfg.ReactiveSellMode && state.Pool != nil && state.ExternalBuy != nil {
		sig := state.ExternalBuy
		if sig.BuyCount > 0 && sig.TotalBaseIn != nil && sig.TotalBaseIn.Sign() > 0 {
			sellValue := new(big.Float).SetPrec(200).Mul(sig.TotalBaseIn, big.NewFloat(cfg.ReactiveSellPct/100))
			tokensF := new(big.Float).SetPrec(200).Quo(sellValue, price)
			tokens := new(big.Int)
			tokensF.Int(tokens)
			if holding && tokens.Cmp(agg.AmountRaw) > 0 {
				tokens = new(big.Int).Set(agg.AmountRaw)
			}
			if !holding {
				tokens = new(big.Int)
			}
			if tokens.Sign() > 0 {
				return Action{
					Sell: &SellAction{BaseAmount: tokens, Variant: SellReactive},
					Reason: "reactive_sell_triggered",
				}
			}
		}
		nativeF, _ := state.NativeBalance.Float64()
		if nativeF > minNativeFloor {
			return NoAction("reactive_funded_no_mm")
		}
		// otherwise fall through to deployment/market-making below
	}

	// 4. Deployment phase.
	emptyWallets := 0
	anyHolds := false
	for _, w := range state.Wallets {
		held := walletHoldsToken(state.Positions, w.Address)
		if held {
			anyHolds = true
		} else {
			emptyWallets++
		}
	}
	nativeF, _ := state.NativeBalance.Float64()
	deploying := !anyHolds || (anyHolds && nativeF > deploymentMinThreshold)
	if deploying && emptyWallets > 0 {
		perWallet := 0.8 * nativeF / float64(emptyWallets)
		return Action{
			Buy:    &BuyAction{QuoteAmount: big.NewFloat(perWallet)},
			Reason: "deployment_phase_buy",
		}
	}

	// 5. Timing gate.
	if state.LastTradeAt != nil && cfg.TradeFrequencyPerHour > 0 {
		minGap := time.Duration(3600/cfg.TradeFrequencyPerHour) * time.Second
		if time.Since(*state.LastTradeAt) < minGap {
			return NoAction("timing_gate")
		}
	}

	// 6. Market-making, ratio-based with dead band. tokenValue must be in
	// the same decimal scale as NativeBalance (decimal ether, not wei),
	// so amount_raw is converted via weiToEther before pricing it.
	tokenValue := new(big.Float).SetPrec(200)
	if holding {
		tokenValue.Mul(new(big.Float).SetPrec(200).Set(weiToEther(agg.AmountRaw)), price)
	}
	denom := new(big.Float).SetPrec(200).Add(tokenValue, state.NativeBalance)
	ratio := 0.0
	if denom.Sign() > 0 {
		r := new(big.Float).SetPrec(200).Quo(tokenValue, denom)
		ratio, _ = r.Float64()
	}

	pct := cfg.OrderSizeMinPct + rng.Float64()*(cfg.OrderSizeMaxPct-cfg.OrderSizeMinPct)

	wantSell := false
	switch {
	case ratio > 0.90:
		wantSell = true
	case ratio < 0.70:
		wantSell = false
	default:
		wantSell = ratio > 0.80
	}

	if !wantSell {
		if nativeF < minNativeFloor {
			if ratio > 0.50 {
				wantSell = true
			} else {
				return NoAction("insufficient_native_balance")
			}
		}
	}

	if wantSell {
		if !holding {
			return NoAction("no_holdings_for_sell")
		}
		tokensF := new(big.Float).SetPrec(200).Mul(new(big.Float).SetPrec(200).SetInt(agg.AmountRaw), big.NewFloat(pct/100))
		tokens := new(big.Int)
		tokensF.Int(tokens)
		if tokens.Sign() <= 0 || tokens.Cmp(agg.AmountRaw) > 0 {
			return NoAction("insufficient_holdings")
		}
		return Action{
			Sell:   &SellAction{BaseAmount: tokens, Variant: SellPlain},
			Reason: "market_making_sell",
		}
	}

	amount := nativeF * pct / 100
	return Action{
		Buy:    &BuyAction{QuoteAmount: big.NewFloat(amount)},
		Reason: "market_making_buy",
	}
}

func walletHoldsToken(positions []TokenPosition, wallet common.Address) bool {
	for _, p := range positions {
		if p.Wallet == wallet && p.AmountRaw != nil && p.AmountRaw.Sign() > 0 {
			return true
		}
	}
	return false
}
