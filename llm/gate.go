package llm

import (
	"context"
	"math/big"

	keeper "github.com/eigenlabs/eigenkeeper"
)

// Gate adapts an Evaluator to keeper.AIGate, building the EvalContext the
// Evaluator needs from the chain/store state the scheduler already
// assembled into an EigenState, plus a short history pulled from the
// store.
type Gate struct {
	Eval  *Evaluator
	Store keeper.Store
}

// NewGate builds a Gate wrapping eval. store may be nil, in which case
// RecentPrices/RecentTrades are left empty.
func NewGate(eval *Evaluator, store keeper.Store) *Gate {
	return &Gate{Eval: eval, Store: store}
}

// Evaluate implements keeper.AIGate.
func (g *Gate) Evaluate(ctx context.Context, action keeper.Action, state *keeper.EigenState) keeper.AIEvaluation {
	agg := keeper.AggregatePositions(state.Positions)

	var currentPrice, entryPrice, nativeBalance, tokenValue float64
	if state.CurrentPrice != nil {
		currentPrice, _ = state.CurrentPrice.Float64()
	}
	if agg.EntryPrice != nil {
		entryPrice, _ = agg.EntryPrice.Float64()
	}
	if state.NativeBalance != nil {
		nativeBalance, _ = state.NativeBalance.Float64()
	}
	if agg.AmountRaw != nil && state.CurrentPrice != nil {
		// amount_raw is base-unit (1e18-scaled) like wei; convert to
		// decimal before pricing it so TokenValue lands in the same
		// scale as NativeBalance, matching the decision engine's ratio.
		decimalAmount := new(big.Float).Quo(new(big.Float).SetInt(agg.AmountRaw), big.NewFloat(1e18))
		tv := new(big.Float).Mul(decimalAmount, state.CurrentPrice)
		tokenValue, _ = tv.Float64()
	}

	var recentPrices []keeper.PriceSnapshot
	var recentTrades []keeper.TradeRecord
	if g.Store != nil {
		recentPrices, _ = g.Store.RecentPriceSnapshots(ctx, state.Config.Token, 20)
		recentTrades, _ = g.Store.RecentTrades(ctx, state.Config.ID, 10)
	}

	var recentExternalBuy float64
	if state.ExternalBuy != nil && state.ExternalBuy.TotalBaseIn != nil {
		recentExternalBuy, _ = state.ExternalBuy.TotalBaseIn.Float64()
	}

	ec := EvalContext{
		Eigen:             state.Config,
		Position:          &agg,
		CurrentPrice:      currentPrice,
		EntryPrice:        entryPrice,
		NativeBalance:     nativeBalance,
		TokenValue:        tokenValue,
		RecentPrices:      recentPrices,
		RecentTrades:      recentTrades,
		RecentExternalBuy: recentExternalBuy,
	}
	return g.Eval.Evaluate(ctx, action, ec)
}
