package eigenkeeper

import (
	"fmt"
	"math/big"
)

// ApplyBuy updates pos in place for a buy of quantity q (token base units,
// positive) at price p (base-asset per token), preserving the
// weighted-average-entry invariant: total_cost' = total_cost + q*p,
// amount_raw' = amount_raw + q, entry_price' = total_cost' / amount_raw'.
func ApplyBuy(pos *TokenPosition, q *big.Int, p *big.Float) error {
	if q == nil || q.Sign() <= 0 {
		return fmt.Errorf("buy quantity must be positive")
	}
	if p == nil || p.Sign() <= 0 {
		return fmt.Errorf("buy price must be positive")
	}

	qDec := new(big.Float).SetPrec(200).SetInt(q)
	cost := new(big.Float).SetPrec(200).Mul(qDec, p)

	if pos.AmountRaw == nil {
		pos.AmountRaw = new(big.Int)
	}
	if pos.TotalCost == nil {
		pos.TotalCost = new(big.Float).SetPrec(200)
	}

	pos.AmountRaw = new(big.Int).Add(pos.AmountRaw, q)
	pos.TotalCost = new(big.Float).SetPrec(200).Add(pos.TotalCost, cost)

	newAmountDec := new(big.Float).SetPrec(200).SetInt(pos.AmountRaw)
	pos.EntryPrice = new(big.Float).SetPrec(200).Quo(pos.TotalCost, newAmountDec)
	return nil
}

// ApplySell reduces pos by quantity q at price p, returning the realized
// P&L for this sell: q * (p - entry_price_at_sell). Entry price is left
// unchanged by a partial sell; total_cost shrinks proportionally to the
// fraction sold: total_cost' = total_cost * (1 - sold/existing). A full
// sell (q == amount_raw) zeroes amount_raw, entry_price, and total_cost.
func ApplySell(pos *TokenPosition, q *big.Int, p *big.Float) (*big.Float, error) {
	if q == nil || q.Sign() <= 0 {
		return nil, fmt.Errorf("sell quantity must be positive")
	}
	if pos.AmountRaw == nil || pos.AmountRaw.Sign() <= 0 {
		return nil, fmt.Errorf("no position to sell")
	}
	if q.Cmp(pos.AmountRaw) > 0 {
		return nil, fmt.Errorf("sell quantity %s exceeds position %s", q, pos.AmountRaw)
	}
	if p == nil || p.Sign() <= 0 {
		return nil, fmt.Errorf("sell price must be positive")
	}

	entryAtSell := pos.EntryPrice
	qDec := new(big.Float).SetPrec(200).SetInt(q)
	diff := new(big.Float).SetPrec(200).Sub(p, entryAtSell)
	realized := new(big.Float).SetPrec(200).Mul(qDec, diff)

	remaining := new(big.Int).Sub(pos.AmountRaw, q)

	if remaining.Sign() == 0 {
		pos.AmountRaw = remaining
		pos.EntryPrice = new(big.Float).SetPrec(200)
		pos.TotalCost = new(big.Float).SetPrec(200)
		return realized, nil
	}

	existingDec := new(big.Float).SetPrec(200).SetInt(pos.AmountRaw)
	soldDec := qDec
	fraction := new(big.Float).SetPrec(200).Quo(soldDec, existingDec)
	retained := new(big.Float).SetPrec(200).Sub(big.NewFloat(1), fraction)

	pos.AmountRaw = remaining
	pos.TotalCost = new(big.Float).SetPrec(200).Mul(pos.TotalCost, retained)
	// entry_price is unchanged
	return realized, nil
}

// UnrealizedPnLPct computes (current - entry) / entry * 100 for a
// position. Returns 0 if the position is empty or entry price is zero, so
// callers never divide by zero when there's nothing held.
func UnrealizedPnLPct(pos *TokenPosition, currentPrice *big.Float) float64 {
	if pos == nil || pos.AmountRaw == nil || pos.AmountRaw.Sign() <= 0 {
		return 0
	}
	if pos.EntryPrice == nil || pos.EntryPrice.Sign() <= 0 {
		return 0
	}
	diff := new(big.Float).SetPrec(200).Sub(currentPrice, pos.EntryPrice)
	ratio := new(big.Float).SetPrec(200).Quo(diff, pos.EntryPrice)
	pct, _ := new(big.Float).SetPrec(200).Mul(ratio, big.NewFloat(100)).Float64()
	return pct
}

// AggregatePositions sums AmountRaw across every wallet's position for the
// same (eigen, token), and computes the cost-weighted entry price across
// them, for callers (the decision engine) that reason about an eigen's
// whole holding rather than any one sub-wallet.
func AggregatePositions(positions []TokenPosition) TokenPosition {
	agg := TokenPosition{
		AmountRaw:  new(big.Int),
		TotalCost:  new(big.Float).SetPrec(200),
		EntryPrice: new(big.Float).SetPrec(200),
	}
	for _, p := range positions {
		if p.AmountRaw == nil || p.AmountRaw.Sign() <= 0 {
			continue
		}
		agg.EigenID = p.EigenID
		agg.Token = p.Token
		agg.AmountRaw = new(big.Int).Add(agg.AmountRaw, p.AmountRaw)
		if p.TotalCost != nil {
			agg.TotalCost = new(big.Float).SetPrec(200).Add(agg.TotalCost, p.TotalCost)
		}
	}
	if agg.AmountRaw.Sign() > 0 {
		amountDec := new(big.Float).SetPrec(200).SetInt(agg.AmountRaw)
		agg.EntryPrice = new(big.Float).SetPrec(200).Quo(agg.TotalCost, amountDec)
	}
	return agg
}
