package util

import "math/big"

// q96 is 2^96, the fixed-point denominator Uniswap-V3-family AMMs (and
// the Algebra-derived pools this keeper was built against) use for
// sqrtPriceX96.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// TickToSqrtPriceX96 converts a pool tick into its Q64.96 sqrt-price
// representation: sqrtPriceX96 = sqrt(1.0001^tick) * 2^96.
func TickToSqrtPriceX96(tick int) *big.Int {
	base := big.NewFloat(1.0001)
	ratio := new(big.Float).SetPrec(200).SetFloat64(1)

	exp := tick
	neg := exp < 0
	if neg {
		exp = -exp
	}
	b := new(big.Float).SetPrec(200).Copy(base)
	for exp > 0 {
		if exp&1 == 1 {
			ratio.Mul(ratio, b)
		}
		b.Mul(b, b)
		exp >>= 1
	}
	if neg {
		one := big.NewFloat(1)
		ratio.Quo(one, ratio)
	}

	sqrtRatio := new(big.Float).Sqrt(ratio)
	sqrtPriceX96 := new(big.Float).Mul(sqrtRatio, q96)

	result := new(big.Int)
	sqrtPriceX96.Int(result)
	return result
}

// SqrtPriceToPrice converts a Q64.96 sqrt-price back into the
// token1-per-token0 spot price as a big.Float, undoing the ^2 and the
// 2^96 scaling. Returns 0 for a nil or non-positive input.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return new(big.Float)
	}
	ratio := new(big.Float).SetPrec(200).SetInt(sqrtPriceX96)
	ratio.Quo(ratio, q96)
	return new(big.Float).SetPrec(200).Mul(ratio, ratio)
}
