package util

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickToSqrtPriceX96ZeroTickIsQ96(t *testing.T) {
	got := TickToSqrtPriceX96(0)
	assert.Equal(t, 0, got.Cmp(new(big.Int).Lsh(big.NewInt(1), 96)))
}

func TestTickToSqrtPriceX96RoundTripsThroughSqrtPriceToPrice(t *testing.T) {
	// tick 6932 corresponds to roughly price 1.0001^6932 ~= 2.0
	sqrtPriceX96 := TickToSqrtPriceX96(6932)
	price := SqrtPriceToPrice(sqrtPriceX96)
	got, _ := price.Float64()
	assert.InDelta(t, 2.0, got, 0.01)
}

func TestTickToSqrtPriceX96NegativeTickIsReciprocal(t *testing.T) {
	posPrice := SqrtPriceToPrice(TickToSqrtPriceX96(6932))
	negPrice := SqrtPriceToPrice(TickToSqrtPriceX96(-6932))

	p, _ := posPrice.Float64()
	n, _ := negPrice.Float64()
	assert.InDelta(t, 1.0, p*n, 0.01)
}

func TestSqrtPriceToPriceNilOrNonPositiveIsZero(t *testing.T) {
	assert.Equal(t, 0, SqrtPriceToPrice(nil).Sign())
	assert.Equal(t, 0, SqrtPriceToPrice(big.NewInt(0)).Sign())
	assert.Equal(t, 0, SqrtPriceToPrice(big.NewInt(-1)).Sign())
}
