// Package swapencoder provides the default Swap Encoder collaborator
// (spec §6): a single concrete AMM-version implementation of
// keeper.SwapEncoder, built the way the teacher's Blackhole.Swap packs
// swapExactTokensForTokens through its bound router ContractClient. The
// version-specific encoding layer for every other AMM is intentionally
// out of scope; this package exists only so a deployment has a working
// default to inject.
package swapencoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	keeper "github.com/eigenlabs/eigenkeeper"
)

// uniswapV3RouterABIJSON is the minimal exactInputSingle surface of a Uniswap-v3-style SwapRouter.
const uniswapV3RouterABIJSON = `[
{"inputs":[{"components":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint24","name":"fee","type":"uint24"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct ISwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],"name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

// Encoder implements keeper.SwapEncoder against a Uniswap-v3-style
// router at a fixed address, swapping directly against the native
// wrapped asset (no multi-hop path).
type Encoder struct {
	router        common.Address
	wrappedNative common.Address
	routerABI     abi.ABI
}

// New builds an Encoder bound to router, using wrappedNative as the
// counter-asset on both buy and sell legs.
func New(router, wrappedNative common.Address) (*Encoder, error) {
	parsed, err := abi.JSON(strings.NewReader(uniswapV3RouterABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return &Encoder{router: router, wrappedNative: wrappedNative, routerABI: parsed}, nil
}

// EncodeSwap implements keeper.SwapEncoder. pool.Fee selects the pool
// tier; direction picks which side is tokenIn.
func (e *Encoder) EncodeSwap(direction keeper.SwapDirection, token common.Address, amount *big.Int, pool *keeper.PoolRef, recipient common.Address, minOut *big.Int) (common.Address, []byte, error) {
	if pool == nil {
		return common.Address{}, nil, fmt.Errorf("cannot encode swap: pool is nil")
	}

	tokenIn, tokenOut := e.wrappedNative, token
	if direction == keeper.SwapSell {
		tokenIn, tokenOut = token, e.wrappedNative
	}

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn: tokenIn, TokenOut: tokenOut, Fee: big.NewInt(int64(pool.Fee)),
		Recipient: recipient, AmountIn: amount, AmountOutMinimum: minOut, SqrtPriceLimitX96: big.NewInt(0),
	}

	data, err := e.routerABI.Pack("exactInputSingle", params)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to pack exactInputSingle: %w", err)
	}
	return e.router, data, nil
}

var _ keeper.SwapEncoder = (*Encoder)(nil)
