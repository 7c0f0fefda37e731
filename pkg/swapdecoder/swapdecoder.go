// Package swapdecoder provides the default Swap Event Decoder
// collaborator the Reactive-Sell Detector (spec §4.11) needs to turn a
// pool's Swap log into a base-asset-in amount, grounded in
// pkg/contractclient's event-unpacking pattern. Like pkg/swapencoder,
// this covers one AMM version; other versions would inject their own
// decoder.
package swapdecoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	keeper "github.com/eigenlabs/eigenkeeper"
	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
)

// uniswapV3SwapEventABIJSON declares the Uniswap-v3-style Swap event:
// Swap(address indexed sender, address indexed recipient, int256 amount0,
// int256 amount1, uint160 sqrtPriceX96, uint128 liquidity, int24 tick).
const uniswapV3SwapEventABIJSON = `[{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"sender","type":"address"},{"indexed":true,"internalType":"address","name":"recipient","type":"address"},{"indexed":false,"internalType":"int256","name":"amount0","type":"int256"},{"indexed":false,"internalType":"int256","name":"amount1","type":"int256"},{"indexed":false,"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},{"indexed":false,"internalType":"uint128","name":"liquidity","type":"uint128"},{"indexed":false,"internalType":"int24","name":"tick","type":"int24"}],"name":"Swap","type":"event"}]`

// Decoder implements keeper.SwapEventDecoder for a Uniswap-v3-style
// pool. The base leg is amount0 when baseIsToken0 is set and amount1
// otherwise; baseAmountIn is that leg's amount when it is positive (the
// base asset flowed into the pool) and zero otherwise.
type Decoder struct {
	eventABI abi.ABI
	topic    common.Hash
	baseIsToken0 bool
}

// New builds a Decoder. baseIsToken0 selects which pool leg is the
// base/quote asset whose inflow the Reactive-Sell Detector measures.
func New(baseIsToken0 bool) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(uniswapV3SwapEventABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap event ABI: %w", err)
	}
	event, ok := parsed.Events["Swap"]
	if !ok {
		return nil, fmt.Errorf("swap event ABI missing Swap entry")
	}
	return &Decoder{eventABI: parsed, topic: event.ID, baseIsToken0: baseIsToken0}, nil
}

// SwapEventTopic returns the log topic0 this decoder recognizes.
func (d *Decoder) SwapEventTopic() common.Hash { return d.topic }

// DecodeSwap unpacks log's non-indexed fields and returns the indexed
// sender address with the base leg's inflow; a zero or negative base leg
// (an outflow) is returned as 0.
func (d *Decoder) DecodeSwap(log kptypes.Log) (common.Address, *big.Int, error) {
	if len(log.Topics) < 2 {
		return common.Address{}, nil, fmt.Errorf("swap log missing indexed topics")
	}
	sender := common.BytesToAddress(log.Topics[1].Bytes())

	out := map[string]interface{}{}
	if err := d.eventABI.UnpackIntoMap(out, "Swap", log.Data); err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to unpack swap log: %w", err)
	}

	amount0, _ := out["amount0"].(*big.Int)
	amount1, _ := out["amount1"].(*big.Int)
	if amount0 == nil || amount1 == nil {
		return common.Address{}, nil, fmt.Errorf("swap log missing amount0/amount1")
	}

	base := amount1
	if d.baseIsToken0 {
		base = amount0
	}
	if base.Sign() <= 0 {
		return sender, big.NewInt(0), nil
	}
	return sender, new(big.Int).Set(base), nil
}

var _ keeper.SwapEventDecoder = (*Decoder)(nil)
