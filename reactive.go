package eigenkeeper

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
)

// reactiveScanWindow caps how many blocks behind the chain tip a scan
// looks, per spec §4.11's default of 100.
const reactiveScanWindow = 100

// SwapEventDecoder turns a raw log matching a pool's swap event signature
// into the base-asset amount that entered the pool and the address that
// triggered it, without this detector needing to know the AMM version's
// event layout; the concrete decoder for each pool version is an external
// collaborator analogous to SwapEncoder.
type SwapEventDecoder interface {
	DecodeSwap(log kptypes.Log) (sender common.Address, baseAmountIn *big.Int, err error)
	SwapEventTopic() common.Hash
}

// reactiveDetector implements ReactiveDetector over a Gateway and a
// version-specific SwapEventDecoder.
type reactiveDetector struct {
	gateway Gateway
	decoder SwapEventDecoder
}

// NewReactiveDetector builds a ReactiveDetector that scans pool swap logs
// through gateway, decoding each with decoder.
func NewReactiveDetector(gateway Gateway, decoder SwapEventDecoder) ReactiveDetector {
	return &reactiveDetector{gateway: gateway, decoder: decoder}
}

// ScanExternalBuys implements the Reactive-Sell Detector (spec §4.11):
// caps the scan window to the last reactiveScanWindow blocks, fetches
// swap events for the pool, and excludes any event whose sender is one of
// the keeper/vault/sub-wallet/router addresses. The latest scanned block
// is always returned so the caller can advance its cursor even when no
// buys were found.
func (d *reactiveDetector) ScanExternalBuys(
	ctx context.Context,
	cfg *EigenConfig,
	pool *PoolRef,
	fromBlock, currentBlock uint64,
	excluded []common.Address,
) (*ExternalBuySignal, error) {
	if pool == nil {
		return nil, fmt.Errorf("no pool resolved for eigen %s", cfg.ID)
	}

	scanFrom := fromBlock
	if currentBlock > reactiveScanWindow && scanFrom < currentBlock-reactiveScanWindow {
		scanFrom = currentBlock - reactiveScanWindow
	}
	if scanFrom > currentBlock {
		scanFrom = currentBlock
	}

	filter := kptypes.LogFilter{
		FromBlock: new(big.Int).SetUint64(scanFrom),
		ToBlock:   new(big.Int).SetUint64(currentBlock),
		Addresses: []common.Address{pool.Address},
		Topics:    [][]common.Hash{{d.decoder.SwapEventTopic()}},
	}

	logs, err := d.gateway.GetLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch swap logs for pool %s: %w", pool.Address.Hex(), err)
	}

	isExcluded := make(map[common.Address]bool, len(excluded))
	for _, a := range excluded {
		isExcluded[a] = true
	}

	buyCount := 0
	total := new(big.Float).SetPrec(200)
	for _, lg := range logs {
		sender, amountIn, err := d.decoder.DecodeSwap(lg)
		if err != nil {
			continue // not a swap we can interpret, skip
		}
		if isExcluded[sender] {
			continue
		}
		if amountIn == nil || amountIn.Sign() <= 0 {
			continue
		}
		buyCount++
		total.Add(total, new(big.Float).SetPrec(200).SetInt(amountIn))
	}

	return &ExternalBuySignal{
		BuyCount:           buyCount,
		TotalBaseIn:        total,
		LatestBlockScanned: currentBlock,
	}, nil
}

// ExcludedAddresses assembles the set of addresses a reactive scan must
// ignore: the keeper itself, the vault, every sub-wallet of this eigen,
// and any known router addresses.
func ExcludedAddresses(keeperAddr, vaultAddr common.Address, wallets []SubWallet, routers []common.Address) []common.Address {
	out := make([]common.Address, 0, len(wallets)+len(routers)+2)
	out = append(out, keeperAddr, vaultAddr)
	for _, w := range wallets {
		out = append(out, w.Address)
	}
	out = append(out, routers...)
	return out
}
