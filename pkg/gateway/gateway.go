// Package gateway implements the Chain Gateway port (spec §4.1) on top
// of go-ethereum's ethclient.Client and pkg/txlistener, the way the
// teacher's cmd/main.go wires a raw *ethclient.Client directly into its
// ContractClient instances. Unlike contractclient.ContractClient, which
// is bound to one contract and ABI, the gateway serves arbitrary
// addresses: native/token balance reads, pool slot0 reads, log scans,
// multicall batching, and raw-calldata sends signed with a caller-
// supplied key.
package gateway

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"crypto/ecdsa"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	keeper "github.com/eigenlabs/eigenkeeper"
	"github.com/eigenlabs/eigenkeeper/pkg/txlistener"
	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
)

// erc20BalanceOfSelector is balanceOf(address).
var erc20BalanceOfSelector = [4]byte{0x70, 0xa0, 0x82, 0x31}

// slot0Selector is slot0() on a Uniswap-v3-style pool, returning
// (sqrtPriceX96, tick, ...).
var slot0Selector = [4]byte{0x38, 0x50, 0xc7, 0xbd}

// getEthBalanceSelector is Multicall3's getEthBalance(address).
var getEthBalanceSelector = [4]byte{0x4d, 0x23, 0x01, 0xcc}

// multicallABI is the minimal aggregate3-style multicall interface most
// chains have a canonical deployment of (Multicall3); the gateway only
// uses the subset it needs.
const multicallABIJSON = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

// Gateway implements keeper.Gateway against one EVM chain.
type Gateway struct {
	client        *ethclient.Client
	listener      *txlistener.TxListener
	nonces        *keeper.NonceManager
	multicallAddr common.Address
	multicallABI  abi.ABI
	chainID       *big.Int
}

// New builds a Gateway bound to client. multicallAddr may be the zero
// address, in which case Multicall falls back to sequential eth_call.
// nonces serializes nonce issuance per address (spec §4.3); every
// Transfer/SendCalldata call goes through it rather than reading
// PendingNonceAt directly.
func New(client *ethclient.Client, multicallAddr common.Address, listener *txlistener.TxListener, nonces *keeper.NonceManager) (*Gateway, error) {
	parsed, err := abi.JSON(strings.NewReader(multicallABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse multicall ABI: %w", err)
	}
	if listener == nil {
		listener = txlistener.NewTxListener(client)
	}
	if nonces == nil {
		nonces = keeper.NewNonceManager(client)
	}
	return &Gateway{client: client, listener: listener, nonces: nonces, multicallAddr: multicallAddr, multicallABI: parsed}, nil
}

// Balance reads an address's native-asset balance, in wei.
func (g *Gateway) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := g.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read native balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// BlockNumber reads the current chain tip.
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read block number: %w", err)
	}
	return n, nil
}

// TokenBalance reads an ERC20 balanceOf(holder) against token.
func (g *Gateway) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data := append(erc20BalanceOfSelector[:], leftPad32(holder.Bytes())...)
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance of %s for %s: %w", holder.Hex(), token.Hex(), err)
	}
	if len(result) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(result), nil
}

// ReadSlot0 reads a pool's current sqrtPriceX96 and tick.
func (g *Gateway) ReadSlot0(ctx context.Context, pool common.Address) (*big.Int, int, error) {
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: slot0Selector[:]}, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read slot0 for pool %s: %w", pool.Hex(), err)
	}
	if len(result) < 64 {
		return nil, 0, fmt.Errorf("slot0 response too short for pool %s", pool.Hex())
	}
	sqrtPriceX96 := new(big.Int).SetBytes(result[:32])
	tick := int(new(big.Int).SetBytes(result[32:64]).Int64())
	return sqrtPriceX96, tick, nil
}

// multicallBatchSize is the spec §4.1 batch cap: "splits inputs into
// fixed-size batches (≤ 100)".
const multicallBatchSize = 100

// Multicall batches calls through the configured Multicall3 deployment,
// falling back to sequential eth_call when none is configured. Inputs
// are split into batches of at most multicallBatchSize; a batch-level
// RPC failure maps every entry in that batch to a zero/absent result
// without aborting the remaining batches (spec §4.1).
func (g *Gateway) Multicall(ctx context.Context, calls []kptypes.Call) ([]kptypes.CallResult, error) {
	if g.multicallAddr == (common.Address{}) {
		return g.sequentialCall(ctx, calls)
	}

	results := make([]kptypes.CallResult, len(calls))
	for start := 0; start < len(calls); start += multicallBatchSize {
		end := start + multicallBatchSize
		if end > len(calls) {
			end = len(calls)
		}
		batch := calls[start:end]
		batchResults, err := g.aggregate3(ctx, batch)
		if err != nil {
			// Batch-level failure: zero/absent result for every entry in
			// this batch, but keep processing the remaining batches.
			for i := range batch {
				results[start+i] = kptypes.CallResult{}
			}
			continue
		}
		copy(results[start:end], batchResults)
	}
	return results, nil
}

// aggregate3 sends one Multicall3.aggregate3 batch (at most
// multicallBatchSize entries) and returns its per-call results.
func (g *Gateway) aggregate3(ctx context.Context, batch []kptypes.Call) ([]kptypes.CallResult, error) {
	type call3 struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}
	packed := make([]call3, 0, len(batch))
	for _, c := range batch {
		packed = append(packed, call3{Target: c.Target, AllowFailure: true, CallData: c.Data})
	}

	data, err := g.multicallABI.Pack("aggregate3", packed)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3: %w", err)
	}

	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.multicallAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("multicall aggregate3 failed: %w", err)
	}

	unpacked, err := g.multicallABI.Unpack("aggregate3", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3 result: %w", err)
	}
	if len(unpacked) == 0 {
		return nil, fmt.Errorf("aggregate3 returned no results")
	}

	raw, ok := unpacked[0].([]struct {
		Success    bool
		ReturnData []byte
	})
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate3 return shape")
	}

	results := make([]kptypes.CallResult, len(raw))
	for i, r := range raw {
		results[i] = kptypes.CallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// BatchTokenBalances reads balanceOf(holder) for token against every
// address in holders through Multicall, falling back to a zero balance
// for any holder whose call failed or whose batch failed outright.
func (g *Gateway) BatchTokenBalances(ctx context.Context, token common.Address, holders []common.Address) ([]*big.Int, error) {
	calls := make([]kptypes.Call, len(holders))
	for i, h := range holders {
		calls[i] = kptypes.Call{Target: token, Data: append(append([]byte{}, erc20BalanceOfSelector[:]...), leftPad32(h.Bytes())...)}
	}
	results, err := g.Multicall(ctx, calls)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(holders))
	for i, r := range results {
		if !r.Success || len(r.ReturnData) == 0 {
			out[i] = big.NewInt(0)
			continue
		}
		out[i] = new(big.Int).SetBytes(r.ReturnData)
	}
	return out, nil
}

// BatchNativeBalances reads the native-asset balance of every address in
// addrs through Multicall3's getEthBalance(address), falling back to
// zero for any address whose call or batch failed.
func (g *Gateway) BatchNativeBalances(ctx context.Context, addrs []common.Address) ([]*big.Int, error) {
	if g.multicallAddr == (common.Address{}) {
		out := make([]*big.Int, len(addrs))
		for i, a := range addrs {
			bal, err := g.Balance(ctx, a)
			if err != nil {
				out[i] = big.NewInt(0)
				continue
			}
			out[i] = bal
		}
		return out, nil
	}
	calls := make([]kptypes.Call, len(addrs))
	for i, a := range addrs {
		calls[i] = kptypes.Call{Target: g.multicallAddr, Data: append(append([]byte{}, getEthBalanceSelector[:]...), leftPad32(a.Bytes())...)}
	}
	results, err := g.Multicall(ctx, calls)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(addrs))
	for i, r := range results {
		if !r.Success || len(r.ReturnData) == 0 {
			out[i] = big.NewInt(0)
			continue
		}
		out[i] = new(big.Int).SetBytes(r.ReturnData)
	}
	return out, nil
}

func (g *Gateway) sequentialCall(ctx context.Context, calls []kptypes.Call) ([]kptypes.CallResult, error) {
	results := make([]kptypes.CallResult, len(calls))
	for i, c := range calls {
		target := c.Target
		out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: c.Data}, nil)
		if err != nil {
			results[i] = kptypes.CallResult{Success: false}
			continue
		}
		results[i] = kptypes.CallResult{Success: true, ReturnData: out}
	}
	return results, nil
}

// GetLogs fetches logs matching filter.
func (g *Gateway) GetLogs(ctx context.Context, filter kptypes.LogFilter) ([]kptypes.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: filter.FromBlock,
		ToBlock:   filter.ToBlock,
		Addresses: filter.Addresses,
		Topics:    filter.Topics,
	}
	logs, err := g.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}
	out := make([]kptypes.Log, 0, len(logs))
	for _, l := range logs {
		out = append(out, kptypes.Log{
			Address: l.Address, Topics: l.Topics, Data: l.Data,
			BlockNumber: l.BlockNumber, TxHash: l.TxHash,
		})
	}
	return out, nil
}

// Transfer sends amountWei of native asset from the address controlled
// by pk to to.
func (g *Gateway) Transfer(ctx context.Context, from common.Address, pk *ecdsa.PrivateKey, to common.Address, amountWei *big.Int) (common.Hash, error) {
	return g.send(ctx, from, pk, to, nil, amountWei)
}

// SendCalldata sends an arbitrary transaction from the address
// controlled by pk to to, carrying calldata and an optional value.
func (g *Gateway) SendCalldata(ctx context.Context, from common.Address, pk *ecdsa.PrivateKey, to common.Address, calldata []byte, value *big.Int) (common.Hash, error) {
	return g.send(ctx, from, pk, to, calldata, value)
}

func (g *Gateway) send(ctx context.Context, from common.Address, pk *ecdsa.PrivateKey, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if pk == nil {
		return common.Hash{}, fmt.Errorf("nil private key")
	}
	if value == nil {
		value = big.NewInt(0)
	}

	if g.chainID == nil {
		chainID, err := g.client.NetworkID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to fetch chain id: %w", err)
		}
		g.chainID = chainID
	}

	lease, err := g.nonces.Acquire(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to acquire nonce for %s: %w", from.Hex(), err)
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		lease.Invalidate()
		return common.Hash{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	estimated, err := g.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data, Value: value})
	if err != nil {
		lease.Invalidate()
		return common.Hash{}, fmt.Errorf("failed to estimate gas for send to %s: %w", to.Hex(), err)
	}
	limit := estimated + estimated/5

	tx := types.NewTx(&types.LegacyTx{
		Nonce: lease.Nonce, To: &to, Value: value, Gas: limit, GasPrice: gasPrice, Data: data,
	})

	signer := types.LatestSignerForChainID(g.chainID)
	signedTx, err := types.SignTx(tx, signer, pk)
	if err != nil {
		lease.Invalidate()
		return common.Hash{}, fmt.Errorf("failed to sign transaction to %s: %w", to.Hex(), err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		lease.Invalidate()
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction to %s: %w", to.Hex(), err)
	}
	lease.Release()
	return signedTx.Hash(), nil
}

// WaitReceipt blocks until hash's receipt is available, timeout elapses,
// or ctx is cancelled.
func (g *Gateway) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*kptypes.TxReceipt, error) {
	tl := g.listener
	if timeout > 0 {
		tl = txlistener.NewTxListener(g.client, txlistener.WithTimeout(timeout))
	}
	return tl.WaitForTransactionCtx(ctx, hash)
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
