// Package types holds the transport-level shapes shared by the chain
// gateway, the tx listener, and the root keeper package. They mirror
// what go-ethereum's JSON-RPC layer returns, kept as plain strings for
// the hex-encoded numeric fields exactly like the teacher's contract
// client does (EffectiveGasPrice, GasUsed, Status), so callers decide
// when to parse into *big.Int.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxType selects the transaction envelope used when a ContractClient
// sends a transaction. Only Standard is implemented, and it is sent as a
// legacy (pre-EIP-1559) transaction; the enum exists so callers
// already write call sites that read naturally when a second envelope
// (e.g. EIP-4844) is added.
type TxType int

const (
	Standard TxType = iota
)

// TxReceipt is the gateway's receipt shape. Numeric fields are kept as
// 0x-prefixed hex strings, matching what go-ethereum's raw RPC receipt
// JSON carries, so a caller can SetString(v, 0) only when it actually
// needs the big.Int form.
type TxReceipt struct {
	TxHash            common.Hash    `json:"transactionHash"`
	BlockNumber       string         `json:"blockNumber"`
	GasUsed           string         `json:"gasUsed"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
	Status            string         `json:"status"` // "0x1" success, "0x0" reverted
	ContractAddress   common.Address `json:"contractAddress"`
	Logs              []Log          `json:"logs"`
}

// Log is a decoded-friendly view of an EVM log entry.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    []byte         `json:"data"`
	BlockNumber uint64     `json:"blockNumber"`
	TxHash      common.Hash `json:"transactionHash"`
}

// LogFilter describes a get_logs query against the gateway.
type LogFilter struct {
	FromBlock *big.Int
	ToBlock   *big.Int
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Call is one entry of a multicall batch.
type Call struct {
	Target common.Address
	Data   []byte
}

// CallResult is the per-call outcome of a multicall batch. A
// batch-level RPC failure is mapped to Success=false with an empty
// ReturnData for every call in that batch, never an aborted operation.
type CallResult struct {
	Success    bool
	ReturnData []byte
}

// DecodedCall is the result of decoding a raw transaction's calldata
// against a known ABI.
type DecodedCall struct {
	MethodName string                 `json:"MethodName"`
	Parameter  map[string]interface{} `json:"Parameter"`
}

// DecodedEvent mirrors one entry produced by ContractClient.ParseReceipt.
type DecodedEvent struct {
	EventName string                 `json:"EventName"`
	Parameter map[string]interface{} `json:"Parameter"`
}
