// Package contractclient wraps a single on-chain contract with a
// typed Call/Send surface on top of go-ethereum, the way the teacher's
// pkg/contractclient did for the Blackhole router, pool, and token
// contracts. It is the bottom layer of the Chain Gateway (spec §4.1):
// the gateway batches and schedules across many of these, one per
// contract address.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
)

// ContractClient is the per-contract read/write surface the rest of the
// keeper depends on. It never knows about eigens, positions, or
// strategy — just ABI-encoded calls against one address.
type ContractClient interface {
	Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error)
	Send(txType kptypes.TxType, gasLimit *uint64, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	Abi() abi.ABI
	ContractAddress() common.Address
	TransactionData(hash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*kptypes.DecodedCall, error)
	ParseReceipt(receipt *kptypes.TxReceipt) (string, error)
}

type ethContractClient struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
	chainID *big.Int
}

// NewContractClient binds a go-ethereum client to one contract address
// and its ABI.
func NewContractClient(client *ethclient.Client, address common.Address, contractABI abi.ABI) ContractClient {
	return &ethContractClient{client: client, address: address, abi: contractABI}
}

func (c *ethContractClient) Abi() abi.ABI                        { return c.abi }
func (c *ethContractClient) ContractAddress() common.Address     { return c.address }

// Call performs a read-only eth_call against the bound contract and
// unpacks the result according to the ABI's declared outputs.
func (c *ethContractClient) Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	msg := ethereumCallMsg(caller, &c.address, data)
	result, err := c.client.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s reverted: %w", method, err)
	}

	outputs, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return outputs, nil
}

// Send builds, signs, and submits a transaction invoking method with
// args. gasLimit nil requests automatic estimation via eth_estimateGas.
func (c *ethContractClient) Send(
	txType kptypes.TxType,
	gasLimit *uint64,
	from *common.Address,
	pk *ecdsa.PrivateKey,
	method string,
	args ...interface{},
) (common.Hash, error) {
	if pk == nil {
		return common.Hash{}, fmt.Errorf("nil private key")
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	ctx := context.Background()

	if c.chainID == nil {
		chainID, err := c.client.NetworkID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to fetch chain id: %w", err)
		}
		c.chainID = chainID
	}

	nonce, err := c.client.PendingNonceAt(ctx, *from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	limit := uint64(0)
	if gasLimit != nil {
		limit = *gasLimit
	} else {
		estimated, err := c.client.EstimateGas(ctx, ethereumCallMsg(from, &c.address, data))
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas for %s: %w", method, err)
		}
		limit = estimated + estimated/5 // 20% headroom, matches teacher's "automatic gas limit estimation"
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      limit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.LatestSignerForChainID(c.chainID)
	signedTx, err := types.SignTx(tx, signer, pk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign %s: %w", method, err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast %s: %w", method, err)
	}

	return signedTx.Hash(), nil
}

// TransactionData fetches the raw calldata of a previously-submitted
// transaction by hash, for offline decoding/debugging.
func (c *ethContractClient) TransactionData(hash common.Hash) ([]byte, error) {
	tx, _, err := c.client.TransactionByHash(context.Background(), hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tx %s: %w", hash.Hex(), err)
	}
	return tx.Data(), nil
}

// DecodeTransaction matches calldata against the bound ABI's method
// selectors and unpacks arguments into a name→value map.
func (c *ethContractClient) DecodeTransaction(data []byte) (*kptypes.DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short to contain a selector")
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to match method selector: %w", err)
	}

	args := map[string]interface{}{}
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("failed to unpack inputs for %s: %w", method.Name, err)
	}

	return &kptypes.DecodedCall{MethodName: method.Name, Parameter: args}, nil
}

// ParseReceipt decodes every log in receipt that matches an event in
// this contract's ABI, returning a JSON array of {EventName,
// Parameter} objects — the same shape the teacher's MintNftTokenId
// parses to recover a Transfer event's tokenId.
func (c *ethContractClient) ParseReceipt(receipt *kptypes.TxReceipt) (string, error) {
	events := []kptypes.DecodedEvent{}

	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 {
			continue
		}
		event, err := c.abi.EventByID(lg.Topics[0])
		if err != nil {
			continue // not one of our events, skip silently
		}

		args := map[string]interface{}{}
		if err := event.Inputs.UnpackIntoMap(args, lg.Data); err != nil {
			continue
		}
		// indexed topic arguments aren't in Data; fill them from Topics.
		indexedIdx := 1
		for _, input := range event.Inputs {
			if input.Indexed && indexedIdx < len(lg.Topics) {
				args[input.Name] = topicToValue(lg.Topics[indexedIdx], input)
				indexedIdx++
			}
		}

		events = append(events, kptypes.DecodedEvent{EventName: event.Name, Parameter: args})
	}

	out, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to marshal decoded events: %w", err)
	}
	return string(out), nil
}

func topicToValue(topic common.Hash, input abi.Argument) interface{} {
	switch input.Type.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes()).Hex()
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic.Bytes())
	default:
		return topic.Hex()
	}
}

func ethereumCallMsg(from, to *common.Address, data []byte) ethereum.CallMsg {
	msg := ethereum.CallMsg{To: to, Data: data}
	if from != nil {
		msg.From = *from
	}
	return msg
}

// PublicKeyToAddress recovers the on-chain address corresponding to a
// private key, used by the wallet manager to confirm a derived or
// decrypted key matches its recorded SubWallet address.
func PublicKeyToAddress(pk *ecdsa.PrivateKey) (common.Address, error) {
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return common.Address{}, fmt.Errorf("invalid public key type")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
