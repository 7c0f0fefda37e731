// Package vaultclient implements the VaultClient collaborator (spec
// GLOSSARY: deposit, executeBuy, returnEth, keeperTerminate,
// getNetBalance, getEigenInfo) over pkg/contractclient, the way the
// teacher binds a ContractClient to one router/pool address per call
// site and drives it with Call/Send. Every state-changing call here is
// signed by the keeper's own master key (spec §4.2) rather than a
// per-eigen sub-wallet key, since vault administration is a
// keeper-privileged operation distinct from an eigen's own trades.
package vaultclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	keeper "github.com/eigenlabs/eigenkeeper"
	"github.com/eigenlabs/eigenkeeper/pkg/contractclient"
	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
)

const vaultABIJSON = `[
{"inputs":[{"internalType":"bytes32","name":"eigenId","type":"bytes32"}],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"eigenId","type":"bytes32"},{"internalType":"address","name":"wallet","type":"address"},{"internalType":"uint256","name":"amountWei","type":"uint256"},{"internalType":"uint256","name":"minOut","type":"uint256"}],"name":"executeBuy","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"eigenId","type":"bytes32"},{"internalType":"uint256","name":"amountWei","type":"uint256"}],"name":"returnEth","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"eigenId","type":"bytes32"}],"name":"keeperTerminate","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"eigenId","type":"bytes32"}],"name":"getNetBalance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"eigenId","type":"bytes32"}],"name":"getEigenInfo","outputs":[{"internalType":"uint256","name":"netBalance","type":"uint256"},{"internalType":"bool","name":"active","type":"bool"}],"stateMutability":"view","type":"function"}
]`

// Client implements keeper.VaultClient against one deployed vault
// contract, signing every write with a fixed keeper key.
type Client struct {
	cc         contractclient.ContractClient
	keeperAddr common.Address
	keeperKey  *ecdsa.PrivateKey
}

// New binds a Client to the vault at address. keeperKey signs every
// state-changing call; keeperAddr is its corresponding address, used as
// the read-call caller context.
func New(client *ethclient.Client, address common.Address, keeperAddr common.Address, keeperKey *ecdsa.PrivateKey) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vault ABI: %w", err)
	}
	cc := contractclient.NewContractClient(client, address, parsed)
	return &Client{cc: cc, keeperAddr: keeperAddr, keeperKey: keeperKey}, nil
}

func (c *Client) Deposit(_ context.Context, eigenID common.Hash, amountWei *big.Int) (common.Hash, error) {
	return c.send("deposit", eigenID)
}

func (c *Client) ExecuteBuy(_ context.Context, eigenID common.Hash, wallet common.Address, amountWei *big.Int, minOut *big.Int) (common.Hash, error) {
	return c.send("executeBuy", eigenID, wallet, amountWei, minOut)
}

func (c *Client) ReturnEth(_ context.Context, eigenID common.Hash, amountWei *big.Int) (common.Hash, error) {
	return c.send("returnEth", eigenID, amountWei)
}

func (c *Client) KeeperTerminate(_ context.Context, eigenID common.Hash) (common.Hash, error) {
	return c.send("keeperTerminate", eigenID)
}

func (c *Client) GetNetBalance(_ context.Context, eigenID common.Hash) (*big.Int, error) {
	out, err := c.cc.Call(&c.keeperAddr, "getNetBalance", eigenID)
	if err != nil {
		return nil, fmt.Errorf("failed to read net balance for %x: %w", eigenID, err)
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNetBalance return type for %x", eigenID)
	}
	return bal, nil
}

func (c *Client) GetEigenInfo(_ context.Context, eigenID common.Hash) (keeper.VaultEigenInfo, error) {
	out, err := c.cc.Call(&c.keeperAddr, "getEigenInfo", eigenID)
	if err != nil {
		return keeper.VaultEigenInfo{}, fmt.Errorf("failed to read eigen info for %x: %w", eigenID, err)
	}
	if len(out) < 2 {
		return keeper.VaultEigenInfo{}, fmt.Errorf("unexpected getEigenInfo return shape for %x", eigenID)
	}
	netBalance, _ := out[0].(*big.Int)
	active, _ := out[1].(bool)
	return keeper.VaultEigenInfo{NetBalance: netBalance, Active: active}, nil
}

func (c *Client) send(method string, args ...interface{}) (common.Hash, error) {
	hash, err := c.cc.Send(kptypes.Standard, nil, &c.keeperAddr, c.keeperKey, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("vault %s failed: %w", method, err)
	}
	return hash, nil
}

var _ keeper.VaultClient = (*Client)(nil)
