package eigenkeeper

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ckutil "github.com/eigenlabs/eigenkeeper/pkg/util"
)

// keeperLowThreshold / keeperCriticalThreshold are the native balances
// below which the keeper self-funds from a sub-wallet after a sell.
var (
	keeperLowThreshold      = big.NewInt(10_000_000_000_000_000) // 0.01 native
	keeperCriticalThreshold = big.NewInt(2_000_000_000_000_000)  // 0.002 native
)

// transferGasReserveWei is withheld from every sweep/return-to-vault
// transfer to cover that transfer's own gas cost.
var transferGasReserveWei = big.NewInt(200_000_000_000_000) // 0.0002 native

// keeperTopUpWei is the small top-up sent to the keeper when it is low
// but not critically low.
var keeperTopUpWei = big.NewInt(5_000_000_000_000_000) // 0.005 native

// erc20ApproveSelector / wrappedWithdrawSelector are the standard
// four-byte selectors for ERC20 approve(address,uint256) and the
// WETH-style withdraw(uint256) used to unwrap received wrapped-native
// tokens. Encoded by hand here rather than via abi.ABI.Pack because the
// router calldata itself already arrives pre-encoded from the external
// SwapEncoder collaborator (spec §6) — these two calls are the only ones
// the Sell Executor must encode itself.
var (
	erc20ApproveSelector    = [4]byte{0x09, 0x5e, 0xa7, 0xb3}
	wrappedWithdrawSelector = [4]byte{0x2e, 0x1a, 0x7d, 0x4d}
)

func encodeApprove(spender common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20ApproveSelector[:]...)
	data = append(data, leftPad32(spender.Bytes())...)
	data = append(data, leftPad32(amount.Bytes())...)
	return data
}

func encodeWithdraw(amount *big.Int) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, wrappedWithdrawSelector[:]...)
	data = append(data, leftPad32(amount.Bytes())...)
	return data
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// SellExecutor executes a token->native swap for one sub-wallet and
// reconciles the proceeds, per spec §4.7.
type SellExecutor struct {
	gateway Gateway
	wm      *WalletManager
	encoder SwapEncoder
	wrapped common.Address // wrapped-native token address, for the unwrap step
}

// NewSellExecutor builds a SellExecutor.
func NewSellExecutor(gateway Gateway, wm *WalletManager, encoder SwapEncoder, wrappedNative common.Address) *SellExecutor {
	return &SellExecutor{gateway: gateway, wm: wm, encoder: encoder, wrapped: wrappedNative}
}

// SellResult carries what the scheduler needs to update the ledger and
// append a trade record after a sell.
type SellResult struct {
	TokensSold      *big.Int
	ProceedsWei     *big.Int
	TxHash          common.Hash
	RouterUsed      common.Address
	PendingRecovery bool
}

// ExecuteSell runs the approve -> swap -> unwrap -> reconciliation ->
// self-funding -> return-remainder flow for one wallet. tokenAmount is
// capped by the caller to the wallet's actual on-chain token balance
// before this is called.
func (s *SellExecutor) ExecuteSell(
	ctx context.Context,
	cfg *EigenConfig,
	wallet SubWallet,
	token common.Address,
	tokenAmount *big.Int,
	pool *PoolRef,
	minOut *big.Int,
	keeperAddr common.Address,
	vaultAddr common.Address,
) (*SellResult, error) {
	pk, err := s.wm.PrivateKeyFor(ctx, cfg, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signer for wallet %s: %w", wallet.Address.Hex(), err)
	}

	router, calldata, err := s.encoder.EncodeSwap(SwapSell, token, tokenAmount, pool, wallet.Address, minOut)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sell swap: %w", err)
	}

	// 1. Approval: authorize the router to move tokenAmount of token.
	approveHash, err := s.gateway.SendCalldata(ctx, wallet.Address, pk, token, encodeApprove(router, tokenAmount), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to approve router %s: %w", router.Hex(), err)
	}
	approveReceipt, err := s.gateway.WaitReceipt(ctx, approveHash, 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for approval receipt: %w", err)
	}
	if !ckutil.ReceiptSucceeded(approveReceipt) {
		return nil, fmt.Errorf("approval reverted: tx %s", approveHash.Hex())
	}

	// 2. Snapshot pre-swap balances.
	preBalance, err := s.gateway.Balance(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot pre-swap balance: %w", err)
	}
	preWrapped, err := s.gateway.TokenBalance(ctx, s.wrapped, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot pre-swap wrapped balance: %w", err)
	}

	// 3. Send the swap; wait for the receipt.
	txHash, err := s.gateway.SendCalldata(ctx, wallet.Address, pk, router, calldata, nil)
	if err != nil {
		return nil, fmt.Errorf("swap send failed: %w", err)
	}
	receipt, err := s.gateway.WaitReceipt(ctx, txHash, 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for swap receipt: %w", err)
	}
	if !ckutil.ReceiptSucceeded(receipt) {
		return nil, fmt.Errorf("swap reverted: tx %s", txHash.Hex())
	}

	// 4. Unwrap only the amount received in this swap.
	postWrapped, err := s.gateway.TokenBalance(ctx, s.wrapped, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-swap wrapped balance: %w", err)
	}

	var received *big.Int
	unwrapped := new(big.Int).Sub(postWrapped, preWrapped)
	if unwrapped.Sign() > 0 {
		if err := s.unwrap(ctx, wallet.Address, pk, unwrapped); err != nil {
			return nil, fmt.Errorf("failed to unwrap swap proceeds: %w", err)
		}
		received = unwrapped
	} else {
		// 5. Proceeds: post_balance - pre_balance.
		postBalance, err := s.gateway.Balance(ctx, wallet.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to read post-swap balance: %w", err)
		}
		received = new(big.Int).Sub(postBalance, preBalance)
	}

	result := &SellResult{TokensSold: tokenAmount, ProceedsWei: received, TxHash: txHash, RouterUsed: router}

	// 6. Keeper self-funding.
	if err := s.selfFundKeeper(ctx, wallet.Address, pk, keeperAddr); err != nil {
		result.PendingRecovery = true
	}

	// 7. Return remainder to the vault; leave funds for recovery on failure.
	if err := s.returnRemainder(ctx, wallet.Address, pk, vaultAddr); err != nil {
		result.PendingRecovery = true
	}

	return result, nil
}

func (s *SellExecutor) unwrap(ctx context.Context, wallet common.Address, pk *ecdsa.PrivateKey, amount *big.Int) error {
	hash, err := s.gateway.SendCalldata(ctx, wallet, pk, s.wrapped, encodeWithdraw(amount), nil)
	if err != nil {
		return fmt.Errorf("unwrap send failed: %w", err)
	}
	receipt, err := s.gateway.WaitReceipt(ctx, hash, 90*time.Second)
	if err != nil {
		return fmt.Errorf("failed waiting for unwrap receipt: %w", err)
	}
	if !ckutil.ReceiptSucceeded(receipt) {
		return fmt.Errorf("unwrap reverted: tx %s", hash.Hex())
	}
	return nil
}

// selfFundKeeper sweeps from wallet to keeperAddr when the keeper's
// native balance is low: a full sweep (minus the transfer's own gas cost)
// when the keeper is critically low, otherwise a small top-up. It never
// funds the keeper from itself.
func (s *SellExecutor) selfFundKeeper(ctx context.Context, wallet common.Address, pk *ecdsa.PrivateKey, keeperAddr common.Address) error {
	if wallet == keeperAddr {
		return nil
	}
	keeperBalance, err := s.gateway.Balance(ctx, keeperAddr)
	if err != nil {
		return fmt.Errorf("failed to read keeper balance: %w", err)
	}
	if keeperBalance.Cmp(keeperLowThreshold) >= 0 {
		return nil
	}

	walletBalance, err := s.gateway.Balance(ctx, wallet)
	if err != nil {
		return fmt.Errorf("failed to read wallet balance: %w", err)
	}

	var amount *big.Int
	if keeperBalance.Cmp(keeperCriticalThreshold) < 0 {
		amount = new(big.Int).Sub(walletBalance, transferGasReserveWei)
	} else {
		amount = new(big.Int).Set(keeperTopUpWei)
	}
	if amount.Sign() <= 0 || amount.Cmp(walletBalance) > 0 {
		return nil
	}

	_, err = s.gateway.Transfer(ctx, wallet, pk, keeperAddr, amount)
	return err
}

// returnRemainder transfers the wallet's remaining native balance (minus
// a fixed gas reserve) back to the vault. On failure it returns the error
// and the funds stay in the wallet for a later recovery pass; ExecuteSell
// then marks the result PendingRecovery instead of failing the sell.
func (s *SellExecutor) returnRemainder(ctx context.Context, wallet common.Address, pk *ecdsa.PrivateKey, vaultAddr common.Address) error {
	balance, err := s.gateway.Balance(ctx, wallet)
	if err != nil {
		return err
	}
	amount := new(big.Int).Sub(balance, transferGasReserveWei)
	if amount.Sign() <= 0 {
		return nil
	}
	_, err = s.gateway.Transfer(ctx, wallet, pk, vaultAddr, amount)
	return err
}

// RecoverStranded is the recovery entry point the scheduler calls every
// cycle (spec §4.7): recovers stranded wrapped-native and stranded
// native from a sub-wallet. If the stranded amount is too small for a
// vault-return call, it falls back to a direct transfer to the keeper.
func (s *SellExecutor) RecoverStranded(ctx context.Context, cfg *EigenConfig, wallet SubWallet, keeperAddr, vaultAddr common.Address) error {
	pk, err := s.wm.PrivateKeyFor(ctx, cfg, wallet)
	if err != nil {
		return fmt.Errorf("failed to resolve signer for recovery on %s: %w", wallet.Address.Hex(), err)
	}

	wrappedBal, err := s.gateway.TokenBalance(ctx, s.wrapped, wallet.Address)
	if err != nil {
		return fmt.Errorf("failed to read wrapped balance for recovery: %w", err)
	}
	if wrappedBal.Sign() > 0 {
		if err := s.unwrap(ctx, wallet.Address, pk, wrappedBal); err != nil {
			return fmt.Errorf("failed to unwrap stranded wrapped-native: %w", err)
		}
	}

	nativeBal, err := s.gateway.Balance(ctx, wallet.Address)
	if err != nil {
		return fmt.Errorf("failed to read native balance for recovery: %w", err)
	}
	amount := new(big.Int).Sub(nativeBal, transferGasReserveWei)
	if amount.Sign() <= 0 {
		return nil
	}

	dest := vaultAddr
	if amount.Cmp(transferGasReserveWei) < 0 {
		dest = keeperAddr
	}
	_, err = s.gateway.Transfer(ctx, wallet.Address, pk, dest, amount)
	return err
}
