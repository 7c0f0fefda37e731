package eigenkeeper

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/eigenlabs/eigenkeeper/pkg/contractclient"
	ckutil "github.com/eigenlabs/eigenkeeper/pkg/util"
)

// gasFloorWei is the native balance below which a sub-wallet is considered
// unable to pay for its own gas and needs a top-up from the master wallet.
var gasFloorWei = big.NewInt(2_000_000_000_000_000) // 0.002 native

// gasTopUpWei is the fixed amount transferred to a sub-wallet that is
// below the gas floor.
var gasTopUpWei = big.NewInt(5_000_000_000_000_000) // 0.005 native

// WalletManager derives and selects the sub-wallets an eigen trades from.
// Private keys for derived wallets are never persisted; they are
// rederived from the master secret on every use.
type WalletManager struct {
	store        Store
	gateway      Gateway
	masterSecret string // 0x-prefixed hex
	masterPK     *ecdsa.PrivateKey
	masterAddr   common.Address
}

// NewWalletManager constructs a WalletManager bound to masterSecretHex,
// validating it is a syntactically valid private key.
func NewWalletManager(store Store, gateway Gateway, masterSecretHex string) (*WalletManager, error) {
	if err := ckutil.ValidateHexPrivateKey(masterSecretHex); err != nil {
		return nil, fmt.Errorf("invalid master secret: %w", err)
	}
	pk, err := gethcrypto.HexToECDSA(masterSecretHex[2:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse master secret: %w", err)
	}
	addr, err := contractclient.PublicKeyToAddress(pk)
	if err != nil {
		return nil, err
	}
	return &WalletManager{store: store, gateway: gateway, masterSecret: masterSecretHex, masterPK: pk, masterAddr: addr}, nil
}

// MasterAddress is the keeper's own funding/collection address.
func (wm *WalletManager) MasterAddress() common.Address { return wm.masterAddr }

// MasterPrivateKey returns the signer for the master/keeper wallet, used
// by the scheduler for vault refills and emergency funding sweeps.
func (wm *WalletManager) MasterPrivateKey() *ecdsa.PrivateKey { return wm.masterPK }

// derivePrivateKey computes the deterministic private key for
// (masterSecret, eigenID, index): the SHA-256 digest of masterSecret,
// eigenID, ":" and the decimal index, used directly as the secp256k1
// scalar via crypto.ToECDSA, which rejects a digest that is not a valid
// key rather than reducing it. Address is
// therefore a pure function of its three inputs, matching the SubWallet
// invariant in the data model.
func (wm *WalletManager) derivePrivateKey(eigenID string, index int) (*ecdsa.PrivateKey, error) {
	h := sha256.New()
	h.Write([]byte(wm.masterSecret))
	h.Write([]byte(eigenID))
	fmt.Fprintf(h, ":%d", index)
	seed := h.Sum(nil)

	pk, err := gethcrypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key for %s[%d]: %w", eigenID, index, err)
	}
	return pk, nil
}

// DeriveOrGet is idempotent: it inserts any missing SubWallet rows for
// indices [0, count) and returns the first count wallets.
func (wm *WalletManager) DeriveOrGet(ctx context.Context, eigenID string, count int) ([]SubWallet, error) {
	existing, err := wm.store.GetSubWallets(ctx, eigenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sub-wallets for %s: %w", eigenID, err)
	}
	byIndex := make(map[int]SubWallet, len(existing))
	for _, w := range existing {
		byIndex[w.Index] = w
	}

	for i := 0; i < count; i++ {
		if _, ok := byIndex[i]; ok {
			continue
		}
		pk, err := wm.derivePrivateKey(eigenID, i)
		if err != nil {
			return nil, err
		}
		addr, err := contractclient.PublicKeyToAddress(pk)
		if err != nil {
			return nil, err
		}
		w := SubWallet{EigenID: eigenID, Index: i, Address: addr}
		if err := wm.store.UpsertSubWallet(ctx, w); err != nil {
			return nil, fmt.Errorf("failed to persist sub-wallet %s[%d]: %w", eigenID, i, err)
		}
		byIndex[i] = w
	}

	out := make([]SubWallet, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, byIndex[i])
	}
	return out, nil
}

// WalletsFor returns imported wallets when cfg.WalletSource is imported
// and any exist; otherwise it falls back to derived wallets.
func (wm *WalletManager) WalletsFor(ctx context.Context, cfg *EigenConfig, count int) ([]SubWallet, error) {
	if cfg.WalletSource == WalletSourceImported {
		imported, err := wm.store.GetImportedWallets(ctx, cfg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load imported wallets for %s: %w", cfg.ID, err)
		}
		if len(imported) > 0 {
			out := make([]SubWallet, 0, len(imported))
			for _, iw := range imported {
				out = append(out, SubWallet{
					EigenID: iw.EigenID, Index: iw.Index, Address: iw.Address,
					LastTradeAt: iw.LastTradeAt, TradeCount: iw.TradeCount,
				})
			}
			return out, nil
		}
	}
	return wm.DeriveOrGet(ctx, cfg.ID, count)
}

// PrivateKeyFor resolves a wallet's signable private key, either by
// rederiving (derived source) or decrypting the stored blob (imported
// source).
func (wm *WalletManager) PrivateKeyFor(ctx context.Context, cfg *EigenConfig, w SubWallet) (*ecdsa.PrivateKey, error) {
	if cfg.WalletSource == WalletSourceImported {
		imported, err := wm.store.GetImportedWallets(ctx, cfg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load imported wallets for %s: %w", cfg.ID, err)
		}
		for _, iw := range imported {
			if iw.Index != w.Index {
				continue
			}
			hexKey, err := ckutil.DecryptImportedKey(wm.masterSecret, iw.EncryptedKeyBlob)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt imported key %s[%d]: %w", cfg.ID, w.Index, err)
			}
			return gethcrypto.HexToECDSA(hexKey[2:])
		}
		return nil, fmt.Errorf("no imported wallet at index %d for %s", w.Index, cfg.ID)
	}
	return wm.derivePrivateKey(cfg.ID, w.Index)
}

// Select picks a least-recently-traded wallet: wallets with no trade
// history win ties over each other (first one wins among them); when all
// have traded, the oldest LastTradeAt wins.
func Select(wallets []SubWallet) (SubWallet, error) {
	if len(wallets) == 0 {
		return SubWallet{}, fmt.Errorf("no wallets to select from")
	}
	sorted := make([]SubWallet, len(wallets))
	copy(sorted, wallets)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.LastTradeAt == nil && b.LastTradeAt == nil {
			return false
		}
		if a.LastTradeAt == nil {
			return true
		}
		if b.LastTradeAt == nil {
			return false
		}
		return a.LastTradeAt.Before(*b.LastTradeAt)
	})
	return sorted[0], nil
}

// FundIfNeeded tops up wallet from the master wallet when its native
// balance is below the gas floor. If cfg is non-nil, the eigen's
// remaining gas budget is checked first; when exhausted the top-up is
// skipped silently (logged by the caller) rather than erroring.
func (wm *WalletManager) FundIfNeeded(ctx context.Context, wallet common.Address, cfg *EigenConfig) (bool, error) {
	balance, err := wm.gateway.Balance(ctx, wallet)
	if err != nil {
		return false, fmt.Errorf("failed to read balance of %s: %w", wallet.Hex(), err)
	}
	if balance.Cmp(gasFloorWei) >= 0 {
		return false, nil
	}

	if cfg != nil && cfg.GasBudget != nil && cfg.GasSpent != nil {
		remaining := new(big.Float).Sub(cfg.GasBudget, cfg.GasSpent)
		topUpEth := new(big.Float).Quo(new(big.Float).SetInt(gasTopUpWei), big.NewFloat(1e18))
		if remaining.Cmp(topUpEth) < 0 {
			return false, nil // gas budget exhausted; skip silently
		}
	}

	_, err = wm.gateway.Transfer(ctx, wm.masterAddr, wm.masterPK, wallet, gasTopUpWei)
	if err != nil {
		return false, fmt.Errorf("failed to fund wallet %s: %w", wallet.Hex(), err)
	}

	if cfg != nil && cfg.GasSpent != nil {
		topUpEth := new(big.Float).Quo(new(big.Float).SetInt(gasTopUpWei), big.NewFloat(1e18))
		cfg.GasSpent = new(big.Float).Add(cfg.GasSpent, topUpEth)
	}
	return true, nil
}

// RecordTrade dispatches the trade-timestamp bookkeeping to the imported
// or derived sub-wallet table depending on cfg.WalletSource.
func (wm *WalletManager) RecordTrade(ctx context.Context, cfg *EigenConfig, index int) error {
	now := time.Now()
	if cfg.WalletSource == WalletSourceImported {
		return wm.store.RecordImportedWalletTrade(ctx, cfg.ID, index, now)
	}
	return wm.store.RecordSubWalletTrade(ctx, cfg.ID, index, now)
}
