package eigenkeeper

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
	ckutil "github.com/eigenlabs/eigenkeeper/pkg/util"
)

// fakeWalletStore is a minimal in-memory Store covering only what
// WalletManager exercises; every other method is unreachable from these
// tests and panics if called.
type fakeWalletStore struct {
	subWallets map[string][]SubWallet
	imported   map[string][]ImportedWallet
	trades     []string
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{
		subWallets: make(map[string][]SubWallet),
		imported:   make(map[string][]ImportedWallet),
	}
}

func (s *fakeWalletStore) GetEigenConfig(context.Context, string) (*EigenConfig, error) { panic("unused") }
func (s *fakeWalletStore) ListActiveEigenConfigs(context.Context) ([]*EigenConfig, error) { panic("unused") }
func (s *fakeWalletStore) UpdateEigenConfig(context.Context, string, EigenConfigUpdate) error { panic("unused") }
func (s *fakeWalletStore) SetEigenStatus(context.Context, string, EigenStatus, string) error { panic("unused") }
func (s *fakeWalletStore) UpdateScannedBlock(context.Context, string, uint64) error { panic("unused") }

func (s *fakeWalletStore) GetSubWallets(_ context.Context, eigenID string) ([]SubWallet, error) {
	return s.subWallets[eigenID], nil
}

func (s *fakeWalletStore) UpsertSubWallet(_ context.Context, w SubWallet) error {
	wallets := s.subWallets[w.EigenID]
	for i, existing := range wallets {
		if existing.Index == w.Index {
			wallets[i] = w
			s.subWallets[w.EigenID] = wallets
			return nil
		}
	}
	s.subWallets[w.EigenID] = append(wallets, w)
	return nil
}

func (s *fakeWalletStore) RecordSubWalletTrade(_ context.Context, eigenID string, index int, at time.Time) error {
	wallets := s.subWallets[eigenID]
	for i := range wallets {
		if wallets[i].Index == index {
			wallets[i].LastTradeAt = &at
			wallets[i].TradeCount++
		}
	}
	s.trades = append(s.trades, "sub")
	return nil
}

func (s *fakeWalletStore) GetImportedWallets(_ context.Context, eigenID string) ([]ImportedWallet, error) {
	return s.imported[eigenID], nil
}

func (s *fakeWalletStore) RecordImportedWalletTrade(_ context.Context, eigenID string, index int, at time.Time) error {
	wallets := s.imported[eigenID]
	for i := range wallets {
		if wallets[i].Index == index {
			wallets[i].LastTradeAt = &at
			wallets[i].TradeCount++
		}
	}
	s.trades = append(s.trades, "imported")
	return nil
}

func (s *fakeWalletStore) GetPosition(context.Context, string, common.Address, common.Address) (*TokenPosition, error) { panic("unused") }
func (s *fakeWalletStore) ListPositions(context.Context, string) ([]TokenPosition, error) { panic("unused") }
func (s *fakeWalletStore) SavePosition(context.Context, TokenPosition) error { panic("unused") }
func (s *fakeWalletStore) AppendTrade(context.Context, TradeRecord) error { panic("unused") }
func (s *fakeWalletStore) AppendPriceSnapshot(context.Context, PriceSnapshot) error { panic("unused") }
func (s *fakeWalletStore) AppendAIEvaluation(context.Context, AIEvaluation) error { panic("unused") }
func (s *fakeWalletStore) RecentTrades(context.Context, string, int) ([]TradeRecord, error) { panic("unused") }
func (s *fakeWalletStore) RecentPriceSnapshots(context.Context, common.Address, int) ([]PriceSnapshot, error) { panic("unused") }

var _ Store = (*fakeWalletStore)(nil)

// fakeWalletGateway stubs the Gateway methods WalletManager.FundIfNeeded
// needs: Balance and Transfer.
type fakeWalletGateway struct {
	balances     map[common.Address]*big.Int
	transferErr  error
	transfersLen int
}

func (g *fakeWalletGateway) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	if b, ok := g.balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (g *fakeWalletGateway) BlockNumber(context.Context) (uint64, error) { panic("unused") }
func (g *fakeWalletGateway) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) { panic("unused") }
func (g *fakeWalletGateway) Multicall(context.Context, []kptypes.Call) ([]kptypes.CallResult, error) { panic("unused") }
func (g *fakeWalletGateway) BatchTokenBalances(context.Context, common.Address, []common.Address) ([]*big.Int, error) {
	panic("unused")
}
func (g *fakeWalletGateway) BatchNativeBalances(context.Context, []common.Address) ([]*big.Int, error) {
	panic("unused")
}
func (g *fakeWalletGateway) GetLogs(context.Context, kptypes.LogFilter) ([]kptypes.Log, error) { panic("unused") }
func (g *fakeWalletGateway) ReadSlot0(context.Context, common.Address) (*big.Int, int, error) { panic("unused") }

func (g *fakeWalletGateway) Transfer(_ context.Context, _ common.Address, _ *ecdsa.PrivateKey, _ common.Address, _ *big.Int) (common.Hash, error) {
	g.transfersLen++
	return common.Hash{}, g.transferErr
}

func (g *fakeWalletGateway) SendCalldata(context.Context, common.Address, *ecdsa.PrivateKey, common.Address, []byte, *big.Int) (common.Hash, error) {
	panic("unused")
}

func (g *fakeWalletGateway) WaitReceipt(context.Context, common.Hash, time.Duration) (*kptypes.TxReceipt, error) {
	panic("unused")
}

var _ Gateway = (*fakeWalletGateway)(nil)

const testMasterSecret = "0xe1a1d5436c93a1866e0b13c7c2fd04d09627cba4b647d818425c030eded803dd"

func TestDerivePrivateKeyIsDeterministicPerEigenAndIndex(t *testing.T) {
	store := newFakeWalletStore()
	wm, err := NewWalletManager(store, nil, testMasterSecret)
	require.NoError(t, err)

	pk1, err := wm.derivePrivateKey("eigen-1", 0)
	require.NoError(t, err)
	pk2, err := wm.derivePrivateKey("eigen-1", 0)
	require.NoError(t, err)
	pk3, err := wm.derivePrivateKey("eigen-1", 1)
	require.NoError(t, err)
	pk4, err := wm.derivePrivateKey("eigen-2", 0)
	require.NoError(t, err)

	assert.Equal(t, pk1.D, pk2.D)
	assert.NotEqual(t, pk1.D, pk3.D)
	assert.NotEqual(t, pk1.D, pk4.D)
}

func TestDeriveOrGetIsIdempotentAndPersists(t *testing.T) {
	store := newFakeWalletStore()
	wm, err := NewWalletManager(store, nil, testMasterSecret)
	require.NoError(t, err)

	wallets, err := wm.DeriveOrGet(context.Background(), "eigen-1", 3)
	require.NoError(t, err)
	require.Len(t, wallets, 3)
	assert.Len(t, store.subWallets["eigen-1"], 3)

	again, err := wm.DeriveOrGet(context.Background(), "eigen-1", 3)
	require.NoError(t, err)
	assert.Equal(t, wallets, again)
	assert.Len(t, store.subWallets["eigen-1"], 3) // no duplicate inserts
}

func TestWalletsForFallsBackToDerivedWhenNoImportedExist(t *testing.T) {
	store := newFakeWalletStore()
	wm, err := NewWalletManager(store, nil, testMasterSecret)
	require.NoError(t, err)

	cfg := &EigenConfig{ID: "eigen-1", WalletSource: WalletSourceImported, WalletCount: 2}
	wallets, err := wm.WalletsFor(context.Background(), cfg, 2)
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
}

func TestWalletsForUsesImportedWhenPresent(t *testing.T) {
	store := newFakeWalletStore()
	wm, err := NewWalletManager(store, nil, testMasterSecret)
	require.NoError(t, err)

	addr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	store.imported["eigen-1"] = []ImportedWallet{{EigenID: "eigen-1", Index: 0, Address: addr}}

	cfg := &EigenConfig{ID: "eigen-1", WalletSource: WalletSourceImported, WalletCount: 1}
	wallets, err := wm.WalletsFor(context.Background(), cfg, 1)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, addr, wallets[0].Address)
}

func TestPrivateKeyForImportedDecryptsStoredBlob(t *testing.T) {
	store := newFakeWalletStore()
	wm, err := NewWalletManager(store, nil, testMasterSecret)
	require.NoError(t, err)

	rawKey := "0x209588af7a6850f16ee846b3099ef2823e18d04a2edb33c0be9a714af7af39f3"
	blob, err := ckutil.EncryptImportedKey(testMasterSecret, rawKey)
	require.NoError(t, err)

	addr := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	store.imported["eigen-1"] = []ImportedWallet{{EigenID: "eigen-1", Index: 0, Address: addr, EncryptedKeyBlob: blob}}

	cfg := &EigenConfig{ID: "eigen-1", WalletSource: WalletSourceImported}
	pk, err := wm.PrivateKeyFor(context.Background(), cfg, SubWallet{EigenID: "eigen-1", Index: 0, Address: addr})
	require.NoError(t, err)
	assert.NotNil(t, pk)
}

func TestSelectPrefersNeverTradedWallet(t *testing.T) {
	traded := time.Now().Add(-time.Hour)
	wallets := []SubWallet{
		{Index: 0, LastTradeAt: &traded},
		{Index: 1, LastTradeAt: nil},
		{Index: 2, LastTradeAt: &traded},
	}
	got, err := Select(wallets)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Index)
}

func TestSelectPicksOldestTradeWhenAllHaveTraded(t *testing.T) {
	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Hour)
	wallets := []SubWallet{
		{Index: 0, LastTradeAt: &newer},
		{Index: 1, LastTradeAt: &older},
	}
	got, err := Select(wallets)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Index)
}

func TestSelectRejectsEmptySet(t *testing.T) {
	_, err := Select(nil)
	assert.Error(t, err)
}

func TestFundIfNeededSkipsWhenAboveGasFloor(t *testing.T) {
	store := newFakeWalletStore()
	wallet := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	gw := &fakeWalletGateway{balances: map[common.Address]*big.Int{wallet: big.NewInt(10_000_000_000_000_000)}}
	wm, err := NewWalletManager(store, gw, testMasterSecret)
	require.NoError(t, err)

	funded, err := wm.FundIfNeeded(context.Background(), wallet, nil)
	require.NoError(t, err)
	assert.False(t, funded)
}
