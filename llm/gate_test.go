package llm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keeper "github.com/eigenlabs/eigenkeeper"
)

type fakeGateStore struct {
	prices []keeper.PriceSnapshot
	trades []keeper.TradeRecord
}

func (s *fakeGateStore) GetEigenConfig(context.Context, string) (*keeper.EigenConfig, error) { panic("unused") }
func (s *fakeGateStore) ListActiveEigenConfigs(context.Context) ([]*keeper.EigenConfig, error) {
	panic("unused")
}
func (s *fakeGateStore) UpdateEigenConfig(context.Context, string, keeper.EigenConfigUpdate) error {
	panic("unused")
}
func (s *fakeGateStore) SetEigenStatus(context.Context, string, keeper.EigenStatus, string) error {
	panic("unused")
}
func (s *fakeGateStore) UpdateScannedBlock(context.Context, string, uint64) error { panic("unused") }
func (s *fakeGateStore) GetSubWallets(context.Context, string) ([]keeper.SubWallet, error) {
	panic("unused")
}
func (s *fakeGateStore) UpsertSubWallet(context.Context, keeper.SubWallet) error { panic("unused") }
func (s *fakeGateStore) RecordSubWalletTrade(context.Context, string, int, time.Time) error {
	panic("unused")
}
func (s *fakeGateStore) GetImportedWallets(context.Context, string) ([]keeper.ImportedWallet, error) {
	panic("unused")
}
func (s *fakeGateStore) RecordImportedWalletTrade(context.Context, string, int, time.Time) error {
	panic("unused")
}
func (s *fakeGateStore) GetPosition(context.Context, string, common.Address, common.Address) (*keeper.TokenPosition, error) {
	panic("unused")
}
func (s *fakeGateStore) ListPositions(context.Context, string) ([]keeper.TokenPosition, error) {
	panic("unused")
}
func (s *fakeGateStore) SavePosition(context.Context, keeper.TokenPosition) error { panic("unused") }
func (s *fakeGateStore) AppendTrade(context.Context, keeper.TradeRecord) error    { panic("unused") }
func (s *fakeGateStore) AppendPriceSnapshot(context.Context, keeper.PriceSnapshot) error {
	panic("unused")
}
func (s *fakeGateStore) AppendAIEvaluation(context.Context, keeper.AIEvaluation) error {
	panic("unused")
}
func (s *fakeGateStore) RecentTrades(_ context.Context, _ string, limit int) ([]keeper.TradeRecord, error) {
	if limit < len(s.trades) {
		return s.trades[:limit], nil
	}
	return s.trades, nil
}
func (s *fakeGateStore) RecentPriceSnapshots(_ context.Context, _ common.Address, limit int) ([]keeper.PriceSnapshot, error) {
	if limit < len(s.prices) {
		return s.prices[:limit], nil
	}
	return s.prices, nil
}

var _ keeper.Store = (*fakeGateStore)(nil)

func TestGateEvaluateBuildsContextFromStateAndStore(t *testing.T) {
	store := &fakeGateStore{
		prices: []keeper.PriceSnapshot{{Price: big.NewFloat(1.0)}},
		trades: []keeper.TradeRecord{{EigenID: "eigen-1"}},
	}
	eval := NewEvaluator(Config{Enabled: true, ConfidenceThreshold: 70, TimeoutMS: 50},
		&fakeProvider{text: `{"approved":true,"confidence":95,"reason":"fine"}`})
	gate := NewGate(eval, store)

	wallet := common.HexToAddress("0x1111111111111111111111111111111111111111")
	cfg := &keeper.EigenConfig{ID: "eigen-1", Token: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	state := &keeper.EigenState{
		Config:        cfg,
		CurrentPrice:  big.NewFloat(1.5),
		NativeBalance: big.NewFloat(2.0),
		Positions: []keeper.TokenPosition{
			{EigenID: cfg.ID, Wallet: wallet, AmountRaw: big.NewInt(1e18), EntryPrice: big.NewFloat(1.0), TotalCost: big.NewFloat(1e18)},
		},
	}

	result := gate.Evaluate(context.Background(), keeper.Action{Sell: &keeper.SellAction{BaseAmount: big.NewInt(1), Variant: keeper.SellPlain}}, state)
	assert.True(t, result.Approved)
	assert.Equal(t, 95, result.Confidence)
}

func TestGateEvaluateToleratesNilStore(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, ConfidenceThreshold: 70, TimeoutMS: 50},
		&fakeProvider{text: `{"approved":true,"confidence":95,"reason":"fine"}`})
	gate := NewGate(eval, nil)

	cfg := &keeper.EigenConfig{ID: "eigen-1"}
	state := &keeper.EigenState{Config: cfg, CurrentPrice: big.NewFloat(1.0), NativeBalance: big.NewFloat(1.0)}

	result := gate.Evaluate(context.Background(), keeper.NoAction("no_price"), state)
	require.NotNil(t, result)
	assert.True(t, result.Approved)
}
