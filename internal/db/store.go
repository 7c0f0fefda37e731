// Package db implements the Local Store port (spec §4.4) over GORM, the
// way the teacher's internal/db/transaction_recorder.go persisted its
// single asset-snapshot table over MySQL. This store carries the much
// larger entity set spec §3 names — EigenConfig, SubWallet,
// ImportedWallet, TokenPosition, TradeRecord, PriceSnapshot,
// AIEvaluation — but keeps the teacher's conventions: big.Int/big.Float
// fields persisted as decimal strings, AutoMigrate run idempotently at
// startup, and a GORM logger in Info mode.
package db

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	keeper "github.com/eigenlabs/eigenkeeper"
)

// Store implements keeper.Store over a GORM connection. Every mutating
// method below uses GORM's named-parameter query builder (Where/Updates
// with a value map), never hand-built SQL, matching the spec §4.4
// requirement that all mutations go through prepared statements.
type Store struct {
	db *gorm.DB
}

// Open dials dsn and runs the additive schema migration. A "mysql://"
// or plain user:pass@tcp(...) DSN selects the MySQL driver (production,
// matching the teacher); a "sqlite:" prefix or a bare file path selects
// SQLite (local/dev and tests), keeping both drivers the module already
// depends on in active use.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasSuffix(dsn, ".db") || dsn == ":memory:":
		dialector = sqlite.Open(dsn)
	default:
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Info)})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return NewWithDB(gdb)
}

// NewWithDB wraps an already-open GORM connection (used by tests with
// go-sqlmock, mirroring the teacher's NewMySQLRecorderWithDB) and runs
// the additive migration.
func NewWithDB(gdb *gorm.DB) (*Store, error) {
	if err := migrate(gdb); err != nil {
		return nil, err
	}
	return &Store{db: gdb}, nil
}

// migrate applies additive column changes idempotently. GORM's
// AutoMigrate already no-ops on a column that exists; a driver that
// surfaces an explicit "already exists" error for a duplicate column is
// tolerated here rather than treated as fatal, per spec §4.4.
func migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&eigenConfigRecord{},
		&subWalletRecord{},
		&importedWalletRecord{},
		&tokenPositionRecord{},
		&tradeRecord{},
		&priceSnapshotRecord{},
		&aiEvaluationRecord{},
	)
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

// --- GORM record shapes -----------------------------------------------

type eigenConfigRecord struct {
	ID      string `gorm:"primaryKey;column:id"`
	EigenID string `gorm:"column:eigen_id;index"`

	Token   string `gorm:"column:token"`
	ChainID int64  `gorm:"column:chain_id"`

	PoolVersionTag  string `gorm:"column:pool_version_tag"`
	PoolAddress     string `gorm:"column:pool_address"`
	PoolFee         uint32 `gorm:"column:pool_fee"`
	PoolTickSpacing int32  `gorm:"column:pool_tick_spacing"`
	PoolHook        string `gorm:"column:pool_hook"`
	PoolID          string `gorm:"column:pool_id"`

	Owner           string     `gorm:"column:owner"`
	Status          string     `gorm:"column:status"`
	SuspendedReason string     `gorm:"column:suspended_reason"`
	SuspendedAt     *time.Time `gorm:"column:suspended_at"`

	VolumeTarget          string  `gorm:"type:varchar(78);column:volume_target"`
	TradeFrequencyPerHour float64 `gorm:"column:trade_frequency_per_hour"`
	OrderSizeMinPct       float64 `gorm:"column:order_size_min_pct"`
	OrderSizeMaxPct       float64 `gorm:"column:order_size_max_pct"`
	SpreadWidthBps        int     `gorm:"column:spread_width_bps"`

	ProfitTargetPct float64 `gorm:"column:profit_target_pct"`
	StopLossPct     float64 `gorm:"column:stop_loss_pct"`

	WalletCount int `gorm:"column:wallet_count"`
	SlippageBps int `gorm:"column:slippage_bps"`

	ReactiveSellMode bool    `gorm:"column:reactive_sell_mode"`
	ReactiveSellPct  float64 `gorm:"column:reactive_sell_pct"`
	LastScannedBlock uint64  `gorm:"column:last_scanned_block"`

	GasBudget string `gorm:"type:varchar(78);column:gas_budget"`
	GasSpent  string `gorm:"type:varchar(78);column:gas_spent"`

	CustomStrategyPrompt string `gorm:"type:text;column:custom_strategy_prompt"`
	WalletSource         string `gorm:"column:wallet_source"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (eigenConfigRecord) TableName() string { return "eigen_configs" }

type subWalletRecord struct {
	EigenID     string     `gorm:"primaryKey;column:eigen_id"`
	Idx         int        `gorm:"primaryKey;column:idx"`
	Address     string     `gorm:"column:address"`
	LastTradeAt *time.Time `gorm:"column:last_trade_at"`
	TradeCount  int        `gorm:"column:trade_count"`
}

func (subWalletRecord) TableName() string { return "sub_wallets" }

type importedWalletRecord struct {
	EigenID          string     `gorm:"primaryKey;column:eigen_id"`
	Idx              int        `gorm:"primaryKey;column:idx"`
	Address          string     `gorm:"column:address"`
	LastTradeAt      *time.Time `gorm:"column:last_trade_at"`
	TradeCount       int        `gorm:"column:trade_count"`
	EncryptedKeyBlob string     `gorm:"type:text;column:encrypted_key_blob"`
}

func (importedWalletRecord) TableName() string { return "imported_wallets" }

type tokenPositionRecord struct {
	EigenID    string `gorm:"primaryKey;column:eigen_id"`
	Token      string `gorm:"primaryKey;column:token"`
	Wallet     string `gorm:"primaryKey;column:wallet"`
	AmountRaw  string `gorm:"type:varchar(78);column:amount_raw"`
	EntryPrice string `gorm:"type:varchar(100);column:entry_price"`
	TotalCost  string `gorm:"type:varchar(100);column:total_cost"`
}

func (tokenPositionRecord) TableName() string { return "token_positions" }

type tradeRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	EigenID        string    `gorm:"column:eigen_id;index"`
	Type           string    `gorm:"column:type"`
	Wallet         string    `gorm:"column:wallet"`
	Token          string    `gorm:"column:token"`
	SignedAmount   string    `gorm:"type:varchar(78);column:signed_amount"`
	ExecutionPrice string    `gorm:"type:varchar(100);column:execution_price"`
	RealizedPnL    string    `gorm:"type:varchar(100);column:realized_pnl"`
	GasCost        string    `gorm:"type:varchar(78);column:gas_cost"`
	TxHash         string    `gorm:"column:tx_hash"`
	Router         string    `gorm:"column:router"`
	PoolVersion    string    `gorm:"column:pool_version"`
	Timestamp      time.Time `gorm:"column:timestamp;index"`
}

func (tradeRecord) TableName() string { return "trades" }

type priceSnapshotRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Token     string    `gorm:"column:token;index"`
	Price     string    `gorm:"type:varchar(100);column:price"`
	Source    string    `gorm:"column:source"`
	Timestamp time.Time `gorm:"column:timestamp;index"`
}

func (priceSnapshotRecord) TableName() string { return "price_snapshots" }

type aiEvaluationRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	EigenID         string    `gorm:"column:eigen_id;index"`
	ProposedReason  string    `gorm:"column:proposed_reason"`
	Approved        bool      `gorm:"column:approved"`
	Confidence      int       `gorm:"column:confidence"`
	Reason          string    `gorm:"type:text;column:reason"`
	AdjustedAmount  string    `gorm:"type:varchar(78);column:adjusted_amount"`
	SuggestedWaitMS int       `gorm:"column:suggested_wait_ms"`
	Model           string    `gorm:"column:model"`
	LatencyMS       int64     `gorm:"column:latency_ms"`
	InputTokens     int       `gorm:"column:input_tokens"`
	OutputTokens    int       `gorm:"column:output_tokens"`
	Timestamp       time.Time `gorm:"column:timestamp;index"`
}

func (aiEvaluationRecord) TableName() string { return "ai_evaluations" }

// --- conversions --------------------------------------------------------

func bigFloatToString(f *big.Float) string {
	if f == nil {
		return "0"
	}
	return f.Text('f', -1)
}

func stringToBigFloat(s string) *big.Float {
	if s == "" {
		s = "0"
	}
	v, _, err := big.ParseFloat(s, 10, 200, big.ToNearestEven)
	if err != nil {
		return new(big.Float)
	}
	return v
}

func bigIntToString(i *big.Int) string {
	if i == nil {
		return "0"
	}
	return i.String()
}

func stringToBigInt(s string) *big.Int {
	if s == "" {
		s = "0"
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func (r eigenConfigRecord) toDomain() *keeper.EigenConfig {
	var pool *keeper.PoolRef
	if r.PoolAddress != "" {
		pool = &keeper.PoolRef{
			VersionTag:  r.PoolVersionTag,
			Address:     common.HexToAddress(r.PoolAddress),
			Fee:         r.PoolFee,
			TickSpacing: r.PoolTickSpacing,
		}
		if r.PoolHook != "" {
			h := common.HexToAddress(r.PoolHook)
			pool.Hook = &h
		}
		if r.PoolID != "" {
			h := common.HexToHash(r.PoolID)
			pool.PoolID = &h
		}
	}
	return &keeper.EigenConfig{
		ID:                    r.ID,
		EigenID:               common.HexToHash(r.EigenID),
		Token:                 common.HexToAddress(r.Token),
		ChainID:               r.ChainID,
		Pool:                  pool,
		Owner:                 common.HexToAddress(r.Owner),
		Status:                keeper.EigenStatus(r.Status),
		SuspendedReason:       r.SuspendedReason,
		SuspendedAt:           r.SuspendedAt,
		VolumeTarget:          stringToBigFloat(r.VolumeTarget),
		TradeFrequencyPerHour: r.TradeFrequencyPerHour,
		OrderSizeMinPct:       r.OrderSizeMinPct,
		OrderSizeMaxPct:       r.OrderSizeMaxPct,
		SpreadWidthBps:        r.SpreadWidthBps,
		ProfitTargetPct:       r.ProfitTargetPct,
		StopLossPct:           r.StopLossPct,
		WalletCount:           r.WalletCount,
		SlippageBps:           r.SlippageBps,
		ReactiveSellMode:      r.ReactiveSellMode,
		ReactiveSellPct:       r.ReactiveSellPct,
		LastScannedBlock:      r.LastScannedBlock,
		GasBudget:             stringToBigFloat(r.GasBudget),
		GasSpent:              stringToBigFloat(r.GasSpent),
		CustomStrategyPrompt:  r.CustomStrategyPrompt,
		WalletSource:          keeper.WalletSource(r.WalletSource),
	}
}

// --- keeper.Store implementation ----------------------------------------

// GetEigenConfig loads one config by its short id.
func (s *Store) GetEigenConfig(ctx context.Context, eigenID string) (*keeper.EigenConfig, error) {
	var rec eigenConfigRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", eigenID).Error; err != nil {
		return nil, fmt.Errorf("failed to load eigen config %s: %w", eigenID, err)
	}
	return rec.toDomain(), nil
}

// ListActiveEigenConfigs loads every config whose status is "active",
// the scheduler's per-cycle snapshot (spec §4.8 step 1).
func (s *Store) ListActiveEigenConfigs(ctx context.Context) ([]*keeper.EigenConfig, error) {
	var recs []eigenConfigRecord
	if err := s.db.WithContext(ctx).Where("status = ?", string(keeper.StatusActive)).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active eigens: %w", err)
	}
	out := make([]*keeper.EigenConfig, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpdateEigenConfig writes only the whitelisted columns named by
// EigenConfigUpdate. A field absent from EigenConfigUpdate's struct is unreachable at
// compile time already (spec §4.4's "unknown field is a compile error,
// not a runtime filter"); this map only has to translate the ones that
// exist into column names, and nil pointers are simply skipped below.
func (s *Store) UpdateEigenConfig(ctx context.Context, eigenID string, fields keeper.EigenConfigUpdate) error {
	updates := map[string]interface{}{}
	if fields.VolumeTarget != nil {
		updates["volume_target"] = bigFloatToString(fields.VolumeTarget)
	}
	if fields.TradeFrequencyPerHour != nil {
		updates["trade_frequency_per_hour"] = *fields.TradeFrequencyPerHour
	}
	if fields.OrderSizeMinPct != nil {
		updates["order_size_min_pct"] = *fields.OrderSizeMinPct
	}
	if fields.OrderSizeMaxPct != nil {
		updates["order_size_max_pct"] = *fields.OrderSizeMaxPct
	}
	if fields.SpreadWidthBps != nil {
		updates["spread_width_bps"] = *fields.SpreadWidthBps
	}
	if fields.ProfitTargetPct != nil {
		updates["profit_target_pct"] = *fields.ProfitTargetPct
	}
	if fields.StopLossPct != nil {
		updates["stop_loss_pct"] = *fields.StopLossPct
	}
	if fields.WalletCount != nil {
		updates["wallet_count"] = *fields.WalletCount
	}
	if fields.SlippageBps != nil {
		updates["slippage_bps"] = *fields.SlippageBps
	}
	if fields.ReactiveSellMode != nil {
		updates["reactive_sell_mode"] = *fields.ReactiveSellMode
	}
	if fields.ReactiveSellPct != nil {
		updates["reactive_sell_pct"] = *fields.ReactiveSellPct
	}
	if fields.CustomStrategyPrompt != nil {
		updates["custom_strategy_prompt"] = *fields.CustomStrategyPrompt
	}
	if len(updates) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).Model(&eigenConfigRecord{}).Where("id = ?", eigenID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update eigen config %s: %w", eigenID, result.Error)
	}
	return nil
}

// SetEigenStatus transitions status and timestamps the change. reason is
// recorded only when the new status is suspended; any other status sets
// the stored reason to the empty string.
func (s *Store) SetEigenStatus(ctx context.Context, eigenID string, status keeper.EigenStatus, reason string) error {
	updates := map[string]interface{}{
		"status":       string(status),
		"suspended_at": time.Now(),
	}
	if status == keeper.StatusSuspended {
		updates["suspended_reason"] = reason
	} else {
		updates["suspended_reason"] = ""
	}
	result := s.db.WithContext(ctx).Model(&eigenConfigRecord{}).Where("id = ?", eigenID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to set status for %s: %w", eigenID, result.Error)
	}
	return nil
}

// UpdateScannedBlock persists the reactive-sell detector's cursor.
func (s *Store) UpdateScannedBlock(ctx context.Context, eigenID string, block uint64) error {
	result := s.db.WithContext(ctx).Model(&eigenConfigRecord{}).
		Where("id = ?", eigenID).Update("last_scanned_block", block)
	if result.Error != nil {
		return fmt.Errorf("failed to update scanned block for %s: %w", eigenID, result.Error)
	}
	return nil
}

// GetSubWallets loads every derived sub-wallet row for eigenID.
func (s *Store) GetSubWallets(ctx context.Context, eigenID string) ([]keeper.SubWallet, error) {
	var recs []subWalletRecord
	if err := s.db.WithContext(ctx).Where("eigen_id = ?", eigenID).Order("idx asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load sub-wallets for %s: %w", eigenID, err)
	}
	out := make([]keeper.SubWallet, 0, len(recs))
	for _, r := range recs {
		out = append(out, keeper.SubWallet{
			EigenID: r.EigenID, Index: r.Idx, Address: common.HexToAddress(r.Address),
			LastTradeAt: r.LastTradeAt, TradeCount: r.TradeCount,
		})
	}
	return out, nil
}

// UpsertSubWallet inserts w or, if (eigen, index) already exists, leaves
// its trade metadata untouched — this only creates the row the first
// time a wallet is derived.
func (s *Store) UpsertSubWallet(ctx context.Context, w keeper.SubWallet) error {
	rec := subWalletRecord{EigenID: w.EigenID, Idx: w.Index, Address: w.Address.Hex(), TradeCount: w.TradeCount, LastTradeAt: w.LastTradeAt}
	result := s.db.WithContext(ctx).
		Where(subWalletRecord{EigenID: w.EigenID, Idx: w.Index}).
		FirstOrCreate(&rec)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert sub-wallet %s[%d]: %w", w.EigenID, w.Index, result.Error)
	}
	return nil
}

// RecordSubWalletTrade bumps a derived sub-wallet's trade_count and
// last_trade_at.
func (s *Store) RecordSubWalletTrade(ctx context.Context, eigenID string, index int, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&subWalletRecord{}).
		Where("eigen_id = ? AND idx = ?", eigenID, index).
		Updates(map[string]interface{}{"last_trade_at": at, "trade_count": gorm.Expr("trade_count + 1")})
	if result.Error != nil {
		return fmt.Errorf("failed to record trade for %s[%d]: %w", eigenID, index, result.Error)
	}
	return nil
}

// GetImportedWallets loads every imported wallet row for eigenID,
// including the encrypted key blob.
func (s *Store) GetImportedWallets(ctx context.Context, eigenID string) ([]keeper.ImportedWallet, error) {
	var recs []importedWalletRecord
	if err := s.db.WithContext(ctx).Where("eigen_id = ?", eigenID).Order("idx asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load imported wallets for %s: %w", eigenID, err)
	}
	out := make([]keeper.ImportedWallet, 0, len(recs))
	for _, r := range recs {
		out = append(out, keeper.ImportedWallet{
			EigenID: r.EigenID, Index: r.Idx, Address: common.HexToAddress(r.Address),
			LastTradeAt: r.LastTradeAt, TradeCount: r.TradeCount, EncryptedKeyBlob: r.EncryptedKeyBlob,
		})
	}
	return out, nil
}

// RecordImportedWalletTrade bumps an imported wallet's trade metadata.
func (s *Store) RecordImportedWalletTrade(ctx context.Context, eigenID string, index int, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&importedWalletRecord{}).
		Where("eigen_id = ? AND idx = ?", eigenID, index).
		Updates(map[string]interface{}{"last_trade_at": at, "trade_count": gorm.Expr("trade_count + 1")})
	if result.Error != nil {
		return fmt.Errorf("failed to record trade for imported %s[%d]: %w", eigenID, index, result.Error)
	}
	return nil
}

// GetPosition loads the (eigen, token, wallet) position, or nil if none
// has ever been recorded (i.e. this wallet has never held the token).
func (s *Store) GetPosition(ctx context.Context, eigenID string, token, wallet common.Address) (*keeper.TokenPosition, error) {
	var rec tokenPositionRecord
	err := s.db.WithContext(ctx).First(&rec, "eigen_id = ? AND token = ? AND wallet = ?", eigenID, token.Hex(), wallet.Hex()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load position for %s/%s/%s: %w", eigenID, token.Hex(), wallet.Hex(), err)
	}
	return &keeper.TokenPosition{
		EigenID: eigenID, Token: token, Wallet: wallet,
		AmountRaw: stringToBigInt(rec.AmountRaw), EntryPrice: stringToBigFloat(rec.EntryPrice), TotalCost: stringToBigFloat(rec.TotalCost),
	}, nil
}

// ListPositions loads every wallet's position for eigenID, for the
// decision engine's AggregatePositions call.
func (s *Store) ListPositions(ctx context.Context, eigenID string) ([]keeper.TokenPosition, error) {
	var recs []tokenPositionRecord
	if err := s.db.WithContext(ctx).Where("eigen_id = ?", eigenID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions for %s: %w", eigenID, err)
	}
	out := make([]keeper.TokenPosition, 0, len(recs))
	for _, r := range recs {
		out = append(out, keeper.TokenPosition{
			EigenID: r.EigenID, Token: common.HexToAddress(r.Token), Wallet: common.HexToAddress(r.Wallet),
			AmountRaw: stringToBigInt(r.AmountRaw), EntryPrice: stringToBigFloat(r.EntryPrice), TotalCost: stringToBigFloat(r.TotalCost),
		})
	}
	return out, nil
}

// SavePosition upserts p, keyed by (eigen, token, wallet).
func (s *Store) SavePosition(ctx context.Context, p keeper.TokenPosition) error {
	rec := tokenPositionRecord{
		EigenID: p.EigenID, Token: p.Token.Hex(), Wallet: p.Wallet.Hex(),
		AmountRaw: bigIntToString(p.AmountRaw), EntryPrice: bigFloatToString(p.EntryPrice), TotalCost: bigFloatToString(p.TotalCost),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "eigen_id"}, {Name: "token"}, {Name: "wallet"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount_raw", "entry_price", "total_cost"}),
		}).
		Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("failed to save position for %s/%s/%s: %w", p.EigenID, p.Token.Hex(), p.Wallet.Hex(), result.Error)
	}
	return nil
}

// AppendTrade inserts an immutable trade record.
func (s *Store) AppendTrade(ctx context.Context, t keeper.TradeRecord) error {
	rec := tradeRecord{
		EigenID: t.EigenID, Type: string(t.Type), Wallet: t.Wallet.Hex(), Token: t.Token.Hex(),
		SignedAmount: bigIntToString(t.SignedAmount), ExecutionPrice: bigFloatToString(t.ExecutionPrice),
		RealizedPnL: bigFloatToString(t.RealizedPnL), GasCost: bigIntToString(t.GasCost),
		TxHash: t.TxHash.Hex(), Router: t.Router.Hex(), PoolVersion: t.PoolVersion, Timestamp: t.Timestamp,
	}
	if result := s.db.WithContext(ctx).Create(&rec); result.Error != nil {
		return fmt.Errorf("failed to append trade for %s: %w", t.EigenID, result.Error)
	}
	return nil
}

// AppendPriceSnapshot inserts an immutable price observation.
func (s *Store) AppendPriceSnapshot(ctx context.Context, snap keeper.PriceSnapshot) error {
	rec := priceSnapshotRecord{Token: snap.Token.Hex(), Price: bigFloatToString(snap.Price), Source: snap.Source, Timestamp: snap.Timestamp}
	if result := s.db.WithContext(ctx).Create(&rec); result.Error != nil {
		return fmt.Errorf("failed to append price snapshot for %s: %w", snap.Token.Hex(), result.Error)
	}
	return nil
}

// AppendAIEvaluation inserts an immutable AI gate decision.
func (s *Store) AppendAIEvaluation(ctx context.Context, e keeper.AIEvaluation) error {
	rec := aiEvaluationRecord{
		EigenID: e.EigenID, ProposedReason: e.ProposedAction.Reason, Approved: e.Approved, Confidence: e.Confidence,
		Reason: e.Reason, AdjustedAmount: bigIntToString(e.AdjustedAmount), SuggestedWaitMS: e.SuggestedWaitMS,
		Model: e.Model, LatencyMS: e.LatencyMS, InputTokens: e.InputTokens, OutputTokens: e.OutputTokens, Timestamp: e.Timestamp,
	}
	if result := s.db.WithContext(ctx).Create(&rec); result.Error != nil {
		return fmt.Errorf("failed to append AI evaluation for %s: %w", e.EigenID, result.Error)
	}
	return nil
}

// RecentTrades loads the most recent limit trades for eigenID, newest
// first, for the AI evaluator's prompt context.
func (s *Store) RecentTrades(ctx context.Context, eigenID string, limit int) ([]keeper.TradeRecord, error) {
	var recs []tradeRecord
	if err := s.db.WithContext(ctx).Where("eigen_id = ?", eigenID).Order("timestamp desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent trades for %s: %w", eigenID, err)
	}
	out := make([]keeper.TradeRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, keeper.TradeRecord{
			ID: r.ID, EigenID: r.EigenID, Type: keeper.TradeType(r.Type), Wallet: common.HexToAddress(r.Wallet), Token: common.HexToAddress(r.Token),
			SignedAmount: stringToBigInt(r.SignedAmount), ExecutionPrice: stringToBigFloat(r.ExecutionPrice),
			RealizedPnL: stringToBigFloat(r.RealizedPnL), GasCost: stringToBigInt(r.GasCost),
			TxHash: common.HexToHash(r.TxHash), Router: common.HexToAddress(r.Router), PoolVersion: r.PoolVersion, Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// RecentPriceSnapshots loads the most recent limit snapshots for token,
// newest first.
func (s *Store) RecentPriceSnapshots(ctx context.Context, token common.Address, limit int) ([]keeper.PriceSnapshot, error) {
	var recs []priceSnapshotRecord
	if err := s.db.WithContext(ctx).Where("token = ?", token.Hex()).Order("timestamp desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent snapshots for %s: %w", token.Hex(), err)
	}
	out := make([]keeper.PriceSnapshot, 0, len(recs))
	for _, r := range recs {
		out = append(out, keeper.PriceSnapshot{Token: common.HexToAddress(r.Token), Price: stringToBigFloat(r.Price), Source: r.Source, Timestamp: r.Timestamp})
	}
	return out, nil
}

var _ keeper.Store = (*Store)(nil)
