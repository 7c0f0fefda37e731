// Package eigenkeeper is the trading control plane: the scheduler, decision
// engine, wallet/nonce managers, position ledger, sell executor, and failure
// state machines that drive a fleet of independent market-making agents
// ("eigens"), each bound to one token and one AMM pool.
package eigenkeeper

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
)

// EigenStatus is the lifecycle state of an EigenConfig.
type EigenStatus string

const (
	StatusActive      EigenStatus = "active"
	StatusSuspended   EigenStatus = "suspended"
	StatusLiquidating EigenStatus = "liquidating"
	StatusLiquidated  EigenStatus = "liquidated"
	StatusTerminated  EigenStatus = "terminated"
)

// WalletSource selects how an eigen's sub-wallets are obtained.
type WalletSource string

const (
	WalletSourceDerived  WalletSource = "derived"
	WalletSourceImported WalletSource = "imported"
)

// TradeType tags a TradeRecord's origin.
type TradeType string

const (
	TradeBuy          TradeType = "buy"
	TradeSell         TradeType = "sell"
	TradeProfitTake   TradeType = "profit_take"
	TradeReactiveSell TradeType = "reactive_sell"
	TradeLiquidation  TradeType = "liquidation"
	TradeArbitrage    TradeType = "arbitrage"
)

// PoolRef identifies an AMM pool: version tag, fee tier, tick spacing, an
// optional hook contract, and a derived pool id. The encoder that turns this
// into router calldata is an external collaborator (SwapEncoder).
type PoolRef struct {
	VersionTag  string
	Address     common.Address
	Fee         uint32
	TickSpacing int32
	Hook        *common.Address
	PoolID      *common.Hash
}

// EigenConfig is the tuning knob set for one eigen. Updates to a persisted
// EigenConfig must go through Store.UpdateEigenConfig and its compile-time
// field whitelist (see internal/db); this struct itself has no notion of
// which fields are mutable after creation.
type EigenConfig struct {
	ID      string // short human-readable id, E
	EigenID common.Hash // bytes32 on-chain id, H(E)

	Token     common.Address
	ChainID   int64
	Pool      *PoolRef
	Owner     common.Address
	Status    EigenStatus
	SuspendedReason string
	SuspendedAt     *time.Time

	VolumeTarget      *big.Float
	TradeFrequencyPerHour float64
	OrderSizeMinPct   float64 // percent of balance, e.g. 8.0
	OrderSizeMaxPct   float64
	SpreadWidthBps    int

	ProfitTargetPct float64
	StopLossPct     float64

	WalletCount  int
	SlippageBps  int

	ReactiveSellMode    bool
	ReactiveSellPct     float64
	LastScannedBlock    uint64

	GasBudget *big.Float
	GasSpent  *big.Float

	CustomStrategyPrompt string
	WalletSource         WalletSource
}

// Validate enforces the EigenConfig invariants from the data model: a
// positive wallet count, slippage within the basis-point range, and
// strictly positive stop-loss/profit-target percentages. gas_spent <=
// gas_budget is intentionally not checked here; it is monitored, not
// enforced.
func (c *EigenConfig) Validate() error {
	if c.WalletCount < 1 {
		return errInvalidConfig("wallet-count must be >= 1")
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10000 {
		return errInvalidConfig("slippage bps must be in [0, 10000]")
	}
	if c.StopLossPct <= 0 {
		return errInvalidConfig("stop-loss must be positive")
	}
	if c.ProfitTargetPct <= 0 {
		return errInvalidConfig("profit-target must be positive")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errInvalidConfig(msg string) error { return configError("invalid eigen config: " + msg) }

// SubWallet is one of an eigen's N deterministic wallets. Address is a pure
// function of (masterSecret, eigen, index) for the derived source; the
// private key itself is never persisted and is rederived on demand by the
// wallet manager.
type SubWallet struct {
	EigenID     string
	Index       int
	Address     common.Address
	LastTradeAt *time.Time
	TradeCount  int
}

// ImportedWallet has the same shape as SubWallet plus an authenticated,
// encrypted private key. The encryption key is sha256(masterSecret); the
// decrypted key must be a syntactically valid 0x-prefixed hex private key
// and is never logged.
type ImportedWallet struct {
	EigenID          string
	Index            int
	Address          common.Address
	LastTradeAt      *time.Time
	TradeCount       int
	EncryptedKeyBlob string // base64(nonce || ciphertext || tag)
}

// TokenPosition is the per-(eigen, token, wallet) holding. AmountRaw is
// integer base units; EntryPrice is base-asset per token; TotalCost is in
// base asset. When AmountRaw is zero, EntryPrice and TotalCost must also be
// zero — see ledger.go for the operations that preserve this invariant.
type TokenPosition struct {
	EigenID    string
	Token      common.Address
	Wallet     common.Address
	AmountRaw  *big.Int
	EntryPrice *big.Float
	TotalCost  *big.Float
}

// TradeRecord is an append-only log of one executed trade.
type TradeRecord struct {
	ID             uint
	EigenID        string
	Type           TradeType
	Wallet         common.Address
	Token          common.Address
	SignedAmount   *big.Int // positive for buys, negative for sells
	ExecutionPrice *big.Float
	RealizedPnL    *big.Float
	GasCost        *big.Int
	TxHash         common.Hash
	Router         common.Address
	PoolVersion    string
	Timestamp      time.Time
}

// PriceSnapshot is an append-only observation used for AI context, UI
// charts, and volatility estimation.
type PriceSnapshot struct {
	Token     common.Address
	Price     *big.Float
	Source    string
	Timestamp time.Time
}

// AIEvaluation is an append-only record of one AI Evaluator call.
type AIEvaluation struct {
	EigenID             string
	ProposedAction      Action
	Approved            bool
	Confidence          int
	Reason              string
	AdjustedAmount      *big.Int   // resized Sell.BaseAmount, when ProposedAction is a sell
	AdjustedQuoteAmount *big.Float // resized Buy.QuoteAmount, when ProposedAction is a buy
	SuggestedWaitMS     int
	Model               string
	LatencyMS           int64
	InputTokens         int
	OutputTokens        int
	Timestamp           time.Time
}

// SellVariant distinguishes the circumstance under which a Sell action was
// produced, for TradeRecord.Type tagging and alerting.
type SellVariant string

const (
	SellPlain       SellVariant = "plain"
	SellProfitTake  SellVariant = "profit_take"
	SellReactive    SellVariant = "reactive"
	SellLiquidation SellVariant = "liquidation"
	SellStopLoss    SellVariant = "stop_loss"
)

// Action is the sum type a decision produces. Exactly one of Buy/Sell is
// non-nil; IsNoOp is true when the decision engine found no rule to fire.
type Action struct {
	Buy    *BuyAction
	Sell   *SellAction
	Reason string // always set, even for no-op, for diagnostic logging
}

// BuyAction spends QuoteAmount of native/quote asset.
type BuyAction struct {
	QuoteAmount *big.Float
}

// SellAction disposes of BaseAmount token units (base units, not decimal).
type SellAction struct {
	BaseAmount *big.Int
	Variant    SellVariant
}

// IsNoOp reports whether the action carries neither a buy nor a sell.
func (a Action) IsNoOp() bool { return a.Buy == nil && a.Sell == nil }

// NoAction builds a no-op Action carrying a diagnostic reason.
func NoAction(reason string) Action { return Action{Reason: reason} }

// NonceState is the in-memory per-address nonce cache kept by the nonce
// manager. Initialized is false until the first acquire reads the chain's
// pending transaction count.
type NonceState struct {
	Current     uint64
	Initialized bool
}

// SellFailureState is the in-memory per-eigen sell-block cooldown state.
type SellFailureState struct {
	ConsecutiveFailures int
	LastFailureAt       time.Time
	LastError           string
}

// SpendTracker is the in-memory per-eigen rolling-hour spend window used by
// the high-spend-rate alert.
type SpendTracker struct {
	TotalSpent   *big.Float
	MaxVaultSeen *big.Float
	WindowStart  time.Time
	Alerted      bool // true once the threshold alert has fired for this window
}

// EigenState is the scheduler's per-cycle working set for one eigen:
// config plus everything read from the chain and the store before the
// decision engine runs.
type EigenState struct {
	Config          *EigenConfig
	Wallets         []SubWallet
	NativeBalance   *big.Float
	Positions       []TokenPosition
	CurrentPrice    *big.Float
	LastTradeAt     *time.Time
	ExternalBuy     *ExternalBuySignal
	Pool            *PoolRef
}

// ExternalBuySignal carries the Reactive-Sell Detector's result for one
// eigen's scan window.
type ExternalBuySignal struct {
	BuyCount           int
	TotalBaseIn         *big.Float
	LatestBlockScanned uint64
}

// Store is the Local Store port: durable mapping of eigen configs,
// positions, trades, price snapshots, sub-wallet metadata, and AI
// evaluations. Implemented by internal/db against GORM.
type Store interface {
	GetEigenConfig(ctx context.Context, eigenID string) (*EigenConfig, error)
	ListActiveEigenConfigs(ctx context.Context) ([]*EigenConfig, error)
	UpdateEigenConfig(ctx context.Context, eigenID string, fields EigenConfigUpdate) error
	SetEigenStatus(ctx context.Context, eigenID string, status EigenStatus, reason string) error
	UpdateScannedBlock(ctx context.Context, eigenID string, block uint64) error

	GetSubWallets(ctx context.Context, eigenID string) ([]SubWallet, error)
	UpsertSubWallet(ctx context.Context, w SubWallet) error
	RecordSubWalletTrade(ctx context.Context, eigenID string, index int, at time.Time) error

	GetImportedWallets(ctx context.Context, eigenID string) ([]ImportedWallet, error)
	RecordImportedWalletTrade(ctx context.Context, eigenID string, index int, at time.Time) error

	GetPosition(ctx context.Context, eigenID string, token, wallet common.Address) (*TokenPosition, error)
	ListPositions(ctx context.Context, eigenID string) ([]TokenPosition, error)
	SavePosition(ctx context.Context, p TokenPosition) error

	AppendTrade(ctx context.Context, t TradeRecord) error
	AppendPriceSnapshot(ctx context.Context, s PriceSnapshot) error
	AppendAIEvaluation(ctx context.Context, e AIEvaluation) error

	RecentTrades(ctx context.Context, eigenID string, limit int) ([]TradeRecord, error)
	RecentPriceSnapshots(ctx context.Context, token common.Address, limit int) ([]PriceSnapshot, error)
}

// EigenConfigUpdate is the whitelisted set of EigenConfig fields a caller
// may mutate through Store.UpdateEigenConfig. Any field this struct does
// not name is simply unreachable through the Store interface, per the
// compile-time-whitelist design note: a non-whitelisted name is a compile
// error here, not a runtime filter.
type EigenConfigUpdate struct {
	VolumeTarget           *big.Float
	TradeFrequencyPerHour  *float64
	OrderSizeMinPct        *float64
	OrderSizeMaxPct        *float64
	SpreadWidthBps         *int
	ProfitTargetPct        *float64
	StopLossPct            *float64
	WalletCount            *int
	SlippageBps            *int
	ReactiveSellMode       *bool
	ReactiveSellPct        *float64
	CustomStrategyPrompt   *string
}

// Gateway is the Chain Gateway port (spec §4.1): balance/log/call/send
// reads and writes against one chain, implemented by pkg/gateway on top
// of go-ethereum's ethclient.Client and pkg/txlistener.
type Gateway interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Multicall(ctx context.Context, calls []kptypes.Call) ([]kptypes.CallResult, error)
	BatchTokenBalances(ctx context.Context, token common.Address, holders []common.Address) ([]*big.Int, error)
	BatchNativeBalances(ctx context.Context, addrs []common.Address) ([]*big.Int, error)
	GetLogs(ctx context.Context, filter kptypes.LogFilter) ([]kptypes.Log, error)
	ReadSlot0(ctx context.Context, pool common.Address) (sqrtPriceX96 *big.Int, tick int, err error)
	Transfer(ctx context.Context, from common.Address, pk *ecdsa.PrivateKey, to common.Address, amountWei *big.Int) (common.Hash, error)
	SendCalldata(ctx context.Context, from common.Address, pk *ecdsa.PrivateKey, to common.Address, calldata []byte, value *big.Int) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*kptypes.TxReceipt, error)
}

// VaultClient is the external vault-contract collaborator (spec
// GLOSSARY): on the vault-mediated chain the core only calls deposit,
// executeBuy, returnEth, keeperTerminate, getNetBalance, and
// getEigenInfo.
type VaultClient interface {
	Deposit(ctx context.Context, eigenID common.Hash, amountWei *big.Int) (common.Hash, error)
	ExecuteBuy(ctx context.Context, eigenID common.Hash, wallet common.Address, amountWei *big.Int, minOut *big.Int) (common.Hash, error)
	ReturnEth(ctx context.Context, eigenID common.Hash, amountWei *big.Int) (common.Hash, error)
	KeeperTerminate(ctx context.Context, eigenID common.Hash) (common.Hash, error)
	GetNetBalance(ctx context.Context, eigenID common.Hash) (*big.Int, error)
	GetEigenInfo(ctx context.Context, eigenID common.Hash) (VaultEigenInfo, error)
}

// VaultEigenInfo is the shape GetEigenInfo returns.
type VaultEigenInfo struct {
	NetBalance *big.Int
	Active     bool
}

// SwapEncoder is the external AMM-version-specific calldata encoder (spec
// §6): given a swap direction and parameters it returns the router to call
// and the calldata to send, without the core needing to know which AMM
// version is in play.
type SwapEncoder interface {
	EncodeSwap(direction SwapDirection, token common.Address, amount *big.Int, pool *PoolRef, recipient common.Address, minOut *big.Int) (router common.Address, calldata []byte, err error)
}

// SwapDirection is which side of the pool a swap moves.
type SwapDirection string

const (
	SwapBuy  SwapDirection = "buy"  // native/quote -> token
	SwapSell SwapDirection = "sell" // token -> native/quote
)

// PoolResolver is the external collaborator that resolves an EigenConfig's
// token/chain into a concrete PoolRef, reconciling the indexer, a local
// cache, and direct on-chain queries (design note: precedence is
// "indexer -> cache -> direct").
type PoolResolver interface {
	ResolvePool(ctx context.Context, cfg *EigenConfig) (*PoolRef, error)
}

// ReactiveDetector is the Reactive-Sell Detector port (spec §4.11).
type ReactiveDetector interface {
	ScanExternalBuys(ctx context.Context, cfg *EigenConfig, pool *PoolRef, fromBlock, currentBlock uint64, excluded []common.Address) (*ExternalBuySignal, error)
}
