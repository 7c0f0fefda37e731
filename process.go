package eigenkeeper

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ckutil "github.com/eigenlabs/eigenkeeper/pkg/util"
)

// EigenProcessor implements the Per-Eigen Processing pipeline (spec
// §4.9): state assembly, self-healing, position sync, deployment burst,
// decision, AI gate, sell-block gate, and execution.
type EigenProcessor struct {
	store     Store
	gateway   Gateway
	wm        *WalletManager
	resolver  PoolResolver
	detector  ReactiveDetector
	oracle    *PriceOracle
	sell      *SellExecutor
	encoder   SwapEncoder
	vault     VaultClient
	ai        AIGate
	rng       RandSource
	vaultAddr common.Address
}

// AIGate is the narrow surface ProcessEigen needs from the AI Evaluator,
// so this file doesn't need to depend on the llm package (which in turn
// depends on this package). llm.Gate satisfies this by adapting the real
// Evaluator's EvalContext-shaped call.
type AIGate interface {
	Evaluate(ctx context.Context, action Action, state *EigenState) AIEvaluation
}

// NewEigenProcessor builds an EigenProcessor.
func NewEigenProcessor(
	store Store, gateway Gateway, wm *WalletManager, resolver PoolResolver,
	detector ReactiveDetector, oracle *PriceOracle, sell *SellExecutor, encoder SwapEncoder,
	vault VaultClient, ai AIGate, rng RandSource, vaultAddr common.Address,
) *EigenProcessor {
	if rng == nil {
		rng = DefaultRand
	}
	return &EigenProcessor{
		store: store, gateway: gateway, wm: wm, resolver: resolver,
		detector: detector, oracle: oracle, sell: sell, encoder: encoder,
		vault: vault, ai: ai, rng: rng, vaultAddr: vaultAddr,
	}
}

// BuildState assembles an EigenState for cfg: wallets, balances,
// positions, pool, price, and the reactive-sell scan (spec §4.8 step 1 +
// the reactive-sell cursor bookkeeping from §4.5 step 3).
func (p *EigenProcessor) BuildState(ctx context.Context, cfg *EigenConfig) (*EigenState, error) {
	wallets, err := p.wm.WalletsFor(ctx, cfg, cfg.WalletCount)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve wallets for %s: %w", cfg.ID, err)
	}

	positions, err := p.store.ListPositions(ctx, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for %s: %w", cfg.ID, err)
	}

	pool, err := p.resolver.ResolvePool(ctx, cfg)
	if err != nil {
		// pool unresolved: this eigen is skipped this cycle. The error
		// reaches RunCycle, which emits a state_build_failed warning alert
		// for it as for any other BuildState error.
		return nil, fmt.Errorf("pool unresolved for %s: %w", cfg.ID, err)
	}

	var price *big.Float
	if pool != nil {
		price, err = p.oracle.SpotPrice(ctx, pool)
		if err != nil {
			price = big.NewFloat(0)
		}
	}

	// Batched through Multicall rather than one eth_call per wallet
	// (spec §5: "RPC limits are respected by batching reads into
	// multicall").
	nativeBalance := new(big.Float)
	addrs := make([]common.Address, len(wallets))
	for i, w := range wallets {
		addrs[i] = w.Address
	}
	if balances, err := p.gateway.BatchNativeBalances(ctx, addrs); err == nil {
		for _, bal := range balances {
			if bal != nil {
				nativeBalance.Add(nativeBalance, weiToEther(bal))
			}
		}
	}

	var lastTrade *time.Time
	for _, w := range wallets {
		if w.LastTradeAt != nil && (lastTrade == nil || w.LastTradeAt.After(*lastTrade)) {
			lastTrade = w.LastTradeAt
		}
	}

	state := &EigenState{
		Config: cfg, Wallets: wallets, NativeBalance: nativeBalance,
		Positions: positions, CurrentPrice: price, LastTradeAt: lastTrade, Pool: pool,
	}

	if cfg.ReactiveSellMode && pool != nil {
		signal, err := p.runReactiveScan(ctx, cfg, pool, wallets)
		if err == nil {
			state.ExternalBuy = signal
		}
	}

	return state, nil
}

func (p *EigenProcessor) runReactiveScan(ctx context.Context, cfg *EigenConfig, pool *PoolRef, wallets []SubWallet) (*ExternalBuySignal, error) {
	current, err := p.gateway.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	from := cfg.LastScannedBlock + 1
	if cfg.LastScannedBlock == 0 {
		from = current
	}
	excluded := ExcludedAddresses(p.wm.MasterAddress(), p.vaultAddr, wallets, nil)
	signal, err := p.detector.ScanExternalBuys(ctx, cfg, pool, from, current, excluded)
	if err != nil {
		return nil, err
	}
	// The new cursor is always persisted, even when no buys were found.
	_ = p.store.UpdateScannedBlock(ctx, cfg.ID, signal.LatestBlockScanned)
	cfg.LastScannedBlock = signal.LatestBlockScanned
	return signal, nil
}

// SelfHeal runs the recovery pass (spec §4.8 step 2) for one eigen:
// stranded-asset recovery from every sub-wallet. Liquidation continuation
// for liquidating/terminated eigens is handled by the same recovery call
// since RecoverStranded is idempotent and safe regardless of status.
func (p *EigenProcessor) SelfHeal(ctx context.Context, state *EigenState, keeperAddr, vaultAddr common.Address) {
	for _, w := range state.Wallets {
		if err := p.sell.RecoverStranded(ctx, state.Config, w, keeperAddr, vaultAddr); err != nil {
			// recovery failures are logged by the caller's alert path, never fatal
			continue
		}
	}
}

// ProcessEigen runs steps 1-7 of §4.9 for one eigen.
func (p *EigenProcessor) ProcessEigen(
	ctx context.Context,
	state *EigenState,
	gasBudget *GasBudget,
	failures *FailureTracker,
	keeperAddr, vaultAddr common.Address,
	vaultless bool,
) error {
	cfg := state.Config

	// 2. On-chain position sync.
	if err := p.syncPositions(ctx, state); err != nil {
		return fmt.Errorf("position sync failed for %s: %w", cfg.ID, err)
	}

	// 3. Deployment burst.
	if err := p.maybeDeploymentBurst(ctx, state, gasBudget, failures, keeperAddr, vaultless); err != nil {
		return fmt.Errorf("deployment burst failed for %s: %w", cfg.ID, err)
	}

	// 4. Decide.
	action := Decide(state, p.rng)
	if action.IsNoOp() {
		return nil
	}

	// 5. AI gate.
	if p.ai != nil {
		eval := p.ai.Evaluate(ctx, action, state)
		_ = p.store.AppendAIEvaluation(ctx, eval)
		if !eval.Approved {
			return nil
		}
		if eval.AdjustedAmount != nil && action.Sell != nil {
			action.Sell.BaseAmount = eval.AdjustedAmount
		}
		if eval.AdjustedQuoteAmount != nil && action.Buy != nil {
			action.Buy.QuoteAmount = eval.AdjustedQuoteAmount
		}
	}

	// 6. Sell-block gate.
	if action.Sell != nil && failures.IsBlocked(cfg.ID) {
		nativeF, _ := state.NativeBalance.Float64()
		if nativeF > minNativeFloor {
			action = Action{Buy: &BuyAction{QuoteAmount: big.NewFloat(nativeF * cfg.OrderSizeMinPct / 100)}, Reason: "sell_block_fallback_buy"}
		} else {
			return nil
		}
	}

	// 7. Execute.
	if action.Buy != nil {
		return p.executeBuy(ctx, state, action.Buy, gasBudget, failures, keeperAddr, vaultless)
	}
	return p.executeSell(ctx, state, action.Sell, failures, keeperAddr, vaultAddr)
}

func (p *EigenProcessor) syncPositions(ctx context.Context, state *EigenState) error {
	addrs := make([]common.Address, len(state.Wallets))
	for i, w := range state.Wallets {
		addrs[i] = w.Address
	}
	chainBalances, err := p.gateway.BatchTokenBalances(ctx, state.Config.Token, addrs)
	if err != nil {
		chainBalances = nil
	}

	for i, w := range state.Wallets {
		var chainBal *big.Int
		if chainBalances != nil && chainBalances[i] != nil {
			chainBal = chainBalances[i]
		} else {
			var err error
			chainBal, err = p.gateway.TokenBalance(ctx, state.Config.Token, w.Address)
			if err != nil {
				continue
			}
		}
		pos, err := p.store.GetPosition(ctx, state.Config.ID, state.Config.Token, w.Address)
		if err != nil {
			continue
		}
		dbHas := pos != nil && pos.AmountRaw != nil && pos.AmountRaw.Sign() > 0
		chainHas := chainBal.Sign() > 0

		switch {
		case dbHas && !chainHas:
			// external sale: clear DB position, P&L = 0
			pos.AmountRaw = new(big.Int)
			pos.EntryPrice = new(big.Float)
			pos.TotalCost = new(big.Float)
			_ = p.store.SavePosition(ctx, *pos)
		case !dbHas && chainHas:
			// reconstruct position at current price as entry
			newPos := TokenPosition{
				EigenID: state.Config.ID, Token: state.Config.Token, Wallet: w.Address,
				AmountRaw: new(big.Int).Set(chainBal), EntryPrice: state.CurrentPrice,
			}
			newPos.TotalCost = new(big.Float).Mul(new(big.Float).SetInt(chainBal), state.CurrentPrice)
			_ = p.store.SavePosition(ctx, newPos)
		}
		// dbHas && chainHas: trust DB, no action.
	}
	return nil
}

func (p *EigenProcessor) maybeDeploymentBurst(ctx context.Context, state *EigenState, gasBudget *GasBudget, failures *FailureTracker, keeperAddr common.Address, vaultless bool) error {
	agg := AggregatePositions(state.Positions)
	anyHolds := agg.AmountRaw != nil && agg.AmountRaw.Sign() > 0
	nativeF, _ := state.NativeBalance.Float64()
	if anyHolds || nativeF <= deploymentMinThreshold {
		return nil
	}

	empty := make([]SubWallet, 0, len(state.Wallets))
	for _, w := range state.Wallets {
		if !walletHoldsToken(state.Positions, w.Address) {
			empty = append(empty, w)
		}
	}
	if len(empty) == 0 {
		return nil
	}

	perWallet := 0.8 * nativeF / float64(len(empty))

	for i, w := range empty {
		if !gasBudget.CanAfford(cycleEstimate) {
			break
		}
		if _, err := p.wm.FundIfNeeded(ctx, w.Address, state.Config); err != nil {
			continue
		}
		if err := p.executeBuyToWallet(ctx, state, w, big.NewFloat(perWallet), gasBudget, failures, keeperAddr, vaultless); err != nil {
			continue
		}
		if i < len(empty)-1 {
			time.Sleep(interTradeDelay)
		}
	}
	return nil
}

func (p *EigenProcessor) executeBuy(ctx context.Context, state *EigenState, buy *BuyAction, gasBudget *GasBudget, failures *FailureTracker, keeperAddr common.Address, vaultless bool) error {
	wallet, err := Select(state.Wallets)
	if err != nil {
		return err
	}
	return p.executeBuyToWallet(ctx, state, wallet, buy.QuoteAmount, gasBudget, failures, keeperAddr, vaultless)
}

// executeBuyToWallet spends quoteAmount of native asset buying
// state.Config.Token into wallet, either directly against the pool
// (vaultless chains) or through the vault's executeBuy entrypoint.
func (p *EigenProcessor) executeBuyToWallet(
	ctx context.Context,
	state *EigenState,
	wallet SubWallet,
	quoteAmount *big.Float,
	gasBudget *GasBudget,
	failures *FailureTracker,
	keeperAddr common.Address,
	vaultless bool,
) error {
	cfg := state.Config
	if _, err := p.wm.FundIfNeeded(ctx, wallet.Address, cfg); err != nil {
		return err
	}

	amountWei := etherToWei(quoteAmount)
	if amountWei.Sign() <= 0 {
		return fmt.Errorf("non-positive buy amount for wallet %s", wallet.Address.Hex())
	}

	preTok, err := p.gateway.TokenBalance(ctx, cfg.Token, wallet.Address)
	if err != nil {
		return fmt.Errorf("failed to read pre-buy token balance: %w", err)
	}

	if vaultless {
		pk, err := p.wm.PrivateKeyFor(ctx, cfg, wallet)
		if err != nil {
			return err
		}
		router, calldata, err := p.encoder.EncodeSwap(SwapBuy, cfg.Token, amountWei, state.Pool, wallet.Address, big.NewInt(0))
		if err != nil {
			return fmt.Errorf("failed to encode buy swap: %w", err)
		}
		txHash, err := p.gateway.SendCalldata(ctx, wallet.Address, pk, router, calldata, amountWei)
		if err != nil {
			return fmt.Errorf("buy swap send failed: %w", err)
		}
		receipt, err := p.gateway.WaitReceipt(ctx, txHash, 90*time.Second)
		if err != nil {
			return fmt.Errorf("failed waiting for buy receipt: %w", err)
		}
		if !ckutil.ReceiptSucceeded(receipt) {
			return fmt.Errorf("buy swap reverted: tx %s", txHash.Hex())
		}
	} else if p.vault != nil {
		if _, err := p.vault.ExecuteBuy(ctx, cfg.EigenID, wallet.Address, amountWei, big.NewInt(0)); err != nil {
			return fmt.Errorf("vault executeBuy failed: %w", err)
		}
	} else {
		return fmt.Errorf("no vault client configured for vault-mediated buy")
	}

	postTok, err := p.gateway.TokenBalance(ctx, cfg.Token, wallet.Address)
	if err != nil {
		return fmt.Errorf("failed to read post-buy token balance: %w", err)
	}
	received := new(big.Int).Sub(postTok, preTok)
	if received.Sign() <= 0 {
		received = new(big.Int)
	}

	pos, err := p.store.GetPosition(ctx, cfg.ID, cfg.Token, wallet.Address)
	if err != nil || pos == nil {
		pos = &TokenPosition{EigenID: cfg.ID, Token: cfg.Token, Wallet: wallet.Address, AmountRaw: new(big.Int), TotalCost: new(big.Float), EntryPrice: new(big.Float)}
	}
	if received.Sign() > 0 {
		if err := ApplyBuy(pos, received, state.CurrentPrice); err != nil {
			return err
		}
		if err := p.store.SavePosition(ctx, *pos); err != nil {
			return err
		}
	}

	_ = p.store.AppendTrade(ctx, TradeRecord{
		EigenID: cfg.ID, Type: TradeBuy, Wallet: wallet.Address, Token: cfg.Token,
		SignedAmount: received, ExecutionPrice: state.CurrentPrice, Timestamp: time.Now(),
	})
	_ = p.wm.RecordTrade(ctx, cfg, wallet.Index)

	gasBudget.RecordSpend(quoteAmount)
	failures.RecordSpend(cfg.ID, quoteAmount, state.NativeBalance)
	return nil
}

func (p *EigenProcessor) executeSell(
	ctx context.Context,
	state *EigenState,
	sellAction *SellAction,
	failures *FailureTracker,
	keeperAddr, vaultAddr common.Address,
) error {
	cfg := state.Config
	remaining := new(big.Int).Set(sellAction.BaseAmount)
	anySold := false

	for _, w := range state.Wallets {
		if remaining.Sign() <= 0 {
			break
		}
		chainBal, err := p.gateway.TokenBalance(ctx, cfg.Token, w.Address)
		if err != nil || chainBal.Sign() <= 0 {
			continue
		}
		sellQty := new(big.Int).Set(remaining)
		if sellQty.Cmp(chainBal) > 0 {
			sellQty = chainBal
		}

		if _, err := p.wm.FundIfNeeded(ctx, w.Address, cfg); err != nil {
			continue
		}

		result, err := p.sell.ExecuteSell(ctx, cfg, w, cfg.Token, sellQty, state.Pool, big.NewInt(0), keeperAddr, vaultAddr)
		if err != nil {
			failures.RecordSellFailure(cfg.ID, err.Error())
			continue
		}

		anySold = true
		failures.RecordSellSuccess(cfg.ID)
		remaining = new(big.Int).Sub(remaining, sellQty)

		pos, err := p.store.GetPosition(ctx, cfg.ID, cfg.Token, w.Address)
		if err == nil && pos != nil {
			realized, err := ApplySell(pos, sellQty, state.CurrentPrice)
			if err == nil {
				_ = p.store.SavePosition(ctx, *pos)
				_ = p.store.AppendTrade(ctx, TradeRecord{
					EigenID: cfg.ID, Type: tradeTypeFor(sellAction.Variant), Wallet: w.Address, Token: cfg.Token,
					SignedAmount: new(big.Int).Neg(sellQty), ExecutionPrice: state.CurrentPrice,
					RealizedPnL: realized, TxHash: result.TxHash, Timestamp: time.Now(),
				})
			}
		}
		_ = p.wm.RecordTrade(ctx, cfg, w.Index)
	}

	if !anySold {
		failures.RecordSellFailure(cfg.ID, "no_tokens_in_wallets")
	}
	return nil
}

func tradeTypeFor(v SellVariant) TradeType {
	switch v {
	case SellProfitTake:
		return TradeProfitTake
	case SellReactive:
		return TradeReactiveSell
	case SellLiquidation:
		return TradeLiquidation
	default:
		return TradeSell
	}
}

func weiToEther(wei *big.Int) *big.Float {
	return new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
}

func etherToWei(ether *big.Float) *big.Int {
	scaled := new(big.Float).Mul(ether, big.NewFloat(1e18))
	out := new(big.Int)
	scaled.Int(out)
	return out
}
