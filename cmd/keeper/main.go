// Command keeper is the eigenkeeper process entrypoint: it loads
// configuration and the master secret, wires the Local Store, Chain
// Gateway, wallet/nonce managers, sell executor, per-eigen processor,
// and scheduler, then runs the poll loop until terminated. Wiring order
// and the encrypted-secret bootstrap follow the teacher's cmd/main.go.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	keeper "github.com/eigenlabs/eigenkeeper"
	"github.com/eigenlabs/eigenkeeper/alerts"
	"github.com/eigenlabs/eigenkeeper/configs"
	"github.com/eigenlabs/eigenkeeper/internal/db"
	"github.com/eigenlabs/eigenkeeper/llm"
	"github.com/eigenlabs/eigenkeeper/pkg/gateway"
	"github.com/eigenlabs/eigenkeeper/pkg/poolresolver"
	"github.com/eigenlabs/eigenkeeper/pkg/swapdecoder"
	"github.com/eigenlabs/eigenkeeper/pkg/swapencoder"
	"github.com/eigenlabs/eigenkeeper/pkg/txlistener"
	"github.com/eigenlabs/eigenkeeper/pkg/util"
	"github.com/eigenlabs/eigenkeeper/pkg/vaultclient"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("keeper exited")
		os.Exit(1)
	}
}

func run() error {
	// godotenv.Load is a no-op (and its error ignored) when .env is
	// absent, matching dev-only convenience; production relies on the
	// environment already being populated.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}
	cfg, err := configs.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	masterSecret, err := loadMasterSecret()
	if err != nil {
		return fmt.Errorf("failed to load master secret: %w", err)
	}
	if err := util.ValidateHexPrivateKey(masterSecret); err != nil {
		return fmt.Errorf("invalid master secret: %w", err)
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to dial rpc %s: %w", cfg.RPCURL, err)
	}

	store, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	listener := txlistener.NewTxListener(client)

	nonces := keeper.NewNonceManager(client)

	gw, err := gateway.New(client, common.HexToAddress(cfg.MulticallAddr), listener, nonces)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	wm, err := keeper.NewWalletManager(store, gw, masterSecret)
	if err != nil {
		return fmt.Errorf("failed to build wallet manager: %w", err)
	}

	vaultAddr := common.HexToAddress(os.Getenv("VAULT_ADDRESS"))
	vault, err := vaultclient.New(client, vaultAddr, wm.MasterAddress(), wm.MasterPrivateKey())
	if err != nil {
		return fmt.Errorf("failed to build vault client: %w", err)
	}

	wrappedNative := common.HexToAddress(os.Getenv("WRAPPED_NATIVE_ADDRESS"))
	routerAddr := common.HexToAddress(os.Getenv("SWAP_ROUTER_ADDRESS"))
	encoder, err := swapencoder.New(routerAddr, wrappedNative)
	if err != nil {
		return fmt.Errorf("failed to build swap encoder: %w", err)
	}

	decoder, err := swapdecoder.New(true)
	if err != nil {
		return fmt.Errorf("failed to build swap decoder: %w", err)
	}

	resolver := poolresolver.New()
	reactiveDetector := keeper.NewReactiveDetector(gw, decoder)
	oracle := keeper.NewPriceOracle(gw, store)
	sellExecutor := keeper.NewSellExecutor(gw, wm, encoder, wrappedNative)

	sink := alerts.New(cfg.WebhookURL)

	var aiGate keeper.AIGate
	if cfg.AI.Enabled {
		provider, err := llm.NewProvider(llm.Config{
			Enabled:             cfg.AI.Enabled,
			Provider:            llm.ProviderKind(cfg.AI.Provider),
			Model:               cfg.AI.Model,
			ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
			TimeoutMS:           cfg.AI.TimeoutMS,
			APIKey:              cfg.AI.APIKey,
			BaseURL:             cfg.AI.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to build AI provider: %w", err)
		}
		evaluator := llm.NewEvaluator(llm.Config{
			Enabled:             cfg.AI.Enabled,
			ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
			TimeoutMS:           cfg.AI.TimeoutMS,
		}, provider)
		aiGate = llm.NewGate(evaluator, store)
	}

	processor := keeper.NewEigenProcessor(
		store, gw, wm, resolver, reactiveDetector, oracle, sellExecutor, encoder,
		vault, aiGate, nil, vaultAddr,
	)

	minGas, _ := etherToWei(cfg.MinKeeperGasBalanceEth).Int(nil)
	lowGas, _ := etherToWei(cfg.LowKeeperGasBalanceEth).Int(nil)

	schedCfg := keeper.SchedulerConfig{
		PollInterval:            cfg.PollInterval(),
		TradeConcurrency:        cfg.TradeConcurrency,
		CycleGasBudget:          big.NewFloat(cfg.CycleGasBudgetEth),
		MinKeeperGas:            minGas,
		LowKeeperGas:            lowGas,
		CircuitBreakerWindow:    5 * time.Minute,
		CircuitBreakerThreshold: 10,
	}

	scheduler := keeper.NewScheduler(schedCfg, store, gw, wm, nonces, sink, processor, wm.MasterAddress(), vaultAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("keeper_address", wm.MasterAddress().Hex()).Msg("starting eigenkeeper")
	return scheduler.Run(ctx)
}

// etherToWei converts a decimal-ether float64 into wei, matching the
// weiToEther/etherToWei pair process.go uses internally for balances.
func etherToWei(ether float64) *big.Float {
	return new(big.Float).Mul(big.NewFloat(ether), big.NewFloat(1e18))
}

// loadMasterSecret resolves the keeper's master private key: either a
// plaintext KEEPER_PRIVATE_KEY, or an AES-256-GCM-encrypted ENC_PK paired
// with a KEY passphrase, the same two-env-var bootstrap the teacher's
// cmd/main.go uses before dialing anything.
func loadMasterSecret() (string, error) {
	if pk := os.Getenv("KEEPER_PRIVATE_KEY"); pk != "" {
		return pk, nil
	}

	encPK := os.Getenv("ENC_PK")
	passphrase := os.Getenv("KEY")
	if encPK == "" || passphrase == "" {
		return "", fmt.Errorf("neither KEEPER_PRIVATE_KEY nor ENC_PK/KEY are set")
	}

	key := util.MasterKeyFromSecret(passphrase)
	pk, err := util.Decrypt(key[:], encPK)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt ENC_PK: %w", err)
	}
	return pk, nil
}
