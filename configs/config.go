// Package configs loads the process-wide startup configuration (spec
// §6) the way the teacher's configs/config.go loads its YAML file: a
// plain struct populated by yaml.Unmarshal, with a translator method
// that turns it into the wiring cmd/keeper/main.go needs. Numeric knobs
// that also have environment-variable overrides (the twelve-factor
// style the teacher's cmd/main.go already reads ENC_PK/KEY from) are
// layered on top of the YAML defaults.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AIConfig is the LLM Evaluator's configuration block (spec §4.7).
type AIConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Provider             string `yaml:"provider"`
	Model                string `yaml:"model"`
	APIKey               string `yaml:"api_key"`
	BaseURL              string `yaml:"base_url"`
	ConfidenceThreshold  int    `yaml:"confidence_threshold"`
	TimeoutMS            int    `yaml:"timeout_ms"`
}

// Config is the full set of startup knobs (spec §6's Configuration
// table), read once at process start and never hot-reloaded.
type Config struct {
	RPCURL         string `yaml:"rpc_url"`
	ChainID        int64  `yaml:"chain_id"`
	MulticallAddr  string `yaml:"multicall_address"`
	DatabaseDSN    string `yaml:"database_dsn"`
	WebhookURL     string `yaml:"webhook_url"`

	PollIntervalMS         int     `yaml:"poll_interval_ms"`
	TradeConcurrency       int     `yaml:"trade_concurrency"`
	CycleGasBudgetEth      float64 `yaml:"cycle_gas_budget_eth"`
	SpendRateThresholdPct  float64 `yaml:"spend_rate_threshold_pct"`

	MinKeeperGasBalanceEth float64 `yaml:"min_keeper_gas_balance_eth"`
	LowKeeperGasBalanceEth float64 `yaml:"low_keeper_gas_balance_eth"`

	PriceSnapshotIntervalMS int `yaml:"price_snapshot_interval_ms"`
	LPCompoundIntervalMS    int `yaml:"lp_compound_interval_ms"`
	ReputationPostIntervalMS int `yaml:"reputation_post_interval_ms"`

	AI AIConfig `yaml:"ai"`
}

// defaults mirrors spec §6's named defaults so a minimal YAML file still
// produces a runnable configuration. The file itself must exist:
// LoadConfig returns an error when it cannot be read.
func defaults() Config {
	return Config{
		PollIntervalMS:           15000,
		TradeConcurrency:         5,
		CycleGasBudgetEth:        0.05,
		SpendRateThresholdPct:    30,
		PriceSnapshotIntervalMS:  60000,
		LPCompoundIntervalMS:     3600000,
		ReputationPostIntervalMS: 3600000,
		AI: AIConfig{
			ConfidenceThreshold: 70,
			TimeoutMS:           2000,
		},
	}
}

// LoadConfig reads path as YAML over the default knob set, then applies
// environment-variable overrides for every name spec §6 lists, the same
// override order the teacher's cmd/main.go uses for its encrypted
// private key (env first, file second).
func LoadConfig(path string) (*Config, error) {
	c := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(&c)

	return &c, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.WebhookURL = v
	}
	if v := envInt("POLL_INTERVAL"); v != nil {
		c.PollIntervalMS = *v
	}
	if v := envInt("TRADE_CONCURRENCY"); v != nil {
		c.TradeConcurrency = *v
	}
	if v := envFloat("CYCLE_GAS_BUDGET"); v != nil {
		c.CycleGasBudgetEth = *v
	}
	if v := envFloat("SPEND_RATE_THRESHOLD_PCT"); v != nil {
		c.SpendRateThresholdPct = *v
	}
	if v := envFloat("MIN_KEEPER_GAS_BALANCE"); v != nil {
		c.MinKeeperGasBalanceEth = *v
	}
	if v := envFloat("LOW_KEEPER_GAS_BALANCE"); v != nil {
		c.LowKeeperGasBalanceEth = *v
	}
	if v := envInt("PRICE_SNAPSHOT_INTERVAL"); v != nil {
		c.PriceSnapshotIntervalMS = *v
	}
	if v := envInt("LP_COMPOUND_INTERVAL"); v != nil {
		c.LPCompoundIntervalMS = *v
	}
	if v := envInt("REPUTATION_POST_INTERVAL"); v != nil {
		c.ReputationPostIntervalMS = *v
	}

	if v := os.Getenv("AI_EVALUATION_ENABLED"); v != "" {
		c.AI.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		c.AI.Provider = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("AI_BASE_URL"); v != "" {
		c.AI.BaseURL = v
	}
	if v := envInt("AI_CONFIDENCE_THRESHOLD"); v != nil {
		c.AI.ConfidenceThreshold = *v
	}
	if v := envInt("AI_TIMEOUT_MS"); v != nil {
		c.AI.TimeoutMS = *v
	}
}

func envInt(name string) *int {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func envFloat(name string) *float64 {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

// PollInterval is PollIntervalMS as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// PriceSnapshotInterval is PriceSnapshotIntervalMS as a time.Duration.
func (c *Config) PriceSnapshotInterval() time.Duration {
	return time.Duration(c.PriceSnapshotIntervalMS) * time.Millisecond
}

// AITimeout is the AI block's TimeoutMS as a time.Duration.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutMS) * time.Millisecond
}
