// Package llm implements the AI Evaluator (spec §4.6): a pluggable,
// provider-agnostic LLM gate that approves, rejects, or resizes a
// proposed trade, defaulting fail-open when disabled or on any error.
//
// No LLM vendor SDK appears anywhere in the retrieved pack (no
// anthropic-sdk-go, no go-openai), so every provider variant below talks
// plain JSON over net/http.Client, the one ambient concern in this repo
// built on the standard library instead of a third-party client — see
// DESIGN.md.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	keeper "github.com/eigenlabs/eigenkeeper"
)

// ProviderKind tags which concrete variant a Provider is, per the design
// note's tagged-variant pattern; the Evaluator holds a Provider handle and
// never inspects the kind itself.
type ProviderKind string

const (
	HostedA           ProviderKind = "hosted_a"
	HostedB           ProviderKind = "hosted_b"
	LocalOllama       ProviderKind = "local_ollama"
	OpenAICompatible  ProviderKind = "openai_compatible"
)

// ChatRequest is what Provider.Chat sends.
type ChatRequest struct {
	System     string
	User       string
	MaxTokens  int
	Temperature float64
}

// ChatResponse is what Provider.Chat returns.
type ChatResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is the one method every LLM variant implements (design note
// §9): chat(system, user, max_tokens, timeout) -> Response.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Config configures the Evaluator and its chosen Provider.
type Config struct {
	Enabled             bool
	Provider            ProviderKind
	Model               string
	ConfidenceThreshold int // default 70
	TimeoutMS           int // default 2000
	APIKey              string
	BaseURL             string // required for HostedA, HostedB and OpenAICompatible; LocalOllama defaults to http://localhost:11434
}

// NewProvider constructs the configured Provider variant. All hosted
// variants speak the same {system, user, max_tokens, temperature} ->
// {text, input_tokens, output_tokens} shape fixed by spec §6; they differ
// only in endpoint and auth header.
func NewProvider(cfg Config) (Provider, error) {
	client := &http.Client{}
	switch cfg.Provider {
	case HostedA, HostedB, OpenAICompatible:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %s", cfg.Provider)
		}
		return &httpProvider{client: client, baseURL: cfg.BaseURL, apiKey: cfg.APIKey, model: cfg.Model}, nil
	case LocalOllama:
		base := cfg.BaseURL
		if base == "" {
			base = "http://localhost:11434"
		}
		return &httpProvider{client: client, baseURL: base, model: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

// httpProvider is the shared implementation behind every variant: only
// the base URL and whether an Authorization header is sent differ.
type httpProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

type chatPayload struct {
	Model       string  `json:"model"`
	System      string  `json:"system"`
	User        string  `json:"user"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type chatResult struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (p *httpProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(chatPayload{
		Model:       p.model,
		System:      req.System,
		User:        req.User,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return ChatResponse{}, fmt.Errorf("chat request returned status %d", resp.StatusCode)
	}

	var out chatResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ChatResponse{}, fmt.Errorf("failed to decode chat response: %w", err)
	}
	return ChatResponse{Text: out.Text, InputTokens: out.InputTokens, OutputTokens: out.OutputTokens}, nil
}

// Evaluator gates a proposed Action through the configured Provider.
type Evaluator struct {
	cfg      Config
	provider Provider
}

// NewEvaluator builds an Evaluator. provider may be nil; Evaluate always
// fail-opens when it is (or when cfg.Enabled is false).
func NewEvaluator(cfg Config, provider Provider) *Evaluator {
	return &Evaluator{cfg: cfg, provider: provider}
}

// EvalContext is the market context the system/user prompt is built from.
type EvalContext struct {
	Eigen               *keeper.EigenConfig
	Position            *keeper.TokenPosition
	CurrentPrice        float64
	EntryPrice          float64
	NativeBalance       float64
	TokenValue          float64
	RecentPrices        []keeper.PriceSnapshot
	RecentTrades        []keeper.TradeRecord
	RecentExternalBuy   float64
}

// failOpenEvaluation is returned whenever the gate cannot produce a
// reliable answer; the underlying decision is executed unchanged.
func failOpenEvaluation(action keeper.Action, eigenID, reason string) keeper.AIEvaluation {
	return keeper.AIEvaluation{
		EigenID:        eigenID,
		ProposedAction: action,
		Approved:       true,
		Confidence:     75,
		Reason:         reason,
		Timestamp:      time.Now(),
	}
}

// Evaluate runs the AI gate over a proposed action, per spec §4.6.
func (e *Evaluator) Evaluate(ctx context.Context, action keeper.Action, ec EvalContext) keeper.AIEvaluation {
	if !e.cfg.Enabled || e.provider == nil {
		return failOpenEvaluation(action, ec.Eigen.ID, "ai_unavailable")
	}

	timeout := time.Duration(e.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	vol := Volatility(ec.RecentPrices)
	system, user := buildPrompts(action, ec, vol)

	resp, err := e.provider.Chat(callCtx, ChatRequest{System: system, User: user, MaxTokens: 256, Temperature: 0.2})
	latency := time.Since(start)
	if err != nil {
		eval := failOpenEvaluation(action, ec.Eigen.ID, "ai_error: "+err.Error())
		eval.LatencyMS = latency.Milliseconds()
		eval.Model = e.cfg.Model
		return eval
	}

	parsed, ok := parseModelJSON(resp.Text)
	if !ok {
		eval := failOpenEvaluation(action, ec.Eigen.ID, "ai_parse_error")
		eval.LatencyMS = latency.Milliseconds()
		eval.Model = e.cfg.Model
		return eval
	}

	confidence := clampInt(parsed.Confidence, 0, 100)
	reason := truncate(parsed.Reason, 200)
	threshold := e.cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 70
	}

	eval := keeper.AIEvaluation{
		EigenID:         ec.Eigen.ID,
		ProposedAction:  action,
		Confidence:      confidence,
		Reason:          reason,
		Model:           e.cfg.Model,
		LatencyMS:       latency.Milliseconds(),
		InputTokens:     resp.InputTokens,
		OutputTokens:    resp.OutputTokens,
		Timestamp:       time.Now(),
	}

	switch {
	case confidence < 50:
		eval.Approved = false
		eval.Reason = fmt.Sprintf("low_confidence (%d): %s", confidence, reason)
	case confidence < threshold:
		eval.Approved = true
		eval.AdjustedAmount, eval.AdjustedQuoteAmount = halveAmount(action)
	default:
		eval.Approved = true
		if parsed.AdjustedAmount != nil {
			if action.Sell != nil {
				eval.AdjustedAmount = parsed.AdjustedAmount
			} else if action.Buy != nil {
				eval.AdjustedQuoteAmount = new(big.Float).Quo(new(big.Float).SetInt(parsed.AdjustedAmount), big.NewFloat(1e18))
			}
		}
		if parsed.SuggestedWaitMS > 0 {
			eval.SuggestedWaitMS = parsed.SuggestedWaitMS
		}
	}

	return eval
}

// halveAmount implements the confidence-rule "approve but halve the trade
// size" (spec §4.6) for whichever side of the Action sum type is set.
func halveAmount(action keeper.Action) (*big.Int, *big.Float) {
	if action.Sell != nil && action.Sell.BaseAmount != nil {
		return new(big.Int).Div(action.Sell.BaseAmount, big.NewInt(2)), nil
	}
	if action.Buy != nil && action.Buy.QuoteAmount != nil {
		return nil, new(big.Float).Quo(action.Buy.QuoteAmount, big.NewFloat(2))
	}
	return nil, nil
}

func buildPrompts(action keeper.Action, ec EvalContext, volatility float64) (system, user string) {
	system = "You are a trading risk gate for an autonomous market-making keeper. " +
		"Respond with a single JSON object: {\"approved\":bool,\"confidence\":0-100,\"reason\":string,\"adjusted_amount\":string?,\"suggested_wait_ms\":int?}."

	var b strings.Builder
	fmt.Fprintf(&b, "proposed_action=%+v\n", action)
	fmt.Fprintf(&b, "native_balance=%.6f token_value=%.6f ratio=%.4f\n",
		ec.NativeBalance, ec.TokenValue, safeRatio(ec.TokenValue, ec.TokenValue+ec.NativeBalance))
	fmt.Fprintf(&b, "entry_price=%.8f current_price=%.8f\n", ec.EntryPrice, ec.CurrentPrice)
	if ec.EntryPrice > 0 {
		fmt.Fprintf(&b, "unrealized_pnl_pct=%.2f\n", (ec.CurrentPrice-ec.EntryPrice)/ec.EntryPrice*100)
	}
	fmt.Fprintf(&b, "recent_external_buy_volume=%.6f volatility=%.4f\n", ec.RecentExternalBuy, volatility)
	fmt.Fprintf(&b, "recent_price_count=%d recent_trade_count=%d\n", len(ec.RecentPrices), len(ec.RecentTrades))
	return system, b.String()
}

func safeRatio(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}

type modelResponse struct {
	Approved        bool     `json:"approved"`
	Confidence      int      `json:"confidence"`
	Reason          string   `json:"reason"`
	AdjustedAmount  *big.Int `json:"-"`
	AdjustedAmountS string   `json:"adjusted_amount"`
	SuggestedWaitMS int      `json:"suggested_wait_ms"`
}

// parseModelJSON finds and parses the first JSON object in text, per
// spec §4.6's "parse the first JSON object in the response".
func parseModelJSON(text string) (modelResponse, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return modelResponse{}, false
	}
	depth := 0
	end := -1
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return modelResponse{}, false
	}

	var out modelResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return modelResponse{}, false
	}
	if out.AdjustedAmountS != "" {
		if v, ok := new(big.Int).SetString(out.AdjustedAmountS, 10); ok {
			out.AdjustedAmount = v
		}
	}
	return out, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Volatility computes the annualized standard deviation of log returns
// across snapshots, assuming 5-minute sampling (105,120 periods/year).
// Fewer than 3 snapshots yields 0, per spec §4.6.
func Volatility(snapshots []keeper.PriceSnapshot) float64 {
	if len(snapshots) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		p0, _ := snapshots[i-1].Price.Float64()
		p1, _ := snapshots[i].Price.Float64()
		if p0 <= 0 || p1 <= 0 {
			continue
		}
		returns = append(returns, math.Log(p1/p0))
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	const periodsPerYear = 105120
	return math.Sqrt(variance*periodsPerYear)
}

// ParseConfidenceThreshold parses a string threshold, falling back to the
// spec default of 70.
func ParseConfidenceThreshold(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 70
	}
	return v
}
