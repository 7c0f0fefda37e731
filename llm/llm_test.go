package llm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keeper "github.com/eigenlabs/eigenkeeper"
)

type fakeProvider struct {
	text string
	err  error
}

func (p *fakeProvider) Chat(context.Context, ChatRequest) (ChatResponse, error) {
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	return ChatResponse{Text: p.text, InputTokens: 10, OutputTokens: 20}, nil
}

func sellAction() keeper.Action {
	return keeper.Action{Sell: &keeper.SellAction{BaseAmount: big.NewInt(1_000_000_000_000_000_000), Variant: keeper.SellPlain}}
}

func buyAction() keeper.Action {
	return keeper.Action{Buy: &keeper.BuyAction{QuoteAmount: big.NewFloat(1.0)}}
}

func TestEvaluateFailsOpenWhenDisabled(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: false}, &fakeProvider{})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), sellAction(), ec)
	assert.True(t, result.Approved)
	assert.Equal(t, "ai_unavailable", result.Reason)
}

func TestEvaluateFailsOpenWhenProviderNil(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true}, nil)
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), sellAction(), ec)
	assert.True(t, result.Approved)
	assert.Equal(t, "ai_unavailable", result.Reason)
}

func TestEvaluateFailsOpenOnProviderError(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, TimeoutMS: 50}, &fakeProvider{err: assertErr("boom")})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), sellAction(), ec)
	assert.True(t, result.Approved)
	assert.Contains(t, result.Reason, "ai_error")
}

func TestEvaluateFailsOpenOnUnparsableResponse(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, TimeoutMS: 50}, &fakeProvider{text: "not json at all"})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), sellAction(), ec)
	assert.True(t, result.Approved)
	assert.Equal(t, "ai_parse_error", result.Reason)
}

// TestEvaluateRejectsLowConfidence matches the scenario of a confidence-
// threshold rejection: threshold 70, model returns confidence 40.
func TestEvaluateRejectsLowConfidence(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, ConfidenceThreshold: 70, TimeoutMS: 50},
		&fakeProvider{text: `{"approved":false,"confidence":40,"reason":"thin liquidity"}`})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), sellAction(), ec)
	assert.False(t, result.Approved)
	assert.Equal(t, 40, result.Confidence)
	assert.Contains(t, result.Reason, "low_confidence (40)")
}

func TestEvaluateHalvesAmountBetweenFiftyAndThreshold(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, ConfidenceThreshold: 70, TimeoutMS: 50},
		&fakeProvider{text: `{"approved":true,"confidence":60,"reason":"ok"}`})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), sellAction(), ec)
	require.True(t, result.Approved)
	require.NotNil(t, result.AdjustedAmount)
	assert.Equal(t, big.NewInt(500_000_000_000_000_000), result.AdjustedAmount)
}

func TestEvaluateApprovesAboveThresholdUsingModelAdjustedAmount(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, ConfidenceThreshold: 70, TimeoutMS: 50},
		&fakeProvider{text: `{"approved":true,"confidence":90,"reason":"looks fine","adjusted_amount":"123456","suggested_wait_ms":5000}`})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), sellAction(), ec)
	assert.True(t, result.Approved)
	require.NotNil(t, result.AdjustedAmount)
	assert.Equal(t, big.NewInt(123456), result.AdjustedAmount)
	assert.Equal(t, 5000, result.SuggestedWaitMS)
}

func TestEvaluateHalvesQuoteAmountForBuyBetweenFiftyAndThreshold(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, ConfidenceThreshold: 70, TimeoutMS: 50},
		&fakeProvider{text: `{"approved":true,"confidence":60,"reason":"ok"}`})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), buyAction(), ec)
	require.True(t, result.Approved)
	require.NotNil(t, result.AdjustedQuoteAmount)
	got, _ := result.AdjustedQuoteAmount.Float64()
	assert.Equal(t, 0.5, got)
	assert.Nil(t, result.AdjustedAmount)
}

func TestEvaluateApprovesAboveThresholdUsingModelAdjustedAmountForBuy(t *testing.T) {
	eval := NewEvaluator(Config{Enabled: true, ConfidenceThreshold: 70, TimeoutMS: 50},
		&fakeProvider{text: `{"approved":true,"confidence":90,"reason":"looks fine","adjusted_amount":"500000000000000000"}`})
	ec := EvalContext{Eigen: &keeper.EigenConfig{ID: "eigen-1"}}

	result := eval.Evaluate(context.Background(), buyAction(), ec)
	assert.True(t, result.Approved)
	require.NotNil(t, result.AdjustedQuoteAmount)
	got, _ := result.AdjustedQuoteAmount.Float64()
	assert.Equal(t, 0.5, got)
}

func TestHalveAmountAppliesToSellsAndBuys(t *testing.T) {
	adjAmount, adjQuote := halveAmount(sellAction())
	require.NotNil(t, adjAmount)
	assert.Equal(t, big.NewInt(500_000_000_000_000_000), adjAmount)
	assert.Nil(t, adjQuote)

	adjAmount, adjQuote = halveAmount(keeper.Action{Buy: &keeper.BuyAction{QuoteAmount: big.NewFloat(1)}})
	assert.Nil(t, adjAmount)
	require.NotNil(t, adjQuote)
	got, _ := adjQuote.Float64()
	assert.Equal(t, 0.5, got)
}

func TestParseModelJSONFindsFirstObject(t *testing.T) {
	parsed, ok := parseModelJSON(`some preamble {"approved":true,"confidence":80,"reason":"x"} trailing text`)
	require.True(t, ok)
	assert.Equal(t, 80, parsed.Confidence)
	assert.True(t, parsed.Approved)
}

func TestParseModelJSONNoObjectFails(t *testing.T) {
	_, ok := parseModelJSON("no json here")
	assert.False(t, ok)
}

func TestParseModelJSONParsesAdjustedAmount(t *testing.T) {
	parsed, ok := parseModelJSON(`{"confidence":90,"adjusted_amount":"42"}`)
	require.True(t, ok)
	require.NotNil(t, parsed.AdjustedAmount)
	assert.Equal(t, big.NewInt(42), parsed.AdjustedAmount)
}

func TestVolatilityBelowThreeSnapshotsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Volatility(nil))
	assert.Equal(t, 0.0, Volatility([]keeper.PriceSnapshot{{Price: big.NewFloat(1)}}))
	assert.Equal(t, 0.0, Volatility([]keeper.PriceSnapshot{{Price: big.NewFloat(1)}, {Price: big.NewFloat(1.1)}}))
}

func TestVolatilityPositiveForVaryingPrices(t *testing.T) {
	now := time.Now()
	snapshots := []keeper.PriceSnapshot{
		{Price: big.NewFloat(1.0), Timestamp: now},
		{Price: big.NewFloat(1.05), Timestamp: now.Add(5 * time.Minute)},
		{Price: big.NewFloat(0.98), Timestamp: now.Add(10 * time.Minute)},
		{Price: big.NewFloat(1.02), Timestamp: now.Add(15 * time.Minute)},
	}
	assert.Greater(t, Volatility(snapshots), 0.0)
}

func TestParseConfidenceThresholdFallsBackToDefault(t *testing.T) {
	assert.Equal(t, 70, ParseConfidenceThreshold("not-a-number"))
	assert.Equal(t, 70, ParseConfidenceThreshold("0"))
	assert.Equal(t, 85, ParseConfidenceThreshold("85"))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
