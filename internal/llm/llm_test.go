package llm_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/pkg/types"
)

func fastConfig() types.LLMConfig {
	cfg := types.DefaultLLMConfig()
	// No BaseURL configured: every call fails upstream and falls through to
	// the schema-repaired default, exercising the fallback path without a
	// live endpoint. Keep pacing short so tests don't stall.
	cfg.MinInterval = time.Millisecond
	cfg.PostRequestWait = time.Millisecond
	cfg.CallTimeout = 200 * time.Millisecond
	return cfg
}

func TestParseStrategyFallsBackWithoutUpstream(t *testing.T) {
	c := llm.New(zap.NewNop(), fastConfig())
	parsed, err := c.ParseStrategy(context.Background(), "buy the dip on ETH when RSI < 30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.ClarityScore < 1 || parsed.ClarityScore > 10 {
		t.Errorf("clarityScore %d out of [1,10]", parsed.ClarityScore)
	}
	if parsed.StrategyType == "" {
		t.Error("expected a non-empty strategy type even on fallback")
	}
}

func TestParseStrategyCachesIdenticalInput(t *testing.T) {
	c := llm.New(zap.NewNop(), fastConfig())
	text := "sell everything if price drops 10% in an hour"

	first, err := c.ParseStrategy(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.ParseStrategy(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.EntryConditions != second.EntryConditions {
		t.Errorf("expected cached response to be identical, got %q then %q", first.EntryConditions, second.EntryConditions)
	}
}

func TestGenerateSignalFallbackRespectsPriceOrdering(t *testing.T) {
	c := llm.New(zap.NewNop(), fastConfig())
	snapshot := types.MarketSnapshot{
		Symbol: "ETH",
		Price:  decimal.NewFromInt(3000),
		Source: types.SourceMock,
	}
	parsed := types.ParsedStrategy{EntryConditions: "RSI < 30", StrategyType: types.StrategyTechnical}

	sig, err := c.GenerateSignal(context.Background(), snapshot, parsed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Confidence < 1 || sig.Confidence > 10 {
		t.Errorf("confidence %d out of [1,10]", sig.Confidence)
	}
	switch sig.Action {
	case types.ActionBuy:
		if !(sig.StopLoss.LessThan(sig.EntryPrice) && sig.EntryPrice.LessThan(sig.TakeProfit)) {
			t.Errorf("BUY signal must have stopLoss < entryPrice < takeProfit, got %s/%s/%s",
				sig.StopLoss, sig.EntryPrice, sig.TakeProfit)
		}
	case types.ActionSell:
		if !(sig.TakeProfit.LessThan(sig.EntryPrice) && sig.EntryPrice.LessThan(sig.StopLoss)) {
			t.Errorf("SELL signal must have takeProfit < entryPrice < stopLoss, got %s/%s/%s",
				sig.TakeProfit, sig.EntryPrice, sig.StopLoss)
		}
	case types.ActionHold:
		// no price ordering constraint on HOLD
	default:
		t.Errorf("unexpected action %q", sig.Action)
	}
}

func TestGenerateSignalZeroPriceFallsBackToSnapshotPrice(t *testing.T) {
	c := llm.New(zap.NewNop(), fastConfig())
	snapshot := types.MarketSnapshot{Symbol: "ETH", Price: decimal.NewFromInt(2500)}
	sig, err := c.GenerateSignal(context.Background(), snapshot, types.ParsedStrategy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sig.EntryPrice.Equal(snapshot.Price) {
		t.Errorf("expected entry price %s (the snapshot price), got %s", snapshot.Price, sig.EntryPrice)
	}
}
