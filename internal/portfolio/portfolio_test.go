package portfolio_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tradingarena/engine/internal/portfolio"
	"github.com/tradingarena/engine/pkg/types"
)

func testSettings() types.RoundSettings {
	return types.RoundSettings{
		MaxPositionFraction: decimal.NewFromFloat(0.3),
		TradingFeeRate:      decimal.NewFromFloat(0.001),
	}
}

func TestApplyBuyConservesCash(t *testing.T) {
	pf := types.NewPortfolio(decimal.NewFromInt(10000))
	cashBefore := pf.Cash

	ok := portfolio.ApplyBuy(pf, "ETH", decimal.NewFromInt(3000), 7, testSettings())
	if !ok {
		t.Fatal("expected buy to execute")
	}

	pos, exists := pf.Positions["ETH"]
	if !exists {
		t.Fatal("expected an ETH position")
	}

	fee := pos.TotalInvested.Mul(decimal.NewFromFloat(0.001))
	got := pf.Cash.Add(fee).Add(pos.TotalInvested)
	if !got.Equal(cashBefore) {
		t.Errorf("cash_after + fee + positionValue = %s, want %s", got, cashBefore)
	}

	if pf.Trades != 1 {
		t.Errorf("expected 1 trade, got %d", pf.Trades)
	}
}

func TestApplyBuyBelowMinimumSizingIsNoOp(t *testing.T) {
	pf := types.NewPortfolio(decimal.NewFromInt(10000))
	cashBefore := pf.Cash

	// confidence 1 => fraction 0.1; positionValue = 10000*0.3*0.1 = 300 < 5% of 10000 (500)
	ok := portfolio.ApplyBuy(pf, "ETH", decimal.NewFromInt(3000), 1, testSettings())
	if ok {
		t.Fatal("expected buy below minimum sizing to be a no-op")
	}
	if !pf.Cash.Equal(cashBefore) {
		t.Errorf("cash should be untouched, got %s want %s", pf.Cash, cashBefore)
	}
	if len(pf.Positions) != 0 {
		t.Error("no position should have been created")
	}
}

func TestApplySellConservesCashAndRemovesGhostPosition(t *testing.T) {
	pf := types.NewPortfolio(decimal.NewFromInt(10000))
	portfolio.ApplyBuy(pf, "ETH", decimal.NewFromInt(3000), 10, testSettings())

	cashBefore := pf.Cash
	amount := pf.Positions["ETH"].Amount

	ok := portfolio.ApplySell(pf, "ETH", decimal.NewFromInt(3300))
	if !ok {
		t.Fatal("expected sell to execute")
	}

	if _, exists := pf.Positions["ETH"]; exists {
		t.Error("sold position must be deleted, not left as a zero-amount ghost")
	}

	sellValue := amount.Mul(decimal.NewFromInt(3300))
	fee := sellValue.Mul(decimal.NewFromFloat(0.001))
	want := cashBefore.Add(sellValue).Sub(fee)
	if !pf.Cash.Equal(want) {
		t.Errorf("cash_after = %s, want %s", pf.Cash, want)
	}
	if pf.Trades != 2 {
		t.Errorf("expected 2 trades total, got %d", pf.Trades)
	}
	if pf.Wins != 1 {
		t.Errorf("expected 1 win, got %d", pf.Wins)
	}
}

func TestApplySellOnMissingPositionIsNoOp(t *testing.T) {
	pf := types.NewPortfolio(decimal.NewFromInt(10000))
	if portfolio.ApplySell(pf, "ETH", decimal.NewFromInt(3000)) {
		t.Fatal("expected sell on missing position to be a no-op")
	}
}

func TestRevalueMatchesCashPlusPositions(t *testing.T) {
	pf := types.NewPortfolio(decimal.NewFromInt(10000))
	portfolio.ApplyBuy(pf, "ETH", decimal.NewFromInt(3000), 7, testSettings())

	portfolio.Revalue(pf, map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3030)})

	expected := pf.Cash
	for _, pos := range pf.Positions {
		expected = expected.Add(pos.CurrentValue)
	}
	diff := pf.TotalValue.Sub(expected).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(1e-6)) {
		t.Errorf("totalValue %s does not match cash+positions %s", pf.TotalValue, expected)
	}
}
