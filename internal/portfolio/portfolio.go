// Package portfolio implements the pure virtual-trading accounting rules
// applied to a participant's Portfolio: buy/sell sizing, fees, and revaluation.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradingarena/engine/pkg/types"
	"github.com/tradingarena/engine/pkg/utils"
)

var (
	minSizingFraction = decimal.NewFromFloat(0.05)
	sellFeeRate       = decimal.NewFromFloat(0.001)
	hundred           = decimal.NewFromInt(100)
	ten               = decimal.NewFromInt(10)
)

// ApplyBuy sizes and executes a buy against pf using the round's risk
// settings and the signal's confidence, mutating pf in place. It reports
// whether a trade actually executed — sizing below the 5% minimum, or cash
// insufficient to cover value+fee, is a no-op, not an error.
func ApplyBuy(pf *types.Portfolio, symbol string, price decimal.Decimal, confidence int, settings types.RoundSettings) bool {
	if pf.Cash.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return false
	}

	maxPositionValue := pf.Cash.Mul(settings.MaxPositionFraction)
	confidenceFraction := utils.MinDecimal(decimal.NewFromInt(int64(confidence)).Div(ten), decimal.NewFromInt(1))
	positionValue := maxPositionValue.Mul(confidenceFraction)

	minSizing := pf.Cash.Mul(minSizingFraction)
	if positionValue.LessThan(minSizing) {
		return false
	}

	fee := positionValue.Mul(settings.TradingFeeRate)
	if positionValue.Add(fee).GreaterThan(pf.Cash) {
		return false
	}

	amount := positionValue.Div(price)

	pf.Cash = pf.Cash.Sub(positionValue).Sub(fee)

	pos, exists := pf.Positions[symbol]
	if !exists {
		pf.Positions[symbol] = &types.Position{
			Symbol:        symbol,
			Amount:        amount,
			AvgEntryPrice: price,
			TotalInvested: positionValue,
		}
	} else {
		newInvested := pos.TotalInvested.Add(positionValue)
		newAmount := pos.Amount.Add(amount)
		pos.AvgEntryPrice = newInvested.Div(newAmount)
		pos.Amount = newAmount
		pos.TotalInvested = newInvested
	}

	pf.Trades++
	pf.UpdatedAt = time.Now()
	return true
}

// ApplySell closes the entire position in symbol at price, crediting net
// proceeds to cash and recording realized P&L. Partial sells are not
// supported — the sell path always closes the whole position.
func ApplySell(pf *types.Portfolio, symbol string, price decimal.Decimal) bool {
	pos, ok := pf.Positions[symbol]
	if !ok || pos.Amount.LessThanOrEqual(decimal.Zero) {
		return false
	}

	sellValue := pos.Amount.Mul(price)
	fee := sellValue.Mul(sellFeeRate)
	netProceeds := sellValue.Sub(fee)
	realized := netProceeds.Sub(pos.TotalInvested)

	pf.Cash = pf.Cash.Add(netProceeds)
	pf.RealizedPnL = pf.RealizedPnL.Add(realized)

	if realized.GreaterThan(decimal.Zero) {
		pf.Wins++
	} else {
		pf.Losses++
	}

	delete(pf.Positions, symbol)
	pf.Trades++
	pf.UpdatedAt = time.Now()
	return true
}

// Revalue recomputes every held position's current value and P&L at the
// supplied snapshot prices, then re-derives the portfolio's totals. Symbols
// with no snapshot keep their last-known current value.
func Revalue(pf *types.Portfolio, prices map[string]decimal.Decimal) {
	total := pf.Cash
	for symbol, pos := range pf.Positions {
		if price, ok := prices[symbol]; ok {
			pos.CurrentValue = pos.Amount.Mul(price)
			pos.UnrealizedPnL = pos.CurrentValue.Sub(pos.TotalInvested)
		}
		total = total.Add(pos.CurrentValue)
	}
	pf.TotalValue = total

	if pf.StartingBalance.GreaterThan(decimal.Zero) {
		pf.PercentPnL = total.Sub(pf.StartingBalance).Div(pf.StartingBalance).Mul(hundred)
	}

	if pf.Trades > 0 {
		pf.WinRate = decimal.NewFromInt(int64(pf.Wins)).Div(decimal.NewFromInt(int64(pf.Trades))).Mul(hundred)
	}
	pf.UpdatedAt = time.Now()
}
