// Package types provides shared type definitions for the round engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundStatus is the lifecycle state of a Round.
type RoundStatus string

const (
	RoundWaiting   RoundStatus = "waiting"
	RoundActive    RoundStatus = "active"
	RoundFinished  RoundStatus = "finished"
	RoundCancelled RoundStatus = "cancelled"
)

// BindingKind distinguishes how a Participant's strategy was attached.
type BindingKind string

const (
	BindingInline   BindingKind = "inline"
	BindingOwned    BindingKind = "owned"
	BindingLicensed BindingKind = "licensed"
)

// SignalAction is the discrete directive a Signal carries.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// PriceSource tags where a MarketSnapshot's price came from.
type PriceSource string

const (
	SourceDEX  PriceSource = "dex"
	SourceSpot PriceSource = "spot"
	SourceMock PriceSource = "mock"
)

// StrategyKind classifies a ParsedStrategy.
type StrategyKind string

const (
	StrategyTechnical  StrategyKind = "technical"
	StrategyFundamental StrategyKind = "fundamental"
	StrategySentiment  StrategyKind = "sentiment"
	StrategyMixed      StrategyKind = "mixed"
)

// RoundSettings configures a round's execution and risk parameters.
type RoundSettings struct {
	ExecutionInterval   time.Duration   `json:"executionInterval"`
	MaxPositionFraction decimal.Decimal `json:"maxPositionFraction"`
	TradingFeeRate      decimal.Decimal `json:"tradingFeeRate"`
	AllowedSymbols      []string        `json:"allowedSymbols"`
	AutoStart           bool            `json:"autoStart"`
	ExpectedProfitPct   decimal.Decimal `json:"expectedProfitPercent"`
}

// DefaultRoundSettings returns the spec's documented defaults.
func DefaultRoundSettings() RoundSettings {
	return RoundSettings{
		ExecutionInterval:   15 * time.Second,
		MaxPositionFraction: decimal.NewFromFloat(0.3),
		TradingFeeRate:      decimal.NewFromFloat(0.001),
		AllowedSymbols:      nil,
		AutoStart:           false,
		ExpectedProfitPct:   decimal.NewFromFloat(5),
	}
}

// RoundStats aggregates counters the manager updates over a round's life.
type RoundStats struct {
	TotalParticipants int `json:"totalParticipants"`
	TotalTrades       int `json:"totalTrades"`
	TicksRun          int `json:"ticksRun"`
}

// Round is a time-boxed, multi-participant simulated-trading session.
type Round struct {
	ID              string        `json:"id"`
	Number          int64         `json:"number"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Duration        time.Duration `json:"duration"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	MinParticipants int           `json:"minParticipants"`
	MaxParticipants int           `json:"maxParticipants"`
	Settings        RoundSettings `json:"settings"`
	Status          RoundStatus   `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	StartAt         *time.Time    `json:"startAt,omitempty"`
	EndAt           *time.Time    `json:"endAt,omitempty"`
	Stats           RoundStats    `json:"stats"`
}

// ParsedStrategy is the LLM-structured form of a natural-language strategy.
// Invariant: every field is present after schema repair — never symbolic.
type ParsedStrategy struct {
	StrategyType      StrategyKind `json:"strategyType"`
	Indicators        []string     `json:"indicators"`
	EntryConditions    string       `json:"entryConditions"`
	ExitConditions     string       `json:"exitConditions"`
	RiskManagement     string       `json:"riskManagement"`
	Timeframe          string       `json:"timeframe"`
	Assets             []string     `json:"assets"`
	SuggestedBaseTokens []string    `json:"suggestedBaseTokens"`
	TargetsEcosystem   bool         `json:"targetsEcosystem"`
	ClarityScore       int          `json:"clarityScore"`
	Actionable         bool         `json:"actionable"`
}

// StrategyBinding is the tagged variant attaching a Participant to a strategy.
// Invariant: exactly one variant is meaningful per Kind.
type StrategyBinding struct {
	Kind            BindingKind     `json:"kind"`
	Text            string          `json:"text,omitempty"`            // BindingInline
	Parsed          *ParsedStrategy `json:"parsed"`
	StrategyID      string          `json:"strategyId,omitempty"`      // BindingOwned / BindingLicensed
	LicensorWallet  string          `json:"licensorWallet,omitempty"`  // BindingLicensed
	RoyaltyPercent  decimal.Decimal `json:"royaltyPercent,omitempty"`  // BindingLicensed: captured at license time
}

// Position is a held amount of one symbol.
// Invariant: a position with Amount == 0 must be deleted, never kept as a ghost.
type Position struct {
	Symbol         string          `json:"symbol"`
	Amount         decimal.Decimal `json:"amount"`
	AvgEntryPrice  decimal.Decimal `json:"avgEntryPrice"`
	TotalInvested  decimal.Decimal `json:"totalInvested"`
	CurrentValue   decimal.Decimal `json:"currentValue"`
	UnrealizedPnL  decimal.Decimal `json:"unrealizedPnl"`
}

// Portfolio is a participant's virtual cash-plus-positions book.
// Invariants: Cash >= 0 on every exit path; TotalValue ~= Cash + sum(position value);
// every executed buy and every executed sell counts one trade, while Wins and Losses
// count closed positions only, so Trades == Wins + Losses + (executed buys).
type Portfolio struct {
	Cash            decimal.Decimal      `json:"cash"`
	Positions       map[string]*Position `json:"positions"`
	TotalValue      decimal.Decimal      `json:"totalValue"`
	RealizedPnL     decimal.Decimal      `json:"realizedPnl"`
	PercentPnL      decimal.Decimal      `json:"percentPnl"`
	Trades          int                  `json:"trades"`
	Wins            int                  `json:"wins"`
	Losses          int                  `json:"losses"`
	WinRate         decimal.Decimal      `json:"winRate"`
	StartingBalance decimal.Decimal      `json:"startingBalance"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// NewPortfolio returns an empty portfolio funded with startingBalance.
func NewPortfolio(startingBalance decimal.Decimal) *Portfolio {
	return &Portfolio{
		Cash:            startingBalance,
		Positions:       make(map[string]*Position),
		TotalValue:      startingBalance,
		StartingBalance: startingBalance,
		UpdatedAt:       time.Now(),
	}
}

// Participant is a wallet bound to a round with a strategy and a portfolio.
type Participant struct {
	RoundID     string           `json:"roundId"`
	Wallet      string           `json:"wallet"`
	Username    string           `json:"username"`
	Binding     StrategyBinding  `json:"binding"`
	Portfolio   *Portfolio       `json:"portfolio"`
	JoinedAt    time.Time        `json:"joinedAt"`
	Active      bool             `json:"active"`
}

// Strategy is a registered, natural-language trading rule owned by a wallet.
type Strategy struct {
	ID              string          `json:"id"`
	Owner           string          `json:"owner"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Text            string          `json:"text"`
	Parsed          *ParsedStrategy `json:"parsed"`
	RoyaltyPercent  decimal.Decimal `json:"royaltyPercent"`
	Tags            []string        `json:"tags"`
	Active          bool            `json:"active"`
	Verified        bool            `json:"verified"`
	Stats           StrategyStats   `json:"stats"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StrategyStats are the registry's aggregate performance counters for a Strategy.
type StrategyStats struct {
	TotalUses         int             `json:"totalUses"`
	TotalEarnings     decimal.Decimal `json:"totalEarnings"`
	TotalTrades       int             `json:"totalTrades"`
	SuccessfulTrades  int             `json:"successfulTrades"`
	WinRate           decimal.Decimal `json:"winRate"`
	BestPerformance   decimal.Decimal `json:"bestPerformance"`
	AverageReturn     decimal.Decimal `json:"averageReturn"`
}

// StrategyOutcome is what UpdateStats folds into a Strategy's running stats.
type StrategyOutcome struct {
	Trades  int
	Win     bool
	Earned  decimal.Decimal
	Return  decimal.Decimal
}

// License grants one wallet per-round use of another wallet's Strategy.
// Invariant: at most one License per (Licensee, RoundID).
type License struct {
	Licensee       string          `json:"licensee"`
	StrategyID     string          `json:"strategyId"`
	RoundID        string          `json:"roundId"`
	Owner          string          `json:"owner"`
	RoyaltyPercent decimal.Decimal `json:"royaltyPercent"`
	ProfitShared   decimal.Decimal `json:"profitShared"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Signal is an LLM-produced trading directive.
// Invariant: after schema repair, Action is one of BUY/SELL/HOLD, Confidence is in
// [1,10], and every price field is a positive number; BUY implies StopLoss < EntryPrice
// < TakeProfit, SELL the inverse.
type Signal struct {
	Action         SignalAction    `json:"action"`
	Confidence     int             `json:"confidence"`
	Reason         string          `json:"reason"`
	EntryPrice     decimal.Decimal `json:"entryPrice"`
	StopLoss       decimal.Decimal `json:"stopLoss"`
	TakeProfit     decimal.Decimal `json:"takeProfit"`
	RiskReward     decimal.Decimal `json:"riskReward"`
}

// MarketSnapshot is a market-data record for a symbol at an instant.
type MarketSnapshot struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change24h     decimal.Decimal `json:"change24h"`
	Volume24h     decimal.Decimal `json:"volume24h"`
	Liquidity     decimal.Decimal `json:"liquidity"`
	MarketCap     decimal.Decimal `json:"marketCap"`
	Source        PriceSource     `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
}

// LeaderboardEntry is one ranked row of a round's leaderboard.
type LeaderboardEntry struct {
	Rank          int             `json:"rank"`
	Wallet        string          `json:"wallet"`
	Username      string          `json:"username"`
	PnL           decimal.Decimal `json:"pnl"`
	PnLPercentage decimal.Decimal `json:"pnlPercentage"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	Trades        int             `json:"trades"`
	WinRate       decimal.Decimal `json:"winRate"`
	ProfitScore   decimal.Decimal `json:"profitScore,omitempty"`
	Grade         string          `json:"grade,omitempty"`
}

// TradeLogEntry records one executed or skipped trade decision for audit.
type TradeLogEntry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Action     SignalAction    `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Confidence int             `json:"confidence"`
	Reason     string          `json:"reason"`
	Executed   bool            `json:"executed"`
}
