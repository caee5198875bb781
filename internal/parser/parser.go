// Package parser implements the Prompt-to-Round Parser: translating a
// natural-language round request into a round.CreateRoundParams, reusing the
// LLM Client's tolerant JSON pipeline.
package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/round"
	"github.com/tradingarena/engine/pkg/types"
)

const systemPrompt = `You are a trading-game configurator. Given a natural-language request to ` +
	`create a trading competition, extract strict JSON with these exact keys: title (string), ` +
	`description (string), tokens (array of ticker symbols), duration (integer seconds), ` +
	`startingBalance (number), investmentAmount (number), targetProfitPercent (number), ` +
	`strategy (string, a suggested default strategy description), gameType (string), riskLevel ` +
	`(one of "low", "medium", "high"), timeframe (string, e.g. "1h"). Reply with only the JSON ` +
	`object, no prose.`

// Extracted is the raw structured extraction the parser hands back alongside
// the round config it derived, so callers (e.g. the create-game-from-prompt
// command) can surface both.
type Extracted struct {
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Tokens              []string        `json:"tokens"`
	DurationSeconds     int             `json:"duration"`
	StartingBalance     decimal.Decimal `json:"startingBalance"`
	InvestmentAmount    decimal.Decimal `json:"investmentAmount"`
	TargetProfitPercent decimal.Decimal `json:"targetProfitPercent"`
	Strategy            string          `json:"strategy"`
	GameType            string          `json:"gameType"`
	RiskLevel           string          `json:"riskLevel"`
	Timeframe           string          `json:"timeframe"`
}

func defaultExtracted() Extracted {
	return Extracted{
		Title:               "Trading Arena Round",
		Description:         "An auto-generated trading round",
		Tokens:              []string{"ETH", "TOSHI", "DEGEN"},
		DurationSeconds:     300,
		StartingBalance:     decimal.NewFromInt(10000),
		TargetProfitPercent: decimal.NewFromInt(5),
		GameType:            "standard",
		RiskLevel:           "medium",
		Timeframe:           "1h",
	}
}

// Parser wraps an LLM Client to translate prompts into round configuration.
type Parser struct {
	llm *llm.Client
}

// New constructs a Parser over the given LLM Client.
func New(llmClient *llm.Client) *Parser {
	return &Parser{llm: llmClient}
}

type rawExtraction struct {
	Title               *string  `json:"title"`
	Description         *string  `json:"description"`
	Tokens              []string `json:"tokens"`
	Duration            *int     `json:"duration"`
	StartingBalance     *float64 `json:"startingBalance"`
	InvestmentAmount    *float64 `json:"investmentAmount"`
	TargetProfitPercent *float64 `json:"targetProfitPercent"`
	Strategy            *string  `json:"strategy"`
	GameType            *string  `json:"gameType"`
	RiskLevel           *string  `json:"riskLevel"`
	Timeframe           *string  `json:"timeframe"`
}

// Parse sends query to the LLM, decodes its response tolerantly, and fills
// any missing field with the documented default.
func (p *Parser) Parse(ctx context.Context, query string) (Extracted, error) {
	def := defaultExtracted()

	raw, err := p.llm.RawComplete(ctx, systemPrompt, fmt.Sprintf("Request: %s", strings.TrimSpace(query)))
	if err != nil {
		return def, nil
	}

	var parsed rawExtraction
	if err := llm.TolerantDecode(raw, &parsed); err != nil {
		return def, nil
	}

	out := def
	if parsed.Title != nil && strings.TrimSpace(*parsed.Title) != "" {
		out.Title = *parsed.Title
	}
	if parsed.Description != nil && strings.TrimSpace(*parsed.Description) != "" {
		out.Description = *parsed.Description
	}
	if len(parsed.Tokens) > 0 {
		out.Tokens = parsed.Tokens
	}
	if parsed.Duration != nil && *parsed.Duration > 0 {
		out.DurationSeconds = *parsed.Duration
	}
	if parsed.StartingBalance != nil && *parsed.StartingBalance > 0 {
		out.StartingBalance = decimal.NewFromFloat(*parsed.StartingBalance)
	}
	if parsed.InvestmentAmount != nil && *parsed.InvestmentAmount > 0 {
		out.InvestmentAmount = decimal.NewFromFloat(*parsed.InvestmentAmount)
	}
	if parsed.TargetProfitPercent != nil && *parsed.TargetProfitPercent > 0 {
		out.TargetProfitPercent = decimal.NewFromFloat(*parsed.TargetProfitPercent)
	}
	if parsed.Strategy != nil && strings.TrimSpace(*parsed.Strategy) != "" {
		out.Strategy = *parsed.Strategy
	}
	if parsed.GameType != nil && strings.TrimSpace(*parsed.GameType) != "" {
		out.GameType = *parsed.GameType
	}
	if parsed.RiskLevel != nil && strings.TrimSpace(*parsed.RiskLevel) != "" {
		out.RiskLevel = *parsed.RiskLevel
	}
	if parsed.Timeframe != nil && strings.TrimSpace(*parsed.Timeframe) != "" {
		out.Timeframe = *parsed.Timeframe
	}
	return out, nil
}

// ToRoundParams derives a round.CreateRoundParams from an Extracted result.
func (e Extracted) ToRoundParams() round.CreateRoundParams {
	return round.CreateRoundParams{
		Title:           e.Title,
		Description:     e.Description,
		Duration:        time.Duration(e.DurationSeconds) * time.Second,
		StartingBalance: e.StartingBalance,
		MinParticipants: 1,
		MaxParticipants: 10,
		Settings: types.RoundSettings{
			ExecutionInterval:   15 * time.Second,
			MaxPositionFraction: decimal.NewFromFloat(0.3),
			TradingFeeRate:      decimal.NewFromFloat(0.001),
			AllowedSymbols:      e.Tokens,
			ExpectedProfitPct:   e.TargetProfitPercent,
		},
	}
}
