package llm

import (
	"fmt"
	"strings"

	"github.com/tradingarena/engine/pkg/types"
)

const systemPromptParseStrategy = `You are a trading strategy analyst. Given a natural-language trading strategy ` +
	`description, extract its structure as strict JSON with these exact keys: strategyType ` +
	`(one of "technical", "fundamental", "sentiment", "mixed"), indicators (array of strings), ` +
	`entryConditions (string), exitConditions (string), riskManagement (string), timeframe ` +
	`(string, e.g. "1h"), assets (array of ticker symbols), suggestedBaseTokens (array of ticker ` +
	`symbols), targetsEcosystem (bool), clarityScore (integer 1-10), actionable (bool). ` +
	`Reply with only the JSON object, no prose.`

func buildParseStrategyPrompt(text string) string {
	return fmt.Sprintf("Strategy description:\n%s", strings.TrimSpace(text))
}

const systemPromptGenerateSignal = `You are a disciplined trading signal generator. Given a market ` +
	`snapshot and a parsed strategy, decide whether to BUY, SELL, or HOLD. Reply with strict JSON ` +
	`with these exact keys: action ("BUY", "SELL", or "HOLD"), confidence (integer 1-10), reason ` +
	`(string), entryPrice (string decimal), stopLoss (string decimal), takeProfit (string decimal), ` +
	`riskReward (number). A BUY must have stopLoss < entryPrice < takeProfit; a SELL the inverse. ` +
	`Reply with only the JSON object, no prose.`

func buildGenerateSignalPrompt(snapshot types.MarketSnapshot, parsed types.ParsedStrategy) string {
	return fmt.Sprintf(
		"Symbol: %s\nCurrent price: %s\nChange24h: %s%%\nStrategy type: %s\nEntry conditions: %s\n"+
			"Exit conditions: %s\nRisk management: %s\nTimeframe: %s",
		snapshot.Symbol, snapshot.Price.String(), snapshot.Change24h.String(),
		parsed.StrategyType, parsed.EntryConditions, parsed.ExitConditions,
		parsed.RiskManagement, parsed.Timeframe,
	)
}
