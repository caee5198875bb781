package api

import (
	"fmt"

	"github.com/tradingarena/engine/pkg/types"
)

// insightPrompt composes the user prompt for the "insight" command, the one
// command whose result is prose rather than structured JSON.
func insightPrompt(snap types.MarketSnapshot, timeframe string) string {
	if timeframe == "" {
		timeframe = "1h"
	}
	return fmt.Sprintf(
		"Symbol: %s\nPrice: %s\n24h change: %s%%\n24h volume: %s\nTimeframe: %s\n"+
			"Write the insight now.",
		snap.Symbol, snap.Price.String(), snap.Change24h.String(), snap.Volume24h.String(), timeframe,
	)
}
