// Package kvkeys centralizes the KV Store's persisted key layout so every
// component constructs the same keys the same way.
package kvkeys

import "fmt"

func Round(id string) string             { return fmt.Sprintf("round:%s", id) }
func RoundByNumber(n int64) string       { return fmt.Sprintf("round:number:%d", n) }
func RoundParticipants(id string) string { return fmt.Sprintf("round:%s:participants", id) }
func Participant(roundID, wallet string) string {
	return fmt.Sprintf("round:%s:participant:%s", roundID, wallet)
}
func ParticipantLogs(roundID, wallet string) string {
	return fmt.Sprintf("round:%s:logs:%s", roundID, wallet)
}
func Leaderboard(roundID string) string { return fmt.Sprintf("round:%s:leaderboard", roundID) }

const (
	RoundsActive   = "rounds:active"
	RoundsRunning  = "rounds:running"
	RoundsFinished = "rounds:finished"
	RoundCounter   = "round:counter"
	StrategyCounter = "strategy:counter"
	StrategiesAll  = "strategies:all"
	StrategiesTop  = "strategies:top"
)

func Strategy(id string) string          { return fmt.Sprintf("strategy:%s", id) }
func UserStrategies(wallet string) string { return fmt.Sprintf("user:strategies:%s", wallet) }
func StrategyLicenses(id string) string   { return fmt.Sprintf("strategy:%s:licenses", id) }
func License(wallet, roundID string) string {
	return fmt.Sprintf("license:%s:%s", wallet, roundID)
}
