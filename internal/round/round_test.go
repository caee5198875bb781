package round_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/events"
	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/priceFeed"
	"github.com/tradingarena/engine/internal/registry"
	"github.com/tradingarena/engine/internal/round"
	"github.com/tradingarena/engine/internal/store"
	"github.com/tradingarena/engine/pkg/types"
)

func testManager() *round.Manager {
	logger := zap.NewNop()
	kv := store.NewMemoryStore()

	feedCfg := types.DefaultPriceFeedConfig()
	feed := priceFeed.New(logger, feedCfg, []priceFeed.WhitelistEntry{
		{Symbol: "ETH", ReferencePrice: decimal.NewFromInt(3000)},
		{Symbol: "TOSHI", ReferencePrice: decimal.NewFromFloat(0.0001)},
	})

	llmCfg := types.DefaultLLMConfig()
	llmCfg.MinInterval = time.Millisecond
	llmCfg.PostRequestWait = time.Millisecond
	llmCfg.CallTimeout = 200 * time.Millisecond
	llmClient := llm.New(logger, llmCfg)

	reg := registry.New(logger, kv, llmClient)
	bus := events.NewBus()

	return round.New(logger, kv, feed, llmClient, reg, bus)
}

func createTestRound(t *testing.T, m *round.Manager, min, max int, interval, duration time.Duration) *types.Round {
	t.Helper()
	r, err := m.CreateRound(context.Background(), round.CreateRoundParams{
		Title:           "test round",
		Duration:        duration,
		StartingBalance: decimal.NewFromInt(10000),
		MinParticipants: min,
		MaxParticipants: max,
		Settings: types.RoundSettings{
			ExecutionInterval:   interval,
			MaxPositionFraction: decimal.NewFromFloat(0.3),
			TradingFeeRate:      decimal.NewFromFloat(0.001),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error creating round: %v", err)
	}
	return r
}

func TestJoinRoundRejectsDuplicateWallet(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 1, 2, time.Hour, time.Hour)
	ctx := context.Background()

	if _, err := m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy the dip"}); err != nil {
		t.Fatalf("unexpected error on first join: %v", err)
	}
	if _, err := m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy the dip"}); err == nil {
		t.Fatal("expected duplicate wallet join to be rejected")
	}
}

func TestJoinRoundEnforcesMaxCapacity(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 1, 1, time.Hour, time.Hour)
	ctx := context.Background()

	if _, err := m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy the dip"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "bob", StrategyText: "buy the dip"}); err == nil {
		t.Fatal("expected join beyond max capacity to be rejected")
	}
}

func TestJoinRoundRejectsMultipleBindingKinds(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 1, 2, time.Hour, time.Hour)
	_, err := m.JoinRound(context.Background(), r.ID, round.JoinRequest{
		Wallet:       "alice",
		StrategyText: "buy the dip",
		StrategyID:   "some-id",
	})
	if err == nil {
		t.Fatal("expected specifying both strategy text and strategyId to be rejected")
	}
}

func TestStartRoundRequiresMinimumParticipants(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 2, 5, time.Hour, time.Hour)
	ctx := context.Background()
	m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy the dip"})

	if _, err := m.StartRound(ctx, r.ID); err == nil {
		t.Fatal("expected start with only 1 of 2 minimum participants to be rejected")
	}

	m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "bob", StrategyText: "sell the rip"})
	started, err := m.StartRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("unexpected error starting round: %v", err)
	}
	if started.Status != types.RoundActive {
		t.Errorf("expected round to be active, got %s", started.Status)
	}
}

func TestJoinRoundRejectedOnceActive(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 1, 5, time.Hour, time.Hour)
	ctx := context.Background()
	m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy the dip"})
	if _, err := m.StartRound(ctx, r.ID); err != nil {
		t.Fatalf("unexpected error starting round: %v", err)
	}

	if _, err := m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "bob", StrategyText: "sell the rip"}); err == nil {
		t.Fatal("expected join on an active round to be rejected")
	}
}

func TestEndRoundIsTerminalAndIdempotent(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 1, 5, time.Hour, time.Hour)
	ctx := context.Background()
	m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy the dip"})
	m.StartRound(ctx, r.ID)

	ended, err := m.EndRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ended.Status != types.RoundFinished {
		t.Errorf("expected finished status, got %s", ended.Status)
	}

	again, err := m.EndRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("ending an already-finished round should be a no-op, not an error: %v", err)
	}
	if again.Status != types.RoundFinished {
		t.Errorf("expected status to remain finished, got %s", again.Status)
	}

	if _, err := m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "bob", StrategyText: "sell the rip"}); err == nil {
		t.Fatal("expected join on a finished round to be rejected")
	}
}

func TestTickLifecycleBuildsLeaderboard(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 1, 2, 20*time.Millisecond, 500*time.Millisecond)
	ctx := context.Background()

	m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy ETH on RSI < 30"})
	m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "bob", StrategyText: "sell ETH on RSI > 70"})

	if _, err := m.StartRound(ctx, r.ID); err != nil {
		t.Fatalf("unexpected error starting round: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	board, err := m.Leaderboard(ctx, r.ID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(board) == 0 {
		t.Fatal("expected at least one leaderboard entry after a tick has run")
	}
	for i, entry := range board {
		if entry.Rank != i+1 {
			t.Errorf("entry %d has rank %d, want %d", i, entry.Rank, i+1)
		}
	}

	if _, err := m.EndRound(ctx, r.ID); err != nil {
		t.Fatalf("unexpected error ending round: %v", err)
	}
}

func TestCanJoinReflectsCapacityAndMembership(t *testing.T) {
	m := testManager()
	r := createTestRound(t, m, 1, 1, time.Hour, time.Hour)
	ctx := context.Background()

	ok, _ := m.CanJoin(ctx, r.ID, "alice")
	if !ok {
		t.Fatal("expected alice to be able to join an empty round")
	}

	m.JoinRound(ctx, r.ID, round.JoinRequest{Wallet: "alice", StrategyText: "buy the dip"})

	ok, reason := m.CanJoin(ctx, r.ID, "alice")
	if ok {
		t.Fatal("expected alice to be rejected as already joined")
	}
	if reason == "" {
		t.Error("expected a non-empty rejection reason")
	}

	ok, _ = m.CanJoin(ctx, r.ID, "bob")
	if ok {
		t.Fatal("expected bob to be rejected since the round is full")
	}
}
