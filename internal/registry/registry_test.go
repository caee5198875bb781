package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/registry"
	"github.com/tradingarena/engine/internal/store"
	"github.com/tradingarena/engine/pkg/types"
)

func testRegistry() *registry.Registry {
	cfg := types.DefaultLLMConfig()
	cfg.MinInterval = time.Millisecond
	cfg.PostRequestWait = time.Millisecond
	cfg.CallTimeout = 200 * time.Millisecond
	client := llm.New(zap.NewNop(), cfg)
	return registry.New(zap.NewNop(), store.NewMemoryStore(), client)
}

func TestRegisterRejectsRoyaltyOutOfRange(t *testing.T) {
	r := testRegistry()
	_, err := r.Register(context.Background(), "alice", "buy low sell high", "n", "d", decimal.NewFromInt(4))
	if err == nil {
		t.Fatal("expected royalty below 5 to be rejected")
	}
	_, err = r.Register(context.Background(), "alice", "buy low sell high", "n", "d", decimal.NewFromInt(51))
	if err == nil {
		t.Fatal("expected royalty above 50 to be rejected")
	}
}

func TestRegisterThenGetRoundTrips(t *testing.T) {
	r := testRegistry()
	s, err := r.Register(context.Background(), "alice", "buy the dip on RSI < 30", "dip buyer", "desc", decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := r.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Owner != "alice" || got.Parsed == nil {
		t.Errorf("expected a hydrated, parsed strategy, got %+v", got)
	}
}

func TestListByOwnerOnlyReturnsOwnedStrategies(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	r.Register(ctx, "alice", "strategy a", "a", "d", decimal.NewFromInt(10))
	r.Register(ctx, "bob", "strategy b", "b", "d", decimal.NewFromInt(10))

	list, err := r.ListByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Owner != "alice" {
		t.Errorf("expected exactly one strategy owned by alice, got %+v", list)
	}
}

func TestLicenseRejectsSelfLicensing(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	s, _ := r.Register(ctx, "alice", "strategy a", "a", "d", decimal.NewFromInt(10))
	_, err := r.License(ctx, "alice", s.ID, "round-1")
	if err == nil {
		t.Fatal("expected owner licensing their own strategy to be rejected")
	}
}

func TestLicenseRejectsDuplicateForSameRound(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	s, _ := r.Register(ctx, "alice", "strategy a", "a", "d", decimal.NewFromInt(10))

	if _, err := r.License(ctx, "bob", s.ID, "round-1"); err != nil {
		t.Fatalf("unexpected error on first license: %v", err)
	}
	if _, err := r.License(ctx, "bob", s.ID, "round-1"); err == nil {
		t.Fatal("expected duplicate license for the same wallet and round to be rejected")
	}
}

func TestListTopExcludesUnverified(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	s, _ := r.Register(ctx, "alice", "strategy a", "a", "d", decimal.NewFromInt(10))

	top, err := r.ListTop(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 0 {
		t.Errorf("expected unverified strategy to be excluded, got %+v", top)
	}

	if err := r.SetVerified(ctx, s.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	top, err = r.ListTop(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 1 {
		t.Errorf("expected verified+active strategy to appear, got %+v", top)
	}
}
