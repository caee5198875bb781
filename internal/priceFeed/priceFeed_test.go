package priceFeed_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/priceFeed"
	"github.com/tradingarena/engine/pkg/types"
)

func testFeed() *priceFeed.Feed {
	cfg := types.DefaultPriceFeedConfig()
	return priceFeed.New(zap.NewNop(), cfg, []priceFeed.WhitelistEntry{
		{Symbol: "eth", Address: "0xabc", ReferencePrice: decimal.NewFromInt(3000)},
	})
}

func TestIsAllowedNormalizesCase(t *testing.T) {
	f := testFeed()
	if !f.IsAllowed("eth") || !f.IsAllowed("ETH") {
		t.Fatal("expected whitelisted symbol to match regardless of case")
	}
	if f.IsAllowed("TOSHI") {
		t.Fatal("expected non-whitelisted symbol to be rejected")
	}
}

func TestGetPriceUnknownSymbolIsValidationError(t *testing.T) {
	f := testFeed()
	_, err := f.GetPrice(context.Background(), "DOESNOTEXIST")
	if err == nil {
		t.Fatal("expected an error for an unknown symbol")
	}
}

func TestGetPriceFallsBackToMockWithinBand(t *testing.T) {
	f := testFeed()
	snap, err := f.GetPrice(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != types.SourceMock {
		t.Fatalf("expected mock source with no upstream configured, got %s", snap.Source)
	}

	lower := decimal.NewFromInt(3000).Mul(decimal.NewFromFloat(0.95))
	upper := decimal.NewFromInt(3000).Mul(decimal.NewFromFloat(1.05))
	if snap.Price.LessThan(lower) || snap.Price.GreaterThan(upper) {
		t.Errorf("mock price %s outside +/-5%% band [%s, %s]", snap.Price, lower, upper)
	}
}

func TestGetPriceCachesSecondCall(t *testing.T) {
	f := testFeed()
	first, err := f.GetPrice(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.GetPrice(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Price.Equal(second.Price) {
		t.Errorf("expected cached snapshot to be reused, got %s then %s", first.Price, second.Price)
	}
}

func TestStartBackgroundRefreshDoesNotPanic(t *testing.T) {
	f := testFeed()
	ctx, cancel := context.WithCancel(context.Background())
	f.StartBackgroundRefresh(ctx, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error closing refresh pool: %v", err)
	}
}

func TestListAllowedIsSorted(t *testing.T) {
	cfg := types.DefaultPriceFeedConfig()
	f := priceFeed.New(zap.NewNop(), cfg, []priceFeed.WhitelistEntry{
		{Symbol: "TOSHI", ReferencePrice: decimal.NewFromFloat(0.0001)},
		{Symbol: "ETH", ReferencePrice: decimal.NewFromInt(3000)},
	})
	got := f.ListAllowed()
	want := []string{"ETH", "TOSHI"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ListAllowed() = %v, want %v", got, want)
	}
}
