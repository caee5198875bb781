// Package priceFeed resolves symbol -> market snapshot with a whitelist,
// a per-symbol cache, and a DEX -> spot -> mock fallback chain.
package priceFeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tradingarena/engine/internal/apperr"
	"github.com/tradingarena/engine/internal/metrics"
	"github.com/tradingarena/engine/internal/workers"
	"github.com/tradingarena/engine/pkg/types"
	"github.com/tradingarena/engine/pkg/utils"
)

// WhitelistEntry pairs a supported symbol with its on-chain address.
type WhitelistEntry struct {
	Symbol  string
	Address string
	// ReferencePrice seeds the mock fallback when no upstream is reachable.
	ReferencePrice decimal.Decimal
}

type cacheEntry struct {
	snapshot types.MarketSnapshot
	expires  time.Time
}

// Feed is the Price Feed component.
type Feed struct {
	logger *zap.Logger
	cfg    types.PriceFeedConfig
	http   *http.Client

	mu        sync.RWMutex
	whitelist map[string]WhitelistEntry
	cache     map[string]cacheEntry

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	inflightMu sync.Mutex
	inflight   map[string]*sync.WaitGroup

	refreshPool *workers.Pool
}

// New constructs a Feed with the given whitelist. Symbols are normalized to
// uppercase, matching the engine's opaque-identifier convention.
func New(logger *zap.Logger, cfg types.PriceFeedConfig, whitelist []WhitelistEntry) *Feed {
	f := &Feed{
		logger:    logger,
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.CallTimeout},
		whitelist: make(map[string]WhitelistEntry, len(whitelist)),
		cache:     make(map[string]cacheEntry),
		limiters:  make(map[string]*rate.Limiter),
		inflight:  make(map[string]*sync.WaitGroup),
	}
	for _, w := range whitelist {
		w.Symbol = utils.NormalizeSymbol(w.Symbol)
		f.whitelist[w.Symbol] = w
	}

	poolCfg := workers.DefaultPoolConfig("priceFeed-refresh")
	poolCfg.NumWorkers = 3
	poolCfg.QueueSize = 256
	f.refreshPool = workers.NewPool(logger, poolCfg)
	f.refreshPool.Start()

	return f
}

// StartBackgroundRefresh submits one refresh task per whitelisted symbol to
// the feed's worker pool every interval, until ctx is cancelled. This keeps
// the cache warm for symbols no participant has requested recently, so the
// first GetPrice after a quiet period doesn't pay the upstream round trip.
func (f *Feed) StartBackgroundRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, symbol := range f.ListAllowed() {
					symbol := symbol
					_ = f.refreshPool.SubmitFunc(func() error {
						_, err := f.GetPrice(ctx, symbol)
						return err
					})
				}
			}
		}
	}()
}

// Close stops the background refresh pool.
func (f *Feed) Close() error {
	return f.refreshPool.Stop()
}

// IsAllowed reports whether symbol is on the feed's whitelist.
func (f *Feed) IsAllowed(symbol string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.whitelist[utils.NormalizeSymbol(symbol)]
	return ok
}

// ListAllowed returns every whitelisted symbol, sorted for stable output.
func (f *Feed) ListAllowed() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.whitelist))
	for s := range f.whitelist {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (f *Feed) limiterFor(symbol string) *rate.Limiter {
	f.limiterMu.Lock()
	defer f.limiterMu.Unlock()
	l, ok := f.limiters[symbol]
	if !ok {
		rps := f.cfg.RequestsPerSecond
		if rps <= 0 {
			rps = 5
		}
		l = rate.NewLimiter(rate.Limit(rps), 1)
		f.limiters[symbol] = l
	}
	return l
}

// GetPrice returns the current MarketSnapshot for symbol, serving from cache
// when fresh, otherwise refreshing through the DEX -> spot -> mock chain.
// Unknown symbols never panic or surface an upstream error — they return
// apperr.ErrValidation ("symbol not supported").
func (f *Feed) GetPrice(ctx context.Context, symbol string) (types.MarketSnapshot, error) {
	symbol = utils.NormalizeSymbol(symbol)
	f.mu.RLock()
	entry, whitelisted := f.whitelist[symbol]
	f.mu.RUnlock()
	if !whitelisted {
		return types.MarketSnapshot{}, apperr.New(apperr.Validation, fmt.Sprintf("symbol not supported: %s", symbol))
	}

	if snap, ok := f.cached(symbol); ok {
		metrics.PriceFeedRequestsTotal.WithLabelValues("cache").Inc()
		return snap, nil
	}

	// Deduplicate concurrent cache misses for the same symbol: the first
	// caller refreshes, everyone else waits on it and rereads the cache.
	f.inflightMu.Lock()
	if wg, pending := f.inflight[symbol]; pending {
		f.inflightMu.Unlock()
		wg.Wait()
		if snap, ok := f.cached(symbol); ok {
			return snap, nil
		}
		return f.mockSnapshot(entry), nil
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	f.inflight[symbol] = wg
	f.inflightMu.Unlock()

	defer func() {
		f.inflightMu.Lock()
		delete(f.inflight, symbol)
		f.inflightMu.Unlock()
		wg.Done()
	}()

	if err := f.limiterFor(symbol).Wait(ctx); err != nil {
		return f.mockSnapshot(entry), nil
	}

	if snap, err := f.fetchDEX(ctx, entry); err == nil {
		f.store(symbol, snap)
		metrics.PriceFeedRequestsTotal.WithLabelValues("dex").Inc()
		return snap, nil
	} else {
		f.logger.Warn("dex price fetch failed, trying spot", zap.String("symbol", symbol), zap.Error(err))
	}

	if snap, err := f.fetchSpot(ctx, entry); err == nil {
		f.store(symbol, snap)
		metrics.PriceFeedRequestsTotal.WithLabelValues("spot").Inc()
		return snap, nil
	} else {
		f.logger.Warn("spot price fetch failed, falling back to mock", zap.String("symbol", symbol), zap.Error(err))
	}

	snap := f.mockSnapshot(entry)
	f.store(symbol, snap)
	metrics.PriceFeedRequestsTotal.WithLabelValues("mock").Inc()
	return snap, nil
}

func (f *Feed) cached(symbol string) (types.MarketSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.cache[symbol]
	if !ok || time.Now().After(e.expires) {
		return types.MarketSnapshot{}, false
	}
	return e.snapshot, true
}

func (f *Feed) store(symbol string, snap types.MarketSnapshot) {
	ttl := f.cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	f.mu.Lock()
	f.cache[symbol] = cacheEntry{snapshot: snap, expires: time.Now().Add(ttl)}
	f.mu.Unlock()
}

// dexPool is one liquidity pool entry from the aggregator response.
type dexPool struct {
	PriceUSD  string `json:"priceUsd"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	FDV float64 `json:"fdv"`
}

type dexResponse struct {
	Pairs []dexPool `json:"pairs"`
}

func (f *Feed) fetchDEX(ctx context.Context, entry WhitelistEntry) (types.MarketSnapshot, error) {
	if f.cfg.DEXAggregatorURL == "" {
		return types.MarketSnapshot{}, fmt.Errorf("no dex aggregator configured")
	}

	url := fmt.Sprintf("%s?chain=%s&address=%s", f.cfg.DEXAggregatorURL, f.cfg.Network, entry.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.MarketSnapshot{}, err
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.MarketSnapshot{}, fmt.Errorf("dex aggregator returned %d", resp.StatusCode)
	}

	var parsed dexResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("decode dex response: %w", err)
	}

	var best *dexPool
	for i := range parsed.Pairs {
		p := &parsed.Pairs[i]
		if p.Liquidity.USD < f.cfg.MinLiquidityUSD {
			continue
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	if best == nil {
		return types.MarketSnapshot{}, fmt.Errorf("no pool above minimum liquidity")
	}

	price, err := decimal.NewFromString(best.PriceUSD)
	if err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("parse dex price: %w", err)
	}

	return types.MarketSnapshot{
		Symbol:    entry.Symbol,
		Price:     price,
		Change24h: decimal.NewFromFloat(best.PriceChange.H24),
		Volume24h: decimal.NewFromFloat(best.Volume.H24),
		Liquidity: decimal.NewFromFloat(best.Liquidity.USD),
		MarketCap: decimal.NewFromFloat(best.FDV),
		Source:    types.SourceDEX,
		Timestamp: time.Now(),
	}, nil
}

type spotResponse struct {
	Price     string  `json:"price"`
	Change24h float64 `json:"change24h"`
	Volume24h float64 `json:"volume24h"`
}

func (f *Feed) fetchSpot(ctx context.Context, entry WhitelistEntry) (types.MarketSnapshot, error) {
	if f.cfg.SpotEndpointURL == "" {
		return types.MarketSnapshot{}, fmt.Errorf("no spot endpoint configured")
	}

	url := fmt.Sprintf("%s?symbol=%s", f.cfg.SpotEndpointURL, entry.Symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.MarketSnapshot{}, err
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.MarketSnapshot{}, fmt.Errorf("spot endpoint returned %d", resp.StatusCode)
	}

	var parsed spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("decode spot response: %w", err)
	}

	price, err := decimal.NewFromString(parsed.Price)
	if err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("parse spot price: %w", err)
	}

	return types.MarketSnapshot{
		Symbol:    entry.Symbol,
		Price:     price,
		Change24h: decimal.NewFromFloat(parsed.Change24h),
		Volume24h: decimal.NewFromFloat(parsed.Volume24h),
		Source:    types.SourceSpot,
		Timestamp: time.Now(),
	}, nil
}

// mockSnapshot perturbs the whitelist entry's reference price within +/-5%,
// the same multiplicative-jitter technique as the closest in-pack simulated
// mock pricer, scaled here to this feed's wider band.
func (f *Feed) mockSnapshot(entry WhitelistEntry) types.MarketSnapshot {
	ref := entry.ReferencePrice
	if ref.IsZero() {
		ref = decimal.NewFromInt(1)
	}
	jitter := 1 + (rand.Float64()*0.1 - 0.05)
	price := ref.Mul(decimal.NewFromFloat(jitter))

	return types.MarketSnapshot{
		Symbol:    entry.Symbol,
		Price:     price,
		Change24h: decimal.NewFromFloat(math.Round((jitter-1)*10000) / 100),
		Source:    types.SourceMock,
		Timestamp: time.Now(),
	}
}

// GetTopByVolume returns up to limit whitelisted symbols ordered by cached
// 24h volume, freshest cache entries only. Distinct from GetTrending, which
// ranks by the magnitude of price movement rather than trading activity.
func (f *Feed) GetTopByVolume(limit int) []types.MarketSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snaps := make([]types.MarketSnapshot, 0, len(f.cache))
	now := time.Now()
	for _, e := range f.cache {
		if now.After(e.expires) {
			continue
		}
		snaps = append(snaps, e.snapshot)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Volume24h.GreaterThan(snaps[j].Volume24h)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// GetTrending returns up to limit whitelisted symbols ordered by the
// magnitude of their cached 24h change, freshest cache entries only.
func (f *Feed) GetTrending(limit int) []types.MarketSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snaps := make([]types.MarketSnapshot, 0, len(f.cache))
	now := time.Now()
	for _, e := range f.cache {
		if now.After(e.expires) {
			continue
		}
		snaps = append(snaps, e.snapshot)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Change24h.Abs().GreaterThan(snaps[j].Change24h.Abs())
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}
