// Package round implements the Round Manager: the lifecycle state machine,
// join protocol, and per-round periodic execution task that drives the
// trading simulation. Its concurrency shape — a per-round goroutine, a dual
// mutex (round state plus participant set), a cancellable context, and a
// buffered-channel fan-out semaphore — is carried over from this pack's
// closest domain analog, a simulated-trading-competition backend's
// SimulationService/SimulationContext.
package round

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/apperr"
	"github.com/tradingarena/engine/internal/events"
	"github.com/tradingarena/engine/internal/kvkeys"
	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/metrics"
	"github.com/tradingarena/engine/internal/portfolio"
	"github.com/tradingarena/engine/internal/priceFeed"
	"github.com/tradingarena/engine/internal/registry"
	"github.com/tradingarena/engine/internal/store"
	"github.com/tradingarena/engine/pkg/types"
)

const maxFanOutConcurrency = 10

// Per-call timeouts for the external price and LLM calls a tick makes.
// These bound how long one stuck upstream can hold a participant's goroutine
// — and, transitively, the whole tick via fanOutWg.Wait() — so a dead price
// source or LLM upstream degrades that symbol instead of hanging forever.
const (
	priceCallTimeout = 10 * time.Second
	llmCallTimeout   = 20 * time.Second
)
const autoStartDelay = 5 * time.Second

// JoinRequest is the input to JoinRound. Exactly one of StrategyText,
// StrategyID, or LicenseStrategyID must be set.
type JoinRequest struct {
	Wallet            string
	Username          string
	StrategyText      string
	StrategyID        string
	LicenseStrategyID string
	RoyaltyPercent    decimal.Decimal
}

// roundContext is the in-memory control structure for an active round,
// mirroring SimulationContext: one mutex for round/status fields, one for
// the participant set, a cancellable context, and a WaitGroup tracking
// in-flight fan-out work so EndRound can wait for a tick to drain. joinMu
// serializes JoinRound calls for the round.
type roundContext struct {
	joinMu sync.Mutex

	stateMu sync.RWMutex
	round   *types.Round

	participantsMu sync.RWMutex
	participants   map[string]*types.Participant

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Manager is the Round Manager component.
type Manager struct {
	logger    *zap.Logger
	store     store.Store
	priceFeed *priceFeed.Feed
	llm       *llm.Client
	registry  *registry.Registry
	bus       *events.Bus

	contextsMu sync.RWMutex
	contexts   map[string]*roundContext
}

// New constructs a Manager wiring together every dependency the execution
// scheduler touches during a tick.
func New(logger *zap.Logger, kv store.Store, feed *priceFeed.Feed, llmClient *llm.Client, reg *registry.Registry, bus *events.Bus) *Manager {
	return &Manager{
		logger:    logger,
		store:     kv,
		priceFeed: feed,
		llm:       llmClient,
		registry:  reg,
		bus:       bus,
		contexts:  make(map[string]*roundContext),
	}
}

func (m *Manager) loadRound(ctx context.Context, id string) (*types.Round, error) {
	raw, ok, err := m.store.Get(ctx, kvkeys.Round(id))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "load round", err)
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("round not found: %s", id))
	}
	var r types.Round
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode round record", err)
	}
	return &r, nil
}

func (m *Manager) persistRound(ctx context.Context, r *types.Round) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode round record", err)
	}
	if err := m.store.Set(ctx, kvkeys.Round(r.ID), string(raw), r.Duration+time.Hour); err != nil {
		metrics.StoreOpsTotal.WithLabelValues("round", "error").Inc()
		return apperr.Wrap(apperr.StoreUnavail, "persist round", err)
	}
	metrics.StoreOpsTotal.WithLabelValues("round", "ok").Inc()
	return nil
}

func (m *Manager) loadParticipant(ctx context.Context, roundID, wallet string) (*types.Participant, error) {
	raw, ok, err := m.store.Get(ctx, kvkeys.Participant(roundID, wallet))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "load participant", err)
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, "participant not found")
	}
	var p types.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode participant record", err)
	}
	return &p, nil
}

func (m *Manager) persistParticipant(ctx context.Context, p *types.Participant) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode participant record", err)
	}
	if err := m.store.Set(ctx, kvkeys.Participant(p.RoundID, p.Wallet), string(raw), 0); err != nil {
		metrics.StoreOpsTotal.WithLabelValues("participant", "error").Inc()
		return apperr.Wrap(apperr.StoreUnavail, "persist participant", err)
	}
	metrics.StoreOpsTotal.WithLabelValues("participant", "ok").Inc()
	return nil
}

// CreateRoundParams configures a new round. CreateRound replaces a zero
// Duration (300 s), StartingBalance (10000) or MinParticipants (1), and a zero
// ExecutionInterval, MaxPositionFraction or TradingFeeRate setting with
// types.DefaultRoundSettings()'s value; other settings are kept as given.
type CreateRoundParams struct {
	Title           string
	Description     string
	Duration        time.Duration
	StartingBalance decimal.Decimal
	MinParticipants int
	MaxParticipants int
	Settings        types.RoundSettings
}

// CreateRound allocates a round number, persists a waiting-state Round, and
// emits roundCreated.
func (m *Manager) CreateRound(ctx context.Context, p CreateRoundParams) (*types.Round, error) {
	if p.MaxParticipants <= 0 {
		return nil, apperr.New(apperr.Validation, "maxParticipants must be positive")
	}
	if p.MinParticipants <= 0 {
		p.MinParticipants = 1
	}
	if p.MinParticipants > p.MaxParticipants {
		return nil, apperr.New(apperr.Validation, "minParticipants cannot exceed maxParticipants")
	}
	if p.Duration <= 0 {
		p.Duration = 300 * time.Second
	}
	if p.StartingBalance.LessThanOrEqual(decimal.Zero) {
		p.StartingBalance = decimal.NewFromInt(10000)
	}
	settings := p.Settings
	defaults := types.DefaultRoundSettings()
	if settings.ExecutionInterval <= 0 {
		settings.ExecutionInterval = defaults.ExecutionInterval
	}
	if settings.MaxPositionFraction.IsZero() {
		settings.MaxPositionFraction = defaults.MaxPositionFraction
	}
	if settings.TradingFeeRate.IsZero() {
		settings.TradingFeeRate = defaults.TradingFeeRate
	}

	n, err := m.store.Incr(ctx, kvkeys.RoundCounter)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "allocate round number", err)
	}

	r := &types.Round{
		ID:              uuid.NewString(),
		Number:          n,
		Title:           p.Title,
		Description:     p.Description,
		Duration:        p.Duration,
		StartingBalance: p.StartingBalance,
		MinParticipants: p.MinParticipants,
		MaxParticipants: p.MaxParticipants,
		Settings:        settings,
		Status:          types.RoundWaiting,
		CreatedAt:       time.Now(),
	}

	if err := m.persistRound(ctx, r); err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, kvkeys.RoundByNumber(n), r.ID, 0); err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "index round by number", err)
	}
	if err := m.store.SAdd(ctx, kvkeys.RoundsActive, r.ID); err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "index round as active", err)
	}

	m.contextsMu.Lock()
	m.contexts[r.ID] = &roundContext{round: r, participants: make(map[string]*types.Participant)}
	m.contextsMu.Unlock()

	m.bus.Publish(roundEvent(events.TopicRoundCreated, r.ID))
	return r, nil
}

func (m *Manager) getContext(roundID string) (*roundContext, bool) {
	m.contextsMu.RLock()
	defer m.contextsMu.RUnlock()
	rc, ok := m.contexts[roundID]
	return rc, ok
}

// CanJoin reports whether wallet may currently join roundID.
func (m *Manager) CanJoin(ctx context.Context, roundID, wallet string) (bool, string) {
	r, err := m.loadRound(ctx, roundID)
	if err != nil {
		return false, "round not found"
	}
	if r.Status != types.RoundWaiting {
		return false, "round is not accepting joins"
	}
	if r.Stats.TotalParticipants >= r.MaxParticipants {
		return false, "round is full"
	}
	isMember, err := m.store.SIsMember(ctx, kvkeys.RoundParticipants(roundID), wallet)
	if err == nil && isMember {
		return false, "wallet already joined"
	}
	return true, ""
}

// JoinRound validates and binds a participant's strategy, creates their
// portfolio, and — once the round fills — arms the auto-start timer.
func (m *Manager) JoinRound(ctx context.Context, roundID string, req JoinRequest) (*types.Participant, error) {
	if strings.TrimSpace(req.Wallet) == "" {
		return nil, apperr.New(apperr.Validation, "wallet is required")
	}

	set := 0
	if req.StrategyText != "" {
		set++
	}
	if req.StrategyID != "" {
		set++
	}
	if req.LicenseStrategyID != "" {
		set++
	}
	if set != 1 {
		return nil, apperr.New(apperr.Validation, "exactly one of strategy text, strategyId, or licenseStrategyId is required")
	}

	if rc, ok := m.getContext(roundID); ok {
		rc.joinMu.Lock()
		defer rc.joinMu.Unlock()
	}

	r, err := m.loadRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != types.RoundWaiting {
		return nil, apperr.New(apperr.Conflict, "round is not accepting joins")
	}
	if r.Stats.TotalParticipants >= r.MaxParticipants {
		return nil, apperr.New(apperr.Conflict, "Round is full")
	}
	already, err := m.store.SIsMember(ctx, kvkeys.RoundParticipants(roundID), req.Wallet)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "check existing membership", err)
	}
	if already {
		return nil, apperr.New(apperr.Conflict, "wallet already joined this round")
	}

	binding, err := m.resolveBinding(ctx, roundID, req)
	if err != nil {
		return nil, err
	}

	participant := &types.Participant{
		RoundID:   roundID,
		Wallet:    req.Wallet,
		Username:  req.Username,
		Binding:   binding,
		Portfolio: types.NewPortfolio(r.StartingBalance),
		JoinedAt:  time.Now(),
		Active:    true,
	}
	if err := m.persistParticipant(ctx, participant); err != nil {
		return nil, err
	}
	if err := m.store.SAdd(ctx, kvkeys.RoundParticipants(roundID), req.Wallet); err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "index participant", err)
	}

	r.Stats.TotalParticipants++
	if err := m.persistRound(ctx, r); err != nil {
		return nil, err
	}

	if rc, ok := m.getContext(roundID); ok {
		rc.stateMu.Lock()
		rc.round = r
		rc.stateMu.Unlock()
		rc.participantsMu.Lock()
		rc.participants[req.Wallet] = participant
		rc.participantsMu.Unlock()
	}

	m.bus.Publish(roundEvent(events.TopicParticipantJoined, roundID))

	switch {
	case r.Stats.TotalParticipants == r.MaxParticipants:
		go m.armAutoStart(roundID)
	case r.Settings.AutoStart && r.Stats.TotalParticipants >= r.MinParticipants:
		go func() {
			if _, err := m.StartRound(context.Background(), roundID); err != nil {
				m.logger.Warn("autoStart failed", zap.String("roundId", roundID), zap.Error(err))
			}
		}()
	}

	return participant, nil
}

func (m *Manager) resolveBinding(ctx context.Context, roundID string, req JoinRequest) (types.StrategyBinding, error) {
	switch {
	case req.StrategyText != "":
		parsed, err := m.llm.ParseStrategy(ctx, req.StrategyText)
		if err != nil {
			return types.StrategyBinding{}, apperr.Wrap(apperr.LLMUpstream, "parse inline strategy", err)
		}
		// A royalty percent on an inline submission auto-registers the text
		// into the marketplace under the joining wallet, so it becomes
		// licensable by future participants.
		if req.RoyaltyPercent.GreaterThan(decimal.Zero) {
			if _, err := m.registry.Register(ctx, req.Wallet, req.StrategyText, "untitled strategy", "", req.RoyaltyPercent); err != nil {
				m.logger.Warn("failed to auto-register inline strategy", zap.Error(err))
			}
		}
		return types.StrategyBinding{Kind: types.BindingInline, Text: req.StrategyText, Parsed: &parsed}, nil

	case req.StrategyID != "":
		s, err := m.registry.Get(ctx, req.StrategyID)
		if err != nil {
			return types.StrategyBinding{}, err
		}
		if s.Owner != req.Wallet {
			return types.StrategyBinding{}, apperr.New(apperr.Validation, "wallet does not own this strategy")
		}
		return types.StrategyBinding{Kind: types.BindingOwned, StrategyID: s.ID, Parsed: s.Parsed}, nil

	default:
		lic, err := m.registry.License(ctx, req.Wallet, req.LicenseStrategyID, roundID)
		if err != nil {
			return types.StrategyBinding{}, err
		}
		s, err := m.registry.Get(ctx, req.LicenseStrategyID)
		if err != nil {
			return types.StrategyBinding{}, err
		}
		return types.StrategyBinding{
			Kind:           types.BindingLicensed,
			StrategyID:     s.ID,
			Parsed:         s.Parsed,
			LicensorWallet: lic.Owner,
			RoyaltyPercent: lic.RoyaltyPercent,
		}, nil
	}
}

func (m *Manager) armAutoStart(roundID string) {
	time.Sleep(autoStartDelay)
	ctx := context.Background()
	r, err := m.loadRound(ctx, roundID)
	if err != nil || r.Status != types.RoundWaiting {
		return
	}
	if _, err := m.StartRound(ctx, roundID); err != nil {
		m.logger.Warn("auto-start failed", zap.String("roundId", roundID), zap.Error(err))
	}
}

// StartRound transitions a waiting round to active and launches its periodic
// execution task, provided the minimum participant count has been met.
func (m *Manager) StartRound(ctx context.Context, roundID string) (*types.Round, error) {
	r, err := m.loadRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != types.RoundWaiting {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("round is %s, not waiting", r.Status))
	}
	if r.Stats.TotalParticipants < r.MinParticipants {
		return nil, apperr.New(apperr.Conflict, "not enough participants to start")
	}

	now := time.Now()
	endAt := now.Add(r.Duration)
	r.Status = types.RoundActive
	r.StartAt = &now
	r.EndAt = &endAt
	if err := m.persistRound(ctx, r); err != nil {
		return nil, err
	}
	m.store.SRem(ctx, kvkeys.RoundsActive, r.ID)
	m.store.SAdd(ctx, kvkeys.RoundsRunning, r.ID)

	rc, ok := m.getContext(roundID)
	if !ok {
		rc = &roundContext{participants: make(map[string]*types.Participant)}
		m.contextsMu.Lock()
		m.contexts[roundID] = rc
		m.contextsMu.Unlock()
	}
	rc.stateMu.Lock()
	rc.round = r
	rc.stateMu.Unlock()
	if err := m.hydrateParticipants(ctx, rc, roundID); err != nil {
		m.logger.Warn("failed to hydrate participants before start", zap.Error(err))
	}

	rc.ctx, rc.cancel = context.WithCancel(context.Background())
	go m.runRound(rc, roundID)

	m.bus.Publish(roundEvent(events.TopicRoundStarted, roundID))
	return r, nil
}

func (m *Manager) hydrateParticipants(ctx context.Context, rc *roundContext, roundID string) error {
	wallets, err := m.store.SMembers(ctx, kvkeys.RoundParticipants(roundID))
	if err != nil {
		return err
	}
	rc.participantsMu.Lock()
	defer rc.participantsMu.Unlock()
	for _, w := range wallets {
		p, err := m.loadParticipant(ctx, roundID, w)
		if err != nil {
			continue
		}
		rc.participants[w] = p
	}
	return nil
}

// runRound is the per-round goroutine: a fixed-delay retick loop that never
// spawns a fresh goroutine per tick. It selects between a timer and
// cancellation as the per-round SimulationContext loop does, and re-arms the
// timer only after the previous tick has returned.
func (m *Manager) runRound(rc *roundContext, roundID string) {
	rc.stateMu.RLock()
	interval := rc.round.Settings.ExecutionInterval
	rc.stateMu.RUnlock()
	if interval <= 0 {
		interval = 15 * time.Second
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-timer.C:
			rc.stateMu.RLock()
			endAt := rc.round.EndAt
			status := rc.round.Status
			rc.stateMu.RUnlock()

			if status != types.RoundActive {
				return
			}
			if endAt != nil && !time.Now().Before(*endAt) {
				if _, err := m.EndRound(context.Background(), roundID); err != nil {
					m.logger.Warn("failed to end round at deadline", zap.String("roundId", roundID), zap.Error(err))
				}
				return
			}
			m.executeTick(rc, roundID)
			timer.Reset(interval)
		}
	}
}

// executeTick fans out across the round's participants, bounded by a
// buffered-channel semaphore, then rebuilds the leaderboard once every
// participant in this tick has been revalued — no partial-tick leaderboards.
func (m *Manager) executeTick(rc *roundContext, roundID string) {
	ctx := context.Background()

	rc.participantsMu.RLock()
	snapshot := make([]*types.Participant, 0, len(rc.participants))
	for _, p := range rc.participants {
		snapshot = append(snapshot, p)
	}
	rc.participantsMu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	concurrency := len(snapshot)
	if concurrency > maxFanOutConcurrency {
		concurrency = maxFanOutConcurrency
	}
	semaphore := make(chan struct{}, concurrency)

	var fanOutWg sync.WaitGroup
	for _, p := range snapshot {
		p := p
		fanOutWg.Add(1)
		rc.wg.Add(1)
		go func() {
			defer fanOutWg.Done()
			defer rc.wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("recovered from panic processing participant",
						zap.String("roundId", roundID), zap.String("wallet", p.Wallet), zap.Any("panic", r))
				}
			}()
			m.processParticipant(ctx, roundID, p)
		}()
	}
	fanOutWg.Wait()

	rc.stateMu.Lock()
	rc.round.Stats.TicksRun++
	stillActive := rc.round.Status == types.RoundActive
	if err := m.persistRound(ctx, rc.round); err != nil {
		m.logger.Warn("failed to persist round tick stats", zap.Error(err))
	}
	rc.stateMu.Unlock()
	metrics.RoundTicksTotal.WithLabelValues(roundID).Inc()

	if !stillActive {
		return
	}
	m.rebuildLeaderboard(ctx, rc, roundID)
}

// processParticipant runs one participant's sequential price -> signal ->
// trade -> log chain across their candidate symbols, then revalues. A
// failure at any symbol is isolated to that symbol; a failure for this
// participant never aborts the tick for anyone else.
func (m *Manager) processParticipant(ctx context.Context, roundID string, p *types.Participant) {
	if p.Binding.Parsed == nil {
		return
	}
	candidates := candidateSymbols(*p.Binding.Parsed, m.priceFeed)

	prices := make(map[string]decimal.Decimal)
	for _, symbol := range candidates {
		priceCtx, priceCancel := context.WithTimeout(ctx, priceCallTimeout)
		snap, err := m.priceFeed.GetPrice(priceCtx, symbol)
		priceCancel()
		if err != nil {
			m.logger.Warn("price feed failure, skipping symbol", zap.String("symbol", symbol), zap.Error(err))
			metrics.ParticipantsProcessedTotal.WithLabelValues("error").Inc()
			continue
		}
		prices[symbol] = snap.Price

		llmCtx, llmCancel := context.WithTimeout(ctx, llmCallTimeout)
		sig, err := m.llm.GenerateSignal(llmCtx, snap, *p.Binding.Parsed)
		llmCancel()
		if err != nil {
			m.logger.Warn("llm failure generating signal, defaulting to hold", zap.String("symbol", symbol), zap.Error(err))
			metrics.ParticipantsProcessedTotal.WithLabelValues("error").Inc()
			continue
		}

		executed := false
		switch sig.Action {
		case types.ActionBuy:
			executed = portfolio.ApplyBuy(p.Portfolio, symbol, snap.Price, sig.Confidence, m.roundSettingsFor(roundID))
		case types.ActionSell:
			executed = portfolio.ApplySell(p.Portfolio, symbol, snap.Price)
		}

		m.appendTradeLog(ctx, roundID, p.Wallet, types.TradeLogEntry{
			Timestamp:  time.Now(),
			Symbol:     symbol,
			Action:     sig.Action,
			Price:      snap.Price,
			Confidence: sig.Confidence,
			Reason:     sig.Reason,
			Executed:   executed,
		})
		if executed {
			metrics.ParticipantsProcessedTotal.WithLabelValues("traded").Inc()
		} else {
			metrics.ParticipantsProcessedTotal.WithLabelValues("skipped").Inc()
		}
	}

	portfolio.Revalue(p.Portfolio, prices)
	if err := m.persistParticipant(ctx, p); err != nil {
		m.logger.Warn("failed to persist participant after tick", zap.String("wallet", p.Wallet), zap.Error(err))
	}
}

func (m *Manager) roundSettingsFor(roundID string) types.RoundSettings {
	if rc, ok := m.getContext(roundID); ok {
		rc.stateMu.RLock()
		defer rc.stateMu.RUnlock()
		return rc.round.Settings
	}
	return types.DefaultRoundSettings()
}

// candidateSymbols returns the first three suggested base tokens (falling
// back to assets), filtered to symbols the Price Feed actually serves.
func candidateSymbols(parsed types.ParsedStrategy, feed *priceFeed.Feed) []string {
	source := parsed.SuggestedBaseTokens
	if len(source) == 0 {
		source = parsed.Assets
	}
	var out []string
	for _, symbol := range source {
		if !feed.IsAllowed(symbol) {
			continue
		}
		out = append(out, strings.ToUpper(symbol))
		if len(out) == 3 {
			break
		}
	}
	return out
}

func (m *Manager) appendTradeLog(ctx context.Context, roundID, wallet string, entry types.TradeLogEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	field := fmt.Sprintf("%d", entry.Timestamp.UnixNano())
	if err := m.store.HSet(ctx, kvkeys.ParticipantLogs(roundID, wallet), field, string(raw)); err != nil {
		m.logger.Warn("failed to append trade log", zap.String("wallet", wallet), zap.Error(err))
	}
}

func (m *Manager) rebuildLeaderboard(ctx context.Context, rc *roundContext, roundID string) {
	rc.participantsMu.RLock()
	entries := make([]types.LeaderboardEntry, 0, len(rc.participants))
	for _, p := range rc.participants {
		entries = append(entries, types.LeaderboardEntry{
			Wallet:        p.Wallet,
			Username:      p.Username,
			PnL:           p.Portfolio.RealizedPnL,
			PnLPercentage: p.Portfolio.PercentPnL,
			TotalValue:    p.Portfolio.TotalValue,
			Trades:        p.Portfolio.Trades,
			WinRate:       p.Portfolio.WinRate,
		})
	}
	rc.participantsMu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].PnLPercentage.GreaterThan(entries[j].PnLPercentage) })
	for i := range entries {
		entries[i].Rank = i + 1
	}

	key := kvkeys.Leaderboard(roundID)
	existing, _ := m.store.ZRevRangeByRank(ctx, key, 0, -1)
	members := make([]string, 0, len(existing))
	for _, e := range existing {
		members = append(members, e.Member)
	}
	if len(members) > 0 {
		m.store.ZRem(ctx, key, members...)
	}
	for _, e := range entries {
		m.store.ZAdd(ctx, key, e.PnLPercentage.InexactFloat64(), e.Wallet)
	}

	topN := entries
	if len(topN) > 10 {
		topN = topN[:10]
	}
	m.bus.Publish(&leaderboardUpdateEvent{
		BaseEvent: events.NewBaseEvent(events.TopicLeaderboardUpdate, roundID),
		TopN:      topN,
	})
}

// EndRound cancels the round's periodic task, waits for any in-flight tick to
// drain, performs a final revaluation and leaderboard rebuild, and marks the
// round finished.
func (m *Manager) EndRound(ctx context.Context, roundID string) (*types.Round, error) {
	r, err := m.loadRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status == types.RoundFinished || r.Status == types.RoundCancelled {
		return r, nil
	}

	rc, ok := m.getContext(roundID)
	if ok && rc.cancel != nil {
		rc.cancel()
		rc.wg.Wait()
	}

	if ok {
		m.executeTick(rc, roundID)
	}

	now := time.Now()
	r.Status = types.RoundFinished
	r.EndAt = &now
	if err := m.persistRound(ctx, r); err != nil {
		return nil, err
	}
	m.store.SRem(ctx, kvkeys.RoundsRunning, roundID)
	m.store.SRem(ctx, kvkeys.RoundsActive, roundID)
	m.store.SAdd(ctx, kvkeys.RoundsFinished, roundID)

	if ok {
		rc.stateMu.Lock()
		rc.round = r
		rc.stateMu.Unlock()
	}

	m.bus.Publish(roundEvent(events.TopicRoundEnded, roundID))
	return r, nil
}

// EnhancedLeaderboard returns the same ranked entries as Leaderboard, with
// ProfitScore (actual%/expected%) and a letter Grade derived on top.
func (m *Manager) EnhancedLeaderboard(ctx context.Context, roundID string, limit int) ([]types.LeaderboardEntry, error) {
	entries, err := m.Leaderboard(ctx, roundID, limit)
	if err != nil {
		return nil, err
	}
	r, err := m.loadRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	expected := r.Settings.ExpectedProfitPct
	if expected.IsZero() {
		expected = types.DefaultRoundSettings().ExpectedProfitPct
	}
	for i := range entries {
		entries[i].ProfitScore = profitScore(entries[i].PnLPercentage, expected)
		entries[i].Grade = gradeFor(entries[i].ProfitScore)
	}
	return entries, nil
}

// profitScore is actual%/expected%, the ratio the spec's auxiliary
// leaderboard field grades a participant on.
func profitScore(actual, expected decimal.Decimal) decimal.Decimal {
	if expected.IsZero() {
		return decimal.Zero
	}
	return actual.Div(expected)
}

// gradeFor maps a profit score to a letter grade. Thresholds are this
// engine's own scale, not carried from any teacher source.
func gradeFor(score decimal.Decimal) string {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromFloat(1.5)):
		return "A+"
	case score.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return "A"
	case score.GreaterThanOrEqual(decimal.NewFromFloat(0.75)):
		return "B"
	case score.GreaterThanOrEqual(decimal.NewFromFloat(0.5)):
		return "C"
	case score.GreaterThanOrEqual(decimal.NewFromFloat(0.25)):
		return "D"
	default:
		return "F"
	}
}

// GetRound returns the Round record for id.
func (m *Manager) GetRound(ctx context.Context, id string) (*types.Round, error) {
	return m.loadRound(ctx, id)
}

// ListRounds returns every round id'd under the given status's index set.
func (m *Manager) ListRounds(ctx context.Context, status types.RoundStatus, limit int) ([]*types.Round, error) {
	var key string
	switch status {
	case types.RoundActive, types.RoundWaiting:
		key = kvkeys.RoundsActive
	case types.RoundFinished, types.RoundCancelled:
		key = kvkeys.RoundsFinished
	default:
		key = kvkeys.RoundsRunning
	}
	ids, err := m.store.SMembers(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "list round ids", err)
	}
	out := make([]*types.Round, 0, len(ids))
	for _, id := range ids {
		r, err := m.loadRound(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Leaderboard returns the top `limit` ranked entries for roundID.
func (m *Manager) Leaderboard(ctx context.Context, roundID string, limit int) ([]types.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	members, err := m.store.ZRevRangeByRank(ctx, kvkeys.Leaderboard(roundID), 0, int64(limit-1))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "load leaderboard", err)
	}
	out := make([]types.LeaderboardEntry, 0, len(members))
	for i, mem := range members {
		p, err := m.loadParticipant(ctx, roundID, mem.Member)
		if err != nil {
			continue
		}
		out = append(out, types.LeaderboardEntry{
			Rank:          i + 1,
			Wallet:        p.Wallet,
			Username:      p.Username,
			PnL:           p.Portfolio.RealizedPnL,
			PnLPercentage: p.Portfolio.PercentPnL,
			TotalValue:    p.Portfolio.TotalValue,
			Trades:        p.Portfolio.Trades,
			WinRate:       p.Portfolio.WinRate,
		})
	}
	return out, nil
}

// ParticipantLogs returns every persisted trade log entry for wallet in
// roundID, most recent first.
func (m *Manager) ParticipantLogs(ctx context.Context, roundID, wallet string, limit int) ([]types.TradeLogEntry, error) {
	raw, err := m.store.HGetAll(ctx, kvkeys.ParticipantLogs(roundID, wallet))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "load participant logs", err)
	}
	out := make([]types.TradeLogEntry, 0, len(raw))
	for _, v := range raw {
		var entry types.TradeLogEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListParticipants returns every participant currently joined to roundID.
func (m *Manager) ListParticipants(ctx context.Context, roundID string) ([]*types.Participant, error) {
	wallets, err := m.store.SMembers(ctx, kvkeys.RoundParticipants(roundID))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "list round participants", err)
	}
	out := make([]*types.Participant, 0, len(wallets))
	for _, w := range wallets {
		p, err := m.loadParticipant(ctx, roundID, w)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetParticipant returns the Participant record for wallet in roundID.
func (m *Manager) GetParticipant(ctx context.Context, roundID, wallet string) (*types.Participant, error) {
	return m.loadParticipant(ctx, roundID, wallet)
}

type simpleEvent struct {
	events.BaseEvent
}

func roundEvent(topic events.Topic, roundID string) events.Event {
	return simpleEvent{BaseEvent: events.NewBaseEvent(topic, roundID)}
}

type leaderboardUpdateEvent struct {
	events.BaseEvent
	TopN []types.LeaderboardEntry `json:"topN"`
}

// TopNData exposes TopN to subscribers (e.g. the WebSocket hub) that only
// see this event through the events.Event interface.
func (e *leaderboardUpdateEvent) TopNData() any { return e.TopN }
