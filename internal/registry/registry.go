// Package registry implements the Strategy Registry: a KV-persisted catalog
// of natural-language trading strategies, their usage stats, and licensing.
package registry

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
	"github.com/tradingarena/engine/internal/kvkeys"
	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/store"
	"github.com/tradingarena/engine/pkg/types"
)

const licenseTTL = 30 * 24 * time.Hour

const strategyTTL = 365 * 24 * time.Hour

// Registry is the Strategy Registry component. Its map+mutex+Register/Get/List
// skeleton is carried over from the reference backend's executable-strategy
// registry, generalized from "id -> constructor" to "id -> persisted record."
type Registry struct {
	logger *zap.Logger
	store  store.Store
	llm    *llm.Client

	mu sync.RWMutex
}

// New constructs a Registry over store, using llmClient to parse strategy text.
func New(logger *zap.Logger, kv store.Store, llmClient *llm.Client) *Registry {
	return &Registry{logger: logger, store: kv, llm: llmClient}
}

func (r *Registry) load(ctx context.Context, id string) (*types.Strategy, error) {
	raw, ok, err := r.store.Get(ctx, kvkeys.Strategy(id))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "load strategy", err)
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("strategy not found: %s", id))
	}
	var s types.Strategy
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode strategy record", err)
	}
	return &s, nil
}

func (r *Registry) persist(ctx context.Context, s *types.Strategy) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode strategy record", err)
	}
	if err := r.store.Set(ctx, kvkeys.Strategy(s.ID), string(raw), strategyTTL); err != nil {
		return apperr.Wrap(apperr.StoreUnavail, "persist strategy", err)
	}
	return nil
}

// Register creates a new Strategy owned by owner, parses text through the LLM
// Client, and indexes it under the owner's set and the global strategy set.
// Royalty must be in [5, 50].
func (r *Registry) Register(ctx context.Context, owner, text, name, description string, royaltyPercent decimal.Decimal) (*types.Strategy, error) {
	if royaltyPercent.LessThan(decimal.NewFromInt(5)) || royaltyPercent.GreaterThan(decimal.NewFromInt(50)) {
		return nil, apperr.New(apperr.Validation, "royaltyPercent must be in [5, 50]")
	}
	if strings.TrimSpace(owner) == "" {
		return nil, apperr.New(apperr.Validation, "owner is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.Validation, "strategy text is required")
	}

	parsed, err := r.llm.ParseStrategy(ctx, text)
	if err != nil {
		return nil, apperr.Wrap(apperr.LLMUpstream, "parse strategy text", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.store.Incr(ctx, kvkeys.StrategyCounter)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "allocate strategy id", err)
	}
	id := fmt.Sprintf("strat-%d-%s", n, uuid.NewString()[:8])

	now := time.Now()
	s := &types.Strategy{
		ID:             id,
		Owner:          owner,
		Name:           name,
		Description:    description,
		Text:           text,
		Parsed:         &parsed,
		RoyaltyPercent: royaltyPercent,
		Active:         true,
		Verified:       false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.persist(ctx, s); err != nil {
		return nil, err
	}
	if err := r.store.SAdd(ctx, kvkeys.StrategiesAll, id); err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "index strategy globally", err)
	}
	if err := r.store.SAdd(ctx, kvkeys.UserStrategies(owner), id); err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "index strategy under owner", err)
	}
	return s, nil
}

// Get returns the Strategy record for id.
func (r *Registry) Get(ctx context.Context, id string) (*types.Strategy, error) {
	return r.load(ctx, id)
}

// ParseFor returns the parsed form of a previously-registered strategy.
func (r *Registry) ParseFor(ctx context.Context, id string) (types.ParsedStrategy, error) {
	s, err := r.load(ctx, id)
	if err != nil {
		return types.ParsedStrategy{}, err
	}
	if s.Parsed == nil {
		return types.ParsedStrategy{}, apperr.New(apperr.Internal, "strategy has no parsed form")
	}
	return *s.Parsed, nil
}

// ListByOwner returns every strategy registered by owner.
func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]*types.Strategy, error) {
	ids, err := r.store.SMembers(ctx, kvkeys.UserStrategies(owner))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "list owner strategies", err)
	}
	out := make([]*types.Strategy, 0, len(ids))
	for _, id := range ids {
		s, err := r.load(ctx, id)
		if err != nil {
			r.logger.Warn("skipping unreadable strategy in owner index", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListTop scans the strategy keyspace in pages, keeps active and verified
// strategies, and ranks them by winRate x totalUses descending.
func (r *Registry) ListTop(ctx context.Context, limit int) ([]*types.Strategy, error) {
	ids, err := r.store.SMembers(ctx, kvkeys.StrategiesAll)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "scan strategy keyspace", err)
	}

	const pageSize = 100
	var ranked []*types.Strategy
	for i := 0; i < len(ids); i += pageSize {
		end := i + pageSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[i:end] {
			s, err := r.load(ctx, id)
			if err != nil {
				continue
			}
			if !s.Active || !s.Verified {
				continue
			}
			ranked = append(ranked, s)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		scoreI := ranked[i].Stats.WinRate.Mul(decimal.NewFromInt(int64(ranked[i].Stats.TotalUses)))
		scoreJ := ranked[j].Stats.WinRate.Mul(decimal.NewFromInt(int64(ranked[j].Stats.TotalUses)))
		return scoreI.GreaterThan(scoreJ)
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// Search returns up to limit strategies whose name, description, or tags
// contain query (case-insensitive substring match).
func (r *Registry) Search(ctx context.Context, query string, limit int) ([]*types.Strategy, error) {
	ids, err := r.store.SMembers(ctx, kvkeys.StrategiesAll)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "scan strategy keyspace", err)
	}
	query = strings.ToLower(strings.TrimSpace(query))

	var out []*types.Strategy
	for _, id := range ids {
		s, err := r.load(ctx, id)
		if err != nil {
			continue
		}
		if query == "" || matches(s, query) {
			out = append(out, s)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matches(s *types.Strategy, query string) bool {
	if strings.Contains(strings.ToLower(s.Name), query) || strings.Contains(strings.ToLower(s.Description), query) {
		return true
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// UpdateStats folds outcome into the strategy's running stats.
func (r *Registry) UpdateStats(ctx context.Context, id string, outcome types.StrategyOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.load(ctx, id)
	if err != nil {
		return err
	}

	st := &s.Stats
	st.TotalUses++
	st.TotalTrades += outcome.Trades
	if outcome.Win {
		st.SuccessfulTrades++
	}
	st.TotalEarnings = st.TotalEarnings.Add(outcome.Earned)
	if st.TotalTrades > 0 {
		st.WinRate = decimal.NewFromInt(int64(st.SuccessfulTrades)).
			Div(decimal.NewFromInt(int64(st.TotalTrades))).Mul(decimal.NewFromInt(100))
	}
	if outcome.Return.GreaterThan(st.BestPerformance) {
		st.BestPerformance = outcome.Return
	}
	// Running average: new_avg = old_avg + (return - old_avg) / totalUses.
	n := decimal.NewFromInt(int64(st.TotalUses))
	st.AverageReturn = st.AverageReturn.Add(outcome.Return.Sub(st.AverageReturn).Div(n))

	s.UpdatedAt = time.Now()
	if err := r.persist(ctx, s); err != nil {
		return err
	}
	return r.store.ZAdd(ctx, kvkeys.StrategiesTop, st.WinRate.Mul(n).InexactFloat64(), id)
}

// License grants licensee per-round use of a strategy. Strategy must exist
// and be active, the licensee must differ from the owner, and no license may
// already exist for (licensee, roundID). The captured royalty is the owner's
// percent at license time.
func (r *Registry) License(ctx context.Context, licensee, strategyID, roundID string) (*types.License, error) {
	s, err := r.load(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, apperr.New(apperr.Conflict, "strategy is not active")
	}
	if s.Owner == licensee {
		return nil, apperr.New(apperr.Validation, "Cannot license your own strategy")
	}

	existing, err := r.GetLicense(ctx, licensee, roundID)
	if err == nil && existing != nil {
		return nil, apperr.New(apperr.Conflict, "Already licensed a strategy for this round")
	}

	lic := &types.License{
		Licensee:       licensee,
		StrategyID:     strategyID,
		RoundID:        roundID,
		Owner:          s.Owner,
		RoyaltyPercent: s.RoyaltyPercent,
		Active:         true,
		CreatedAt:      time.Now(),
	}
	raw, err := json.Marshal(lic)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode license record", err)
	}
	if err := r.store.Set(ctx, kvkeys.License(licensee, roundID), string(raw), licenseTTL); err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "persist license", err)
	}
	if err := r.store.SAdd(ctx, kvkeys.StrategyLicenses(strategyID), fmt.Sprintf("%s:%s", licensee, roundID)); err != nil {
		r.logger.Warn("failed to index license under strategy", zap.Error(err))
	}
	return lic, nil
}

// GetLicense returns the license a wallet holds for a round, if any.
func (r *Registry) GetLicense(ctx context.Context, licensee, roundID string) (*types.License, error) {
	raw, ok, err := r.store.Get(ctx, kvkeys.License(licensee, roundID))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavail, "load license", err)
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no license found")
	}
	var lic types.License
	if err := json.Unmarshal([]byte(raw), &lic); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode license record", err)
	}
	return &lic, nil
}

// SetStatus toggles a strategy's active flag; only the owner may call this.
func (r *Registry) SetStatus(ctx context.Context, id, owner string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if s.Owner != owner {
		return apperr.New(apperr.Validation, "only the owner may change strategy status")
	}
	s.Active = active
	s.UpdatedAt = time.Now()
	return r.persist(ctx, s)
}

// SetVerified toggles a strategy's verified flag. Admin operation.
func (r *Registry) SetVerified(ctx context.Context, id string, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	s.Verified = verified
	s.UpdatedAt = time.Now()
	return r.persist(ctx, s)
}
