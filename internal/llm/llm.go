// Package llm implements the LLM Client: strategy parsing and signal
// generation through a single serialized upstream queue, with tolerant JSON
// extraction and schema repair over whatever the model returns.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tradingarena/engine/internal/apperr"
	"github.com/tradingarena/engine/internal/metrics"
	"github.com/tradingarena/engine/pkg/types"
	"github.com/tradingarena/engine/pkg/utils"
)

var codeBlockRe = regexp.MustCompile(`(?s)^` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```" + `$`)

// stripMarkdownCodeBlock removes a fenced code block the model may have
// wrapped its JSON output in.
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if m := codeBlockRe.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return response
}

// extractJSONObject returns the substring from the first '{' to the last
// '}', tolerating prose the model added around the JSON payload.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

func normalizeJSON(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

type cacheEntry struct {
	value   any
	expires time.Time
}

type job struct {
	run  func(ctx context.Context) error
	done chan struct{}
}

// Client is the LLM Client component: a process-wide serialized queue
// fronting a chat-completion endpoint, with tolerant decoding and caching.
type Client struct {
	logger *zap.Logger
	cfg    types.LLMConfig
	http   *http.Client

	limiter *rate.Limiter

	mu    sync.Mutex
	queue []*job

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry

	startOnce sync.Once
}

// New constructs a Client and starts its single background worker.
func New(logger *zap.Logger, cfg types.LLMConfig) *Client {
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	c := &Client{
		logger:  logger,
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.CallTimeout},
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		cache:   make(map[string]cacheEntry),
	}
	c.startOnce.Do(func() { go c.worker() })
	return c
}

// worker is the single FIFO consumer enforcing cross-request ordering: pop,
// run, sleep the post-request delay, repeat. A 429 reinserts the job at the
// head of the queue after the back-off penalty, rather than dropping it.
func (c *Client) worker() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			continue
		}
		j := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.limiter.Wait(context.Background()); err != nil {
			close(j.done)
			continue
		}

		err := j.run(context.Background())
		if isRateLimited(err) {
			backoff := c.cfg.BackoffOn429
			if backoff <= 0 {
				backoff = 10 * time.Second
			}
			c.logger.Warn("llm upstream rate limited, backing off and re-queuing", zap.Duration("backoff", backoff))
			time.Sleep(backoff)

			c.mu.Lock()
			c.queue = append([]*job{j}, c.queue...)
			c.mu.Unlock()
			continue
		}

		close(j.done)

		wait := c.cfg.PostRequestWait
		if wait <= 0 {
			wait = time.Second
		}
		time.Sleep(wait)
	}
}

// submit enqueues fn and blocks until it has run (including any 429 retries).
func (c *Client) submit(fn func(ctx context.Context) error) {
	j := &job{run: fn, done: make(chan struct{})}
	c.mu.Lock()
	c.queue = append(c.queue, j)
	c.mu.Unlock()
	<-j.done
}

type rateLimitedError struct{ status int }

func (e *rateLimitedError) Error() string { return fmt.Sprintf("upstream returned %d", e.status) }

func isRateLimited(err error) bool {
	rle, ok := err.(*rateLimitedError)
	return ok && rle.status == http.StatusTooManyRequests
}

func (c *Client) cacheKey(operation, input string) string {
	h := sha256.Sum256([]byte(operation + "|" + input))
	return hex.EncodeToString(h[:])
}

func (c *Client) fromCache(key string) (any, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	e, ok := c.cache[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *Client) storeCache(key string, value any) {
	ttl := c.cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.cacheMu.Lock()
	c.cache[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
	c.cacheMu.Unlock()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete invokes the chat-completion endpoint, returning the raw message
// content. Non-429 upstream failures are returned as apperr.LLMUpstream;
// callers degrade to the schema-repair fallback rather than propagating.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.completeTimed(ctx, "complete", systemPrompt, userPrompt)
}

func (c *Client) completeTimed(ctx context.Context, operation, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	content, err := c.doComplete(ctx, systemPrompt, userPrompt)
	metrics.LLMCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if isRateLimited(err) {
			outcome = "rate_limited"
		}
	}
	metrics.LLMCallsTotal.WithLabelValues(operation, outcome).Inc()
	return content, err
}

func (c *Client) doComplete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperr.Wrap(apperr.LLMUpstream, "marshal llm request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.LLMUpstream, "build llm request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.LLMUpstream, "llm request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitedError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Wrap(apperr.LLMUpstream, fmt.Sprintf("llm upstream returned %d", resp.StatusCode), nil)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.LLMUpstream, "decode llm response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.New(apperr.LLMUpstream, "llm response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// tolerantDecode strips code fences, extracts the JSON object, normalizes
// trailing commas, and unmarshals into out. It never panics on gibberish —
// callers treat a decode failure as "apply the default and move on."
func tolerantDecode(raw string, out any) error {
	return TolerantDecode(raw, out)
}

// TolerantDecode is tolerantDecode exposed for callers outside this package
// (the Prompt-to-Round Parser) that need the same extraction pipeline for a
// different target shape than ParsedStrategy/Signal.
func TolerantDecode(raw string, out any) error {
	cleaned := stripMarkdownCodeBlock(raw)
	obj, ok := extractJSONObject(cleaned)
	if !ok {
		return fmt.Errorf("no json object found in response")
	}
	obj = normalizeJSON(obj)
	return json.Unmarshal([]byte(obj), out)
}

// defaultParsedStrategy is the safe fallback when parsing fails outright.
func defaultParsedStrategy() types.ParsedStrategy {
	return types.ParsedStrategy{
		StrategyType:        types.StrategyMixed,
		Indicators:          nil,
		EntryConditions:     "no clear entry condition extracted",
		ExitConditions:      "no clear exit condition extracted",
		RiskManagement:      "standard risk management",
		Timeframe:           "1h",
		Assets:              []string{"ETH"},
		SuggestedBaseTokens: []string{"ETH"},
		TargetsEcosystem:    false,
		ClarityScore:        3,
		Actionable:          false,
	}
}

type rawParsedStrategy struct {
	StrategyType        *string  `json:"strategyType"`
	Indicators          []string `json:"indicators"`
	EntryConditions     *string  `json:"entryConditions"`
	ExitConditions      *string  `json:"exitConditions"`
	RiskManagement      *string  `json:"riskManagement"`
	Timeframe           *string  `json:"timeframe"`
	Assets              []string `json:"assets"`
	SuggestedBaseTokens []string `json:"suggestedBaseTokens"`
	TargetsEcosystem    *bool    `json:"targetsEcosystem"`
	ClarityScore        *int     `json:"clarityScore"`
	Actionable          *bool    `json:"actionable"`
}

func repairParsedStrategy(raw rawParsedStrategy) types.ParsedStrategy {
	def := defaultParsedStrategy()

	strategyType := def.StrategyType
	if raw.StrategyType != nil {
		switch types.StrategyKind(*raw.StrategyType) {
		case types.StrategyTechnical, types.StrategyFundamental, types.StrategySentiment, types.StrategyMixed:
			strategyType = types.StrategyKind(*raw.StrategyType)
		}
	}

	clarity := def.ClarityScore
	if raw.ClarityScore != nil {
		clarity = *raw.ClarityScore
		if clarity < 1 {
			clarity = 1
		} else if clarity > 10 {
			clarity = 10
		}
	}

	out := types.ParsedStrategy{
		StrategyType:        strategyType,
		Indicators:          raw.Indicators,
		EntryConditions:     stringOr(raw.EntryConditions, def.EntryConditions),
		ExitConditions:      stringOr(raw.ExitConditions, def.ExitConditions),
		RiskManagement:      stringOr(raw.RiskManagement, def.RiskManagement),
		Timeframe:           stringOr(raw.Timeframe, def.Timeframe),
		Assets:              nonEmptyOr(raw.Assets, def.Assets),
		SuggestedBaseTokens: nonEmptyOr(raw.SuggestedBaseTokens, def.SuggestedBaseTokens),
		TargetsEcosystem:    boolOr(raw.TargetsEcosystem, def.TargetsEcosystem),
		ClarityScore:        clarity,
		Actionable:          boolOr(raw.Actionable, def.Actionable),
	}
	return out
}

func stringOr(p *string, fallback string) string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return fallback
	}
	return *p
}

func nonEmptyOr(v []string, fallback []string) []string {
	if len(v) == 0 {
		return fallback
	}
	return v
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

// ParseStrategy translates a natural-language strategy description into a
// ParsedStrategy, going through the serialized queue and the response cache.
func (c *Client) ParseStrategy(ctx context.Context, text string) (types.ParsedStrategy, error) {
	key := c.cacheKey("parseStrategy", text)
	if cached, ok := c.fromCache(key); ok {
		return cached.(types.ParsedStrategy), nil
	}

	var result types.ParsedStrategy
	var upstreamErr error

	c.submit(func(ctx context.Context) error {
		raw, err := c.complete(ctx, systemPromptParseStrategy, buildParseStrategyPrompt(text))
		if err != nil {
			if isRateLimited(err) {
				return err
			}
			upstreamErr = err
			result = defaultParsedStrategy()
			return nil
		}

		var parsed rawParsedStrategy
		if err := tolerantDecode(raw, &parsed); err != nil {
			result = defaultParsedStrategy()
			return nil
		}
		result = repairParsedStrategy(parsed)
		return nil
	})

	c.storeCache(key, result)
	if upstreamErr != nil {
		c.logger.Warn("parseStrategy upstream failed, served schema-repaired fallback", zap.Error(upstreamErr))
	}
	return result, nil
}

type rawSignal struct {
	Action     *string  `json:"action"`
	Confidence *int     `json:"confidence"`
	Reason     *string  `json:"reason"`
	EntryPrice *string  `json:"entryPrice"`
	StopLoss   *string  `json:"stopLoss"`
	TakeProfit *string  `json:"takeProfit"`
	RiskReward *float64 `json:"riskReward"`
}

// repairSignal coerces whatever the model returned into a well-formed
// Signal: action defaults to HOLD, confidence clamps to [1,10], and any
// zero/missing/symbolic price is substituted from the current snapshot price
// (stop-loss at -5%, take-profit at +10%, risk-reward at 2.0). A stop-loss and
// take-profit pair on the wrong side of the entry price for a BUY or SELL is
// replaced by those defaults as well.
func repairSignal(raw rawSignal, currentPrice decimal.Decimal) types.Signal {
	action := types.ActionHold
	if raw.Action != nil {
		switch types.SignalAction(strings.ToUpper(*raw.Action)) {
		case types.ActionBuy:
			action = types.ActionBuy
		case types.ActionSell:
			action = types.ActionSell
		case types.ActionHold:
			action = types.ActionHold
		}
	}

	confidence := 5
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}
	confidence = utils.ClampInt(confidence, 1, 10)

	entry := decimalOrDefault(raw.EntryPrice, currentPrice)
	if entry.LessThanOrEqual(decimal.Zero) {
		entry = currentPrice
	}

	defaultStop := entry.Mul(decimal.NewFromFloat(0.95))
	defaultTake := entry.Mul(decimal.NewFromFloat(1.10))
	if action == types.ActionSell {
		defaultStop = entry.Mul(decimal.NewFromFloat(1.05))
		defaultTake = entry.Mul(decimal.NewFromFloat(0.90))
	}

	stop := decimalOrDefault(raw.StopLoss, defaultStop)
	if stop.LessThanOrEqual(decimal.Zero) {
		stop = defaultStop
	}
	take := decimalOrDefault(raw.TakeProfit, defaultTake)
	if take.LessThanOrEqual(decimal.Zero) {
		take = defaultTake
	}
	if action == types.ActionBuy && !(stop.LessThan(entry) && entry.LessThan(take)) {
		stop, take = defaultStop, defaultTake
	}
	if action == types.ActionSell && !(take.LessThan(entry) && entry.LessThan(stop)) {
		stop, take = defaultStop, defaultTake
	}

	riskReward := decimal.NewFromFloat(2.0)
	if raw.RiskReward != nil && *raw.RiskReward > 0 {
		riskReward = decimal.NewFromFloat(*raw.RiskReward)
	}

	reason := "no reasoning provided"
	if raw.Reason != nil && strings.TrimSpace(*raw.Reason) != "" {
		reason = *raw.Reason
	}

	return types.Signal{
		Action:     action,
		Confidence: confidence,
		Reason:     reason,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: take,
		RiskReward: riskReward,
	}
}

func decimalOrDefault(raw *string, fallback decimal.Decimal) decimal.Decimal {
	if raw == nil {
		return fallback
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return fallback
	}
	return d
}

func defaultSignal(currentPrice decimal.Decimal) types.Signal {
	return repairSignal(rawSignal{}, currentPrice)
}

// GenerateSignal produces a trading Signal for snapshot given parsed, going
// through the serialized queue and the response cache.
func (c *Client) GenerateSignal(ctx context.Context, snapshot types.MarketSnapshot, parsed types.ParsedStrategy) (types.Signal, error) {
	input := fmt.Sprintf("%s|%s|%s", snapshot.Symbol, snapshot.Price.String(), parsed.EntryConditions)
	key := c.cacheKey("generateSignal", input)
	if cached, ok := c.fromCache(key); ok {
		return cached.(types.Signal), nil
	}

	var result types.Signal
	var upstreamErr error

	c.submit(func(ctx context.Context) error {
		raw, err := c.complete(ctx, systemPromptGenerateSignal, buildGenerateSignalPrompt(snapshot, parsed))
		if err != nil {
			if isRateLimited(err) {
				return err
			}
			upstreamErr = err
			result = defaultSignal(snapshot.Price)
			return nil
		}

		var sig rawSignal
		if err := tolerantDecode(raw, &sig); err != nil {
			result = defaultSignal(snapshot.Price)
			return nil
		}
		result = repairSignal(sig, snapshot.Price)
		return nil
	})

	c.storeCache(key, result)
	if upstreamErr != nil {
		c.logger.Warn("generateSignal upstream failed, served schema-repaired fallback", zap.Error(upstreamErr))
	}
	return result, nil
}

// RawComplete exposes the serialized chat-completion call directly, used by
// the Prompt-to-Round Parser, which needs the tolerant-decode pipeline but
// produces a different target shape than ParsedStrategy/Signal.
func (c *Client) RawComplete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var raw string
	var upstreamErr error
	c.submit(func(ctx context.Context) error {
		out, err := c.complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			if isRateLimited(err) {
				return err
			}
			upstreamErr = err
			return nil
		}
		raw = out
		return nil
	})
	if upstreamErr != nil {
		return "", upstreamErr
	}
	return raw, nil
}
