package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/api"
	"github.com/tradingarena/engine/internal/events"
	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/parser"
	"github.com/tradingarena/engine/internal/priceFeed"
	"github.com/tradingarena/engine/internal/registry"
	"github.com/tradingarena/engine/internal/round"
	"github.com/tradingarena/engine/internal/store"
	"github.com/tradingarena/engine/pkg/types"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	kv := store.NewMemoryStore()

	feed := priceFeed.New(logger, types.DefaultPriceFeedConfig(), []priceFeed.WhitelistEntry{
		{Symbol: "ETH", ReferencePrice: decimal.NewFromInt(3000)},
	})

	llmCfg := types.DefaultLLMConfig()
	llmCfg.MinInterval = time.Millisecond
	llmCfg.PostRequestWait = time.Millisecond
	llmCfg.CallTimeout = 200 * time.Millisecond
	llmClient := llm.New(logger, llmCfg)

	reg := registry.New(logger, kv, llmClient)
	bus := events.NewBus()
	manager := round.New(logger, kv, feed, llmClient, reg, bus)
	prompt := parser.New(llmClient)

	cfg := types.ServerConfig{Host: "127.0.0.1", WebSocketPath: "/ws"}
	server := api.NewServer(logger, cfg, manager, reg, feed, llmClient, prompt, bus)

	return httptest.NewServer(server.Handler())
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateAndJoinRound(t *testing.T) {
	srv := setupTestServer(t)
	defer srv.Close()

	resp, created := postJSON(t, srv, "/api/v1/create-round", map[string]any{
		"title":           "api test round",
		"duration":        3600,
		"startingBalance": 10000,
		"maxParticipants": 2,
		"minParticipants": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, created)
	}
	if created["success"] != true {
		t.Fatalf("expected success=true, got %v", created)
	}
	roundData, ok := created["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", created["data"])
	}
	roundID, _ := roundData["id"].(string)
	if roundID == "" {
		t.Fatal("expected a non-empty round id")
	}

	resp, joined := postJSON(t, srv, "/api/v1/join-round", map[string]any{
		"roundId":       roundID,
		"walletAddress": "alice",
		"strategy":      "buy the dip",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 joining round, got %d: %v", resp.StatusCode, joined)
	}
	if joined["success"] != true {
		t.Fatalf("expected join success=true, got %v", joined)
	}
}

func TestCreateRoundRejectsInvalidPayload(t *testing.T) {
	srv := setupTestServer(t)
	defer srv.Close()

	resp, body := postJSON(t, srv, "/api/v1/create-round", map[string]any{
		"title":           "no capacity",
		"maxParticipants": 0,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body)
	}
}
