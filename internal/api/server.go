// Package api provides the thin HTTP/WebSocket command-dispatch shim: a
// gorilla/mux router exposing one POST route per command, wrapped in CORS,
// plus a gorilla/websocket broadcast hub. It holds no business logic —
// every handler decodes a payload, calls the matching Round Manager /
// Strategy Registry / Price Feed / LLM Client / Parser method, and writes
// a result envelope.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/apperr"
	"github.com/tradingarena/engine/internal/events"
	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/metrics"
	"github.com/tradingarena/engine/internal/parser"
	"github.com/tradingarena/engine/internal/priceFeed"
	"github.com/tradingarena/engine/internal/registry"
	"github.com/tradingarena/engine/internal/round"
	"github.com/tradingarena/engine/pkg/types"
)

// Server is the HTTP/WebSocket command-dispatch server.
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	rounds   *round.Manager
	registry *registry.Registry
	feed     *priceFeed.Feed
	llm      *llm.Client
	prompt   *parser.Parser
	hub      *Hub
}

// NewServer wires every core component into the dispatch table, subscribes
// the WebSocket hub to the Event Bus, and registers routes.
func NewServer(
	logger *zap.Logger,
	config types.ServerConfig,
	rounds *round.Manager,
	reg *registry.Registry,
	feed *priceFeed.Feed,
	llmClient *llm.Client,
	prompt *parser.Parser,
	bus *events.Bus,
) *Server {
	s := &Server{
		logger:   logger,
		config:   config,
		router:   mux.NewRouter(),
		rounds:   rounds,
		registry: reg,
		feed:     feed,
		llm:      llmClient,
		prompt:   prompt,
		hub:      NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	subscribeHub(s.hub, bus)
	go s.hub.Run()

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	commands := map[string]http.HandlerFunc{
		"create-round":             s.handleCreateRound,
		"create-game-from-prompt":  s.handleCreateGameFromPrompt,
		"join-round":               s.handleJoinRound,
		"start-round":              s.handleStartRound,
		"end-round":                s.handleEndRound,
		"get-round":                s.handleGetRound,
		"get-leaderboard":          s.handleGetLeaderboard,
		"get-enhanced-leaderboard": s.handleGetEnhancedLeaderboard,
		"get-participant":          s.handleGetParticipant,
		"get-participant-logs":     s.handleGetParticipantLogs,
		"get-participants":         s.handleGetParticipants,
		"list-rounds":              s.handleListRounds,
		"can-join":                 s.handleCanJoin,
		"register-strategy":        s.handleRegisterStrategy,
		"get-user-strategies":      s.handleGetUserStrategies,
		"get-marketplace":          s.handleGetMarketplace,
		"search-strategies":        s.handleSearchStrategies,
		"get-strategy":             s.handleGetStrategy,
		"parse-strategy":           s.handleParseStrategy,
		"signal":                   s.handleSignal,
		"insight":                  s.handleInsight,
		"base-price":               s.handleBasePrice,
		"base-top":                 s.handleBaseTop,
		"base-trending":            s.handleBaseTrending,
		"base-tokens":              s.handleBaseTokens,
		"base-strategies":          s.handleGetMarketplace,
		"base-signal":              s.handleSignal,
	}
	for command, handler := range commands {
		path := "/api/v1/" + command
		s.router.HandleFunc(path, s.instrument(command, handler)).Methods("POST")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// instrument wraps a handler with the metrics middleware every command
// route shares: request count and latency, labeled by command name.
func (s *Server) instrument(command string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.ObserveHTTPRequest(command, rec.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler returns the CORS-wrapped router, for embedding in a test server or
// an externally managed http.Server.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start runs the HTTP server, wrapped in CORS, until it exits or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server and closes hub connections.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(s.hub, conn)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

// envelope is the `{success, ...}` result shape every command returns.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.StoreUnavail, apperr.LLMUpstream, apperr.PriceUpstream:
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: string(kind), Message: err.Error()})
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid request body", err)
	}
	return nil
}
