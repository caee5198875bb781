package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradingarena/engine/internal/apperr"
	"github.com/tradingarena/engine/internal/round"
	"github.com/tradingarena/engine/pkg/types"
)

type createRoundRequest struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	DurationSeconds   int      `json:"duration"`
	StartingBalance   float64  `json:"startingBalance"`
	MaxParticipants   int      `json:"maxParticipants"`
	MinParticipants   int      `json:"minParticipants"`
	ExecutionInterval int      `json:"executionInterval"`
	AllowedTokens     []string `json:"allowedTokens"`
	AutoStart         bool     `json:"autoStart"`
}

func (req createRoundRequest) toParams() round.CreateRoundParams {
	settings := types.DefaultRoundSettings()
	settings.AllowedSymbols = req.AllowedTokens
	settings.AutoStart = req.AutoStart
	if req.ExecutionInterval > 0 {
		settings.ExecutionInterval = time.Duration(req.ExecutionInterval) * time.Second
	}
	return round.CreateRoundParams{
		Title:           req.Title,
		Description:     req.Description,
		Duration:        time.Duration(req.DurationSeconds) * time.Second,
		StartingBalance: decimal.NewFromFloat(req.StartingBalance),
		MinParticipants: req.MinParticipants,
		MaxParticipants: req.MaxParticipants,
		Settings:        settings,
	}
}

func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req createRoundRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	created, err := s.rounds.CreateRound(r.Context(), req.toParams())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleCreateGameFromPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	extracted, err := s.prompt.Parse(r.Context(), req.Query)
	if err != nil {
		writeErr(w, err)
		return
	}
	created, err := s.rounds.CreateRound(r.Context(), extracted.ToRoundParams())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"round": created, "extractedData": extracted})
}

func (s *Server) handleJoinRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID           string  `json:"roundId"`
		WalletAddress     string  `json:"walletAddress"`
		Username          string  `json:"username"`
		Strategy          string  `json:"strategy"`
		StrategyID        string  `json:"strategyId"`
		LicenseStrategyID string  `json:"licenseStrategyId"`
		RoyaltyPercent    float64 `json:"royaltyPercent"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	participant, err := s.rounds.JoinRound(r.Context(), req.RoundID, round.JoinRequest{
		Wallet:            req.WalletAddress,
		Username:          req.Username,
		StrategyText:      req.Strategy,
		StrategyID:        req.StrategyID,
		LicenseStrategyID: req.LicenseStrategyID,
		RoyaltyPercent:    decimal.NewFromFloat(req.RoyaltyPercent),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, participant)
}

func (s *Server) handleStartRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID string `json:"roundId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	started, err := s.rounds.StartRound(r.Context(), req.RoundID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, started)
}

func (s *Server) handleEndRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID string `json:"roundId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	ended, err := s.rounds.EndRound(r.Context(), req.RoundID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, ended)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID string `json:"roundId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	rnd, err := s.rounds.GetRound(r.Context(), req.RoundID)
	if err != nil {
		writeErr(w, err)
		return
	}
	participants, err := s.rounds.ListParticipants(r.Context(), req.RoundID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"round": rnd, "currentParticipants": participants})
}

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID string `json:"roundId"`
		Limit   int    `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	board, err := s.rounds.Leaderboard(r.Context(), req.RoundID, req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, board)
}

func (s *Server) handleGetEnhancedLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID string `json:"roundId"`
		Limit   int    `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	board, err := s.rounds.EnhancedLeaderboard(r.Context(), req.RoundID, req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, board)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID       string `json:"roundId"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	p, err := s.rounds.GetParticipant(r.Context(), req.RoundID, req.WalletAddress)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) handleGetParticipantLogs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID       string `json:"roundId"`
		WalletAddress string `json:"walletAddress"`
		Limit         int    `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	logs, err := s.rounds.ParticipantLogs(r.Context(), req.RoundID, req.WalletAddress, req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, logs)
}

func (s *Server) handleGetParticipants(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID string `json:"roundId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	participants, err := s.rounds.ListParticipants(r.Context(), req.RoundID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, participants)
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	rounds, err := s.rounds.ListRounds(r.Context(), types.RoundStatus(req.Status), req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, rounds)
}

func (s *Server) handleCanJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoundID       string `json:"roundId"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	canJoin, reason := s.rounds.CanJoin(r.Context(), req.RoundID, req.WalletAddress)
	writeData(w, http.StatusOK, map[string]any{"canJoin": canJoin, "reason": reason})
}

func (s *Server) handleRegisterStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner          string  `json:"owner"`
		Text           string  `json:"text"`
		Name           string  `json:"name"`
		Description    string  `json:"description"`
		RoyaltyPercent float64 `json:"royaltyPercent"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	s1, err := s.registry.Register(r.Context(), req.Owner, req.Text, req.Name, req.Description, decimal.NewFromFloat(req.RoyaltyPercent))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, s1)
}

func (s *Server) handleGetUserStrategies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	list, err := s.registry.ListByOwner(r.Context(), req.Owner)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetMarketplace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	list, err := s.registry.ListTop(r.Context(), req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleSearchStrategies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	list, err := s.registry.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StrategyID string `json:"strategyId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	strat, err := s.registry.Get(r.Context(), req.StrategyID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, strat)
}

func (s *Server) handleParseStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	parsed, err := s.llm.ParseStrategy(r.Context(), req.Text)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, parsed)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol   string `json:"symbol"`
		Strategy string `json:"strategy"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.feed.GetPrice(r.Context(), req.Symbol)
	if err != nil {
		writeErr(w, err)
		return
	}
	parsed, err := s.llm.ParseStrategy(r.Context(), req.Strategy)
	if err != nil {
		writeErr(w, err)
		return
	}
	sig, err := s.llm.GenerateSignal(r.Context(), snap, parsed)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, sig)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.feed.GetPrice(r.Context(), req.Symbol)
	if err != nil {
		writeErr(w, err)
		return
	}
	text, err := s.llm.RawComplete(r.Context(),
		"You are a market commentator. Given a symbol's current price snapshot, write a "+
			"short plain-text insight (2-3 sentences, no JSON, no markdown) about its recent "+
			"action over the requested timeframe.",
		insightPrompt(snap, req.Timeframe))
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.LLMUpstream, "insight unavailable", err))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"insight": text})
}

func (s *Server) handleBasePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.feed.GetPrice(r.Context(), req.Symbol)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (s *Server) handleBaseTop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, s.feed.GetTopByVolume(req.Limit))
}

func (s *Server) handleBaseTrending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, s.feed.GetTrending(req.Limit))
}

func (s *Server) handleBaseTokens(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.feed.ListAllowed())
}
