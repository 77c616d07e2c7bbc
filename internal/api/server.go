// Package api exposes the market engine over HTTP: chi handlers under
// /api/v1, taxonomy-coded JSON errors, and a WebSocket hub broadcasting
// market events. The engine stays transport-agnostic; everything
// HTTP-shaped lives here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmx/market-engine/internal/engine"
	"github.com/pmx/market-engine/internal/model"
)

// Server holds the HTTP handlers for the market engine.
type Server struct {
	engine   *engine.Engine
	hub      *Hub // optional WebSocket hub for event broadcasts
	quoteTTL time.Duration
}

// NewServer creates the API server. Pass nil for hub if WebSocket
// broadcasting is not needed. quoteTTL bounds how old a quote may be when
// presented for confirmation; zero or negative disables the check.
func NewServer(eng *engine.Engine, hub *Hub, quoteTTL time.Duration) *Server {
	return &Server{
		engine:   eng,
		hub:      hub,
		quoteTTL: quoteTTL,
	}
}

// Routes registers all /api/v1 handlers on r.
func (s *Server) Routes(r chi.Router) {
	// Market lifecycle.
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Delete("/markets/{marketID}", s.DeleteMarket)
	r.Get("/markets/{marketID}/price", s.GetPrice)
	r.Get("/markets/{marketID}/trades", s.GetMarketTrades)
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)
	r.Get("/markets/{marketID}/resolutions", s.GetMarketResolutions)

	// Two-phase trading: quote, then confirm.
	r.Post("/markets/{marketID}/quotes/buy", s.QuoteBuy)
	r.Post("/markets/{marketID}/quotes/sell", s.QuoteSell)
	r.Post("/markets/{marketID}/trades/buy", s.ConfirmBuy)
	r.Post("/markets/{marketID}/trades/sell", s.ConfirmSell)

	// Balances and transfers.
	r.Get("/balances/{account}", s.GetBalance)
	r.Get("/balances/{account}/transfers", s.GetAccountTransfers)
	r.Post("/transfers", s.Transfer)
	r.Post("/deposits", s.Deposit)
	r.Post("/withdrawals", s.Withdraw)

	// Per-user queries.
	r.Get("/users/{userID}/portfolio", s.GetPortfolio)
	r.Get("/users/{userID}/trades", s.GetUserTrades)

	// WebSocket event stream.
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// errorStatus maps a taxonomy error onto an HTTP status and a stable
// machine-readable code for the response body.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, model.ErrSelfTransfer):
		return http.StatusBadRequest, "self_transfer"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrDuplicateID):
		return http.StatusConflict, "duplicate_id"
	case errors.Is(err, model.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved"
	case errors.Is(err, model.ErrMarketResolved):
		return http.StatusConflict, "market_resolved"
	case errors.Is(err, model.ErrPriceMoved):
		return http.StatusConflict, "price_moved"
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, model.ErrInsufficientShares):
		return http.StatusConflict, "insufficient_shares"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError writes the JSON error envelope for a taxonomy error.
func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// writeExpired writes the 410 envelope for a quote past its TTL.
func writeExpired(w http.ResponseWriter, age time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusGone)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "quote expired " + age.Round(time.Second).String() + " ago, request a new one",
		"code":  "quote_expired",
	})
}

// respondJSON writes v as the JSON response body.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads the JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", model.ErrInvalidAmount)
	}
	return nil
}

// limitParam parses the optional ?limit= query parameter; 0 means no limit.
func limitParam(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
