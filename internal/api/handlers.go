package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/engine"
	"github.com/pmx/market-engine/internal/metrics"
	"github.com/pmx/market-engine/internal/model"
)

var one = decimal.NewFromInt(1)

// --- Request types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	ID       string          `json:"id"`
	Question string          `json:"question"`
	Details  string          `json:"details"`
	Subject  string          `json:"subject"`
	Creator  string          `json:"creator"`
	B        decimal.Decimal `json:"b"` // liquidity parameter; 0 → configured default
}

// QuoteBuyRequest is the JSON body for POST /markets/{id}/quotes/buy.
type QuoteBuyRequest struct {
	Outcome string          `json:"outcome"`
	Dollars decimal.Decimal `json:"dollars"`
}

// QuoteSellRequest is the JSON body for POST /markets/{id}/quotes/sell.
type QuoteSellRequest struct {
	UserID  string          `json:"user_id"`
	Outcome string          `json:"outcome"`
	Percent decimal.Decimal `json:"percent"`
}

// ConfirmTradeRequest is the JSON body for the confirm endpoints: the quote
// exactly as returned by the quote endpoint, plus the confirming user.
type ConfirmTradeRequest struct {
	UserID string `json:"user_id"`
	model.Quote
}

// ResolveRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveRequest struct {
	Outcome string `json:"outcome"` // YES, NO, or HALF
}

// TransferRequest is the JSON body for POST /transfers.
type TransferRequest struct {
	FromUser string          `json:"from_user"`
	ToUser   string          `json:"to_user"`
	Amount   decimal.Decimal `json:"amount"`
}

// MoveFundsRequest is the JSON body for POST /deposits and POST /withdrawals.
type MoveFundsRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets.
func (s *Server) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	m, err := s.engine.CreateMarket(r.Context(), engine.CreateMarketParams{
		ID:       req.ID,
		Question: req.Question,
		Details:  req.Details,
		Subject:  req.Subject,
		Creator:  req.Creator,
		B:        req.B,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.ActiveMarkets.Inc()
	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:     "market_created",
			MarketID: m.ID,
			Question: m.Question,
			PriceYes: m.ImpliedOdds.String(),
			PriceNo:  one.Sub(m.ImpliedOdds).String(),
		})
	}

	respondJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Server) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.ListMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	respondJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Server) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMarket handles DELETE /api/v1/markets/{marketID}.
// Resolved markets are history and cannot be deleted.
func (s *Server) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteMarket(r.Context(), chi.URLParam(r, "marketID")); err != nil {
		writeError(w, err)
		return
	}
	metrics.ActiveMarkets.Dec()
	w.WriteHeader(http.StatusNoContent)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price.
func (s *Server) GetPrice(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": m.ImpliedOdds,
		"no":  one.Sub(m.ImpliedOdds),
	})
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades?limit=.
func (s *Server) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.MarketHistory(r.Context(), chi.URLParam(r, "marketID"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.TradeLogEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (s *Server) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := model.ParseResolution(req.Outcome)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := s.engine.Resolve(r.Context(), chi.URLParam(r, "marketID"), res)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.ResolutionsTotal.WithLabelValues(string(res)).Inc()
	paid, _ := summary.TotalPaid.Float64()
	metrics.ResolutionPaidDollars.Add(paid)
	metrics.ActiveMarkets.Dec()
	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:       "market_resolved",
			MarketID:   summary.MarketID,
			Question:   summary.Question,
			Resolution: string(summary.Resolution),
		})
	}

	respondJSON(w, http.StatusOK, summary)
}

// GetMarketResolutions handles GET /api/v1/markets/{marketID}/resolutions.
func (s *Server) GetMarketResolutions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.MarketResolutions(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.ResolutionLogEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// --- Quote and confirm handlers ---

// QuoteBuy handles POST /api/v1/markets/{marketID}/quotes/buy.
func (s *Server) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	var req QuoteBuyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := s.engine.QuoteBuy(r.Context(), chi.URLParam(r, "marketID"), outcome, req.Dollars)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// QuoteSell handles POST /api/v1/markets/{marketID}/quotes/sell.
func (s *Server) QuoteSell(w http.ResponseWriter, r *http.Request) {
	var req QuoteSellRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := s.engine.QuoteSell(r.Context(), chi.URLParam(r, "marketID"), req.UserID, outcome, req.Percent)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// ConfirmBuy handles POST /api/v1/markets/{marketID}/trades/buy.
// The body is the quote from quotes/buy plus user_id; the engine re-derives
// the quote against live state and rejects drifted prices.
func (s *Server) ConfirmBuy(w http.ResponseWriter, r *http.Request) {
	s.confirm(w, r, s.engine.ConfirmBuy)
}

// ConfirmSell handles POST /api/v1/markets/{marketID}/trades/sell.
func (s *Server) ConfirmSell(w http.ResponseWriter, r *http.Request) {
	s.confirm(w, r, s.engine.ConfirmSell)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request,
	exec func(ctx context.Context, userID string, q *model.Quote) (*model.TradeReceipt, error)) {

	var req ConfirmTradeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	if req.Quote.MarketID == "" {
		req.Quote.MarketID = marketID
	} else if req.Quote.MarketID != marketID {
		writeError(w, fmt.Errorf("%w: quote is for market %s, not %s",
			model.ErrInvalidAmount, req.Quote.MarketID, marketID))
		return
	}

	if s.quoteTTL > 0 && !req.Quote.QuotedAt.IsZero() {
		if age := time.Since(req.Quote.QuotedAt); age > s.quoteTTL {
			metrics.TradeFailures.WithLabelValues("quote_expired").Inc()
			writeExpired(w, age-s.quoteTTL)
			return
		}
	}

	rcpt, err := exec(r.Context(), req.UserID, &req.Quote)
	if err != nil {
		_, code := errorStatus(err)
		metrics.TradeFailures.WithLabelValues(code).Inc()
		writeError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(string(rcpt.Action), string(rcpt.Outcome)).Inc()
	dollars, _ := rcpt.Dollars.Float64()
	metrics.TradeDollars.WithLabelValues(string(rcpt.Action)).Observe(dollars)
	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:     "trade_executed",
			MarketID: rcpt.MarketID,
			Action:   string(rcpt.Action),
			Outcome:  string(rcpt.Outcome),
			Shares:   rcpt.Shares.String(),
			Dollars:  rcpt.Dollars.String(),
			PriceYes: rcpt.ImpliedOdds.String(),
			PriceNo:  one.Sub(rcpt.ImpliedOdds).String(),
		})
	}

	respondJSON(w, http.StatusOK, rcpt)
}

// --- Balance and transfer handlers ---

// GetBalance handles GET /api/v1/balances/{account}. Unseen accounts are
// created at the configured default balance.
func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.GetBalance(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// GetAccountTransfers handles GET /api/v1/balances/{account}/transfers?limit=.
func (s *Server) GetAccountTransfers(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.AccountTransfers(r.Context(), chi.URLParam(r, "account"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.TransferLogEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// Transfer handles POST /api/v1/transfers.
func (s *Server) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rcpt, err := s.engine.Transfer(r.Context(), req.FromUser, req.ToUser, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rcpt)
}

// Deposit handles POST /api/v1/deposits.
func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	var req MoveFundsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rcpt, err := s.engine.Deposit(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rcpt)
}

// Withdraw handles POST /api/v1/withdrawals.
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req MoveFundsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rcpt, err := s.engine.Withdraw(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rcpt)
}

// --- User query handlers ---

// GetPortfolio handles GET /api/v1/users/{userID}/portfolio.
func (s *Server) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GetUserTrades handles GET /api/v1/users/{userID}/trades?limit=.
func (s *Server) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.UserTrades(r.Context(), chi.URLParam(r, "userID"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.TradeLogEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}
