// Package engine executes market operations: pricing quotes, confirmed
// trades, resolution payouts, and balance movements. It owns the
// concurrency contract — every confirmed mutation of one market runs under
// that market's lock — and leaves transport concerns to callers.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/lmsr"
	"github.com/pmx/market-engine/internal/model"
	"github.com/pmx/market-engine/internal/store"
)

var (
	one     = decimal.NewFromInt(1)
	half    = decimal.NewFromFloat(0.5)
	hundred = decimal.NewFromInt(100)

	// priceDriftTolerance bounds the relative average-price movement
	// allowed between quote and confirmation.
	priceDriftTolerance = decimal.NewFromFloat(1e-6)
)

// Config carries the economics parameters. Values are explicit
// configuration passed in at construction, never package-level globals.
type Config struct {
	DefaultLiquidity decimal.Decimal // market b when creation omits it
	DefaultBalance   decimal.Decimal // starting balance for unseen user accounts
	RedeemFee        decimal.Decimal // display-only fee quoted on potential payouts
	PoolAccount      string          // reserved account absorbing trade flow
}

// Engine coordinates the pricing engine and the store. Quotes read
// unlocked snapshots; confirms, resolutions, and deletions serialize on a
// per-market mutex (single-instance; for horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency).
type Engine struct {
	store store.Store
	cfg   Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine backed by st.
func New(st store.Store, cfg Config) *Engine {
	if cfg.PoolAccount == "" {
		cfg.PoolAccount = "AMM"
	}
	if !cfg.DefaultLiquidity.IsPositive() {
		cfg.DefaultLiquidity = decimal.NewFromInt(100) // default liquidity
	}
	return &Engine{
		store: st,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

// marketLock returns the mutex serializing confirmed mutations of one market.
func (e *Engine) marketLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// CreateMarketParams are the caller-supplied fields for a new market.
type CreateMarketParams struct {
	ID       string
	Question string
	Details  string
	Subject  string
	Creator  string
	B        decimal.Decimal // liquidity parameter; zero → configured default
}

// CreateMarket opens a new market at even odds with no outstanding shares.
func (e *Engine) CreateMarket(ctx context.Context, p CreateMarketParams) (*model.Market, error) {
	if err := model.ValidateMarketID(p.ID); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(p.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", model.ErrInvalidAmount)
	}

	b := p.B
	if b.IsZero() {
		b = e.cfg.DefaultLiquidity
	}
	mm, err := lmsr.NewMarketMaker(b)
	if err != nil {
		return nil, fmt.Errorf("%w: liquidity must be positive, got %s", model.ErrInvalidAmount, b)
	}

	m := &model.Market{
		ID:          p.ID,
		Question:    question,
		Details:     p.Details,
		Subject:     p.Subject,
		Creator:     p.Creator,
		B:           b,
		ImpliedOdds: mm.Price(decimal.Zero, decimal.Zero),
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}

	slog.Info("market created",
		"market", m.ID,
		"question", m.Question,
		"b", b.String(),
		"max_subsidy", mm.MaxLoss().String(),
	)
	return m, nil
}

// GetMarket returns one market.
func (e *Engine) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return e.store.GetMarket(ctx, id)
}

// ListMarkets returns all markets, oldest first.
func (e *Engine) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return e.store.ListMarkets(ctx)
}

// DeleteMarket removes an unresolved market and its positions. Trade and
// resolution logs are retained. Resolved markets are history and cannot be
// deleted.
func (e *Engine) DeleteMarket(ctx context.Context, id string) error {
	lock := e.marketLock(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarketForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return fmt.Errorf("market %s: %w", id, model.ErrAlreadyResolved)
	}
	if err := e.store.DeleteMarket(ctx, id); err != nil {
		return err
	}

	slog.Info("market deleted", "market", id)
	return nil
}

// MarketHistory returns the market's most recent trades, oldest first.
// limit <= 0 returns everything.
func (e *Engine) MarketHistory(ctx context.Context, marketID string, limit int) ([]model.TradeLogEntry, error) {
	return e.store.TradesByMarket(ctx, marketID, limit)
}

// UserTrades returns the user's most recent trades, oldest first.
func (e *Engine) UserTrades(ctx context.Context, userID string, limit int) ([]model.TradeLogEntry, error) {
	return e.store.TradesByUser(ctx, userID, limit)
}

// MarketResolutions returns the per-position settlement records written
// when the market resolved.
func (e *Engine) MarketResolutions(ctx context.Context, marketID string) ([]model.ResolutionLogEntry, error) {
	return e.store.ResolutionsByMarket(ctx, marketID)
}

// GetBalance returns the account's record, creating it at the configured
// default balance on first access. The pool account always starts at zero.
func (e *Engine) GetBalance(ctx context.Context, account string) (*model.Balance, error) {
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", model.ErrInvalidAmount)
	}
	initial := e.cfg.DefaultBalance
	if account == e.cfg.PoolAccount {
		initial = decimal.Zero
	}
	return e.store.GetOrCreateBalance(ctx, account, initial)
}

// AccountTransfers returns the account's most recent deposits, withdrawals,
// and transfers, oldest first.
func (e *Engine) AccountTransfers(ctx context.Context, account string, limit int) ([]model.TransferLogEntry, error) {
	return e.store.TransfersByAccount(ctx, account, limit)
}
