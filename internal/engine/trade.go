package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/lmsr"
	"github.com/pmx/market-engine/internal/model"
	"github.com/pmx/market-engine/internal/store"
)

// QuoteBuy prices a buy of the given dollar amount against the current
// market snapshot. Quoting reserves nothing; funds are checked at
// confirmation.
func (e *Engine) QuoteBuy(ctx context.Context, marketID string, outcome model.Outcome, dollars decimal.Decimal) (*model.Quote, error) {
	if !dollars.IsPositive() {
		return nil, fmt.Errorf("%w: dollars must be positive, got %s", model.ErrInvalidAmount, dollars)
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved {
		return nil, fmt.Errorf("market %s: %w", marketID, model.ErrMarketResolved)
	}
	mm, err := lmsr.NewMarketMaker(m.B)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", marketID, err)
	}

	shares, err := mm.SharesForSpend(m.Quantity(outcome), m.Quantity(outcome.Opposite()), dollars)
	if err != nil {
		return nil, err
	}
	qYes, qNo := quantitiesAfter(m, outcome, shares)

	return &model.Quote{
		MarketID:        marketID,
		Outcome:         outcome,
		Action:          model.ActionBuy,
		Dollars:         dollars,
		Shares:          shares,
		AvgPrice:        dollars.Div(shares).Round(lmsr.PriceScale),
		NewOdds:         mm.Price(qYes, qNo),
		PotentialPayout: shares.Mul(one.Sub(e.cfg.RedeemFee)).Round(lmsr.PriceScale),
		QuotedAt:        time.Now().UTC(),
	}, nil
}

// QuoteSell prices selling the given percentage of the user's holding
// against the current snapshot. Proceeds come from the closed-form cost
// difference; no solver is involved.
func (e *Engine) QuoteSell(ctx context.Context, marketID, userID string, outcome model.Outcome, percent decimal.Decimal) (*model.Quote, error) {
	if !percent.IsPositive() || percent.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: percent must be in (0, 100], got %s", model.ErrInvalidAmount, percent)
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved {
		return nil, fmt.Errorf("market %s: %w", marketID, model.ErrMarketResolved)
	}

	pos, err := e.store.GetPosition(ctx, userID, marketID, outcome)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("account %s holds no %s shares in market %s: %w",
				userID, outcome, marketID, model.ErrInsufficientShares)
		}
		return nil, err
	}

	mm, err := lmsr.NewMarketMaker(m.B)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", marketID, err)
	}

	shares := pos.Shares.Mul(percent).Div(hundred)
	proceeds := mm.SellProceeds(m.Quantity(outcome), m.Quantity(outcome.Opposite()), shares)
	qYes, qNo := quantitiesAfter(m, outcome, shares.Neg())

	return &model.Quote{
		MarketID: marketID,
		Outcome:  outcome,
		Action:   model.ActionSell,
		Dollars:  proceeds,
		Shares:   shares,
		AvgPrice: proceeds.Div(shares).Round(lmsr.PriceScale),
		NewOdds:  mm.Price(qYes, qNo),
		Percent:  percent,
		QuotedAt: time.Now().UTC(),
	}, nil
}

// ConfirmBuy executes a previously quoted buy. The market is re-read under
// its lock and the quote re-derived from live state; if the average price
// moved beyond the relative tolerance the trade fails with ErrPriceMoved
// and the caller should re-quote.
func (e *Engine) ConfirmBuy(ctx context.Context, userID string, q *model.Quote) (*model.TradeReceipt, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidAmount)
	}
	if q.Action != model.ActionBuy {
		return nil, fmt.Errorf("%w: quote action is %q, want BUY", model.ErrInvalidAmount, q.Action)
	}
	if !q.Dollars.IsPositive() {
		return nil, fmt.Errorf("%w: dollars must be positive, got %s", model.ErrInvalidAmount, q.Dollars)
	}

	lock := e.marketLock(q.MarketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarketForUpdate(ctx, q.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved {
		return nil, fmt.Errorf("market %s: %w", q.MarketID, model.ErrMarketResolved)
	}
	mm, err := lmsr.NewMarketMaker(m.B)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", q.MarketID, err)
	}

	shares, err := mm.SharesForSpend(m.Quantity(q.Outcome), m.Quantity(q.Outcome.Opposite()), q.Dollars)
	if err != nil {
		return nil, err
	}
	avgPrice := q.Dollars.Div(shares).Round(lmsr.PriceScale)
	if priceDrifted(q.AvgPrice, avgPrice) {
		return nil, fmt.Errorf("market %s: quoted avg price %s, now %s: %w",
			q.MarketID, q.AvgPrice, avgPrice, model.ErrPriceMoved)
	}

	if _, err := e.store.GetOrCreateBalance(ctx, userID, e.cfg.DefaultBalance); err != nil {
		return nil, err
	}
	if _, err := e.store.GetOrCreateBalance(ctx, e.cfg.PoolAccount, decimal.Zero); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	after := *m
	after.QYes, after.QNo = quantitiesAfter(m, q.Outcome, shares)
	after.ImpliedOdds = mm.Price(after.QYes, after.QNo)
	after.VolumeTraded = m.VolumeTraded.Add(q.Dollars)
	after.LastTrade = &now

	entry := &model.TradeLogEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		MarketID:  q.MarketID,
		Outcome:   q.Outcome,
		Shares:    shares,
		Dollars:   q.Dollars,
		AvgPrice:  avgPrice,
		CreatedAt: now,
	}
	app := &store.TradeApply{Market: &after, PoolAccount: e.cfg.PoolAccount, Entry: entry}
	if err := e.store.ApplyTrade(ctx, app); err != nil {
		return nil, err
	}

	slog.Info("trade executed",
		"trade_id", entry.ID,
		"user", userID,
		"market", q.MarketID,
		"action", "BUY",
		"outcome", string(q.Outcome),
		"shares", shares.String(),
		"dollars", q.Dollars.String(),
		"implied_odds", after.ImpliedOdds.String(),
	)

	return &model.TradeReceipt{
		TradeID:     entry.ID,
		UserID:      userID,
		MarketID:    q.MarketID,
		Question:    m.Question,
		Outcome:     q.Outcome,
		Action:      model.ActionBuy,
		Shares:      shares,
		Dollars:     q.Dollars,
		AvgPrice:    avgPrice,
		NewBalance:  entry.Balance,
		ImpliedOdds: after.ImpliedOdds,
		ExecutedAt:  now,
	}, nil
}

// ConfirmSell executes a previously quoted sell of a fixed share quantity.
// The holding and proceeds are re-derived under the market lock with the
// same drift tolerance as buys.
func (e *Engine) ConfirmSell(ctx context.Context, userID string, q *model.Quote) (*model.TradeReceipt, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidAmount)
	}
	if q.Action != model.ActionSell {
		return nil, fmt.Errorf("%w: quote action is %q, want SELL", model.ErrInvalidAmount, q.Action)
	}
	if !q.Shares.IsPositive() {
		return nil, fmt.Errorf("%w: shares must be positive, got %s", model.ErrInvalidAmount, q.Shares)
	}

	lock := e.marketLock(q.MarketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarketForUpdate(ctx, q.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved {
		return nil, fmt.Errorf("market %s: %w", q.MarketID, model.ErrMarketResolved)
	}

	pos, err := e.store.GetPosition(ctx, userID, q.MarketID, q.Outcome)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("account %s holds no %s shares in market %s: %w",
				userID, q.Outcome, q.MarketID, model.ErrInsufficientShares)
		}
		return nil, err
	}
	if pos.Shares.LessThan(q.Shares) {
		return nil, fmt.Errorf("account %s holds %s shares, selling %s: %w",
			userID, pos.Shares, q.Shares, model.ErrInsufficientShares)
	}

	mm, err := lmsr.NewMarketMaker(m.B)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", q.MarketID, err)
	}

	proceeds := mm.SellProceeds(m.Quantity(q.Outcome), m.Quantity(q.Outcome.Opposite()), q.Shares)
	avgPrice := proceeds.Div(q.Shares).Round(lmsr.PriceScale)
	if priceDrifted(q.AvgPrice, avgPrice) {
		return nil, fmt.Errorf("market %s: quoted avg price %s, now %s: %w",
			q.MarketID, q.AvgPrice, avgPrice, model.ErrPriceMoved)
	}

	if _, err := e.store.GetOrCreateBalance(ctx, userID, e.cfg.DefaultBalance); err != nil {
		return nil, err
	}
	if _, err := e.store.GetOrCreateBalance(ctx, e.cfg.PoolAccount, decimal.Zero); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	after := *m
	after.QYes, after.QNo = quantitiesAfter(m, q.Outcome, q.Shares.Neg())
	after.ImpliedOdds = mm.Price(after.QYes, after.QNo)
	after.VolumeTraded = m.VolumeTraded.Add(proceeds)
	after.LastTrade = &now

	entry := &model.TradeLogEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		MarketID:  q.MarketID,
		Outcome:   q.Outcome,
		Shares:    q.Shares.Neg(),
		Dollars:   proceeds.Neg(),
		AvgPrice:  avgPrice,
		CreatedAt: now,
	}
	app := &store.TradeApply{Market: &after, PoolAccount: e.cfg.PoolAccount, Entry: entry}
	if err := e.store.ApplyTrade(ctx, app); err != nil {
		return nil, err
	}

	slog.Info("trade executed",
		"trade_id", entry.ID,
		"user", userID,
		"market", q.MarketID,
		"action", "SELL",
		"outcome", string(q.Outcome),
		"shares", q.Shares.String(),
		"dollars", proceeds.String(),
		"implied_odds", after.ImpliedOdds.String(),
	)

	return &model.TradeReceipt{
		TradeID:     entry.ID,
		UserID:      userID,
		MarketID:    q.MarketID,
		Question:    m.Question,
		Outcome:     q.Outcome,
		Action:      model.ActionSell,
		Shares:      q.Shares,
		Dollars:     proceeds,
		AvgPrice:    avgPrice,
		NewBalance:  entry.Balance,
		ImpliedOdds: after.ImpliedOdds,
		ExecutedAt:  now,
	}, nil
}

// quantitiesAfter returns the outstanding share totals once delta is
// applied to the traded outcome.
func quantitiesAfter(m *model.Market, outcome model.Outcome, delta decimal.Decimal) (qYes, qNo decimal.Decimal) {
	if outcome == model.OutcomeYes {
		return m.QYes.Add(delta), m.QNo
	}
	return m.QYes, m.QNo.Add(delta)
}

// priceDrifted reports whether current differs from quoted by more than
// the relative drift tolerance.
func priceDrifted(quoted, current decimal.Decimal) bool {
	if quoted.IsZero() {
		return !current.IsZero()
	}
	return current.Sub(quoted).Abs().Div(quoted.Abs()).GreaterThan(priceDriftTolerance)
}
