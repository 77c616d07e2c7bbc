package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/model"
	"github.com/pmx/market-engine/internal/store"
)

// Resolve settles a market. Winning positions redeem at $1 per share,
// losing positions forfeit their shares, and HALF pays every position
// $0.50 per share. Position records are kept as history. The resolved
// flag, every balance credit, and every settlement log entry commit as one
// atomic unit; a market resolves exactly once.
func (e *Engine) Resolve(ctx context.Context, marketID string, res model.Resolution) (*model.ResolutionSummary, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: resolution must be YES, NO or HALF, got %q", model.ErrInvalidAmount, res)
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarketForUpdate(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved {
		return nil, fmt.Errorf("market %s: %w", marketID, model.ErrAlreadyResolved)
	}

	positions, err := e.store.ListMarketPositions(ctx, marketID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	totalPaid := decimal.Zero
	forfeited := decimal.Zero
	var credits []store.BalanceCredit
	entries := make([]model.ResolutionLogEntry, 0, len(positions))

	for _, pos := range positions {
		var redeemed decimal.Decimal
		switch {
		case res == model.ResolutionHalf:
			redeemed = pos.Shares.Mul(half)
		case pos.Outcome == model.Outcome(res):
			redeemed = pos.Shares
			totalPaid = totalPaid.Add(redeemed)
		default:
			forfeited = forfeited.Add(pos.Shares)
		}

		if redeemed.IsPositive() {
			credits = append(credits, store.BalanceCredit{Account: pos.UserID, Amount: redeemed})
		}
		entries = append(entries, model.ResolutionLogEntry{
			ID:        uuid.New().String(),
			MarketID:  marketID,
			UserID:    pos.UserID,
			Outcome:   pos.Outcome,
			Shares:    pos.Shares,
			Redeemed:  redeemed,
			CreatedAt: now,
		})
	}

	resolved := *m
	resolved.Resolved = true
	resolved.Resolution = res
	resolved.ResolvedAt = &now

	app := &store.ResolutionApply{Market: &resolved, Credits: credits, Entries: entries}
	if err := e.store.ApplyResolution(ctx, app); err != nil {
		return nil, err
	}

	slog.Info("market resolved",
		"market", marketID,
		"resolution", string(res),
		"positions", len(positions),
		"total_paid", totalPaid.String(),
		"forfeited_shares", forfeited.String(),
	)

	return &model.ResolutionSummary{
		MarketID:             marketID,
		Question:             m.Question,
		Resolution:           res,
		ImpliedOdds:          m.ImpliedOdds,
		TotalPaid:            totalPaid,
		TotalForfeitedShares: forfeited,
		Positions:            len(positions),
		ResolvedAt:           now,
	}, nil
}
