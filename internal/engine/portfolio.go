package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/lmsr"
	"github.com/pmx/market-engine/internal/model"
)

// Portfolio values the user's open positions at current prices. Positions
// in resolved markets were settled when the market closed and are excluded
// from valuation.
func (e *Engine) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	b, err := e.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	holdings := make([]model.Holding, 0, len(positions))
	total := decimal.Zero
	for _, pos := range positions {
		m, err := e.store.GetMarket(ctx, pos.MarketID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.Resolved {
			continue
		}

		price := m.ImpliedOdds
		if pos.Outcome == model.OutcomeNo {
			price = one.Sub(m.ImpliedOdds)
		}
		value := pos.Shares.Mul(price).Round(lmsr.PriceScale)

		holdings = append(holdings, model.Holding{
			MarketID:    pos.MarketID,
			Question:    m.Question,
			Outcome:     pos.Outcome,
			Shares:      pos.Shares,
			Value:       value,
			CostBasis:   pos.CostBasis,
			ImpliedOdds: m.ImpliedOdds,
		})
		total = total.Add(value)
	}

	return &model.Portfolio{
		UserID:         userID,
		Balance:        b.Balance,
		VolumeTraded:   b.VolumeTraded,
		VolumeResolved: b.VolumeResolved,
		Holdings:       holdings,
		TotalValue:     total,
	}, nil
}
