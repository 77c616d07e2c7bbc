package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
// A single mutex over all state makes every Apply trivially atomic.
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	positions   map[string]*model.Position // keyed user|market|outcome
	balances    map[string]*model.Balance
	trades      []model.TradeLogEntry
	resolutions []model.ResolutionLogEntry
	transfers   []model.TransferLogEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		positions: make(map[string]*model.Position),
		balances:  make(map[string]*model.Balance),
	}
}

func posKey(userID, marketID string, outcome model.Outcome) string {
	return fmt.Sprintf("%s|%s|%s", userID, marketID, outcome)
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s: %w", m.ID, model.ErrDuplicateID)
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMarketLocked(id)
}

// GetMarketForUpdate is identical to GetMarket for the memory store; the
// distinction only matters for cached stores.
func (s *MemoryStore) GetMarketForUpdate(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMarketLocked(id)
}

func (s *MemoryStore) getMarketLocked(id string) (*model.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.Before(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) DeleteMarket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[id]; !ok {
		return fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	delete(s.markets, id)
	for key, p := range s.positions {
		if p.MarketID == id {
			delete(s.positions, key)
		}
	}
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string, outcome model.Outcome) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(userID, marketID, outcome)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s/%s: %w", userID, marketID, outcome, model.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListMarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UserID == result[j].UserID {
			return result[i].Outcome < result[j].Outcome
		}
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID == result[j].MarketID {
			return result[i].Outcome < result[j].Outcome
		}
		return result[i].MarketID < result[j].MarketID
	})
	return result, nil
}

func (s *MemoryStore) GetOrCreateBalance(_ context.Context, account string, initial decimal.Decimal) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balanceLocked(account, initial)
	cp := *b
	return &cp, nil
}

// balanceLocked returns the live balance record, creating it at initial on
// first access. Callers must hold the write lock.
func (s *MemoryStore) balanceLocked(account string, initial decimal.Decimal) *model.Balance {
	if b, ok := s.balances[account]; ok {
		return b
	}
	b := &model.Balance{Account: account, Balance: initial}
	s.balances[account] = b
	return b
}

func (s *MemoryStore) ApplyTrade(_ context.Context, app *TradeApply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[app.Market.ID]
	if !ok {
		return fmt.Errorf("market %s: %w", app.Market.ID, model.ErrNotFound)
	}
	if m.Resolved {
		return fmt.Errorf("market %s: %w", m.ID, model.ErrMarketResolved)
	}

	e := app.Entry
	user := s.balanceLocked(e.UserID, decimal.Zero)
	if e.Dollars.IsPositive() && user.Balance.LessThan(e.Dollars) {
		return fmt.Errorf("account %s has %s, needs %s: %w",
			e.UserID, user.Balance, e.Dollars, model.ErrInsufficientFunds)
	}

	key := posKey(e.UserID, e.MarketID, e.Outcome)
	pos := s.positions[key]
	if e.Shares.IsNegative() {
		selling := e.Shares.Neg()
		if pos == nil || pos.Shares.LessThan(selling) {
			return fmt.Errorf("account %s selling %s shares: %w",
				e.UserID, selling, model.ErrInsufficientShares)
		}
	}

	// All validations passed; apply every effect.
	user.Balance = user.Balance.Sub(e.Dollars)
	user.VolumeTraded = user.VolumeTraded.Add(e.Dollars.Abs())
	pool := s.balanceLocked(app.PoolAccount, decimal.Zero)
	pool.Balance = pool.Balance.Add(e.Dollars)

	if pos == nil {
		pos = &model.Position{UserID: e.UserID, MarketID: e.MarketID, Outcome: e.Outcome}
		s.positions[key] = pos
	}
	pos.Shares = pos.Shares.Add(e.Shares)
	pos.CostBasis = pos.CostBasis.Add(e.Dollars)
	pos.UpdatedAt = e.CreatedAt
	if !pos.Shares.IsPositive() {
		delete(s.positions, key)
	}

	*m = *app.Market

	e.Balance = user.Balance
	s.trades = append(s.trades, *e)
	return nil
}

func (s *MemoryStore) ApplyResolution(_ context.Context, app *ResolutionApply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[app.Market.ID]
	if !ok {
		return fmt.Errorf("market %s: %w", app.Market.ID, model.ErrNotFound)
	}
	if m.Resolved {
		return fmt.Errorf("market %s: %w", m.ID, model.ErrAlreadyResolved)
	}

	*m = *app.Market
	for _, c := range app.Credits {
		b := s.balanceLocked(c.Account, decimal.Zero)
		b.Balance = b.Balance.Add(c.Amount)
		b.VolumeResolved = b.VolumeResolved.Add(c.Amount)
	}
	s.resolutions = append(s.resolutions, app.Entries...)
	return nil
}

func (s *MemoryStore) ApplyTransfer(_ context.Context, app *TransferApply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := app.Entry
	if e.FromUser != "" {
		from := s.balanceLocked(e.FromUser, app.DefaultBalance)
		if from.Balance.LessThan(e.Amount) {
			return fmt.Errorf("account %s has %s, needs %s: %w",
				e.FromUser, from.Balance, e.Amount, model.ErrInsufficientFunds)
		}
		from.Balance = from.Balance.Sub(e.Amount)
		e.FromBalance = from.Balance
	}
	if e.ToUser != "" {
		to := s.balanceLocked(e.ToUser, app.DefaultBalance)
		to.Balance = to.Balance.Add(e.Amount)
		e.ToBalance = to.Balance
	}
	s.transfers = append(s.transfers, *e)
	return nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, marketID string, limit int) ([]model.TradeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeLogEntry
	for _, e := range s.trades {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return tailTrades(result, limit), nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID string, limit int) ([]model.TradeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeLogEntry
	for _, e := range s.trades {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return tailTrades(result, limit), nil
}

// tailTrades keeps the most recent limit entries while preserving
// oldest-first order.
func tailTrades(entries []model.TradeLogEntry, limit int) []model.TradeLogEntry {
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}

func (s *MemoryStore) ResolutionsByMarket(_ context.Context, marketID string) ([]model.ResolutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ResolutionLogEntry
	for _, e := range s.resolutions {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) TransfersByAccount(_ context.Context, account string, limit int) ([]model.TransferLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TransferLogEntry
	for _, e := range s.transfers {
		if e.FromUser == account || e.ToUser == account {
			result = append(result, e)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}
