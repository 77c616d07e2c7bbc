package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) DeleteMarket(ctx context.Context, id string) error {
	// Collect position holders before the rows disappear.
	keys := []string{marketKey(id)}
	if positions, err := s.primary.ListMarketPositions(ctx, id); err == nil {
		for _, p := range positions {
			keys = append(keys, positionsKey(p.UserID))
		}
	}
	if err := s.primary.DeleteMarket(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, app *TradeApply) error {
	if err := s.primary.ApplyTrade(ctx, app); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, marketKey(app.Entry.MarketID), positionsKey(app.Entry.UserID))
	return nil
}

func (s *CachedStore) ApplyResolution(ctx context.Context, app *ResolutionApply) error {
	if err := s.primary.ApplyResolution(ctx, app); err != nil {
		return err
	}
	keys := []string{marketKey(app.Market.ID)}
	for _, e := range app.Entries {
		keys = append(keys, positionsKey(e.UserID))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) ApplyTransfer(ctx context.Context, app *TransferApply) error {
	return s.primary.ApplyTransfer(ctx, app)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

// GetMarketForUpdate always reads the primary so confirm and resolution
// decisions never act on a stale snapshot.
func (s *CachedStore) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	return s.primary.GetMarketForUpdate(ctx, id)
}

func (s *CachedStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss.
	positions, err := s.primary.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID string, outcome model.Outcome) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, marketID, outcome)
}

func (s *CachedStore) ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.ListMarketPositions(ctx, marketID)
}

func (s *CachedStore) GetOrCreateBalance(ctx context.Context, account string, initial decimal.Decimal) (*model.Balance, error) {
	return s.primary.GetOrCreateBalance(ctx, account, initial)
}

func (s *CachedStore) TradesByMarket(ctx context.Context, marketID string, limit int) ([]model.TradeLogEntry, error) {
	return s.primary.TradesByMarket(ctx, marketID, limit)
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID string, limit int) ([]model.TradeLogEntry, error) {
	return s.primary.TradesByUser(ctx, userID, limit)
}

func (s *CachedStore) ResolutionsByMarket(ctx context.Context, marketID string) ([]model.ResolutionLogEntry, error) {
	return s.primary.ResolutionsByMarket(ctx, marketID)
}

func (s *CachedStore) TransfersByAccount(ctx context.Context, account string, limit int) ([]model.TransferLogEntry, error) {
	return s.primary.TransfersByAccount(ctx, account, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
