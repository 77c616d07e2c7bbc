// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/model"
)

// TradeApply is the atomic unit of one confirmed trade. Either every effect
// commits or none does: the market's post-trade state, the user's position
// delta, the user/pool balance movement, the user's traded-volume counter,
// and the trade log entry.
//
// Signs follow the log entry: Entry.Dollars is positive for buys (user pays)
// and negative for sells (user receives); Entry.Shares mirrors that. The
// pool account always moves by exactly +Entry.Dollars. Implementations
// re-validate inside the atomic scope — market unresolved, buyer funds,
// seller holding — and stamp Entry.Balance with the post-trade user balance.
type TradeApply struct {
	Market      *model.Market // post-trade market state
	PoolAccount string
	Entry       *model.TradeLogEntry
}

// BalanceCredit is one account's redemption at resolution.
type BalanceCredit struct {
	Account string
	Amount  decimal.Decimal
}

// ResolutionApply is the atomic unit of one market resolution: the resolved
// market state, every winner's balance credit (losing positions are logged
// but carry no credit), and the full set of resolution log entries.
type ResolutionApply struct {
	Market  *model.Market // resolved market state
	Credits []BalanceCredit
	Entries []model.ResolutionLogEntry
}

// TransferApply is the atomic unit of one deposit, withdrawal, or transfer.
// Accounts touched for the first time are created at DefaultBalance before
// the movement applies. Implementations validate the debited side's funds
// inside the atomic scope and stamp Entry.FromBalance/Entry.ToBalance with
// the post-transfer balances.
type TransferApply struct {
	Entry          *model.TransferLogEntry
	DefaultBalance decimal.Decimal
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market. Returns model.ErrDuplicateID when
	// the id is taken.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID. May be served from a cache.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketForUpdate retrieves a market bypassing any cache layer. The
	// confirm and resolution paths read through this so the drift check runs
	// against committed state.
	GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, oldest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// DeleteMarket removes a market and its positions. Log entries remain.
	DeleteMarket(ctx context.Context, id string) error

	// --- Position queries ---

	// GetPosition retrieves one (user, market, outcome) holding.
	// Returns model.ErrNotFound when the user holds no such position.
	GetPosition(ctx context.Context, userID, marketID string, outcome model.Outcome) (*model.Position, error)

	// ListMarketPositions returns every position under a market, both outcomes.
	ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error)

	// ListUserPositions returns all of a user's positions across markets.
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Balances ---

	// GetOrCreateBalance returns the account's balance record, creating it
	// at the given initial value on first access.
	GetOrCreateBalance(ctx context.Context, account string, initial decimal.Decimal) (*model.Balance, error)

	// --- Atomic applies ---

	// ApplyTrade commits one confirmed trade as a single unit.
	ApplyTrade(ctx context.Context, app *TradeApply) error

	// ApplyResolution commits one market resolution as a single unit.
	ApplyResolution(ctx context.Context, app *ResolutionApply) error

	// ApplyTransfer commits one balance movement as a single unit.
	ApplyTransfer(ctx context.Context, app *TransferApply) error

	// --- Immutable logs ---

	// TradesByMarket returns a market's trades, oldest first. limit <= 0
	// means no limit.
	TradesByMarket(ctx context.Context, marketID string, limit int) ([]model.TradeLogEntry, error)

	// TradesByUser returns a user's trades, oldest first.
	TradesByUser(ctx context.Context, userID string, limit int) ([]model.TradeLogEntry, error)

	// ResolutionsByMarket returns the settlement records of a resolved market.
	ResolutionsByMarket(ctx context.Context, marketID string) ([]model.ResolutionLogEntry, error)

	// TransfersByAccount returns deposits/withdrawals/transfers touching an
	// account, oldest first.
	TransfersByAccount(ctx context.Context, account string, limit int) ([]model.TransferLogEntry, error)
}
