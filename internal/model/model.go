// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome normalizes and validates a caller-supplied outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomeYes:
		return OutcomeYes, nil
	case OutcomeNo:
		return OutcomeNo, nil
	}
	return "", fmt.Errorf("%w: outcome must be YES or NO, got %q", ErrInvalidAmount, s)
}

// Opposite returns the other side of the market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Resolution is the terminal settlement of a market. HALF settles every
// position at $0.50 per share regardless of side.
type Resolution string

const (
	ResolutionYes  Resolution = "YES"
	ResolutionNo   Resolution = "NO"
	ResolutionHalf Resolution = "HALF"
)

// ParseResolution normalizes and validates a caller-supplied resolution string.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(strings.ToUpper(strings.TrimSpace(s))) {
	case ResolutionYes:
		return ResolutionYes, nil
	case ResolutionNo:
		return ResolutionNo, nil
	case ResolutionHalf:
		return ResolutionHalf, nil
	}
	return "", fmt.Errorf("%w: resolution must be YES, NO or HALF, got %q", ErrInvalidAmount, s)
}

// Valid reports whether r is one of the three settlement outcomes.
func (r Resolution) Valid() bool {
	return r == ResolutionYes || r == ResolutionNo || r == ResolutionHalf
}

// TradeAction distinguishes the two directions of a trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// TransferType distinguishes the three kinds of balance movement outside trading.
type TransferType string

const (
	TransferDeposit    TransferType = "deposit"
	TransferWithdrawal TransferType = "withdrawal"
	TransferUserToUser TransferType = "transfer"
)

var marketIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateMarketID checks the caller-supplied market identifier: 1-64 chars,
// alphanumeric plus dash/underscore, starting alphanumeric.
func ValidateMarketID(id string) error {
	if !marketIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid market id %q", ErrInvalidAmount, id)
	}
	return nil
}

// Market is the state of one binary prediction market run by the LMSR
// market maker. QYes/QNo are the outstanding share totals per outcome;
// ImpliedOdds caches the marginal YES price and is recomputed after every
// confirmed trade.
type Market struct {
	ID           string          `json:"id" db:"id"`
	Question     string          `json:"question" db:"question"`
	Details      string          `json:"details,omitempty" db:"details"`
	Subject      string          `json:"subject,omitempty" db:"subject"`
	Creator      string          `json:"creator,omitempty" db:"creator"`
	B            decimal.Decimal `json:"b" db:"b"` // LMSR liquidity parameter
	QYes         decimal.Decimal `json:"q_yes" db:"q_yes"`
	QNo          decimal.Decimal `json:"q_no" db:"q_no"`
	ImpliedOdds  decimal.Decimal `json:"implied_odds" db:"implied_odds"`
	VolumeTraded decimal.Decimal `json:"volume_traded" db:"volume_traded"`
	Resolved     bool            `json:"resolved" db:"resolved"`
	Resolution   Resolution      `json:"resolution,omitempty" db:"resolution"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	LastTrade    *time.Time      `json:"last_trade,omitempty" db:"last_trade"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Quantity returns the outstanding shares for the given outcome.
func (m *Market) Quantity(o Outcome) decimal.Decimal {
	if o == OutcomeYes {
		return m.QYes
	}
	return m.QNo
}

// Position is a trader's holding in one outcome of one market. Records with
// shares at or below zero are deleted, not stored. CostBasis accumulates the
// signed dollars paid (+) or received (−) and exists for profit display only.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Outcome   Outcome         `json:"outcome" db:"outcome"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Balance is one account's cash record. The reserved pool account absorbs
// the opposite side of every trade. VolumeTraded accumulates absolute dollar
// volume across the account's trades; VolumeResolved accumulates dollars
// redeemed at market resolution.
type Balance struct {
	Account        string          `json:"account" db:"account"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	VolumeTraded   decimal.Decimal `json:"volume_traded" db:"volume_traded"`
	VolumeResolved decimal.Decimal `json:"volume_resolved" db:"volume_resolved"`
}

// TradeLogEntry is an immutable record of one confirmed trade.
// Shares and Dollars are signed: positive for buys, negative for sells
// (dollars received). Balance is the user's balance after the trade applied.
type TradeLogEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Outcome   Outcome         `json:"outcome" db:"outcome"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Dollars   decimal.Decimal `json:"dollars" db:"dollars"`
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Action derives the trade direction from the sign of Shares.
func (e *TradeLogEntry) Action() TradeAction {
	if e.Shares.IsNegative() {
		return ActionSell
	}
	return ActionBuy
}

// ResolutionLogEntry is an immutable record of one position's settlement,
// written exactly once when its market resolves. Redeemed is zero for
// losing positions.
type ResolutionLogEntry struct {
	ID        string          `json:"id" db:"id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Outcome   Outcome         `json:"outcome" db:"outcome"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Redeemed  decimal.Decimal `json:"redeemed" db:"redeemed"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// TransferLogEntry is an immutable record of a balance movement outside
// trading. FromUser is empty for deposits, ToUser is empty for withdrawals.
// FromBalance/ToBalance are the post-transfer balances of the sides present.
type TransferLogEntry struct {
	ID          string          `json:"id" db:"id"`
	Type        TransferType    `json:"type" db:"type"`
	FromUser    string          `json:"from_user,omitempty" db:"from_user"`
	ToUser      string          `json:"to_user,omitempty" db:"to_user"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	FromBalance decimal.Decimal `json:"from_balance" db:"from_balance"`
	ToBalance   decimal.Decimal `json:"to_balance" db:"to_balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Quote is a non-binding price/shares estimate computed from a market
// snapshot. It never mutates state; the caller presents it back at
// confirmation where it is re-validated against the live market.
type Quote struct {
	MarketID string          `json:"market_id"`
	Outcome  Outcome         `json:"outcome"`
	Action   TradeAction     `json:"action"`
	Dollars  decimal.Decimal `json:"dollars"` // buy: spend; sell: estimated proceeds
	Shares   decimal.Decimal `json:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	NewOdds  decimal.Decimal `json:"new_implied_odds"`
	// PotentialPayout is the display-only estimate of a winning buy's
	// redemption net of the configured fee. Resolution itself pays gross.
	PotentialPayout decimal.Decimal `json:"potential_payout,omitempty"`
	Percent         decimal.Decimal `json:"percent,omitempty"` // sell quotes: requested percent of holding
	QuotedAt        time.Time       `json:"quoted_at"`
}

// TradeReceipt reports a confirmed trade back to the caller. Shares and
// Dollars are positive here; Action carries the direction.
type TradeReceipt struct {
	TradeID     string          `json:"trade_id"`
	UserID      string          `json:"user_id"`
	MarketID    string          `json:"market_id"`
	Question    string          `json:"question"`
	Outcome     Outcome         `json:"outcome"`
	Action      TradeAction     `json:"action"`
	Shares      decimal.Decimal `json:"shares"`
	Dollars     decimal.Decimal `json:"dollars"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	ImpliedOdds decimal.Decimal `json:"implied_odds"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// ResolutionSummary aggregates a market's settlement. TotalPaid counts
// winning-side redemptions only; HALF settlements pay every position but
// are excluded from this headline figure. TotalForfeitedShares sums the
// losing side's shares (zero under HALF).
type ResolutionSummary struct {
	MarketID             string          `json:"market_id"`
	Question             string          `json:"question"`
	Resolution           Resolution      `json:"resolution"`
	ImpliedOdds          decimal.Decimal `json:"implied_odds"` // odds at close
	TotalPaid            decimal.Decimal `json:"total_paid"`
	TotalForfeitedShares decimal.Decimal `json:"total_forfeited_shares"`
	Positions            int             `json:"positions"`
	ResolvedAt           time.Time       `json:"resolved_at"`
}

// TransferReceipt reports a completed deposit, withdrawal, or transfer.
type TransferReceipt struct {
	TransferID  string          `json:"transfer_id"`
	Type        TransferType    `json:"type"`
	FromUser    string          `json:"from_user,omitempty"`
	ToUser      string          `json:"to_user,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	FromBalance decimal.Decimal `json:"from_balance"`
	ToBalance   decimal.Decimal `json:"to_balance"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Holding is one portfolio line: a position in an unresolved market marked
// to the current outcome price.
type Holding struct {
	MarketID    string          `json:"market_id"`
	Question    string          `json:"question"`
	Outcome     Outcome         `json:"outcome"`
	Shares      decimal.Decimal `json:"shares"`
	Value       decimal.Decimal `json:"value"` // shares × current outcome price
	CostBasis   decimal.Decimal `json:"cost_basis"`
	ImpliedOdds decimal.Decimal `json:"implied_odds"`
}

// Portfolio aggregates a user's cash and open-market holdings.
type Portfolio struct {
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	VolumeTraded   decimal.Decimal `json:"volume_traded"`
	VolumeResolved decimal.Decimal `json:"volume_resolved"`
	Holdings       []Holding       `json:"holdings"`
	TotalValue     decimal.Decimal `json:"total_value"` // Σ holding value
}
