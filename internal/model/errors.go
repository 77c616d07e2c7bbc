package model

import "errors"

// Every rejected operation surfaces exactly one of these. Stores translate
// driver-level failures into the same sentinels so callers can match with
// errors.Is regardless of backend.
var (
	// ErrDuplicateID is returned when creating a market whose id already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNotFound is returned when a market, position, or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved is returned when resolving or deleting a market that
	// has already been resolved.
	ErrAlreadyResolved = errors.New("market already resolved")

	// ErrMarketResolved is returned when a trade is attempted on a resolved market.
	ErrMarketResolved = errors.New("market is resolved")

	// ErrInvalidAmount is returned for non-positive or otherwise malformed
	// dollar, percent, liquidity, or outcome inputs.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when a balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the user's holding.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrPriceMoved is returned at confirmation when the market moved beyond
	// tolerance since the quote. The caller recovers by re-quoting.
	ErrPriceMoved = errors.New("price moved since quote")

	// ErrSelfTransfer is returned when a transfer names the same account twice.
	ErrSelfTransfer = errors.New("cannot transfer to self")
)
