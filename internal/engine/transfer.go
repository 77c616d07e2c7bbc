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

// Transfer moves money between two accounts. Records for both sides are
// created at the configured default balance on first touch; the debit is
// validated inside the atomic apply.
func (e *Engine) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (*model.TransferReceipt, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to accounts are required", model.ErrInvalidAmount)
	}
	if from == to {
		return nil, fmt.Errorf("account %s: %w", from, model.ErrSelfTransfer)
	}
	return e.applyTransfer(ctx, model.TransferUserToUser, from, to, amount)
}

// Deposit mints amount into the account.
func (e *Engine) Deposit(ctx context.Context, to string, amount decimal.Decimal) (*model.TransferReceipt, error) {
	if to == "" {
		return nil, fmt.Errorf("%w: account is required", model.ErrInvalidAmount)
	}
	return e.applyTransfer(ctx, model.TransferDeposit, "", to, amount)
}

// Withdraw burns amount from the account.
func (e *Engine) Withdraw(ctx context.Context, from string, amount decimal.Decimal) (*model.TransferReceipt, error) {
	if from == "" {
		return nil, fmt.Errorf("%w: account is required", model.ErrInvalidAmount)
	}
	return e.applyTransfer(ctx, model.TransferWithdrawal, from, "", amount)
}

func (e *Engine) applyTransfer(ctx context.Context, typ model.TransferType, from, to string, amount decimal.Decimal) (*model.TransferReceipt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", model.ErrInvalidAmount, amount)
	}

	entry := &model.TransferLogEntry{
		ID:        uuid.New().String(),
		Type:      typ,
		FromUser:  from,
		ToUser:    to,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	app := &store.TransferApply{Entry: entry, DefaultBalance: e.cfg.DefaultBalance}
	if err := e.store.ApplyTransfer(ctx, app); err != nil {
		return nil, err
	}

	slog.Info("transfer applied",
		"transfer_id", entry.ID,
		"type", string(typ),
		"from", from,
		"to", to,
		"amount", amount.String(),
	)

	return &model.TransferReceipt{
		TransferID:  entry.ID,
		Type:        typ,
		FromUser:    from,
		ToUser:      to,
		Amount:      amount,
		FromBalance: entry.FromBalance,
		ToBalance:   entry.ToBalance,
		ExecutedAt:  entry.CreatedAt,
	}, nil
}
