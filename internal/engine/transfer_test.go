package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/pmx/market-engine/internal/model"
)

func TestTransfer(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	r, err := e.Transfer(ctx, "alice", "bob", d("100"))
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	// Both records spring into existence at the default balance.
	if r.Type != model.TransferUserToUser {
		t.Errorf("type = %s, want transfer", r.Type)
	}
	if !r.FromBalance.Equal(d("900")) || !r.ToBalance.Equal(d("1100")) {
		t.Errorf("balances = %s / %s, want 900 / 1100", r.FromBalance, r.ToBalance)
	}

	alice, _ := e.GetBalance(ctx, "alice")
	bob, _ := e.GetBalance(ctx, "bob")
	if !alice.Balance.Equal(d("900")) || !bob.Balance.Equal(d("1100")) {
		t.Errorf("stored balances = %s / %s, want 900 / 1100", alice.Balance, bob.Balance)
	}

	transfers, err := e.AccountTransfers(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("AccountTransfers: %v", err)
	}
	if len(transfers) != 1 || transfers[0].ID != r.TransferID {
		t.Errorf("transfer log = %+v, want single %s", transfers, r.TransferID)
	}
}

func TestTransfer_Validation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		from   string
		to     string
		amount string
		want   error
	}{
		{"self transfer", "alice", "alice", "10", model.ErrSelfTransfer},
		{"zero amount", "alice", "bob", "0", model.ErrInvalidAmount},
		{"negative amount", "alice", "bob", "-5", model.ErrInvalidAmount},
		{"missing from", "", "bob", "10", model.ErrInvalidAmount},
		{"missing to", "alice", "", "10", model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Transfer(ctx, tt.from, tt.to, d(tt.amount)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Transfer(ctx, "alice", "bob", d("5000"))
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	alice, _ := e.GetBalance(ctx, "alice")
	if !alice.Balance.Equal(d("1000")) {
		t.Errorf("alice balance = %s after failed transfer, want 1000", alice.Balance)
	}
}

func TestDeposit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	r, err := e.Deposit(ctx, "carol", d("250"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if r.Type != model.TransferDeposit || r.FromUser != "" {
		t.Errorf("receipt = %+v, want deposit with no from side", r)
	}
	if !r.ToBalance.Equal(d("1250")) {
		t.Errorf("to balance = %s, want 1250 (default 1000 + 250)", r.ToBalance)
	}

	if _, err := e.Deposit(ctx, "carol", d("0")); !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("zero deposit err = %v, want ErrInvalidAmount", err)
	}
	if _, err := e.Deposit(ctx, "", d("10")); !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("missing account err = %v, want ErrInvalidAmount", err)
	}
}

func TestWithdraw(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	r, err := e.Withdraw(ctx, "carol", d("300"))
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if r.Type != model.TransferWithdrawal || r.ToUser != "" {
		t.Errorf("receipt = %+v, want withdrawal with no to side", r)
	}
	if !r.FromBalance.Equal(d("700")) {
		t.Errorf("from balance = %s, want 700", r.FromBalance)
	}

	if _, err := e.Withdraw(ctx, "carol", d("5000")); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Errorf("overdraw err = %v, want ErrInsufficientFunds", err)
	}
}
