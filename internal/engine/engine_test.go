package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/model"
	"github.com/pmx/market-engine/internal/store"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

// within fails unless got is inside tol of want.
func within(t *testing.T, label string, got, want, tol decimal.Decimal) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(tol) {
		t.Errorf("%s = %s, want %s ± %s", label, got, want, tol)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(store.NewMemoryStore(), Config{
		DefaultLiquidity: d("100"),
		DefaultBalance:   d("1000"),
		RedeemFee:        d("0.05"),
		PoolAccount:      "AMM",
	})
}

func mustCreateMarket(t *testing.T, e *Engine, id, b string) *model.Market {
	t.Helper()
	m, err := e.CreateMarket(context.Background(), CreateMarketParams{
		ID:       id,
		Question: "Will the launch slip past December?",
		B:        d(b),
	})
	if err != nil {
		t.Fatalf("CreateMarket %s: %v", id, err)
	}
	return m
}

func mustBuy(t *testing.T, e *Engine, user, marketID string, outcome model.Outcome, dollars string) *model.TradeReceipt {
	t.Helper()
	ctx := context.Background()
	q, err := e.QuoteBuy(ctx, marketID, outcome, d(dollars))
	if err != nil {
		t.Fatalf("QuoteBuy %s %s $%s: %v", marketID, outcome, dollars, err)
	}
	r, err := e.ConfirmBuy(ctx, user, q)
	if err != nil {
		t.Fatalf("ConfirmBuy %s %s $%s: %v", marketID, outcome, dollars, err)
	}
	return r
}

func TestCreateMarket(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	m, err := e.CreateMarket(ctx, CreateMarketParams{
		ID:       "launch-dec",
		Question: "Will the launch slip past December?",
		Details:  "Mainline launch window.",
		Subject:  "launches",
		Creator:  "ops",
		B:        d("25"),
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if !m.B.Equal(d("25")) {
		t.Errorf("b = %s, want 25", m.B)
	}
	if !m.ImpliedOdds.Equal(d("0.5")) {
		t.Errorf("initial odds = %s, want 0.5", m.ImpliedOdds)
	}
	if !m.QYes.IsZero() || !m.QNo.IsZero() {
		t.Errorf("fresh market has outstanding shares: %s / %s", m.QYes, m.QNo)
	}
	if m.Resolved {
		t.Error("fresh market marked resolved")
	}
}

func TestCreateMarket_DefaultLiquidity(t *testing.T) {
	e := newTestEngine(t)

	m, err := e.CreateMarket(context.Background(), CreateMarketParams{
		ID:       "launch-dec",
		Question: "Will the launch slip past December?",
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if !m.B.Equal(d("100")) {
		t.Errorf("b = %s, want configured default 100", m.B)
	}
}

func TestCreateMarket_Validation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateMarketParams
		want   error
	}{
		{"empty id", CreateMarketParams{Question: "q?"}, model.ErrInvalidAmount},
		{"bad id chars", CreateMarketParams{ID: "oops!id", Question: "q?"}, model.ErrInvalidAmount},
		{"leading dash", CreateMarketParams{ID: "-bad", Question: "q?"}, model.ErrInvalidAmount},
		{"empty question", CreateMarketParams{ID: "ok-id"}, model.ErrInvalidAmount},
		{"blank question", CreateMarketParams{ID: "ok-id", Question: "   "}, model.ErrInvalidAmount},
		{"negative b", CreateMarketParams{ID: "ok-id", Question: "q?", B: d("-5")}, model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.CreateMarket(ctx, tt.params); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateMarket_Duplicate(t *testing.T) {
	e := newTestEngine(t)
	mustCreateMarket(t, e, "launch-dec", "25")

	_, err := e.CreateMarket(context.Background(), CreateMarketParams{
		ID:       "launch-dec",
		Question: "Same id again?",
	})
	if !errors.Is(err, model.ErrDuplicateID) {
		t.Errorf("err = %v, want ErrDuplicateID", err)
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.GetMarket(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListMarkets(t *testing.T) {
	e := newTestEngine(t)
	mustCreateMarket(t, e, "m-a", "25")
	mustCreateMarket(t, e, "m-b", "50")

	markets, err := e.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
}

func TestDeleteMarket(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "50")

	if err := e.DeleteMarket(ctx, "launch-dec"); err != nil {
		t.Fatalf("DeleteMarket: %v", err)
	}
	if _, err := e.GetMarket(ctx, "launch-dec"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("market still readable after delete")
	}

	// Holdings are gone with the market; the trade log survives.
	p, err := e.Portfolio(ctx, "alice")
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if len(p.Holdings) != 0 {
		t.Errorf("holdings survive market delete: %+v", p.Holdings)
	}
	trades, err := e.MarketHistory(ctx, "launch-dec", 0)
	if err != nil {
		t.Fatalf("MarketHistory: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("trade log lost on delete, got %d entries", len(trades))
	}
}

func TestDeleteMarket_ResolvedRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	if _, err := e.Resolve(ctx, "launch-dec", model.ResolutionYes); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := e.DeleteMarket(ctx, "launch-dec"); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Errorf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestGetBalance_CreatesAtDefault(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	b, err := e.GetBalance(ctx, "newcomer")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !b.Balance.Equal(d("1000")) {
		t.Errorf("new account balance = %s, want 1000", b.Balance)
	}

	// The pool account starts at zero regardless of the default.
	pool, err := e.GetBalance(ctx, "AMM")
	if err != nil {
		t.Fatalf("GetBalance pool: %v", err)
	}
	if !pool.Balance.IsZero() {
		t.Errorf("pool balance = %s, want 0", pool.Balance)
	}
}

func TestUserTrades(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "m-a", "25")
	mustCreateMarket(t, e, "m-b", "25")
	mustBuy(t, e, "alice", "m-a", model.OutcomeYes, "10")
	mustBuy(t, e, "alice", "m-b", model.OutcomeNo, "20")
	mustBuy(t, e, "bob", "m-a", model.OutcomeNo, "5")

	trades, err := e.UserTrades(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("UserTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades for alice, want 2", len(trades))
	}
	if trades[0].MarketID != "m-a" || trades[1].MarketID != "m-b" {
		t.Errorf("trades out of order: %s, %s", trades[0].MarketID, trades[1].MarketID)
	}
}
