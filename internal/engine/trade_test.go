package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/model"
)

func TestQuoteBuy_ConcreteNumbers(t *testing.T) {
	// $100 of YES at b=25 from an untouched market buys ≈117.1 shares at
	// an average price of ≈$0.854, pushing the odds to ≈0.9908.
	e := newTestEngine(t)
	mustCreateMarket(t, e, "launch-dec", "25")

	q, err := e.QuoteBuy(context.Background(), "launch-dec", model.OutcomeYes, d("100"))
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}

	within(t, "shares", q.Shares, d("117.0987"), d("0.01"))
	within(t, "avg price", q.AvgPrice, d("0.854"), d("0.001"))
	within(t, "new odds", q.NewOdds, d("0.9908"), d("0.001"))
	// Display payout is net of the 5% redeem fee.
	within(t, "potential payout", q.PotentialPayout, q.Shares.Mul(d("0.95")), d("0.0001"))
	if q.Action != model.ActionBuy {
		t.Errorf("action = %s, want BUY", q.Action)
	}
}

func TestQuoteBuy_NoSideSymmetricAtOrigin(t *testing.T) {
	e := newTestEngine(t)
	mustCreateMarket(t, e, "launch-dec", "25")
	ctx := context.Background()

	yes, err := e.QuoteBuy(ctx, "launch-dec", model.OutcomeYes, d("100"))
	if err != nil {
		t.Fatalf("QuoteBuy YES: %v", err)
	}
	no, err := e.QuoteBuy(ctx, "launch-dec", model.OutcomeNo, d("100"))
	if err != nil {
		t.Fatalf("QuoteBuy NO: %v", err)
	}
	if !yes.Shares.Equal(no.Shares) {
		t.Errorf("YES and NO shares differ at even odds: %s vs %s", yes.Shares, no.Shares)
	}
}

func TestQuoteBuy_Validation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	if _, err := e.Resolve(ctx, "launch-dec", model.ResolutionYes); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	mustCreateMarket(t, e, "open-mkt", "25")

	tests := []struct {
		name    string
		market  string
		dollars string
		want    error
	}{
		{"zero dollars", "open-mkt", "0", model.ErrInvalidAmount},
		{"negative dollars", "open-mkt", "-5", model.ErrInvalidAmount},
		{"unknown market", "missing", "10", model.ErrNotFound},
		{"resolved market", "launch-dec", "10", model.ErrMarketResolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.QuoteBuy(ctx, tt.market, model.OutcomeYes, d(tt.dollars))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestQuoteSell_Validation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "50")

	tests := []struct {
		name    string
		market  string
		user    string
		outcome model.Outcome
		percent string
		want    error
	}{
		{"zero percent", "launch-dec", "alice", model.OutcomeYes, "0", model.ErrInvalidAmount},
		{"negative percent", "launch-dec", "alice", model.OutcomeYes, "-10", model.ErrInvalidAmount},
		{"over 100 percent", "launch-dec", "alice", model.OutcomeYes, "100.5", model.ErrInvalidAmount},
		{"unknown market", "missing", "alice", model.OutcomeYes, "50", model.ErrNotFound},
		{"no position", "launch-dec", "bob", model.OutcomeYes, "50", model.ErrInsufficientShares},
		{"wrong side", "launch-dec", "alice", model.OutcomeNo, "50", model.ErrInsufficientShares},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.QuoteSell(ctx, tt.market, tt.user, tt.outcome, d(tt.percent))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfirmBuy_MatchesQuote(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")

	q, err := e.QuoteBuy(ctx, "launch-dec", model.OutcomeYes, d("100"))
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}
	r, err := e.ConfirmBuy(ctx, "alice", q)
	if err != nil {
		t.Fatalf("ConfirmBuy: %v", err)
	}

	// Nothing traded in between, so the confirm re-derives identical values.
	if !r.Shares.Equal(q.Shares) {
		t.Errorf("receipt shares = %s, quote said %s", r.Shares, q.Shares)
	}
	if !r.AvgPrice.Equal(q.AvgPrice) {
		t.Errorf("receipt avg price = %s, quote said %s", r.AvgPrice, q.AvgPrice)
	}
	if !r.ImpliedOdds.Equal(q.NewOdds) {
		t.Errorf("receipt odds = %s, quote said %s", r.ImpliedOdds, q.NewOdds)
	}
	if !r.NewBalance.Equal(d("900")) {
		t.Errorf("new balance = %s, want 900", r.NewBalance)
	}

	m, err := e.GetMarket(ctx, "launch-dec")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if !m.QYes.Equal(q.Shares) {
		t.Errorf("market qYes = %s, want %s", m.QYes, q.Shares)
	}
	if !m.VolumeTraded.Equal(d("100")) {
		t.Errorf("volume = %s, want 100", m.VolumeTraded)
	}
	if m.LastTrade == nil {
		t.Error("last trade timestamp not set")
	}

	pool, err := e.GetBalance(ctx, "AMM")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !pool.Balance.Equal(d("100")) {
		t.Errorf("pool = %s, want 100", pool.Balance)
	}
}

func TestBuySellScenario(t *testing.T) {
	// The full worked example at b=25: buy $100 of YES, sell half the
	// position back, and check every intermediate number.
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")

	buy := mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "100")
	within(t, "bought shares", buy.Shares, d("117.0987"), d("0.01"))

	sellQ, err := e.QuoteSell(ctx, "launch-dec", "alice", model.OutcomeYes, d("50"))
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}
	if !sellQ.Shares.Equal(buy.Shares.Div(d("2"))) {
		t.Errorf("sell shares = %s, want half of %s", sellQ.Shares, buy.Shares)
	}
	within(t, "sell proceeds", sellQ.Dollars, d("56.4845"), d("0.01"))

	sell, err := e.ConfirmSell(ctx, "alice", sellQ)
	if err != nil {
		t.Fatalf("ConfirmSell: %v", err)
	}
	within(t, "balance after sell", sell.NewBalance, d("956.4845"), d("0.01"))

	// Remaining holding is exactly the other half.
	pos, err := e.store.GetPosition(ctx, "alice", "launch-dec", model.OutcomeYes)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !pos.Shares.Equal(buy.Shares.Sub(sellQ.Shares)) {
		t.Errorf("remaining shares = %s, want %s", pos.Shares, buy.Shares.Sub(sellQ.Shares))
	}

	m, _ := e.GetMarket(ctx, "launch-dec")
	within(t, "volume", m.VolumeTraded, d("156.4845"), d("0.01"))
}

func TestBuyThenSellAll_RestoresBalance(t *testing.T) {
	// Selling the whole position straight back is the inverse trade; the
	// round trip costs nothing beyond rounding at the 8th decimal.
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "40")

	q, err := e.QuoteSell(ctx, "launch-dec", "alice", model.OutcomeYes, d("100"))
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}
	r, err := e.ConfirmSell(ctx, "alice", q)
	if err != nil {
		t.Fatalf("ConfirmSell: %v", err)
	}

	within(t, "balance after round trip", r.NewBalance, d("1000"), d("0.001"))

	m, _ := e.GetMarket(ctx, "launch-dec")
	if !m.QYes.IsZero() {
		t.Errorf("qYes = %s after full exit, want 0", m.QYes)
	}
	if _, err := e.store.GetPosition(ctx, "alice", "launch-dec", model.OutcomeYes); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("position should be pruned after full exit, err = %v", err)
	}
}

func TestConfirmBuy_PriceMovedByInterleavedTrade(t *testing.T) {
	// alice quotes, bob trades first, alice's confirmation must fail.
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")

	aliceQ, err := e.QuoteBuy(ctx, "launch-dec", model.OutcomeYes, d("10"))
	if err != nil {
		t.Fatalf("QuoteBuy alice: %v", err)
	}

	mustBuy(t, e, "bob", "launch-dec", model.OutcomeYes, "500")

	_, err = e.ConfirmBuy(ctx, "alice", aliceQ)
	if !errors.Is(err, model.ErrPriceMoved) {
		t.Fatalf("err = %v, want ErrPriceMoved", err)
	}

	// alice paid nothing.
	b, _ := e.GetBalance(ctx, "alice")
	if !b.Balance.Equal(d("1000")) {
		t.Errorf("alice balance = %s after rejected confirm, want 1000", b.Balance)
	}
}

func TestConfirmSell_PriceMovedByInterleavedTrade(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "100")

	sellQ, err := e.QuoteSell(ctx, "launch-dec", "alice", model.OutcomeYes, d("50"))
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}

	mustBuy(t, e, "bob", "launch-dec", model.OutcomeNo, "200")

	if _, err := e.ConfirmSell(ctx, "alice", sellQ); !errors.Is(err, model.ErrPriceMoved) {
		t.Errorf("err = %v, want ErrPriceMoved", err)
	}
}

func TestConfirmBuy_InsufficientFunds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "100")

	q, err := e.QuoteBuy(ctx, "launch-dec", model.OutcomeYes, d("1500"))
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}
	_, err = e.ConfirmBuy(ctx, "alice", q)
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// The failed confirm left the market untouched.
	m, _ := e.GetMarket(ctx, "launch-dec")
	if !m.QYes.IsZero() {
		t.Errorf("qYes = %s after failed confirm, want 0", m.QYes)
	}
	if trades, _ := e.MarketHistory(ctx, "launch-dec", 0); len(trades) != 0 {
		t.Errorf("failed confirm left %d trade log entries", len(trades))
	}
}

func TestConfirmSell_StaleQuoteAfterFullExit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "50")

	q, err := e.QuoteSell(ctx, "launch-dec", "alice", model.OutcomeYes, d("100"))
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}
	if _, err := e.ConfirmSell(ctx, "alice", q); err != nil {
		t.Fatalf("first ConfirmSell: %v", err)
	}

	// Replaying the quote after the position is gone must fail.
	if _, err := e.ConfirmSell(ctx, "alice", q); !errors.Is(err, model.ErrInsufficientShares) {
		t.Errorf("err = %v, want ErrInsufficientShares", err)
	}
}

func TestConfirm_ResolvedMarketRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "50")

	buyQ, err := e.QuoteBuy(ctx, "launch-dec", model.OutcomeYes, d("10"))
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}
	sellQ, err := e.QuoteSell(ctx, "launch-dec", "alice", model.OutcomeYes, d("50"))
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}

	if _, err := e.Resolve(ctx, "launch-dec", model.ResolutionYes); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	t.Run("buy", func(t *testing.T) {
		if _, err := e.ConfirmBuy(ctx, "bob", buyQ); !errors.Is(err, model.ErrMarketResolved) {
			t.Errorf("err = %v, want ErrMarketResolved", err)
		}
	})
	t.Run("sell", func(t *testing.T) {
		if _, err := e.ConfirmSell(ctx, "alice", sellQ); !errors.Is(err, model.ErrMarketResolved) {
			t.Errorf("err = %v, want ErrMarketResolved", err)
		}
	})
}

func TestConfirm_WrongQuoteAction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "50")

	buyQ, err := e.QuoteBuy(ctx, "launch-dec", model.OutcomeYes, d("10"))
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}
	sellQ, err := e.QuoteSell(ctx, "launch-dec", "alice", model.OutcomeYes, d("10"))
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}

	if _, err := e.ConfirmBuy(ctx, "alice", sellQ); !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("ConfirmBuy with sell quote: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := e.ConfirmSell(ctx, "alice", buyQ); !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("ConfirmSell with buy quote: err = %v, want ErrInvalidAmount", err)
	}
}

func TestTrades_ConserveMoney(t *testing.T) {
	// Every dollar a user pays lands in the pool and vice versa; across any
	// sequence of trades the total cash in the system is constant.
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateMarket(t, e, "launch-dec", "25")

	mustBuy(t, e, "alice", "launch-dec", model.OutcomeYes, "120")
	mustBuy(t, e, "bob", "launch-dec", model.OutcomeNo, "75.5")
	mustBuy(t, e, "alice", "launch-dec", model.OutcomeNo, "10.25")
	mustBuy(t, e, "bob", "launch-dec", model.OutcomeYes, "33")

	q, err := e.QuoteSell(ctx, "launch-dec", "alice", model.OutcomeYes, d("40"))
	if err != nil {
		t.Fatalf("QuoteSell: %v", err)
	}
	if _, err := e.ConfirmSell(ctx, "alice", q); err != nil {
		t.Fatalf("ConfirmSell: %v", err)
	}

	alice, _ := e.GetBalance(ctx, "alice")
	bob, _ := e.GetBalance(ctx, "bob")
	pool, _ := e.GetBalance(ctx, "AMM")

	total := alice.Balance.Add(bob.Balance).Add(pool.Balance)
	if !total.Equal(d("2000")) {
		t.Errorf("system cash = %s, want exactly 2000 (alice %s, bob %s, pool %s)",
			total, alice.Balance, bob.Balance, pool.Balance)
	}
}
