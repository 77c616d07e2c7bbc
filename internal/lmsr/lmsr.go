// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary-outcome prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(n))
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// All monetary values use shopspring/decimal — never float64 for money.
// Internal transcendental math uses the log-sum-exp trick for numerical
// stability, with results immediately converted to decimal.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrInvalidTradeSize is returned by the share solver for a non-positive
	// spend. Callers must reject non-positive trade sizes before quoting.
	ErrInvalidTradeSize = errors.New("lmsr: trade size must be positive")

	// MinPrice is the floor applied to computed prices. The softmax is
	// strictly inside (0,1) for finite inputs, but float rounding can
	// saturate to exactly 0 or 1 for extreme quantity gaps; the clamp keeps
	// odds strictly between the bounds.
	MinPrice = decimal.NewFromFloat(0.00000001)

	// MaxPrice is the ceiling applied to computed prices.
	MaxPrice = decimal.NewFromFloat(0.99999999)

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

const (
	// SolveTol is the dollar tolerance of the share-quantity solver.
	SolveTol = 1e-6

	// SolveMaxIter bounds the solver's bisection. On exhaustion the solver
	// returns the bracket midpoint — a precision trade-off, not a failure,
	// since the bracket is always valid for positive spends.
	SolveMaxIter = 100
)

// MarketMaker implements the LMSR cost function for binary outcome markets.
// It is stateless — market quantities are passed as arguments, not stored.
type MarketMaker struct {
	b decimal.Decimal
}

// NewMarketMaker creates a new LMSR market maker with the given liquidity
// parameter b. Higher b → more liquidity, lower price impact per trade.
// Maximum market-maker loss is bounded by b * ln(2) for binary markets.
func NewMarketMaker(b decimal.Decimal) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// logSumExp computes ln(Σ exp(x_i)) using the log-sum-exp trick to prevent
// floating-point overflow. Without this trick, exp(x) overflows float64
// when x > ~709.
//
// Algorithm: LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
// Since (x_i - max(x)) <= 0, all exp arguments are in [0, 1].
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// costFloat is Cost without the decimal conversion, for the solver's
// inner loop.
func (m *MarketMaker) costFloat(qy, qn float64) float64 {
	bf := m.b.InexactFloat64()
	return bf * logSumExp([]float64{qy / bf, qn / bf})
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(Σ exp(q_i / b))
//
// For binary markets, q = [qYes, qNo].
// Uses logSumExp internally for numerical stability.
func (m *MarketMaker) Cost(qYes, qNo decimal.Decimal) decimal.Decimal {
	cost := m.costFloat(qYes.InexactFloat64(), qNo.InexactFloat64())
	return decimal.NewFromFloat(cost).Round(PriceScale)
}

// Price computes the instantaneous price (probability) for the YES outcome:
//
//	p_yes = exp(qYes / b) / (exp(qYes / b) + exp(qNo / b))
//
// This is the softmax function. Uses max-subtraction for numerical stability.
// Result is clamped to [MinPrice, MaxPrice] so odds stay strictly in (0,1).
func (m *MarketMaker) Price(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	// Softmax with numerical stability: subtract max to avoid overflow.
	yOverB := qy / bf
	nOverB := qn / bf
	maxVal := math.Max(yOverB, nOverB)

	expYes := math.Exp(yOverB - maxVal)
	expNo := math.Exp(nOverB - maxVal)

	price := expYes / (expYes + expNo)
	result := decimal.NewFromFloat(price).Round(PriceScale)

	// Clamp to bounds.
	if result.LessThan(MinPrice) {
		return MinPrice
	}
	if result.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return result
}

// PriceNo returns the instantaneous price for the NO outcome: 1 - p_yes.
func (m *MarketMaker) PriceNo(qYes, qNo decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(m.Price(qYes, qNo))
}

// TradeCost computes the cost to change the YES quantity by deltaYes shares:
//
//	cost = C(qYes + deltaYes, qNo) - C(qYes, qNo)
//
// Positive deltaYes = buying YES (positive cost to trader).
// Negative deltaYes = selling YES (negative cost = payout to trader).
func (m *MarketMaker) TradeCost(qYes, qNo, deltaYes decimal.Decimal) decimal.Decimal {
	costBefore := m.Cost(qYes, qNo)
	costAfter := m.Cost(qYes.Add(deltaYes), qNo)
	return costAfter.Sub(costBefore)
}

// TradeCostNo computes the cost to change the NO quantity by deltaNo shares.
// Uses the symmetry property: C(a, b) = C(b, a).
//
//	cost = C(qYes, qNo + deltaNo) - C(qYes, qNo)
func (m *MarketMaker) TradeCostNo(qYes, qNo, deltaNo decimal.Decimal) decimal.Decimal {
	// By LMSR symmetry, C(qYes, qNo + d) - C(qYes, qNo)
	// = C(qNo + d, qYes) - C(qNo, qYes)
	return m.TradeCost(qNo, qYes, deltaNo)
}

// FillPrice returns the average execution price per share for a trade.
//
//	fillPrice = cost / delta
//
// Positive for both buys (cost>0, delta>0) and sells (cost<0, delta<0).
func (m *MarketMaker) FillPrice(qFirst, qSecond, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return m.Price(qFirst, qSecond)
	}
	cost := m.TradeCost(qFirst, qSecond, delta)
	return cost.Div(delta).Round(PriceScale)
}

// SharesForSpend solves for the share quantity Δq ≥ 0 such that
//
//	C(qTraded + Δq, qOther) - C(qTraded, qOther) = spend
//
// qTraded is the outstanding quantity on the side being bought; callers
// buying NO pass swapped quantities (the cost function is symmetric).
//
// Because cost is strictly increasing in the traded quantity the root is
// bracketed by doubling hi from max(spend, 1) and found by bisection to
// SolveTol dollars. If SolveMaxIter bisections do not reach tolerance the
// bracket midpoint is returned.
func (m *MarketMaker) SharesForSpend(qTraded, qOther, spend decimal.Decimal) (decimal.Decimal, error) {
	if spend.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidTradeSize
	}

	qt := qTraded.InexactFloat64()
	qo := qOther.InexactFloat64()
	sp := spend.InexactFloat64()
	target := m.costFloat(qt, qo) + sp

	lo := 0.0
	hi := math.Max(sp, 1)
	for m.costFloat(qt+hi, qo) < target {
		hi *= 2
	}

	for i := 0; i < SolveMaxIter; i++ {
		mid := (lo + hi) / 2
		c := m.costFloat(qt+mid, qo)
		if math.Abs(c-target) < SolveTol {
			return decimal.NewFromFloat(mid).Round(PriceScale), nil
		}
		if c < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return decimal.NewFromFloat((lo + hi) / 2).Round(PriceScale), nil
}

// SellProceeds computes the dollars returned for liquidating a known share
// quantity on the traded side:
//
//	proceeds = C(qTraded, qOther) - C(qTraded - shares, qOther)
//
// No search is needed for sells — shares sold are known, not dollars.
// Callers selling NO pass swapped quantities.
func (m *MarketMaker) SellProceeds(qTraded, qOther, shares decimal.Decimal) decimal.Decimal {
	return m.TradeCost(qTraded, qOther, shares.Neg()).Neg()
}

// MaxLoss returns the maximum possible loss for the market maker: b * ln(n),
// where n = 2 for binary markets.
func (m *MarketMaker) MaxLoss() decimal.Decimal {
	bf := m.b.InexactFloat64()
	loss := bf * math.Log(2)
	return decimal.NewFromFloat(loss).Round(PriceScale)
}
