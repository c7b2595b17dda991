package orderbook

import (
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// Fee returns floor(notional * bps / FeeDenominator).
func Fee(notional, bps int64) (int64, error) {
	if notional < 0 || bps < 0 {
		return 0, fmt.Errorf("%w: fee on %d at %d bps", domain.ErrInvalidAmount, notional, bps)
	}
	v, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(uint64(notional)), uint256.NewInt(uint64(bps)), uint256.NewInt(uint64(domain.FeeDenominator)))
	if overflow || !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("%w: fee overflow", domain.ErrInvalidAmount)
	}
	return int64(v.Uint64()), nil
}

// Notional returns price * qty, rejecting int64 overflow.
func Notional(price, qty int64) (int64, error) {
	if price < 0 || qty < 0 {
		return 0, fmt.Errorf("%w: notional %d x %d", domain.ErrInvalidAmount, price, qty)
	}
	if qty != 0 && price > math.MaxInt64/qty {
		return 0, fmt.Errorf("%w: notional overflow", domain.ErrInvalidAmount)
	}
	return price * qty, nil
}

// BuyCost is the credits a buy of qty at price escrows: notional plus fee.
func BuyCost(price, qty, bps int64) (int64, error) {
	n, err := Notional(price, qty)
	if err != nil {
		return 0, err
	}
	f, err := Fee(n, bps)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64-f {
		return 0, fmt.Errorf("%w: cost overflow", domain.ErrInvalidAmount)
	}
	return n + f, nil
}

// QuantityFor derives the share quantity of an order. A sell's value is its
// quantity. A buy's value must equal BuyCost(price, q, bps) exactly for some
// whole q.
func QuantityFor(side domain.Side, price, value, bps int64) (int64, error) {
	if !side.IsBuy() {
		return value, nil
	}
	// q* = floor(value * FeeDen / (price * (FeeDen + bps))) is within one of
	// the exact quantity.
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(uint64(value)), uint256.NewInt(uint64(domain.FeeDenominator)))
	if overflow {
		return 0, fmt.Errorf("%w: value overflow", domain.ErrInvalidOrder)
	}
	den := new(uint256.Int).Mul(uint256.NewInt(uint64(price)), uint256.NewInt(uint64(domain.FeeDenominator+bps)))
	q := new(uint256.Int).Div(num, den)
	if !q.IsUint64() || q.Uint64() > math.MaxInt64-1 {
		return 0, fmt.Errorf("%w: quantity overflow", domain.ErrInvalidOrder)
	}
	for _, cand := range []int64{int64(q.Uint64()), int64(q.Uint64()) + 1} {
		if cand <= 0 {
			continue
		}
		cost, err := BuyCost(price, cand, bps)
		if err != nil {
			continue
		}
		if cost == value {
			return cand, nil
		}
	}
	return 0, fmt.Errorf("%w: value %d is not price %d x whole shares plus %d bps fee", domain.ErrInvalidOrder, value, price, bps)
}

// FillAmounts is the credit movement of one side of a fill.
type FillAmounts struct {
	// Notional is price*qty for buys and (D-price)*qty for sells.
	Notional int64
	Fee      int64
	// Debited is escrow consumed (buys).
	Debited int64
	// Proceeds is credited to the owner net of fee (sells).
	Proceeds int64
}

// ApplyFill executes qty of a resting limit order at its limit price. It
// decrements the remaining quantity and consumes escrow; the final fill of a
// buy consumes whatever escrow is left so per-fill fee rounding never strands
// credits.
func ApplyFill(o *domain.Order, qty int64, now time.Time) (FillAmounts, error) {
	if qty <= 0 || qty > o.RemainingQuantity {
		return FillAmounts{}, fmt.Errorf("%w: fill %d of remaining %d on order %d", domain.ErrIntegrity, qty, o.RemainingQuantity, o.ID)
	}
	amt, err := FillCost(o.Side, o.LimitPrice, qty, o.FeeBps)
	if err != nil {
		return FillAmounts{}, err
	}
	if o.Side.IsBuy() {
		if qty == o.RemainingQuantity {
			amt.Fee = o.EscrowRemaining - amt.Notional
			amt.Debited = o.EscrowRemaining
		}
		if amt.Debited > o.EscrowRemaining || amt.Fee < 0 {
			return FillAmounts{}, fmt.Errorf("%w: order %d escrow %d cannot cover %d", domain.ErrIntegrity, o.ID, o.EscrowRemaining, amt.Debited)
		}
		o.EscrowRemaining -= amt.Debited
	}
	o.RemainingQuantity -= qty
	o.UpdatedAt = now
	return amt, nil
}

// FillCost prices qty shares of side at price without touching any order.
func FillCost(side domain.Side, price, qty, bps int64) (FillAmounts, error) {
	if side.IsBuy() {
		n, err := Notional(price, qty)
		if err != nil {
			return FillAmounts{}, err
		}
		f, err := Fee(n, bps)
		if err != nil {
			return FillAmounts{}, err
		}
		return FillAmounts{Notional: n, Fee: f, Debited: n + f}, nil
	}
	n, err := Notional(domain.PriceDenominator-price, qty)
	if err != nil {
		return FillAmounts{}, err
	}
	f, err := Fee(n, bps)
	if err != nil {
		return FillAmounts{}, err
	}
	return FillAmounts{Notional: n, Fee: f, Proceeds: n - f}, nil
}

// mulDiv returns floor(a*b/c) for non-negative operands without intermediate
// overflow. The result is clamped to MaxInt64.
func mulDiv(a, b, c int64) int64 {
	if a <= 0 || b <= 0 || c <= 0 {
		return 0
	}
	v, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)), uint256.NewInt(uint64(c)))
	if overflow || !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v.Uint64())
}
