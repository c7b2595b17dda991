package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceDenominator is the fixed-point scale of prices (6 decimals). A
// complementary Yes/No pair is worth exactly PriceDenominator credit units
// per share once the market settles.
const PriceDenominator int64 = 1_000_000

// FeeDenominator is the base of fee rates expressed in basis points.
const FeeDenominator int64 = 10_000

// Side is the order type. The numeric values are part of the signed message
// encoding and must not change.
type Side uint8

const (
	SideBuyYes  Side = 0
	SideSellYes Side = 1
	SideBuyNo   Side = 2
	SideSellNo  Side = 3
)

var sideNames = map[Side]string{
	SideBuyYes:  "buy_yes",
	SideSellYes: "sell_yes",
	SideBuyNo:   "buy_no",
	SideSellNo:  "sell_no",
}

// ParseSide accepts the snake_case name or the numeric wire value.
func ParseSide(s string) (Side, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for side, name := range sideNames {
		if v == name || v == fmt.Sprintf("%d", side) {
			return side, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
}

func (s Side) String() string {
	if name, ok := sideNames[s]; ok {
		return name
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// Valid reports whether s is one of the four order types.
func (s Side) Valid() bool {
	_, ok := sideNames[s]
	return ok
}

// IsBuy reports whether the side spends credits (as opposed to shares).
func (s Side) IsBuy() bool { return s == SideBuyYes || s == SideBuyNo }

// AcquiresYes reports whether a fill moves the owner's net exposure towards
// Yes. BuyYes and SellNo acquire Yes exposure; BuyNo and SellYes acquire No.
func (s Side) AcquiresYes() bool { return s == SideBuyYes || s == SideSellNo }

// Token returns the token the side trades: true for Yes, false for No.
func (s Side) Token() bool { return s == SideBuyYes || s == SideSellYes }

// Opposes reports whether two sides take opposite exposures and may therefore
// be matched against each other.
func (s Side) Opposes(other Side) bool {
	return s.Valid() && other.Valid() && s.AcquiresYes() != other.AcquiresYes()
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("domain: invalid side %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side from its name or wire value.
func (s *Side) UnmarshalText(text []byte) error {
	v, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderStatus tracks the order lifecycle. It is derived, never stored.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// OrderKind distinguishes resting limit orders from immediate market orders.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "limit"
	OrderKindMarket OrderKind = "market"
)

// Order is a signed intent held by the book. Orders are never deleted.
type Order struct {
	ID                uint64         `json:"id"`
	MarketID          uint32         `json:"market_id"`
	Owner             common.Address `json:"owner"`
	Side              Side           `json:"side"`
	OutcomeID         OutcomeID      `json:"outcome_id"`
	Kind              OrderKind      `json:"kind"`
	LimitPrice        int64          `json:"limit_price"`
	Value             int64          `json:"value"`
	OriginalQuantity  int64          `json:"original_quantity"`
	RemainingQuantity int64          `json:"remaining_quantity"`
	EscrowRemaining   int64          `json:"escrow_remaining"`
	FeeBps            int64          `json:"fee_bps"`
	Cancelled         bool           `json:"cancelled"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// StatusOf is the pure status function of an order's quantities and cancel
// flag.
func StatusOf(remaining, original int64, cancelled bool) OrderStatus {
	switch {
	case cancelled:
		return OrderStatusCancelled
	case remaining == 0:
		return OrderStatusFilled
	case remaining < original:
		return OrderStatusPartiallyFilled
	default:
		return OrderStatusOpen
	}
}

// Status returns the derived lifecycle status.
func (o Order) Status() OrderStatus {
	return StatusOf(o.RemainingQuantity, o.OriginalQuantity, o.Cancelled)
}

// Matchable reports whether the order can still take part in a fill.
func (o Order) Matchable() bool {
	return !o.Cancelled && o.RemainingQuantity > 0
}

// Filled returns the quantity executed so far.
func (o Order) Filled() int64 {
	return o.OriginalQuantity - o.RemainingQuantity
}

// FillKind classifies how a fill moved the market's collateral pool.
type FillKind string

const (
	// FillKindMint pairs two buys: a new Yes/No pair is created.
	FillKindMint FillKind = "mint"
	// FillKindTransfer pairs a buy and a sell of the same token.
	FillKindTransfer FillKind = "transfer"
	// FillKindMerge pairs two sells: a Yes/No pair is burned.
	FillKindMerge FillKind = "merge"
)

// Fill is one executed match between a taker and a maker order.
type Fill struct {
	ID           string         `json:"id"`
	MarketID     uint32         `json:"market_id"`
	OutcomeID    OutcomeID      `json:"outcome_id"`
	TakerOrderID uint64         `json:"taker_order_id"`
	MakerOrderID uint64         `json:"maker_order_id"`
	TakerOwner   common.Address `json:"taker_owner"`
	MakerOwner   common.Address `json:"maker_owner"`
	TakerSide    Side           `json:"taker_side"`
	MakerSide    Side           `json:"maker_side"`
	Quantity     int64          `json:"quantity"`
	TakerPrice   int64          `json:"taker_price"`
	MakerPrice   int64          `json:"maker_price"`
	Fee          int64          `json:"fee"`
	Kind         FillKind       `json:"kind"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FillKindOf returns the pool effect of matching two opposing sides.
func FillKindOf(a, b Side) FillKind {
	switch {
	case a.IsBuy() && b.IsBuy():
		return FillKindMint
	case !a.IsBuy() && !b.IsBuy():
		return FillKindMerge
	default:
		return FillKindTransfer
	}
}
