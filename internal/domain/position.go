package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is an owner's holding in one outcome. Yes and No shares are kept
// separately; NetQuantity gives the signed view.
type Position struct {
	Owner     common.Address `json:"owner"`
	MarketID  uint32         `json:"market_id"`
	OutcomeID OutcomeID      `json:"outcome_id"`
	YesShares int64          `json:"yes_shares"`
	NoShares  int64          `json:"no_shares"`
	// Locked shares back resting sell orders.
	LockedYes int64     `json:"locked_yes"`
	LockedNo  int64     `json:"locked_no"`
	CostBasis int64     `json:"cost_basis"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NetQuantity is positive for net Yes exposure and negative for net No.
func (p Position) NetQuantity() int64 { return p.YesShares - p.NoShares }

// Shares returns the holding of one token (true = Yes).
func (p Position) Shares(yes bool) int64 {
	if yes {
		return p.YesShares
	}
	return p.NoShares
}

// Free returns the unlocked holding of one token.
func (p Position) Free(yes bool) int64 {
	if yes {
		return p.YesShares - p.LockedYes
	}
	return p.NoShares - p.LockedNo
}

// IsZero reports whether nothing is held.
func (p Position) IsZero() bool {
	return p.YesShares == 0 && p.NoShares == 0 && p.LockedYes == 0 && p.LockedNo == 0
}

// Valid checks the non-negativity and lock bounds.
func (p Position) Valid() bool {
	return p.YesShares >= 0 && p.NoShares >= 0 &&
		p.LockedYes >= 0 && p.LockedNo >= 0 &&
		p.LockedYes <= p.YesShares && p.LockedNo <= p.NoShares &&
		p.CostBasis >= 0
}

// ClaimRecord is the consumed flag per (owner, market).
type ClaimRecord struct {
	MarketID   uint32         `json:"market_id"`
	Owner      common.Address `json:"owner"`
	Consumed   bool           `json:"consumed"`
	PaidAmount int64          `json:"paid_amount"`
	ClaimedAt  time.Time      `json:"claimed_at"`
}

// LeveragedPosition is a directional position opened against a supplied
// price and settled from platform liquidity.
type LeveragedPosition struct {
	ID         uint64         `json:"id"`
	Account    common.Address `json:"account"`
	PoolID     string         `json:"pool_id"`
	Value      int64          `json:"value"`
	Leverage   int64          `json:"leverage"`
	EntryPrice int64          `json:"entry_price"`
	IsLong     bool           `json:"is_long"`
	Open       bool           `json:"open"`
	ExitPrice  int64          `json:"exit_price,omitempty"`
	PnL        int64          `json:"pnl"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
}
