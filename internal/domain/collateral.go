package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralAccount is an owner's credit balance and usage window.
type CollateralAccount struct {
	Owner            common.Address `json:"owner"`
	CreditBalance    int64          `json:"credit_balance"`
	DailyUsed        int64          `json:"daily_used"`
	DailyWindowStart time.Time      `json:"daily_window_start"`
	// Excluded accounts bypass the daily usage cap.
	Excluded  bool      `json:"excluded"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlatformState is the single row of aggregate counters.
type PlatformState struct {
	// PlatformCredit is the credit minted by system top-ups. It only grows.
	PlatformCredit int64 `json:"platform_credit"`
	// LeverageReserve is the unowned house liquidity: top-ups plus leveraged
	// losses minus leveraged profits paid.
	LeverageReserve int64 `json:"leverage_reserve"`
	// NetUserDeposits is credits minted by deposits minus credits burned by
	// withdrawals.
	NetUserDeposits int64 `json:"net_user_deposits"`
	// TotalUserCredit is the sum of every account's CreditBalance.
	TotalUserCredit int64     `json:"total_user_credit"`
	FeeBalance      int64     `json:"fee_balance"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Solvent reports whether user balances are covered by deposits plus house
// liquidity.
func (p PlatformState) Solvent() bool {
	return p.TotalUserCredit >= 0 &&
		p.PlatformCredit >= 0 &&
		p.FeeBalance >= 0 &&
		p.LeverageReserve >= 0 &&
		p.TotalUserCredit <= p.PlatformCredit+p.NetUserDeposits
}

// Rate converts backing-asset units to credit units before decimal scaling:
// credits = asset * Num / Den.
type Rate struct {
	Num uint64 `json:"num"`
	Den uint64 `json:"den"`
}

// Valid reports whether both terms are positive.
func (r Rate) Valid() bool { return r.Num > 0 && r.Den > 0 }
