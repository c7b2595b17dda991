// Package collateral keeps credit balances, converts the backing asset into
// credits and throttles daily usage.
package collateral

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcomebook/internal/access"
	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// UsageWindow is the length of the daily usage window.
const UsageWindow = 24 * time.Hour

// Config holds the ledger parameters.
type Config struct {
	AssetDecimals uint8
	// DailyCap bounds the credits one account may withdraw or use per window.
	// Zero or negative disables the cap.
	DailyCap int64
}

// Engine is the collateral ledger.
type Engine struct {
	ledger domain.Ledger
	access access.Registry
	rates  RateSource
	cfg    Config
	now    func() time.Time
}

// NewEngine creates the collateral ledger.
func NewEngine(ledger domain.Ledger, reg access.Registry, rates RateSource, cfg Config) *Engine {
	return &Engine{ledger: ledger, access: reg, rates: rates, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Deposit converts assetAmount to credits and credits owner. Deposits are
// never throttled.
func (e *Engine) Deposit(ctx context.Context, owner common.Address, assetAmount *uint256.Int) (int64, error) {
	rate, err := e.rates.Rate(ctx)
	if err != nil {
		return 0, fmt.Errorf("collateral: deposit: rate: %w", err)
	}
	credits, err := ToCredits(assetAmount, rate, e.cfg.AssetDecimals)
	if err != nil {
		return 0, fmt.Errorf("collateral: deposit: %w", err)
	}
	if credits <= 0 {
		return 0, fmt.Errorf("collateral: deposit: zero credits: %w", domain.ErrInvalidAmount)
	}

	now := e.now()
	err = e.ledger.Update(ctx, func(tx domain.Tx) error {
		if err := Credit(ctx, tx, owner, credits, now); err != nil {
			return err
		}
		p, err := tx.Platform(ctx)
		if err != nil {
			return err
		}
		p.NetUserDeposits += credits
		p.UpdatedAt = now
		if err := tx.PutPlatform(ctx, p); err != nil {
			return err
		}
		return CheckInvariant(ctx, tx)
	})
	if err != nil {
		return 0, fmt.Errorf("collateral: deposit: %w", err)
	}
	return credits, nil
}

// Withdraw burns credits from owner and returns the backing-asset amount to
// release.
func (e *Engine) Withdraw(ctx context.Context, owner common.Address, credits int64) (*uint256.Int, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("collateral: withdraw: %w", domain.ErrInvalidAmount)
	}
	rate, err := e.rates.Rate(ctx)
	if err != nil {
		return nil, fmt.Errorf("collateral: withdraw: rate: %w", err)
	}
	asset, err := ToAsset(credits, rate, e.cfg.AssetDecimals)
	if err != nil {
		return nil, fmt.Errorf("collateral: withdraw: %w", err)
	}

	now := e.now()
	err = e.ledger.Update(ctx, func(tx domain.Tx) error {
		if err := e.Use(ctx, tx, owner, credits, now); err != nil {
			return err
		}
		p, err := tx.Platform(ctx)
		if err != nil {
			return err
		}
		p.NetUserDeposits -= credits
		p.UpdatedAt = now
		if err := tx.PutPlatform(ctx, p); err != nil {
			return err
		}
		return CheckInvariant(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("collateral: withdraw: %w", err)
	}
	return asset, nil
}

// TopupSystem mints house liquidity. It backs user credit and funds the
// leverage reserve.
func (e *Engine) TopupSystem(ctx context.Context, caller common.Address, credits int64) (domain.PlatformState, error) {
	if err := access.Require(e.access, access.RoleTreasury, caller); err != nil {
		return domain.PlatformState{}, fmt.Errorf("collateral: topup: %w", err)
	}
	if credits <= 0 {
		return domain.PlatformState{}, fmt.Errorf("collateral: topup: %w", domain.ErrInvalidAmount)
	}
	var out domain.PlatformState
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		p, err := tx.Platform(ctx)
		if err != nil {
			return err
		}
		p.PlatformCredit += credits
		p.LeverageReserve += credits
		p.UpdatedAt = e.now()
		out = p
		return tx.PutPlatform(ctx, p)
	})
	if err != nil {
		return domain.PlatformState{}, fmt.Errorf("collateral: topup: %w", err)
	}
	return out, nil
}

// SetExcluded toggles owner's exemption from the daily cap.
func (e *Engine) SetExcluded(ctx context.Context, caller, owner common.Address, excluded bool) error {
	if err := access.Require(e.access, access.RoleTreasury, caller); err != nil {
		return fmt.Errorf("collateral: set excluded: %w", err)
	}
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		a, err := tx.Account(ctx, owner)
		if err != nil {
			return err
		}
		a.Excluded = excluded
		a.UpdatedAt = e.now()
		return tx.PutAccount(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("collateral: set excluded: %w", err)
	}
	return nil
}

// DailyUsage returns the credits owner has used in the current window.
func (e *Engine) DailyUsage(ctx context.Context, owner common.Address) (int64, error) {
	a, err := e.Balance(ctx, owner)
	if err != nil {
		return 0, err
	}
	if windowExpired(a, e.now()) {
		return 0, nil
	}
	return a.DailyUsed, nil
}

// Balance returns owner's account.
func (e *Engine) Balance(ctx context.Context, owner common.Address) (domain.CollateralAccount, error) {
	var a domain.CollateralAccount
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		a, err = tx.Account(ctx, owner)
		return err
	})
	if err != nil {
		return domain.CollateralAccount{}, fmt.Errorf("collateral: balance: %w", err)
	}
	return a, nil
}

// Platform returns the aggregate counters.
func (e *Engine) Platform(ctx context.Context) (domain.PlatformState, error) {
	var p domain.PlatformState
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		p, err = tx.Platform(ctx)
		return err
	})
	if err != nil {
		return domain.PlatformState{}, fmt.Errorf("collateral: platform: %w", err)
	}
	return p, nil
}

// Use debits amount from owner and counts it against the daily cap. The
// window is rolled over first when it has expired.
func (e *Engine) Use(ctx context.Context, tx domain.Tx, owner common.Address, amount int64, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("use %d: %w", amount, domain.ErrInvalidAmount)
	}
	a, err := tx.Account(ctx, owner)
	if err != nil {
		return err
	}
	if amount > a.CreditBalance {
		return fmt.Errorf("use %d of %d: %w", amount, a.CreditBalance, domain.ErrInsufficientBalance)
	}
	if windowExpired(a, now) {
		a.DailyUsed = 0
		a.DailyWindowStart = now
	}
	if !a.Excluded && e.cfg.DailyCap > 0 && a.DailyUsed+amount > e.cfg.DailyCap {
		return fmt.Errorf("use %d, used %d of %d: %w", amount, a.DailyUsed, e.cfg.DailyCap, domain.ErrDailyLimitExceeded)
	}
	a.DailyUsed += amount
	if err := tx.PutAccount(ctx, a); err != nil {
		return err
	}
	return Debit(ctx, tx, owner, amount, now)
}

func windowExpired(a domain.CollateralAccount, now time.Time) bool {
	return a.DailyWindowStart.IsZero() || !now.Before(a.DailyWindowStart.Add(UsageWindow))
}

// Debit removes amount from owner's balance inside tx.
func Debit(ctx context.Context, tx domain.Tx, owner common.Address, amount int64, now time.Time) error {
	if amount < 0 {
		return fmt.Errorf("debit %d: %w", amount, domain.ErrInvalidAmount)
	}
	if amount == 0 {
		return nil
	}
	a, err := tx.Account(ctx, owner)
	if err != nil {
		return err
	}
	if a.CreditBalance < amount {
		return fmt.Errorf("debit %d of %d: %w", amount, a.CreditBalance, domain.ErrInsufficientBalance)
	}
	a.CreditBalance -= amount
	a.UpdatedAt = now
	if err := tx.PutAccount(ctx, a); err != nil {
		return err
	}
	return adjustUserCredit(ctx, tx, -amount, now)
}

// Credit adds amount to owner's balance inside tx.
func Credit(ctx context.Context, tx domain.Tx, owner common.Address, amount int64, now time.Time) error {
	if amount < 0 {
		return fmt.Errorf("credit %d: %w", amount, domain.ErrInvalidAmount)
	}
	if amount == 0 {
		return nil
	}
	a, err := tx.Account(ctx, owner)
	if err != nil {
		return err
	}
	a.CreditBalance += amount
	a.UpdatedAt = now
	if err := tx.PutAccount(ctx, a); err != nil {
		return err
	}
	return adjustUserCredit(ctx, tx, amount, now)
}

func adjustUserCredit(ctx context.Context, tx domain.Tx, delta int64, now time.Time) error {
	p, err := tx.Platform(ctx)
	if err != nil {
		return err
	}
	p.TotalUserCredit += delta
	p.UpdatedAt = now
	if p.TotalUserCredit < 0 {
		return fmt.Errorf("total user credit %d: %w", p.TotalUserCredit, domain.ErrIntegrity)
	}
	return tx.PutPlatform(ctx, p)
}

// CheckInvariant fails with ErrIntegrity when user balances exceed deposits
// plus house liquidity.
func CheckInvariant(ctx context.Context, tx domain.Tx) error {
	p, err := tx.Platform(ctx)
	if err != nil {
		return err
	}
	if !p.Solvent() {
		return fmt.Errorf("platform user=%d platform=%d deposits=%d fees=%d reserve=%d: %w",
			p.TotalUserCredit, p.PlatformCredit, p.NetUserDeposits, p.FeeBalance, p.LeverageReserve, domain.ErrIntegrity)
	}
	return nil
}
