// Package leverage opens and closes leveraged directional positions against
// a price supplied per instruction. Profits are paid from the house leverage
// reserve and losses flow back into it.
package leverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcomebook/internal/access"
	"github.com/alanyoungcy/outcomebook/internal/collateral"
	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// Denominator is the fixed-point scale of leverage: 1_000_000 is 1x.
const Denominator int64 = 1_000_000

// Config bounds the accepted positions.
type Config struct {
	// MaxLeverage in Denominator units; zero disables the bound.
	MaxLeverage int64
	MinValue    int64
}

// OpenItem opens one position.
type OpenItem struct {
	ID       uint64         `json:"pl_id"`
	Account  common.Address `json:"account"`
	PoolID   string         `json:"pool_id"`
	Value    int64          `json:"value"`
	Leverage int64          `json:"leverage"`
	Price    int64          `json:"price"`
	IsLong   bool           `json:"is_long"`
}

// CloseItem closes one position at Price.
type CloseItem struct {
	ID    uint64 `json:"pl_id"`
	Price int64  `json:"price"`
}

// ItemResult reports one batch item.
type ItemResult struct {
	ID       uint64                   `json:"pl_id"`
	Position domain.LeveragedPosition `json:"position"`
	Err      error                    `json:"-"`
}

// Desk runs leveraged batches.
type Desk struct {
	ledger     domain.Ledger
	collateral *collateral.Engine
	access     access.Registry
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewDesk creates a leverage desk.
func NewDesk(ledger domain.Ledger, coll *collateral.Engine, reg access.Registry, cfg Config, logger *slog.Logger) *Desk {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desk{
		ledger:     ledger,
		collateral: coll,
		access:     reg,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "leverage")),
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (d *Desk) WithClock(now func() time.Time) *Desk {
	d.now = now
	return d
}

// OpenBatch opens each item in its own transaction. The value is drawn from
// the account through the daily usage cap.
func (d *Desk) OpenBatch(ctx context.Context, caller common.Address, items []OpenItem) ([]ItemResult, error) {
	if err := access.Require(d.access, access.RoleLeverageBatcher, caller); err != nil {
		return nil, fmt.Errorf("leverage: open batch: %w", err)
	}
	results := make([]ItemResult, len(items))
	for i, it := range items {
		results[i] = ItemResult{ID: it.ID}
		pos, err := d.open(ctx, it)
		if err != nil {
			results[i].Err = err
			d.logItemError(ctx, "open", i, it.ID, err)
			continue
		}
		results[i].Position = pos
	}
	return results, nil
}

func (d *Desk) open(ctx context.Context, it OpenItem) (domain.LeveragedPosition, error) {
	if it.ID == 0 || it.Value <= 0 || it.Value < d.cfg.MinValue || it.Leverage <= 0 || it.Price <= 0 {
		return domain.LeveragedPosition{}, fmt.Errorf("position %d: %w", it.ID, domain.ErrInvalidAmount)
	}
	if d.cfg.MaxLeverage > 0 && it.Leverage > d.cfg.MaxLeverage {
		return domain.LeveragedPosition{}, fmt.Errorf("position %d: leverage %d above %d: %w", it.ID, it.Leverage, d.cfg.MaxLeverage, domain.ErrInvalidAmount)
	}
	now := d.now().UTC()
	pos := domain.LeveragedPosition{
		ID:         it.ID,
		Account:    it.Account,
		PoolID:     it.PoolID,
		Value:      it.Value,
		Leverage:   it.Leverage,
		EntryPrice: it.Price,
		IsLong:     it.IsLong,
		Open:       true,
		OpenedAt:   now,
	}
	err := d.ledger.Update(ctx, func(tx domain.Tx) error {
		if _, err := tx.LeveragedPosition(ctx, it.ID); err == nil {
			return fmt.Errorf("position %d: %w", it.ID, domain.ErrDuplicateOrder)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := d.collateral.Use(ctx, tx, it.Account, it.Value, now); err != nil {
			return err
		}
		return tx.PutLeveragedPosition(ctx, pos)
	})
	if err != nil {
		return domain.LeveragedPosition{}, err
	}
	return pos, nil
}

// CloseBatch settles each item in its own transaction.
func (d *Desk) CloseBatch(ctx context.Context, caller common.Address, items []CloseItem) ([]ItemResult, error) {
	if err := access.Require(d.access, access.RoleLeverageBatcher, caller); err != nil {
		return nil, fmt.Errorf("leverage: close batch: %w", err)
	}
	results := make([]ItemResult, len(items))
	for i, it := range items {
		results[i] = ItemResult{ID: it.ID}
		pos, err := d.close(ctx, it)
		if err != nil {
			results[i].Err = err
			d.logItemError(ctx, "close", i, it.ID, err)
			continue
		}
		results[i].Position = pos
	}
	return results, nil
}

func (d *Desk) close(ctx context.Context, it CloseItem) (domain.LeveragedPosition, error) {
	if it.Price <= 0 {
		return domain.LeveragedPosition{}, fmt.Errorf("position %d: price %d: %w", it.ID, it.Price, domain.ErrInvalidAmount)
	}
	var out domain.LeveragedPosition
	err := d.ledger.Update(ctx, func(tx domain.Tx) error {
		pos, err := tx.LeveragedPosition(ctx, it.ID)
		if err != nil {
			return err
		}
		if !pos.Open {
			return fmt.Errorf("position %d: %w", it.ID, domain.ErrOrderClosed)
		}
		pnl, err := PnL(pos, it.Price)
		if err != nil {
			return err
		}

		p, err := tx.Platform(ctx)
		if err != nil {
			return err
		}
		if pnl > 0 && p.LeverageReserve < pnl {
			return fmt.Errorf("position %d profit %d, reserve %d: %w", it.ID, pnl, p.LeverageReserve, domain.ErrInsufficientLiquidity)
		}
		now := d.now().UTC()
		p.LeverageReserve -= pnl
		p.UpdatedAt = now
		if err := tx.PutPlatform(ctx, p); err != nil {
			return err
		}
		if err := collateral.Credit(ctx, tx, pos.Account, pos.Value+pnl, now); err != nil {
			return err
		}

		pos.Open = false
		pos.ExitPrice = it.Price
		pos.PnL = pnl
		pos.ClosedAt = &now
		out = pos
		if err := tx.PutLeveragedPosition(ctx, pos); err != nil {
			return err
		}
		return collateral.CheckInvariant(ctx, tx)
	})
	if err != nil {
		return domain.LeveragedPosition{}, err
	}
	return out, nil
}

// Fund adds house liquidity to the leverage reserve.
func (d *Desk) Fund(ctx context.Context, caller common.Address, credits int64) (domain.PlatformState, error) {
	p, err := d.collateral.TopupSystem(ctx, caller, credits)
	if err != nil {
		return domain.PlatformState{}, fmt.Errorf("leverage: fund: %w", err)
	}
	return p, nil
}

// Get returns one position.
func (d *Desk) Get(ctx context.Context, id uint64) (domain.LeveragedPosition, error) {
	var pos domain.LeveragedPosition
	err := d.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		pos, err = tx.LeveragedPosition(ctx, id)
		return err
	})
	if err != nil {
		return domain.LeveragedPosition{}, fmt.Errorf("leverage: get %d: %w", id, err)
	}
	return pos, nil
}

// PnL returns value * leverage/Denominator * (exit-entry)/entry, negated for
// shorts. Losses are capped at the position value.
func PnL(pos domain.LeveragedPosition, exit int64) (int64, error) {
	if pos.EntryPrice <= 0 || exit <= 0 || pos.Value < 0 || pos.Leverage < 0 {
		return 0, fmt.Errorf("pnl of position %d: %w", pos.ID, domain.ErrInvalidAmount)
	}
	move := exit - pos.EntryPrice
	gain := move > 0
	if move < 0 {
		move = -move
	}
	num := new(uint256.Int).Mul(uint256.NewInt(uint64(pos.Value)), uint256.NewInt(uint64(pos.Leverage)))
	num.Mul(num, uint256.NewInt(uint64(move)))
	den := new(uint256.Int).Mul(uint256.NewInt(uint64(Denominator)), uint256.NewInt(uint64(pos.EntryPrice)))
	v := new(uint256.Int).Div(num, den)

	var mag int64 = math.MaxInt64
	if v.IsUint64() && v.Uint64() <= math.MaxInt64 {
		mag = int64(v.Uint64())
	}
	if gain != pos.IsLong {
		return -min(mag, pos.Value), nil
	}
	if mag == math.MaxInt64 {
		return 0, fmt.Errorf("pnl of position %d overflows: %w", pos.ID, domain.ErrInvalidAmount)
	}
	return mag, nil
}

func (d *Desk) logItemError(ctx context.Context, batch string, index int, id uint64, err error) {
	attrs := []any{
		slog.String("batch", batch),
		slog.Int("index", index),
		slog.Uint64("pl_id", id),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, domain.ErrIntegrity) {
		d.logger.ErrorContext(ctx, "leverage: integrity violation", attrs...)
		return
	}
	d.logger.WarnContext(ctx, "leverage: item failed", attrs...)
}
