// Package matching executes batches of match instructions against the order
// store. Every maker fill is its own ledger transaction, and a failing
// instruction never aborts the rest of its batch.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/access"
	"github.com/alanyoungcy/outcomebook/internal/crypto"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
)

// Instruction matches one resting taker against makers in order.
type Instruction struct {
	TakerID  uint64   `json:"taker_id"`
	MakerIDs []uint64 `json:"maker_ids"`
}

// Result reports one instruction. Fills made before a failure stay
// committed and are listed alongside the error.
type Result struct {
	TakerID uint64        `json:"taker_id"`
	Fills   []domain.Fill `json:"fills"`
	Err     error         `json:"-"`
}

// Filled returns the quantity executed for the instruction.
func (r Result) Filled() int64 {
	var n int64
	for _, f := range r.Fills {
		n += f.Quantity
	}
	return n
}

// MarketIntent is a signed, non-resting order that fills against an explicit
// maker list until its amount is exhausted or it expires.
type MarketIntent struct {
	OrderID    uint64           `json:"order_id"`
	Owner      common.Address   `json:"owner"`
	Side       domain.Side      `json:"side"`
	OutcomeID  domain.OutcomeID `json:"outcome_id"`
	Amount     int64            `json:"amount"`
	ExpireTime time.Time        `json:"expire_time"`
	MakerIDs   []uint64         `json:"maker_ids"`
}

// Message returns the digest the authorizer signs for this intent.
func (mi MarketIntent) Message(book common.Address) ([]byte, error) {
	outcome, err := mi.OutcomeID.Uint256()
	if err != nil {
		return nil, err
	}
	return crypto.MarketOrderMessage(book, mi.Owner, uint8(mi.Side), outcome, mi.Amount, mi.ExpireTime, mi.OrderID, mi.MakerIDs), nil
}

// Engine runs match batches.
type Engine struct {
	ledger domain.Ledger
	book   *orderbook.Book
	access access.Registry
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a matching engine over book.
func NewEngine(ledger domain.Ledger, book *orderbook.Book, reg access.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger: ledger,
		book:   book,
		access: reg,
		logger: logger.With(slog.String("component", "matching")),
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// MatchLimit runs instructions in order. The returned error is non-nil only
// when the whole batch is rejected; per-instruction failures are reported in
// the results.
func (e *Engine) MatchLimit(ctx context.Context, caller common.Address, batch []Instruction) ([]Result, error) {
	if err := access.Require(e.access, access.RoleOrderbookBatcher, caller); err != nil {
		return nil, fmt.Errorf("matching: limit batch: %w", err)
	}
	results := make([]Result, len(batch))
	for i, in := range batch {
		results[i] = e.runInstruction(ctx, in.TakerID, domain.OrderKindLimit, in.MakerIDs)
		if err := results[i].Err; err != nil {
			e.logItemError(ctx, "limit", i, in.TakerID, err)
		}
	}
	return results, nil
}

// MatchMarket verifies a signed market order, fills it against its maker list
// and cancels any remainder.
func (e *Engine) MatchMarket(ctx context.Context, caller common.Address, mi MarketIntent, sig []byte) (Result, error) {
	if err := access.Require(e.access, access.RoleOrderbookBatcher, caller); err != nil {
		return Result{}, fmt.Errorf("matching: market order: %w", err)
	}
	msg, err := mi.Message(e.book.Config().Book)
	if err != nil {
		return Result{}, fmt.Errorf("matching: market order: %w", domain.ErrInvalidOrder)
	}
	if err := e.book.Verify(msg, sig); err != nil {
		return Result{}, fmt.Errorf("matching: market order %d: %w", mi.OrderID, err)
	}
	now := e.now().UTC()
	if now.After(mi.ExpireTime) {
		return Result{}, fmt.Errorf("matching: market order %d: %w", mi.OrderID, domain.ErrOrderExpired)
	}
	if !mi.Side.Valid() || mi.OrderID == 0 || mi.Amount <= 0 {
		return Result{}, fmt.Errorf("matching: market order %d: %w", mi.OrderID, domain.ErrInvalidOrder)
	}
	outcome, _ := mi.OutcomeID.Uint256()

	taker := domain.Order{
		ID:                mi.OrderID,
		Owner:             mi.Owner,
		Side:              mi.Side,
		OutcomeID:         domain.OutcomeID(outcome.Dec()),
		Kind:              domain.OrderKindMarket,
		Value:             mi.Amount,
		OriginalQuantity:  mi.Amount,
		RemainingQuantity: mi.Amount,
		FeeBps:            e.book.Config().FeeBps,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = e.ledger.Update(ctx, func(tx domain.Tx) error {
		m, err := tx.MarketByOutcome(ctx, taker.OutcomeID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown outcome %s", domain.ErrMarketClosed, taker.OutcomeID)
		}
		if err != nil {
			return err
		}
		if !m.Tradable(now) {
			return fmt.Errorf("%w: market %d", domain.ErrMarketClosed, m.ID)
		}
		taker.MarketID = m.ID
		if _, err := tx.Order(ctx, taker.ID); err == nil {
			return domain.ErrDuplicateOrder
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.PutOrder(ctx, taker)
	})
	if err != nil {
		return Result{}, fmt.Errorf("matching: market order %d: %w", mi.OrderID, err)
	}

	res := e.runInstruction(ctx, taker.ID, domain.OrderKindMarket, mi.MakerIDs)
	if res.Err != nil {
		e.logItemError(ctx, "market", 0, taker.ID, res.Err)
	}

	// The remainder of a market order never rests.
	err = e.ledger.Update(ctx, func(tx domain.Tx) error {
		o, err := tx.Order(ctx, taker.ID)
		if err != nil {
			return err
		}
		if o.RemainingQuantity == 0 {
			return nil
		}
		o.Cancelled = true
		o.UpdatedAt = e.now().UTC()
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return res, fmt.Errorf("matching: market order %d: close remainder: %w", mi.OrderID, err)
	}
	return res, nil
}

// runInstruction fills takerID against makerIDs one maker per transaction.
// It stops at the first failing maker or once the taker is filled.
func (e *Engine) runInstruction(ctx context.Context, takerID uint64, kind domain.OrderKind, makerIDs []uint64) Result {
	res := Result{TakerID: takerID}

	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		_, err := loadTaker(ctx, tx, takerID, kind)
		return err
	})
	if err != nil {
		res.Err = err
		return res
	}

	for _, makerID := range makerIDs {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		var (
			fill      domain.Fill
			remaining int64
		)
		err := e.ledger.Update(ctx, func(tx domain.Tx) error {
			taker, err := loadTaker(ctx, tx, takerID, kind)
			if err != nil {
				return err
			}
			fill, err = e.fillOne(ctx, tx, &taker, makerID, e.now().UTC())
			remaining = taker.RemainingQuantity
			return err
		})
		if err != nil {
			res.Err = err
			return res
		}
		res.Fills = append(res.Fills, fill)
		if remaining == 0 {
			break
		}
	}
	return res
}

func (e *Engine) logItemError(ctx context.Context, batch string, index int, takerID uint64, err error) {
	attrs := []any{
		slog.String("batch", batch),
		slog.Int("index", index),
		slog.Uint64("taker_id", takerID),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, domain.ErrIntegrity) {
		e.logger.ErrorContext(ctx, "matching: integrity violation", attrs...)
		return
	}
	e.logger.WarnContext(ctx, "matching: instruction failed", attrs...)
}
