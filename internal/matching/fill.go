package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/outcomebook/internal/collateral"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
)

// loadMaker returns a resting order that can still be filled.
func loadMaker(ctx context.Context, tx domain.Tx, id uint64) (domain.Order, error) {
	o, err := tx.Order(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, fmt.Errorf("maker %d: %w", id, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.Order{}, err
	}
	if !o.Matchable() || o.Kind != domain.OrderKindLimit {
		return domain.Order{}, fmt.Errorf("maker %d %s: %w", id, o.Status(), domain.ErrOrderClosed)
	}
	return o, nil
}

// loadTaker returns the driving order of an instruction.
func loadTaker(ctx context.Context, tx domain.Tx, id uint64, kind domain.OrderKind) (domain.Order, error) {
	o, err := tx.Order(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, fmt.Errorf("taker %d: %w", id, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.Order{}, err
	}
	if !o.Matchable() || o.Kind != kind {
		return domain.Order{}, fmt.Errorf("taker %d %s: %w", id, o.Status(), domain.ErrOrderClosed)
	}
	return o, nil
}

// fillOne matches taker against one maker inside tx. The taker is updated
// in place and persisted along with the maker, both positions, balances, the
// fee account, the market pool and the fill record.
func (e *Engine) fillOne(ctx context.Context, tx domain.Tx, taker *domain.Order, makerID uint64, now time.Time) (domain.Fill, error) {
	maker, err := loadMaker(ctx, tx, makerID)
	if err != nil {
		return domain.Fill{}, err
	}
	if maker.OutcomeID != taker.OutcomeID || !taker.Side.Opposes(maker.Side) {
		return domain.Fill{}, fmt.Errorf("taker %d %s vs maker %d %s: %w",
			taker.ID, taker.Side, maker.ID, maker.Side, domain.ErrIncompatibleSides)
	}

	takerPrice := taker.LimitPrice
	if taker.Kind == domain.OrderKindMarket {
		takerPrice = domain.PriceDenominator - maker.LimitPrice
	}
	if takerPrice+maker.LimitPrice != domain.PriceDenominator {
		return domain.Fill{}, fmt.Errorf("taker %d at %d vs maker %d at %d: %w",
			taker.ID, takerPrice, maker.ID, maker.LimitPrice, domain.ErrPriceMismatch)
	}

	m, err := tx.Market(ctx, maker.MarketID)
	if err != nil {
		return domain.Fill{}, err
	}
	if !m.Tradable(now) {
		return domain.Fill{}, fmt.Errorf("market %d: %w", m.ID, domain.ErrMarketClosed)
	}

	qty := min(taker.RemainingQuantity, maker.RemainingQuantity)

	var takerAmt orderbook.FillAmounts
	if taker.Kind == domain.OrderKindMarket {
		takerAmt, err = e.fillMarketTaker(ctx, tx, taker, takerPrice, qty, now)
	} else {
		takerAmt, err = orderbook.ApplyFill(taker, qty, now)
	}
	if err != nil {
		return domain.Fill{}, err
	}
	makerAmt, err := orderbook.ApplyFill(&maker, qty, now)
	if err != nil {
		return domain.Fill{}, err
	}

	if err := settleSide(ctx, tx, taker, m.ID, takerAmt, qty, taker.Kind == domain.OrderKindLimit, now); err != nil {
		return domain.Fill{}, err
	}
	if err := settleSide(ctx, tx, &maker, m.ID, makerAmt, qty, true, now); err != nil {
		return domain.Fill{}, err
	}

	kind := domain.FillKindOf(taker.Side, maker.Side)
	var poolDelta int64
	switch kind {
	case domain.FillKindMint:
		poolDelta = domain.PriceDenominator * qty
	case domain.FillKindMerge:
		poolDelta = -domain.PriceDenominator * qty
	}
	fees := takerAmt.Fee + makerAmt.Fee
	debited := takerAmt.Debited + makerAmt.Debited
	if debited != takerAmt.Proceeds+makerAmt.Proceeds+fees+poolDelta {
		return domain.Fill{}, fmt.Errorf("fill %d/%d debited %d, paid %d, fees %d, pool %+d: %w",
			taker.ID, maker.ID, debited, takerAmt.Proceeds+makerAmt.Proceeds, fees, poolDelta, domain.ErrIntegrity)
	}

	m.CollateralPool += poolDelta
	if m.CollateralPool < 0 {
		return domain.Fill{}, fmt.Errorf("market %d pool %d: %w", m.ID, m.CollateralPool, domain.ErrIntegrity)
	}
	if err := tx.PutMarket(ctx, m); err != nil {
		return domain.Fill{}, err
	}

	p, err := tx.Platform(ctx)
	if err != nil {
		return domain.Fill{}, err
	}
	p.FeeBalance += fees
	p.UpdatedAt = now
	if err := tx.PutPlatform(ctx, p); err != nil {
		return domain.Fill{}, err
	}
	if err := collateral.CheckInvariant(ctx, tx); err != nil {
		return domain.Fill{}, err
	}

	if err := tx.PutOrder(ctx, *taker); err != nil {
		return domain.Fill{}, err
	}
	if err := tx.PutOrder(ctx, maker); err != nil {
		return domain.Fill{}, err
	}
	f := domain.Fill{
		ID:           uuid.NewString(),
		MarketID:     m.ID,
		OutcomeID:    maker.OutcomeID,
		TakerOrderID: taker.ID,
		MakerOrderID: maker.ID,
		TakerOwner:   taker.Owner,
		MakerOwner:   maker.Owner,
		TakerSide:    taker.Side,
		MakerSide:    maker.Side,
		Quantity:     qty,
		TakerPrice:   takerPrice,
		MakerPrice:   maker.LimitPrice,
		Fee:          fees,
		Kind:         kind,
		CreatedAt:    now,
	}
	if err := tx.AppendFill(ctx, f); err != nil {
		return domain.Fill{}, err
	}
	return f, nil
}

// fillMarketTaker prices a non-resting taker's share of a fill. Buys pay
// from free credit at fill time; sells give up free shares in settleSide.
func (e *Engine) fillMarketTaker(ctx context.Context, tx domain.Tx, taker *domain.Order, price, qty int64, now time.Time) (orderbook.FillAmounts, error) {
	if qty <= 0 || qty > taker.RemainingQuantity {
		return orderbook.FillAmounts{}, fmt.Errorf("fill %d of remaining %d: %w", qty, taker.RemainingQuantity, domain.ErrIntegrity)
	}
	amt, err := orderbook.FillCost(taker.Side, price, qty, taker.FeeBps)
	if err != nil {
		return orderbook.FillAmounts{}, err
	}
	if taker.Side.IsBuy() {
		if err := collateral.Debit(ctx, tx, taker.Owner, amt.Debited, now); err != nil {
			return orderbook.FillAmounts{}, err
		}
	}
	taker.RemainingQuantity -= qty
	taker.UpdatedAt = now
	return amt, nil
}

// settleSide moves shares and sale proceeds for one order of a fill.
func settleSide(ctx context.Context, tx domain.Tx, o *domain.Order, marketID uint32, amt orderbook.FillAmounts, qty int64, fromLock bool, now time.Time) error {
	yes := o.Side.Token()
	if o.Side.IsBuy() {
		return orderbook.ReceiveShares(ctx, tx, o.Owner, marketID, o.OutcomeID, yes, qty, amt.Notional, now)
	}
	if err := orderbook.ReleaseShares(ctx, tx, o.Owner, o.OutcomeID, yes, fromLock, qty, now); err != nil {
		return err
	}
	return collateral.Credit(ctx, tx, o.Owner, amt.Proceeds, now)
}
