// Package claim turns settled positions into credit, once per owner and
// market.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/collateral"
	"github.com/alanyoungcy/outcomebook/internal/crypto"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
)

// Intent is a signed claim request. MarketID is the event id of the signed
// message.
type Intent struct {
	MarketID uint32         `json:"market_id"`
	Owner    common.Address `json:"owner"`
}

// Message returns the digest the authorizer signs for this claim.
func (in Intent) Message(book common.Address) []byte {
	return crypto.ClaimMessage(book, in.Owner, in.MarketID)
}

// Calculator computes and pays claims.
type Calculator struct {
	ledger   domain.Ledger
	book     *orderbook.Book
	strategy PayoutStrategy
	now      func() time.Time
}

// NewCalculator creates a claim calculator. book supplies the signature
// check for signed claims.
func NewCalculator(ledger domain.Ledger, book *orderbook.Book, strategy PayoutStrategy) *Calculator {
	if strategy == nil {
		strategy = ComplementaryPair{}
	}
	return &Calculator{ledger: ledger, book: book, strategy: strategy, now: time.Now}
}

// WithClock replaces the time source.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Strategy returns the payout strategy in use.
func (c *Calculator) Strategy() PayoutStrategy { return c.strategy }

// SignedClaim verifies the authorizer signature over the claim and pays it.
func (c *Calculator) SignedClaim(ctx context.Context, in Intent, sig []byte) (int64, error) {
	if err := c.book.Verify(in.Message(c.book.Config().Book), sig); err != nil {
		return 0, fmt.Errorf("claim: %d/%s: %w", in.MarketID, in.Owner.Hex(), err)
	}
	return c.ComputeClaim(ctx, in.MarketID, in.Owner)
}

// ComputeClaim pays owner's settled positions in marketID, zeroes them and
// marks the claim consumed. Later calls return zero without changing state.
func (c *Calculator) ComputeClaim(ctx context.Context, marketID uint32, owner common.Address) (int64, error) {
	var paid int64
	err := c.ledger.Update(ctx, func(tx domain.Tx) error {
		m, err := tx.Market(ctx, marketID)
		if err != nil {
			return err
		}
		if !m.Settled {
			return domain.ErrNotSettled
		}
		rec, err := tx.Claim(ctx, marketID, owner)
		if err != nil {
			return err
		}
		if rec.Consumed {
			return nil
		}
		positions, err := tx.PositionsByOwner(ctx, owner, marketID)
		if err != nil {
			return err
		}
		total, err := c.value(m, positions)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		for _, p := range positions {
			p.YesShares, p.NoShares, p.LockedYes, p.LockedNo, p.CostBasis = 0, 0, 0, 0, 0
			p.UpdatedAt = now
			if err := tx.PutPosition(ctx, p); err != nil {
				return err
			}
		}
		if total > m.CollateralPool {
			return fmt.Errorf("payout %d exceeds pool %d of market %d: %w", total, m.CollateralPool, m.ID, domain.ErrIntegrity)
		}
		m.CollateralPool -= total
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if err := collateral.Credit(ctx, tx, owner, total, now); err != nil {
			return err
		}

		rec.Consumed = true
		rec.PaidAmount += total
		rec.ClaimedAt = now
		if err := tx.PutClaim(ctx, rec); err != nil {
			return err
		}
		paid = total
		return collateral.CheckInvariant(ctx, tx)
	})
	if err != nil {
		return 0, fmt.Errorf("claim: %d/%s: %w", marketID, owner.Hex(), err)
	}
	return paid, nil
}

// Claimable previews what ComputeClaim would pay now.
func (c *Calculator) Claimable(ctx context.Context, marketID uint32, owner common.Address) (int64, error) {
	var total int64
	err := c.ledger.View(ctx, func(tx domain.Tx) error {
		m, err := tx.Market(ctx, marketID)
		if err != nil {
			return err
		}
		if !m.Settled {
			return domain.ErrNotSettled
		}
		rec, err := tx.Claim(ctx, marketID, owner)
		if err != nil {
			return err
		}
		if rec.Consumed {
			return nil
		}
		positions, err := tx.PositionsByOwner(ctx, owner, marketID)
		if err != nil {
			return err
		}
		total, err = c.value(m, positions)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim: preview %d/%s: %w", marketID, owner.Hex(), err)
	}
	return total, nil
}

func (c *Calculator) value(m domain.Market, positions []domain.Position) (int64, error) {
	var total int64
	for _, p := range positions {
		num, den := m.PayoutRatio(p.OutcomeID)
		v, err := c.strategy.Payout(p, num, den)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}
