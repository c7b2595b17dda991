package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// ReceiveShares credits qty shares of one token to owner and adds cost to the
// position's cost basis.
func ReceiveShares(ctx context.Context, tx domain.Tx, owner common.Address, marketID uint32, outcome domain.OutcomeID, yes bool, qty, cost int64, now time.Time) error {
	p, err := tx.Position(ctx, owner, outcome)
	if err != nil {
		return err
	}
	p.MarketID = marketID
	if yes {
		p.YesShares += qty
	} else {
		p.NoShares += qty
	}
	p.CostBasis += cost
	p.UpdatedAt = now
	return tx.PutPosition(ctx, p)
}

// Lock reserves qty free shares of one token against a resting sell.
func Lock(ctx context.Context, tx domain.Tx, owner common.Address, outcome domain.OutcomeID, yes bool, qty int64, now time.Time) error {
	p, err := tx.Position(ctx, owner, outcome)
	if err != nil {
		return err
	}
	if p.Free(yes) < qty {
		return fmt.Errorf("lock %d shares, %d free: %w", qty, p.Free(yes), domain.ErrInsufficientBalance)
	}
	if yes {
		p.LockedYes += qty
	} else {
		p.LockedNo += qty
	}
	p.UpdatedAt = now
	return tx.PutPosition(ctx, p)
}

// Unlock releases up to qty locked shares and returns how many were released.
func Unlock(ctx context.Context, tx domain.Tx, owner common.Address, outcome domain.OutcomeID, yes bool, qty int64, now time.Time) (int64, error) {
	p, err := tx.Position(ctx, owner, outcome)
	if err != nil {
		return 0, err
	}
	locked := &p.LockedNo
	if yes {
		locked = &p.LockedYes
	}
	n := min(*locked, qty)
	*locked -= n
	p.UpdatedAt = now
	return n, tx.PutPosition(ctx, p)
}

// ReleaseShares removes qty sold shares from owner. Locked shares are
// consumed when fromLock is set, free shares otherwise. Cost basis shrinks in
// proportion to the shares leaving the position.
func ReleaseShares(ctx context.Context, tx domain.Tx, owner common.Address, outcome domain.OutcomeID, yes, fromLock bool, qty int64, now time.Time) error {
	p, err := tx.Position(ctx, owner, outcome)
	if err != nil {
		return err
	}
	held := p.YesShares + p.NoShares
	if fromLock {
		locked := &p.LockedNo
		if yes {
			locked = &p.LockedYes
		}
		if *locked < qty {
			return fmt.Errorf("release %d shares, %d locked: %w", qty, *locked, domain.ErrIntegrity)
		}
		*locked -= qty
	} else if p.Free(yes) < qty {
		return fmt.Errorf("sell %d shares, %d free: %w", qty, p.Free(yes), domain.ErrInsufficientBalance)
	}
	if yes {
		p.YesShares -= qty
	} else {
		p.NoShares -= qty
	}
	if held > 0 {
		p.CostBasis -= mulDiv(p.CostBasis, qty, held)
	}
	p.UpdatedAt = now
	if !p.Valid() {
		return fmt.Errorf("position %s/%s: %w", owner.Hex(), outcome, domain.ErrIntegrity)
	}
	return tx.PutPosition(ctx, p)
}
