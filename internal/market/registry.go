// Package market defines markets, their outcome sets and trading windows, and
// records settlement ratios.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/access"
	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// Registry creates, settles and looks up markets.
type Registry struct {
	ledger domain.Ledger
	access access.Registry
	now    func() time.Time
}

// NewRegistry creates a market registry.
func NewRegistry(ledger domain.Ledger, reg access.Registry) *Registry {
	return &Registry{ledger: ledger, access: reg, now: time.Now}
}

// WithClock replaces the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// CreateMarket registers a market with a fixed outcome set and trading
// window. Outcome ids may belong to one market only.
func (r *Registry) CreateMarket(ctx context.Context, caller common.Address, id uint32, outcomes []domain.OutcomeID, start, end time.Time) (domain.Market, error) {
	if err := access.Require(r.access, access.RoleMarketAdmin, caller); err != nil {
		return domain.Market{}, fmt.Errorf("market: create: %w", err)
	}
	if !end.After(start) {
		return domain.Market{}, fmt.Errorf("market: create %d: %w", id, domain.ErrInvalidWindow)
	}
	set, err := domain.NewOutcomeSet(outcomes...)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: create %d: %w", id, err)
	}

	m := domain.Market{
		ID:        id,
		Outcomes:  set,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		CreatedAt: r.now().UTC(),
	}
	err = r.ledger.Update(ctx, func(tx domain.Tx) error {
		if _, err := tx.Market(ctx, id); err == nil {
			return domain.ErrDuplicateMarket
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		for _, o := range set.IDs() {
			other, err := tx.MarketByOutcome(ctx, o)
			if err == nil {
				return fmt.Errorf("%w: outcome %s belongs to market %d", domain.ErrInvalidOutcomes, o, other.ID)
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: create %d: %w", id, err)
	}
	return m, nil
}

// Settle records the payout ratio of each listed outcome. Unlisted outcomes
// pay zero. A market settles once, after its window has closed.
func (r *Registry) Settle(ctx context.Context, caller common.Address, id uint32, outcomes []domain.OutcomeID, numerators []int64, denominator int64) (domain.Market, error) {
	if err := access.Require(r.access, access.RoleResolver, caller); err != nil {
		return domain.Market{}, fmt.Errorf("market: settle: %w", err)
	}

	var out domain.Market
	err := r.ledger.Update(ctx, func(tx domain.Tx) error {
		m, err := tx.Market(ctx, id)
		if err != nil {
			return err
		}
		if m.Settled {
			return domain.ErrAlreadySettled
		}
		now := r.now().UTC()
		if now.Before(m.EndTime) {
			return fmt.Errorf("%w: window closes %s", domain.ErrTooEarly, m.EndTime.Format(time.RFC3339))
		}
		ratios, err := payoutRatios(m, outcomes, numerators, denominator)
		if err != nil {
			return err
		}
		m.Settled = true
		m.PayoutNumerators = ratios
		m.PayoutDenominator = denominator
		m.SettledAt = &now
		out = m
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: settle %d: %w", id, err)
	}
	return out, nil
}

func payoutRatios(m domain.Market, outcomes []domain.OutcomeID, numerators []int64, den int64) (map[domain.OutcomeID]int64, error) {
	if den <= 0 {
		return nil, fmt.Errorf("%w: denominator %d", domain.ErrInvalidPayout, den)
	}
	if len(outcomes) == 0 || len(outcomes) != len(numerators) {
		return nil, fmt.Errorf("%w: %d outcomes, %d numerators", domain.ErrInvalidPayout, len(outcomes), len(numerators))
	}
	ratios := make(map[domain.OutcomeID]int64, len(outcomes))
	for i, raw := range outcomes {
		v, err := raw.Uint256()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayout, err)
		}
		o := domain.OutcomeID(v.Dec())
		if !m.Outcomes.Contains(o) {
			return nil, fmt.Errorf("%w: outcome %s not in market %d", domain.ErrInvalidPayout, o, m.ID)
		}
		if _, dup := ratios[o]; dup {
			return nil, fmt.Errorf("%w: duplicate outcome %s", domain.ErrInvalidPayout, o)
		}
		if numerators[i] < 0 || numerators[i] > den {
			return nil, fmt.Errorf("%w: numerator %d of %d", domain.ErrInvalidPayout, numerators[i], den)
		}
		ratios[o] = numerators[i]
	}
	return ratios, nil
}

// Get returns one market.
func (r *Registry) Get(ctx context.Context, id uint32) (domain.Market, error) {
	var m domain.Market
	err := r.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		m, err = tx.Market(ctx, id)
		return err
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: get %d: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered by id.
func (r *Registry) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var ms []domain.Market
	err := r.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		ms, err = tx.Markets(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market: list: %w", err)
	}
	return ms, nil
}

// Tradable reports whether market id accepts orders and fills now.
func (r *Registry) Tradable(ctx context.Context, id uint32) (bool, error) {
	m, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return m.Tradable(r.now()), nil
}
