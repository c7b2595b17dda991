package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/market"
	"github.com/alanyoungcy/outcomebook/internal/notify"
)

// MarketService wraps the registry with a read-through snapshot cache.
type MarketService struct {
	registry *market.Registry
	cache    domain.MarketCache
	out      emitter
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(registry *market.Registry, cache domain.MarketCache, out Outputs) *MarketService {
	return &MarketService{registry: registry, cache: cache, out: newEmitter(out, "market_service")}
}

// Create registers a market.
func (s *MarketService) Create(ctx context.Context, caller common.Address, id uint32, outcomes []domain.OutcomeID, start, end time.Time) (domain.Market, error) {
	m, err := s.registry.CreateMarket(ctx, caller, id, outcomes, start, end)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create %d: %w", id, err)
	}

	s.out.publish(ctx, domain.ChannelMarkets, "market_created", m)
	s.out.record(ctx, "market.created", map[string]any{
		"market_id": id,
		"caller":    caller.Hex(),
		"outcomes":  m.Outcomes.IDs(),
		"start":     m.StartTime,
		"end":       m.EndTime,
	})
	s.out.alert(ctx, notify.EventMarketCreated, "market created",
		fmt.Sprintf("market %d with %d outcomes, trading until %s", id, m.Outcomes.Len(), m.EndTime.Format(time.RFC3339)))
	s.out.log.InfoContext(ctx, "market_service: market created",
		slog.Int64("market_id", int64(id)),
		slog.Int("outcomes", m.Outcomes.Len()),
	)
	return m, nil
}

// Settle records the payout ratio and drops the cached snapshot.
func (s *MarketService) Settle(ctx context.Context, caller common.Address, id uint32, outcomes []domain.OutcomeID, numerators []int64, denominator int64) (domain.Market, error) {
	m, err := s.registry.Settle(ctx, caller, id, outcomes, numerators, denominator)
	if err != nil {
		s.out.integrity(ctx, "settle", err)
		return domain.Market{}, fmt.Errorf("market_service: settle %d: %w", id, err)
	}
	s.Invalidate(ctx, id)

	s.out.publish(ctx, domain.ChannelMarkets, "market_settled", m)
	s.out.record(ctx, "market.settled", map[string]any{
		"market_id":   id,
		"caller":      caller.Hex(),
		"numerators":  m.PayoutNumerators,
		"denominator": m.PayoutDenominator,
	})
	winner, _ := m.WinningOutcome()
	s.out.alert(ctx, notify.EventMarketSettled, "market settled",
		fmt.Sprintf("market %d settled, leading outcome %s, pool %d", id, winner, m.CollateralPool))
	s.out.log.InfoContext(ctx, "market_service: market settled",
		slog.Int64("market_id", int64(id)),
		slog.String("winner", string(winner)),
	)
	return m, nil
}

// Get returns a market, from the cache when possible.
func (s *MarketService) Get(ctx context.Context, id uint32) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.registry.Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %d: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.out.log.WarnContext(ctx, "market_service: cache set failed",
				slog.Int64("market_id", int64(id)),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// List returns markets by id from the ledger.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.registry.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Invalidate drops the cached snapshot of id. Fills and claims move the
// collateral pool, so batch and claim services call it too.
func (s *MarketService) Invalidate(ctx context.Context, id uint32) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.out.log.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.Int64("market_id", int64(id)),
			slog.String("error", err.Error()),
		)
	}
}
