package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/claim"
	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// ClaimService pays settled positions.
type ClaimService struct {
	calc    *claim.Calculator
	markets *MarketService
	out     emitter
}

// NewClaimService creates a ClaimService. markets may be nil.
func NewClaimService(calc *claim.Calculator, markets *MarketService, out Outputs) *ClaimService {
	return &ClaimService{calc: calc, markets: markets, out: newEmitter(out, "claim_service")}
}

// Claim verifies a signed claim and pays it. A repeated claim pays zero.
func (s *ClaimService) Claim(ctx context.Context, in claim.Intent, sig []byte) (int64, error) {
	paid, err := s.calc.SignedClaim(ctx, in, sig)
	if err != nil {
		s.out.integrity(ctx, "claim", err)
		return 0, fmt.Errorf("claim_service: claim %d: %w", in.MarketID, err)
	}
	if paid > 0 {
		s.out.Metrics.Claim(paid)
		s.markets.Invalidate(ctx, in.MarketID)
	}
	s.out.publish(ctx, domain.ChannelClaims, "claim_paid", map[string]any{
		"market_id": in.MarketID,
		"owner":     in.Owner,
		"paid":      paid,
	})
	s.out.log.InfoContext(ctx, "claim_service: claim processed",
		slog.Int64("market_id", int64(in.MarketID)),
		slog.String("owner", in.Owner.Hex()),
		slog.Int64("paid", paid),
		slog.String("strategy", s.calc.Strategy().Name()),
	)
	return paid, nil
}

// Claimable previews what owner would receive without consuming anything.
func (s *ClaimService) Claimable(ctx context.Context, marketID uint32, owner common.Address) (int64, error) {
	v, err := s.calc.Claimable(ctx, marketID, owner)
	if err != nil {
		return 0, fmt.Errorf("claim_service: claimable %d: %w", marketID, err)
	}
	return v, nil
}
