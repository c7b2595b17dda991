package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcomebook/internal/collateral"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/notify"
)

// AccountView is an account with its usage in the current window.
type AccountView struct {
	domain.CollateralAccount
	DailyUsage int64 `json:"daily_usage"`
}

// CollateralService moves credit in and out of the system.
type CollateralService struct {
	engine *collateral.Engine
	out    emitter
}

// NewCollateralService creates a CollateralService.
func NewCollateralService(engine *collateral.Engine, out Outputs) *CollateralService {
	return &CollateralService{engine: engine, out: newEmitter(out, "collateral_service")}
}

// Deposit converts backing-asset units to credits for owner.
func (s *CollateralService) Deposit(ctx context.Context, owner common.Address, asset *uint256.Int) (int64, error) {
	credits, err := s.engine.Deposit(ctx, owner, asset)
	if err != nil {
		s.out.integrity(ctx, "deposit", err)
		return 0, fmt.Errorf("collateral_service: deposit: %w", err)
	}
	s.out.publish(ctx, domain.ChannelCollateral, "deposit", map[string]any{
		"owner":   owner,
		"asset":   asset.Dec(),
		"credits": credits,
	})
	s.out.log.InfoContext(ctx, "collateral_service: deposit",
		slog.String("owner", owner.Hex()),
		slog.Int64("credits", credits),
	)
	return credits, nil
}

// Withdraw burns credits and returns the backing-asset amount released.
func (s *CollateralService) Withdraw(ctx context.Context, owner common.Address, credits int64) (*uint256.Int, error) {
	asset, err := s.engine.Withdraw(ctx, owner, credits)
	if err != nil {
		s.out.integrity(ctx, "withdraw", err)
		return nil, fmt.Errorf("collateral_service: withdraw: %w", err)
	}
	s.out.publish(ctx, domain.ChannelCollateral, "withdraw", map[string]any{
		"owner":   owner,
		"asset":   asset.Dec(),
		"credits": credits,
	})
	s.out.log.InfoContext(ctx, "collateral_service: withdraw",
		slog.String("owner", owner.Hex()),
		slog.Int64("credits", credits),
	)
	return asset, nil
}

// Topup mints house liquidity into the leverage reserve.
func (s *CollateralService) Topup(ctx context.Context, caller common.Address, credits int64) (domain.PlatformState, error) {
	p, err := s.engine.TopupSystem(ctx, caller, credits)
	if err != nil {
		return domain.PlatformState{}, fmt.Errorf("collateral_service: topup: %w", err)
	}
	s.out.record(ctx, "collateral.topup", map[string]any{
		"caller":  caller.Hex(),
		"credits": credits,
		"reserve": p.LeverageReserve,
	})
	s.out.alert(ctx, notify.EventTopup, "system topup",
		fmt.Sprintf("%s minted %d credits, reserve now %d", caller.Hex(), credits, p.LeverageReserve))
	s.out.publish(ctx, domain.ChannelCollateral, "topup", p)
	return p, nil
}

// SetExcluded toggles owner's exemption from the daily cap.
func (s *CollateralService) SetExcluded(ctx context.Context, caller, owner common.Address, excluded bool) error {
	if err := s.engine.SetExcluded(ctx, caller, owner, excluded); err != nil {
		return fmt.Errorf("collateral_service: set excluded: %w", err)
	}
	s.out.record(ctx, "collateral.excluded", map[string]any{
		"caller":   caller.Hex(),
		"owner":    owner.Hex(),
		"excluded": excluded,
	})
	return nil
}

// Account returns owner's balance and current daily usage.
func (s *CollateralService) Account(ctx context.Context, owner common.Address) (AccountView, error) {
	a, err := s.engine.Balance(ctx, owner)
	if err != nil {
		return AccountView{}, fmt.Errorf("collateral_service: account: %w", err)
	}
	used, err := s.engine.DailyUsage(ctx, owner)
	if err != nil {
		return AccountView{}, fmt.Errorf("collateral_service: account: %w", err)
	}
	return AccountView{CollateralAccount: a, DailyUsage: used}, nil
}

// Platform returns the aggregate counters.
func (s *CollateralService) Platform(ctx context.Context) (domain.PlatformState, error) {
	p, err := s.engine.Platform(ctx)
	if err != nil {
		return domain.PlatformState{}, fmt.Errorf("collateral_service: platform: %w", err)
	}
	return p, nil
}
