package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the single consistent state store. Update runs fn inside one
// atomic, serialized transaction: either every write made through the Tx
// commits or none does. View runs fn against a consistent read snapshot;
// writes through a View Tx fail.
type Ledger interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the persisted tables inside a ledger transaction. Getters for
// keyed records that may legitimately be absent (positions, accounts,
// claims) return the zero record instead of ErrNotFound.
type Tx interface {
	Order(ctx context.Context, id uint64) (Order, error)
	PutOrder(ctx context.Context, o Order) error
	OrdersByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]Order, error)
	OrdersByMarket(ctx context.Context, marketID uint32) ([]Order, error)

	Position(ctx context.Context, owner common.Address, outcome OutcomeID) (Position, error)
	PutPosition(ctx context.Context, p Position) error
	PositionsByOwner(ctx context.Context, owner common.Address, marketID uint32) ([]Position, error)

	Account(ctx context.Context, owner common.Address) (CollateralAccount, error)
	PutAccount(ctx context.Context, a CollateralAccount) error

	Market(ctx context.Context, id uint32) (Market, error)
	MarketByOutcome(ctx context.Context, outcome OutcomeID) (Market, error)
	Markets(ctx context.Context, opts ListOpts) ([]Market, error)
	PutMarket(ctx context.Context, m Market) error

	Claim(ctx context.Context, marketID uint32, owner common.Address) (ClaimRecord, error)
	PutClaim(ctx context.Context, c ClaimRecord) error

	Platform(ctx context.Context) (PlatformState, error)
	PutPlatform(ctx context.Context, p PlatformState) error

	AppendFill(ctx context.Context, f Fill) error
	FillsByMarket(ctx context.Context, marketID uint32) ([]Fill, error)

	LeveragedPosition(ctx context.Context, id uint64) (LeveragedPosition, error)
	PutLeveragedPosition(ctx context.Context, p LeveragedPosition) error
}
