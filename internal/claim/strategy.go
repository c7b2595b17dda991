package claim

import (
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// PayoutStrategy values a settled position.
type PayoutStrategy interface {
	Name() string
	Payout(p domain.Position, num, den int64) (int64, error)
}

// ComplementaryPair pays Yes holders D*num/den and No holders D*(den-num)/den
// per share, so a Yes/No pair never pays more than the D it was minted for.
type ComplementaryPair struct{}

func (ComplementaryPair) Name() string { return "complementary_pair" }

func (ComplementaryPair) Payout(p domain.Position, num, den int64) (int64, error) {
	yes, err := shareValue(p.YesShares, num, den)
	if err != nil {
		return 0, err
	}
	no, err := shareValue(p.NoShares, den-num, den)
	if err != nil {
		return 0, err
	}
	if yes > math.MaxInt64-no {
		return 0, fmt.Errorf("claim: payout overflow: %w", domain.ErrIntegrity)
	}
	return yes + no, nil
}

// SingleTicket pays only Yes shares; No shares expire worthless.
type SingleTicket struct{}

func (SingleTicket) Name() string { return "single_ticket" }

func (SingleTicket) Payout(p domain.Position, num, den int64) (int64, error) {
	return shareValue(p.YesShares, num, den)
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) (PayoutStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "complementary_pair":
		return ComplementaryPair{}, nil
	case "single_ticket":
		return SingleTicket{}, nil
	default:
		return nil, fmt.Errorf("claim: unknown payout strategy %q", name)
	}
}

// shareValue returns floor(shares * D * num / den).
func shareValue(shares, num, den int64) (int64, error) {
	if shares < 0 || num < 0 || den <= 0 || num > den {
		return 0, fmt.Errorf("claim: value %d shares at %d/%d: %w", shares, num, den, domain.ErrIntegrity)
	}
	if shares == 0 || num == 0 {
		return 0, nil
	}
	x := new(uint256.Int).Mul(uint256.NewInt(uint64(shares)), uint256.NewInt(uint64(domain.PriceDenominator)))
	v, overflow := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(uint64(num)), uint256.NewInt(uint64(den)))
	if overflow || !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("claim: payout overflow: %w", domain.ErrIntegrity)
	}
	return int64(v.Uint64()), nil
}
