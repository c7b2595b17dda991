package orderbook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
)

func TestQuantityFor(t *testing.T) {
	q, err := orderbook.QuantityFor(domain.SideBuyYes, 200_000, 1_000_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), q)

	q, err = orderbook.QuantityFor(domain.SideBuyNo, 200_000, 1_010_000, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), q)

	_, err = orderbook.QuantityFor(domain.SideBuyNo, 200_000, 1_010_001, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	q, err = orderbook.QuantityFor(domain.SideSellNo, 200_000, 7, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), q)
}

func TestQuantityForInvertsBuyCost(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := rapid.Int64Range(1, domain.PriceDenominator-1).Draw(t, "price")
		qty := rapid.Int64Range(1, 1_000_000).Draw(t, "qty")
		bps := rapid.Int64Range(0, 1_000).Draw(t, "bps")

		value, err := orderbook.BuyCost(price, qty, bps)
		if err != nil {
			t.Fatalf("cost: %v", err)
		}
		got, err := orderbook.QuantityFor(domain.SideBuyYes, price, value, bps)
		if err != nil {
			t.Fatalf("quantity for %d: %v", value, err)
		}
		if got != qty {
			t.Fatalf("quantity %d, want %d", got, qty)
		}
	})
}

func TestApplyFillConsumesEscrow(t *testing.T) {
	now := time.Now()
	cost, err := orderbook.BuyCost(333_333, 3, 30)
	require.NoError(t, err)
	require.Equal(t, int64(999_999+2_999), cost)

	o := domain.Order{ID: 1, Side: domain.SideBuyYes, LimitPrice: 333_333, OriginalQuantity: 3, RemainingQuantity: 3, EscrowRemaining: cost, FeeBps: 30}
	var fees int64
	for i := 0; i < 3; i++ {
		amt, err := orderbook.ApplyFill(&o, 1, now)
		require.NoError(t, err)
		assert.Equal(t, int64(333_333), amt.Notional)
		fees += amt.Fee
	}
	assert.Equal(t, int64(2_999), fees)
	assert.Zero(t, o.EscrowRemaining)
	assert.Equal(t, domain.OrderStatusFilled, o.Status())

	_, err = orderbook.ApplyFill(&o, 1, now)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestFillCostSell(t *testing.T) {
	amt, err := orderbook.FillCost(domain.SideSellYes, 300_000, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1_400_000), amt.Notional)
	assert.Equal(t, int64(14_000), amt.Fee)
	assert.Equal(t, int64(1_386_000), amt.Proceeds)
	assert.Zero(t, amt.Debited)
}
