package leverage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/exchangetest"
	"github.com/alanyoungcy/outcomebook/internal/leverage"
)

func TestPnL(t *testing.T) {
	pos := domain.LeveragedPosition{ID: 1, Value: 1_000_000, Leverage: 2 * leverage.Denominator, EntryPrice: 100, IsLong: true}

	pnl, err := leverage.PnL(pos, 110)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), pnl)

	pnl, err = leverage.PnL(pos, 95)
	require.NoError(t, err)
	assert.Equal(t, int64(-100_000), pnl)

	pos.IsLong = false
	pnl, err = leverage.PnL(pos, 110)
	require.NoError(t, err)
	assert.Equal(t, int64(-200_000), pnl)

	pnl, err = leverage.PnL(pos, 100)
	require.NoError(t, err)
	assert.Zero(t, pnl)

	// losses never exceed the stake
	pos = domain.LeveragedPosition{ID: 2, Value: 1_000_000, Leverage: 10 * leverage.Denominator, EntryPrice: 100, IsLong: true}
	pnl, err = leverage.PnL(pos, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(-1_000_000), pnl)

	_, err = leverage.PnL(pos, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestOpenBatch(t *testing.T) {
	t.Run("opens and debits", testOpen)
	t.Run("requires batcher role", testOpenForbidden)
	t.Run("isolates failing items", testOpenIsolation)
	t.Run("counts against daily cap", testOpenDailyCap)
}

func testOpen(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.Fund(t, exchangetest.X, 5_000_000)

	res, err := x.Leverage.OpenBatch(ctx, exchangetest.LevBatcher, []leverage.OpenItem{
		{ID: 7, Account: exchangetest.X, PoolID: "btc-usd", Value: 2_000_000, Leverage: 3 * leverage.Denominator, Price: 60_000, IsLong: true},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.True(t, res[0].Position.Open)
	assert.Equal(t, int64(3_000_000), x.Balance(t, exchangetest.X))

	pos, err := x.Leverage.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "btc-usd", pos.PoolID)
	assert.Equal(t, int64(60_000), pos.EntryPrice)
}

func testOpenForbidden(t *testing.T) {
	x := exchangetest.New(t, exchangetest.Options{})
	x.Fund(t, exchangetest.X, 5_000_000)
	_, err := x.Leverage.OpenBatch(context.Background(), exchangetest.Batcher, []leverage.OpenItem{
		{ID: 1, Account: exchangetest.X, Value: 1, Leverage: leverage.Denominator, Price: 1},
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, int64(5_000_000), x.Balance(t, exchangetest.X))
}

func testOpenIsolation(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{MaxLeverage: 10 * leverage.Denominator})
	x.Fund(t, exchangetest.X, 5_000_000)

	res, err := x.Leverage.OpenBatch(ctx, exchangetest.LevBatcher, []leverage.OpenItem{
		{ID: 1, Account: exchangetest.X, Value: 1_000_000, Leverage: leverage.Denominator, Price: 100, IsLong: true},
		{ID: 2, Account: exchangetest.X, Value: 1_000_000, Leverage: 20 * leverage.Denominator, Price: 100},
		{ID: 1, Account: exchangetest.X, Value: 1_000_000, Leverage: leverage.Denominator, Price: 100},
		{ID: 3, Account: exchangetest.Y, Value: 1_000_000, Leverage: leverage.Denominator, Price: 100},
		{ID: 4, Account: exchangetest.X, Value: 0, Leverage: leverage.Denominator, Price: 100},
		{ID: 5, Account: exchangetest.X, Value: 1_000_000, Leverage: leverage.Denominator, Price: 100},
	})
	require.NoError(t, err)
	require.Len(t, res, 6)
	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, domain.ErrInvalidAmount)
	assert.ErrorIs(t, res[2].Err, domain.ErrDuplicateOrder)
	assert.ErrorIs(t, res[3].Err, domain.ErrInsufficientBalance)
	assert.ErrorIs(t, res[4].Err, domain.ErrInvalidAmount)
	assert.NoError(t, res[5].Err)
	assert.Equal(t, int64(3_000_000), x.Balance(t, exchangetest.X))
}

func testOpenDailyCap(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{DailyCap: 1_500_000})
	x.Fund(t, exchangetest.X, 5_000_000)
	item := func(id uint64) []leverage.OpenItem {
		return []leverage.OpenItem{{ID: id, Account: exchangetest.X, Value: 1_000_000, Leverage: leverage.Denominator, Price: 100, IsLong: true}}
	}

	res, err := x.Leverage.OpenBatch(ctx, exchangetest.LevBatcher, item(1))
	require.NoError(t, err)
	require.NoError(t, res[0].Err)

	res, err = x.Leverage.OpenBatch(ctx, exchangetest.LevBatcher, item(2))
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, domain.ErrDailyLimitExceeded)

	x.Clock.Advance(24 * time.Hour)
	res, err = x.Leverage.OpenBatch(ctx, exchangetest.LevBatcher, item(2))
	require.NoError(t, err)
	assert.NoError(t, res[0].Err)
}

func TestCloseBatch(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.Fund(t, exchangetest.X, 5_000_000)
	_, err := x.Leverage.OpenBatch(ctx, exchangetest.LevBatcher, []leverage.OpenItem{
		{ID: 1, Account: exchangetest.X, Value: 1_000_000, Leverage: 2 * leverage.Denominator, Price: 100, IsLong: true},
		{ID: 2, Account: exchangetest.X, Value: 1_000_000, Leverage: 2 * leverage.Denominator, Price: 100, IsLong: true},
	})
	require.NoError(t, err)

	// no reserve yet: the winning position cannot be paid
	res, err := x.Leverage.CloseBatch(ctx, exchangetest.LevBatcher, []leverage.CloseItem{{ID: 1, Price: 120}})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, domain.ErrInsufficientLiquidity)
	pos, err := x.Leverage.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, pos.Open)

	// a loss feeds the reserve, which then pays the profit
	res, err = x.Leverage.CloseBatch(ctx, exchangetest.LevBatcher, []leverage.CloseItem{{ID: 2, Price: 80}, {ID: 1, Price: 110}})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)
	require.NoError(t, res[1].Err)
	assert.Equal(t, int64(-400_000), res[0].Position.PnL)
	assert.Equal(t, int64(200_000), res[1].Position.PnL)
	assert.Equal(t, int64(5_000_000-400_000+200_000), x.Balance(t, exchangetest.X))
	assert.Equal(t, int64(200_000), x.Platform(t).LeverageReserve)

	res, err = x.Leverage.CloseBatch(ctx, exchangetest.LevBatcher, []leverage.CloseItem{{ID: 1, Price: 110}, {ID: 9, Price: 110}})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, domain.ErrOrderClosed)
	assert.ErrorIs(t, res[1].Err, domain.ErrNotFound)

	p := x.Platform(t)
	assert.Equal(t, p.PlatformCredit+p.NetUserDeposits, x.Holdings(t))
}

func TestFund(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})

	_, err := x.Leverage.Fund(ctx, exchangetest.X, 1_000_000)
	require.ErrorIs(t, err, domain.ErrForbidden)

	p, err := x.Leverage.Fund(ctx, exchangetest.Treasury, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), p.LeverageReserve)
	assert.Equal(t, int64(1_000_000), p.PlatformCredit)

	x.Fund(t, exchangetest.X, 1_000_000)
	_, err = x.Leverage.OpenBatch(ctx, exchangetest.LevBatcher, []leverage.OpenItem{
		{ID: 1, Account: exchangetest.X, Value: 1_000_000, Leverage: 5 * leverage.Denominator, Price: 100},
	})
	require.NoError(t, err)
	res, err := x.Leverage.CloseBatch(ctx, exchangetest.LevBatcher, []leverage.CloseItem{{ID: 1, Price: 90}})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)
	assert.Equal(t, int64(500_000), res[0].Position.PnL)
	assert.Equal(t, int64(1_500_000), x.Balance(t, exchangetest.X))
	assert.Equal(t, int64(500_000), x.Platform(t).LeverageReserve)
}
