package orderbook_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/crypto"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/exchangetest"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
)

const outcomeA domain.OutcomeID = "1"

func TestSubmit(t *testing.T) {
	t.Run("buy escrows its value", testSubmitBuy)
	t.Run("rejects bad signature", testSubmitBadSignature)
	t.Run("rejects bad parameters", testSubmitBadParams)
	t.Run("rejects closed markets", testSubmitMarketClosed)
	t.Run("rejects duplicate id", testSubmitDuplicate)
	t.Run("insufficient balance leaves state untouched", testSubmitInsufficient)
	t.Run("sell locks shares", testSubmitSellLocks)
}

func testSubmitBuy(t *testing.T) {
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA, "2")
	x.Fund(t, exchangetest.X, 1_000_000)

	o := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 5)
	assert.Equal(t, int64(5), o.OriginalQuantity)
	assert.Equal(t, int64(1_000_000), o.EscrowRemaining)
	assert.Equal(t, uint32(1), o.MarketID)
	assert.Equal(t, domain.OrderStatusOpen, o.Status())
	assert.Zero(t, x.Balance(t, exchangetest.X))
}

func testSubmitBadSignature(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 1_000_000)

	in := x.Intent(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 5)
	sig := x.SignIntent(t, in)
	in.Price = 100_000
	in.Value = 500_000
	_, err := x.Book.Submit(ctx, in, sig)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	other, err := crypto.NewSigner("8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63")
	require.NoError(t, err)
	msg, _ := in.Message(exchangetest.BookAddress)
	forged, err := other.Sign(msg)
	require.NoError(t, err)
	_, err = x.Book.Submit(ctx, in, forged)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.Equal(t, int64(1_000_000), x.Balance(t, exchangetest.X))
}

func testSubmitBadParams(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{FeeBps: 100})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 10_000_000)

	cases := []struct {
		name  string
		price int64
		value int64
	}{
		{"zero price", 0, 1_000},
		{"price at denominator", domain.PriceDenominator, 1_000_000},
		{"zero value", 200_000, 0},
		{"value not exact with fee", 200_000, 1_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := orderbook.Intent{OrderID: x.NextID(), Owner: exchangetest.X, Side: domain.SideBuyYes, OutcomeID: outcomeA, Price: tc.price, Value: tc.value}
			_, err := x.Book.Submit(ctx, in, x.SignIntent(t, in))
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
}

func testSubmitMarketClosed(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 10_000_000)

	in := x.Intent(t, exchangetest.X, domain.SideBuyYes, "99", 200_000, 1)
	_, err := x.Book.Submit(ctx, in, x.SignIntent(t, in))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	x.Clock.Advance(31 * 24 * time.Hour)
	in = x.Intent(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 1)
	_, err = x.Book.Submit(ctx, in, x.SignIntent(t, in))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func testSubmitDuplicate(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 10_000_000)

	in := x.Intent(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 1)
	_, err := x.Book.Submit(ctx, in, x.SignIntent(t, in))
	require.NoError(t, err)
	_, err = x.Book.Submit(ctx, in, x.SignIntent(t, in))
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.Equal(t, int64(9_800_000), x.Balance(t, exchangetest.X))
}

func testSubmitInsufficient(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 999_999)

	in := x.Intent(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 5)
	_, err := x.Book.Submit(ctx, in, x.SignIntent(t, in))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, int64(999_999), x.Balance(t, exchangetest.X))
	_, err = x.Book.Get(ctx, in.OrderID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func testSubmitSellLocks(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 1_000_000)
	x.Fund(t, exchangetest.Y, 4_000_000)

	in := x.Intent(t, exchangetest.X, domain.SideSellYes, outcomeA, 700_000, 1)
	_, err := x.Book.Submit(ctx, in, x.SignIntent(t, in))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// mint 5 pairs, then X may sell its Yes shares once
	buy := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 5)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 800_000, 5)
	require.NoError(t, x.Match(t, buy.ID, no.ID).Err)

	sell := x.Place(t, exchangetest.X, domain.SideSellYes, outcomeA, 700_000, 4)
	p := x.Position(t, exchangetest.X, outcomeA)
	assert.Equal(t, int64(5), p.YesShares)
	assert.Equal(t, int64(4), p.LockedYes)

	in = x.Intent(t, exchangetest.X, domain.SideSellYes, outcomeA, 700_000, 2)
	_, err = x.Book.Submit(ctx, in, x.SignIntent(t, in))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = x.Book.Cancel(ctx, sell.ID, exchangetest.X)
	require.NoError(t, err)
	assert.Zero(t, x.Position(t, exchangetest.X, outcomeA).LockedYes)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 1_000_000)
	o := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 5)

	_, err := x.Book.Cancel(ctx, o.ID, exchangetest.Y)
	require.ErrorIs(t, err, domain.ErrForbidden)

	got, err := x.Book.Cancel(ctx, o.ID, exchangetest.X)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status())
	assert.Zero(t, got.EscrowRemaining)
	assert.Equal(t, int64(1_000_000), x.Balance(t, exchangetest.X))

	_, err = x.Book.Cancel(ctx, o.ID, exchangetest.X)
	require.ErrorIs(t, err, domain.ErrOrderClosed)

	_, err = x.Book.Cancel(ctx, 999, exchangetest.X)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	orders, err := x.Book.ListByOwner(ctx, exchangetest.X, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Cancelled)
}

func TestCancelRefundsPartialEscrow(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{FeeBps: 50})
	x.CreateMarket(t, 1, outcomeA)
	x.Fund(t, exchangetest.X, 10_000_000)
	x.Fund(t, exchangetest.Y, 10_000_000)

	buy := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 400_000, 10)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 600_000, 4)
	require.NoError(t, x.Match(t, buy.ID, no.ID).Err)

	before := x.Balance(t, exchangetest.X)
	remaining := x.Order(t, buy.ID).EscrowRemaining
	cost, err := orderbook.BuyCost(400_000, 4, 50)
	require.NoError(t, err)
	assert.Equal(t, buy.Value-cost, remaining)

	_, err = x.Book.Cancel(ctx, buy.ID, exchangetest.X)
	require.NoError(t, err)
	assert.Equal(t, before+remaining, x.Balance(t, exchangetest.X))
}
