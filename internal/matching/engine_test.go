package matching_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/exchangetest"
	"github.com/alanyoungcy/outcomebook/internal/matching"
)

const (
	outcomeA domain.OutcomeID = "1"
	outcomeB domain.OutcomeID = "2"
)

func newExchange(t *testing.T, feeBps int64) *exchangetest.Exchange {
	x := exchangetest.New(t, exchangetest.Options{FeeBps: feeBps})
	x.CreateMarket(t, 1, outcomeA, outcomeB)
	x.Fund(t, exchangetest.X, 10_000_000)
	x.Fund(t, exchangetest.Y, 10_000_000)
	x.Fund(t, exchangetest.Z, 10_000_000)
	return x
}

func TestMatchLimit(t *testing.T) {
	t.Run("mint then settle and claim", testMintSettleClaim)
	t.Run("partial fills across makers", testPartialFills)
	t.Run("transfer between buyer and seller", testTransfer)
	t.Run("merge burns a pair", testMerge)
	t.Run("rejects incompatible sides", testIncompatible)
	t.Run("rejects price mismatch", testPriceMismatch)
	t.Run("failed item does not abort batch", testBatchIsolation)
	t.Run("requires batcher role", testForbiddenCaller)
	t.Run("rejects fills after market close", testMatchAfterClose)
}

func testMintSettleClaim(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, outcomeA, outcomeB)
	x.Fund(t, exchangetest.X, 1_000_000)
	x.Fund(t, exchangetest.Y, 4_000_000)

	buy := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 200_000, 5)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 800_000, 5)
	assert.Equal(t, int64(1_000_000), buy.EscrowRemaining)
	assert.Equal(t, int64(4_000_000), no.EscrowRemaining)

	res := x.Match(t, buy.ID, no.ID)
	require.NoError(t, res.Err)
	require.Len(t, res.Fills, 1)
	f := res.Fills[0]
	assert.Equal(t, domain.FillKindMint, f.Kind)
	assert.Equal(t, int64(5), f.Quantity)
	assert.Equal(t, domain.PriceDenominator, f.TakerPrice+f.MakerPrice)

	assert.Equal(t, domain.OrderStatusFilled, x.Order(t, buy.ID).Status())
	assert.Equal(t, domain.OrderStatusFilled, x.Order(t, no.ID).Status())
	assert.Zero(t, x.Order(t, buy.ID).EscrowRemaining)
	assert.Equal(t, int64(5), x.Position(t, exchangetest.X, outcomeA).YesShares)
	assert.Equal(t, int64(5), x.Position(t, exchangetest.Y, outcomeA).NoShares)
	assert.Equal(t, int64(5_000_000), x.Market(t, 1).CollateralPool)

	x.Settle(t, 1, []domain.OutcomeID{outcomeA, outcomeB}, []int64{1, 0}, 1)

	paid, err := x.Claims.ComputeClaim(ctx, 1, exchangetest.X)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), paid)
	paid, err = x.Claims.ComputeClaim(ctx, 1, exchangetest.Y)
	require.NoError(t, err)
	assert.Zero(t, paid)

	assert.Equal(t, int64(5_000_000), x.Balance(t, exchangetest.X))
	assert.Zero(t, x.Balance(t, exchangetest.Y))
	assert.Zero(t, x.Market(t, 1).CollateralPool)
	p := x.Platform(t)
	assert.Equal(t, p.PlatformCredit+p.NetUserDeposits, x.Holdings(t))
}

func testPartialFills(t *testing.T) {
	x := newExchange(t, 0)
	taker := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 300_000, 10)
	m1 := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 700_000, 4)
	m2 := x.Place(t, exchangetest.Z, domain.SideBuyNo, outcomeA, 700_000, 10)

	res := x.Match(t, taker.ID, m1.ID, m2.ID)
	require.NoError(t, res.Err)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, int64(10), res.Filled())
	assert.Equal(t, int64(4), res.Fills[0].Quantity)
	assert.Equal(t, int64(6), res.Fills[1].Quantity)

	assert.Equal(t, domain.OrderStatusFilled, x.Order(t, taker.ID).Status())
	rest := x.Order(t, m2.ID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, rest.Status())
	assert.Equal(t, int64(4), rest.RemainingQuantity)
	assert.Equal(t, int64(4*700_000), rest.EscrowRemaining)
	assert.Equal(t, int64(10_000_000), x.Market(t, 1).CollateralPool)

	p := x.Platform(t)
	assert.Equal(t, p.PlatformCredit+p.NetUserDeposits, x.Holdings(t))
}

func testTransfer(t *testing.T) {
	x := newExchange(t, 100)
	mintPair(t, x, 4)

	// Y now sells its 4 No shares to Z.
	sell := x.Place(t, exchangetest.Y, domain.SideSellNo, outcomeA, 250_000, 4)
	buy := x.Place(t, exchangetest.Z, domain.SideBuyNo, outcomeA, 750_000, 4)
	before := x.Balance(t, exchangetest.Y)
	pool := x.Market(t, 1).CollateralPool

	res := x.Match(t, buy.ID, sell.ID)
	require.NoError(t, res.Err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, domain.FillKindTransfer, res.Fills[0].Kind)

	// The seller receives (D - 250_000) * 4 less 1%.
	assert.Equal(t, before+3_000_000-30_000, x.Balance(t, exchangetest.Y))
	assert.Zero(t, x.Position(t, exchangetest.Y, outcomeA).NoShares)
	assert.Zero(t, x.Position(t, exchangetest.Y, outcomeA).LockedNo)
	assert.Equal(t, int64(4), x.Position(t, exchangetest.Z, outcomeA).NoShares)
	assert.Equal(t, pool, x.Market(t, 1).CollateralPool)

	p := x.Platform(t)
	assert.Equal(t, int64(40_000+60_000), p.FeeBalance)
	assert.Equal(t, p.PlatformCredit+p.NetUserDeposits, x.Holdings(t))
}

func testMerge(t *testing.T) {
	x := newExchange(t, 0)
	mintPair(t, x, 4)
	yBefore := x.Balance(t, exchangetest.Y)
	xBefore := x.Balance(t, exchangetest.X)

	sellYes := x.Place(t, exchangetest.X, domain.SideSellYes, outcomeA, 400_000, 3)
	sellNo := x.Place(t, exchangetest.Y, domain.SideSellNo, outcomeA, 600_000, 3)
	res := x.Match(t, sellNo.ID, sellYes.ID)
	require.NoError(t, res.Err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, domain.FillKindMerge, res.Fills[0].Kind)

	assert.Equal(t, xBefore+3*600_000, x.Balance(t, exchangetest.X))
	assert.Equal(t, yBefore+3*400_000, x.Balance(t, exchangetest.Y))
	assert.Equal(t, int64(1), x.Position(t, exchangetest.X, outcomeA).YesShares)
	assert.Equal(t, int64(1), x.Position(t, exchangetest.Y, outcomeA).NoShares)
	assert.Equal(t, int64(1_000_000), x.Market(t, 1).CollateralPool)

	p := x.Platform(t)
	assert.Equal(t, p.PlatformCredit+p.NetUserDeposits, x.Holdings(t))
}

func testIncompatible(t *testing.T) {
	x := newExchange(t, 0)
	mintPair(t, x, 2)

	buyYes := x.Place(t, exchangetest.Z, domain.SideBuyYes, outcomeA, 500_000, 1)
	otherBuyYes := x.Place(t, exchangetest.Y, domain.SideBuyYes, outcomeA, 500_000, 1)
	res := x.Match(t, buyYes.ID, otherBuyYes.ID)
	assert.ErrorIs(t, res.Err, domain.ErrIncompatibleSides)

	// BuyYes and SellNo both acquire Yes exposure.
	sellNo := x.Place(t, exchangetest.Y, domain.SideSellNo, outcomeA, 500_000, 1)
	res = x.Match(t, buyYes.ID, sellNo.ID)
	assert.ErrorIs(t, res.Err, domain.ErrIncompatibleSides)

	buyNoB := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeB, 500_000, 1)
	res = x.Match(t, buyYes.ID, buyNoB.ID)
	assert.ErrorIs(t, res.Err, domain.ErrIncompatibleSides)

	assert.Equal(t, domain.OrderStatusOpen, x.Order(t, buyYes.ID).Status())
}

func testPriceMismatch(t *testing.T) {
	x := newExchange(t, 0)
	buy := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 300_000, 2)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 600_000, 2)
	yBefore := x.Balance(t, exchangetest.Y)

	res := x.Match(t, buy.ID, no.ID)
	assert.ErrorIs(t, res.Err, domain.ErrPriceMismatch)
	assert.Empty(t, res.Fills)
	assert.Equal(t, int64(2), x.Order(t, buy.ID).RemainingQuantity)
	assert.Equal(t, yBefore, x.Balance(t, exchangetest.Y))
	assert.Zero(t, x.Market(t, 1).CollateralPool)
}

func testBatchIsolation(t *testing.T) {
	ctx := context.Background()
	x := newExchange(t, 0)
	t1 := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 500_000, 1)
	m1 := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 500_000, 1)
	t2 := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 500_000, 1)
	m2 := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 500_000, 1)
	t3 := x.Place(t, exchangetest.Z, domain.SideBuyYes, outcomeA, 400_000, 2)
	m3 := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 600_000, 2)

	_, err := x.Book.Cancel(ctx, m2.ID, exchangetest.Y)
	require.NoError(t, err)

	res, err := x.Matching.MatchLimit(ctx, exchangetest.Batcher, []matching.Instruction{
		{TakerID: t1.ID, MakerIDs: []uint64{m1.ID}},
		{TakerID: t2.ID, MakerIDs: []uint64{m2.ID}},
		{TakerID: t3.ID, MakerIDs: []uint64{m3.ID}},
		{TakerID: 999, MakerIDs: []uint64{m3.ID}},
	})
	require.NoError(t, err)
	require.Len(t, res, 4)

	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, domain.ErrOrderClosed)
	assert.NoError(t, res[2].Err)
	assert.ErrorIs(t, res[3].Err, domain.ErrOrderNotFound)

	assert.Equal(t, domain.OrderStatusFilled, x.Order(t, t1.ID).Status())
	assert.Equal(t, domain.OrderStatusOpen, x.Order(t, t2.ID).Status())
	assert.Equal(t, domain.OrderStatusFilled, x.Order(t, t3.ID).Status())
	assert.Equal(t, int64(3_000_000), x.Market(t, 1).CollateralPool)
}

func testForbiddenCaller(t *testing.T) {
	x := newExchange(t, 0)
	buy := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 500_000, 1)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 500_000, 1)

	_, err := x.Matching.MatchLimit(context.Background(), exchangetest.X, []matching.Instruction{
		{TakerID: buy.ID, MakerIDs: []uint64{no.ID}},
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, domain.OrderStatusOpen, x.Order(t, buy.ID).Status())
}

func testMatchAfterClose(t *testing.T) {
	x := newExchange(t, 0)
	buy := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 500_000, 1)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 500_000, 1)
	x.Clock.Advance(30 * 24 * time.Hour)

	res := x.Match(t, buy.ID, no.ID)
	assert.ErrorIs(t, res.Err, domain.ErrMarketClosed)
}

// mintPair gives X qty Yes shares and Y qty No shares of outcome A.
func mintPair(t *testing.T, x *exchangetest.Exchange, qty int64) {
	t.Helper()
	buy := x.Place(t, exchangetest.X, domain.SideBuyYes, outcomeA, 500_000, qty)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 500_000, qty)
	require.NoError(t, x.Match(t, buy.ID, no.ID).Err)
}

func TestMatchMarket(t *testing.T) {
	t.Run("buy taker pays per fill", testMarketBuy)
	t.Run("sell taker gives up free shares", testMarketSell)
	t.Run("remainder is cancelled", testMarketRemainder)
	t.Run("rejects expired and unsigned orders", testMarketRejects)
}

func marketIntent(x *exchangetest.Exchange, owner common.Address, side domain.Side, amount int64, makers ...uint64) matching.MarketIntent {
	return matching.MarketIntent{
		OrderID:    x.NextID(),
		Owner:      owner,
		Side:       side,
		OutcomeID:  outcomeA,
		Amount:     amount,
		ExpireTime: x.Clock.Now().Add(time.Minute),
		MakerIDs:   makers,
	}
}

func testMarketBuy(t *testing.T) {
	ctx := context.Background()
	x := newExchange(t, 0)
	m1 := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 600_000, 2)
	m2 := x.Place(t, exchangetest.Z, domain.SideBuyNo, outcomeA, 650_000, 2)

	mi := marketIntent(x, exchangetest.X, domain.SideBuyYes, 3, m1.ID, m2.ID)
	res, err := x.Matching.MatchMarket(ctx, exchangetest.Batcher, mi, x.SignMarket(t, mi))
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, int64(400_000), res.Fills[0].TakerPrice)
	assert.Equal(t, int64(350_000), res.Fills[1].TakerPrice)

	assert.Equal(t, int64(10_000_000-2*400_000-350_000), x.Balance(t, exchangetest.X))
	assert.Equal(t, int64(3), x.Position(t, exchangetest.X, outcomeA).YesShares)
	taker := x.Order(t, mi.OrderID)
	assert.Equal(t, domain.OrderKindMarket, taker.Kind)
	assert.Equal(t, domain.OrderStatusFilled, taker.Status())
	assert.Equal(t, int64(1), x.Order(t, m2.ID).RemainingQuantity)

	p := x.Platform(t)
	assert.Equal(t, p.PlatformCredit+p.NetUserDeposits, x.Holdings(t))
}

func testMarketSell(t *testing.T) {
	ctx := context.Background()
	x := newExchange(t, 0)
	mintPair(t, x, 3)
	buy := x.Place(t, exchangetest.Z, domain.SideBuyYes, outcomeA, 450_000, 3)
	before := x.Balance(t, exchangetest.X)

	mi := marketIntent(x, exchangetest.X, domain.SideSellYes, 3, buy.ID)
	res, err := x.Matching.MatchMarket(ctx, exchangetest.Batcher, mi, x.SignMarket(t, mi))
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, domain.FillKindTransfer, res.Fills[0].Kind)

	assert.Equal(t, before+3*450_000, x.Balance(t, exchangetest.X))
	assert.Zero(t, x.Position(t, exchangetest.X, outcomeA).YesShares)
	assert.Equal(t, int64(3), x.Position(t, exchangetest.Z, outcomeA).YesShares)
}

func testMarketRemainder(t *testing.T) {
	ctx := context.Background()
	x := newExchange(t, 0)
	m1 := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 600_000, 1)

	mi := marketIntent(x, exchangetest.X, domain.SideBuyYes, 5, m1.ID)
	res, err := x.Matching.MatchMarket(ctx, exchangetest.Batcher, mi, x.SignMarket(t, mi))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Filled())

	taker := x.Order(t, mi.OrderID)
	assert.Equal(t, domain.OrderStatusCancelled, taker.Status())
	assert.Equal(t, int64(4), taker.RemainingQuantity)

	// A cancelled market order can no longer be driven.
	m2 := x.Place(t, exchangetest.Z, domain.SideBuyNo, outcomeA, 600_000, 1)
	_, err = x.Matching.MatchLimit(ctx, exchangetest.Batcher, []matching.Instruction{{TakerID: mi.OrderID, MakerIDs: []uint64{m2.ID}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), x.Order(t, m2.ID).RemainingQuantity)
}

func testMarketRejects(t *testing.T) {
	ctx := context.Background()
	x := newExchange(t, 0)
	m1 := x.Place(t, exchangetest.Y, domain.SideBuyNo, outcomeA, 600_000, 1)

	mi := marketIntent(x, exchangetest.X, domain.SideBuyYes, 1, m1.ID)
	sig := x.SignMarket(t, mi)

	_, err := x.Matching.MatchMarket(ctx, exchangetest.X, mi, sig)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	tampered := mi
	tampered.Amount = 2
	_, err = x.Matching.MatchMarket(ctx, exchangetest.Batcher, tampered, sig)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	x.Clock.Advance(2 * time.Minute)
	_, err = x.Matching.MatchMarket(ctx, exchangetest.Batcher, mi, sig)
	assert.ErrorIs(t, err, domain.ErrOrderExpired)

	_, err = x.Book.Get(ctx, mi.OrderID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, int64(1), x.Order(t, m1.ID).RemainingQuantity)
}
