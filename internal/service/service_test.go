package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/cache/redis"
	"github.com/alanyoungcy/outcomebook/internal/claim"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/exchangetest"
	"github.com/alanyoungcy/outcomebook/internal/matching"
	"github.com/alanyoungcy/outcomebook/internal/metrics"
	"github.com/alanyoungcy/outcomebook/internal/service"
	"github.com/alanyoungcy/outcomebook/internal/store/memory"
)

type env struct {
	x       *exchangetest.Exchange
	mr      *miniredis.Miniredis
	rc      *redis.Client
	bus     *redis.SignalBus
	audit   *memory.AuditStore
	metrics *metrics.Metrics
	markets *service.MarketService
	orders  *service.OrderService
	batches *service.BatchService
	claims  *service.ClaimService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	x := exchangetest.New(t, exchangetest.Options{})
	e := &env{
		x:       x,
		mr:      mr,
		rc:      rc,
		bus:     redis.NewSignalBus(rc, redis.DefaultStreamMaxLen),
		audit:   memory.NewAuditStore(),
		metrics: metrics.New(),
	}
	out := service.Outputs{Bus: e.bus, Audit: e.audit, Metrics: e.metrics}
	e.markets = service.NewMarketService(x.Markets, redis.NewMarketCache(rc, redis.DefaultMarketTTL), out)
	e.orders = service.NewOrderService(x.Book, out)
	e.batches = service.NewBatchService(x.Matching, x.Leverage, e.markets, redis.NewLockManager(rc), exchangetest.BookAddress, out)
	e.claims = service.NewClaimService(x.Claims, e.markets, out)
	return e
}

func (e *env) createMarket(t *testing.T) {
	t.Helper()
	now := e.x.Clock.Now()
	_, err := e.markets.Create(context.Background(), exchangetest.Admin, 1, []domain.OutcomeID{"1", "2"}, now, now.Add(24*time.Hour))
	require.NoError(t, err)
}

func (e *env) place(t *testing.T, owner common.Address, side domain.Side, price, qty int64) domain.Order {
	t.Helper()
	in := e.x.Intent(t, owner, side, "1", price, qty)
	o, err := e.orders.Submit(context.Background(), in, e.x.SignIntent(t, in))
	require.NoError(t, err)
	return o
}

func TestMarketService(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createMarket(t)

	m, err := e.markets.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, m.Settled)
	assert.True(t, e.mr.Exists("market:1"))

	_, err = e.markets.Get(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	e.x.Clock.Advance(25 * time.Hour)
	_, err = e.markets.Settle(ctx, exchangetest.Resolver, 1, []domain.OutcomeID{"1", "2"}, []int64{1, 0}, 1)
	require.NoError(t, err)
	assert.False(t, e.mr.Exists("market:1"))

	m, err = e.markets.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, m.Settled)

	entries, err := e.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "market.settled", entries[0].Event)
	assert.Equal(t, "market.created", entries[1].Event)
}

func TestBatchServiceStreamsFills(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createMarket(t)
	e.x.Fund(t, exchangetest.X, 10_000_000)
	e.x.Fund(t, exchangetest.Y, 10_000_000)

	yes := e.place(t, exchangetest.X, domain.SideBuyYes, 200_000, 5)
	no := e.place(t, exchangetest.Y, domain.SideBuyNo, 800_000, 5)
	cancelled := e.place(t, exchangetest.Y, domain.SideBuyNo, 800_000, 5)
	_, err := e.orders.Cancel(ctx, cancelled.ID, exchangetest.Y)
	require.NoError(t, err)

	// warm the cache so the fill has something to invalidate
	_, err = e.markets.Get(ctx, 1)
	require.NoError(t, err)

	res, err := e.batches.MatchLimit(ctx, exchangetest.Batcher, []matching.Instruction{
		{TakerID: yes.ID, MakerIDs: []uint64{no.ID}},
		{TakerID: yes.ID, MakerIDs: []uint64{cancelled.ID}},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, domain.ErrOrderClosed)
	assert.False(t, e.mr.Exists("market:1"))

	msgs, err := e.bus.StreamRead(ctx, domain.StreamFills, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var evt struct {
		Type    string      `json:"type"`
		Payload domain.Fill `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &evt))
	assert.Equal(t, "fill", evt.Type)
	assert.Equal(t, int64(5), evt.Payload.Quantity)
	assert.Equal(t, domain.FillKindMint, evt.Payload.Kind)

	const want = `
# HELP outcomebook_batch_items_total Batch items processed, by batch type and result
# TYPE outcomebook_batch_items_total counter
outcomebook_batch_items_total{batch="limit",result="ok"} 1
outcomebook_batch_items_total{batch="limit",result="rejected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(e.metrics.Registry(), strings.NewReader(want), "outcomebook_batch_items_total"))
}

func TestBatchServiceLock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createMarket(t)

	unlock, err := redis.NewLockManager(e.rc).Acquire(ctx, "batch:"+exchangetest.BookAddress.Hex(), time.Minute)
	require.NoError(t, err)

	_, err = e.batches.MatchLimit(ctx, exchangetest.Batcher, []matching.Instruction{{TakerID: 1}})
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	res, err := e.batches.MatchLimit(ctx, exchangetest.Batcher, []matching.Instruction{{TakerID: 1}})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, domain.ErrOrderNotFound)

	_, err = e.batches.MatchLimit(ctx, exchangetest.X, nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestClaimService(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createMarket(t)
	e.x.Fund(t, exchangetest.X, 10_000_000)
	e.x.Fund(t, exchangetest.Y, 10_000_000)
	yes := e.place(t, exchangetest.X, domain.SideBuyYes, 400_000, 2)
	no := e.place(t, exchangetest.Y, domain.SideBuyNo, 600_000, 2)
	res, err := e.batches.MatchLimit(ctx, exchangetest.Batcher, []matching.Instruction{{TakerID: yes.ID, MakerIDs: []uint64{no.ID}}})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)

	e.x.Clock.Advance(25 * time.Hour)
	_, err = e.markets.Settle(ctx, exchangetest.Resolver, 1, []domain.OutcomeID{"1", "2"}, []int64{1, 0}, 1)
	require.NoError(t, err)

	v, err := e.claims.Claimable(ctx, 1, exchangetest.X)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), v)

	in := claim.Intent{MarketID: 1, Owner: exchangetest.X}
	sig := e.x.SignClaim(t, in)
	paid, err := e.claims.Claim(ctx, in, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), paid)
	paid, err = e.claims.Claim(ctx, in, sig)
	require.NoError(t, err)
	assert.Zero(t, paid)

	_, err = e.claims.Claim(ctx, claim.Intent{MarketID: 1, Owner: exchangetest.Y}, sig)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	const want = `
# HELP outcomebook_claim_payout_credits_total Credits paid out by claims
# TYPE outcomebook_claim_payout_credits_total counter
outcomebook_claim_payout_credits_total 2e+06
`
	assert.NoError(t, testutil.GatherAndCompare(e.metrics.Registry(), strings.NewReader(want), "outcomebook_claim_payout_credits_total"))
}

type fakeArchiver struct {
	archived []uint32
}

func (f *fakeArchiver) ArchiveMarket(_ context.Context, id uint32) (int64, error) {
	f.archived = append(f.archived, id)
	return 3, nil
}

func TestArchiveSweep(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createMarket(t)
	now := e.x.Clock.Now()
	_, err := e.markets.Create(ctx, exchangetest.Admin, 2, []domain.OutcomeID{"3"}, now, now.Add(time.Hour))
	require.NoError(t, err)
	e.x.Clock.Advance(2 * time.Hour)
	_, err = e.markets.Settle(ctx, exchangetest.Resolver, 2, []domain.OutcomeID{"3"}, []int64{1}, 1)
	require.NoError(t, err)

	arch := &fakeArchiver{}
	svc := service.NewArchiveService(e.markets, arch, time.Minute, service.Outputs{})
	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []uint32{2}, arch.archived)
}
