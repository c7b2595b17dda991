// Package exchangetest assembles an in-memory exchange for tests.
package exchangetest

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/access"
	"github.com/alanyoungcy/outcomebook/internal/claim"
	"github.com/alanyoungcy/outcomebook/internal/collateral"
	"github.com/alanyoungcy/outcomebook/internal/crypto"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/leverage"
	"github.com/alanyoungcy/outcomebook/internal/market"
	"github.com/alanyoungcy/outcomebook/internal/matching"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
	"github.com/alanyoungcy/outcomebook/internal/store/memory"
)

// AuthorizerKey is the private key of the test authorizer.
const AuthorizerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	BookAddress = common.HexToAddress("0x00000000000000000000000000000000000b00c0")
	Admin       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Resolver    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	Batcher     = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	LevBatcher  = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	Treasury    = common.HexToAddress("0x00000000000000000000000000000000000000a5")

	X = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	Y = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	Z = common.HexToAddress("0x000000000000000000000000000000000000cccc")
)

// T is the subset of testing.TB the fixture needs. Both *testing.T and
// *rapid.T satisfy it.
type T interface {
	Helper()
	require.TestingT
}

// Start is the initial clock reading.
var Start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// Now returns the current reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Options tune the fixture.
type Options struct {
	FeeBps      int64
	DailyCap    int64
	Strategy    claim.PayoutStrategy
	MaxLeverage int64
}

// Exchange is a fully wired in-memory exchange.
type Exchange struct {
	Ledger     *memory.Ledger
	Access     *access.Static
	Clock      *Clock
	Signer     *crypto.Signer
	Collateral *collateral.Engine
	Markets    *market.Registry
	Book       *orderbook.Book
	Matching   *matching.Engine
	Claims     *claim.Calculator
	Leverage   *leverage.Desk

	nextID uint64
}

// New builds an exchange with the default fixture roles.
func New(t T, opts Options) *Exchange {
	t.Helper()
	signer, err := crypto.NewSigner(AuthorizerKey)
	require.NoError(t, err)

	reg, err := access.NewStatic(map[string][]string{
		string(access.RoleMarketAdmin):      {Admin.Hex()},
		string(access.RoleResolver):         {Resolver.Hex()},
		string(access.RoleOrderbookBatcher): {Batcher.Hex()},
		string(access.RoleLeverageBatcher):  {LevBatcher.Hex()},
		string(access.RoleTreasury):         {Treasury.Hex()},
	}, map[string]string{
		access.AddressOrderbook:  BookAddress.Hex(),
		access.AddressAuthorizer: signer.Address().Hex(),
	})
	require.NoError(t, err)

	clk := &Clock{t: Start}
	ledger := memory.NewLedger()
	coll := collateral.NewEngine(ledger, reg, collateral.FixedRate{Num: 1, Den: 1},
		collateral.Config{AssetDecimals: collateral.CreditDecimals, DailyCap: opts.DailyCap}).WithClock(clk.Now)
	book := orderbook.NewBook(ledger, crypto.NewAuthorizer(), orderbook.Config{
		Book:       BookAddress,
		Authorizer: signer.Address(),
		FeeBps:     opts.FeeBps,
	}).WithClock(clk.Now)

	return &Exchange{
		Ledger:     ledger,
		Access:     reg,
		Clock:      clk,
		Signer:     signer,
		Collateral: coll,
		Markets:    market.NewRegistry(ledger, reg).WithClock(clk.Now),
		Book:       book,
		Matching:   matching.NewEngine(ledger, book, reg, nil).WithClock(clk.Now),
		Claims:     claim.NewCalculator(ledger, book, opts.Strategy).WithClock(clk.Now),
		Leverage:   leverage.NewDesk(ledger, coll, reg, leverage.Config{MaxLeverage: opts.MaxLeverage}, nil).WithClock(clk.Now),
		nextID:     1,
	}
}

// Fund deposits credits for owner.
func (x *Exchange) Fund(t T, owner common.Address, credits int64) {
	t.Helper()
	_, err := x.Collateral.Deposit(context.Background(), owner, uint256.NewInt(uint64(credits)))
	require.NoError(t, err)
}

// CreateMarket opens a market trading from now for thirty days.
func (x *Exchange) CreateMarket(t T, id uint32, outcomes ...domain.OutcomeID) domain.Market {
	t.Helper()
	now := x.Clock.Now()
	m, err := x.Markets.CreateMarket(context.Background(), Admin, id, outcomes, now, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	return m
}

// Settle closes the market window and settles with the given numerators
// over denominator.
func (x *Exchange) Settle(t T, id uint32, outcomes []domain.OutcomeID, nums []int64, den int64) {
	t.Helper()
	m, err := x.Markets.Get(context.Background(), id)
	require.NoError(t, err)
	if x.Clock.Now().Before(m.EndTime) {
		x.Clock.Advance(m.EndTime.Sub(x.Clock.Now()))
	}
	_, err = x.Markets.Settle(context.Background(), Resolver, id, outcomes, nums, den)
	require.NoError(t, err)
}

// NextID returns a fresh order id.
func (x *Exchange) NextID() uint64 {
	id := x.nextID
	x.nextID++
	return id
}

// SignIntent returns the authorizer signature for a limit intent.
func (x *Exchange) SignIntent(t T, in orderbook.Intent) []byte {
	t.Helper()
	msg, err := in.Message(BookAddress)
	require.NoError(t, err)
	sig, err := x.Signer.Sign(msg)
	require.NoError(t, err)
	return sig
}

// SignMarket returns the authorizer signature for a market intent.
func (x *Exchange) SignMarket(t T, mi matching.MarketIntent) []byte {
	t.Helper()
	msg, err := mi.Message(BookAddress)
	require.NoError(t, err)
	sig, err := x.Signer.Sign(msg)
	require.NoError(t, err)
	return sig
}

// SignClaim returns the authorizer signature for a claim.
func (x *Exchange) SignClaim(t T, in claim.Intent) []byte {
	t.Helper()
	sig, err := x.Signer.Sign(in.Message(BookAddress))
	require.NoError(t, err)
	return sig
}

// Intent builds a limit intent whose value buys or sells qty shares exactly.
func (x *Exchange) Intent(t T, owner common.Address, side domain.Side, outcome domain.OutcomeID, price, qty int64) orderbook.Intent {
	t.Helper()
	value := qty
	if side.IsBuy() {
		var err error
		value, err = orderbook.BuyCost(price, qty, x.Book.Config().FeeBps)
		require.NoError(t, err)
	}
	return orderbook.Intent{
		OrderID:   x.NextID(),
		Owner:     owner,
		Side:      side,
		OutcomeID: outcome,
		Price:     price,
		Value:     value,
	}
}

// Place signs and submits a limit order for qty shares.
func (x *Exchange) Place(t T, owner common.Address, side domain.Side, outcome domain.OutcomeID, price, qty int64) domain.Order {
	t.Helper()
	in := x.Intent(t, owner, side, outcome, price, qty)
	o, err := x.Book.Submit(context.Background(), in, x.SignIntent(t, in))
	require.NoError(t, err)
	return o
}

// Match runs a single-instruction limit batch and fails on batch rejection.
func (x *Exchange) Match(t T, takerID uint64, makerIDs ...uint64) matching.Result {
	t.Helper()
	res, err := x.Matching.MatchLimit(context.Background(), Batcher, []matching.Instruction{{TakerID: takerID, MakerIDs: makerIDs}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

// Balance returns owner's credit balance.
func (x *Exchange) Balance(t T, owner common.Address) int64 {
	t.Helper()
	a, err := x.Collateral.Balance(context.Background(), owner)
	require.NoError(t, err)
	return a.CreditBalance
}

// Position returns owner's position in outcome.
func (x *Exchange) Position(t T, owner common.Address, outcome domain.OutcomeID) domain.Position {
	t.Helper()
	var p domain.Position
	require.NoError(t, x.Ledger.View(context.Background(), func(tx domain.Tx) error {
		var err error
		p, err = tx.Position(context.Background(), owner, outcome)
		return err
	}))
	return p
}

// Order returns an order.
func (x *Exchange) Order(t T, id uint64) domain.Order {
	t.Helper()
	o, err := x.Book.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

// Platform returns the aggregate counters.
func (x *Exchange) Platform(t T) domain.PlatformState {
	t.Helper()
	p, err := x.Collateral.Platform(context.Background())
	require.NoError(t, err)
	return p
}

// Market returns a market.
func (x *Exchange) Market(t T, id uint32) domain.Market {
	t.Helper()
	m, err := x.Markets.Get(context.Background(), id)
	require.NoError(t, err)
	return m
}

// Holdings sums every credit the system holds on behalf of someone: user
// balances, buy escrow, market pools, fees and the leverage reserve. With
// no open leveraged positions it equals PlatformCredit + NetUserDeposits.
func (x *Exchange) Holdings(t T) int64 {
	t.Helper()
	ctx := context.Background()
	var total int64
	require.NoError(t, x.Ledger.View(ctx, func(tx domain.Tx) error {
		p, err := tx.Platform(ctx)
		if err != nil {
			return err
		}
		total = p.TotalUserCredit + p.FeeBalance + p.LeverageReserve
		markets, err := tx.Markets(ctx, domain.ListOpts{})
		if err != nil {
			return err
		}
		for _, m := range markets {
			total += m.CollateralPool
			orders, err := tx.OrdersByMarket(ctx, m.ID)
			if err != nil {
				return err
			}
			for _, o := range orders {
				total += o.EscrowRemaining
			}
		}
		return nil
	}))
	return total
}
