// Package memory implements domain.Ledger in process memory. Every Update
// holds a single mutex for its whole duration and stages its writes in an
// overlay that is merged into the base state only when fn returns nil.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type positionKey struct {
	owner   common.Address
	outcome domain.OutcomeID
}

type claimKey struct {
	market uint32
	owner  common.Address
}

type state struct {
	orders    map[uint64]domain.Order
	positions map[positionKey]domain.Position
	accounts  map[common.Address]domain.CollateralAccount
	markets   map[uint32]domain.Market
	outcomes  map[domain.OutcomeID]uint32
	claims    map[claimKey]domain.ClaimRecord
	leveraged map[uint64]domain.LeveragedPosition
	platform  domain.PlatformState
	fills     []domain.Fill
}

func newState() *state {
	return &state{
		orders:    make(map[uint64]domain.Order),
		positions: make(map[positionKey]domain.Position),
		accounts:  make(map[common.Address]domain.CollateralAccount),
		markets:   make(map[uint32]domain.Market),
		outcomes:  make(map[domain.OutcomeID]uint32),
		claims:    make(map[claimKey]domain.ClaimRecord),
		leveraged: make(map[uint64]domain.LeveragedPosition),
	}
}

// Ledger is an in-memory domain.Ledger.
type Ledger struct {
	mu sync.RWMutex
	st *state
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{st: newState()}
}

// Update runs fn in a serialized read-write transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := newTx(l.st, true)
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// View runs fn against the current state. Concurrent Views may overlap.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(newTx(l.st, false))
}

// tx reads through its overlay to the base state.
type tx struct {
	base     *state
	writable bool

	orders    map[uint64]domain.Order
	positions map[positionKey]domain.Position
	accounts  map[common.Address]domain.CollateralAccount
	markets   map[uint32]domain.Market
	claims    map[claimKey]domain.ClaimRecord
	leveraged map[uint64]domain.LeveragedPosition
	platform  *domain.PlatformState
	fills     []domain.Fill
}

func newTx(base *state, writable bool) *tx {
	return &tx{
		base:      base,
		writable:  writable,
		orders:    make(map[uint64]domain.Order),
		positions: make(map[positionKey]domain.Position),
		accounts:  make(map[common.Address]domain.CollateralAccount),
		markets:   make(map[uint32]domain.Market),
		claims:    make(map[claimKey]domain.ClaimRecord),
		leveraged: make(map[uint64]domain.LeveragedPosition),
	}
}

func (t *tx) commit() {
	for k, v := range t.orders {
		t.base.orders[k] = v
	}
	for k, v := range t.positions {
		t.base.positions[k] = v
	}
	for k, v := range t.accounts {
		t.base.accounts[k] = v
	}
	for k, v := range t.markets {
		t.base.markets[k] = v
		for _, id := range v.Outcomes.IDs() {
			t.base.outcomes[id] = k
		}
	}
	for k, v := range t.claims {
		t.base.claims[k] = v
	}
	for k, v := range t.leveraged {
		t.base.leveraged[k] = v
	}
	if t.platform != nil {
		t.base.platform = *t.platform
	}
	t.base.fills = append(t.base.fills, t.fills...)
}

func (t *tx) checkWritable() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

// --- orders ---

func (t *tx) Order(_ context.Context, id uint64) (domain.Order, error) {
	if o, ok := t.orders[id]; ok {
		return o, nil
	}
	if o, ok := t.base.orders[id]; ok {
		return o, nil
	}
	return domain.Order{}, fmt.Errorf("memory: order %d: %w", id, domain.ErrNotFound)
}

func (t *tx) PutOrder(_ context.Context, o domain.Order) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.orders[o.ID] = o
	return nil
}

func (t *tx) allOrders() []domain.Order {
	merged := make(map[uint64]domain.Order, len(t.base.orders)+len(t.orders))
	for k, v := range t.base.orders {
		merged[k] = v
	}
	for k, v := range t.orders {
		merged[k] = v
	}
	out := make([]domain.Order, 0, len(merged))
	for _, o := range merged {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) OrdersByOwner(_ context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range t.allOrders() {
		if o.Owner != owner {
			continue
		}
		if opts.Since != nil && o.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && o.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	return paginate(out, opts), nil
}

func (t *tx) OrdersByMarket(_ context.Context, marketID uint32) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range t.allOrders() {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	return out, nil
}

// --- positions ---

func (t *tx) Position(_ context.Context, owner common.Address, outcome domain.OutcomeID) (domain.Position, error) {
	k := positionKey{owner, outcome}
	if p, ok := t.positions[k]; ok {
		return p, nil
	}
	if p, ok := t.base.positions[k]; ok {
		return p, nil
	}
	return domain.Position{Owner: owner, OutcomeID: outcome}, nil
}

func (t *tx) PutPosition(_ context.Context, p domain.Position) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.positions[positionKey{p.Owner, p.OutcomeID}] = p
	return nil
}

func (t *tx) PositionsByOwner(_ context.Context, owner common.Address, marketID uint32) ([]domain.Position, error) {
	merged := make(map[positionKey]domain.Position)
	for k, v := range t.base.positions {
		if k.owner == owner && v.MarketID == marketID {
			merged[k] = v
		}
	}
	for k, v := range t.positions {
		if k.owner == owner && v.MarketID == marketID {
			merged[k] = v
		}
	}
	out := make([]domain.Position, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OutcomeID < out[j].OutcomeID })
	return out, nil
}

// --- accounts ---

func (t *tx) Account(_ context.Context, owner common.Address) (domain.CollateralAccount, error) {
	if a, ok := t.accounts[owner]; ok {
		return a, nil
	}
	if a, ok := t.base.accounts[owner]; ok {
		return a, nil
	}
	return domain.CollateralAccount{Owner: owner}, nil
}

func (t *tx) PutAccount(_ context.Context, a domain.CollateralAccount) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.accounts[a.Owner] = a
	return nil
}

// --- markets ---

func (t *tx) Market(_ context.Context, id uint32) (domain.Market, error) {
	if m, ok := t.markets[id]; ok {
		return m.Clone(), nil
	}
	if m, ok := t.base.markets[id]; ok {
		return m.Clone(), nil
	}
	return domain.Market{}, fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
}

func (t *tx) MarketByOutcome(ctx context.Context, outcome domain.OutcomeID) (domain.Market, error) {
	for id, m := range t.markets {
		if m.Outcomes.Contains(outcome) {
			return t.Market(ctx, id)
		}
	}
	if id, ok := t.base.outcomes[outcome]; ok {
		return t.Market(ctx, id)
	}
	return domain.Market{}, fmt.Errorf("memory: market for outcome %s: %w", outcome, domain.ErrNotFound)
}

func (t *tx) Markets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	merged := make(map[uint32]domain.Market, len(t.base.markets)+len(t.markets))
	for k, v := range t.base.markets {
		merged[k] = v
	}
	for k, v := range t.markets {
		merged[k] = v
	}
	out := make([]domain.Market, 0, len(merged))
	for _, m := range merged {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (t *tx) PutMarket(_ context.Context, m domain.Market) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.markets[m.ID] = m.Clone()
	return nil
}

// --- claims ---

func (t *tx) Claim(_ context.Context, marketID uint32, owner common.Address) (domain.ClaimRecord, error) {
	k := claimKey{marketID, owner}
	if c, ok := t.claims[k]; ok {
		return c, nil
	}
	if c, ok := t.base.claims[k]; ok {
		return c, nil
	}
	return domain.ClaimRecord{MarketID: marketID, Owner: owner}, nil
}

func (t *tx) PutClaim(_ context.Context, c domain.ClaimRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.claims[claimKey{c.MarketID, c.Owner}] = c
	return nil
}

// --- platform ---

func (t *tx) Platform(_ context.Context) (domain.PlatformState, error) {
	if t.platform != nil {
		return *t.platform, nil
	}
	return t.base.platform, nil
}

func (t *tx) PutPlatform(_ context.Context, p domain.PlatformState) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.platform = &p
	return nil
}

// --- fills ---

func (t *tx) AppendFill(_ context.Context, f domain.Fill) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.fills = append(t.fills, f)
	return nil
}

func (t *tx) FillsByMarket(_ context.Context, marketID uint32) ([]domain.Fill, error) {
	var out []domain.Fill
	for _, src := range [][]domain.Fill{t.base.fills, t.fills} {
		for _, f := range src {
			if f.MarketID == marketID {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// --- leveraged positions ---

func (t *tx) LeveragedPosition(_ context.Context, id uint64) (domain.LeveragedPosition, error) {
	if p, ok := t.leveraged[id]; ok {
		return p, nil
	}
	if p, ok := t.base.leveraged[id]; ok {
		return p, nil
	}
	return domain.LeveragedPosition{}, fmt.Errorf("memory: leveraged position %d: %w", id, domain.ErrNotFound)
}

func (t *tx) PutLeveragedPosition(_ context.Context, p domain.LeveragedPosition) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.leveraged[p.ID] = p
	return nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.Ledger = (*Ledger)(nil)
