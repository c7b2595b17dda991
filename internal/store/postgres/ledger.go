package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// Serialization failures and deadlocks abort the transaction but may succeed
// on a fresh attempt.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

var errReadOnly = errors.New("postgres: write in read-only transaction")

// Ledger implements domain.Ledger on PostgreSQL.
type Ledger struct {
	pool       *pgxpool.Pool
	maxRetries uint64
}

// NewLedger creates a ledger over the client's pool. Update transactions
// that lose a serialization race are retried up to maxRetries times.
func NewLedger(c *Client, maxRetries uint64) *Ledger {
	return &Ledger{pool: c.Pool(), maxRetries: maxRetries}
}

// Update runs fn in a SERIALIZABLE read-write transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	return l.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, false, fn)
}

// View runs fn in a REPEATABLE READ read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return l.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, true, fn)
}

func (l *Ledger) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(tx domain.Tx) error) error {
	attempt := func() error {
		dbtx, err := l.pool.BeginTx(ctx, opts)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("postgres: begin: %w", err))
		}
		if err := fn(&tx{tx: dbtx, readOnly: readOnly}); err != nil {
			_ = dbtx.Rollback(ctx)
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := dbtx.Commit(ctx); err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("postgres: commit: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, l.maxRetries), ctx))
}

// retryable reports whether err is a transient serialization conflict.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

type tx struct {
	tx       pgx.Tx
	readOnly bool
}

type row interface {
	Scan(dest ...any) error
}

func (t *tx) lock() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func (t *tx) exec(ctx context.Context, op, query string, args ...any) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	return nil
}

func addr(a common.Address) string { return a.Hex() }

func nullTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func derefTime(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.UTC()
}

// --- orders ---

const orderColumns = `id, market_id, owner, side, outcome_id, kind, limit_price, value,
	original_quantity, remaining_quantity, escrow_remaining, fee_bps, cancelled,
	created_at, updated_at`

func scanOrder(r row) (domain.Order, error) {
	var (
		o        domain.Order
		id       int64
		marketID int64
		owner    string
		side     int16
		outcome  string
		kind     string
	)
	err := r.Scan(&id, &marketID, &owner, &side, &outcome, &kind, &o.LimitPrice, &o.Value,
		&o.OriginalQuantity, &o.RemainingQuantity, &o.EscrowRemaining, &o.FeeBps, &o.Cancelled,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = uint64(id)
	o.MarketID = uint32(marketID)
	o.Owner = common.HexToAddress(owner)
	o.Side = domain.Side(side)
	o.OutcomeID = domain.OutcomeID(outcome)
	o.Kind = domain.OrderKind(kind)
	return o, nil
}

func collectOrders(rows pgx.Rows, op string) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return out, nil
}

func (t *tx) Order(ctx context.Context, id uint64) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`+t.lock(), int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: order %d: %w", id, err)
	}
	return o, nil
}

func (t *tx) PutOrder(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			remaining_quantity = EXCLUDED.remaining_quantity,
			escrow_remaining   = EXCLUDED.escrow_remaining,
			cancelled          = EXCLUDED.cancelled,
			updated_at         = EXCLUDED.updated_at`
	return t.exec(ctx, fmt.Sprintf("put order %d", o.ID), query,
		int64(o.ID), int64(o.MarketID), addr(o.Owner), int16(o.Side), string(o.OutcomeID), string(o.Kind),
		o.LimitPrice, o.Value, o.OriginalQuantity, o.RemainingQuantity, o.EscrowRemaining, o.FeeBps,
		o.Cancelled, o.CreatedAt, o.UpdatedAt)
}

func (t *tx) OrdersByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner = $1`
	args := []any{addr(owner)}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: orders of %s: %w", owner.Hex(), err)
	}
	return collectOrders(rows, "orders by owner")
}

func (t *tx) OrdersByMarket(ctx context.Context, marketID uint32) ([]domain.Order, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE market_id = $1 ORDER BY id`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: orders of market %d: %w", marketID, err)
	}
	return collectOrders(rows, "orders by market")
}

// --- positions ---

const positionColumns = `owner, outcome_id, market_id, yes_shares, no_shares, locked_yes, locked_no, cost_basis, updated_at`

func scanPosition(r row) (domain.Position, error) {
	var (
		p        domain.Position
		owner    string
		outcome  string
		marketID int64
	)
	err := r.Scan(&owner, &outcome, &marketID, &p.YesShares, &p.NoShares, &p.LockedYes, &p.LockedNo, &p.CostBasis, &p.UpdatedAt)
	if err != nil {
		return domain.Position{}, err
	}
	p.Owner = common.HexToAddress(owner)
	p.OutcomeID = domain.OutcomeID(outcome)
	p.MarketID = uint32(marketID)
	return p, nil
}

func (t *tx) Position(ctx context.Context, owner common.Address, outcome domain.OutcomeID) (domain.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE owner = $1 AND outcome_id = $2`+t.lock(),
		addr(owner), string(outcome)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{Owner: owner, OutcomeID: outcome}, nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position %s/%s: %w", owner.Hex(), outcome, err)
	}
	return p, nil
}

func (t *tx) PutPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner, outcome_id) DO UPDATE SET
			market_id  = EXCLUDED.market_id,
			yes_shares = EXCLUDED.yes_shares,
			no_shares  = EXCLUDED.no_shares,
			locked_yes = EXCLUDED.locked_yes,
			locked_no  = EXCLUDED.locked_no,
			cost_basis = EXCLUDED.cost_basis,
			updated_at = EXCLUDED.updated_at`
	return t.exec(ctx, fmt.Sprintf("put position %s/%s", p.Owner.Hex(), p.OutcomeID), query,
		addr(p.Owner), string(p.OutcomeID), int64(p.MarketID), p.YesShares, p.NoShares,
		p.LockedYes, p.LockedNo, p.CostBasis, p.UpdatedAt)
}

func (t *tx) PositionsByOwner(ctx context.Context, owner common.Address, marketID uint32) ([]domain.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE owner = $1 AND market_id = $2 ORDER BY outcome_id`,
		addr(owner), int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: positions of %s: %w", owner.Hex(), err)
	}
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: positions of %s: %w", owner.Hex(), err)
	}
	return out, nil
}

// --- collateral accounts ---

func (t *tx) Account(ctx context.Context, owner common.Address) (domain.CollateralAccount, error) {
	a := domain.CollateralAccount{Owner: owner}
	var windowStart *time.Time
	err := t.tx.QueryRow(ctx, `
		SELECT credit_balance, daily_used, daily_window_start, excluded, updated_at
		FROM collateral_accounts WHERE owner = $1`+t.lock(), addr(owner),
	).Scan(&a.CreditBalance, &a.DailyUsed, &windowStart, &a.Excluded, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CollateralAccount{Owner: owner}, nil
	}
	if err != nil {
		return domain.CollateralAccount{}, fmt.Errorf("postgres: account %s: %w", owner.Hex(), err)
	}
	a.DailyWindowStart = derefTime(windowStart)
	return a, nil
}

func (t *tx) PutAccount(ctx context.Context, a domain.CollateralAccount) error {
	const query = `
		INSERT INTO collateral_accounts (owner, credit_balance, daily_used, daily_window_start, excluded, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner) DO UPDATE SET
			credit_balance     = EXCLUDED.credit_balance,
			daily_used         = EXCLUDED.daily_used,
			daily_window_start = EXCLUDED.daily_window_start,
			excluded           = EXCLUDED.excluded,
			updated_at         = EXCLUDED.updated_at`
	return t.exec(ctx, "put account "+a.Owner.Hex(), query,
		addr(a.Owner), a.CreditBalance, a.DailyUsed, nullTime(a.DailyWindowStart), a.Excluded, a.UpdatedAt)
}

// --- markets ---

const marketColumns = `m.id, m.outcomes, m.start_time, m.end_time, m.settled, m.payout_numerators,
	m.payout_denominator, m.collateral_pool, m.settled_at, m.created_at`

func scanMarket(r row) (domain.Market, error) {
	var (
		m        domain.Market
		id       int64
		outcomes []byte
		payouts  []byte
	)
	err := r.Scan(&id, &outcomes, &m.StartTime, &m.EndTime, &m.Settled, &payouts,
		&m.PayoutDenominator, &m.CollateralPool, &m.SettledAt, &m.CreatedAt)
	if err != nil {
		return domain.Market{}, err
	}
	m.ID = uint32(id)
	if err := json.Unmarshal(outcomes, &m.Outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("outcomes of market %d: %w", id, err)
	}
	if len(payouts) > 0 {
		if err := json.Unmarshal(payouts, &m.PayoutNumerators); err != nil {
			return domain.Market{}, fmt.Errorf("payouts of market %d: %w", id, err)
		}
	}
	return m, nil
}

func (t *tx) Market(ctx context.Context, id uint32) (domain.Market, error) {
	m, err := scanMarket(t.tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets m WHERE m.id = $1`+t.lock(), int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: market %d: %w", id, err)
	}
	return m, nil
}

func (t *tx) MarketByOutcome(ctx context.Context, outcome domain.OutcomeID) (domain.Market, error) {
	m, err := scanMarket(t.tx.QueryRow(ctx, `
		SELECT `+marketColumns+`
		FROM markets m JOIN market_outcomes o ON o.market_id = m.id
		WHERE o.outcome_id = $1`, string(outcome)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market of outcome %s: %w", outcome, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: market of outcome %s: %w", outcome, err)
	}
	return m, nil
}

func (t *tx) Markets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets m ORDER BY m.id`
	var args []any
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()
	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return out, nil
}

func (t *tx) PutMarket(ctx context.Context, m domain.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("postgres: marshal outcomes of market %d: %w", m.ID, err)
	}
	var payouts []byte
	if m.PayoutNumerators != nil {
		if payouts, err = json.Marshal(m.PayoutNumerators); err != nil {
			return fmt.Errorf("postgres: marshal payouts of market %d: %w", m.ID, err)
		}
	}
	const query = `
		INSERT INTO markets (id, outcomes, start_time, end_time, settled, payout_numerators,
			payout_denominator, collateral_pool, settled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			settled            = EXCLUDED.settled,
			payout_numerators  = EXCLUDED.payout_numerators,
			payout_denominator = EXCLUDED.payout_denominator,
			collateral_pool    = EXCLUDED.collateral_pool,
			settled_at         = EXCLUDED.settled_at`
	err = t.exec(ctx, fmt.Sprintf("put market %d", m.ID), query,
		int64(m.ID), outcomes, m.StartTime, m.EndTime, m.Settled, payouts,
		m.PayoutDenominator, m.CollateralPool, m.SettledAt, m.CreatedAt)
	if err != nil {
		return err
	}
	for _, id := range m.Outcomes.IDs() {
		err := t.exec(ctx, fmt.Sprintf("index outcome %s", id),
			`INSERT INTO market_outcomes (outcome_id, market_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			string(id), int64(m.ID))
		if err != nil {
			return err
		}
	}
	return nil
}

// --- claims ---

func (t *tx) Claim(ctx context.Context, marketID uint32, owner common.Address) (domain.ClaimRecord, error) {
	c := domain.ClaimRecord{MarketID: marketID, Owner: owner}
	var claimedAt *time.Time
	err := t.tx.QueryRow(ctx,
		`SELECT consumed, paid_amount, claimed_at FROM claims WHERE market_id = $1 AND owner = $2`+t.lock(),
		int64(marketID), addr(owner),
	).Scan(&c.Consumed, &c.PaidAmount, &claimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimRecord{MarketID: marketID, Owner: owner}, nil
	}
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("postgres: claim %d/%s: %w", marketID, owner.Hex(), err)
	}
	c.ClaimedAt = derefTime(claimedAt)
	return c, nil
}

func (t *tx) PutClaim(ctx context.Context, c domain.ClaimRecord) error {
	const query = `
		INSERT INTO claims (market_id, owner, consumed, paid_amount, claimed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, owner) DO UPDATE SET
			consumed    = EXCLUDED.consumed,
			paid_amount = EXCLUDED.paid_amount,
			claimed_at  = EXCLUDED.claimed_at`
	return t.exec(ctx, fmt.Sprintf("put claim %d/%s", c.MarketID, c.Owner.Hex()), query,
		int64(c.MarketID), addr(c.Owner), c.Consumed, c.PaidAmount, nullTime(c.ClaimedAt))
}

// --- platform ---

func (t *tx) Platform(ctx context.Context) (domain.PlatformState, error) {
	var p domain.PlatformState
	err := t.tx.QueryRow(ctx, `
		SELECT platform_credit, leverage_reserve, net_user_deposits, total_user_credit, fee_balance, updated_at
		FROM platform_state WHERE id = 1`+t.lock(),
	).Scan(&p.PlatformCredit, &p.LeverageReserve, &p.NetUserDeposits, &p.TotalUserCredit, &p.FeeBalance, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlatformState{}, nil
	}
	if err != nil {
		return domain.PlatformState{}, fmt.Errorf("postgres: platform: %w", err)
	}
	return p, nil
}

func (t *tx) PutPlatform(ctx context.Context, p domain.PlatformState) error {
	const query = `
		INSERT INTO platform_state (id, platform_credit, leverage_reserve, net_user_deposits,
			total_user_credit, fee_balance, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			platform_credit   = EXCLUDED.platform_credit,
			leverage_reserve  = EXCLUDED.leverage_reserve,
			net_user_deposits = EXCLUDED.net_user_deposits,
			total_user_credit = EXCLUDED.total_user_credit,
			fee_balance       = EXCLUDED.fee_balance,
			updated_at        = EXCLUDED.updated_at`
	return t.exec(ctx, "put platform", query,
		p.PlatformCredit, p.LeverageReserve, p.NetUserDeposits, p.TotalUserCredit, p.FeeBalance, p.UpdatedAt)
}

// --- fills ---

func (t *tx) AppendFill(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (id, market_id, outcome_id, taker_order_id, maker_order_id, taker_owner,
			maker_owner, taker_side, maker_side, quantity, taker_price, maker_price, fee, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	return t.exec(ctx, "append fill "+f.ID, query,
		f.ID, int64(f.MarketID), string(f.OutcomeID), int64(f.TakerOrderID), int64(f.MakerOrderID),
		addr(f.TakerOwner), addr(f.MakerOwner), int16(f.TakerSide), int16(f.MakerSide),
		f.Quantity, f.TakerPrice, f.MakerPrice, f.Fee, string(f.Kind), f.CreatedAt)
}

func (t *tx) FillsByMarket(ctx context.Context, marketID uint32) ([]domain.Fill, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, market_id, outcome_id, taker_order_id, maker_order_id, taker_owner, maker_owner,
			taker_side, maker_side, quantity, taker_price, maker_price, fee, kind, created_at
		FROM fills WHERE market_id = $1 ORDER BY seq`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: fills of market %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			f                      domain.Fill
			mid, takerID, makerID  int64
			outcome, kind          string
			takerOwner, makerOwner string
			takerSide, makerSide   int16
		)
		err := rows.Scan(&f.ID, &mid, &outcome, &takerID, &makerID, &takerOwner, &makerOwner,
			&takerSide, &makerSide, &f.Quantity, &f.TakerPrice, &f.MakerPrice, &f.Fee, &kind, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.MarketID = uint32(mid)
		f.OutcomeID = domain.OutcomeID(outcome)
		f.TakerOrderID, f.MakerOrderID = uint64(takerID), uint64(makerID)
		f.TakerOwner, f.MakerOwner = common.HexToAddress(takerOwner), common.HexToAddress(makerOwner)
		f.TakerSide, f.MakerSide = domain.Side(takerSide), domain.Side(makerSide)
		f.Kind = domain.FillKind(kind)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fills of market %d: %w", marketID, err)
	}
	return out, nil
}

// --- leveraged positions ---

func (t *tx) LeveragedPosition(ctx context.Context, id uint64) (domain.LeveragedPosition, error) {
	var (
		p       domain.LeveragedPosition
		account string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT account, pool_id, value, leverage, entry_price, is_long, open, exit_price, pnl, opened_at, closed_at
		FROM leveraged_positions WHERE id = $1`+t.lock(), int64(id),
	).Scan(&account, &p.PoolID, &p.Value, &p.Leverage, &p.EntryPrice, &p.IsLong, &p.Open,
		&p.ExitPrice, &p.PnL, &p.OpenedAt, &p.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LeveragedPosition{}, fmt.Errorf("postgres: leveraged position %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LeveragedPosition{}, fmt.Errorf("postgres: leveraged position %d: %w", id, err)
	}
	p.ID = id
	p.Account = common.HexToAddress(account)
	return p, nil
}

func (t *tx) PutLeveragedPosition(ctx context.Context, p domain.LeveragedPosition) error {
	const query = `
		INSERT INTO leveraged_positions (id, account, pool_id, value, leverage, entry_price, is_long,
			open, exit_price, pnl, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			open       = EXCLUDED.open,
			exit_price = EXCLUDED.exit_price,
			pnl        = EXCLUDED.pnl,
			closed_at  = EXCLUDED.closed_at`
	return t.exec(ctx, fmt.Sprintf("put leveraged position %d", p.ID), query,
		int64(p.ID), addr(p.Account), p.PoolID, p.Value, p.Leverage, p.EntryPrice, p.IsLong,
		p.Open, p.ExitPrice, p.PnL, p.OpenedAt, p.ClosedAt)
}

var _ domain.Ledger = (*Ledger)(nil)
