// Package orderbook validates signed order intents, escrows their collateral
// and keeps the order records.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/collateral"
	"github.com/alanyoungcy/outcomebook/internal/crypto"
	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// Verifier checks an authorizer signature over a message.
type Verifier interface {
	Verify(message, sig []byte, expected common.Address) bool
}

// Config identifies the book and its authorizer.
type Config struct {
	// Book is the address every signed message is bound to.
	Book common.Address
	// Authorizer is the expected signer of intents.
	Authorizer common.Address
	FeeBps     int64
}

// Intent is a signed limit order submission.
type Intent struct {
	OrderID   uint64           `json:"order_id"`
	Owner     common.Address   `json:"owner"`
	Side      domain.Side      `json:"side"`
	OutcomeID domain.OutcomeID `json:"outcome_id"`
	Price     int64            `json:"price"`
	Value     int64            `json:"value"`
}

// Message returns the digest the authorizer signs for this intent.
func (in Intent) Message(book common.Address) ([]byte, error) {
	outcome, err := in.OutcomeID.Uint256()
	if err != nil {
		return nil, err
	}
	return crypto.OrderMessage(book, in.Owner, uint8(in.Side), outcome, in.Price, in.Value, in.OrderID), nil
}

// Book is the order store.
type Book struct {
	ledger   domain.Ledger
	verifier Verifier
	cfg      Config
	now      func() time.Time
}

// NewBook creates an order store.
func NewBook(ledger domain.Ledger, verifier Verifier, cfg Config) *Book {
	return &Book{ledger: ledger, verifier: verifier, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source.
func (b *Book) WithClock(now func() time.Time) *Book {
	b.now = now
	return b
}

// Config returns the book configuration.
func (b *Book) Config() Config { return b.cfg }

// Verify checks sig over message against the configured authorizer.
func (b *Book) Verify(message, sig []byte) error {
	if b.verifier == nil || !b.verifier.Verify(message, sig, b.cfg.Authorizer) {
		return domain.ErrUnauthorized
	}
	return nil
}

// Submit validates a signed intent, escrows its collateral and stores it as
// an open order.
func (b *Book) Submit(ctx context.Context, in Intent, sig []byte) (domain.Order, error) {
	msg, err := in.Message(b.cfg.Book)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orderbook: submit: %w", domain.ErrInvalidOrder)
	}
	if err := b.Verify(msg, sig); err != nil {
		return domain.Order{}, fmt.Errorf("orderbook: submit %d: %w", in.OrderID, err)
	}
	if !in.Side.Valid() || in.OrderID == 0 {
		return domain.Order{}, fmt.Errorf("orderbook: submit %d: %w: side %d", in.OrderID, domain.ErrInvalidOrder, in.Side)
	}
	if in.Price <= 0 || in.Price >= domain.PriceDenominator || in.Value <= 0 {
		return domain.Order{}, fmt.Errorf("orderbook: submit %d: %w: price %d value %d", in.OrderID, domain.ErrInvalidOrder, in.Price, in.Value)
	}
	qty, err := QuantityFor(in.Side, in.Price, in.Value, b.cfg.FeeBps)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orderbook: submit %d: %w", in.OrderID, err)
	}
	outcome, _ := in.OutcomeID.Uint256()

	now := b.now().UTC()
	order := domain.Order{
		ID:                in.OrderID,
		Owner:             in.Owner,
		Side:              in.Side,
		OutcomeID:         domain.OutcomeID(outcome.Dec()),
		Kind:              domain.OrderKindLimit,
		LimitPrice:        in.Price,
		Value:             in.Value,
		OriginalQuantity:  qty,
		RemainingQuantity: qty,
		FeeBps:            b.cfg.FeeBps,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = b.ledger.Update(ctx, func(tx domain.Tx) error {
		m, err := tx.MarketByOutcome(ctx, order.OutcomeID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown outcome %s", domain.ErrMarketClosed, order.OutcomeID)
		}
		if err != nil {
			return err
		}
		if !m.Tradable(now) {
			return fmt.Errorf("%w: market %d", domain.ErrMarketClosed, m.ID)
		}
		order.MarketID = m.ID

		if _, err := tx.Order(ctx, order.ID); err == nil {
			return domain.ErrDuplicateOrder
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if order.Side.IsBuy() {
			if err := collateral.Debit(ctx, tx, order.Owner, order.Value, now); err != nil {
				return err
			}
			order.EscrowRemaining = order.Value
		} else if err := Lock(ctx, tx, order.Owner, order.OutcomeID, order.Side.Token(), qty, now); err != nil {
			return err
		}
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("orderbook: submit %d: %w", in.OrderID, err)
	}
	return order, nil
}

// Cancel closes an order to further matching and releases its unfilled
// escrow or locked shares.
func (b *Book) Cancel(ctx context.Context, id uint64, owner common.Address) (domain.Order, error) {
	var out domain.Order
	err := b.ledger.Update(ctx, func(tx domain.Tx) error {
		o, err := tx.Order(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if o.Owner != owner {
			return domain.ErrForbidden
		}
		if !o.Matchable() {
			return fmt.Errorf("%w: %s", domain.ErrOrderClosed, o.Status())
		}
		now := b.now().UTC()
		if err := Release(ctx, tx, &o, now); err != nil {
			return err
		}
		o.Cancelled = true
		o.UpdatedAt = now
		out = o
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("orderbook: cancel %d: %w", id, err)
	}
	return out, nil
}

// Release refunds a buy's remaining escrow or unlocks a sell's remaining
// shares. The caller persists the order.
func Release(ctx context.Context, tx domain.Tx, o *domain.Order, now time.Time) error {
	if o.Side.IsBuy() {
		if err := collateral.Credit(ctx, tx, o.Owner, o.EscrowRemaining, now); err != nil {
			return err
		}
		o.EscrowRemaining = 0
		return nil
	}
	if o.Kind == domain.OrderKindMarket {
		return nil
	}
	_, err := Unlock(ctx, tx, o.Owner, o.OutcomeID, o.Side.Token(), o.RemainingQuantity, now)
	return err
}

// Get returns one order.
func (b *Book) Get(ctx context.Context, id uint64) (domain.Order, error) {
	var o domain.Order
	err := b.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		o, err = tx.Order(ctx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, fmt.Errorf("orderbook: get %d: %w", id, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("orderbook: get %d: %w", id, err)
	}
	return o, nil
}

// ListByOwner returns owner's orders by id.
func (b *Book) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	err := b.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.OrdersByOwner(ctx, owner, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("orderbook: list: %w", err)
	}
	return out, nil
}
