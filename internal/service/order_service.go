package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
)

// OrderService handles signed order submission and cancellation.
type OrderService struct {
	book *orderbook.Book
	out  emitter
}

// NewOrderService creates an OrderService.
func NewOrderService(book *orderbook.Book, out Outputs) *OrderService {
	return &OrderService{book: book, out: newEmitter(out, "order_service")}
}

// Submit verifies and stores a signed limit order, escrowing its funds.
func (s *OrderService) Submit(ctx context.Context, in orderbook.Intent, sig []byte) (domain.Order, error) {
	o, err := s.book.Submit(ctx, in, sig)
	s.out.Metrics.OrderSubmitted(in.Side, err)
	if err != nil {
		s.out.integrity(ctx, "submit", err)
		return domain.Order{}, fmt.Errorf("order_service: submit %d: %w", in.OrderID, err)
	}

	s.out.publish(ctx, domain.ChannelOrders, "order_placed", o)
	s.out.log.InfoContext(ctx, "order_service: order placed",
		slog.Uint64("order_id", o.ID),
		slog.String("owner", o.Owner.Hex()),
		slog.String("side", o.Side.String()),
		slog.String("outcome", string(o.OutcomeID)),
		slog.Int64("price", o.LimitPrice),
		slog.Int64("quantity", o.OriginalQuantity),
	)
	return o, nil
}

// Cancel cancels owner's order and releases its escrow.
func (s *OrderService) Cancel(ctx context.Context, id uint64, owner common.Address) (domain.Order, error) {
	o, err := s.book.Cancel(ctx, id, owner)
	if err != nil {
		s.out.integrity(ctx, "cancel", err)
		return domain.Order{}, fmt.Errorf("order_service: cancel %d: %w", id, err)
	}

	s.out.publish(ctx, domain.ChannelOrders, "order_cancelled", o)
	s.out.log.InfoContext(ctx, "order_service: order cancelled",
		slog.Uint64("order_id", id),
		slog.Int64("remaining", o.RemainingQuantity),
	)
	return o, nil
}

// Get returns one order.
func (s *OrderService) Get(ctx context.Context, id uint64) (domain.Order, error) {
	o, err := s.book.Get(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get %d: %w", id, err)
	}
	return o, nil
}

// ListByOwner pages through owner's orders by id.
func (s *OrderService) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.book.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by owner %s: %w", owner.Hex(), err)
	}
	return orders, nil
}
