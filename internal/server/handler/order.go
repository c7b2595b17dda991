package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	Submit(ctx context.Context, in orderbook.Intent, sig []byte) (domain.Order, error)
	Cancel(ctx context.Context, id uint64, owner common.Address) (domain.Order, error)
	Get(ctx context.Context, id uint64) (domain.Order, error)
	ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// submitOrderRequest is a signed limit intent. The signature is the
// authorizer's over the intent message, hex encoded.
type submitOrderRequest struct {
	orderbook.Intent
	Signature string `json:"signature"`
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// SubmitOrder places a signed limit order on behalf of the caller, who must
// be the intent's owner.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req submitOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Owner != who {
		writeServiceError(w, r, h.logger, "submit order",
			fmt.Errorf("caller %s is not order owner %s: %w", who.Hex(), req.Owner.Hex(), domain.ErrForbidden))
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Submit(r.Context(), req.Intent, sig)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id", 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOrder cancels the caller's order and releases its escrow.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id", 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Cancel(r.Context(), id, owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOwnerOrders returns an owner's orders.
// GET /api/accounts/{owner}/orders?limit=50&offset=0&since=...&until=...
func (h *OrderHandler) ListOwnerOrders(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := h.orders.ListByOwner(r.Context(), owner, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}
