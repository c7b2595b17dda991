package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// MarketService defines the methods that the market handler requires from
// the service layer.
type MarketService interface {
	Create(ctx context.Context, caller common.Address, id uint32, outcomes []domain.OutcomeID, start, end time.Time) (domain.Market, error)
	Settle(ctx context.Context, caller common.Address, id uint32, outcomes []domain.OutcomeID, numerators []int64, denominator int64) (domain.Market, error)
	Get(ctx context.Context, id uint32) (domain.Market, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type createMarketRequest struct {
	ID        uint32             `json:"id"`
	Outcomes  []domain.OutcomeID `json:"outcomes"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
}

type settleMarketRequest struct {
	Outcomes    []domain.OutcomeID `json:"outcomes"`
	Numerators  []int64            `json:"numerators"`
	Denominator int64              `json:"denominator"`
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
}

// CreateMarket registers a market. The caller must hold the admin role.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.Create(r.Context(), who, req.ID, req.Outcomes, req.StartTime, req.EndTime)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets returns markets in id order.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := h.markets.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id", 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.Get(r.Context(), uint32(id))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// SettleMarket records payout ratios. The caller must hold the resolver role.
// POST /api/markets/{id}/settle
func (h *MarketHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id", 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req settleMarketRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.Settle(r.Context(), who, uint32(id), req.Outcomes, req.Numerators, req.Denominator)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
