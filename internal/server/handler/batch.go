package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/leverage"
	"github.com/alanyoungcy/outcomebook/internal/matching"
)

// BatchService defines the methods that the batch handler requires from the
// service layer.
type BatchService interface {
	MatchLimit(ctx context.Context, caller common.Address, batch []matching.Instruction) ([]matching.Result, error)
	MatchMarket(ctx context.Context, caller common.Address, mi matching.MarketIntent, sig []byte) (matching.Result, error)
	OpenLeverage(ctx context.Context, caller common.Address, items []leverage.OpenItem) ([]leverage.ItemResult, error)
	CloseLeverage(ctx context.Context, caller common.Address, items []leverage.CloseItem) ([]leverage.ItemResult, error)
}

// BatchHandler serves the batcher endpoints. A batch answers 200 when it
// ran, with per-item errors in the body; only batch-level failures (role,
// lock, integrity) produce an error status.
type BatchHandler struct {
	batches BatchService
	logger  *slog.Logger
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(batches BatchService, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{batches: batches, logger: logger}
}

type limitBatchRequest struct {
	Instructions []matching.Instruction `json:"instructions"`
}

type marketBatchRequest struct {
	matching.MarketIntent
	Signature string `json:"signature"`
}

type matchResult struct {
	TakerID uint64        `json:"taker_id"`
	Filled  int64         `json:"filled"`
	Fills   []domain.Fill `json:"fills"`
	itemError
}

func newMatchResult(r matching.Result) matchResult {
	fills := r.Fills
	if fills == nil {
		fills = []domain.Fill{}
	}
	return matchResult{TakerID: r.TakerID, Filled: r.Filled(), Fills: fills, itemError: newItemError(r.Err)}
}

type matchBatchResponse struct {
	Results []matchResult `json:"results"`
}

type openBatchRequest struct {
	Items []leverage.OpenItem `json:"items"`
}

type closeBatchRequest struct {
	Items []leverage.CloseItem `json:"items"`
}

type leverageResult struct {
	ID       uint64                    `json:"pl_id"`
	Position *domain.LeveragedPosition `json:"position,omitempty"`
	itemError
}

type leverageBatchResponse struct {
	Results []leverageResult `json:"results"`
}

func newLeverageResponse(results []leverage.ItemResult) leverageBatchResponse {
	out := leverageBatchResponse{Results: make([]leverageResult, len(results))}
	for i, r := range results {
		out.Results[i] = leverageResult{ID: r.ID, itemError: newItemError(r.Err)}
		if r.Err == nil {
			pos := r.Position
			out.Results[i].Position = &pos
		}
	}
	return out
}

// MatchLimit runs a limit match batch.
// POST /api/batches/limit
func (h *BatchHandler) MatchLimit(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req limitBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := h.batches.MatchLimit(r.Context(), who, req.Instructions)
	if err != nil {
		writeServiceError(w, r, h.logger, "limit batch", err)
		return
	}
	resp := matchBatchResponse{Results: make([]matchResult, len(results))}
	for i, res := range results {
		resp.Results[i] = newMatchResult(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// MatchMarket executes a signed market order against its maker list.
// POST /api/batches/market
func (h *BatchHandler) MatchMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req marketBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.batches.MatchMarket(r.Context(), who, req.MarketIntent, sig)
	if err != nil {
		writeServiceError(w, r, h.logger, "market batch", err)
		return
	}
	writeJSON(w, http.StatusOK, matchBatchResponse{Results: []matchResult{newMatchResult(res)}})
}

// OpenLeverage opens leveraged positions.
// POST /api/batches/leverage/open
func (h *BatchHandler) OpenLeverage(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req openBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := h.batches.OpenLeverage(r.Context(), who, req.Items)
	if err != nil {
		writeServiceError(w, r, h.logger, "leverage open batch", err)
		return
	}
	writeJSON(w, http.StatusOK, newLeverageResponse(results))
}

// CloseLeverage closes leveraged positions at the supplied prices.
// POST /api/batches/leverage/close
func (h *BatchHandler) CloseLeverage(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req closeBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := h.batches.CloseLeverage(r.Context(), who, req.Items)
	if err != nil {
		writeServiceError(w, r, h.logger, "leverage close batch", err)
		return
	}
	writeJSON(w, http.StatusOK, newLeverageResponse(results))
}
