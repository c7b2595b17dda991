package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/claim"
)

// ClaimService defines the methods that the claim handler requires from the
// service layer.
type ClaimService interface {
	Claim(ctx context.Context, in claim.Intent, sig []byte) (int64, error)
	Claimable(ctx context.Context, marketID uint32, owner common.Address) (int64, error)
}

// ClaimHandler serves claim endpoints.
type ClaimHandler struct {
	claims ClaimService
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(claims ClaimService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, logger: logger}
}

type claimRequest struct {
	claim.Intent
	Signature string `json:"signature"`
}

type claimResponse struct {
	MarketID uint32         `json:"market_id"`
	Owner    common.Address `json:"owner"`
	Amount   int64          `json:"amount"`
}

// Claim pays out a settled market to the owner named in the signed intent.
// POST /api/claims
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.claims.Claim(r.Context(), req.Intent, sig)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{MarketID: req.MarketID, Owner: req.Owner, Amount: amount})
}

// Claimable previews a claim without paying it.
// GET /api/claims/{market}/{owner}
func (h *ClaimHandler) Claimable(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathUint(r, "market", 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.claims.Claimable(r.Context(), uint32(marketID), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "claimable", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{MarketID: uint32(marketID), Owner: owner, Amount: amount})
}
