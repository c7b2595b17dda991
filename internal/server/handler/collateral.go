package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/service"
)

// CollateralService defines the methods that the collateral handler requires
// from the service layer.
type CollateralService interface {
	Deposit(ctx context.Context, owner common.Address, asset *uint256.Int) (int64, error)
	Withdraw(ctx context.Context, owner common.Address, credits int64) (*uint256.Int, error)
	Topup(ctx context.Context, caller common.Address, credits int64) (domain.PlatformState, error)
	SetExcluded(ctx context.Context, caller, owner common.Address, excluded bool) error
	Account(ctx context.Context, owner common.Address) (service.AccountView, error)
	Platform(ctx context.Context) (domain.PlatformState, error)
}

// CollateralHandler serves account and collateral endpoints.
type CollateralHandler struct {
	collateral CollateralService
	logger     *slog.Logger
}

// NewCollateralHandler creates a CollateralHandler.
func NewCollateralHandler(collateral CollateralService, logger *slog.Logger) *CollateralHandler {
	return &CollateralHandler{collateral: collateral, logger: logger}
}

// depositRequest carries the backing-asset amount as a decimal string in the
// asset's base units.
type depositRequest struct {
	Amount string `json:"amount"`
}

type depositResponse struct {
	Owner   common.Address `json:"owner"`
	Credits int64          `json:"credits"`
}

type creditsRequest struct {
	Credits int64 `json:"credits"`
}

type withdrawResponse struct {
	Owner  common.Address `json:"owner"`
	Amount string         `json:"amount"`
}

type exclusionRequest struct {
	Owner    common.Address `json:"owner"`
	Excluded bool           `json:"excluded"`
}

// GetAccount returns an owner's balance and current daily usage.
// GET /api/accounts/{owner}
func (h *CollateralHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := h.collateral.Account(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetPlatform returns the platform accounting totals.
// GET /api/platform
func (h *CollateralHandler) GetPlatform(w http.ResponseWriter, r *http.Request) {
	state, err := h.collateral.Platform(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get platform", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Deposit mints credits for the caller.
// POST /api/collateral/deposit
func (h *CollateralHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	credits, err := h.collateral.Deposit(r.Context(), owner, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{Owner: owner, Credits: credits})
}

// Withdraw burns the caller's credits and returns the asset amount released.
// POST /api/collateral/withdraw
func (h *CollateralHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req creditsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := h.collateral.Withdraw(r.Context(), owner, req.Credits)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Owner: owner, Amount: asset.Dec()})
}

// Topup mints platform credit. The caller must hold the treasury role.
// POST /api/collateral/topup
func (h *CollateralHandler) Topup(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req creditsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.collateral.Topup(r.Context(), who, req.Credits)
	if err != nil {
		writeServiceError(w, r, h.logger, "topup", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// SetExclusion adds or removes an owner from the daily-cap exclusion list.
// POST /api/collateral/exclusions
func (h *CollateralHandler) SetExclusion(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req exclusionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.collateral.SetExcluded(r.Context(), who, req.Owner, req.Excluded); err != nil {
		writeServiceError(w, r, h.logger, "set exclusion", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
