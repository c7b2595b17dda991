package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/crypto"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/server/middleware"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrIntegrity):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrDuplicateOrder), errors.Is(err, domain.ErrDuplicateMarket),
		errors.Is(err, domain.ErrOrderClosed), errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrAlreadySettled), errors.Is(err, domain.ErrTooEarly),
		errors.Is(err, domain.ErrNotSettled), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case domain.IsExhausted(err):
		return http.StatusUnprocessableEntity
	case domain.IsRejected(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the stable machine-readable name of an engine error.
func errorCode(err error) string {
	for _, c := range []struct {
		target error
		code   string
	}{
		{domain.ErrIntegrity, "integrity"},
		{domain.ErrInsufficientBalance, "insufficient_balance"},
		{domain.ErrDailyLimitExceeded, "daily_limit_exceeded"},
		{domain.ErrInsufficientLiquidity, "insufficient_liquidity"},
		{domain.ErrUnauthorized, "unauthorized"},
		{domain.ErrForbidden, "forbidden"},
		{domain.ErrOrderNotFound, "order_not_found"},
		{domain.ErrNotFound, "not_found"},
		{domain.ErrDuplicateOrder, "duplicate_order"},
		{domain.ErrDuplicateMarket, "duplicate_market"},
		{domain.ErrOrderClosed, "order_closed"},
		{domain.ErrMarketClosed, "market_closed"},
		{domain.ErrAlreadySettled, "already_settled"},
		{domain.ErrTooEarly, "too_early"},
		{domain.ErrNotSettled, "not_settled"},
		{domain.ErrIncompatibleSides, "incompatible_sides"},
		{domain.ErrPriceMismatch, "price_mismatch"},
		{domain.ErrOrderExpired, "order_expired"},
		{domain.ErrInvalidWindow, "invalid_window"},
		{domain.ErrInvalidOutcomes, "invalid_outcomes"},
		{domain.ErrInvalidPayout, "invalid_payout"},
		{domain.ErrInvalidAmount, "invalid_amount"},
		{domain.ErrInvalidOrder, "invalid_order"},
		{domain.ErrLockHeld, "lock_held"},
		{domain.ErrRateLimited, "rate_limited"},
	} {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return "internal"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeServiceError maps err to a status. Server errors are logged and their
// detail withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorResponse{Error: op + " failed", Code: errorCode(err)})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: errorCode(err)})
}

// itemError is the per-item error of a batch response; empty on success.
type itemError struct {
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func newItemError(err error) itemError {
	if err == nil {
		return itemError{}
	}
	return itemError{Error: err.Error(), Code: errorCode(err)}
}

// decodeBody decodes a bounded JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// caller returns the acting address. It writes 401 and returns false when
// the request carries none.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.CallerFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: "missing or invalid " + middleware.CallerHeader,
			Code:  "unauthorized",
		})
	}
	return addr, ok
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = &t
	}
	return opts, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func pathUint(r *http.Request, name string, bits int) (uint64, error) {
	n, err := strconv.ParseUint(pathParam(r, name), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, pathParam(r, name))
	}
	return n, nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	v := pathParam(r, name)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s %q", name, v)
	}
	return common.HexToAddress(v), nil
}

func decodeSignature(s string) ([]byte, error) {
	sig, err := crypto.DecodeSignature(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	return sig, nil
}
