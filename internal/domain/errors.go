package domain

import "errors"

// Rejected input. Nothing is mutated when one of these is returned.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrDuplicateOrder    = errors.New("duplicate order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderClosed       = errors.New("order closed")
	ErrIncompatibleSides = errors.New("incompatible sides")
	ErrPriceMismatch     = errors.New("price mismatch")
	ErrOrderExpired      = errors.New("order expired")
	ErrMarketClosed      = errors.New("market closed")
	ErrInvalidWindow     = errors.New("invalid trading window")
	ErrInvalidOutcomes   = errors.New("invalid outcome set")
	ErrDuplicateMarket   = errors.New("duplicate market")
	ErrAlreadySettled    = errors.New("market already settled")
	ErrTooEarly          = errors.New("market window still open")
	ErrNotSettled        = errors.New("market not settled")
	ErrInvalidPayout     = errors.New("invalid payout ratio")
	ErrLockHeld          = errors.New("lock already held")
	ErrRateLimited       = errors.New("rate limited")
)

// Resource exhausted. The caller may retry once more collateral is available
// or the usage window has rolled over.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDailyLimitExceeded    = errors.New("daily limit exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient platform liquidity")
)

// ErrIntegrity marks a broken ledger invariant (negative balance, pool
// underflow, conservation break). It aborts the enclosing transaction.
var ErrIntegrity = errors.New("ledger integrity violation")

// IsRejected reports whether err is a rejected-input error.
func IsRejected(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrUnauthorized, ErrForbidden, ErrInvalidOrder,
		ErrInvalidAmount, ErrDuplicateOrder, ErrOrderNotFound, ErrOrderClosed,
		ErrIncompatibleSides, ErrPriceMismatch, ErrOrderExpired, ErrMarketClosed,
		ErrInvalidWindow, ErrInvalidOutcomes, ErrDuplicateMarket,
		ErrAlreadySettled, ErrTooEarly, ErrNotSettled, ErrInvalidPayout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsExhausted reports whether err is a resource-exhausted error.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDailyLimitExceeded) ||
		errors.Is(err, ErrInsufficientLiquidity)
}
