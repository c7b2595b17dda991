package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrInvalidOrder:          http.StatusBadRequest,
		domain.ErrPriceMismatch:         http.StatusBadRequest,
		domain.ErrUnauthorized:          http.StatusUnauthorized,
		domain.ErrForbidden:             http.StatusForbidden,
		domain.ErrNotFound:              http.StatusNotFound,
		domain.ErrOrderNotFound:         http.StatusNotFound,
		domain.ErrDuplicateOrder:        http.StatusConflict,
		domain.ErrLockHeld:              http.StatusConflict,
		domain.ErrNotSettled:            http.StatusConflict,
		domain.ErrDailyLimitExceeded:    http.StatusUnprocessableEntity,
		domain.ErrInsufficientLiquidity: http.StatusUnprocessableEntity,
		domain.ErrRateLimited:           http.StatusTooManyRequests,
		domain.ErrIntegrity:             http.StatusInternalServerError,
		errors.New("boom"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		wrapped := fmt.Errorf("service: op: %w", err)
		assert.Equal(t, want, StatusFor(wrapped), err.Error())
	}
	assert.Equal(t, http.StatusOK, StatusFor(nil))
}

func TestErrorCodePrefersSpecific(t *testing.T) {
	err := fmt.Errorf("%w: %w", domain.ErrIntegrity, domain.ErrInsufficientBalance)
	assert.Equal(t, "integrity", errorCode(err))
	assert.Equal(t, "internal", errorCode(errors.New("x")))
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=900&offset=3&since=2026-01-02T03:04:05Z", nil)
	opts, err := parseListOpts(r)
	require.NoError(t, err)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 3, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, 2026, opts.Since.Year())
	assert.Nil(t, opts.Until)

	_, err = parseListOpts(httptest.NewRequest(http.MethodGet, "/?until=yesterday", nil))
	assert.Error(t, err)
}
