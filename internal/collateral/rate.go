package collateral

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// CreditDecimals is the fixed precision of credit units.
const CreditDecimals = 6

// RateSource yields the asset → credit conversion rate.
type RateSource interface {
	Rate(ctx context.Context) (domain.Rate, error)
}

// FixedRate is a constant conversion rate.
type FixedRate domain.Rate

// Rate implements RateSource.
func (r FixedRate) Rate(context.Context) (domain.Rate, error) {
	rate := domain.Rate(r)
	if !rate.Valid() {
		return domain.Rate{}, fmt.Errorf("collateral: fixed rate %d/%d: %w", r.Num, r.Den, domain.ErrInvalidAmount)
	}
	return rate, nil
}

// CachedRate reads the oracle rate published to the rate cache and falls back
// to a configured rate when the cached value is missing or older than MaxAge.
type CachedRate struct {
	cache    domain.RateCache
	asset    string
	maxAge   time.Duration
	fallback domain.Rate
	now      func() time.Time
}

// NewCachedRate builds a cache-backed RateSource for asset.
func NewCachedRate(cache domain.RateCache, asset string, maxAge time.Duration, fallback domain.Rate) *CachedRate {
	return &CachedRate{cache: cache, asset: asset, maxAge: maxAge, fallback: fallback, now: time.Now}
}

// Rate implements RateSource.
func (c *CachedRate) Rate(ctx context.Context) (domain.Rate, error) {
	rate, ts, err := c.cache.GetRate(ctx, c.asset)
	if err == nil && rate.Valid() && (c.maxAge <= 0 || c.now().Sub(ts) <= c.maxAge) {
		return rate, nil
	}
	return FixedRate(c.fallback).Rate(ctx)
}

// ToCredits converts a backing-asset amount with assetDecimals precision to
// credit units: asset * Num / Den, rescaled to CreditDecimals. Results that do
// not fit an int64 are rejected.
func ToCredits(asset *uint256.Int, rate domain.Rate, assetDecimals uint8) (int64, error) {
	if asset == nil || !rate.Valid() {
		return 0, fmt.Errorf("collateral: convert: %w", domain.ErrInvalidAmount)
	}
	v, overflow := new(uint256.Int).MulDivOverflow(asset, uint256.NewInt(rate.Num), uint256.NewInt(rate.Den))
	if overflow {
		return 0, fmt.Errorf("collateral: convert overflow: %w", domain.ErrInvalidAmount)
	}
	switch {
	case assetDecimals > CreditDecimals:
		v.Div(v, pow10(assetDecimals-CreditDecimals))
	case assetDecimals < CreditDecimals:
		if _, of := v.MulOverflow(v, pow10(CreditDecimals-assetDecimals)); of {
			return 0, fmt.Errorf("collateral: convert overflow: %w", domain.ErrInvalidAmount)
		}
	}
	if !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("collateral: convert: %s credits out of range: %w", v.Dec(), domain.ErrInvalidAmount)
	}
	return int64(v.Uint64()), nil
}

// ToAsset is the inverse of ToCredits, rounding down.
func ToAsset(credits int64, rate domain.Rate, assetDecimals uint8) (*uint256.Int, error) {
	if credits < 0 || !rate.Valid() {
		return nil, fmt.Errorf("collateral: convert: %w", domain.ErrInvalidAmount)
	}
	v := uint256.NewInt(uint64(credits))
	switch {
	case assetDecimals > CreditDecimals:
		v.Mul(v, pow10(assetDecimals-CreditDecimals))
	case assetDecimals < CreditDecimals:
		v.Div(v, pow10(CreditDecimals-assetDecimals))
	}
	out, overflow := new(uint256.Int).MulDivOverflow(v, uint256.NewInt(rate.Den), uint256.NewInt(rate.Num))
	if overflow {
		return nil, fmt.Errorf("collateral: convert overflow: %w", domain.ErrInvalidAmount)
	}
	return out, nil
}

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
