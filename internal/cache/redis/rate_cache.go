package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// RateCache stores the oracle conversion rate of the backing asset as a hash
// at "rate:{asset}" with fields "num", "den" and "ts" (Unix nanoseconds).
type RateCache struct {
	rdb *redis.Client
}

// NewRateCache creates a RateCache.
func NewRateCache(c *Client) *RateCache {
	return &RateCache{rdb: c.Underlying()}
}

func rateKey(asset string) string {
	return "rate:" + asset
}

// SetRate stores the latest rate.
func (rc *RateCache) SetRate(ctx context.Context, asset string, rate domain.Rate, ts time.Time) error {
	err := rc.rdb.HSet(ctx, rateKey(asset), map[string]any{
		"num": strconv.FormatUint(rate.Num, 10),
		"den": strconv.FormatUint(rate.Den, 10),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: set rate %s: %w", asset, err)
	}
	return nil
}

// GetRate returns the latest rate and when it was stored, or
// domain.ErrNotFound.
func (rc *RateCache) GetRate(ctx context.Context, asset string) (domain.Rate, time.Time, error) {
	vals, err := rc.rdb.HGetAll(ctx, rateKey(asset)).Result()
	if err != nil {
		return domain.Rate{}, time.Time{}, fmt.Errorf("redis: get rate %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return domain.Rate{}, time.Time{}, domain.ErrNotFound
	}

	field := func(name string) (uint64, error) {
		s, ok := vals[name]
		if !ok {
			return 0, domain.ErrNotFound
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("redis: parse rate %s %s: %w", asset, name, err)
		}
		return v, nil
	}
	num, err := field("num")
	if err != nil {
		return domain.Rate{}, time.Time{}, err
	}
	den, err := field("den")
	if err != nil {
		return domain.Rate{}, time.Time{}, err
	}
	ts, err := field("ts")
	if err != nil {
		return domain.Rate{}, time.Time{}, err
	}
	return domain.Rate{Num: num, Den: den}, time.Unix(0, int64(ts)), nil
}

var _ domain.RateCache = (*RateCache)(nil)
