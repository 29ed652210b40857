package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"margincall/internal/domain"
)

// RateCache implements domain.RateCache using Redis hashes. Each quote is
// stored at key "rate:{pair}:{source}" with fields "rate" (decimal string in
// base units) and "ts" (Unix nanosecond timestamp).
type RateCache struct {
	rdb *redis.Client
}

// NewRateCache creates a RateCache backed by the given Client.
func NewRateCache(c *Client) *RateCache {
	return &RateCache{rdb: c.Underlying()}
}

func rateKey(pair, source string) string {
	return "rate:" + pair + ":" + source
}

// SetRate stores the latest quoted return for a pair and quote source.
func (rc *RateCache) SetRate(ctx context.Context, pair, source string, rate *big.Int, ts time.Time) error {
	if rate == nil {
		rate = new(big.Int)
	}
	key := rateKey(pair, source)
	fields := map[string]interface{}{
		"rate": rate.String(),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := rc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set rate %s/%s: %w", pair, source, err)
	}
	return nil
}

// GetRate retrieves the latest quoted return for a pair and quote source.
// It returns domain.ErrNotFound when the key does not exist.
func (rc *RateCache) GetRate(ctx context.Context, pair, source string) (*big.Int, time.Time, error) {
	key := rateKey(pair, source)
	vals, err := rc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get rate %s/%s: %w", pair, source, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	rateStr, ok := vals["rate"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	rate, ok := new(big.Int).SetString(rateStr, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: parse rate %s/%s: malformed value %q", pair, source, rateStr)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", pair, source, err)
	}

	return rate, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.RateCache = (*RateCache)(nil)
