package fx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/ledgerpay/internal/platform/cache"
)

type cachedRate struct {
	Rate  decimal.Decimal `json:"rate"`
	Found bool            `json:"found"`
}

// CachedSource memoizes another Source in redis and collapses concurrent
// lookups of the same key.
type CachedSource struct {
	next   Source
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedSource wraps next. A nil client disables caching.
func NewCachedSource(next Source, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{next: next, client: client, ttl: ttl, logger: logger}
}

// LatestRate implements Source.
func (c *CachedSource) LatestRate(ctx context.Context, base, quote string, asOf time.Time) (decimal.Decimal, bool, error) {
	base, quote = normalize(base), normalize(quote)
	if base == quote {
		return decimal.NewFromInt(1), true, nil
	}
	key := fmt.Sprintf("fx:%s:%s:%s", base, quote, asOf.Format("2006-01-02"))
	v, err, _ := c.group.Do(key, func() (any, error) {
		if c.client != nil {
			var hit cachedRate
			found, err := cache.GetJSON(ctx, c.client, key, &hit)
			if err != nil {
				c.logger.Warn("fx cache read failed", slog.String("key", key), slog.Any("error", err))
			} else if found {
				return hit, nil
			}
		}
		rate, ok, err := c.next.LatestRate(ctx, base, quote, asOf)
		if err != nil {
			return nil, err
		}
		result := cachedRate{Rate: rate, Found: ok}
		if c.client != nil {
			if err := cache.SetJSON(ctx, c.client, key, result, c.ttl); err != nil {
				c.logger.Warn("fx cache write failed", slog.String("key", key), slog.Any("error", err))
			}
		}
		return result, nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	result := v.(cachedRate)
	return result.Rate, result.Found, nil
}
