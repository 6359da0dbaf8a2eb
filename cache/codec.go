package cache

import (
	"context"
	"time"

	"github.com/agentuity/diskcache/timeutil"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// AddValue msgpack-encodes val and stores it under key. It returns false
// when key is already present.
func AddValue[T any](ctx context.Context, c Cache, key string, val T, expires time.Time) (bool, error) {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return false, errors.Wrapf(err, "cache: failed to marshal value for %q", key)
	}
	return c.Add(ctx, key, data, expires)
}

// GetValue reads key and decodes it into T. A payload that does not decode
// reads as not found, the same as a corrupt entry on disk.
func GetValue[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	var zero T
	found, data, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	var result T
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return false, zero, nil
	}
	return true, result, nil
}

// clocked is implemented by the backends in this package so helpers compute
// expiry against the clock the backend judges it with (see WithClock).
type clocked interface {
	now() time.Time
}

func cacheNow(c Cache) time.Time {
	if cc, ok := c.(clocked); ok {
		return cc.now()
	}
	return timeutil.Now()
}

// DefaultExpires is the lifetime Exec gives an entry when CacheConfig.Expires is zero.
const DefaultExpires = 5 * time.Minute

// CacheConfig configures the Exec helper.
type CacheConfig struct {
	// Expires is the lifetime of a stored value. Defaults to DefaultExpires if zero.
	Expires time.Duration
	// Key is the cache key. Required.
	Key string
}

// Invoker produces a value of type T. The bool reports whether a value was
// found; returning false keeps a zero value out of the cache.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. On a hit it returns the cached value. On a
// miss it calls invoke and, when invoke found a value, adds it to the cache
// to expire config.Expires after the cache's current time.
// Read errors are propagated without calling invoke. A failed add is
// swallowed since the caller already has the value, and losing an add race
// to another writer is not an error either.
func Exec[T any](ctx context.Context, config CacheConfig, c Cache, invoke Invoker[T]) (bool, T, error) {
	var zero T
	found, val, err := GetValue[T](ctx, c, config.Key)
	if err != nil {
		return false, zero, err
	}
	if found {
		return true, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		return false, zero, err
	}
	if !ok {
		return false, zero, nil
	}

	ttl := config.Expires
	if ttl <= 0 {
		ttl = DefaultExpires
	}
	_, _ = AddValue(ctx, c, config.Key, result, cacheNow(c).Add(ttl))
	return true, result, nil
}
