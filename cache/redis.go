package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

type redisCache struct {
	client *redis.Client
	cfg    config
	closed atomic.Bool
}

var _ Cache = (*redisCache)(nil)

// NewRedis returns a Cache backed by Redis. Expiry uses native Redis TTLs,
// so no sweeper runs and ExpireItems is a no-op. The caller owns the
// redis.Client lifecycle; Close does not close it.
func NewRedis(client *redis.Client, opts ...Option) (Cache, error) {
	if client == nil {
		return nil, errors.Wrap(ErrNotInitialized, "cache: redis client is nil")
	}
	return &redisCache{client: client, cfg: applyOptions(opts)}, nil
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisCache) now() time.Time { return c.cfg.now() }

func (c *redisCache) check(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return assertKey(key)
}

func (c *redisCache) Add(ctx context.Context, key string, val []byte, expires time.Time) (bool, error) {
	if err := c.check(key); err != nil {
		return false, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k := c.prefixKey(key)

	var ttl time.Duration
	if !expires.IsZero() {
		ttl = expires.Sub(c.cfg.now())
		if ttl <= 0 {
			// Already expired: nothing to store, report whether the key was free.
			n, err := c.client.Exists(qctx, k).Result()
			if err != nil {
				return false, errors.Wrapf(err, "cache: exists %q", key)
			}
			return n == 0, nil
		}
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}
	}
	if val == nil {
		val = []byte{}
	}
	ok, err := c.client.SetNX(qctx, k, val, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "cache: set %q", key)
	}
	return ok, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	if err := c.check(key); err != nil {
		return false, nil, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errors.Wrapf(err, "cache: get %q", key)
	}
	return true, data, nil
}

func (c *redisCache) Remove(ctx context.Context, key string) error {
	if err := c.check(key); err != nil {
		return err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.client.Del(qctx, c.prefixKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "cache: remove %q", key)
	}
	return nil
}

func (c *redisCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	ns := c.prefixKey("")
	if c.cfg.prefix == "" {
		ns = ""
	}
	pattern := globEscaper.Replace(ns+prefix) + "*"
	seen := make(map[string]struct{})
	keys := []string{}
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(qctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "cache: scan %q", prefix)
		}
		for _, k := range batch {
			key := strings.TrimPrefix(k, ns)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// ExpireItems is a no-op, Redis evicts expired keys itself.
func (c *redisCache) ExpireItems(_ context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return 0, nil
}

// Close is a no-op on the client, which the caller owns.
func (c *redisCache) Close() error {
	c.closed.Store(true)
	return nil
}
