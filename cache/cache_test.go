package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/diskcache/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testBackend struct {
	cache   Cache
	clock   *fakeClock
	advance func(time.Duration)
	// exists reports whether the entry for key is still in storage, ignoring expiry.
	exists func(key string) bool
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

var backendFactories = map[string]func(t *testing.T) testBackend{
	"file": func(t *testing.T) testBackend {
		clock := newFakeClock()
		dir := t.TempDir()
		c, err := NewFile(context.Background(), dir, WithClock(clock.Now), WithExpiryCheck(time.Hour), WithLogger(logger.NewTestLogger()))
		require.NoError(t, err)
		return testBackend{
			cache:   c,
			clock:   clock,
			advance: clock.Advance,
			exists: func(key string) bool {
				_, err := os.Stat(filepath.Join(dir, SafeName(key)+fileExt))
				return err == nil
			},
		}
	},
	"sqlite": func(t *testing.T) testBackend {
		clock := newFakeClock()
		dir := t.TempDir()
		c, err := NewSQLite(context.Background(), dir, WithClock(clock.Now), WithExpiryCheck(time.Hour), WithLogger(logger.NewTestLogger()))
		require.NoError(t, err)
		return testBackend{
			cache:   c,
			clock:   clock,
			advance: clock.Advance,
			exists: func(key string) bool {
				return countRows(t, dir, key) > 0
			},
		}
	},
	"memory": func(t *testing.T) testBackend {
		clock := newFakeClock()
		c := NewMemory(context.Background(), WithClock(clock.Now), WithExpiryCheck(time.Hour), WithLogger(logger.NewTestLogger()))
		mc := c.(*memoryCache)
		return testBackend{
			cache:   c,
			clock:   clock,
			advance: clock.Advance,
			exists: func(key string) bool {
				mc.mutex.Lock()
				defer mc.mutex.Unlock()
				_, ok := mc.cache[key]
				return ok
			},
		}
	},
	"redis": func(t *testing.T) testBackend {
		clock := newFakeClock()
		mr, client := newTestRedis(t)
		c, err := NewRedis(client, WithClock(clock.Now), WithPrefix("test"), WithLogger(logger.NewTestLogger()))
		require.NoError(t, err)
		return testBackend{
			cache: c,
			clock: clock,
			advance: func(d time.Duration) {
				clock.Advance(d)
				mr.FastForward(d)
			},
			exists: func(key string) bool {
				return mr.Exists("test:" + key)
			},
		}
	},
}

// waitFirstSweep blocks until the sweeper's immediate first tick has run, so
// later state changes are not raced by it.
func waitFirstSweep(t *testing.T, c Cache) {
	t.Helper()
	var s *sweeper
	switch c := c.(type) {
	case *fileCache:
		s = c.sweeper
	case *sqliteCache:
		s = c.sweeper
	case *memoryCache:
		s = c.sweeper
	default:
		return
	}
	require.Eventually(t, func() bool { return s.ticks.Load() > 0 }, 2*time.Second, time.Millisecond)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b testBackend)) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			defer b.cache.Close()
			waitFirstSweep(t, b.cache)
			fn(t, b)
		})
	}
}

func TestCacheEmptyKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		_, err := b.cache.Add(ctx, "", []byte("v"), time.Time{})
		assert.ErrorIs(t, err, ErrEmptyKey)
		_, _, err = b.cache.Get(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyKey)
		assert.ErrorIs(t, b.cache.Remove(ctx, ""), ErrEmptyKey)
	})
}

func TestCacheGetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		found, val, err := b.cache.Get(context.Background(), "nope")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
	})
}

func TestCacheInsertOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		ok, err := b.cache.Add(ctx, "k", []byte("v1"), time.Time{})
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.cache.Add(ctx, "k", []byte("v2"), time.Time{})
		assert.NoError(t, err)
		assert.False(t, ok)

		found, val, err := b.cache.Get(ctx, "k")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v1"), val)
	})
}

func TestCacheRemoveThenAdd(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		ok, err := b.cache.Add(ctx, "k", []byte("v1"), time.Time{})
		assert.NoError(t, err)
		assert.True(t, ok)

		assert.NoError(t, b.cache.Remove(ctx, "k"))
		assert.NoError(t, b.cache.Remove(ctx, "k"))
		assert.False(t, b.exists("k"))

		found, _, err := b.cache.Get(ctx, "k")
		assert.NoError(t, err)
		assert.False(t, found)

		ok, err = b.cache.Add(ctx, "k", []byte("v2"), time.Time{})
		assert.NoError(t, err)
		assert.True(t, ok)

		found, val, err := b.cache.Get(ctx, "k")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v2"), val)
	})
}

func TestCacheRemoveMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		assert.NoError(t, b.cache.Remove(context.Background(), "never-added"))
	})
}

func TestCacheExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		ok, err := b.cache.Add(ctx, "k", []byte("v"), b.clock.Now().Add(time.Minute))
		assert.NoError(t, err)
		assert.True(t, ok)

		found, val, err := b.cache.Get(ctx, "k")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v"), val)

		b.advance(2 * time.Minute)

		found, val, err = b.cache.Get(ctx, "k")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)

		_, err = b.cache.ExpireItems(ctx)
		assert.NoError(t, err)
		assert.False(t, b.exists("k"))

		ok, err = b.cache.Add(ctx, "k", []byte("again"), time.Time{})
		assert.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCacheAddAlreadyExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		ok, err := b.cache.Add(ctx, "k", []byte("v"), b.clock.Now().Add(-time.Minute))
		assert.NoError(t, err)
		assert.True(t, ok)

		found, _, err := b.cache.Get(ctx, "k")
		assert.NoError(t, err)
		assert.False(t, found)
	})
}

func TestCacheNoExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		ok, err := b.cache.Add(ctx, "forever", []byte("v"), time.Time{})
		assert.NoError(t, err)
		assert.True(t, ok)

		b.advance(365 * 24 * time.Hour)
		_, err = b.cache.ExpireItems(ctx)
		assert.NoError(t, err)

		found, val, err := b.cache.Get(ctx, "forever")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v"), val)
	})
}

func TestCacheBinaryPayload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		payload := []byte{0, 1, 2, 0xff, 0, 0xfe}
		ok, err := b.cache.Add(ctx, "bin", payload, time.Time{})
		assert.NoError(t, err)
		assert.True(t, ok)

		found, val, err := b.cache.Get(ctx, "bin")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, payload, val)

		ok, err = b.cache.Add(ctx, "empty", []byte{}, time.Time{})
		assert.NoError(t, err)
		assert.True(t, ok)

		found, val, err = b.cache.Get(ctx, "empty")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, val)
	})
}

func TestCacheKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		for _, k := range []string{"user:1", "user:2", "order:1"} {
			ok, err := b.cache.Add(ctx, k, []byte(k), time.Time{})
			assert.NoError(t, err)
			assert.True(t, ok)
		}

		keys, err := b.cache.Keys(ctx, "user:")
		assert.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)

		keys, err = b.cache.Keys(ctx, "")
		assert.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:1", "user:2", "order:1"}, keys)

		keys, err = b.cache.Keys(ctx, "nope")
		assert.NoError(t, err)
		assert.Empty(t, keys)

		assert.NoError(t, b.cache.Remove(ctx, "user:1"))
		keys, err = b.cache.Keys(ctx, "user:")
		assert.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:2"}, keys)
	})
}

func TestCacheConcurrentAdd(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		var wins atomic.Int32
		var winner atomic.Int32
		var g errgroup.Group
		for i := 0; i < 16; i++ {
			i := i
			g.Go(func() error {
				ok, err := b.cache.Add(ctx, "shared", []byte(fmt.Sprintf("writer-%d", i)), time.Time{})
				if ok {
					wins.Add(1)
					winner.Store(int32(i))
				}
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), wins.Load())

		found, val, err := b.cache.Get(ctx, "shared")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, fmt.Sprintf("writer-%d", winner.Load()), string(val))
	})
}

func TestCacheConcurrentOperations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		const writers, perWriter = 8, 10
		g, ctx := errgroup.WithContext(context.Background())
		for w := 0; w < writers; w++ {
			w := w
			g.Go(func() error {
				for i := 0; i < perWriter; i++ {
					key := fmt.Sprintf("w%d:%d", w, i)
					ok, err := b.cache.Add(ctx, key, []byte(key), time.Time{})
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("add %s: key already present", key)
					}
					found, val, err := b.cache.Get(ctx, key)
					if err != nil {
						return err
					}
					if !found || string(val) != key {
						return fmt.Errorf("get %s: found=%v val=%q", key, found, val)
					}
				}
				return nil
			})
		}
		for r := 0; r < 4; r++ {
			g.Go(func() error {
				for i := 0; i < perWriter; i++ {
					if _, err := b.cache.Keys(ctx, "w"); err != nil {
						return err
					}
					if _, err := b.cache.ExpireItems(ctx); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		keys, err := b.cache.Keys(context.Background(), "w")
		assert.NoError(t, err)
		assert.Len(t, keys, writers*perWriter)
	})
}

func TestCacheClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		assert.NoError(t, b.cache.Close())
		assert.NoError(t, b.cache.Close())

		_, err := b.cache.Add(ctx, "k", []byte("v"), time.Time{})
		assert.ErrorIs(t, err, ErrClosed)
		_, _, err = b.cache.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, b.cache.Remove(ctx, "k"), ErrClosed)
		_, err = b.cache.Keys(ctx, "")
		assert.ErrorIs(t, err, ErrClosed)
		_, err = b.cache.ExpireItems(ctx)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestDiskBackendsRequirePath(t *testing.T) {
	_, err := NewFile(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = NewSQLite(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestParseStoreType(t *testing.T) {
	for in, want := range map[string]StoreType{
		"":       StoreSQLite,
		"sqlite": StoreSQLite,
		"File":   StoreFile,
		"memory": StoreMemory,
		"redis":  StoreRedis,
	} {
		got, err := ParseStoreType(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStoreType("postgres")
	assert.Error(t, err)
	assert.Equal(t, "file", StoreFile.String())
	assert.Equal(t, "unknown", StoreType(42).String())
}
