package cache

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/diskcache/timeutil"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !e.expires.After(now)
}

type memoryCache struct {
	cache   map[string]*memoryEntry
	mutex   sync.Mutex
	cfg     config
	closed  atomic.Bool
	sweeper *sweeper
}

var _ Cache = (*memoryCache)(nil)

// NewMemory returns a Cache that lives only in process memory. It honors the
// same contract as the disk backends and is handy in tests.
func NewMemory(ctx context.Context, opts ...Option) Cache {
	cfg := applyOptions(opts)
	c := &memoryCache{
		cache: make(map[string]*memoryEntry),
		cfg:   cfg,
	}
	c.sweeper = startSweeper(ctx, c, cfg.expiryCheck, cfg.logger.WithPrefix("[memory-cache]"))
	return c
}

func (c *memoryCache) now() time.Time { return c.cfg.now() }

func (c *memoryCache) check(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return assertKey(key)
}

func (c *memoryCache) Add(_ context.Context, key string, val []byte, expires time.Time) (bool, error) {
	if err := c.check(key); err != nil {
		return false, err
	}
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed.Load() {
		return false, ErrClosed
	}
	if v, ok := c.cache[key]; ok && !v.expired(now) {
		return false, nil
	}
	c.cache[key] = &memoryEntry{data: bytes.Clone(val), expires: timeutil.UTC(expires)}
	if c.cache[key].data == nil {
		c.cache[key].data = []byte{}
	}
	return true, nil
}

func (c *memoryCache) Get(_ context.Context, key string) (bool, []byte, error) {
	if err := c.check(key); err != nil {
		return false, nil, err
	}
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	v, ok := c.cache[key]
	if !ok {
		return false, nil, nil
	}
	if v.expired(now) {
		delete(c.cache, key)
		return false, nil, nil
	}
	return true, bytes.Clone(v.data), nil
}

func (c *memoryCache) Remove(_ context.Context, key string) error {
	if err := c.check(key); err != nil {
		return err
	}
	c.mutex.Lock()
	delete(c.cache, key)
	c.mutex.Unlock()
	return nil
}

func (c *memoryCache) Keys(_ context.Context, prefix string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	keys := make([]string, 0, len(c.cache))
	for key, v := range c.cache {
		if strings.HasPrefix(key, prefix) && !v.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (c *memoryCache) ExpireItems(_ context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var n int
	for key, v := range c.cache {
		if v.expired(now) {
			delete(c.cache, key)
			n++
		}
	}
	return n, nil
}

func (c *memoryCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sweeper.stop()
	c.mutex.Lock()
	c.cache = make(map[string]*memoryEntry)
	c.mutex.Unlock()
	return nil
}
