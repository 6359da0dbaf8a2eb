package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// CacheFolder is the directory a Manager creates under its base folder.
const CacheFolder = "Cache"

// Manager is the entry point applications use. It is handed a base folder
// through Initialize and builds its backend inside <base>/Cache on the first
// operation, so constructing and initializing a Manager never touches disk.
type Manager struct {
	ctx       context.Context
	storeType StoreType
	opts      []Option

	mu     sync.Mutex
	base   string
	path   string
	cache  Cache
	closed bool
}

// NewManager returns a Manager for the given backend. ctx bounds the life of
// the backend's expiration sweeper.
func NewManager(ctx context.Context, storeType StoreType, opts ...Option) *Manager {
	return &Manager{ctx: ctx, storeType: storeType, opts: opts}
}

// Initialize records the base folder. It may be called again before the
// first operation to change it; afterwards the backend keeps its path.
func (m *Manager) Initialize(base string) {
	m.mu.Lock()
	m.base = base
	m.mu.Unlock()
}

// StoreType returns the backend this Manager builds.
func (m *Manager) StoreType() StoreType {
	return m.storeType
}

// CachePath returns <base>/Cache, or "" before Initialize.
func (m *Manager) CachePath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path != "" {
		return m.path
	}
	if m.base == "" {
		return ""
	}
	return filepath.Join(m.base, CacheFolder)
}

func (m *Manager) backend() (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.cache != nil {
		return m.cache, nil
	}
	if m.base == "" {
		return nil, ErrNotInitialized
	}
	path := filepath.Join(m.base, CacheFolder)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cache: create %s", path)
	}
	c, err := m.build(path)
	if err != nil {
		return nil, err
	}
	m.path = path
	m.cache = c
	return c, nil
}

func (m *Manager) build(path string) (Cache, error) {
	switch m.storeType {
	case StoreFile:
		return NewFile(m.ctx, path, m.opts...)
	case StoreSQLite:
		return NewSQLite(m.ctx, path, m.opts...)
	case StoreMemory:
		return NewMemory(m.ctx, m.opts...), nil
	case StoreRedis:
		cfg := applyOptions(m.opts)
		return NewRedis(cfg.redisClient, m.opts...)
	}
	return nil, errors.Newf("cache: unknown store type %d", int(m.storeType))
}

// Add stores val under key unless the key is already present.
func (m *Manager) Add(ctx context.Context, key string, val []byte, expires time.Time) (bool, error) {
	c, err := m.backend()
	if err != nil {
		return false, err
	}
	return c.Add(ctx, key, val, expires)
}

func (m *Manager) Get(ctx context.Context, key string) (bool, []byte, error) {
	c, err := m.backend()
	if err != nil {
		return false, nil, err
	}
	return c.Get(ctx, key)
}

// Value is the indexed read: the payload under key, or nil when absent.
func (m *Manager) Value(key string) ([]byte, error) {
	found, val, err := m.Get(m.ctx, key)
	if err != nil || !found {
		return nil, err
	}
	return val, nil
}

func (m *Manager) Remove(ctx context.Context, key string) error {
	c, err := m.backend()
	if err != nil {
		return err
	}
	return c.Remove(ctx, key)
}

func (m *Manager) Keys(ctx context.Context, prefix string) ([]string, error) {
	c, err := m.backend()
	if err != nil {
		return nil, err
	}
	return c.Keys(ctx, prefix)
}

func (m *Manager) ExpireItems(ctx context.Context) (int, error) {
	c, err := m.backend()
	if err != nil {
		return 0, err
	}
	return c.ExpireItems(ctx)
}

// Cache returns the live backend, building it if needed.
func (m *Manager) Cache() (Cache, error) {
	return m.backend()
}

// Close shuts the backend down. Closing a Manager that never built one is
// fine; any call after Close returns ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.cache == nil {
		return nil
	}
	return m.cache.Close()
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// Default returns the process-wide Manager, a SQLite cache bound to the
// background context. Callers still Initialize it with their base folder.
func Default() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager(context.Background(), StoreSQLite)
	})
	return defaultManager
}
