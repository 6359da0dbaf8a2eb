package cache

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Cache is the contract every backend satisfies. Entries are insert-once:
// a key can only be written again after it was removed or expired.
type Cache interface {
	// Add stores val under key. It returns false, without touching the
	// stored entry, when key is already present. A zero expires means the
	// entry never expires.
	Add(ctx context.Context, key string, val []byte, expires time.Time) (bool, error)

	// Get returns the payload stored under key. A missing, expired or
	// undecodable entry reads as not found.
	Get(ctx context.Context, key string) (bool, []byte, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys returns every key beginning with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// ExpireItems drops expired entries and reports how many were removed.
	// The background sweeper calls it on every tick.
	ExpireItems(ctx context.Context) (int, error)

	// Close stops the sweeper and releases the backend's resources.
	Close() error
}

// StoreType selects the backend a Manager builds.
type StoreType int

const (
	StoreSQLite StoreType = iota
	StoreFile
	StoreMemory
	StoreRedis
)

func (s StoreType) String() string {
	switch s {
	case StoreSQLite:
		return "sqlite"
	case StoreFile:
		return "file"
	case StoreMemory:
		return "memory"
	case StoreRedis:
		return "redis"
	}
	return "unknown"
}

// ParseStoreType converts a backend name ("sqlite", "file", "memory", "redis") into a StoreType.
func ParseStoreType(s string) (StoreType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3", "":
		return StoreSQLite, nil
	case "file", "files":
		return StoreFile, nil
	case "memory", "inmemory":
		return StoreMemory, nil
	case "redis":
		return StoreRedis, nil
	}
	return StoreSQLite, errors.Newf("cache: unknown store type %q", s)
}
