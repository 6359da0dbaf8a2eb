package cache

import (
	"time"

	"github.com/agentuity/diskcache/logger"
	"github.com/agentuity/diskcache/timeutil"
	"github.com/redis/go-redis/v9"
)

// DefaultExpiryCheck is how often the sweeper removes expired entries.
const DefaultExpiryCheck = 60 * time.Second

// DefaultQueryTimeout is the per-operation timeout for backends that
// perform network or database I/O (SQLite, Redis).
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a cache implementation.
type config struct {
	expiryCheck         time.Duration
	queryTimeout        time.Duration
	destructiveRecovery bool
	prefix              string
	logger              logger.Logger
	now                 func() time.Time
	redisClient         *redis.Client
}

// Option configures a Cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		expiryCheck:  DefaultExpiryCheck,
		queryTimeout: DefaultQueryTimeout,
		now:          timeutil.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = DefaultExpiryCheck
	}
	if cfg.queryTimeout <= 0 {
		cfg.queryTimeout = DefaultQueryTimeout
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger()
	}
	return cfg
}

// WithExpiryCheck sets the interval between background expiration sweeps.
// Defaults to DefaultExpiryCheck (60 seconds).
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithQueryTimeout sets the per-operation timeout for the SQLite and Redis
// backends. Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithDestructiveRecovery makes the SQLite backend delete its database file
// when listing keys fails, instead of returning the error. Off by default.
func WithDestructiveRecovery(enabled bool) Option {
	return func(c *config) { c.destructiveRecovery = enabled }
}

// WithLogger sets the logger used by the backend and its sweeper.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock replaces the clock used for expiry decisions. The function must
// be safe for concurrent use.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithPrefix namespaces keys in the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithRedisClient supplies the client used when a Manager is built with StoreRedis.
func WithRedisClient(client *redis.Client) Option {
	return func(c *config) { c.redisClient = client }
}
