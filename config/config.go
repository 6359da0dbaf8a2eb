package config

import (
	"os"
	"strings"
	"time"

	"github.com/agentuity/diskcache/cache"
	"github.com/agentuity/diskcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a config value fails validation.
var ErrInvalidConfig = errors.New("config: invalid value")

// Duration is a time.Duration that reads from YAML strings such as "90s",
// "5m" or "1d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(ErrInvalidConfig, "duration %q on line %d: %s", s, value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return str2duration.String(time.Duration(d)), nil
}

type Redis struct {
	URL    string `yaml:"url,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Config is the on-disk configuration of a diskcache deployment.
type Config struct {
	BaseFolder          string   `yaml:"base_folder,omitempty"`
	Store               string   `yaml:"store,omitempty"`
	ExpiryCheck         Duration `yaml:"expiry_check,omitempty"`
	QueryTimeout        Duration `yaml:"query_timeout,omitempty"`
	DestructiveRecovery bool     `yaml:"destructive_recovery,omitempty"`
	LogLevel            string   `yaml:"log_level,omitempty"`
	LogFormat           string   `yaml:"log_format,omitempty"`
	Redis               Redis    `yaml:"redis,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Store:        cache.StoreSQLite.String(),
		ExpiryCheck:  Duration(cache.DefaultExpiryCheck),
		QueryTimeout: Duration(cache.DefaultQueryTimeout),
		LogLevel:     logger.LevelInfo.String(),
		LogFormat:    "console",
	}
}

// Load reads fn on top of the defaults. A missing file is not an error.
func Load(fn string) (Config, error) {
	if _, err := os.Stat(fn); os.IsNotExist(err) {
		return Default(), nil
	}
	buf, err := os.ReadFile(fn)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file: %s", fn)
	}
	c, err := Parse(buf)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to decode YAML config file: %s", fn)
	}
	return c, nil
}

// Parse decodes buf on top of the defaults and validates the result.
func Parse(buf []byte) (Config, error) {
	c := Default()
	if len(strings.TrimSpace(string(buf))) > 0 {
		if err := yaml.Unmarshal(buf, &c); err != nil {
			return Config{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes the config to fn as YAML.
func (c Config) Save(fn string) error {
	of, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer of.Close()
	enc := yaml.NewEncoder(of)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrapf(err, "failed to encode config file: %s", fn)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return of.Close()
}

func (c Config) Validate() error {
	st, err := cache.ParseStoreType(c.Store)
	if err != nil {
		return errors.Wrapf(ErrInvalidConfig, "store %q", c.Store)
	}
	if c.ExpiryCheck < 0 {
		return errors.Wrapf(ErrInvalidConfig, "expiry_check must be >= 0, got %s", time.Duration(c.ExpiryCheck))
	}
	if c.QueryTimeout < 0 {
		return errors.Wrapf(ErrInvalidConfig, "query_timeout must be >= 0, got %s", time.Duration(c.QueryTimeout))
	}
	if c.LogLevel != "" {
		if _, ok := logger.ParseLevel(c.LogLevel); !ok {
			return errors.Wrapf(ErrInvalidConfig, "log_level %q", c.LogLevel)
		}
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return errors.Wrapf(ErrInvalidConfig, "log_format %q, only console or json are supported", c.LogFormat)
	}
	if st == cache.StoreRedis && c.Redis.URL == "" {
		return errors.Wrap(ErrInvalidConfig, "redis.url is required when store is redis")
	}
	return nil
}

// StoreType returns the configured backend.
func (c Config) StoreType() cache.StoreType {
	st, _ := cache.ParseStoreType(c.Store)
	return st
}

// Logger builds the logger described by log_level and log_format.
func (c Config) Logger() logger.Logger {
	level, ok := logger.ParseLevel(c.LogLevel)
	if !ok {
		level = logger.GetLevelFromEnv()
	}
	if c.LogFormat == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

// RedisClient connects a client for redis.url.
func (c Config) RedisClient() (*redis.Client, error) {
	if c.Redis.URL == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "redis.url is empty")
	}
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "redis.url: %s", err)
	}
	return redis.NewClient(opts), nil
}

// Options maps the config onto cache options. For the redis store the
// returned client must be closed by the caller; it is nil otherwise.
func (c Config) Options(log logger.Logger) ([]cache.Option, *redis.Client, error) {
	opts := []cache.Option{
		cache.WithLogger(log),
		cache.WithExpiryCheck(time.Duration(c.ExpiryCheck)),
		cache.WithQueryTimeout(time.Duration(c.QueryTimeout)),
		cache.WithDestructiveRecovery(c.DestructiveRecovery),
	}
	if c.StoreType() != cache.StoreRedis {
		return opts, nil, nil
	}
	client, err := c.RedisClient()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, cache.WithRedisClient(client), cache.WithPrefix(c.Redis.Prefix))
	return opts, client, nil
}
