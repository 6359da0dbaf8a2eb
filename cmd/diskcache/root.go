package main

import (
	"os"
	"path/filepath"

	"github.com/agentuity/diskcache/cache"
	"github.com/agentuity/diskcache/config"
	"github.com/agentuity/diskcache/env"
	"github.com/agentuity/diskcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	errNotFound  = errors.New("key not found")
	errKeyExists = errors.New("key already present")
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	cfg     config.Config
	log     logger.Logger
	manager *cache.Manager
	redis   *redis.Client
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(env.FlagOrEnv(cmd, "config", env.Config, defaultConfigFile()))
	if err != nil {
		return err
	}
	cfg.BaseFolder = env.FlagOrEnv(cmd, "dir", env.Dir, cfg.BaseFolder)
	if cfg.BaseFolder == "" {
		cfg.BaseFolder = defaultBaseFolder()
	}
	cfg.Store = env.FlagOrEnv(cmd, "store", env.Store, cfg.Store)
	cfg.Redis.URL = env.FlagOrEnv(cmd, "redis-url", env.RedisURL, cfg.Redis.URL)
	cfg.DestructiveRecovery = env.BoolFlagOrEnv(cmd, "destructive-recovery", env.DestructiveRecovery, cfg.DestructiveRecovery)
	cfg.LogLevel = env.FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, cfg.LogLevel)
	cfg.LogFormat = env.FlagOrEnv(cmd, "log-format", env.LogFormat, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.log = cfg.Logger().WithPrefix("[diskcache]")

	opts, client, err := cfg.Options(a.log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.redis = client
	a.manager = cache.NewManager(cmd.Context(), cfg.StoreType(), opts...)
	a.manager.Initialize(cfg.BaseFolder)
	a.log.Debug("using %s store in %s", cfg.StoreType(), a.manager.CachePath())
	return nil
}

// close releases whatever setup built. Cobra skips post-run hooks when a
// command fails, so callers defer it around Execute.
func (a *app) close() error {
	var err error
	if a.manager != nil {
		err = a.manager.Close()
	}
	if a.redis != nil {
		err = errors.CombineErrors(err, a.redis.Close())
	}
	return err
}

func defaultBaseFolder() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "diskcache")
}

func defaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "diskcache", "config.yaml")
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "diskcache",
		Short:         "Inspect and maintain an on-disk key/value cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("dir", "", "base folder, the cache lives in <dir>/Cache (env "+env.Dir+")")
	flags.String("store", "", "backend: sqlite, file, memory or redis (env "+env.Store+")")
	flags.String("config", "", "YAML config file (env "+env.Config+")")
	flags.String("log-level", "", "trace, debug, info, warn or error (env "+logger.EnvLogLevel+")")
	flags.String("log-format", "", "console or json (env "+env.LogFormat+")")
	flags.String("redis-url", "", "redis URL for the redis store (env "+env.RedisURL+")")
	flags.Bool("destructive-recovery", false, "delete a SQLite database that cannot be listed (env "+env.DestructiveRecovery+")")

	root.AddCommand(
		newAddCommand(a),
		newGetCommand(a),
		newRemoveCommand(a),
		newListCommand(a),
		newSweepCommand(a),
		newInfoCommand(a),
		newWatchCommand(a),
	)
	return root
}
