package env

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// Environment variables consulted when the matching flag is not set.
const (
	Dir                 = "DISKCACHE_DIR"
	Store               = "DISKCACHE_STORE"
	Config              = "DISKCACHE_CONFIG"
	RedisURL            = "DISKCACHE_REDIS_URL"
	DestructiveRecovery = "DISKCACHE_DESTRUCTIVE_RECOVERY"
	LogFormat           = "DISKCACHE_LOG_FORMAT"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// BoolFlagOrEnv is FlagOrEnv for boolean flags. An explicitly set flag wins,
// then a parseable environment value, then defaultValue.
func BoolFlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue bool) bool {
	if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	if val, ok := os.LookupEnv(envName); ok {
		if v, err := strconv.ParseBool(val); err == nil {
			return v
		}
	}
	return defaultValue
}
