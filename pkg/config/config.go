// Package config loads and validates the options shared by every distcache
// component.
package config

import (
	"crypto/tls"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/common/validation"
	"github.com/vnykmshr/distcache/pkg/lock"
)

// EnvPrefix prefixes environment overrides, e.g. DISTCACHE_DEFAULT_EXPIRATION.
const EnvPrefix = "DISTCACHE"

// Options configures the Redis connection and component defaults.
type Options struct {
	// RedisConnectionString is a redis:// or rediss:// URL, or
	// "host:port[,password=...][,user=...][,ssl=true][,defaultDatabase=N]".
	RedisConnectionString string `mapstructure:"redis_connection_string"`

	// ConnectRetry is how many times a failed command is retried by the client.
	ConnectRetry int `mapstructure:"connect_retry"`

	// ConnectTimeout bounds establishing a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// SyncTimeout bounds each socket read and write.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`

	// OperationTimeout bounds every store call end to end. Zero leaves it to
	// SyncTimeout and the caller's context.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`

	// DefaultExpiration applies to cache entries written without one.
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`

	// DistributedLockMaxDuration is the default and maximum lock lease.
	DistributedLockMaxDuration time.Duration `mapstructure:"distributed_lock_max_duration"`

	// ReconnectBackoffCeiling caps the client's exponential retry backoff.
	ReconnectBackoffCeiling time.Duration `mapstructure:"reconnect_backoff_ceiling"`
}

// DefaultOptions returns the defaults Load starts from.
func DefaultOptions() Options {
	return Options{
		RedisConnectionString:      "localhost:6379",
		ConnectRetry:               3,
		ConnectTimeout:             5 * time.Second,
		SyncTimeout:                5 * time.Second,
		DefaultExpiration:          5 * time.Minute,
		DistributedLockMaxDuration: 30 * time.Second,
		ReconnectBackoffCeiling:    10 * time.Second,
	}
}

// Load reads options from the YAML (or JSON/TOML) file at path, then applies
// DISTCACHE_* environment overrides over the defaults. An empty path loads
// defaults and environment only. The result is validated.
func Load(path string) (Options, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultOptions()
	v.SetDefault("redis_connection_string", defaults.RedisConnectionString)
	v.SetDefault("connect_retry", defaults.ConnectRetry)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("sync_timeout", defaults.SyncTimeout)
	v.SetDefault("operation_timeout", defaults.OperationTimeout)
	v.SetDefault("default_expiration", defaults.DefaultExpiration)
	v.SetDefault("distributed_lock_max_duration", defaults.DistributedLockMaxDuration)
	v.SetDefault("reconnect_backoff_ceiling", defaults.ReconnectBackoffCeiling)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, dcerrors.NewValidationError("config", "path", path, err.Error())
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, dcerrors.NewValidationError("config", "options", path, err.Error())
	}
	return opts, opts.Validate()
}

// Validate checks every field and names the first invalid one.
func (o Options) Validate() error {
	return validation.First(
		validation.ValidateNotEmpty("config", "redis_connection_string", o.RedisConnectionString),
		validation.ValidatePositive("config", "connect_retry", o.ConnectRetry),
		validation.ValidatePositiveDuration("config", "connect_timeout", o.ConnectTimeout),
		validation.ValidatePositiveDuration("config", "sync_timeout", o.SyncTimeout),
		validateNonNegative("operation_timeout", o.OperationTimeout),
		validation.ValidateMinDuration("config", "distributed_lock_max_duration", o.DistributedLockMaxDuration, lock.MinDuration),
		validation.ValidatePositiveDuration("config", "default_expiration", o.DefaultExpiration),
		validateNonNegative("reconnect_backoff_ceiling", o.ReconnectBackoffCeiling),
	)
}

func validateNonNegative(field string, d time.Duration) error {
	if d < 0 {
		return dcerrors.NewValidationError("config", field, d, "cannot be negative").
			WithHint("use 0 for the default")
	}
	return nil
}

// RedisOptions builds go-redis client options from o.
func (o Options) RedisOptions() (*redis.Options, error) {
	ro, err := parseConnectionString(o.RedisConnectionString)
	if err != nil {
		return nil, dcerrors.NewValidationError("config", "redis_connection_string", redact(o.RedisConnectionString), err.Error()).
			WithHint(`use "redis://[user:pass@]host:port/db" or "host:port,password=..."`)
	}

	ro.MaxRetries = o.ConnectRetry
	ro.DialTimeout = o.ConnectTimeout
	ro.ReadTimeout = o.SyncTimeout
	ro.WriteTimeout = o.SyncTimeout
	if o.ReconnectBackoffCeiling > 0 {
		ro.MaxRetryBackoff = o.ReconnectBackoffCeiling
	}
	return ro, nil
}

func parseConnectionString(s string) (*redis.Options, error) {
	if strings.Contains(s, "://") {
		return redis.ParseURL(s)
	}

	parts := strings.Split(s, ",")
	ro := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if ro.Addr == "" {
		return nil, errors.New("missing host:port")
	}
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, errors.New("option " + strconv.Quote(part) + " is not key=value")
		}
		switch strings.ToLower(key) {
		case "password":
			ro.Password = value
		case "user":
			ro.Username = value
		case "ssl":
			on, err := strconv.ParseBool(value)
			if err != nil {
				return nil, errors.New("ssl must be true or false")
			}
			if on {
				ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		case "defaultdatabase":
			db, err := strconv.Atoi(value)
			if err != nil || db < 0 {
				return nil, errors.New("defaultDatabase must be a non-negative integer")
			}
			ro.DB = db
		default:
			return nil, errors.New("unknown option " + strconv.Quote(key))
		}
	}
	return ro, nil
}

// redact hides a password in a connection string before it is reported.
func redact(s string) string {
	if i := strings.Index(strings.ToLower(s), "password="); i >= 0 {
		end := strings.IndexByte(s[i:], ',')
		if end < 0 {
			return s[:i] + "password=***"
		}
		return s[:i] + "password=***" + s[i+end:]
	}
	return s
}
