// Package config loads the approvald configuration from a YAML file and
// BANK_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"approval-chain/pkg/api"
	"approval-chain/pkg/lock"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/notify"
	"approval-chain/pkg/pipeline"
	"approval-chain/pkg/resilience"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment override, e.g. BANK_DATABASE_DRIVER.
const EnvPrefix = "BANK"

// Config is the complete service configuration.
type Config struct {
	Log           logging.Config      `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Lock          LockConfig          `mapstructure:"lock"`
	Pipeline      pipeline.Config     `mapstructure:"pipeline"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	API           api.ServerConfig    `mapstructure:"api"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	Users         []UserConfig        `mapstructure:"users"`

	// ConfigPath is the file the configuration was read from, if any.
	ConfigPath string `mapstructure:"-"`
}

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string `mapstructure:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `mapstructure:"dsn"`

	// GuardExpectedItems sizes the bloom filter of known account numbers.
	// 0 disables the guard. The guard only fronts the memory driver since
	// a shared database can gain accounts the filter never saw.
	GuardExpectedItems uint `mapstructure:"guard_expected_items"`
	// GuardFalsePositiveRate is the target false positive rate of the filter.
	GuardFalsePositiveRate float64 `mapstructure:"guard_false_positive_rate"`
}

// GuardEnabled reports whether lookups go through the bloom filter guard.
func (c DatabaseConfig) GuardEnabled() bool {
	return c.GuardExpectedItems > 0 && c.Driver == DriverMemory
}

// RedisConfig configures distributed account locks. An empty Addr with no
// ClusterAddrs keeps locks in process.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	ClusterAddrs  []string      `mapstructure:"cluster_addrs"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != "" || len(c.ClusterAddrs) > 0
}

// LockerConfig converts c to the Redis locker configuration.
func (c RedisConfig) LockerConfig() lock.RedisConfig {
	rc := lock.DefaultRedisConfig()
	rc.Addr = c.Addr
	rc.ClusterAddrs = c.ClusterAddrs
	rc.Username = c.Username
	rc.Password = c.Password
	rc.DB = c.DB
	if c.KeyPrefix != "" {
		rc.KeyPrefix = c.KeyPrefix
	}
	if c.LockTTL > 0 {
		rc.TTL = c.LockTTL
	}
	if c.RetryInterval > 0 {
		rc.RetryInterval = c.RetryInterval
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	return rc
}

// LockConfig bounds how long an operation waits for account locks.
type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// NotificationsConfig configures the dispatcher and its circuit breaker.
type NotificationsConfig struct {
	notify.Config `mapstructure:",squash"`

	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32 `mapstructure:"breaker_failures"`
}

// Breaker returns the resilience configuration for the notification channel.
func (c NotificationsConfig) Breaker() resilience.Config {
	rc := resilience.DefaultConfig()
	if c.DeliveryTimeout > 0 {
		rc = rc.WithTimeout(c.DeliveryTimeout)
	}
	if c.BreakerTimeout > 0 {
		rc = rc.WithCircuitBreakerTimeout(c.BreakerTimeout)
	}
	if c.BreakerFailures > 0 {
		rc = rc.WithConsecutiveFailures(c.BreakerFailures)
	}
	return rc
}

// MetricsConfig configures prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// SweepConfig configures the periodic re-processing of PENDING transactions
// while serving. An Interval of 0 disables it.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// UserConfig is a user directory entry created at startup.
type UserConfig struct {
	ID       int64    `mapstructure:"id"`
	Username string   `mapstructure:"username"`
	Roles    []string `mapstructure:"roles"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Log: logging.DefaultConfig(),
		Database: DatabaseConfig{
			Driver:                 DriverMemory,
			GuardExpectedItems:     100000,
			GuardFalsePositiveRate: 0.01,
		},
		Redis: RedisConfig{
			KeyPrefix:     "approval:lock:",
			LockTTL:       30 * time.Second,
			RetryInterval: 25 * time.Millisecond,
			DialTimeout:   5 * time.Second,
		},
		Lock:     LockConfig{Timeout: 10 * time.Second},
		Pipeline: pipeline.DefaultConfig(),
		Notifications: NotificationsConfig{
			Config:          notify.DefaultConfig(),
			BreakerTimeout:  30 * time.Second,
			BreakerFailures: 5,
		},
		API: api.DefaultServerConfig(),
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "approval",
		},
		Sweep: SweepConfig{Interval: time.Minute},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var err error

	err = multierr.Append(err, c.Log.Validate())

	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			err = multierr.Append(err, fmt.Errorf("config: database.dsn is required for driver %s", c.Database.Driver))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("config: unknown database.driver %q", c.Database.Driver))
	}
	if c.Database.GuardExpectedItems > 0 &&
		(c.Database.GuardFalsePositiveRate <= 0 || c.Database.GuardFalsePositiveRate >= 1) {
		err = multierr.Append(err, errors.New("config: database.guard_false_positive_rate must be in (0, 1)"))
	}

	if c.Redis.Enabled() {
		err = multierr.Append(err, c.Redis.LockerConfig().Validate())
	}
	if c.Lock.Timeout <= 0 {
		err = multierr.Append(err, errors.New("config: lock.timeout must be positive"))
	}

	err = multierr.Append(err, c.Pipeline.Validate())
	err = multierr.Append(err, c.Notifications.Config.Validate())
	err = multierr.Append(err, c.Notifications.Breaker().Validate())
	err = multierr.Append(err, c.API.Validate())

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		err = multierr.Append(err, errors.New("config: metrics.namespace is required"))
	}
	if c.Sweep.Interval < 0 {
		err = multierr.Append(err, errors.New("config: sweep.interval must not be negative"))
	}

	seen := make(map[int64]bool, len(c.Users))
	for _, u := range c.Users {
		switch {
		case u.ID <= 0:
			err = multierr.Append(err, fmt.Errorf("config: users: id must be positive, got %d", u.ID))
		case seen[u.ID]:
			err = multierr.Append(err, fmt.Errorf("config: users: duplicate id %d", u.ID))
		}
		seen[u.ID] = true
	}

	return err
}

// Load reads the configuration. With an empty path it looks for
// approvald.yaml in the working directory and /etc/approvald, and a missing
// file is not an error. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("approvald")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/approvald")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindDefaults registers every key of cfg as a default so that AutomaticEnv
// can override keys absent from the file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	bindKeys(v, "", reflect.ValueOf(cfg).Elem())
}

func bindKeys(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		fv := val.Field(i)
		if opts == "squash" {
			bindKeys(v, prefix, fv)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		switch {
		case fv.Type() == decimalType:
			v.SetDefault(key, fv.Interface().(decimal.Decimal).String())
		case fv.Kind() == reflect.Struct:
			bindKeys(v, key, fv)
		default:
			v.SetDefault(key, fv.Interface())
		}
	}
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		decimalHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and numbers into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case decimal.Decimal:
			return v, nil
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
			}
			return d, nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case uint64:
			return decimal.NewFromUint64(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		default:
			return nil, fmt.Errorf("cannot decode %T into decimal", data)
		}
	}
}
