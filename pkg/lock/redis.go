package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"approval-chain/pkg/logging"
	"approval-chain/pkg/metrics"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// unlockScript deletes the key only while it still carries our token.
var unlockScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointed at the same Redis.
type RedisLocker struct {
	client  rueidis.Client
	config  RedisConfig
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

type RedisConfig struct {
	// Addr is the Redis server address for single node mode.
	Addr string
	// ClusterAddrs enables cluster mode when set.
	ClusterAddrs []string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	// TTL bounds how long a crashed holder can keep a key.
	TTL           time.Duration
	RetryInterval time.Duration
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		KeyPrefix:     "approval:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 25 * time.Millisecond,
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
	}
}

// Validate checks the configuration.
func (c RedisConfig) Validate() error {
	if c.Addr == "" && len(c.ClusterAddrs) == 0 {
		return fmt.Errorf("lock: no redis addresses configured (set Addr or ClusterAddrs)")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("lock: TTL must be positive")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("lock: RetryInterval must be positive")
	}
	return nil
}

func NewRedisLocker(config RedisConfig) (*RedisLocker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	initAddress := config.ClusterAddrs
	if len(initAddress) == 0 {
		initAddress = []string{config.Addr}
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("lock: failed to create redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lock: failed to ping redis: %w", err)
	}

	return &RedisLocker{
		client:  client,
		config:  config,
		metrics: metrics.NoOpCollector{},
		logger:  logging.Global().Named("lock"),
	}, nil
}

// WithMetrics sets the metrics collector.
func (r *RedisLocker) WithMetrics(m metrics.MetricsCollector) *RedisLocker {
	if m != nil {
		r.metrics = m
	}
	return r
}

// WithLogger sets the logger.
func (r *RedisLocker) WithLogger(l *logging.Logger) *RedisLocker {
	if l != nil {
		r.logger = l
	}
	return r
}

// Name implements Locker.
func (r *RedisLocker) Name() string { return "redis" }

// Lock implements Locker. Keys are taken one by one in sorted order; if any
// key cannot be taken before ctx ends, the ones already held are released.
func (r *RedisLocker) Lock(ctx context.Context, keys ...string) (Release, error) {
	keys, err := normalize(keys)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		full := r.config.KeyPrefix + k
		if err := r.acquire(ctx, full, token); err != nil {
			r.release(held, token)
			r.metrics.RecordLockWait(r.Name(), false, time.Since(start))
			return nil, err
		}
		held = append(held, full)
	}
	r.metrics.RecordLockWait(r.Name(), true, time.Since(start))

	var once sync.Once
	return func() { once.Do(func() { r.release(held, token) }) }, nil
}

func (r *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()

	for {
		// A built command must not be reused after Do.
		cmd := r.client.B().Set().Key(key).Value(token).Nx().PxMilliseconds(r.config.TTL.Milliseconds()).Build()
		err := r.client.Do(ctx, cmd).Error()
		if err == nil {
			return nil
		}
		if !rueidis.IsRedisNil(err) {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *RedisLocker) release(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.DialTimeout)
	defer cancel()

	for i := len(keys) - 1; i >= 0; i-- {
		if err := unlockScript.Exec(ctx, r.client, []string{keys[i]}, []string{token}).Error(); err != nil {
			r.logger.Warn("failed to release lock", zap.String("key", keys[i]), zap.Error(err))
		}
	}
}

// Close implements Locker.
func (r *RedisLocker) Close() error {
	r.client.Close()
	return nil
}
