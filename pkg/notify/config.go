package notify

import (
	"fmt"
	"time"
)

// Config configures the dispatcher.
type Config struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int `mapstructure:"queue_size"`

	// Workers is the number of concurrent workers (default: 2)
	Workers int `mapstructure:"workers"`

	// MaxWaitTime is how long Dispatch waits for queue space before dropping
	// the event (default: 10ms)
	MaxWaitTime time.Duration `mapstructure:"max_wait_time"`

	// DeliveryTimeout bounds a single Notify call. 0 means no limit.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`

	// DepthReportInterval is how often queue depth is reported to metrics.
	DepthReportInterval time.Duration `mapstructure:"depth_report_interval"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:           1000,
		Workers:             2,
		MaxWaitTime:         10 * time.Millisecond,
		DeliveryTimeout:     5 * time.Second,
		DepthReportInterval: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("notify: QueueSize must be positive, got %d", c.QueueSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("notify: Workers must be positive, got %d", c.Workers)
	}
	if c.MaxWaitTime < 0 {
		return fmt.Errorf("notify: MaxWaitTime must not be negative")
	}
	if c.DeliveryTimeout < 0 {
		return fmt.Errorf("notify: DeliveryTimeout must not be negative")
	}
	return nil
}

// WithWorkers returns a copy of the config with the given worker count.
func (c Config) WithWorkers(n int) Config {
	c.Workers = n
	return c
}

// WithQueueSize returns a copy of the config with the given queue size.
func (c Config) WithQueueSize(n int) Config {
	c.QueueSize = n
	return c
}

// WithMaxWaitTime returns a copy of the config with the given enqueue wait.
func (c Config) WithMaxWaitTime(d time.Duration) Config {
	c.MaxWaitTime = d
	return c
}
