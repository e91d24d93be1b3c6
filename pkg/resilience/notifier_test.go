package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"approval-chain/pkg/metrics"
	memorycollector "approval-chain/pkg/metrics/memory"
	"approval-chain/pkg/notify"
)

type countingNotifier struct {
	name  string
	delay time.Duration
	err   error
	calls int64
}

func (c *countingNotifier) Name() string { return c.name }

func (c *countingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	atomic.AddInt64(&c.calls, 1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func fastTrip(n uint32) Config {
	return Config{
		Timeout: time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Timeout:     100 * time.Millisecond,
		},
	}.WithConsecutiveFailures(n)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", config.Timeout)
	}
	if config.CircuitBreakerConfig.ReadyToTrip == nil {
		t.Fatal("Expected ReadyToTrip function to be set")
	}
	if config.CircuitBreakerConfig.ReadyToTrip(Counts{ConsecutiveFailures: 4}) {
		t.Error("Should not trip with 4 failures")
	}
	if !config.CircuitBreakerConfig.ReadyToTrip(Counts{ConsecutiveFailures: 5}) {
		t.Error("Should trip with 5 failures")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_Modifiers(t *testing.T) {
	config := DefaultConfig()
	changed := config.WithTimeout(2 * time.Second).WithCircuitBreakerTimeout(20 * time.Second)

	if changed.Timeout != 2*time.Second || changed.CircuitBreakerConfig.Timeout != 20*time.Second {
		t.Errorf("Modifiers not applied: %+v", changed)
	}
	if config.Timeout != 5*time.Second {
		t.Errorf("Original config changed: got %v", config.Timeout)
	}
	if err := config.WithTimeout(-time.Second).Validate(); err == nil {
		t.Error("Expected negative timeout to be rejected")
	}
}

func TestNotifier_Success(t *testing.T) {
	inner := &countingNotifier{name: "email"}
	rn := NewNotifier(inner, DefaultConfig())

	if rn.Name() != "email" {
		t.Errorf("Expected name 'email', got '%s'", rn.Name())
	}
	if err := rn.Notify(context.Background(), notify.Event{Reference: "TXN-1"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("Expected 1 call, got %d", inner.calls)
	}
}

func TestNotifier_Timeout(t *testing.T) {
	inner := &countingNotifier{name: "slow", delay: 200 * time.Millisecond}
	rn := NewNotifier(inner, fastTrip(3).WithTimeout(20*time.Millisecond))

	err := rn.Notify(context.Background(), notify.Event{})
	if !IsTimeout(err) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestNotifier_CircuitBreaker(t *testing.T) {
	inner := &countingNotifier{name: "sms", err: errors.New("gateway down")}
	mc := memorycollector.NewMemoryCollector()
	rn := NewNotifierWithMetrics(inner, fastTrip(3), mc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := rn.Notify(ctx, notify.Event{})
		if err == nil {
			t.Errorf("Call %d should have failed", i)
		}
		if IsCircuitOpen(err) {
			t.Errorf("Circuit should not be open yet on call %d", i)
		}
	}

	if err := rn.Notify(ctx, notify.Event{}); !IsCircuitOpen(err) {
		t.Errorf("Expected circuit open error, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("Expected open circuit to skip the channel, got %d calls", inner.calls)
	}
	if rn.State() != metrics.CircuitOpen {
		t.Errorf("Expected open state, got %s", rn.State())
	}
	if mc.CircuitState("sms") != metrics.CircuitOpen {
		t.Errorf("Expected open state in metrics, got %s", mc.CircuitState("sms"))
	}

	time.Sleep(150 * time.Millisecond)
	inner.err = nil
	if err := rn.Notify(ctx, notify.Event{}); err != nil {
		t.Errorf("Expected half-open trial request to succeed, got %v", err)
	}
	if rn.State() != metrics.CircuitClosed {
		t.Errorf("Expected circuit to close after a successful trial request, got %s", rn.State())
	}
}

func TestNotifier_CallerCancellationDoesNotTrip(t *testing.T) {
	inner := &countingNotifier{name: "push", delay: time.Second}
	rn := NewNotifier(inner, fastTrip(2))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := rn.Notify(ctx, notify.Event{}); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	}

	if rn.State() != metrics.CircuitClosed {
		t.Errorf("Expected circuit to stay closed, got %s", rn.State())
	}
}

func TestNotifier_BehindDispatcher(t *testing.T) {
	inner := &countingNotifier{name: "email", err: errors.New("smtp down")}
	rn := NewNotifier(inner, fastTrip(2))

	d := notify.NewDispatcher(rn, notify.Config{QueueSize: 10, Workers: 1})
	for i := 0; i < 5; i++ {
		if err := d.Dispatch(context.Background(), notify.Event{}); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
	d.Close()

	if d.Stats().Failed != 5 {
		t.Errorf("Expected 5 failed deliveries, got %+v", d.Stats())
	}
	if got := atomic.LoadInt64(&inner.calls); got != 2 {
		t.Errorf("Expected breaker to stop calls after 2 failures, got %d", got)
	}
}
