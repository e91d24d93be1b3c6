package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"approval-chain/pkg/metrics"
)

// KeyedMutex is an in-process Locker. Each key is a one-slot channel so that
// waiting can be abandoned when the context ends.
type KeyedMutex struct {
	mu      sync.Mutex
	slots   map[string]*slot
	metrics metrics.MetricsCollector
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an in-process locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		slots:   make(map[string]*slot),
		metrics: metrics.NoOpCollector{},
	}
}

// WithMetrics sets the metrics collector.
func (km *KeyedMutex) WithMetrics(m metrics.MetricsCollector) *KeyedMutex {
	if m != nil {
		km.metrics = m
	}
	return km
}

// Name implements Locker.
func (km *KeyedMutex) Name() string { return "local" }

func (km *KeyedMutex) ref(key string) *slot {
	km.mu.Lock()
	defer km.mu.Unlock()

	s, ok := km.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		km.slots[key] = s
	}
	s.refs++
	return s
}

func (km *KeyedMutex) unref(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	s := km.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(km.slots, key)
	}
}

// Lock implements Locker.
func (km *KeyedMutex) Lock(ctx context.Context, keys ...string) (Release, error) {
	keys, err := normalize(keys)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	held := make([]string, 0, len(keys))

	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k := held[i]
			km.mu.Lock()
			s := km.slots[k]
			km.mu.Unlock()
			<-s.ch
			km.unref(k)
		}
	}

	for _, k := range keys {
		s := km.ref(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			km.unref(k)
			releaseHeld()
			km.metrics.RecordLockWait(km.Name(), false, time.Since(start))
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, k, ctx.Err())
		}
	}
	km.metrics.RecordLockWait(km.Name(), true, time.Since(start))

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

// Held returns the number of keys currently locked or waited on.
func (km *KeyedMutex) Held() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.slots)
}

// Close implements Locker.
func (km *KeyedMutex) Close() error {
	return nil
}
