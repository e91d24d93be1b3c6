// Package guard fronts a store with a bloom filter of known account numbers
// and collapses concurrent lookups of the same number into one query.
//
// The filter only learns numbers created through the guard, so it must front
// a store that no other process writes to.
package guard

import (
	"context"
	"fmt"
	"sync"

	"approval-chain/pkg/account"
	"approval-chain/pkg/store"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/sync/singleflight"
)

// Store wraps a store.Store. Lookups by number that the filter rules out
// return store.ErrNotFound without touching the inner store.
type Store struct {
	store.Store

	filter *bloom.BloomFilter
	mu     sync.RWMutex
	sf     singleflight.Group

	expectedItems     uint
	falsePositiveRate float64

	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
	shared         uint64
}

// New wraps inner. When inner implements store.NumberLister the filter is
// filled with the existing account numbers.
func New(ctx context.Context, inner store.Store, expectedItems uint, falsePositiveRate float64) (*Store, error) {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	g := &Store{
		Store:             inner,
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}

	if lister, ok := inner.(store.NumberLister); ok {
		numbers, err := lister.ListAccountNumbers(ctx)
		if err != nil {
			return nil, fmt.Errorf("guard: warm filter: %w", err)
		}
		for _, n := range numbers {
			g.filter.AddString(n)
		}
	}
	return g, nil
}

// FindAccountByNumber implements store.AccountRepository.
func (g *Store) FindAccountByNumber(ctx context.Context, number string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.totalQueries++
	if !g.filter.TestString(number) {
		g.bloomRejected++
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, number)
	}
	g.mu.Unlock()

	v, err, shared := g.sf.Do(number, func() (interface{}, error) {
		return g.Store.FindAccountByNumber(ctx, number)
	})

	g.mu.Lock()
	if shared {
		g.shared++
	}
	if store.IsNotFound(err) {
		g.falsePositives++
	}
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	// Callers that shared one lookup each get their own copy.
	a := v.(*account.Account)
	if shared {
		return a.Clone(), nil
	}
	return a, nil
}

// CreateAccount implements store.AccountRepository and records the new number.
func (g *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if err := g.Store.CreateAccount(ctx, a); err != nil {
		return err
	}

	g.mu.Lock()
	g.filter.AddString(a.Number)
	g.mu.Unlock()
	return nil
}

// Reset clears the filter and the statistics.
func (g *Store) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.filter = bloom.NewWithEstimates(g.expectedItems, g.falsePositiveRate)
	g.totalQueries = 0
	g.bloomRejected = 0
	g.falsePositives = 0
	g.shared = 0
}

// Stats returns statistics about the filter.
func (g *Store) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rejectionRate := 0.0
	falsePositiveRate := 0.0

	if g.totalQueries > 0 {
		rejectionRate = float64(g.bloomRejected) / float64(g.totalQueries)
		queried := g.totalQueries - g.bloomRejected
		if queried > 0 {
			falsePositiveRate = float64(g.falsePositives) / float64(queried)
		}
	}

	return Stats{
		TotalQueries:      g.totalQueries,
		BloomRejected:     g.bloomRejected,
		FalsePositives:    g.falsePositives,
		SharedLookups:     g.shared,
		RejectionRate:     rejectionRate,
		FalsePositiveRate: falsePositiveRate,
		FilterCapacity:    g.filter.Cap(),
	}
}

// Stats holds statistics about filter performance.
type Stats struct {
	TotalQueries      uint64
	BloomRejected     uint64
	FalsePositives    uint64
	SharedLookups     uint64
	RejectionRate     float64
	FalsePositiveRate float64
	FilterCapacity    uint
}
