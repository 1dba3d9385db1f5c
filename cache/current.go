// Package cache keeps the latest known price per provider in memory so
// the hot read path stays off the database between collection cycles.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mhaase/strompreis-go/types"
)

// Lookup loads the current price for a provider from the backing store.
type Lookup func(ctx context.Context, provider string, asOf time.Time) (types.PricePoint, error)

// Current is a read-through cache over per-provider current prices.
// Entries are valid until the cached interval ends or the provider's
// data is rewritten, whichever comes first.
type Current struct {
	mu      sync.RWMutex
	entries map[string]types.PricePoint
	lookup  Lookup
}

func NewCurrent(lookup Lookup) *Current {
	return &Current{entries: make(map[string]types.PricePoint), lookup: lookup}
}

// Get returns the price interval covering asOf for the provider,
// consulting the store on a miss. A hit requires the cached interval to
// still cover asOf.
func (c *Current) Get(ctx context.Context, provider string, asOf time.Time) (types.PricePoint, error) {
	c.mu.RLock()
	e, ok := c.entries[provider]
	c.mu.RUnlock()
	if ok && !asOf.Before(e.Start) && asOf.Before(e.End) {
		return e, nil
	}

	p, err := c.lookup(ctx, provider, asOf)
	if err != nil {
		return types.PricePoint{}, err
	}

	c.mu.Lock()
	c.entries[provider] = p
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached entry for a provider. Called after every
// successful ingestion so a rewritten interval is never served stale.
func (c *Current) Invalidate(provider string) {
	c.mu.Lock()
	delete(c.entries, provider)
	c.mu.Unlock()
}

func (c *Current) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]types.PricePoint)
	c.mu.Unlock()
}
